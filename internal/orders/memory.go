package orders

import (
	"context"
	"sync"
)

// MemoryBook keeps orders in process
type MemoryBook struct {
	mu     sync.RWMutex
	orders map[string]*Order
}

func NewMemoryBook() *MemoryBook {
	return &MemoryBook{orders: make(map[string]*Order)}
}

// Put inserts or replaces an order
func (b *MemoryBook) Put(o Order) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o.Notes = append([]string(nil), o.Notes...)
	b.orders[o.ID] = &o
}

// Delete removes an order, simulating a storefront-side deletion
func (b *MemoryBook) Delete(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.orders, id)
}

func (b *MemoryBook) Get(_ context.Context, id string) (*Order, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	o, ok := b.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	out := *o
	out.Notes = append([]string(nil), o.Notes...)
	return &out, nil
}

func (b *MemoryBook) SetStatus(_ context.Context, id, status, note string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.orders[id]
	if !ok {
		return ErrOrderNotFound
	}
	o.Status = status
	if note != "" {
		o.Notes = append(o.Notes, note)
	}
	return nil
}

func (b *MemoryBook) AddNote(_ context.Context, id, note string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.orders[id]
	if !ok {
		return ErrOrderNotFound
	}
	o.Notes = append(o.Notes, note)
	return nil
}
