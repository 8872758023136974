package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/wpshiftstudio/payin3/internal/models"
)

// MemoryStore is an in-process Store used when no database is configured and in tests
type MemoryStore struct {
	mu            sync.Mutex
	subscriptions map[string]*models.Subscription
	installments  map[string]*memInstallment
	logs          []models.LogEntry
	nextLogID     int64
	now           func() time.Time
}

type memInstallment struct {
	models.Installment
	updatedAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		subscriptions: make(map[string]*models.Subscription),
		installments:  make(map[string]*memInstallment),
		now:           time.Now,
	}
}

// SetClock overrides the clock used for updated_at bookkeeping
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *MemoryStore) CreatePlan(_ context.Context, plan *models.Plan) error {
	if err := validatePlan(plan); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.subscriptions[plan.Subscription.ID]; ok {
		return fmt.Errorf("%w: duplicate subscription %s", ErrInvalidPlan, plan.Subscription.ID)
	}
	for _, s := range m.subscriptions {
		if s.OrderID == plan.Subscription.OrderID {
			return fmt.Errorf("%w: order %s already has a plan", ErrInvalidPlan, s.OrderID)
		}
	}

	sub := plan.Subscription
	m.subscriptions[sub.ID] = &sub
	now := m.now()
	for _, inst := range plan.Installments {
		m.installments[inst.ID] = &memInstallment{Installment: inst, updatedAt: now}
	}
	return nil
}

func (m *MemoryStore) GetSubscription(_ context.Context, id string) (*models.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.subscriptions[id]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	out := *s
	return &out, nil
}

func (m *MemoryStore) GetSubscriptionByOrderID(_ context.Context, orderID string) (*models.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.subscriptions {
		if s.OrderID == orderID {
			out := *s
			return &out, nil
		}
	}
	return nil, ErrSubscriptionNotFound
}

func (m *MemoryStore) ListInstallments(_ context.Context, subscriptionID string) ([]models.Installment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.collect(func(i *memInstallment) bool { return i.SubscriptionID == subscriptionID }), nil
}

func (m *MemoryStore) DueInstallments(_ context.Context, now time.Time, limit int) ([]models.Installment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	due := m.collect(func(i *memInstallment) bool {
		return !i.DueDate.After(now) && !excluded(i.Status)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (m *MemoryStore) ClaimInstallment(_ context.Context, id string, from models.InstallmentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	inst, ok := m.installments[id]
	if !ok {
		return ErrInstallmentNotFound
	}
	if inst.Status != from {
		return ErrClaimConflict
	}
	if sub, ok := m.subscriptions[inst.SubscriptionID]; !ok || sub.Status != models.SubscriptionStatusActive {
		return ErrSubscriptionClosed
	}
	inst.Status = models.InstallmentStatusProcessing
	inst.updatedAt = m.now()
	return nil
}

func (m *MemoryStore) MarkInstallmentPaid(_ context.Context, id, transactionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	inst, ok := m.installments[id]
	if !ok {
		return ErrInstallmentNotFound
	}
	inst.Status = models.InstallmentStatusPaid
	inst.TransactionID = transactionID
	inst.updatedAt = m.now()
	return nil
}

func (m *MemoryStore) MarkInstallmentFailed(_ context.Context, id string, retries int, failedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	inst, ok := m.installments[id]
	if !ok {
		return ErrInstallmentNotFound
	}
	t := failedAt
	inst.Status = models.InstallmentStatusFailed
	inst.Retries = retries
	inst.FailedAt = &t
	inst.updatedAt = m.now()
	return nil
}

func (m *MemoryStore) CountUnpaid(_ context.Context, subscriptionID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, inst := range m.installments {
		if inst.SubscriptionID == subscriptionID && inst.Status != models.InstallmentStatusPaid {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) TransitionSubscription(_ context.Context, id string, from, to models.SubscriptionStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.subscriptions[id]
	if !ok {
		return false, ErrSubscriptionNotFound
	}
	if s.Status != from {
		return false, nil
	}
	s.Status = to
	s.UpdatedAt = m.now()
	return true, nil
}

func (m *MemoryStore) CancelPlan(_ context.Context, subscriptionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.subscriptions[subscriptionID]
	if !ok {
		return ErrSubscriptionNotFound
	}
	now := m.now()
	s.Status = models.SubscriptionStatusFailed
	s.UpdatedAt = now
	for _, inst := range m.installments {
		if inst.SubscriptionID == subscriptionID && inst.Status != models.InstallmentStatusPaid {
			inst.Status = models.InstallmentStatusCancelled
			inst.updatedAt = now
		}
	}
	return nil
}

func (m *MemoryStore) ListProcessing(_ context.Context, before time.Time) ([]models.Installment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.collect(func(i *memInstallment) bool {
		return i.Status == models.InstallmentStatusProcessing && i.updatedAt.Before(before)
	}), nil
}

func (m *MemoryStore) AppendLog(_ context.Context, entry models.LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextLogID++
	entry.ID = m.nextLogID
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = m.now()
	}
	m.logs = append(m.logs, entry)
	return nil
}

func (m *MemoryStore) ListLogs(_ context.Context, subscriptionID string, limit int) ([]models.LogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if limit <= 0 {
		limit = 100
	}
	var out []models.LogEntry
	for i := len(m.logs) - 1; i >= 0 && len(out) < limit; i-- {
		if m.logs[i].SubscriptionID == subscriptionID {
			out = append(out, m.logs[i])
		}
	}
	return out, nil
}

// collect returns copies of matching installments ordered by due date. Caller holds mu.
func (m *MemoryStore) collect(match func(*memInstallment) bool) []models.Installment {
	var out []models.Installment
	for _, inst := range m.installments {
		if match(inst) {
			cp := inst.Installment
			if inst.FailedAt != nil {
				t := *inst.FailedAt
				cp.FailedAt = &t
			}
			out = append(out, cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DueDate.Equal(out[j].DueDate) {
			return out[i].DueDate.Before(out[j].DueDate)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

var _ Store = (*MemoryStore)(nil)
var _ Store = (*PostgresStore)(nil)
