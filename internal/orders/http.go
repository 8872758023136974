package orders

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/wpshiftstudio/payin3/internal/httpclient"
)

// HTTPBook talks to the storefront's order API
type HTTPBook struct {
	client *httpclient.Client
}

func NewHTTPBook(baseURL, apiKey string, timeout time.Duration) *HTTPBook {
	c := httpclient.NewClient(baseURL, timeout)
	if apiKey != "" {
		c.WithHeader("Authorization", "Bearer "+apiKey)
	}
	return &HTTPBook{client: c}
}

type statusUpdate struct {
	Status string `json:"status"`
	Note   string `json:"note,omitempty"`
}

type noteRequest struct {
	Note string `json:"note"`
}

func (b *HTTPBook) Get(ctx context.Context, id string) (*Order, error) {
	var o Order
	if err := b.client.Get(ctx, "/orders/"+url.PathEscape(id), &o); err != nil {
		if httpclient.IsNotFound(err) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to get order %s: %w", id, err)
	}
	return &o, nil
}

func (b *HTTPBook) SetStatus(ctx context.Context, id, status, note string) error {
	err := b.client.Put(ctx, "/orders/"+url.PathEscape(id)+"/status", statusUpdate{Status: status, Note: note}, nil)
	if httpclient.IsNotFound(err) {
		return ErrOrderNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to set order %s status: %w", id, err)
	}
	return nil
}

func (b *HTTPBook) AddNote(ctx context.Context, id, note string) error {
	err := b.client.Post(ctx, "/orders/"+url.PathEscape(id)+"/notes", noteRequest{Note: note}, nil)
	if httpclient.IsNotFound(err) {
		return ErrOrderNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to add note to order %s: %w", id, err)
	}
	return nil
}

var _ Book = (*HTTPBook)(nil)
var _ Book = (*MemoryBook)(nil)
