// Package orders is the boundary to the storefront's order records.
package orders

import (
	"context"
	"errors"

	"github.com/wpshiftstudio/payin3/internal/models"
)

var ErrOrderNotFound = errors.New("order not found")

// Order statuses understood by the storefront
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusOnHold     = "on-hold"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

// Order is the subset of a storefront order the installment flows need
type Order struct {
	ID         string       `json:"id"`
	CustomerID string       `json:"customer_id"`
	Total      models.Money `json:"total"`
	Status     string       `json:"status"`
	Notes      []string     `json:"notes,omitempty"`
}

// Book reads orders and records status changes and notes on them
type Book interface {
	Get(ctx context.Context, id string) (*Order, error)
	// SetStatus changes the status and attaches note when it is not empty.
	SetStatus(ctx context.Context, id, status, note string) error
	AddNote(ctx context.Context, id, note string) error
}
