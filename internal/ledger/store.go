// Package ledger persists installment plans, their installments and the
// operator log trail.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wpshiftstudio/payin3/internal/models"
)

var (
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrInstallmentNotFound  = errors.New("installment not found")
	// ErrClaimConflict means the row was no longer in the status the caller observed.
	ErrClaimConflict = errors.New("installment claim conflict")
	// ErrSubscriptionClosed means the installment's subscription is no longer active.
	ErrSubscriptionClosed = errors.New("subscription is not active")
	ErrInvalidPlan   = errors.New("invalid plan")
)

// Store is pure data access for subscriptions, installments and logs.
// Implementations must make ClaimInstallment and TransitionSubscription
// atomic compare-and-set operations.
type Store interface {
	// CreatePlan writes the subscription and all of its installments atomically.
	CreatePlan(ctx context.Context, plan *models.Plan) error
	GetSubscription(ctx context.Context, id string) (*models.Subscription, error)
	GetSubscriptionByOrderID(ctx context.Context, orderID string) (*models.Subscription, error)
	ListInstallments(ctx context.Context, subscriptionID string) ([]models.Installment, error)

	// DueInstallments returns rows with due_date <= now whose status is not
	// excluded from charging, oldest due date first. limit <= 0 means no limit.
	DueInstallments(ctx context.Context, now time.Time, limit int) ([]models.Installment, error)

	// ClaimInstallment moves an installment from the observed status to processing.
	// The claim only succeeds while the owning subscription is active.
	ClaimInstallment(ctx context.Context, id string, from models.InstallmentStatus) error
	MarkInstallmentPaid(ctx context.Context, id, transactionID string) error
	MarkInstallmentFailed(ctx context.Context, id string, retries int, failedAt time.Time) error

	// CountUnpaid counts installments of a subscription whose status is not paid.
	CountUnpaid(ctx context.Context, subscriptionID string) (int, error)

	// TransitionSubscription sets status to `to` only if it currently equals `from`.
	// It reports whether this call performed the change.
	TransitionSubscription(ctx context.Context, id string, from, to models.SubscriptionStatus) (bool, error)

	// CancelPlan cancels every unpaid installment and fails the subscription.
	CancelPlan(ctx context.Context, subscriptionID string) error

	// ListProcessing returns installments stuck in processing since before the cutoff.
	ListProcessing(ctx context.Context, before time.Time) ([]models.Installment, error)

	AppendLog(ctx context.Context, entry models.LogEntry) error
	ListLogs(ctx context.Context, subscriptionID string, limit int) ([]models.LogEntry, error)
}

func validatePlan(plan *models.Plan) error {
	if plan == nil {
		return fmt.Errorf("%w: nil plan", ErrInvalidPlan)
	}
	if plan.Subscription.ID == "" || plan.Subscription.OrderID == "" {
		return fmt.Errorf("%w: subscription id and order id are required", ErrInvalidPlan)
	}
	if len(plan.Installments) != models.InstallmentCount {
		return fmt.Errorf("%w: expected %d installments, got %d", ErrInvalidPlan, models.InstallmentCount, len(plan.Installments))
	}
	for _, inst := range plan.Installments {
		if inst.Amount.IsNegative() {
			return fmt.Errorf("%w: negative amount on installment %s", ErrInvalidPlan, inst.ID)
		}
		if inst.SubscriptionID != plan.Subscription.ID {
			return fmt.Errorf("%w: installment %s belongs to another subscription", ErrInvalidPlan, inst.ID)
		}
	}
	return nil
}

func excluded(status models.InstallmentStatus) bool {
	for _, s := range models.ExcludedFromDue {
		if s == status {
			return true
		}
	}
	return false
}
