// Package gateway models the payment provider's charge capability.
package gateway

import (
	"context"
	"fmt"

	"github.com/wpshiftstudio/payin3/internal/models"
)

// Status is the top-level result of a charge attempt
type Status string

const (
	StatusAccepted Status = "accepted"
	StatusDeclined Status = "declined"
	StatusError    Status = "error"
)

// ErrorKind classifies transport and provider failures
type ErrorKind string

const (
	ErrorKindTimeout         ErrorKind = "timeout"
	ErrorKindNetwork         ErrorKind = "network"
	ErrorKindUpstream        ErrorKind = "upstream"
	ErrorKindInvalidResponse ErrorKind = "invalid_response"
)

// Outcome is Accepted(reference), Declined(reason) or Error(kind)
type Outcome struct {
	Status    Status    `json:"status"`
	Reference string    `json:"reference,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Kind      ErrorKind `json:"kind,omitempty"`
}

func Accepted(reference string) Outcome {
	return Outcome{Status: StatusAccepted, Reference: reference}
}

func Declined(reason string) Outcome {
	return Outcome{Status: StatusDeclined, Reason: reason}
}

func Failed(kind ErrorKind, reason string) Outcome {
	return Outcome{Status: StatusError, Kind: kind, Reason: reason}
}

func (o Outcome) IsAccepted() bool {
	return o.Status == StatusAccepted
}

// Label is a low-cardinality name for metrics and logs
func (o Outcome) Label() string {
	if o.Status == StatusError {
		return string(o.Status) + "_" + string(o.Kind)
	}
	return string(o.Status)
}

// FailureReason renders a human-readable reason for order notes
func (o Outcome) FailureReason() string {
	switch o.Status {
	case StatusDeclined:
		if o.Reason != "" {
			return o.Reason
		}
		return "Payment provider declined the charge."
	case StatusError:
		return fmt.Sprintf("API Exception: %s (%s)", o.Reason, o.Kind)
	default:
		return ""
	}
}

// ChargeRequest describes a single charge against the customer's stored method
type ChargeRequest struct {
	Amount     models.Money `json:"amount"`
	OrderID    string       `json:"order_id"`
	CustomerID string       `json:"customer_id,omitempty"`
	// Reference identifies what is being paid, usually the installment id
	Reference string `json:"reference"`
	// IdempotencyKey lets the provider collapse retried deliveries of one attempt
	IdempotencyKey string `json:"idempotency_key"`
}

// Gateway charges an amount and reports an explicit outcome. Implementations
// never return transport failures as Go errors; they become Error outcomes.
type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) Outcome
}

// IdempotencyKey derives a per-attempt provider key for an installment
func IdempotencyKey(installmentID string, attempt int) string {
	return fmt.Sprintf("payin3_%s_%d", installmentID, attempt)
}
