// internal/models/models.go
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Money is a fixed-point currency amount rounded to minor units (cents).
type Money = decimal.Decimal

// MinorUnits is the number of decimal places kept for every amount.
const MinorUnits int32 = 2

// InstallmentCount is fixed: one immediate charge plus two scheduled ones.
const InstallmentCount = 3

// SubscriptionStatus is the rollup status of an installment plan
type SubscriptionStatus string

const (
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusComplete SubscriptionStatus = "complete"
	SubscriptionStatusFailed   SubscriptionStatus = "failed"
)

// Terminal reports whether no further automated transition may happen.
func (s SubscriptionStatus) Terminal() bool {
	return s == SubscriptionStatusComplete || s == SubscriptionStatusFailed
}

// InstallmentStatus is the state of a single scheduled charge
type InstallmentStatus string

const (
	InstallmentStatusPending    InstallmentStatus = "pending"
	InstallmentStatusPaid       InstallmentStatus = "paid"
	InstallmentStatusProcessing InstallmentStatus = "processing"
	InstallmentStatusFailed     InstallmentStatus = "failed"
	InstallmentStatusCancelled  InstallmentStatus = "cancelled"
	InstallmentStatusExpired    InstallmentStatus = "expired"
)

// ExcludedFromDue lists the statuses the due query never returns.
var ExcludedFromDue = []InstallmentStatus{
	InstallmentStatusPaid,
	InstallmentStatusProcessing,
	InstallmentStatusCancelled,
	InstallmentStatusExpired,
}

// Chargeable reports whether the scheduler may claim an installment in this status.
func (s InstallmentStatus) Chargeable() bool {
	return s == InstallmentStatusPending || s == InstallmentStatusFailed
}

// Subscription is the aggregate record for one order's installment plan
type Subscription struct {
	ID               string             `json:"id"`
	OrderID          string             `json:"order_id"`
	CustomerID       string             `json:"customer_id"`
	Status           SubscriptionStatus `json:"status"`
	PaymentGatewayID string             `json:"payment_gateway_id"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

// Installment is one partial payment within a plan
type Installment struct {
	ID             string            `json:"id"`
	SubscriptionID string            `json:"subscription_id"`
	OrderID        string            `json:"order_id"`
	Amount         Money             `json:"amount"`
	DueDate        time.Time         `json:"due_date"`
	Status         InstallmentStatus `json:"status"`
	TransactionID  string            `json:"transaction_id,omitempty"`
	FailedAt       *time.Time        `json:"failed_at,omitempty"`
	Retries        int               `json:"retries"`
}

// Log levels for the persisted log trail
const (
	LogLevelInfo    = "info"
	LogLevelWarning = "warning"
	LogLevelError   = "error"
)

// Log contexts, matching the service's log sources
const (
	LogContextCron     = "cron"
	LogContextWebhook  = "webhook"
	LogContextCheckout = "checkout"
)

// LogEntry is a persisted, operator-visible record tied to a plan
type LogEntry struct {
	ID             int64     `json:"id"`
	SubscriptionID string    `json:"subscription_id,omitempty"`
	OrderID        string    `json:"order_id,omitempty"`
	Context        string    `json:"context"`
	Level          string    `json:"level"`
	Message        string    `json:"message"`
	CreatedAt      time.Time `json:"created_at"`
}

// Plan bundles a subscription with its installments
type Plan struct {
	Subscription Subscription  `json:"subscription"`
	Installments []Installment `json:"installments"`
}

// ErrorResponse represents an API error
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}
