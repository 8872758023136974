// Package checkout takes the first installment when a customer picks Pay in 3
// and creates the plan for the remaining two.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wpshiftstudio/payin3/internal/events"
	"github.com/wpshiftstudio/payin3/internal/gateway"
	"github.com/wpshiftstudio/payin3/internal/ledger"
	"github.com/wpshiftstudio/payin3/internal/logger"
	"github.com/wpshiftstudio/payin3/internal/metrics"
	"github.com/wpshiftstudio/payin3/internal/models"
	"github.com/wpshiftstudio/payin3/internal/orders"
	"github.com/wpshiftstudio/payin3/internal/planner"
)

const (
	ResultSuccess = "success"
	ResultFail    = "fail"
)

// Customer-facing messages. Provider details never reach the shopper.
const (
	msgUnavailable = "Pay in 3 is not available for this order."
	msgRetry       = "Payment could not be completed. Please try again or contact support."
	msgSupport     = "Payment could not be completed and this order can no longer be paid with Pay in 3. Please contact support."
)

// Result is what the storefront receives from ProcessPayment
type Result struct {
	Result   string `json:"result"`
	Redirect string `json:"redirect,omitempty"`
	Message  string `json:"message,omitempty"`
}

// Settings are the gateway options that gate checkout
type Settings struct {
	Enabled   bool
	MinOrder  models.Money
	MaxOrder  models.Money
	ReturnURL string
}

// Service runs checkout against the ledger, the order book and the gateway
type Service struct {
	settings Settings
	store    ledger.Store
	orders   orders.Book
	gateway  gateway.Gateway
	planner  *planner.Planner
	events   events.Publisher
	metrics  *metrics.Collector
	logger   *logger.Logger
	now      func() time.Time
}

// Options carries the optional collaborators
type Options struct {
	Events  events.Publisher
	Metrics *metrics.Collector
	Logger  *logger.Logger
	Now     func() time.Time
}

func NewService(settings Settings, store ledger.Store, book orders.Book, gw gateway.Gateway, p *planner.Planner, opts Options) *Service {
	s := &Service{
		settings: settings,
		store:    store,
		orders:   book,
		gateway:  gw,
		planner:  p,
		events:   opts.Events,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		now:      opts.Now,
	}
	if s.events == nil {
		s.events = events.Nop{}
	}
	if s.logger == nil {
		s.logger = logger.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// IsAvailable reports whether Pay in 3 may be offered for total
func (s *Service) IsAvailable(total models.Money) bool {
	if !s.settings.Enabled {
		return false
	}
	if total.LessThan(s.settings.MinOrder) {
		return false
	}
	if s.settings.MaxOrder.IsPositive() && total.GreaterThan(s.settings.MaxOrder) {
		return false
	}
	return true
}

// ProcessPayment plans the order, charges the first installment and reports
// the outcome. The plan is persisted with its first installment already
// claimed before any money moves.
func (s *Service) ProcessPayment(ctx context.Context, orderID string) *Result {
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		s.logger.Error("checkout could not load order", "order_id", orderID, "error", err)
		return s.failed(msgRetry)
	}

	if existing, err := s.store.GetSubscriptionByOrderID(ctx, orderID); err == nil {
		return s.resume(ctx, order, existing)
	} else if !errors.Is(err, ledger.ErrSubscriptionNotFound) {
		s.logger.Error("checkout could not look up existing plan", "order_id", orderID, "error", err)
		return s.failed(msgRetry)
	}

	if !s.IsAvailable(order.Total) {
		s.logger.Info("Pay in 3 unavailable for order", "order_id", orderID, "total", order.Total.StringFixed(models.MinorUnits))
		return s.failed(msgUnavailable)
	}

	plan, err := s.planner.Plan(order.ID, order.CustomerID, order.Total, s.now())
	if err != nil {
		s.logger.Error("checkout could not build plan", "order_id", orderID, "error", err)
		return s.failed(msgRetry)
	}
	first := &plan.Installments[0]
	first.Status = models.InstallmentStatusProcessing

	if err := s.store.CreatePlan(ctx, plan); err != nil {
		s.logger.Error("checkout could not persist plan", "order_id", orderID, "error", err)
		return s.failed(msgRetry)
	}
	s.trail(ctx, plan.Subscription, models.LogLevelInfo,
		fmt.Sprintf("Plan created for order %s: %s", orderID, describeAmounts(plan.Installments)))

	out := s.gateway.Charge(ctx, gateway.ChargeRequest{
		Amount:         first.Amount,
		OrderID:        order.ID,
		CustomerID:     order.CustomerID,
		Reference:      first.ID,
		IdempotencyKey: gateway.IdempotencyKey(first.ID, 0),
	})
	s.metrics.RecordCharge(models.LogContextCheckout, out.Label())

	if !out.IsAccepted() {
		return s.declined(ctx, plan, out)
	}
	return s.charged(ctx, plan, out.Reference)
}

// resume answers a repeated checkout for an order that already has a plan
func (s *Service) resume(ctx context.Context, order *orders.Order, sub *models.Subscription) *Result {
	insts, err := s.store.ListInstallments(ctx, sub.ID)
	if err != nil || len(insts) == 0 {
		s.logger.Error("checkout could not load existing plan", "subscription_id", sub.ID, "error", err)
		return s.failed(msgRetry)
	}
	if insts[0].Status == models.InstallmentStatusPaid && sub.Status != models.SubscriptionStatusFailed {
		s.logger.Info("checkout repeated for a paid order", "order_id", order.ID, "subscription_id", sub.ID)
		s.metrics.RecordCheckout(ResultSuccess)
		return &Result{Result: ResultSuccess, Redirect: s.returnURL(order.ID)}
	}
	s.logger.Warn("checkout repeated for an order with an unpaid plan", "order_id", order.ID,
		"subscription_id", sub.ID, "status", string(sub.Status))
	return s.failed(msgSupport)
}

func (s *Service) charged(ctx context.Context, plan *models.Plan, txnID string) *Result {
	sub := plan.Subscription
	first := plan.Installments[0]

	if err := s.store.MarkInstallmentPaid(ctx, first.ID, txnID); err != nil {
		msg := fmt.Sprintf("Checkout: installment %s was charged (Txn ID: %s) but could not be marked paid; needs reconciliation: %v",
			first.ID, txnID, err)
		s.logger.Error(msg, "order_id", sub.OrderID, "installment_id", first.ID)
		s.trail(ctx, sub, models.LogLevelError, msg)
	}

	note := fmt.Sprintf("Pay in 3: First installment of %s paid at checkout. Txn ID: %s. Remaining installments: %s.",
		first.Amount.StringFixed(models.MinorUnits), txnID, describeAmounts(plan.Installments[1:]))
	if err := s.orders.SetStatus(ctx, sub.OrderID, orders.StatusProcessing, note); err != nil {
		s.logger.Warn("failed to update order after checkout", "order_id", sub.OrderID, "error", err)
	}
	s.trail(ctx, sub, models.LogLevelInfo, fmt.Sprintf("Installment %s charged at checkout. Txn ID: %s", first.ID, txnID))
	s.logger.Info("checkout completed", "order_id", sub.OrderID, "subscription_id", sub.ID, "transaction_id", txnID)

	s.publish(ctx, events.TypeSubscription, events.SubscriptionCreated, events.SubscriptionEventData{
		SubscriptionID: sub.ID,
		OrderID:        sub.OrderID,
		Status:         string(models.SubscriptionStatusActive),
	})
	s.publish(ctx, events.TypeInstallment, events.InstallmentCharged, events.InstallmentEventData{
		InstallmentID:  first.ID,
		SubscriptionID: sub.ID,
		OrderID:        sub.OrderID,
		Amount:         first.Amount.StringFixed(models.MinorUnits),
		Status:         string(models.InstallmentStatusPaid),
		TransactionID:  txnID,
	})
	s.metrics.RecordCheckout(ResultSuccess)
	return &Result{Result: ResultSuccess, Redirect: s.returnURL(sub.OrderID)}
}

func (s *Service) declined(ctx context.Context, plan *models.Plan, out gateway.Outcome) *Result {
	sub := plan.Subscription
	reason := out.FailureReason()

	if err := s.store.CancelPlan(ctx, sub.ID); err != nil {
		s.logger.Error("failed to cancel plan after declined checkout", "subscription_id", sub.ID, "error", err)
	}

	note := fmt.Sprintf("Pay in 3: First installment of %s failed at checkout. Reason: %s",
		plan.Installments[0].Amount.StringFixed(models.MinorUnits), reason)
	if err := s.orders.AddNote(ctx, sub.OrderID, note); err != nil {
		s.logger.Warn("failed to add note after declined checkout", "order_id", sub.OrderID, "error", err)
	}
	s.trail(ctx, sub, models.LogLevelWarning, note)
	s.logger.Warn("checkout charge failed", "order_id", sub.OrderID, "outcome", out.Label(), "reason", reason)

	s.publish(ctx, events.TypeSubscription, events.SubscriptionCancelled, events.SubscriptionEventData{
		SubscriptionID: sub.ID,
		OrderID:        sub.OrderID,
		Status:         string(models.SubscriptionStatusFailed),
		Reason:         reason,
	})
	// The order keeps its plan, so a retry would land in resume.
	return s.failed(msgSupport)
}

func (s *Service) failed(message string) *Result {
	s.metrics.RecordCheckout(ResultFail)
	return &Result{Result: ResultFail, Message: message}
}

func (s *Service) returnURL(orderID string) string {
	base := s.settings.ReturnURL
	if strings.Contains(base, "{order_id}") {
		return strings.ReplaceAll(base, "{order_id}", url.PathEscape(orderID))
	}
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	q.Set("order_id", orderID)
	u.RawQuery = q.Encode()
	return u.String()
}

func (s *Service) trail(ctx context.Context, sub models.Subscription, level, message string) {
	if err := s.store.AppendLog(ctx, models.LogEntry{
		SubscriptionID: sub.ID,
		OrderID:        sub.OrderID,
		Context:        models.LogContextCheckout,
		Level:          level,
		Message:        message,
	}); err != nil {
		s.logger.Warn("failed to persist checkout log", "subscription_id", sub.ID, "error", err)
	}
}

func (s *Service) publish(ctx context.Context, eventType, eventName string, data interface{}) {
	if err := s.events.Publish(ctx, eventType, eventName, data); err != nil {
		s.logger.Warn("failed to publish event", "type", eventType, "event", eventName, "error", err)
	}
}

func describeAmounts(insts []models.Installment) string {
	parts := make([]string, len(insts))
	for i, inst := range insts {
		parts[i] = fmt.Sprintf("%s due %s", inst.Amount.StringFixed(models.MinorUnits), inst.DueDate.Format("2006-01-02"))
	}
	return strings.Join(parts, ", ")
}

// MoneyFromFloat converts a configured limit to Money
func MoneyFromFloat(v float64) models.Money {
	return decimal.NewFromFloat(v).Round(models.MinorUnits)
}
