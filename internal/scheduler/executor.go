package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/wpshiftstudio/payin3/internal/aggregator"
	"github.com/wpshiftstudio/payin3/internal/events"
	"github.com/wpshiftstudio/payin3/internal/gateway"
	"github.com/wpshiftstudio/payin3/internal/ledger"
	"github.com/wpshiftstudio/payin3/internal/logger"
	"github.com/wpshiftstudio/payin3/internal/metrics"
	"github.com/wpshiftstudio/payin3/internal/models"
	"github.com/wpshiftstudio/payin3/internal/orders"
)

// Action is what the executor did with one due installment
type Action string

const (
	ActionCharged   Action = "charged"
	ActionFailed    Action = "failed"
	ActionEscalated Action = "escalated"
	ActionSkipped   Action = "skipped"
	ActionError     Action = "error"
)

// InstallmentResult records the handling of one installment
type InstallmentResult struct {
	InstallmentID  string `json:"installment_id"`
	SubscriptionID string `json:"subscription_id"`
	OrderID        string `json:"order_id"`
	Action         Action `json:"action"`
	Retries        int    `json:"retries"`
	TransactionID  string `json:"transaction_id,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

// BatchResult summarises a tick
type BatchResult struct {
	Processed  int                  `json:"processed"`
	Successful int                  `json:"successful"`
	Failed     int                  `json:"failed"`
	Escalated  int                  `json:"escalated"`
	Skipped    int                  `json:"skipped"`
	Results    []*InstallmentResult `json:"results"`
	Duration   time.Duration        `json:"duration"`
}

// Deps are the collaborators an Executor drives
type Deps struct {
	Store      ledger.Store
	Orders     orders.Book
	Gateway    gateway.Gateway
	Aggregator *aggregator.Aggregator
	Events     events.Publisher
	Metrics    *metrics.Collector
	Logger     *logger.Logger
	Policy     RetryPolicy
	Workers    int
	Now        func() time.Time
}

// Executor applies the installment state machine to a due set
type Executor struct {
	store   ledger.Store
	orders  orders.Book
	gateway gateway.Gateway
	agg     *aggregator.Aggregator
	events  events.Publisher
	metrics *metrics.Collector
	logger  *logger.Logger
	policy  RetryPolicy
	workers int
	now     func() time.Time
}

func NewExecutor(d Deps) *Executor {
	e := &Executor{
		store:   d.Store,
		orders:  d.Orders,
		gateway: d.Gateway,
		agg:     d.Aggregator,
		events:  d.Events,
		metrics: d.Metrics,
		logger:  d.Logger,
		policy:  d.Policy,
		workers: d.Workers,
		now:     d.Now,
	}
	if e.agg == nil {
		e.agg = aggregator.New(d.Store)
	}
	if e.events == nil {
		e.events = events.Nop{}
	}
	if e.logger == nil {
		e.logger = logger.NewNop()
	}
	if e.policy.MaxRetries <= 0 {
		e.policy = DefaultRetryPolicy()
	}
	if e.workers < 1 {
		e.workers = 1
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// ExecuteBatch processes every installment. One installment's failure never
// stops the others.
func (e *Executor) ExecuteBatch(ctx context.Context, due []models.Installment) *BatchResult {
	start := time.Now()
	results := make([]*InstallmentResult, len(due))

	if e.workers == 1 || len(due) < 2 {
		for i := range due {
			results[i] = e.ProcessInstallment(ctx, due[i])
		}
	} else {
		jobs := make(chan int)
		var wg sync.WaitGroup
		for w := 0; w < e.workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := range jobs {
					results[i] = e.ProcessInstallment(ctx, due[i])
				}
			}()
		}
		for i := range due {
			jobs <- i
		}
		close(jobs)
		wg.Wait()
	}

	batch := &BatchResult{Results: results, Processed: len(results)}
	for _, r := range results {
		switch r.Action {
		case ActionCharged:
			batch.Successful++
		case ActionFailed, ActionError:
			batch.Failed++
		case ActionEscalated:
			batch.Escalated++
		case ActionSkipped:
			batch.Skipped++
		}
	}
	batch.Duration = time.Since(start)
	return batch
}

// ProcessInstallment runs one due installment through the state machine
func (e *Executor) ProcessInstallment(ctx context.Context, inst models.Installment) *InstallmentResult {
	res := &InstallmentResult{
		InstallmentID:  inst.ID,
		SubscriptionID: inst.SubscriptionID,
		OrderID:        inst.OrderID,
		Retries:        inst.Retries,
	}

	sub, err := e.store.GetSubscription(ctx, inst.SubscriptionID)
	if errors.Is(err, ledger.ErrSubscriptionNotFound) {
		e.logger.Warn("subscription not found, skipping installment",
			"installment_id", inst.ID, "subscription_id", inst.SubscriptionID)
		return e.skip(res, "subscription not found")
	}
	if err != nil {
		return e.fail(res, fmt.Errorf("load subscription: %w", err))
	}

	if _, err := e.orders.Get(ctx, inst.OrderID); err != nil {
		if errors.Is(err, orders.ErrOrderNotFound) {
			msg := fmt.Sprintf("Cron: Order %s installment %s not found...", inst.OrderID, inst.ID)
			e.logger.Error(msg, "installment_id", inst.ID, "order_id", inst.OrderID)
			e.trail(ctx, inst, models.LogLevelError, msg)
			return e.skip(res, "order not found")
		}
		return e.fail(res, fmt.Errorf("load order: %w", err))
	}

	if e.policy.Exhausted(inst.Retries) {
		if e.escalate(ctx, sub, inst.ID) {
			res.Action = ActionEscalated
			return res
		}
		return e.skip(res, "retries exhausted")
	}

	if sub.Status.Terminal() {
		return e.skip(res, "subscription is "+string(sub.Status))
	}

	if err := e.store.ClaimInstallment(ctx, inst.ID, inst.Status); err != nil {
		if errors.Is(err, ledger.ErrClaimConflict) {
			e.logger.Debug("installment claimed elsewhere", "installment_id", inst.ID)
			return e.skip(res, "claimed by another worker")
		}
		if errors.Is(err, ledger.ErrSubscriptionClosed) {
			e.logger.Info("subscription closed before claim, skipping installment",
				"installment_id", inst.ID, "subscription_id", inst.SubscriptionID)
			return e.skip(res, "subscription is no longer active")
		}
		return e.fail(res, fmt.Errorf("claim installment: %w", err))
	}

	out := e.gateway.Charge(ctx, gateway.ChargeRequest{
		Amount:         inst.Amount,
		OrderID:        inst.OrderID,
		CustomerID:     sub.CustomerID,
		Reference:      inst.ID,
		IdempotencyKey: gateway.IdempotencyKey(inst.ID, inst.Retries),
	})
	e.metrics.RecordCharge(models.LogContextCron, out.Label())

	if out.IsAccepted() {
		return e.onCharged(ctx, res, sub, inst, out.Reference)
	}
	return e.onDeclined(ctx, res, sub, inst, out)
}

func (e *Executor) onCharged(ctx context.Context, res *InstallmentResult, sub *models.Subscription, inst models.Installment, txnID string) *InstallmentResult {
	res.TransactionID = txnID

	if err := e.store.MarkInstallmentPaid(ctx, inst.ID, txnID); err != nil {
		msg := fmt.Sprintf("Cron: installment %s was charged (Txn ID: %s) but could not be marked paid; needs reconciliation: %v",
			inst.ID, txnID, err)
		e.logger.Error(msg, "installment_id", inst.ID, "transaction_id", txnID)
		e.trail(ctx, inst, models.LogLevelError, msg)
		return e.fail(res, err)
	}
	res.Action = ActionCharged

	e.logger.Info("installment charged",
		"installment_id", inst.ID, "order_id", inst.OrderID, "transaction_id", txnID)
	e.note(ctx, inst.OrderID, chargedNote(inst, txnID))
	e.trail(ctx, inst, models.LogLevelInfo, fmt.Sprintf("Installment %s charged. Txn ID: %s", inst.ID, txnID))
	e.publish(ctx, events.TypeInstallment, events.InstallmentCharged, e.installmentData(inst, models.InstallmentStatusPaid, inst.Retries, txnID, ""))

	paid, err := e.agg.AllPaid(ctx, sub.ID)
	if err != nil {
		e.logger.Error("failed to check plan completion", "subscription_id", sub.ID, "error", err)
		return res
	}
	if !paid {
		return res
	}

	changed, err := e.store.TransitionSubscription(ctx, sub.ID, models.SubscriptionStatusActive, models.SubscriptionStatusComplete)
	if err != nil {
		e.logger.Error("failed to complete subscription", "subscription_id", sub.ID, "error", err)
		return res
	}
	if !changed {
		return res
	}

	e.metrics.RecordCompletion()
	if err := e.orders.SetStatus(ctx, inst.OrderID, orders.StatusCompleted, completedNote); err != nil {
		e.logger.Error("failed to complete order", "order_id", inst.OrderID, "error", err)
	}
	e.trail(ctx, inst, models.LogLevelInfo, completedNote)
	e.publish(ctx, events.TypeSubscription, events.SubscriptionCompleted, events.SubscriptionEventData{
		SubscriptionID: sub.ID,
		OrderID:        sub.OrderID,
		Status:         string(models.SubscriptionStatusComplete),
	})
	return res
}

func (e *Executor) onDeclined(ctx context.Context, res *InstallmentResult, sub *models.Subscription, inst models.Installment, out gateway.Outcome) *InstallmentResult {
	reason := out.FailureReason()
	retries := inst.Retries + 1
	res.Retries = retries
	res.Reason = reason

	if err := e.store.MarkInstallmentFailed(ctx, inst.ID, retries, e.now()); err != nil {
		e.logger.Error("failed to record declined charge", "installment_id", inst.ID, "error", err)
		return e.fail(res, err)
	}
	res.Action = ActionFailed

	note := failedNote(inst, reason, retries, e.policy.MaxRetries)
	e.logger.Warn("installment charge failed",
		"installment_id", inst.ID, "order_id", inst.OrderID, "outcome", out.Label(), "retries", retries)
	e.note(ctx, inst.OrderID, note)
	e.trail(ctx, inst, models.LogLevelWarning, note)
	e.publish(ctx, events.TypeInstallment, events.InstallmentFailed, e.installmentData(inst, models.InstallmentStatusFailed, retries, "", reason))

	if e.policy.Exhausted(retries) && e.escalate(ctx, sub, inst.ID) {
		res.Action = ActionEscalated
	}
	return res
}

// escalate fails the subscription and puts the order on hold. It reports
// whether this call made the transition; repeated calls are no-ops.
func (e *Executor) escalate(ctx context.Context, sub *models.Subscription, installmentID string) bool {
	changed, err := e.store.TransitionSubscription(ctx, sub.ID, models.SubscriptionStatusActive, models.SubscriptionStatusFailed)
	if err != nil {
		e.logger.Error("failed to fail subscription", "subscription_id", sub.ID, "error", err)
		return false
	}
	if !changed {
		return false
	}

	note := escalatedNote(installmentID)
	e.metrics.RecordEscalation()
	e.logger.Error("subscription failed after max retries",
		"subscription_id", sub.ID, "order_id", sub.OrderID, "installment_id", installmentID)
	if err := e.orders.SetStatus(ctx, sub.OrderID, orders.StatusOnHold, note); err != nil {
		e.logger.Error("failed to put order on hold", "order_id", sub.OrderID, "error", err)
	}
	e.appendLog(ctx, models.LogEntry{
		SubscriptionID: sub.ID,
		OrderID:        sub.OrderID,
		Context:        models.LogContextCron,
		Level:          models.LogLevelError,
		Message:        note,
	})
	e.publish(ctx, events.TypeSubscription, events.SubscriptionFailed, events.SubscriptionEventData{
		SubscriptionID: sub.ID,
		OrderID:        sub.OrderID,
		Status:         string(models.SubscriptionStatusFailed),
		Reason:         "retries exhausted",
	})
	return true
}

func (e *Executor) skip(res *InstallmentResult, reason string) *InstallmentResult {
	res.Action = ActionSkipped
	res.Reason = reason
	return res
}

func (e *Executor) fail(res *InstallmentResult, err error) *InstallmentResult {
	e.logger.Error("installment processing error", "installment_id", res.InstallmentID, "error", err)
	res.Action = ActionError
	res.Reason = err.Error()
	return res
}

func (e *Executor) note(ctx context.Context, orderID, note string) {
	if err := e.orders.AddNote(ctx, orderID, note); err != nil {
		e.logger.Warn("failed to add order note", "order_id", orderID, "error", err)
	}
}

func (e *Executor) trail(ctx context.Context, inst models.Installment, level, message string) {
	e.appendLog(ctx, models.LogEntry{
		SubscriptionID: inst.SubscriptionID,
		OrderID:        inst.OrderID,
		Context:        models.LogContextCron,
		Level:          level,
		Message:        message,
	})
}

func (e *Executor) appendLog(ctx context.Context, entry models.LogEntry) {
	if err := e.store.AppendLog(ctx, entry); err != nil {
		e.logger.Warn("failed to persist log entry", "subscription_id", entry.SubscriptionID, "error", err)
	}
}

func (e *Executor) publish(ctx context.Context, eventType, eventName string, data interface{}) {
	if err := e.events.Publish(ctx, eventType, eventName, data); err != nil {
		e.logger.Warn("failed to publish event", "type", eventType, "event", eventName, "error", err)
	}
}

func (e *Executor) installmentData(inst models.Installment, status models.InstallmentStatus, retries int, txnID, reason string) events.InstallmentEventData {
	return events.InstallmentEventData{
		InstallmentID:  inst.ID,
		SubscriptionID: inst.SubscriptionID,
		OrderID:        inst.OrderID,
		Amount:         inst.Amount.StringFixed(models.MinorUnits),
		Status:         string(status),
		Retries:        retries,
		MaxRetries:     e.policy.MaxRetries,
		TransactionID:  txnID,
		Reason:         reason,
	}
}
