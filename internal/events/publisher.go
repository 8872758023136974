package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wpshiftstudio/payin3/internal/httpclient"
	"github.com/wpshiftstudio/payin3/internal/logger"
)

// Publisher delivers operator-facing events
type Publisher interface {
	Publish(ctx context.Context, eventType, eventName string, data interface{}) error
}

// Event represents an event to publish
type Event struct {
	Type  string      `json:"type"`
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// Event type constants
const (
	TypeInstallment  = "installment"
	TypeSubscription = "subscription"
	TypeScheduler    = "scheduler"
	TypeWebhook      = "webhook"
	TypeCheckout     = "checkout"
)

// Installment events
const (
	InstallmentCharged = "charged"
	InstallmentFailed  = "failed"
)

// Subscription events
const (
	SubscriptionCreated   = "created"
	SubscriptionCompleted = "completed"
	SubscriptionFailed    = "failed"
	SubscriptionCancelled = "cancelled"
)

// Scheduler events
const (
	SchedulerTickStarted   = "tick_started"
	SchedulerTickCompleted = "tick_completed"
)

// WebhookReceived is published for every verified, non-duplicate webhook
const WebhookReceived = "webhook.received"

// InstallmentEventData is the payload of installment events
type InstallmentEventData struct {
	InstallmentID  string `json:"installment_id"`
	SubscriptionID string `json:"subscription_id"`
	OrderID        string `json:"order_id"`
	Amount         string `json:"amount"`
	Status         string `json:"status"`
	Retries        int    `json:"retries"`
	MaxRetries     int    `json:"max_retries"`
	TransactionID  string `json:"transaction_id,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

// SubscriptionEventData is the payload of subscription events
type SubscriptionEventData struct {
	SubscriptionID string `json:"subscription_id"`
	OrderID        string `json:"order_id"`
	Status         string `json:"status"`
	Reason         string `json:"reason,omitempty"`
}

// TickEventData summarises a scheduler tick
type TickEventData struct {
	Processed  int    `json:"processed"`
	Successful int    `json:"successful"`
	Failed     int    `json:"failed"`
	Escalated  int    `json:"escalated"`
	Skipped    int    `json:"skipped"`
	Duration   string `json:"duration,omitempty"`
}

// WebhookEventData carries a verified provider callback
type WebhookEventData struct {
	IdempotencyKey string      `json:"idempotency_key,omitempty"`
	Type           string      `json:"type,omitempty"`
	Data           interface{} `json:"data,omitempty"`
}

// HTTPPublisher forwards events to a remote collector's /internal/events endpoint
type HTTPPublisher struct {
	client *httpclient.Client
}

func NewHTTPPublisher(baseURL string) *HTTPPublisher {
	return &HTTPPublisher{client: httpclient.NewClient(baseURL, 5*time.Second)}
}

func (p *HTTPPublisher) Publish(ctx context.Context, eventType, eventName string, data interface{}) error {
	event := Event{Type: eventType, Event: eventName, Data: data}
	if err := p.client.Post(ctx, "/internal/events", event, nil); err != nil {
		return fmt.Errorf("failed to send event: %w", err)
	}
	return nil
}

// Multi fans an event out to every publisher, returning the first error
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, eventType, eventName string, data interface{}) error {
	var first error
	for _, p := range m {
		if err := p.Publish(ctx, eventType, eventName, data); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Nop discards events
type Nop struct{}

func (Nop) Publish(context.Context, string, string, interface{}) error { return nil }

// Async wraps a publisher so callers never block on delivery
type Async struct {
	next   Publisher
	logger *logger.Logger
}

func NewAsync(next Publisher, log *logger.Logger) *Async {
	return &Async{next: next, logger: log}
}

// Publish hands the event off and returns immediately. Delivery errors are logged.
func (a *Async) Publish(_ context.Context, eventType, eventName string, data interface{}) error {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.next.Publish(ctx, eventType, eventName, data); err != nil {
			a.logger.Warn("event delivery failed", "type", eventType, "event", eventName, "error", err)
		}
	}()
	return nil
}

// Recorder keeps every published event in memory
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, eventType, eventName string, data interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{Type: eventType, Event: eventName, Data: data})
	return nil
}

// Events returns a copy of the recorded events
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}
