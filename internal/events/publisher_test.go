package events

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wpshiftstudio/payin3/internal/logger"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (r *recorder) Publish(_ context.Context, eventType, eventName string, data interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{Type: eventType, Event: eventName, Data: data})
	return r.err
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestHTTPPublisher(t *testing.T) {
	var got Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/internal/events", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	p := NewHTTPPublisher(srv.URL)
	err := p.Publish(context.Background(), TypeSubscription, SubscriptionCompleted, SubscriptionEventData{
		SubscriptionID: "sub-1", OrderID: "1001", Status: "complete",
	})
	require.NoError(t, err)
	assert.Equal(t, TypeSubscription, got.Type)
	assert.Equal(t, SubscriptionCompleted, got.Event)
}

func TestHTTPPublisherRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	assert.Error(t, NewHTTPPublisher(srv.URL).Publish(context.Background(), TypeWebhook, WebhookReceived, nil))
}

func TestMultiDeliversToAll(t *testing.T) {
	a := &recorder{err: errors.New("a failed")}
	b := &recorder{}

	err := Multi{a, b}.Publish(context.Background(), TypeScheduler, SchedulerTickCompleted, TickEventData{Processed: 2})
	assert.EqualError(t, err, "a failed")
	assert.Equal(t, 1, a.count())
	assert.Equal(t, 1, b.count())
}

func TestAsyncDoesNotBlock(t *testing.T) {
	r := &recorder{err: errors.New("ignored")}
	p := NewAsync(r, logger.NewNop())

	require.NoError(t, p.Publish(context.Background(), TypeInstallment, InstallmentCharged, nil))
	assert.Eventually(t, func() bool { return r.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.NoError(t, Nop{}.Publish(context.Background(), "", "", nil))
}
