package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wpshiftstudio/payin3/internal/events"
	"github.com/wpshiftstudio/payin3/internal/gateway"
	"github.com/wpshiftstudio/payin3/internal/ledger"
	"github.com/wpshiftstudio/payin3/internal/metrics"
	"github.com/wpshiftstudio/payin3/internal/models"
	"github.com/wpshiftstudio/payin3/internal/orders"
	"github.com/wpshiftstudio/payin3/internal/planner"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store    ledger.Store
	mem      *ledger.MemoryStore
	book     *orders.MemoryBook
	provider *gateway.MockProvider
	recorder *events.Recorder
	metrics  *metrics.Collector
	service  *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		mem:      ledger.NewMemoryStore(),
		book:     orders.NewMemoryBook(),
		provider: gateway.NewMockProvider(),
		recorder: &events.Recorder{},
		metrics:  metrics.New("payin3_test"),
	}
	f.store = f.mem
	f.build()
	return f
}

func (f *fixture) build() {
	settings := Settings{
		Enabled:   true,
		MinOrder:  MoneyFromFloat(100),
		MaxOrder:  MoneyFromFloat(1000),
		ReturnURL: "https://shop.example/checkout/order-received",
	}
	p := planner.New(30*24*time.Hour, 60*24*time.Hour, "pay-in-3")
	f.service = NewService(settings, f.store, f.book, f.provider, p, Options{
		Events:  f.recorder,
		Metrics: f.metrics,
		Now:     func() time.Time { return now },
	})
}

func (f *fixture) putOrder(id, total string) {
	f.book.Put(orders.Order{ID: id, CustomerID: "cust-1", Total: decimal.RequireFromString(total), Status: orders.StatusPending})
}

func (f *fixture) plan(t *testing.T, orderID string) (*models.Subscription, []models.Installment) {
	t.Helper()
	sub, err := f.mem.GetSubscriptionByOrderID(context.Background(), orderID)
	require.NoError(t, err)
	insts, err := f.mem.ListInstallments(context.Background(), sub.ID)
	require.NoError(t, err)
	return sub, insts
}

func TestIsAvailable(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		total string
		want  bool
	}{
		{"99.99", false},
		{"100.00", true},
		{"550.00", true},
		{"1000.00", true},
		{"1000.01", false},
	}
	for _, tt := range tests {
		t.Run(tt.total, func(t *testing.T) {
			assert.Equal(t, tt.want, f.service.IsAvailable(decimal.RequireFromString(tt.total)))
		})
	}

	f.service.settings.Enabled = false
	assert.False(t, f.service.IsAvailable(decimal.RequireFromString("500")))
}

func TestProcessPaymentSuccess(t *testing.T) {
	f := newFixture(t)
	f.putOrder("1001", "100.00")

	result := f.service.ProcessPayment(context.Background(), "1001")
	require.Equal(t, ResultSuccess, result.Result)
	assert.Equal(t, "https://shop.example/checkout/order-received?order_id=1001", result.Redirect)

	sub, insts := f.plan(t, "1001")
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
	require.Len(t, insts, 3)

	assert.Equal(t, models.InstallmentStatusPaid, insts[0].Status)
	assert.True(t, strings.HasPrefix(insts[0].TransactionID, "charge_"))
	assert.Equal(t, now, insts[0].DueDate)
	assert.Equal(t, "33.33", insts[0].Amount.StringFixed(2))

	assert.Equal(t, models.InstallmentStatusPending, insts[1].Status)
	assert.Equal(t, "33.34", insts[1].Amount.StringFixed(2))
	assert.Equal(t, now.AddDate(0, 0, 30), insts[1].DueDate)

	assert.Equal(t, models.InstallmentStatusPending, insts[2].Status)
	assert.Equal(t, "33.33", insts[2].Amount.StringFixed(2))
	assert.Equal(t, now.AddDate(0, 0, 60), insts[2].DueDate)

	calls := f.provider.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "33.33", calls[0].Amount.StringFixed(2))
	assert.Equal(t, gateway.IdempotencyKey(insts[0].ID, 0), calls[0].IdempotencyKey)

	o, err := f.book.Get(context.Background(), "1001")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusProcessing, o.Status)
	require.Len(t, o.Notes, 1)
	assert.Contains(t, o.Notes[0], "Txn ID: "+insts[0].TransactionID)

	var names []string
	for _, e := range f.recorder.Events() {
		names = append(names, e.Type+"."+e.Event)
	}
	assert.Equal(t, []string{"subscription.created", "installment.charged"}, names)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.CheckoutResults.WithLabelValues(ResultSuccess)))
}

func TestProcessPaymentDeclinedCancelsPlan(t *testing.T) {
	f := newFixture(t)
	f.putOrder("1001", "300.00")
	f.provider.Enqueue(gateway.Declined("Card declined"))

	result := f.service.ProcessPayment(context.Background(), "1001")
	assert.Equal(t, ResultFail, result.Result)
	assert.Empty(t, result.Redirect)
	assert.NotContains(t, result.Message, "Card declined")
	assert.Equal(t, msgSupport, result.Message)

	sub, insts := f.plan(t, "1001")
	assert.Equal(t, models.SubscriptionStatusFailed, sub.Status)
	for _, inst := range insts {
		assert.Equal(t, models.InstallmentStatusCancelled, inst.Status)
	}

	o, err := f.book.Get(context.Background(), "1001")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPending, o.Status, "a declined checkout only adds a note")
	require.Len(t, o.Notes, 1)
	assert.Contains(t, o.Notes[0], "failed at checkout")

	// Nothing is left for the scheduler.
	due, err := f.mem.DueInstallments(context.Background(), now.AddDate(0, 0, 90), 0)
	require.NoError(t, err)
	assert.Empty(t, due)

	// A repeated checkout neither charges nor succeeds.
	again := f.service.ProcessPayment(context.Background(), "1001")
	assert.Equal(t, ResultFail, again.Result)
	assert.Equal(t, result.Message, again.Message)
	assert.Len(t, f.provider.Calls(), 1)
}

func TestProcessPaymentUnavailable(t *testing.T) {
	f := newFixture(t)
	f.putOrder("1001", "50.00")

	result := f.service.ProcessPayment(context.Background(), "1001")
	assert.Equal(t, ResultFail, result.Result)
	assert.Empty(t, f.provider.Calls())

	_, err := f.mem.GetSubscriptionByOrderID(context.Background(), "1001")
	assert.ErrorIs(t, err, ledger.ErrSubscriptionNotFound)
}

func TestProcessPaymentUnknownOrder(t *testing.T) {
	f := newFixture(t)
	result := f.service.ProcessPayment(context.Background(), "404")
	assert.Equal(t, ResultFail, result.Result)
	assert.Empty(t, f.provider.Calls())
}

func TestProcessPaymentIsIdempotentPerOrder(t *testing.T) {
	f := newFixture(t)
	f.putOrder("1001", "150.00")

	first := f.service.ProcessPayment(context.Background(), "1001")
	second := f.service.ProcessPayment(context.Background(), "1001")

	assert.Equal(t, ResultSuccess, first.Result)
	assert.Equal(t, ResultSuccess, second.Result)
	assert.Equal(t, first.Redirect, second.Redirect)
	assert.Len(t, f.provider.Calls(), 1)
}

type failingCreateStore struct {
	*ledger.MemoryStore
}

func (failingCreateStore) CreatePlan(context.Context, *models.Plan) error {
	return errors.New("database unavailable")
}

func TestPersistenceFailureChargesNothing(t *testing.T) {
	f := newFixture(t)
	f.store = failingCreateStore{f.mem}
	f.build()
	f.putOrder("1001", "100.00")

	result := f.service.ProcessPayment(context.Background(), "1001")
	assert.Equal(t, ResultFail, result.Result)
	assert.Empty(t, f.provider.Calls())
}

type failingPaidStore struct {
	*ledger.MemoryStore
}

func (failingPaidStore) MarkInstallmentPaid(context.Context, string, string) error {
	return errors.New("connection lost")
}

func TestUnrecordedChargeStaysProcessing(t *testing.T) {
	f := newFixture(t)
	f.store = failingPaidStore{f.mem}
	f.build()
	f.putOrder("1001", "100.00")

	result := f.service.ProcessPayment(context.Background(), "1001")
	assert.Equal(t, ResultSuccess, result.Result)

	sub, insts := f.plan(t, "1001")
	assert.Equal(t, models.InstallmentStatusProcessing, insts[0].Status)

	stuck, err := f.mem.ListProcessing(context.Background(), time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, stuck, 1)
	assert.Equal(t, insts[0].ID, stuck[0].ID)

	logs, err := f.mem.ListLogs(context.Background(), sub.ID, 0)
	require.NoError(t, err)
	var found bool
	for _, l := range logs {
		if l.Level == models.LogLevelError && strings.Contains(l.Message, "needs reconciliation") {
			found = true
		}
	}
	assert.True(t, found)
}

func TestReturnURLTemplate(t *testing.T) {
	f := newFixture(t)
	f.service.settings.ReturnURL = "https://shop.example/orders/{order_id}/thanks"
	assert.Equal(t, "https://shop.example/orders/1001/thanks", f.service.returnURL("1001"))
}

func TestHandlerProcessPayment(t *testing.T) {
	f := newFixture(t)
	f.putOrder("1001", "100.00")
	f.putOrder("1002", "5000.00")

	r := mux.NewRouter()
	NewHandler(f.service).RegisterRoutes(r)

	req := httptest.NewRequest(http.MethodPost, "/pay-in-3/v1/checkout/1001", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	var result Result
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&result))
	assert.Equal(t, ResultSuccess, result.Result)
	assert.NotEmpty(t, result.Redirect)

	req = httptest.NewRequest(http.MethodPost, "/pay-in-3/v1/checkout/1002", nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
}

func TestHandlerAvailability(t *testing.T) {
	f := newFixture(t)
	r := mux.NewRouter()
	NewHandler(f.service).RegisterRoutes(r)

	req := httptest.NewRequest(http.MethodGet, "/pay-in-3/v1/checkout/availability?total=250", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, true, body["available"])

	req = httptest.NewRequest(http.MethodGet, "/pay-in-3/v1/checkout/availability?total=abc", nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
