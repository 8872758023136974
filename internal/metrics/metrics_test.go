package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorRecords(t *testing.T) {
	c := New("payin3")

	c.RecordCharge("cron", "accepted")
	c.RecordCharge("cron", "accepted")
	c.RecordCharge("checkout", "declined")
	c.RecordEscalation()
	c.RecordCompletion()
	c.RecordTick(150*time.Millisecond, 7)
	c.RecordWebhook("duplicate")
	c.RecordCheckout("success")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.ChargeAttempts.WithLabelValues("cron", "accepted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.ChargeAttempts.WithLabelValues("checkout", "declined")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Escalations))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Completions))
	assert.Equal(t, 7.0, testutil.ToFloat64(c.DueInstallments))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.WebhookVerdicts.WithLabelValues("duplicate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.CheckoutResults.WithLabelValues("success")))
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.RecordCharge("cron", "accepted")
		c.RecordEscalation()
		c.RecordCompletion()
		c.RecordTick(time.Second, 1)
		c.RecordWebhook("accepted")
		c.RecordCheckout("fail")
	})
}

func TestMiddlewareAndHandler(t *testing.T) {
	c := New("payin3")
	r := mux.NewRouter()
	r.Use(c.Middleware)
	r.HandleFunc("/pay-in-3/v1/subscriptions/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Handle("/metrics", c.Handler())

	req := httptest.NewRequest(http.MethodGet, "/pay-in-3/v1/subscriptions/abc", nil)
	r.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, 1.0, testutil.ToFloat64(
		c.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/pay-in-3/v1/subscriptions/{id}", "404")))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.True(t, strings.Contains(string(body), "payin3_http_requests_total"))
}
