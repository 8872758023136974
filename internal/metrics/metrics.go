// Package metrics exposes Prometheus instrumentation for the pay-in-3 flows.
// A nil *Collector is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns a private registry with the service's metric vectors
type Collector struct {
	registry *prometheus.Registry

	ChargeAttempts      *prometheus.CounterVec
	Escalations         prometheus.Counter
	Completions         prometheus.Counter
	TickDuration        prometheus.Histogram
	DueInstallments     prometheus.Gauge
	WebhookVerdicts     *prometheus.CounterVec
	CheckoutResults     *prometheus.CounterVec
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

func New(namespace string) *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		registry: reg,
		ChargeAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "charge_attempts_total",
			Help:      "Charge attempts by source and outcome",
		}, []string{"source", "outcome"}),
		Escalations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escalations_total",
			Help:      "Subscriptions failed after exhausting retries",
		}),
		Completions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscription_completions_total",
			Help:      "Subscriptions whose installments are all paid",
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Duration of scheduler ticks",
			Buckets:   prometheus.DefBuckets,
		}),
		DueInstallments: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "due_installments",
			Help:      "Size of the due set loaded by the last tick",
		}),
		WebhookVerdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_verdicts_total",
			Help:      "Webhook deliveries by verdict",
		}, []string{"verdict"}),
		CheckoutResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_results_total",
			Help:      "Checkout attempts by result",
		}, []string{"result"}),
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status_code"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	reg.MustRegister(
		c.ChargeAttempts, c.Escalations, c.Completions, c.TickDuration, c.DueInstallments,
		c.WebhookVerdicts, c.CheckoutResults, c.HTTPRequestsTotal, c.HTTPRequestDuration,
	)
	return c
}

func (c *Collector) RecordCharge(source, outcome string) {
	if c == nil {
		return
	}
	c.ChargeAttempts.WithLabelValues(source, outcome).Inc()
}

func (c *Collector) RecordEscalation() {
	if c == nil {
		return
	}
	c.Escalations.Inc()
}

func (c *Collector) RecordCompletion() {
	if c == nil {
		return
	}
	c.Completions.Inc()
}

func (c *Collector) RecordTick(d time.Duration, due int) {
	if c == nil {
		return
	}
	c.TickDuration.Observe(d.Seconds())
	c.DueInstallments.Set(float64(due))
}

func (c *Collector) RecordWebhook(verdict string) {
	if c == nil {
		return
	}
	c.WebhookVerdicts.WithLabelValues(verdict).Inc()
}

func (c *Collector) RecordCheckout(result string) {
	if c == nil {
		return
	}
	c.CheckoutResults.WithLabelValues(result).Inc()
}

// Handler serves the registry in the Prometheus exposition format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Middleware records request counts and latency labelled by route template
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		c.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		c.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
