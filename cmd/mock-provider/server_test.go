package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wpshiftstudio/payin3/internal/gateway"
	"github.com/wpshiftstudio/payin3/internal/logger"
)

func newTestServer(t *testing.T) (*httptest.Server, *gateway.MockProvider, *gateway.Client) {
	t.Helper()
	provider := gateway.NewMockProvider()
	srv := httptest.NewServer(NewServer(provider, 0, logger.NewNop()).Routes())
	t.Cleanup(srv.Close)
	return srv, provider, gateway.NewClient("mock", srv.URL, "test-key", 2*time.Second)
}

func chargeReq(key string) gateway.ChargeRequest {
	return gateway.ChargeRequest{
		Amount:         decimal.RequireFromString("33.34"),
		OrderID:        "1001",
		Reference:      "inst-2",
		IdempotencyKey: key,
	}
}

func TestChargeRoundTrip(t *testing.T) {
	_, _, client := newTestServer(t)

	out := client.Charge(context.Background(), chargeReq("payin3_inst-2_0"))
	require.True(t, out.IsAccepted())
	assert.True(t, strings.HasPrefix(out.Reference, "charge_"))

	replay := client.Charge(context.Background(), chargeReq("payin3_inst-2_0"))
	assert.Equal(t, out.Reference, replay.Reference)
}

func TestChargeDeclinedWhenFailureRateIsFull(t *testing.T) {
	srv, _, client := newTestServer(t)

	resp, err := http.Post(srv.URL+"/admin/set-failure-rate?rate=100", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	out := client.Charge(context.Background(), chargeReq("payin3_inst-2_1"))
	assert.Equal(t, gateway.StatusDeclined, out.Status)
	assert.Equal(t, "Payment provider declined the charge.", out.FailureReason())
}

func TestUnhealthyProviderIsAnUpstreamError(t *testing.T) {
	srv, _, client := newTestServer(t)

	resp, err := http.Post(srv.URL+"/admin/toggle-status", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()

	assert.False(t, client.IsHealthy(context.Background()))
	out := client.Charge(context.Background(), chargeReq("payin3_inst-2_0"))
	assert.Equal(t, gateway.StatusError, out.Status)
	assert.Equal(t, gateway.ErrorKindUpstream, out.Kind)
}

func TestPaymentIntentRequiresAction(t *testing.T) {
	_, _, client := newTestServer(t)

	intent, err := client.CreatePaymentIntent(context.Background(), chargeReq("payin3_inst-1_0"))
	require.NoError(t, err)
	assert.Equal(t, "requires_action", intent.Status)
	assert.True(t, strings.HasPrefix(intent.ID, "pi_"))
}

func TestRejectsInvalidCharge(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/charge", "application/json", strings.NewReader(`{"amount":"0"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/admin/set-failure-rate?rate=150", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
