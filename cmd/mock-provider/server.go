package main

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/wpshiftstudio/payin3/internal/gateway"
	"github.com/wpshiftstudio/payin3/internal/httpapi"
	"github.com/wpshiftstudio/payin3/internal/logger"
)

// Server exposes a MockProvider over the provider JSON API
type Server struct {
	provider *gateway.MockProvider
	logger   *logger.Logger

	mu           sync.RWMutex
	isHealthy    bool
	responseTime time.Duration
	stats        Stats
}

type Stats struct {
	TotalRequests     int     `json:"total_requests"`
	SuccessfulCharges int     `json:"successful_charges"`
	FailedCharges     int     `json:"failed_charges"`
	PaymentIntents    int     `json:"payment_intents"`
	SuccessRate       float64 `json:"success_rate"`
}

type chargeResponse struct {
	Success       bool   `json:"success"`
	TransactionID string `json:"transaction_id,omitempty"`
	ErrorCode     string `json:"error_code,omitempty"`
	ErrorMessage  string `json:"error_message,omitempty"`
}

func NewServer(provider *gateway.MockProvider, responseTime time.Duration, log *logger.Logger) *Server {
	return &Server{
		provider:     provider,
		logger:       log,
		isHealthy:    true,
		responseTime: responseTime,
	}
}

func (s *Server) Routes() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/charge", s.charge).Methods(http.MethodPost)
	r.HandleFunc("/payment-intents", s.createPaymentIntent).Methods(http.MethodPost)

	r.HandleFunc("/admin/set-failure-rate", s.setFailureRate).Methods(http.MethodPost)
	r.HandleFunc("/admin/toggle-status", s.toggleStatus).Methods(http.MethodPost)
	r.HandleFunc("/admin/stats", s.getStats).Methods(http.MethodGet)

	r.HandleFunc("/health", s.health).Methods(http.MethodGet)
	return r
}

func (s *Server) charge(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.stats.TotalRequests++
	healthy := s.isHealthy
	delay := s.responseTime
	s.mu.Unlock()

	time.Sleep(delay)

	var req gateway.ChargeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpapi.Error(w, http.StatusBadRequest, "Invalid request body", "INVALID_REQUEST")
		return
	}
	if !req.Amount.IsPositive() || req.IdempotencyKey == "" {
		httpapi.Error(w, http.StatusBadRequest, "Missing required fields", "INVALID_REQUEST")
		return
	}

	if !healthy {
		s.recordCharge(false)
		httpapi.JSON(w, http.StatusServiceUnavailable, chargeResponse{
			ErrorCode:    "PROVIDER_UNAVAILABLE",
			ErrorMessage: "Payment provider temporarily unavailable",
		})
		return
	}

	out := s.provider.Charge(r.Context(), req)
	switch out.Status {
	case gateway.StatusAccepted:
		s.recordCharge(true)
		s.logger.Info("charge accepted", "reference", req.Reference, "transaction_id", out.Reference,
			"amount", req.Amount.StringFixed(2))
		httpapi.JSON(w, http.StatusOK, chargeResponse{Success: true, TransactionID: out.Reference})
	case gateway.StatusDeclined:
		s.recordCharge(false)
		httpapi.JSON(w, http.StatusPaymentRequired, chargeResponse{
			ErrorCode:    "CARD_DECLINED",
			ErrorMessage: out.FailureReason(),
		})
	default:
		s.recordCharge(false)
		status := http.StatusBadGateway
		if out.Kind == gateway.ErrorKindTimeout {
			status = http.StatusGatewayTimeout
		}
		httpapi.JSON(w, status, chargeResponse{ErrorCode: "UPSTREAM_ERROR", ErrorMessage: out.Reason})
	}
}

func (s *Server) createPaymentIntent(w http.ResponseWriter, r *http.Request) {
	var req gateway.ChargeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpapi.Error(w, http.StatusBadRequest, "Invalid request body", "INVALID_REQUEST")
		return
	}

	intent, err := s.provider.CreatePaymentIntent(r.Context(), req)
	if err != nil {
		httpapi.Error(w, http.StatusInternalServerError, err.Error(), "INTENT_FAILED")
		return
	}

	s.mu.Lock()
	s.stats.PaymentIntents++
	s.mu.Unlock()
	httpapi.JSON(w, http.StatusOK, intent)
}

func (s *Server) recordCharge(ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ok {
		s.stats.SuccessfulCharges++
	} else {
		s.stats.FailedCharges++
	}
	s.stats.SuccessRate = float64(s.stats.SuccessfulCharges) / float64(s.stats.TotalRequests) * 100
}

// setFailureRate takes a percentage, 0-100
func (s *Server) setFailureRate(w http.ResponseWriter, r *http.Request) {
	rateStr := r.URL.Query().Get("rate")
	if rateStr == "" {
		httpapi.Error(w, http.StatusBadRequest, "Missing rate parameter", "INVALID_REQUEST")
		return
	}

	rate, err := strconv.ParseFloat(rateStr, 64)
	if err != nil || rate < 0 || rate > 100 {
		httpapi.Error(w, http.StatusBadRequest, "Invalid rate (0-100)", "INVALID_REQUEST")
		return
	}
	s.provider.SetFailureRate(rate / 100)

	httpapi.JSON(w, http.StatusOK, map[string]interface{}{
		"message":      "Failure rate updated",
		"failure_rate": rate,
	})
}

func (s *Server) toggleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.isHealthy = !s.isHealthy
	healthy := s.isHealthy
	s.mu.Unlock()

	httpapi.JSON(w, http.StatusOK, map[string]interface{}{
		"message": "Provider status toggled",
		"status":  healthStatus(healthy),
	})
}

func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	stats := s.stats
	healthy := s.isHealthy
	s.mu.RUnlock()

	httpapi.JSON(w, http.StatusOK, map[string]interface{}{
		"provider":     "mock",
		"is_healthy":   healthy,
		"failure_rate": s.provider.FailureRate() * 100,
		"stats":        stats,
		"timestamp":    time.Now(),
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	healthy := s.isHealthy
	s.mu.RUnlock()

	code := http.StatusOK
	if !healthy {
		code = http.StatusServiceUnavailable
	}
	httpapi.JSON(w, code, map[string]interface{}{
		"service":   "mock-provider",
		"status":    healthStatus(healthy),
		"timestamp": time.Now(),
	})
}

func healthStatus(healthy bool) string {
	if healthy {
		return "healthy"
	}
	return "unhealthy"
}
