package main

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/wpshiftstudio/payin3/internal/app"
	"github.com/wpshiftstudio/payin3/internal/checkout"
	"github.com/wpshiftstudio/payin3/internal/httpapi"
	"github.com/wpshiftstudio/payin3/internal/ledger"
	"github.com/wpshiftstudio/payin3/internal/logger"
	"github.com/wpshiftstudio/payin3/internal/models"
	"github.com/wpshiftstudio/payin3/internal/scheduler"
	"github.com/wpshiftstudio/payin3/internal/webhook"
)

// reconciliationAge is how long a processing installment must sit before it is reported
const reconciliationAge = 15 * time.Minute

// Handler handles the operator HTTP API
type Handler struct {
	app    *app.App
	logger *logger.Logger
}

func NewHandler(a *app.App) *Handler {
	return &Handler{app: a, logger: a.Logger}
}

// Router builds the full route table
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(h.app.Metrics.Middleware)

	r.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)
	r.Handle("/metrics", h.app.Metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/ws", h.app.Hub.ServeWs)

	checkout.NewHandler(h.app.Checkout).RegisterRoutes(r)

	if token := h.app.Config.OperatorToken; token != "" {
		op := r.NewRoute().Subrouter()
		op.Use(httpapi.RequireBearer(token))
		op.HandleFunc("/pay-in-3/v1/scheduler/status", h.GetSchedulerStatus).Methods(http.MethodGet)
		op.HandleFunc("/pay-in-3/v1/scheduler/trigger", h.TriggerScheduler).Methods(http.MethodPost)
		op.HandleFunc("/pay-in-3/v1/subscriptions/{id}", h.GetSubscription).Methods(http.MethodGet)
		op.HandleFunc("/pay-in-3/v1/subscriptions/{id}/logs", h.ListLogs).Methods(http.MethodGet)
		op.HandleFunc("/pay-in-3/v1/reconciliation", h.ListReconciliation).Methods(http.MethodGet)
	} else {
		h.logger.Warn("OPERATOR_TOKEN not set, operator routes disabled")
	}

	if h.app.Verifier != nil {
		webhook.NewHandler(h.app.Verifier, h.app.Events, h.app.Store, h.app.Metrics, h.app.Verifier.Logger()).RegisterRoutes(r)
	}
	return r
}

// HealthCheck handles GET /health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	response := map[string]interface{}{
		"service":           h.logger.Service(),
		"status":            "healthy",
		"scheduler_running": h.app.Scheduler.IsRunning(),
		"websocket_clients": h.app.Hub.ClientCount(),
	}

	healthy := true
	if h.app.DB != nil {
		db := h.app.DB.Health(ctx)
		response["database"] = db
		healthy = db["status"] == "healthy"
	}
	if h.app.Cache != nil {
		if err := h.app.Cache.HealthCheck(ctx); err != nil {
			response["redis"] = map[string]string{"status": "unhealthy", "error": err.Error()}
			healthy = false
		} else {
			response["redis"] = map[string]string{"status": "healthy"}
		}
	}

	if p := h.app.Provider; p != nil {
		status := "healthy"
		if !p.IsHealthy(ctx) {
			status = "unhealthy"
			healthy = false
		}
		response["gateway"] = map[string]string{"name": p.Name(), "status": status}
	}

	code := http.StatusOK
	if !healthy {
		response["status"] = "degraded"
		code = http.StatusServiceUnavailable
	}
	httpapi.JSON(w, code, response)
}

// GetSchedulerStatus handles GET /pay-in-3/v1/scheduler/status
func (h *Handler) GetSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	httpapi.JSON(w, http.StatusOK, h.app.Scheduler.Status())
}

// TriggerScheduler handles POST /pay-in-3/v1/scheduler/trigger
func (h *Handler) TriggerScheduler(w http.ResponseWriter, r *http.Request) {
	result, err := h.app.Scheduler.TriggerManual(r.Context())
	if errors.Is(err, scheduler.ErrTickInProgress) {
		httpapi.Error(w, http.StatusConflict, "A scheduler tick is already running", "TICK_IN_PROGRESS")
		return
	}
	if err != nil {
		h.logger.Error("manual trigger failed", "error", err)
		httpapi.Error(w, http.StatusInternalServerError, "Failed to trigger scheduler", "TRIGGER_FAILED")
		return
	}

	httpapi.JSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"message":    "Scheduler triggered successfully",
		"processed":  result.Processed,
		"successful": result.Successful,
		"failed":     result.Failed,
		"escalated":  result.Escalated,
		"skipped":    result.Skipped,
		"duration":   result.Duration.String(),
		"results":    result.Results,
	})
}

// GetSubscription handles GET /pay-in-3/v1/subscriptions/{id}
func (h *Handler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mux.Vars(r)["id"]

	sub, err := h.app.Store.GetSubscription(ctx, id)
	if errors.Is(err, ledger.ErrSubscriptionNotFound) {
		httpapi.Error(w, http.StatusNotFound, "Subscription not found", "SUBSCRIPTION_NOT_FOUND")
		return
	}
	if err != nil {
		h.logger.Error("failed to load subscription", "subscription_id", id, "error", err)
		httpapi.Error(w, http.StatusInternalServerError, "Failed to load subscription", "LOAD_FAILED")
		return
	}

	insts, err := h.app.Store.ListInstallments(ctx, id)
	if err != nil {
		h.logger.Error("failed to load installments", "subscription_id", id, "error", err)
		httpapi.Error(w, http.StatusInternalServerError, "Failed to load installments", "LOAD_FAILED")
		return
	}
	httpapi.JSON(w, http.StatusOK, models.Plan{Subscription: *sub, Installments: insts})
}

// ListLogs handles GET /pay-in-3/v1/subscriptions/{id}/logs
func (h *Handler) ListLogs(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			httpapi.Error(w, http.StatusBadRequest, "limit must be between 1 and 500", "INVALID_REQUEST")
			return
		}
		limit = n
	}

	logs, err := h.app.Store.ListLogs(r.Context(), id, limit)
	if err != nil {
		h.logger.Error("failed to list logs", "subscription_id", id, "error", err)
		httpapi.Error(w, http.StatusInternalServerError, "Failed to list logs", "LIST_LOGS_FAILED")
		return
	}
	httpapi.JSON(w, http.StatusOK, map[string]interface{}{
		"logs":  logs,
		"total": len(logs),
	})
}

// ListReconciliation handles GET /pay-in-3/v1/reconciliation. It lists
// installments left in processing, which means a charge outcome was not recorded.
func (h *Handler) ListReconciliation(w http.ResponseWriter, r *http.Request) {
	age := reconciliationAge
	if v := r.URL.Query().Get("older_than"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			httpapi.Error(w, http.StatusBadRequest, "older_than must be a duration", "INVALID_REQUEST")
			return
		}
		age = d
	}

	stuck, err := h.app.Store.ListProcessing(r.Context(), time.Now().Add(-age))
	if err != nil {
		h.logger.Error("failed to list processing installments", "error", err)
		httpapi.Error(w, http.StatusInternalServerError, "Failed to list installments", "LIST_FAILED")
		return
	}
	httpapi.JSON(w, http.StatusOK, map[string]interface{}{
		"installments": stuck,
		"total":        len(stuck),
	})
}
