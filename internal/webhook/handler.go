package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/wpshiftstudio/payin3/internal/events"
	"github.com/wpshiftstudio/payin3/internal/httpapi"
	"github.com/wpshiftstudio/payin3/internal/logger"
	"github.com/wpshiftstudio/payin3/internal/metrics"
	"github.com/wpshiftstudio/payin3/internal/models"
)

const (
	Route             = "/pay-in-3/v1/webhook"
	SignatureHeader   = "X-PayIn3-Signature"
	IdempotencyHeader = "X-PayIn3-Idempotency"

	maxBodyBytes = 1 << 20
)

const (
	msgSignatureFailed = "Signature verification failed."
	msgDuplicate       = "Event already processed."
	msgReceived        = "Webhook received successfully."
)

// LogAppender persists the security trail
type LogAppender interface {
	AppendLog(ctx context.Context, entry models.LogEntry) error
}

// Handler serves the provider callback endpoint
type Handler struct {
	verifier *Verifier
	events   events.Publisher
	logs     LogAppender
	metrics  *metrics.Collector
	logger   *logger.Logger
}

func NewHandler(verifier *Verifier, publisher events.Publisher, logs LogAppender, m *metrics.Collector, log *logger.Logger) *Handler {
	if publisher == nil {
		publisher = events.Nop{}
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Handler{verifier: verifier, events: publisher, logs: logs, metrics: m, logger: log}
}

// RegisterRoutes mounts the webhook endpoint on r
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc(Route, h.ServeHTTP).Methods(http.MethodPost)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		httpapi.Error(w, http.StatusBadRequest, "failed to read request body", "INVALID_REQUEST")
		return
	}

	token := r.Header.Get(IdempotencyHeader)
	verdict, err := h.verifier.VerifyAndDedupe(r.Context(), body, r.Header.Get(SignatureHeader), token)
	if err != nil {
		h.logger.Error("webhook idempotency check failed", "error", err)
		httpapi.Error(w, http.StatusServiceUnavailable, "idempotency store unavailable", "STORE_UNAVAILABLE")
		return
	}
	h.metrics.RecordWebhook(string(verdict))

	switch verdict {
	case VerdictSignatureInvalid:
		h.trail(r.Context(), models.LogLevelError, "Webhook signature verification failed from "+r.RemoteAddr)
		httpapi.Error(w, http.StatusUnauthorized, msgSignatureFailed, "SIGNATURE_INVALID")
	case VerdictDuplicate:
		httpapi.Message(w, http.StatusOK, msgDuplicate)
	default:
		h.accept(r.Context(), body, SanitizeKey(token))
		httpapi.Message(w, http.StatusOK, msgReceived)
	}
}

// accept hands a verified event to the event stream
func (h *Handler) accept(ctx context.Context, body []byte, key string) {
	data := events.WebhookEventData{IdempotencyKey: key}

	var payload struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		data.Type = payload.Type
		if len(payload.Data) > 0 {
			data.Data = payload.Data
		}
	} else {
		data.Data = string(body)
	}

	h.logger.Info("Webhook received successfully.", "idempotency_key", key, "type", data.Type)
	if err := h.events.Publish(ctx, events.TypeWebhook, events.WebhookReceived, data); err != nil {
		h.logger.Warn("failed to publish webhook event", "error", err)
	}
}

func (h *Handler) trail(ctx context.Context, level, message string) {
	if h.logs == nil {
		return
	}
	if err := h.logs.AppendLog(ctx, models.LogEntry{
		Context: models.LogContextWebhook,
		Level:   level,
		Message: message,
	}); err != nil {
		h.logger.Warn("failed to persist webhook log", "error", err)
	}
}
