package checkout

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/wpshiftstudio/payin3/internal/httpapi"
)

// Handler exposes checkout to the storefront
type Handler struct {
	service *Service
}

func NewHandler(s *Service) *Handler {
	return &Handler{service: s}
}

// RegisterRoutes mounts the checkout endpoints on r
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/pay-in-3/v1/checkout/availability", h.Availability).Methods(http.MethodGet)
	r.HandleFunc("/pay-in-3/v1/checkout/{order_id}", h.ProcessPayment).Methods(http.MethodPost)
}

// ProcessPayment handles POST /pay-in-3/v1/checkout/{order_id}
func (h *Handler) ProcessPayment(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["order_id"]
	if orderID == "" {
		httpapi.Error(w, http.StatusBadRequest, "order_id is required", "INVALID_REQUEST")
		return
	}

	result := h.service.ProcessPayment(r.Context(), orderID)
	status := http.StatusOK
	if result.Result != ResultSuccess {
		status = http.StatusPaymentRequired
	}
	httpapi.JSON(w, status, result)
}

// Availability handles GET /pay-in-3/v1/checkout/availability?total=
func (h *Handler) Availability(w http.ResponseWriter, r *http.Request) {
	total, err := decimal.NewFromString(r.URL.Query().Get("total"))
	if err != nil {
		httpapi.Error(w, http.StatusBadRequest, "total must be a decimal amount", "INVALID_REQUEST")
		return
	}
	httpapi.JSON(w, http.StatusOK, map[string]interface{}{
		"available": h.service.IsAvailable(total),
		"total":     total.StringFixed(2),
	})
}
