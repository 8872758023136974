// Package httpapi holds the JSON response helpers and middleware shared by the
// HTTP handlers.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/wpshiftstudio/payin3/internal/models"
)

// MessageResponse is the body of plain acknowledgement responses
type MessageResponse struct {
	Message string `json:"message"`
}

func JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func Error(w http.ResponseWriter, status int, message, code string) {
	JSON(w, status, models.ErrorResponse{
		Error: message,
		Code:  code,
	})
}

func Message(w http.ResponseWriter, status int, message string) {
	JSON(w, status, MessageResponse{Message: message})
}
