package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/fjod/amazon-clone-api/internal/domain"
)

type envelope struct {
	Success bool        `json:"success"`
	Count   *int        `json:"count,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func respondData(w http.ResponseWriter, data interface{}) {
	respondJSON(w, http.StatusOK, envelope{Success: true, Data: data})
}

func respondList(w http.ResponseWriter, count int, data interface{}) {
	respondJSON(w, http.StatusOK, envelope{Success: true, Count: &count, Data: data})
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, envelope{Success: false, Message: message})
}

const msgInvalidCartRequest = "Please provide valid product ID and quantity"

// handleServiceError converts domain errors to HTTP status codes
func handleServiceError(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	var (
		status  int
		message string
	)

	switch {
	case errors.Is(err, domain.ErrStorage):
		// A rejected write at the store is still a server fault, whatever it wraps.
		status, message = http.StatusInternalServerError, "Server error"
		log.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	case errors.Is(err, domain.ErrInvalidArgument):
		status, message = http.StatusBadRequest, msgInvalidCartRequest
	case errors.Is(err, domain.ErrInsufficientStock):
		status, message = http.StatusBadRequest, "Not enough stock available"
	case errors.Is(err, domain.ErrProductNotFound):
		status, message = http.StatusNotFound, "Product not found"
	case errors.Is(err, domain.ErrCartNotFound):
		status, message = http.StatusNotFound, "Cart not found"
	case errors.Is(err, domain.ErrItemNotFound):
		status, message = http.StatusNotFound, "Item not found in cart"
	case errors.Is(err, domain.ErrNotFound):
		status, message = http.StatusNotFound, "Not found"
	default:
		status, message = http.StatusInternalServerError, "Server error"
		log.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	}

	respondError(w, status, message)
}
