// Package httputil holds JSON response helpers and the error-to-status mapping
// shared by all HTTP handlers.
package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/tendant/callgate/internal/domain"
)

// ErrorResponse is the body of every error response.
type ErrorResponse struct {
	Error   string         `json:"error"`
	Details map[string]any `json:"details,omitempty"`
}

// JSON writes v as a JSON response with the given status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

// Error writes an error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, ErrorResponse{Error: message})
}

// ErrorWithDetails writes an error response with machine-readable details.
func ErrorWithDetails(w http.ResponseWriter, status int, message string, details map[string]any) {
	JSON(w, status, ErrorResponse{Error: message, Details: details})
}

// StatusFor maps a domain error to an HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrBodyTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrPhoneNumberExists):
		return http.StatusConflict
	case errors.Is(err, domain.ErrPreconditionFailed):
		return http.StatusConflict
	case errors.Is(err, domain.ErrAdmissionDenied):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrNoNumbersAvailable):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrPurchaseFailed):
		return http.StatusBadGateway
	}
	var pe *domain.ProviderError
	if errors.As(err, &pe) {
		if pe.Retryable {
			return http.StatusServiceUnavailable
		}
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// WriteError writes err using StatusFor. Internal errors are reported with a
// generic message so no internal detail reaches the client.
func WriteError(w http.ResponseWriter, err error) {
	status := StatusFor(err)

	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		details := make(map[string]any, len(ve.Fields))
		for field, msg := range ve.Fields {
			details[field] = msg
		}
		ErrorWithDetails(w, status, "validation failed", details)
		return
	}

	var denied *domain.AdmissionDeniedError
	if errors.As(err, &denied) {
		ErrorWithDetails(w, status, "call not admitted", map[string]any{"reason": denied.Reason})
		return
	}

	switch status {
	case http.StatusInternalServerError:
		Error(w, status, "internal error")
	case http.StatusBadGateway, http.StatusServiceUnavailable:
		Error(w, status, "telephony provider unavailable")
	default:
		Error(w, status, err.Error())
	}
}
