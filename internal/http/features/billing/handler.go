package billing

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/tendant/callgate/internal/domain"
	"github.com/tendant/callgate/internal/httputil"
)

// maxPayloadBytes matches the billing processor's documented event size limit.
const maxPayloadBytes = 65536

// WebhookProcessor verifies and applies billing webhook events.
type WebhookProcessor interface {
	Handle(ctx context.Context, payload []byte, signatureHeader string) error
}

// Handler receives billing processor webhooks.
type Handler struct {
	logger    *slog.Logger
	processor WebhookProcessor
}

// NewHandler creates a new billing webhook handler.
func NewHandler(logger *slog.Logger, processor WebhookProcessor) *Handler {
	return &Handler{logger: logger.With("component", "billing_webhook"), processor: processor}
}

// RegisterRoutes registers the webhook route.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/v1/billing/webhook", h.Webhook)
}

// Webhook verifies the signature and applies the event. A 5xx makes the
// processor redeliver, so it is returned only when new limits could not be stored.
// POST /v1/billing/webhook
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes+1))
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "failed to read body")
		return
	}
	if len(payload) > maxPayloadBytes {
		httputil.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	err = h.processor.Handle(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	switch {
	case err == nil:
		httputil.JSON(w, http.StatusOK, map[string]bool{"received": true})
	case errors.Is(err, domain.ErrInvalidSignature):
		h.logger.WarnContext(r.Context(), "billing webhook rejected", "error", err)
		httputil.Error(w, http.StatusBadRequest, "invalid signature")
	case errors.Is(err, domain.ErrInvalidInput):
		h.logger.WarnContext(r.Context(), "billing webhook malformed", "error", err)
		httputil.Error(w, http.StatusBadRequest, "malformed event")
	default:
		h.logger.ErrorContext(r.Context(), "billing webhook failed", "error", err)
		httputil.Error(w, http.StatusInternalServerError, "internal error")
	}
}
