// Package widget serves the public submission endpoint used by embedded lead
// forms and the dashboard endpoint that mints their tokens.
package widget

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/tendant/callgate/internal/domain"
	"github.com/tendant/callgate/internal/http/middleware"
	"github.com/tendant/callgate/internal/httputil"
	widgetsvc "github.com/tendant/callgate/internal/widget"
)

const preflightMaxAge = 10 * time.Minute

// Service is the widget ingress service.
type Service interface {
	IssueToken(ctx context.Context, tenantID, formID uuid.UUID) (string, time.Time, error)
	Authenticate(ctx context.Context, formID uuid.UUID, token string) (*domain.WidgetForm, error)
	AuthorizeOrigin(ctx context.Context, form *domain.WidgetForm, origin string) (string, error)
	Preflight(ctx context.Context, formID uuid.UUID, origin string) (string, error)
	Submit(ctx context.Context, form *domain.WidgetForm, sub widgetsvc.Submission) (*domain.Lead, error)
}

// Handler handles widget endpoints.
type Handler struct {
	logger  *slog.Logger
	service Service
}

// NewHandler creates a new widget handler.
func NewHandler(logger *slog.Logger, service Service) *Handler {
	return &Handler{
		logger:  logger.With("component", "widget_handler"),
		service: service,
	}
}

// RegisterRoutes registers the public submission routes. The form id may come
// from the path or from the formId query parameter.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Options("/v1/widget/forms/{formId}/submit", h.Preflight)
	r.Post("/v1/widget/forms/{formId}/submit", h.Submit)
	r.Options("/v1/widget/submit", h.Preflight)
	r.Post("/v1/widget/submit", h.Submit)
}

// RegisterDashboardRoutes registers routes that require a dashboard session.
func (h *Handler) RegisterDashboardRoutes(r chi.Router) {
	r.Post("/v1/widget/forms/{formId}/token", h.IssueToken)
}

// TokenResponse is a freshly minted widget token.
type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SubmitResponse acknowledges an accepted submission.
type SubmitResponse struct {
	Success bool      `json:"success"`
	LeadID  uuid.UUID `json:"lead_id"`
}

func formID(r *http.Request) (uuid.UUID, bool) {
	raw := chi.URLParam(r, "formId")
	if raw == "" {
		raw = r.URL.Query().Get("formId")
	}
	id, err := uuid.Parse(raw)
	return id, err == nil
}

func allowOrigin(w http.ResponseWriter, origin string) {
	w.Header().Set("Access-Control-Allow-Origin", origin)
	w.Header().Add("Vary", "Origin")
}

// Preflight answers CORS pre-flight requests. Allow headers are only sent for
// origins on the form's allow-list.
// OPTIONS /v1/widget/forms/{formId}/submit
func (h *Handler) Preflight(w http.ResponseWriter, r *http.Request) {
	id, ok := formID(r)
	if !ok {
		httputil.Error(w, http.StatusBadRequest, "invalid form id")
		return
	}
	origin, err := h.service.Preflight(r.Context(), id, r.Header.Get("Origin"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			err = domain.ErrOriginNotAllowed
		}
		httputil.WriteError(w, err)
		return
	}

	allowOrigin(w, origin)
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
	w.Header().Set("Access-Control-Max-Age", strconv.Itoa(int(preflightMaxAge.Seconds())))
	w.WriteHeader(http.StatusNoContent)
}

// Submit captures a lead and places the callback call.
// POST /v1/widget/forms/{formId}/submit
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	id, ok := formID(r)
	if !ok {
		httputil.Error(w, http.StatusBadRequest, "invalid form id")
		return
	}
	token, _ := httputil.BearerToken(r)
	form, err := h.service.Authenticate(r.Context(), id, token)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			err = domain.ErrInvalidToken
		}
		httputil.WriteError(w, err)
		return
	}
	origin, err := h.service.AuthorizeOrigin(r.Context(), form, r.Header.Get("Origin"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	allowOrigin(w, origin)

	var sub widgetsvc.Submission
	if err := httputil.DecodeJSON(r, &sub); err != nil {
		httputil.WriteError(w, err)
		return
	}

	lead, err := h.service.Submit(r.Context(), form, sub)
	switch {
	case errors.Is(err, domain.ErrAgentHasNoNumber), errors.Is(err, domain.ErrAgentNumberNotVerified):
		httputil.Error(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		if httputil.StatusFor(err) >= http.StatusInternalServerError {
			h.logger.ErrorContext(r.Context(), "widget submission failed", "form_id", form.ID, "error", err)
		}
		httputil.WriteError(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, SubmitResponse{Success: true, LeadID: lead.ID})
}

// IssueToken mints a submission token for one of the caller's forms.
// POST /v1/widget/forms/{formId}/token
func (h *Handler) IssueToken(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := middleware.GetTenantID(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}
	id, ok := formID(r)
	if !ok {
		httputil.Error(w, http.StatusBadRequest, "invalid form id")
		return
	}
	token, expiresAt, err := h.service.IssueToken(r.Context(), tenantID, id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.JSON(w, http.StatusCreated, TokenResponse{Token: token, ExpiresAt: expiresAt})
}
