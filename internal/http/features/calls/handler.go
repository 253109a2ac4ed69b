package calls

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/tendant/callgate/internal/admission"
	"github.com/tendant/callgate/internal/domain"
	"github.com/tendant/callgate/internal/http/middleware"
	"github.com/tendant/callgate/internal/httputil"
	"github.com/tendant/callgate/internal/validation"
)

// CallPlacer admits and places outbound calls.
type CallPlacer interface {
	PlaceCall(ctx context.Context, req admission.CallRequest) (*domain.CallAttempt, error)
}

// Handler handles dashboard call endpoints.
type Handler struct {
	logger    *slog.Logger
	dialer    CallPlacer
	validator *validation.Validator
}

// NewHandler creates a new calls handler.
func NewHandler(logger *slog.Logger, dialer CallPlacer) *Handler {
	return &Handler{
		logger:    logger.With("component", "calls_handler"),
		dialer:    dialer,
		validator: validation.New(),
	}
}

// PlaceCallRequest is a manual outbound call from the dashboard.
type PlaceCallRequest struct {
	FromNumberID string `json:"from_number_id" validate:"required,uuid"`
	ToNumber     string `json:"to_number" validate:"required,e164"`
	AgentID      string `json:"agent_id,omitempty" validate:"omitempty,uuid"`
}

// CallResponse is a placed call attempt.
type CallResponse struct {
	ID             uuid.UUID `json:"id"`
	ProviderCallID string    `json:"provider_call_id"`
	From           string    `json:"from"`
	To             string    `json:"to"`
	Status         string    `json:"status"`
	StartedAt      time.Time `json:"started_at"`
}

// RegisterRoutes registers dashboard call routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/v1/calls", h.PlaceCall)
}

// PlaceCall runs admission and places the call.
// POST /v1/calls
func (h *Handler) PlaceCall(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := middleware.GetTenantID(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req PlaceCallRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.validator.Struct(r.Context(), req); err != nil {
		httputil.WriteError(w, err)
		return
	}

	callReq := admission.CallRequest{
		TenantID:     tenantID,
		FromNumberID: uuid.MustParse(req.FromNumberID),
		ToNumber:     req.ToNumber,
		Source:       domain.CallSourceDashboard,
	}
	if req.AgentID != "" {
		agentID := uuid.MustParse(req.AgentID)
		callReq.AgentID = &agentID
	}

	attempt, err := h.dialer.PlaceCall(r.Context(), callReq)
	if err != nil {
		if httputil.StatusFor(err) >= http.StatusInternalServerError {
			h.logger.ErrorContext(r.Context(), "call placement failed", "tenant_id", tenantID, "error", err)
		}
		httputil.WriteError(w, err)
		return
	}

	httputil.JSON(w, http.StatusCreated, CallResponse{
		ID:             attempt.ID,
		ProviderCallID: attempt.ProviderCallID,
		From:           attempt.FromNumber,
		To:             attempt.ToNumber,
		Status:         string(attempt.Status),
		StartedAt:      attempt.StartedAt,
	})
}
