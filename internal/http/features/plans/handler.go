package plans

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/tendant/callgate/internal/domain"
	"github.com/tendant/callgate/internal/http/middleware"
	"github.com/tendant/callgate/internal/httputil"
)

// PlanReader returns a tenant's current plan.
type PlanReader interface {
	GetPlan(ctx context.Context, tenantID uuid.UUID) (domain.Plan, error)
}

// Handler handles plan endpoints.
type Handler struct {
	logger *slog.Logger
	plans  PlanReader
}

// NewHandler creates a new plan handler.
func NewHandler(logger *slog.Logger, plans PlanReader) *Handler {
	return &Handler{logger: logger.With("component", "plans_handler"), plans: plans}
}

// PlanResponse is the tenant's plan with derived remaining minutes.
type PlanResponse struct {
	domain.Plan
	RemainingMinutes int  `json:"remaining_minutes"`
	PoolExhausted    bool `json:"pool_exhausted"`
}

// RegisterRoutes registers plan routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/v1/plan", h.Get)
}

// Get returns the tenant's plan.
// GET /v1/plan
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := middleware.GetTenantID(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	p, err := h.plans.GetPlan(r.Context(), tenantID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "plan lookup failed", "tenant_id", tenantID, "error", err)
		httputil.WriteError(w, err)
		return
	}

	remaining := p.PoolMinutes - p.PeriodUsage
	if remaining < 0 {
		remaining = 0
	}
	httputil.JSON(w, http.StatusOK, PlanResponse{Plan: p, RemainingMinutes: remaining, PoolExhausted: p.PoolExhausted()})
}
