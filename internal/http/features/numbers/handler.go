package numbers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/tendant/callgate/internal/domain"
	"github.com/tendant/callgate/internal/http/middleware"
	"github.com/tendant/callgate/internal/httputil"
	"github.com/tendant/callgate/internal/telephony"
	"github.com/tendant/callgate/internal/validation"
)

// NumberService provisions and lists phone numbers.
type NumberService interface {
	List(ctx context.Context, tenantID uuid.UUID) ([]*domain.PhoneNumber, error)
	PurchaseNumber(ctx context.Context, tenantID uuid.UUID, creds telephony.Credentials, areaCode string) (*domain.PhoneNumber, error)
	RegisterForVerification(ctx context.Context, tenantID uuid.UUID, number, label string) (*domain.PhoneNumber, error)
	SetDefault(ctx context.Context, tenantID, id uuid.UUID) (*domain.PhoneNumber, error)
}

// VerificationService drives caller id verification.
type VerificationService interface {
	Retry(ctx context.Context, tenantID, id uuid.UUID) (*domain.PhoneNumber, error)
	Poll(ctx context.Context, tenantID, id uuid.UUID) (*domain.PhoneNumber, error)
	Delete(ctx context.Context, tenantID, id uuid.UUID) error
}

// CredentialResolver returns the tenant's telephony credentials.
type CredentialResolver interface {
	Resolve(ctx context.Context, tenantID uuid.UUID) (telephony.Credentials, error)
}

// Handler handles dashboard phone number endpoints.
type Handler struct {
	logger       *slog.Logger
	numbers      NumberService
	verification VerificationService
	creds        CredentialResolver
	validator    *validation.Validator
}

// NewHandler creates a new numbers handler.
func NewHandler(logger *slog.Logger, numbers NumberService, verification VerificationService, creds CredentialResolver) *Handler {
	return &Handler{
		logger:       logger.With("component", "numbers_handler"),
		numbers:      numbers,
		verification: verification,
		creds:        creds,
		validator:    validation.New(),
	}
}

// PurchaseRequest asks for a provider number, optionally near an area code.
type PurchaseRequest struct {
	AreaCode string `json:"area_code,omitempty" validate:"omitempty,len=3,numeric"`
}

// VerifyRequest registers a tenant-owned number for verification.
type VerifyRequest struct {
	Number string `json:"number" validate:"required,e164"`
	Label  string `json:"label,omitempty" validate:"max=100"`
}

// NumberResponse is a phone number as seen by the dashboard. The validation
// code is never included.
type NumberResponse struct {
	ID                 uuid.UUID `json:"id"`
	Number             string    `json:"number"`
	Label              string    `json:"label"`
	Type               string    `json:"type"`
	VerificationStatus string    `json:"verification_status"`
	IsDefault          bool      `json:"is_default"`
	CreatedAt          time.Time `json:"created_at"`
}

func toResponse(n *domain.PhoneNumber) NumberResponse {
	return NumberResponse{
		ID:                 n.ID,
		Number:             n.Number,
		Label:              n.Label,
		Type:               string(n.Type),
		VerificationStatus: string(n.VerificationStatus),
		IsDefault:          n.IsDefault,
		CreatedAt:          n.CreatedAt,
	}
}

// List returns the tenant's numbers.
// GET /v1/numbers
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := middleware.GetTenantID(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	numbers, err := h.numbers.List(r.Context(), tenantID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out := make([]NumberResponse, 0, len(numbers))
	for _, n := range numbers {
		out = append(out, toResponse(n))
	}
	httputil.JSON(w, http.StatusOK, map[string]any{"numbers": out})
}

// Purchase buys a provider number under the tenant's sub-identity.
// POST /v1/numbers/purchase
func (h *Handler) Purchase(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := middleware.GetTenantID(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req PurchaseRequest
	if r.ContentLength != 0 {
		if err := httputil.DecodeJSON(r, &req); err != nil {
			httputil.WriteError(w, err)
			return
		}
	}
	if err := h.validator.Struct(r.Context(), req); err != nil {
		httputil.WriteError(w, err)
		return
	}

	creds, err := h.creds.Resolve(r.Context(), tenantID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	n, err := h.numbers.PurchaseNumber(r.Context(), tenantID, creds, req.AreaCode)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusCreated, toResponse(n))
}

// Verify registers a number and places the verification call.
// POST /v1/numbers/verify
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := middleware.GetTenantID(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req VerifyRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.validator.Struct(r.Context(), req); err != nil {
		httputil.WriteError(w, err)
		return
	}

	n, err := h.numbers.RegisterForVerification(r.Context(), tenantID, req.Number, req.Label)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusAccepted, toResponse(n))
}

// Retry restarts a failed verification.
// POST /v1/numbers/{id}/retry
func (h *Handler) Retry(w http.ResponseWriter, r *http.Request) {
	h.withNumber(w, r, func(tenantID, id uuid.UUID) {
		n, err := h.verification.Retry(r.Context(), tenantID, id)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		httputil.JSON(w, http.StatusAccepted, toResponse(n))
	})
}

// Status reports verification progress. Clients poll it every few seconds
// while the status is pending.
// GET /v1/numbers/{id}/verification
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	h.withNumber(w, r, func(tenantID, id uuid.UUID) {
		n, err := h.verification.Poll(r.Context(), tenantID, id)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		httputil.JSON(w, http.StatusOK, toResponse(n))
	})
}

// Delete removes a verified caller id.
// DELETE /v1/numbers/{id}
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	h.withNumber(w, r, func(tenantID, id uuid.UUID) {
		if err := h.verification.Delete(r.Context(), tenantID, id); err != nil {
			h.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

// SetDefault makes the number the tenant's default outbound number.
// PUT /v1/numbers/{id}/default
func (h *Handler) SetDefault(w http.ResponseWriter, r *http.Request) {
	h.withNumber(w, r, func(tenantID, id uuid.UUID) {
		n, err := h.numbers.SetDefault(r.Context(), tenantID, id)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		httputil.JSON(w, http.StatusOK, toResponse(n))
	})
}

func (h *Handler) withNumber(w http.ResponseWriter, r *http.Request, fn func(tenantID, id uuid.UUID)) {
	tenantID, ok := middleware.GetTenantID(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid number id")
		return
	}
	fn(tenantID, id)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if httputil.StatusFor(err) >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "number request failed", "path", r.URL.Path, "error", err)
	}
	httputil.WriteError(w, err)
}
