// Package callbacks receives asynchronous telephony provider callbacks. Every
// callback URL carries a scoped capability token issued when the URL was built.
package callbacks

import (
	"context"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/tendant/callgate/internal/capability"
	"github.com/tendant/callgate/internal/domain"
	"github.com/tendant/callgate/internal/httputil"
	"github.com/tendant/callgate/internal/telephony"
)

// TokenVerifier verifies capability tokens.
type TokenVerifier interface {
	Verify(token, scope string) (*capability.Claims, error)
}

// VerificationCallbacks applies verification outcomes.
type VerificationCallbacks interface {
	HandleCallback(ctx context.Context, sessionID string, outcome domain.VerificationStatus, numberID uuid.UUID) (*domain.PhoneNumber, error)
}

// CallLookup finds call attempts by provider call id.
type CallLookup interface {
	GetByProviderCallID(ctx context.Context, providerCallID string) (*domain.CallAttempt, error)
}

// CallCompleter records the end of a call.
type CallCompleter interface {
	Complete(ctx context.Context, providerCallID string, status domain.CallStatus, durationSeconds int, endedAt time.Time) error
}

// Handler handles provider callbacks.
type Handler struct {
	logger       *slog.Logger
	tokens       TokenVerifier
	verification VerificationCallbacks
	calls        CallLookup
	tracker      CallCompleter
}

// NewHandler creates a new provider callback handler.
func NewHandler(logger *slog.Logger, tokens TokenVerifier, verification VerificationCallbacks, calls CallLookup, tracker CallCompleter) *Handler {
	return &Handler{
		logger:       logger.With("component", "provider_callbacks"),
		tokens:       tokens,
		verification: verification,
		calls:        calls,
		tracker:      tracker,
	}
}

// RegisterRoutes registers the callback routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post(capability.VerificationCallbackPath, h.Verification)
	r.Post(capability.CallStatusCallbackPath, h.CallStatus)
}

// VerificationPayload is the verification outcome posted by the provider.
type VerificationPayload struct {
	SessionID string `json:"session_id"`
	Outcome   string `json:"outcome"`
}

// Verification applies a verification outcome. Repeated callbacks are no-ops.
// POST /v1/telephony/verifications/callback?token=...
func (h *Handler) Verification(w http.ResponseWriter, r *http.Request) {
	claims, err := h.tokens.Verify(r.URL.Query().Get("token"), capability.ScopeVerificationCallback)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	numberID, err := uuid.Parse(claims.Subject)
	if err != nil {
		httputil.Error(w, http.StatusUnauthorized, "invalid token subject")
		return
	}

	var payload VerificationPayload
	if isJSON(r) {
		if err := httputil.DecodeJSON(r, &payload); err != nil {
			httputil.WriteError(w, err)
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			httputil.Error(w, http.StatusBadRequest, "invalid form body")
			return
		}
		payload.SessionID = r.PostForm.Get("session_id")
		payload.Outcome = r.PostForm.Get("outcome")
	}
	if payload.SessionID == "" {
		httputil.Error(w, http.StatusBadRequest, "session_id is required")
		return
	}

	n, err := h.verification.HandleCallback(r.Context(), payload.SessionID, telephony.ParseVerificationOutcome(payload.Outcome), numberID)
	if err != nil {
		h.logger.WarnContext(r.Context(), "verification callback rejected", "session_id", payload.SessionID, "error", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, map[string]string{"verification_status": string(n.VerificationStatus)})
}

// CallStatus closes out a call when the provider reports a terminal status.
// POST /v1/telephony/calls/status?token=...
func (h *Handler) CallStatus(w http.ResponseWriter, r *http.Request) {
	claims, err := h.tokens.Verify(r.URL.Query().Get("token"), capability.ScopeCallStatus)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := r.ParseForm(); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid form body")
		return
	}

	callID := r.PostForm.Get("CallSid")
	if callID == "" {
		httputil.Error(w, http.StatusBadRequest, "CallSid is required")
		return
	}
	status, terminal := telephony.ParseCallStatus(r.PostForm.Get("CallStatus"))
	if !terminal {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	duration, _ := strconv.Atoi(r.PostForm.Get("CallDuration"))

	attempt, err := h.calls.GetByProviderCallID(r.Context(), callID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if attempt.TenantID.String() != claims.TenantID {
		h.logger.WarnContext(r.Context(), "call status for another tenant", "provider_call_id", callID, "token_tenant_id", claims.TenantID)
		httputil.Error(w, http.StatusForbidden, "forbidden")
		return
	}

	if err := h.tracker.Complete(r.Context(), callID, status, duration, time.Now()); err != nil {
		h.logger.ErrorContext(r.Context(), "call completion failed", "provider_call_id", callID, "error", err)
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func isJSON(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "application/json"
}
