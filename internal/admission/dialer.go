package admission

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/callgate/internal/domain"
	"github.com/tendant/callgate/internal/events"
	"github.com/tendant/callgate/internal/metrics"
	"github.com/tendant/callgate/internal/telephony"
)

// CredentialResolver returns the tenant's telephony credentials.
type CredentialResolver interface {
	Resolve(ctx context.Context, tenantID uuid.UUID) (telephony.Credentials, error)
}

// CallRecorder persists call attempts.
type CallRecorder interface {
	Create(ctx context.Context, c *domain.CallAttempt) error
}

// StatusURLBuilder builds the call status callback URL for a tenant.
type StatusURLBuilder interface {
	CallStatus(tenantID string) (string, error)
}

// CallRequest is an outbound call to place through admission.
type CallRequest struct {
	TenantID     uuid.UUID
	FromNumberID uuid.UUID
	ToNumber     string
	Source       domain.CallSource
	AgentID      *uuid.UUID
	LeadID       *uuid.UUID
}

// Dialer admits and places outbound calls.
type Dialer struct {
	logger       *slog.Logger
	gate         *Gate
	provider     telephony.Provider
	creds        CredentialResolver
	calls        CallRecorder
	statusURLs   StatusURLBuilder
	voiceRuntime string
	publisher    events.Publisher
}

// NewDialer creates a new dialer. voiceRuntimeURL is where the provider fetches
// call instructions once the callee answers.
func NewDialer(logger *slog.Logger, gate *Gate, provider telephony.Provider, creds CredentialResolver, calls CallRecorder, statusURLs StatusURLBuilder, voiceRuntimeURL string, publisher events.Publisher) *Dialer {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Dialer{
		logger:       logger.With("component", "dialer"),
		gate:         gate,
		provider:     provider,
		creds:        creds,
		calls:        calls,
		statusURLs:   statusURLs,
		voiceRuntime: strings.TrimRight(voiceRuntimeURL, "/"),
		publisher:    publisher,
	}
}

// PlaceCall runs admission and, if allowed, places the call and records the attempt.
// A denial is returned as *domain.AdmissionDeniedError and no provider call is made.
func (d *Dialer) PlaceCall(ctx context.Context, req CallRequest) (*domain.CallAttempt, error) {
	decision, from, err := d.gate.evaluate(ctx, req.TenantID, req.FromNumberID, req.ToNumber)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		metrics.AdmissionDecisions.WithLabelValues(string(req.Source), string(decision.Reason)).Inc()
		d.logger.InfoContext(ctx, "call denied", "tenant_id", req.TenantID, "source", req.Source, "reason", decision.Reason)
		return nil, &domain.AdmissionDeniedError{Reason: decision.Reason}
	}
	metrics.AdmissionDecisions.WithLabelValues(string(req.Source), "allowed").Inc()

	creds, err := d.creds.Resolve(ctx, req.TenantID)
	if err != nil {
		return nil, err
	}
	statusURL, err := d.statusURLs.CallStatus(req.TenantID.String())
	if err != nil {
		return nil, err
	}

	providerCallID, err := d.provider.PlaceCall(ctx, creds, telephony.CallRequest{
		From:              from.Number,
		To:                req.ToNumber,
		AnswerURL:         d.answerURL(req),
		StatusCallbackURL: statusURL,
	})
	if err != nil {
		d.logger.WarnContext(ctx, "call placement failed", "tenant_id", req.TenantID, "error", err)
		return nil, err
	}

	attempt := &domain.CallAttempt{
		ID:             uuid.New(),
		TenantID:       req.TenantID,
		PhoneNumberID:  from.ID,
		FromNumber:     from.Number,
		ToNumber:       req.ToNumber,
		Source:         req.Source,
		LeadID:         req.LeadID,
		ProviderCallID: providerCallID,
		Status:         domain.CallStatusInitiated,
		StartedAt:      time.Now(),
	}
	if err := d.calls.Create(ctx, attempt); err != nil {
		d.logger.ErrorContext(ctx, "placed call not recorded", "tenant_id", req.TenantID, "provider_call_id", providerCallID, "error", err)
		return nil, err
	}

	d.logger.InfoContext(ctx, "call placed", "tenant_id", req.TenantID, "call_attempt_id", attempt.ID, "provider_call_id", providerCallID, "source", req.Source)

	started := events.CallStarted{
		TenantID:       req.TenantID.String(),
		CallAttemptID:  attempt.ID.String(),
		ProviderCallID: providerCallID,
		From:           attempt.FromNumber,
		To:             attempt.ToNumber,
		Source:         attempt.Source,
		StartedAt:      attempt.StartedAt,
	}
	if req.LeadID != nil {
		started.LeadID = req.LeadID.String()
	}
	d.publisher.Publish(ctx, events.SubjectCallStarted, started)
	return attempt, nil
}

func (d *Dialer) answerURL(req CallRequest) string {
	q := url.Values{"tenant_id": {req.TenantID.String()}}
	if req.AgentID != nil {
		q.Set("agent_id", req.AgentID.String())
	}
	if req.LeadID != nil {
		q.Set("lead_id", req.LeadID.String())
	}
	return d.voiceRuntime + "/voice/outbound?" + q.Encode()
}
