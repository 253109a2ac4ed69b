// Package widget accepts lead submissions from embedded website forms and calls
// the lead back through admission.
package widget

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/callgate/internal/admission"
	"github.com/tendant/callgate/internal/capability"
	"github.com/tendant/callgate/internal/domain"
	"github.com/tendant/callgate/internal/metrics"
	"github.com/tendant/callgate/internal/validation"
)

// DefaultTokenTTL is the lifetime of an issued widget token.
const DefaultTokenTTL = 30 * 24 * time.Hour

// FormReader loads widget forms.
type FormReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.WidgetForm, error)
}

// AgentReader loads agents.
type AgentReader interface {
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*domain.Agent, error)
}

// NumberReader loads phone numbers.
type NumberReader interface {
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*domain.PhoneNumber, error)
}

// LeadWriter persists leads.
type LeadWriter interface {
	Create(ctx context.Context, l *domain.Lead) error
}

// CallPlacer admits and places an outbound call.
type CallPlacer interface {
	PlaceCall(ctx context.Context, req admission.CallRequest) (*domain.CallAttempt, error)
}

// Submission is the payload posted by an embedded form.
type Submission struct {
	Name  string `json:"name" validate:"required,max=200"`
	Phone string `json:"phone" validate:"required,e164"`
	Email string `json:"email,omitempty" validate:"omitempty,email,max=320"`
	Notes string `json:"notes,omitempty" validate:"omitempty,max=2000"`
}

// Service runs widget ingress: authenticate, authorize origin, validate,
// persist the lead and call it back.
type Service struct {
	logger    *slog.Logger
	forms     FormReader
	agents    AgentReader
	numbers   NumberReader
	leads     LeadWriter
	dialer    CallPlacer
	tokens    *capability.Issuer
	validator *validation.Validator
	tokenTTL  time.Duration
}

// NewService creates a new widget service.
func NewService(logger *slog.Logger, forms FormReader, agents AgentReader, numbers NumberReader, leads LeadWriter, dialer CallPlacer, tokens *capability.Issuer, tokenTTL time.Duration) *Service {
	if tokenTTL <= 0 {
		tokenTTL = DefaultTokenTTL
	}
	return &Service{
		logger:    logger.With("component", "widget"),
		forms:     forms,
		agents:    agents,
		numbers:   numbers,
		leads:     leads,
		dialer:    dialer,
		tokens:    tokens,
		validator: validation.New(),
		tokenTTL:  tokenTTL,
	}
}

// IssueToken signs a submission token for one of the tenant's forms.
func (s *Service) IssueToken(ctx context.Context, tenantID, formID uuid.UUID) (string, time.Time, error) {
	form, err := s.forms.GetByID(ctx, formID)
	if err != nil {
		return "", time.Time{}, err
	}
	if form.TenantID != tenantID {
		return "", time.Time{}, domain.ErrFormNotFound
	}
	expiresAt := time.Now().Add(s.tokenTTL)
	token, err := s.tokens.Issue(capability.ScopeWidgetSubmit, form.ID.String(), form.TenantID.String(), s.tokenTTL)
	if err != nil {
		return "", time.Time{}, err
	}
	s.logger.InfoContext(ctx, "widget token issued", "tenant_id", tenantID, "form_id", formID)
	return token, expiresAt, nil
}

// Authenticate verifies that token grants submission to formID and returns the form.
func (s *Service) Authenticate(ctx context.Context, formID uuid.UUID, token string) (*domain.WidgetForm, error) {
	if token == "" {
		return nil, domain.ErrUnauthorized
	}
	claims, err := s.tokens.Verify(token, capability.ScopeWidgetSubmit)
	if err != nil {
		if errors.Is(err, domain.ErrForbidden) {
			return nil, domain.ErrInvalidToken
		}
		return nil, err
	}
	if claims.Subject != formID.String() {
		return nil, domain.ErrInvalidToken
	}

	form, err := s.forms.GetByID(ctx, formID)
	if err != nil {
		return nil, err
	}
	if form.TenantID.String() != claims.TenantID {
		return nil, domain.ErrInvalidToken
	}
	return form, nil
}

// AuthorizeOrigin checks origin against the form's allow-list and returns the
// origin to echo in the CORS response.
func (s *Service) AuthorizeOrigin(ctx context.Context, form *domain.WidgetForm, origin string) (string, error) {
	host, ok := OriginHost(origin)
	if !ok || !MatchOrigin(host, form.AllowedDomains) {
		s.logger.WarnContext(ctx, "widget origin rejected", "form_id", form.ID, "origin", origin)
		return "", domain.ErrOriginNotAllowed
	}
	return origin, nil
}

// Preflight authorizes a CORS pre-flight request for formID.
func (s *Service) Preflight(ctx context.Context, formID uuid.UUID, origin string) (string, error) {
	form, err := s.forms.GetByID(ctx, formID)
	if err != nil {
		return "", err
	}
	return s.AuthorizeOrigin(ctx, form, origin)
}

// Submit validates the payload, stores the lead and places the callback call.
// The lead is kept even when the call is denied.
func (s *Service) Submit(ctx context.Context, form *domain.WidgetForm, sub Submission) (*domain.Lead, error) {
	sub.Name = strings.TrimSpace(sub.Name)
	sub.Phone = strings.TrimSpace(sub.Phone)
	sub.Email = strings.TrimSpace(sub.Email)
	if err := s.validator.Struct(ctx, sub); err != nil {
		metrics.WidgetSubmissions.WithLabelValues("invalid").Inc()
		return nil, err
	}

	formID := form.ID
	lead := &domain.Lead{
		ID:        uuid.New(),
		TenantID:  form.TenantID,
		FormID:    &formID,
		Name:      sub.Name,
		Phone:     sub.Phone,
		Email:     optional(sub.Email),
		Notes:     optional(sub.Notes),
		Source:    domain.LeadSourceWidget,
		CreatedAt: time.Now(),
	}
	if err := s.leads.Create(ctx, lead); err != nil {
		metrics.WidgetSubmissions.WithLabelValues("error").Inc()
		return nil, err
	}
	s.logger.InfoContext(ctx, "lead captured", "tenant_id", form.TenantID, "form_id", form.ID, "lead_id", lead.ID)

	from, err := s.agentNumber(ctx, form)
	if err != nil {
		metrics.WidgetSubmissions.WithLabelValues("misconfigured").Inc()
		s.logger.WarnContext(ctx, "widget agent cannot place calls", "tenant_id", form.TenantID, "form_id", form.ID, "agent_id", form.AgentID, "error", err)
		return lead, err
	}

	agentID := form.AgentID
	_, err = s.dialer.PlaceCall(ctx, admission.CallRequest{
		TenantID:     form.TenantID,
		FromNumberID: from.ID,
		ToNumber:     lead.Phone,
		Source:       domain.CallSourceWidget,
		AgentID:      &agentID,
		LeadID:       &lead.ID,
	})
	if err != nil {
		outcome := "error"
		if errors.Is(err, domain.ErrAdmissionDenied) {
			outcome = "denied"
		}
		metrics.WidgetSubmissions.WithLabelValues(outcome).Inc()
		return lead, err
	}

	metrics.WidgetSubmissions.WithLabelValues("accepted").Inc()
	return lead, nil
}

func (s *Service) agentNumber(ctx context.Context, form *domain.WidgetForm) (*domain.PhoneNumber, error) {
	agent, err := s.agents.GetByID(ctx, form.TenantID, form.AgentID)
	if err != nil {
		return nil, err
	}
	if agent.PhoneNumberID == nil {
		return nil, domain.ErrAgentHasNoNumber
	}
	number, err := s.numbers.GetByID(ctx, form.TenantID, *agent.PhoneNumberID)
	if errors.Is(err, domain.ErrPhoneNumberNotFound) {
		return nil, domain.ErrAgentHasNoNumber
	}
	if err != nil {
		return nil, err
	}
	if !number.UsableForOutbound() {
		return nil, domain.ErrAgentNumberNotVerified
	}
	return number, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
