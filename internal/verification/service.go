// Package verification drives caller ID ownership verification:
// pending → success | failed, with failed → pending on retry.
//
// Terminal transitions are compare-and-set keyed by the provider session id, so the
// provider callback and client-driven polling may race on the same record safely.
package verification

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/tendant/callgate/internal/domain"
	"github.com/tendant/callgate/internal/events"
	"github.com/tendant/callgate/internal/metrics"
	"github.com/tendant/callgate/internal/telephony"
)

// Transition sources.
const (
	ViaCallback = "callback"
	ViaPoll     = "poll"
)

// NumberStore is the phone number persistence used by verification.
type NumberStore interface {
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*domain.PhoneNumber, error)
	GetByNumber(ctx context.Context, tenantID uuid.UUID, number string) (*domain.PhoneNumber, error)
	GetBySessionID(ctx context.Context, sessionID string) (*domain.PhoneNumber, error)
	BeginVerification(ctx context.Context, id uuid.UUID, fromStatus domain.VerificationStatus, sessionID, code string) (bool, error)
	CompleteVerification(ctx context.Context, sessionID string, status domain.VerificationStatus) (bool, error)
	MarkFailed(ctx context.Context, id uuid.UUID) (bool, error)
	Delete(ctx context.Context, tenantID, id uuid.UUID) error
}

// CredentialResolver returns the tenant's telephony credentials.
type CredentialResolver interface {
	Resolve(ctx context.Context, tenantID uuid.UUID) (telephony.Credentials, error)
}

// CallbackURLBuilder builds the provider outcome callback URL for a number.
type CallbackURLBuilder interface {
	Verification(tenantID, phoneNumberID string) (string, error)
}

// Service is the verification state machine.
type Service struct {
	logger    *slog.Logger
	numbers   NumberStore
	provider  telephony.Provider
	creds     CredentialResolver
	codes     CodeGenerator
	callbacks CallbackURLBuilder
	publisher events.Publisher
}

// NewService creates a new verification service.
func NewService(logger *slog.Logger, numbers NumberStore, provider telephony.Provider, creds CredentialResolver, codes CodeGenerator, callbacks CallbackURLBuilder, publisher events.Publisher) *Service {
	if codes == nil {
		codes = HOTPCodes{}
	}
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Service{
		logger:    logger.With("component", "verification"),
		numbers:   numbers,
		provider:  provider,
		creds:     creds,
		codes:     codes,
		callbacks: callbacks,
		publisher: publisher,
	}
}

// Start issues the verification call for a registered, still pending number.
func (s *Service) Start(ctx context.Context, tenantID uuid.UUID, number, label string) (*domain.PhoneNumber, error) {
	n, err := s.numbers.GetByNumber(ctx, tenantID, number)
	if err != nil {
		return nil, err
	}
	if n.Type != domain.NumberTypeVerifiedCallerID {
		return nil, domain.ErrNotVerifiedCallerID
	}
	if n.VerificationStatus != domain.VerificationPending || n.VerificationSessionID != nil {
		return nil, domain.ErrVerificationConflict
	}
	if label != "" {
		n.Label = label
	}
	return s.challenge(ctx, n, domain.VerificationPending)
}

// Retry starts a new session for a failed verification.
func (s *Service) Retry(ctx context.Context, tenantID, id uuid.UUID) (*domain.PhoneNumber, error) {
	n, err := s.numbers.GetByID(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if n.Type != domain.NumberTypeVerifiedCallerID {
		return nil, domain.ErrNotVerifiedCallerID
	}
	if n.VerificationStatus != domain.VerificationFailed {
		return nil, domain.ErrVerificationNotFailed
	}
	return s.challenge(ctx, n, domain.VerificationFailed)
}

// challenge places the verification call and moves n from fromStatus to pending
// with the new session and code.
func (s *Service) challenge(ctx context.Context, n *domain.PhoneNumber, fromStatus domain.VerificationStatus) (*domain.PhoneNumber, error) {
	code, err := s.codes.Generate()
	if err != nil {
		return nil, err
	}
	creds, err := s.creds.Resolve(ctx, n.TenantID)
	if err != nil {
		return nil, err
	}
	callbackURL, err := s.callbacks.Verification(n.TenantID.String(), n.ID.String())
	if err != nil {
		return nil, err
	}

	sessionID, err := s.provider.StartVerificationCall(ctx, creds, telephony.VerificationCallRequest{
		Number:      n.Number,
		Label:       n.Label,
		Code:        code,
		CallbackURL: callbackURL,
	})
	if err != nil {
		s.logger.WarnContext(ctx, "verification call failed", "tenant_id", n.TenantID, "phone_number_id", n.ID, "error", err)
		if fromStatus == domain.VerificationPending {
			if _, mErr := s.numbers.MarkFailed(ctx, n.ID); mErr != nil {
				s.logger.ErrorContext(ctx, "failed to mark verification failed", "phone_number_id", n.ID, "error", mErr)
			} else {
				metrics.VerificationTransitions.WithLabelValues(string(domain.VerificationFailed), "provider_error").Inc()
			}
		}
		return nil, err
	}

	ok, err := s.numbers.BeginVerification(ctx, n.ID, fromStatus, sessionID, code)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrVerificationConflict
	}

	s.logger.InfoContext(ctx, "verification started", "tenant_id", n.TenantID, "phone_number_id", n.ID, "session_id", sessionID)
	n.VerificationStatus = domain.VerificationPending
	n.VerificationSessionID = &sessionID
	n.ValidationCode = &code
	return n, nil
}

// HandleCallback applies a provider outcome for sessionID. A callback for a record
// that is already terminal is a no-op. If numberID is set, the session must belong
// to that number.
func (s *Service) HandleCallback(ctx context.Context, sessionID string, outcome domain.VerificationStatus, numberID uuid.UUID) (*domain.PhoneNumber, error) {
	n, err := s.numbers.GetBySessionID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if numberID != uuid.Nil && n.ID != numberID {
		return nil, domain.ErrForbidden
	}
	if !outcome.IsTerminal() {
		return n, nil
	}
	return s.apply(ctx, n, outcome, ViaCallback)
}

// Poll returns the current verification state, asking the provider first while
// it is still pending. Provider failures leave the record unchanged.
func (s *Service) Poll(ctx context.Context, tenantID, id uuid.UUID) (*domain.PhoneNumber, error) {
	n, err := s.numbers.GetByID(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if n.Type != domain.NumberTypeVerifiedCallerID || n.VerificationStatus.IsTerminal() || n.VerificationSessionID == nil {
		return n, nil
	}

	creds, err := s.creds.Resolve(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	status, err := s.provider.FetchVerificationStatus(ctx, creds, *n.VerificationSessionID)
	if err != nil {
		s.logger.WarnContext(ctx, "verification status fetch failed", "phone_number_id", n.ID, "error", err)
		return n, nil
	}
	if !status.IsTerminal() {
		return n, nil
	}
	return s.apply(ctx, n, status, ViaPoll)
}

func (s *Service) apply(ctx context.Context, n *domain.PhoneNumber, status domain.VerificationStatus, via string) (*domain.PhoneNumber, error) {
	applied, err := s.numbers.CompleteVerification(ctx, *n.VerificationSessionID, status)
	if err != nil {
		return nil, err
	}
	if !applied {
		// Another writer won, or the record was already terminal.
		return s.numbers.GetBySessionID(ctx, *n.VerificationSessionID)
	}

	metrics.VerificationTransitions.WithLabelValues(string(status), via).Inc()
	s.logger.InfoContext(ctx, "verification completed", "tenant_id", n.TenantID, "phone_number_id", n.ID, "status", status, "via", via)
	s.publisher.Publish(ctx, events.SubjectVerificationCompleted, events.VerificationCompleted{
		TenantID:      n.TenantID.String(),
		PhoneNumberID: n.ID.String(),
		Number:        n.Number,
		Status:        status,
		Via:           via,
	})

	n.VerificationStatus = status
	n.ValidationCode = nil
	return n, nil
}

// Delete removes a verified caller id in any status.
func (s *Service) Delete(ctx context.Context, tenantID, id uuid.UUID) error {
	n, err := s.numbers.GetByID(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if n.Type != domain.NumberTypeVerifiedCallerID {
		return domain.ErrNotVerifiedCallerID
	}
	if err := s.numbers.Delete(ctx, tenantID, id); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "verified caller id deleted", "tenant_id", tenantID, "phone_number_id", id)
	return nil
}
