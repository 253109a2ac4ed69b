package provisioning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/callgate/internal/domain"
	"github.com/tendant/callgate/internal/telephony"
)

// searchLimit bounds the number search. Only the first result is purchased.
const searchLimit = 5

// NumberStore is the phone number persistence used by provisioning.
type NumberStore interface {
	Create(ctx context.Context, n *domain.PhoneNumber) error
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*domain.PhoneNumber, error)
	ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]*domain.PhoneNumber, error)
	SetDefault(ctx context.Context, tenantID, id uuid.UUID) error
}

// VerificationStarter starts the ownership challenge for a registered number.
type VerificationStarter interface {
	Start(ctx context.Context, tenantID uuid.UUID, number, label string) (*domain.PhoneNumber, error)
}

// NumberService purchases numbers and registers tenant-owned numbers for verification.
type NumberService struct {
	logger    *slog.Logger
	numbers   NumberStore
	provider  telephony.Provider
	verifier  VerificationStarter
	voiceURLs telephony.VoiceURLs
}

// NewNumberService creates a new number provisioning service. voiceURLs are
// configured on every purchased number.
func NewNumberService(logger *slog.Logger, numbers NumberStore, provider telephony.Provider, verifier VerificationStarter, voiceURLs telephony.VoiceURLs) *NumberService {
	return &NumberService{
		logger:    logger.With("component", "numbers"),
		numbers:   numbers,
		provider:  provider,
		verifier:  verifier,
		voiceURLs: voiceURLs,
	}
}

// VoiceRuntimeURLs returns the inbound and status URLs exposed by the voice runtime.
func VoiceRuntimeURLs(baseURL string) telephony.VoiceURLs {
	baseURL = strings.TrimRight(baseURL, "/")
	return telephony.VoiceURLs{
		VoiceURL:          baseURL + "/voice/inbound",
		StatusCallbackURL: baseURL + "/voice/status",
	}
}

// PurchaseNumber buys the first available number under the tenant's sub-identity.
// A rejected purchase returns ErrPurchaseFailed and the caller may retry with another hint.
func (s *NumberService) PurchaseNumber(ctx context.Context, tenantID uuid.UUID, creds telephony.Credentials, areaCode string) (*domain.PhoneNumber, error) {
	if err := domain.ValidateAreaCode(areaCode); err != nil {
		return nil, err
	}

	candidates, err := s.provider.SearchNumbers(ctx, creds, areaCode, searchLimit)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, domain.ErrNoNumbersAvailable
	}

	purchased, err := s.provider.PurchaseNumber(ctx, creds, candidates[0], s.voiceURLs)
	if err != nil {
		if errors.Is(err, domain.ErrPurchaseFailed) {
			return nil, err
		}
		var perr *domain.ProviderError
		if errors.As(err, &perr) && !perr.Retryable {
			return nil, fmt.Errorf("%w: %w", domain.ErrPurchaseFailed, err)
		}
		return nil, err
	}

	now := time.Now()
	providerID := purchased.ProviderNumberID
	n := &domain.PhoneNumber{
		ID:                 uuid.New(),
		TenantID:           tenantID,
		Number:             purchased.Number,
		Label:              purchased.Number,
		Type:               domain.NumberTypeProviderPurchased,
		VerificationStatus: domain.VerificationSuccess,
		ProviderNumberID:   &providerID,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.numbers.Create(ctx, n); err != nil {
		s.logger.ErrorContext(ctx, "purchased number not persisted", "tenant_id", tenantID, "number", purchased.Number, "provider_number_id", providerID, "error", err)
		return nil, err
	}

	s.logger.InfoContext(ctx, "number purchased", "tenant_id", tenantID, "phone_number_id", n.ID, "number", n.Number)
	return n, nil
}

// RegisterForVerification stores a pending verified_caller_id number and starts
// its ownership challenge.
func (s *NumberService) RegisterForVerification(ctx context.Context, tenantID uuid.UUID, number, label string) (*domain.PhoneNumber, error) {
	number = strings.TrimSpace(number)
	if err := domain.ValidateE164(number); err != nil {
		return nil, err
	}
	label = strings.TrimSpace(label)
	if label == "" {
		label = number
	}

	now := time.Now()
	n := &domain.PhoneNumber{
		ID:                 uuid.New(),
		TenantID:           tenantID,
		Number:             number,
		Label:              label,
		Type:               domain.NumberTypeVerifiedCallerID,
		VerificationStatus: domain.VerificationPending,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.numbers.Create(ctx, n); err != nil {
		return nil, err
	}

	return s.verifier.Start(ctx, tenantID, number, label)
}

// List returns the tenant's numbers.
func (s *NumberService) List(ctx context.Context, tenantID uuid.UUID) ([]*domain.PhoneNumber, error) {
	return s.numbers.ListByTenant(ctx, tenantID)
}

// SetDefault marks a usable number as the tenant's default outbound number.
func (s *NumberService) SetDefault(ctx context.Context, tenantID, id uuid.UUID) (*domain.PhoneNumber, error) {
	n, err := s.numbers.GetByID(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if !n.UsableForOutbound() {
		return nil, domain.ErrNumberNotUsable
	}
	if err := s.numbers.SetDefault(ctx, tenantID, id); err != nil {
		return nil, err
	}
	n.IsDefault = true
	return n, nil
}
