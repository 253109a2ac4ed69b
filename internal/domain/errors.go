package domain

import (
	"errors"
	"fmt"
)

// Validation errors
var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidPhoneNumber = fmt.Errorf("%w: phone number must be in E.164 format", ErrInvalidInput)
	ErrInvalidAreaCode    = fmt.Errorf("%w: area code must be 3 digits", ErrInvalidInput)
)

// Authentication and authorization errors
var (
	ErrUnauthorized     = errors.New("unauthorized")
	ErrInvalidToken     = fmt.Errorf("%w: invalid token", ErrUnauthorized)
	ErrTokenExpired     = fmt.Errorf("%w: token expired", ErrUnauthorized)
	ErrInvalidSignature = fmt.Errorf("%w: invalid signature", ErrUnauthorized)
	ErrForbidden        = errors.New("forbidden")
	ErrOriginNotAllowed = fmt.Errorf("%w: origin not allowed", ErrForbidden)
)

// Lookup errors
var (
	ErrNotFound                    = errors.New("not found")
	ErrTenantNotFound              = fmt.Errorf("tenant %w", ErrNotFound)
	ErrPhoneNumberNotFound         = fmt.Errorf("phone number %w", ErrNotFound)
	ErrVerificationSessionNotFound = fmt.Errorf("verification session %w", ErrNotFound)
	ErrSubscriptionNotFound        = fmt.Errorf("subscription %w", ErrNotFound)
	ErrCallAttemptNotFound         = fmt.Errorf("call attempt %w", ErrNotFound)
	ErrFormNotFound                = fmt.Errorf("form %w", ErrNotFound)
	ErrAgentNotFound               = fmt.Errorf("agent %w", ErrNotFound)
)

// Precondition errors
var (
	ErrPreconditionFailed     = errors.New("precondition failed")
	ErrVerificationNotFailed  = fmt.Errorf("%w: verification can only be retried after it failed", ErrPreconditionFailed)
	ErrNotVerifiedCallerID    = fmt.Errorf("%w: number is not a verified caller id", ErrPreconditionFailed)
	ErrVerificationConflict   = fmt.Errorf("%w: verification state changed concurrently", ErrPreconditionFailed)
	ErrAgentNumberNotVerified = fmt.Errorf("%w: agent outbound number is not verified", ErrPreconditionFailed)
	ErrAgentHasNoNumber       = fmt.Errorf("%w: agent has no outbound number", ErrPreconditionFailed)
	ErrNumberNotUsable        = fmt.Errorf("%w: number is not verified for outbound calls", ErrPreconditionFailed)
	ErrPhoneNumberExists      = errors.New("phone number already registered")
)

// ValidationError carries field-level details for rejected input.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid input: %d invalid field(s)", len(e.Fields))
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// Provider errors
var (
	ErrNoNumbersAvailable = errors.New("no numbers available")
	ErrPurchaseFailed     = errors.New("number purchase failed")
)

// ProviderError wraps a failed call to the telephony provider or billing processor.
type ProviderError struct {
	Op        string
	Retryable bool
	Err       error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is a provider failure the caller may retry.
func IsRetryable(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Retryable
}
