package domain

import (
	"regexp"
	"time"

	"github.com/google/uuid"
)

type NumberType string

const (
	NumberTypeVerifiedCallerID  NumberType = "verified_caller_id"
	NumberTypeProviderPurchased NumberType = "provider_purchased"
)

type VerificationStatus string

const (
	VerificationPending VerificationStatus = "pending"
	VerificationSuccess VerificationStatus = "success"
	VerificationFailed  VerificationStatus = "failed"
)

// IsTerminal reports whether no callback or poll can change the status anymore.
func (s VerificationStatus) IsTerminal() bool {
	return s == VerificationSuccess || s == VerificationFailed
}

// PhoneNumber is a number bound to exactly one tenant.
type PhoneNumber struct {
	ID                    uuid.UUID
	TenantID              uuid.UUID
	Number                string
	Label                 string
	Type                  NumberType
	VerificationStatus    VerificationStatus
	VerificationSessionID *string
	ValidationCode        *string
	ProviderNumberID      *string
	IsDefault             bool
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// UsableForOutbound reports whether the number may be presented as caller id.
// Purchased numbers are provider-owned and never go through verification.
func (p *PhoneNumber) UsableForOutbound() bool {
	if p.Type == NumberTypeProviderPurchased {
		return true
	}
	return p.VerificationStatus == VerificationSuccess
}

var e164Pattern = regexp.MustCompile(`^\+[1-9]\d{7,14}$`)

// ValidateE164 checks that number is an E.164 formatted phone number.
func ValidateE164(number string) error {
	if !e164Pattern.MatchString(number) {
		return ErrInvalidPhoneNumber
	}
	return nil
}

var areaCodePattern = regexp.MustCompile(`^\d{3}$`)

// ValidateAreaCode accepts an empty hint or a 3 digit area code.
func ValidateAreaCode(code string) error {
	if code == "" || areaCodePattern.MatchString(code) {
		return nil
	}
	return ErrInvalidAreaCode
}
