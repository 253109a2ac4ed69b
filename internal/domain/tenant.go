package domain

import (
	"time"

	"github.com/google/uuid"
)

// Tenant is a team: the unit of billing and telephony isolation.
type Tenant struct {
	ID                    uuid.UUID
	Name                  string
	TelephonySubaccountID *string
	TelephonySecretSealed []byte
	BillingCustomerID     *string
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// HasSubIdentity reports whether telephony credentials were already provisioned.
func (t *Tenant) HasSubIdentity() bool {
	return t.TelephonySubaccountID != nil && *t.TelephonySubaccountID != "" && len(t.TelephonySecretSealed) > 0
}
