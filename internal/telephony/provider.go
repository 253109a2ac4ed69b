// Package telephony is the adapter to the telephony provider's REST API: sub-identities,
// number search and purchase, caller ID verification calls and outbound calls.
package telephony

import (
	"context"

	"github.com/tendant/callgate/internal/domain"
)

// Credentials scope a request to one tenant's sub-identity.
type Credentials struct {
	AccountID string
	Secret    string
}

// Subaccount is a newly created isolated sub-identity.
type Subaccount struct {
	ID     string `json:"id"`
	Secret string `json:"secret"`
}

// VoiceURLs are configured on a purchased number so inbound and status traffic
// reaches the voice runtime.
type VoiceURLs struct {
	VoiceURL          string
	StatusCallbackURL string
}

// PurchasedNumber is a number bought under a sub-identity.
type PurchasedNumber struct {
	ProviderNumberID string `json:"id"`
	Number           string `json:"phone_number"`
}

// VerificationCallRequest asks the provider to call Number and announce Code.
type VerificationCallRequest struct {
	Number      string
	Label       string
	Code        string
	CallbackURL string
}

// CallRequest asks the provider to place an outbound call.
type CallRequest struct {
	From              string
	To                string
	AnswerURL         string
	StatusCallbackURL string
}

// Provider is the set of telephony capabilities the service consumes.
type Provider interface {
	CreateSubaccount(ctx context.Context, friendlyName string) (*Subaccount, error)
	CloseSubaccount(ctx context.Context, id string) error
	SearchNumbers(ctx context.Context, creds Credentials, areaCode string, limit int) ([]string, error)
	PurchaseNumber(ctx context.Context, creds Credentials, number string, urls VoiceURLs) (*PurchasedNumber, error)
	StartVerificationCall(ctx context.Context, creds Credentials, req VerificationCallRequest) (sessionID string, err error)
	FetchVerificationStatus(ctx context.Context, creds Credentials, sessionID string) (domain.VerificationStatus, error)
	PlaceCall(ctx context.Context, creds Credentials, req CallRequest) (providerCallID string, err error)
}
