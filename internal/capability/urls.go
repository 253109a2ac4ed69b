package capability

import (
	"net/url"
	"strings"
	"time"
)

// Callback paths served by the telephony callback feature.
const (
	VerificationCallbackPath = "/v1/telephony/verifications/callback"
	CallStatusCallbackPath   = "/v1/telephony/calls/status"
)

// CallbackURLs builds provider callback URLs that carry a scoped token.
type CallbackURLs struct {
	baseURL string
	issuer  *Issuer
	ttl     time.Duration
}

// NewCallbackURLs creates a builder for callbacks rooted at baseURL.
func NewCallbackURLs(baseURL string, issuer *Issuer, ttl time.Duration) *CallbackURLs {
	return &CallbackURLs{baseURL: strings.TrimRight(baseURL, "/"), issuer: issuer, ttl: ttl}
}

// Verification returns the verification outcome callback URL for a phone number.
func (c *CallbackURLs) Verification(tenantID, phoneNumberID string) (string, error) {
	return c.build(VerificationCallbackPath, ScopeVerificationCallback, phoneNumberID, tenantID)
}

// CallStatus returns the call status callback URL for a tenant's outbound call.
func (c *CallbackURLs) CallStatus(tenantID string) (string, error) {
	return c.build(CallStatusCallbackPath, ScopeCallStatus, tenantID, tenantID)
}

func (c *CallbackURLs) build(path, scope, subject, tenantID string) (string, error) {
	tok, err := c.issuer.Issue(scope, subject, tenantID, c.ttl)
	if err != nil {
		return "", err
	}
	return c.baseURL + path + "?" + url.Values{"token": {tok}}.Encode(), nil
}
