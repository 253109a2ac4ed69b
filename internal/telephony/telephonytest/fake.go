// Package telephonytest provides an in-memory telephony.Provider for tests.
package telephonytest

import (
	"context"
	"fmt"
	"sync"

	"github.com/tendant/callgate/internal/domain"
	"github.com/tendant/callgate/internal/telephony"
)

// Fake records provider interactions. Set the *Err fields to inject failures.
type Fake struct {
	mu sync.Mutex

	Available []string
	Statuses  map[string]domain.VerificationStatus

	CreateErr   error
	PurchaseErr error
	VerifyErr   error
	FetchErr    error
	CallErr     error

	Subaccounts       []telephony.Subaccount
	Closed            []string
	Purchased         []string
	PurchasedURLs     []telephony.VoiceURLs
	VerificationCalls []telephony.VerificationCallRequest
	Calls             []telephony.CallRequest

	seq int
}

var _ telephony.Provider = (*Fake)(nil)

// New returns an empty fake.
func New() *Fake {
	return &Fake{Statuses: make(map[string]domain.VerificationStatus)}
}

func (f *Fake) next(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s%d", prefix, f.seq)
}

func (f *Fake) CreateSubaccount(_ context.Context, _ string) (*telephony.Subaccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateErr != nil {
		return nil, f.CreateErr
	}
	sub := telephony.Subaccount{ID: f.next("AC"), Secret: f.next("secret-")}
	f.Subaccounts = append(f.Subaccounts, sub)
	return &sub, nil
}

func (f *Fake) CloseSubaccount(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = append(f.Closed, id)
	return nil
}

func (f *Fake) SearchNumbers(_ context.Context, _ telephony.Credentials, _ string, limit int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]string(nil), f.Available...)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *Fake) PurchaseNumber(_ context.Context, _ telephony.Credentials, number string, urls telephony.VoiceURLs) (*telephony.PurchasedNumber, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PurchaseErr != nil {
		return nil, f.PurchaseErr
	}
	f.Purchased = append(f.Purchased, number)
	f.PurchasedURLs = append(f.PurchasedURLs, urls)
	return &telephony.PurchasedNumber{ProviderNumberID: f.next("PN"), Number: number}, nil
}

func (f *Fake) StartVerificationCall(_ context.Context, _ telephony.Credentials, req telephony.VerificationCallRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.VerifyErr != nil {
		return "", f.VerifyErr
	}
	f.VerificationCalls = append(f.VerificationCalls, req)
	id := f.next("VS")
	f.Statuses[id] = domain.VerificationPending
	return id, nil
}

func (f *Fake) FetchVerificationStatus(_ context.Context, _ telephony.Credentials, sessionID string) (domain.VerificationStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FetchErr != nil {
		return "", f.FetchErr
	}
	status, ok := f.Statuses[sessionID]
	if !ok {
		return domain.VerificationPending, nil
	}
	return status, nil
}

// SetStatus sets what FetchVerificationStatus reports for sessionID.
func (f *Fake) SetStatus(sessionID string, status domain.VerificationStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Statuses[sessionID] = status
}

func (f *Fake) PlaceCall(_ context.Context, _ telephony.Credentials, req telephony.CallRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CallErr != nil {
		return "", f.CallErr
	}
	f.Calls = append(f.Calls, req)
	return f.next("CA"), nil
}

// CallCount returns the number of placed calls.
func (f *Fake) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Calls)
}

// LastVerificationCall returns the most recent verification call request.
func (f *Fake) LastVerificationCall() telephony.VerificationCallRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.VerificationCalls) == 0 {
		return telephony.VerificationCallRequest{}
	}
	return f.VerificationCalls[len(f.VerificationCalls)-1]
}
