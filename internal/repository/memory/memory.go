// Package memory provides in-process implementations of the repository contracts.
// They mirror the compare-and-set semantics of the PostgreSQL repositories and back
// service tests and single-node development runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/callgate/internal/domain"
)

// Tenants is an in-memory tenant store.
type Tenants struct {
	mu sync.RWMutex
	m  map[uuid.UUID]domain.Tenant
}

func NewTenants() *Tenants {
	return &Tenants{m: make(map[uuid.UUID]domain.Tenant)}
}

func (s *Tenants) Create(_ context.Context, t *domain.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[t.ID] = *t
	return nil
}

func (s *Tenants) GetByID(_ context.Context, id uuid.UUID) (*domain.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.m[id]
	if !ok {
		return nil, domain.ErrTenantNotFound
	}
	return &t, nil
}

func (s *Tenants) SetSubIdentityIfAbsent(_ context.Context, id uuid.UUID, subaccountID string, sealedSecret []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.m[id]
	if !ok {
		return false, nil
	}
	if t.TelephonySubaccountID != nil {
		return false, nil
	}
	t.TelephonySubaccountID = &subaccountID
	t.TelephonySecretSealed = append([]byte(nil), sealedSecret...)
	t.UpdatedAt = time.Now()
	s.m[id] = t
	return true, nil
}

func (s *Tenants) SetBillingCustomer(_ context.Context, id uuid.UUID, customerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.m[id]
	if !ok {
		return domain.ErrTenantNotFound
	}
	t.BillingCustomerID = &customerID
	s.m[id] = t
	return nil
}

// PhoneNumbers is an in-memory phone number store.
type PhoneNumbers struct {
	mu sync.RWMutex
	m  map[uuid.UUID]domain.PhoneNumber
}

func NewPhoneNumbers() *PhoneNumbers {
	return &PhoneNumbers{m: make(map[uuid.UUID]domain.PhoneNumber)}
}

func (s *PhoneNumbers) Create(_ context.Context, n *domain.PhoneNumber) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.m {
		if existing.TenantID == n.TenantID && existing.Number == n.Number {
			return domain.ErrPhoneNumberExists
		}
	}
	s.m[n.ID] = *n
	return nil
}

func (s *PhoneNumbers) GetByID(_ context.Context, tenantID, id uuid.UUID) (*domain.PhoneNumber, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.m[id]
	if !ok || n.TenantID != tenantID {
		return nil, domain.ErrPhoneNumberNotFound
	}
	return &n, nil
}

func (s *PhoneNumbers) GetByNumber(_ context.Context, tenantID uuid.UUID, number string) (*domain.PhoneNumber, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, n := range s.m {
		if n.TenantID == tenantID && n.Number == number {
			return &n, nil
		}
	}
	return nil, domain.ErrPhoneNumberNotFound
}

func (s *PhoneNumbers) GetBySessionID(_ context.Context, sessionID string) (*domain.PhoneNumber, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, n := range s.m {
		if n.VerificationSessionID != nil && *n.VerificationSessionID == sessionID {
			return &n, nil
		}
	}
	return nil, domain.ErrVerificationSessionNotFound
}

func (s *PhoneNumbers) ListByTenant(_ context.Context, tenantID uuid.UUID) ([]*domain.PhoneNumber, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.PhoneNumber
	for _, n := range s.m {
		if n.TenantID == tenantID {
			n := n
			out = append(out, &n)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsDefault != out[j].IsDefault {
			return out[i].IsDefault
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *PhoneNumbers) BeginVerification(_ context.Context, id uuid.UUID, fromStatus domain.VerificationStatus, sessionID, code string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.m[id]
	if !ok || n.Type != domain.NumberTypeVerifiedCallerID || n.VerificationStatus != fromStatus {
		return false, nil
	}
	n.VerificationStatus = domain.VerificationPending
	n.VerificationSessionID = &sessionID
	n.ValidationCode = &code
	n.UpdatedAt = time.Now()
	s.m[id] = n
	return true, nil
}

func (s *PhoneNumbers) CompleteVerification(_ context.Context, sessionID string, status domain.VerificationStatus) (bool, error) {
	if !status.IsTerminal() {
		return false, fmt.Errorf("%w: %q is not a terminal status", domain.ErrInvalidInput, status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, n := range s.m {
		if n.VerificationSessionID == nil || *n.VerificationSessionID != sessionID {
			continue
		}
		if n.VerificationStatus != domain.VerificationPending {
			return false, nil
		}
		n.VerificationStatus = status
		n.ValidationCode = nil
		n.UpdatedAt = time.Now()
		s.m[id] = n
		return true, nil
	}
	return false, nil
}

func (s *PhoneNumbers) MarkFailed(_ context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.m[id]
	if !ok || n.VerificationStatus != domain.VerificationPending {
		return false, nil
	}
	n.VerificationStatus = domain.VerificationFailed
	n.ValidationCode = nil
	s.m[id] = n
	return true, nil
}

func (s *PhoneNumbers) Delete(_ context.Context, tenantID, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.m[id]
	if !ok || n.TenantID != tenantID || n.Type != domain.NumberTypeVerifiedCallerID {
		return domain.ErrPhoneNumberNotFound
	}
	delete(s.m, id)
	return nil
}

func (s *PhoneNumbers) SetDefault(_ context.Context, tenantID, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	target, ok := s.m[id]
	if !ok || target.TenantID != tenantID {
		return domain.ErrPhoneNumberNotFound
	}
	for nid, n := range s.m {
		if n.TenantID == tenantID && n.IsDefault {
			n.IsDefault = false
			s.m[nid] = n
		}
	}
	target = s.m[id]
	target.IsDefault = true
	s.m[id] = target
	return nil
}

// Subscriptions is an in-memory durable subscription store.
type Subscriptions struct {
	mu sync.RWMutex
	m  map[uuid.UUID]domain.Subscription
}

func NewSubscriptions() *Subscriptions {
	return &Subscriptions{m: make(map[uuid.UUID]domain.Subscription)}
}

func (s *Subscriptions) GetByTenant(_ context.Context, tenantID uuid.UUID) (*domain.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.m[tenantID]
	if !ok {
		return nil, domain.ErrSubscriptionNotFound
	}
	return &sub, nil
}

func (s *Subscriptions) ApplySnapshot(_ context.Context, snap *domain.Subscription) (*domain.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := *snap
	next.PeriodUsageMinutes = 0
	if prev, ok := s.m[snap.TenantID]; ok {
		laterPeriod := snap.PeriodStart != nil &&
			(prev.PeriodStart == nil || snap.PeriodStart.After(*prev.PeriodStart))
		if !laterPeriod {
			next.PeriodUsageMinutes = prev.PeriodUsageMinutes
		}
		next.PeriodStart = latest(prev.PeriodStart, snap.PeriodStart)
		next.PeriodEnd = latest(prev.PeriodEnd, snap.PeriodEnd)
	}
	next.UpdatedAt = time.Now()
	s.m[snap.TenantID] = next
	return &next, nil
}

func latest(a, b *time.Time) *time.Time {
	if a == nil {
		return b
	}
	if b == nil || a.After(*b) {
		return a
	}
	return b
}

func (s *Subscriptions) AddUsage(_ context.Context, tenantID uuid.UUID, minutes int) (*domain.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.m[tenantID]
	if !ok {
		return nil, domain.ErrSubscriptionNotFound
	}
	sub.PeriodUsageMinutes += minutes
	s.m[tenantID] = sub
	return &sub, nil
}

// CallAttempts is an in-memory call attempt store.
type CallAttempts struct {
	mu sync.RWMutex
	m  map[uuid.UUID]domain.CallAttempt
}

func NewCallAttempts() *CallAttempts {
	return &CallAttempts{m: make(map[uuid.UUID]domain.CallAttempt)}
}

func (s *CallAttempts) Create(_ context.Context, c *domain.CallAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[c.ID] = *c
	return nil
}

func (s *CallAttempts) CountInFlight(_ context.Context, tenantID uuid.UUID, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, c := range s.m {
		if c.TenantID == tenantID && c.EndedAt == nil && c.StartedAt.After(since) {
			count++
		}
	}
	return count, nil
}

func (s *CallAttempts) GetByProviderCallID(_ context.Context, providerCallID string) (*domain.CallAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.m {
		if c.ProviderCallID == providerCallID {
			return &c, nil
		}
	}
	return nil, domain.ErrCallAttemptNotFound
}

func (s *CallAttempts) MarkEnded(_ context.Context, providerCallID string, status domain.CallStatus, durationSeconds int, endedAt time.Time) (*domain.CallAttempt, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.m {
		if c.ProviderCallID != providerCallID {
			continue
		}
		if c.EndedAt != nil {
			return &c, false, nil
		}
		c.Status = status
		c.DurationSeconds = durationSeconds
		c.EndedAt = &endedAt
		s.m[id] = c
		return &c, true, nil
	}
	return nil, false, domain.ErrCallAttemptNotFound
}

// Agents is an in-memory agent store.
type Agents struct {
	mu sync.RWMutex
	m  map[uuid.UUID]domain.Agent
}

func NewAgents() *Agents {
	return &Agents{m: make(map[uuid.UUID]domain.Agent)}
}

func (s *Agents) Put(a *domain.Agent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[a.ID] = *a
}

func (s *Agents) GetByID(_ context.Context, tenantID, id uuid.UUID) (*domain.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.m[id]
	if !ok || a.TenantID != tenantID {
		return nil, domain.ErrAgentNotFound
	}
	return &a, nil
}

// WidgetForms is an in-memory form store.
type WidgetForms struct {
	mu sync.RWMutex
	m  map[uuid.UUID]domain.WidgetForm
}

func NewWidgetForms() *WidgetForms {
	return &WidgetForms{m: make(map[uuid.UUID]domain.WidgetForm)}
}

func (s *WidgetForms) Put(f *domain.WidgetForm) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[f.ID] = *f
}

func (s *WidgetForms) GetByID(_ context.Context, id uuid.UUID) (*domain.WidgetForm, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.m[id]
	if !ok {
		return nil, domain.ErrFormNotFound
	}
	return &f, nil
}

// Leads is an in-memory lead store.
type Leads struct {
	mu sync.RWMutex
	l  []domain.Lead
}

func NewLeads() *Leads {
	return &Leads{}
}

func (s *Leads) Create(_ context.Context, l *domain.Lead) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.l = append(s.l, *l)
	return nil
}

// All returns a copy of the stored leads.
func (s *Leads) All() []domain.Lead {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Lead(nil), s.l...)
}
