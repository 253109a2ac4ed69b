package admission

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/callgate/internal/domain"
	"github.com/tendant/callgate/internal/events"
	"github.com/tendant/callgate/internal/repository/memory"
	"github.com/tendant/callgate/internal/telephony"
	"github.com/tendant/callgate/internal/telephony/telephonytest"
)

type staticPlans struct {
	plan domain.Plan
	puts []domain.Plan
}

func (s *staticPlans) GetPlan(context.Context, uuid.UUID) (domain.Plan, error) { return s.plan, nil }

func (s *staticPlans) Put(_ context.Context, _ uuid.UUID, p domain.Plan) error {
	s.puts = append(s.puts, p)
	s.plan = p
	return nil
}

type staticCreds struct{}

func (staticCreds) Resolve(context.Context, uuid.UUID) (telephony.Credentials, error) {
	return telephony.Credentials{AccountID: "AC1", Secret: "s"}, nil
}

type staticStatusURLs struct{}

func (staticStatusURLs) CallStatus(tenantID string) (string, error) {
	return "https://api.example.com/v1/telephony/calls/status?t=" + tenantID, nil
}

type fixture struct {
	gate     *Gate
	dialer   *Dialer
	tracker  *Tracker
	numbers  *memory.PhoneNumbers
	calls    *memory.CallAttempts
	subs     *memory.Subscriptions
	plans    *staticPlans
	provider *telephonytest.Fake
	events   *events.Recorder
	tenantID uuid.UUID
}

func newFixture(t *testing.T, p domain.Plan) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &fixture{
		numbers:  memory.NewPhoneNumbers(),
		calls:    memory.NewCallAttempts(),
		subs:     memory.NewSubscriptions(),
		plans:    &staticPlans{plan: p},
		provider: telephonytest.New(),
		events:   &events.Recorder{},
		tenantID: uuid.New(),
	}
	f.gate = NewGate(logger, f.numbers, f.calls, f.plans, time.Hour)
	f.dialer = NewDialer(logger, f.gate, f.provider, staticCreds{}, f.calls, staticStatusURLs{}, "https://voice.example.com/", f.events)
	f.tracker = NewTracker(logger, f.calls, f.subs, f.plans)
	return f
}

func (f *fixture) addNumber(t *testing.T, tenantID uuid.UUID, number string, typ domain.NumberType, status domain.VerificationStatus) uuid.UUID {
	t.Helper()
	id := uuid.New()
	require.NoError(t, f.numbers.Create(context.Background(), &domain.PhoneNumber{
		ID: id, TenantID: tenantID, Number: number, Type: typ, VerificationStatus: status,
	}))
	return id
}

func (f *fixture) addInFlight(t *testing.T, n int, startedAt time.Time) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, f.calls.Create(context.Background(), &domain.CallAttempt{
			ID: uuid.New(), TenantID: f.tenantID, ProviderCallID: uuid.NewString(),
			Status: domain.CallStatusInitiated, StartedAt: startedAt,
		}))
	}
}

var roomyPlan = domain.Plan{Tier: "growth", PoolMinutes: 1500, ConcurrencyMax: 5, OverageEnabled: true}

func TestGate_NumberMustBeUsable(t *testing.T) {
	f := newFixture(t, roomyPlan)
	other := uuid.New()

	tests := []struct {
		name   string
		number uuid.UUID
		want   domain.Decision
	}{
		{"pending caller id", f.addNumber(t, f.tenantID, "+15550000001", domain.NumberTypeVerifiedCallerID, domain.VerificationPending), domain.Deny(domain.ReasonNumberNotVerified)},
		{"failed caller id", f.addNumber(t, f.tenantID, "+15550000002", domain.NumberTypeVerifiedCallerID, domain.VerificationFailed), domain.Deny(domain.ReasonNumberNotVerified)},
		{"verified caller id", f.addNumber(t, f.tenantID, "+15550000003", domain.NumberTypeVerifiedCallerID, domain.VerificationSuccess), domain.Allow()},
		{"purchased number", f.addNumber(t, f.tenantID, "+15550000004", domain.NumberTypeProviderPurchased, domain.VerificationSuccess), domain.Allow()},
		{"another tenant's number", f.addNumber(t, other, "+15550000005", domain.NumberTypeProviderPurchased, domain.VerificationSuccess), domain.Deny(domain.ReasonNumberNotVerified)},
		{"unknown number", uuid.New(), domain.Deny(domain.ReasonNumberNotVerified)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.gate.Admit(context.Background(), f.tenantID, tt.number, "+15559876543")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGate_NumberCheckComesFirst(t *testing.T) {
	f := newFixture(t, domain.Plan{Tier: "free", ConcurrencyMax: 0})
	pending := f.addNumber(t, f.tenantID, "+15550000001", domain.NumberTypeVerifiedCallerID, domain.VerificationPending)

	got, err := f.gate.Admit(context.Background(), f.tenantID, pending, "+15559876543")
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonNumberNotVerified, got.Reason)
}

func TestGate_Concurrency(t *testing.T) {
	f := newFixture(t, roomyPlan)
	from := f.addNumber(t, f.tenantID, "+15550000001", domain.NumberTypeProviderPurchased, domain.VerificationSuccess)

	f.addInFlight(t, 4, time.Now())
	got, err := f.gate.Admit(context.Background(), f.tenantID, from, "+15559876543")
	require.NoError(t, err)
	assert.True(t, got.Allowed)

	f.addInFlight(t, 1, time.Now())
	got, err = f.gate.Admit(context.Background(), f.tenantID, from, "+15559876543")
	require.NoError(t, err)
	assert.Equal(t, domain.Deny(domain.ReasonConcurrencyExceeded), got)
}

func TestGate_StaleAttemptsDoNotHoldSlots(t *testing.T) {
	f := newFixture(t, roomyPlan)
	from := f.addNumber(t, f.tenantID, "+15550000001", domain.NumberTypeProviderPurchased, domain.VerificationSuccess)

	f.addInFlight(t, 5, time.Now().Add(-2*time.Hour))
	got, err := f.gate.Admit(context.Background(), f.tenantID, from, "+15559876543")
	require.NoError(t, err)
	assert.True(t, got.Allowed)
}

func TestGate_Pool(t *testing.T) {
	tests := []struct {
		name string
		plan domain.Plan
		want domain.Decision
	}{
		{"exhausted without overage", domain.Plan{PoolMinutes: 100, PeriodUsage: 101, ConcurrencyMax: 1}, domain.Deny(domain.ReasonPoolExhausted)},
		{"exhausted with overage", domain.Plan{PoolMinutes: 100, PeriodUsage: 250, ConcurrencyMax: 1, OverageEnabled: true}, domain.Allow()},
		{"within pool", domain.Plan{PoolMinutes: 100, PeriodUsage: 99, ConcurrencyMax: 1}, domain.Allow()},
		{"pool fully used", domain.Plan{PoolMinutes: 100, PeriodUsage: 100, ConcurrencyMax: 1}, domain.Allow()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.plan)
			from := f.addNumber(t, f.tenantID, "+15550000001", domain.NumberTypeProviderPurchased, domain.VerificationSuccess)
			got, err := f.gate.Admit(context.Background(), f.tenantID, from, "+15559876543")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGate_InvalidTarget(t *testing.T) {
	f := newFixture(t, roomyPlan)
	_, err := f.gate.Admit(context.Background(), f.tenantID, uuid.New(), "555-1234")
	assert.ErrorIs(t, err, domain.ErrInvalidPhoneNumber)
}

func TestDialer_PlaceCall(t *testing.T) {
	f := newFixture(t, roomyPlan)
	from := f.addNumber(t, f.tenantID, "+15550000001", domain.NumberTypeVerifiedCallerID, domain.VerificationSuccess)
	leadID := uuid.New()

	for i := 0; i < 5; i++ {
		attempt, err := f.dialer.PlaceCall(context.Background(), CallRequest{
			TenantID: f.tenantID, FromNumberID: from, ToNumber: "+15559876543",
			Source: domain.CallSourceWidget, LeadID: &leadID,
		})
		require.NoError(t, err)
		assert.Equal(t, domain.CallStatusInitiated, attempt.Status)
		assert.NotEmpty(t, attempt.ProviderCallID)
	}

	// The sixth concurrent call is denied before reaching the provider.
	_, err := f.dialer.PlaceCall(context.Background(), CallRequest{
		TenantID: f.tenantID, FromNumberID: from, ToNumber: "+15559876543", Source: domain.CallSourceDashboard,
	})
	var denied *domain.AdmissionDeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, domain.ReasonConcurrencyExceeded, denied.Reason)
	assert.ErrorIs(t, err, domain.ErrAdmissionDenied)
	assert.Equal(t, 5, f.provider.CallCount())

	call := f.provider.Calls[0]
	assert.Equal(t, "+15550000001", call.From)
	assert.Contains(t, call.AnswerURL, "https://voice.example.com/voice/outbound?")
	assert.Contains(t, call.AnswerURL, leadID.String())
	assert.Len(t, f.events.Messages(events.SubjectCallStarted), 5)
}

func TestDialer_ProviderFailureRecordsNothing(t *testing.T) {
	f := newFixture(t, roomyPlan)
	from := f.addNumber(t, f.tenantID, "+15550000001", domain.NumberTypeProviderPurchased, domain.VerificationSuccess)
	f.provider.CallErr = &domain.ProviderError{Op: "place_call", Retryable: true, Err: errors.New("timeout")}

	_, err := f.dialer.PlaceCall(context.Background(), CallRequest{TenantID: f.tenantID, FromNumberID: from, ToNumber: "+15559876543", Source: domain.CallSourceDashboard})
	require.Error(t, err)
	n, err := f.calls.CountInFlight(context.Background(), f.tenantID, time.Time{})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestTracker_Complete(t *testing.T) {
	f := newFixture(t, roomyPlan)
	_, err := f.subs.ApplySnapshot(context.Background(), &domain.Subscription{
		TenantID: f.tenantID, Status: domain.SubscriptionStatusActive, Tier: "growth",
		PoolMinutes: 1500, ConcurrencyMax: 5, OverageEnabled: true,
	})
	require.NoError(t, err)
	from := f.addNumber(t, f.tenantID, "+15550000001", domain.NumberTypeProviderPurchased, domain.VerificationSuccess)

	attempt, err := f.dialer.PlaceCall(context.Background(), CallRequest{TenantID: f.tenantID, FromNumberID: from, ToNumber: "+15559876543", Source: domain.CallSourceDashboard})
	require.NoError(t, err)

	require.NoError(t, f.tracker.Complete(context.Background(), attempt.ProviderCallID, domain.CallStatusCompleted, 61, time.Now()))
	require.NoError(t, f.tracker.Complete(context.Background(), attempt.ProviderCallID, domain.CallStatusCompleted, 61, time.Now()))

	sub, err := f.subs.GetByTenant(context.Background(), f.tenantID)
	require.NoError(t, err)
	assert.Equal(t, 2, sub.PeriodUsageMinutes, "61 seconds bills as 2 minutes, once")
	require.Len(t, f.plans.puts, 1)
	assert.Equal(t, 2, f.plans.puts[0].PeriodUsage)

	n, err := f.calls.CountInFlight(context.Background(), f.tenantID, time.Time{})
	require.NoError(t, err)
	assert.Zero(t, n)

	err = f.tracker.Complete(context.Background(), "CA-unknown", domain.CallStatusCompleted, 5, time.Now())
	assert.ErrorIs(t, err, domain.ErrCallAttemptNotFound)
}
