package provisioning

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/callgate/internal/domain"
	"github.com/tendant/callgate/internal/repository/memory"
	"github.com/tendant/callgate/internal/secrets"
	"github.com/tendant/callgate/internal/telephony"
	"github.com/tendant/callgate/internal/telephony/telephonytest"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSealer(t *testing.T) *secrets.Sealer {
	t.Helper()
	s, err := secrets.NewSealerFromHex(strings.Repeat("01", 32))
	require.NoError(t, err)
	return s
}

func seedTenant(t *testing.T, tenants *memory.Tenants) uuid.UUID {
	t.Helper()
	id := uuid.New()
	require.NoError(t, tenants.Create(context.Background(), &domain.Tenant{ID: id, Name: "Acme", CreatedAt: time.Now()}))
	return id
}

func TestRegistry_EnsureSubIdentity_Idempotent(t *testing.T) {
	tenants := memory.NewTenants()
	provider := telephonytest.New()
	reg := NewRegistry(testLogger(), tenants, provider, testSealer(t))
	tenantID := seedTenant(t, tenants)

	first, err := reg.EnsureSubIdentity(context.Background(), tenantID, "Acme")
	require.NoError(t, err)
	second, err := reg.EnsureSubIdentity(context.Background(), tenantID, "Acme")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, provider.Subaccounts, 1)

	stored, err := tenants.GetByID(context.Background(), tenantID)
	require.NoError(t, err)
	assert.Equal(t, first.AccountID, *stored.TelephonySubaccountID)
	assert.NotContains(t, string(stored.TelephonySecretSealed), first.Secret)
}

func TestRegistry_EnsureSubIdentity_ConcurrentCallersConverge(t *testing.T) {
	tenants := memory.NewTenants()
	provider := telephonytest.New()
	reg := NewRegistry(testLogger(), tenants, provider, testSealer(t))
	tenantID := seedTenant(t, tenants)

	const callers = 8
	results := make([]telephony.Credentials, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = reg.EnsureSubIdentity(context.Background(), tenantID, "Acme")
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0], results[i])
	}

	stored, err := tenants.GetByID(context.Background(), tenantID)
	require.NoError(t, err)
	assert.Equal(t, results[0].AccountID, *stored.TelephonySubaccountID)
	// Every subaccount other than the persisted one was closed.
	assert.Len(t, provider.Closed, len(provider.Subaccounts)-1)
	assert.NotContains(t, provider.Closed, results[0].AccountID)
}

func TestRegistry_EnsureSubIdentity_ProviderFailurePersistsNothing(t *testing.T) {
	tenants := memory.NewTenants()
	provider := telephonytest.New()
	provider.CreateErr = &domain.ProviderError{Op: "create_subaccount", Retryable: true, Err: errors.New("timeout")}
	reg := NewRegistry(testLogger(), tenants, provider, testSealer(t))
	tenantID := seedTenant(t, tenants)

	_, err := reg.EnsureSubIdentity(context.Background(), tenantID, "Acme")
	require.Error(t, err)
	assert.True(t, domain.IsRetryable(err))

	stored, err := tenants.GetByID(context.Background(), tenantID)
	require.NoError(t, err)
	assert.False(t, stored.HasSubIdentity())
}

func TestRegistry_EnsureSubIdentity_UnknownTenant(t *testing.T) {
	reg := NewRegistry(testLogger(), memory.NewTenants(), telephonytest.New(), testSealer(t))
	_, err := reg.EnsureSubIdentity(context.Background(), uuid.New(), "Ghost")
	assert.ErrorIs(t, err, domain.ErrTenantNotFound)
}

type stubStarter struct {
	numbers *memory.PhoneNumbers
	err     error
}

func (s *stubStarter) Start(ctx context.Context, tenantID uuid.UUID, number, _ string) (*domain.PhoneNumber, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.numbers.GetByNumber(ctx, tenantID, number)
}

func newNumberService(provider *telephonytest.Fake) (*NumberService, *memory.PhoneNumbers) {
	numbers := memory.NewPhoneNumbers()
	svc := NewNumberService(testLogger(), numbers, provider, &stubStarter{numbers: numbers}, VoiceRuntimeURLs("https://voice.example.com/"))
	return svc, numbers
}

func TestNumberService_PurchaseNumber(t *testing.T) {
	tenantID := uuid.New()
	creds := telephony.Credentials{AccountID: "AC1", Secret: "s"}

	tests := []struct {
		name      string
		available []string
		purchErr  error
		areaCode  string
		wantErr   error
	}{
		{name: "purchases first match", available: []string{"+14155550100", "+14155550101"}, areaCode: "415"},
		{name: "no numbers", available: nil, wantErr: domain.ErrNoNumbersAvailable},
		{name: "bad area code", available: []string{"+14155550100"}, areaCode: "41", wantErr: domain.ErrInvalidAreaCode},
		{
			name:      "rejected purchase",
			available: []string{"+14155550100"},
			purchErr:  &domain.ProviderError{Op: "purchase_number", Err: errors.New("status 409")},
			wantErr:   domain.ErrPurchaseFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := telephonytest.New()
			provider.Available = tt.available
			provider.PurchaseErr = tt.purchErr
			svc, numbers := newNumberService(provider)

			n, err := svc.PurchaseNumber(context.Background(), tenantID, creds, tt.areaCode)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				list, _ := numbers.ListByTenant(context.Background(), tenantID)
				assert.Empty(t, list)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "+14155550100", n.Number)
			assert.Equal(t, domain.NumberTypeProviderPurchased, n.Type)
			assert.Equal(t, domain.VerificationSuccess, n.VerificationStatus)
			assert.True(t, n.UsableForOutbound())
			assert.Equal(t, []string{"+14155550100"}, provider.Purchased)
			assert.Equal(t, []telephony.VoiceURLs{{
				VoiceURL:          "https://voice.example.com/voice/inbound",
				StatusCallbackURL: "https://voice.example.com/voice/status",
			}}, provider.PurchasedURLs)
		})
	}
}

func TestNumberService_RegisterForVerification(t *testing.T) {
	svc, _ := newNumberService(telephonytest.New())
	tenantID := uuid.New()

	n, err := svc.RegisterForVerification(context.Background(), tenantID, " +15551234567 ", "Front desk")
	require.NoError(t, err)
	assert.Equal(t, domain.NumberTypeVerifiedCallerID, n.Type)
	assert.Equal(t, domain.VerificationPending, n.VerificationStatus)
	assert.Equal(t, "Front desk", n.Label)

	_, err = svc.RegisterForVerification(context.Background(), tenantID, "+15551234567", "again")
	assert.ErrorIs(t, err, domain.ErrPhoneNumberExists)

	_, err = svc.RegisterForVerification(context.Background(), tenantID, "5551234567", "")
	assert.ErrorIs(t, err, domain.ErrInvalidPhoneNumber)
}

func TestNumberService_SetDefault_RequiresUsableNumber(t *testing.T) {
	svc, numbers := newNumberService(telephonytest.New())
	tenantID := uuid.New()

	pending, err := svc.RegisterForVerification(context.Background(), tenantID, "+15551234567", "")
	require.NoError(t, err)
	_, err = svc.SetDefault(context.Background(), tenantID, pending.ID)
	assert.ErrorIs(t, err, domain.ErrPreconditionFailed)

	purchased := &domain.PhoneNumber{
		ID: uuid.New(), TenantID: tenantID, Number: "+14155550100",
		Type: domain.NumberTypeProviderPurchased, VerificationStatus: domain.VerificationSuccess,
	}
	require.NoError(t, numbers.Create(context.Background(), purchased))

	got, err := svc.SetDefault(context.Background(), tenantID, purchased.ID)
	require.NoError(t, err)
	assert.True(t, got.IsDefault)
}
