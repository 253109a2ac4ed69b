package widget

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/callgate/internal/admission"
	"github.com/tendant/callgate/internal/capability"
	"github.com/tendant/callgate/internal/domain"
	"github.com/tendant/callgate/internal/repository/memory"
)

func TestMatchOrigin(t *testing.T) {
	allowed := []string{"*.example.com", "shop.test.io", "https://Brand.co:8443/path"}

	tests := []struct {
		host string
		want bool
	}{
		{"example.com", true},
		{"www.example.com", true},
		{"a.b.example.com", true},
		{"badexample.com", false},
		{"example.com.evil.net", false},
		{"shop.test.io", true},
		{"www.shop.test.io", false},
		{"test.io", false},
		{"brand.co", true},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchOrigin(tt.host, allowed))
		})
	}
}

func TestOriginHost(t *testing.T) {
	host, ok := OriginHost("https://WWW.Example.com:443")
	require.True(t, ok)
	assert.Equal(t, "www.example.com", host)

	_, ok = OriginHost("null")
	assert.False(t, ok)
	_, ok = OriginHost("")
	assert.False(t, ok)
}

type fakeDialer struct {
	requests []admission.CallRequest
	err      error
}

func (d *fakeDialer) PlaceCall(_ context.Context, req admission.CallRequest) (*domain.CallAttempt, error) {
	d.requests = append(d.requests, req)
	if d.err != nil {
		return nil, d.err
	}
	return &domain.CallAttempt{ID: uuid.New(), TenantID: req.TenantID, Status: domain.CallStatusInitiated}, nil
}

type fixture struct {
	svc      *Service
	tokens   *capability.Issuer
	forms    *memory.WidgetForms
	agents   *memory.Agents
	numbers  *memory.PhoneNumbers
	leads    *memory.Leads
	dialer   *fakeDialer
	form     *domain.WidgetForm
	agent    *domain.Agent
	numberID uuid.UUID
}

func newFixture(t *testing.T, status domain.VerificationStatus) *fixture {
	t.Helper()
	f := &fixture{
		tokens:  capability.NewIssuer([]byte("widget-secret"), "callgate"),
		forms:   memory.NewWidgetForms(),
		agents:  memory.NewAgents(),
		numbers: memory.NewPhoneNumbers(),
		leads:   memory.NewLeads(),
		dialer:  &fakeDialer{},
	}
	tenantID := uuid.New()
	f.numberID = uuid.New()
	require.NoError(t, f.numbers.Create(context.Background(), &domain.PhoneNumber{
		ID: f.numberID, TenantID: tenantID, Number: "+14155550100",
		Type: domain.NumberTypeVerifiedCallerID, VerificationStatus: status,
	}))
	f.agent = &domain.Agent{ID: uuid.New(), TenantID: tenantID, Name: "Front desk", PhoneNumberID: &f.numberID}
	f.agents.Put(f.agent)
	f.form = &domain.WidgetForm{ID: uuid.New(), TenantID: tenantID, AgentID: f.agent.ID, Name: "Contact", AllowedDomains: []string{"*.example.com"}}
	f.forms.Put(f.form)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.svc = NewService(logger, f.forms, f.agents, f.numbers, f.leads, f.dialer, f.tokens, 0)
	return f
}

func TestService_Authenticate(t *testing.T) {
	f := newFixture(t, domain.VerificationSuccess)
	ctx := context.Background()

	token, expiresAt, err := f.svc.IssueToken(ctx, f.form.TenantID, f.form.ID)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(DefaultTokenTTL), expiresAt, time.Minute)

	form, err := f.svc.Authenticate(ctx, f.form.ID, token)
	require.NoError(t, err)
	assert.Equal(t, f.form.ID, form.ID)

	otherForm := &domain.WidgetForm{ID: uuid.New(), TenantID: f.form.TenantID, AgentID: f.agent.ID}
	f.forms.Put(otherForm)
	callbackToken, err := f.tokens.Issue(capability.ScopeVerificationCallback, f.form.ID.String(), f.form.TenantID.String(), time.Hour)
	require.NoError(t, err)
	foreignToken, err := f.tokens.Issue(capability.ScopeWidgetSubmit, f.form.ID.String(), uuid.NewString(), time.Hour)
	require.NoError(t, err)
	expired, err := capability.NewIssuer([]byte("widget-secret"), "callgate").
		WithClock(func() time.Time { return time.Now().Add(-48 * time.Hour) }).
		Issue(capability.ScopeWidgetSubmit, f.form.ID.String(), f.form.TenantID.String(), time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		formID uuid.UUID
		token  string
		want   error
	}{
		{"missing token", f.form.ID, "", domain.ErrUnauthorized},
		{"garbage token", f.form.ID, "not-a-jwt", domain.ErrInvalidToken},
		{"token for another form", otherForm.ID, token, domain.ErrInvalidToken},
		{"wrong scope", f.form.ID, callbackToken, domain.ErrInvalidToken},
		{"wrong tenant", f.form.ID, foreignToken, domain.ErrInvalidToken},
		{"expired", f.form.ID, expired, domain.ErrTokenExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Authenticate(ctx, tt.formID, tt.token)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, domain.ErrUnauthorized)
		})
	}
}

func TestService_IssueToken_OtherTenant(t *testing.T) {
	f := newFixture(t, domain.VerificationSuccess)
	_, _, err := f.svc.IssueToken(context.Background(), uuid.New(), f.form.ID)
	assert.ErrorIs(t, err, domain.ErrFormNotFound)
}

func TestService_AuthorizeOrigin(t *testing.T) {
	f := newFixture(t, domain.VerificationSuccess)
	ctx := context.Background()

	origin, err := f.svc.AuthorizeOrigin(ctx, f.form, "https://www.example.com")
	require.NoError(t, err)
	assert.Equal(t, "https://www.example.com", origin)

	_, err = f.svc.AuthorizeOrigin(ctx, f.form, "https://evil.net")
	assert.ErrorIs(t, err, domain.ErrOriginNotAllowed)

	_, err = f.svc.Preflight(ctx, f.form.ID, "https://example.com")
	require.NoError(t, err)
	_, err = f.svc.Preflight(ctx, uuid.New(), "https://example.com")
	assert.ErrorIs(t, err, domain.ErrFormNotFound)
}

func TestService_Submit(t *testing.T) {
	f := newFixture(t, domain.VerificationSuccess)

	lead, err := f.svc.Submit(context.Background(), f.form, Submission{Name: "  Ada ", Phone: "+14155559999", Email: "ada@example.com"})
	require.NoError(t, err)

	assert.Equal(t, "Ada", lead.Name)
	assert.Equal(t, domain.LeadSourceWidget, lead.Source)
	require.NotNil(t, lead.Email)
	assert.Nil(t, lead.Notes)
	require.Len(t, f.leads.All(), 1)

	require.Len(t, f.dialer.requests, 1)
	req := f.dialer.requests[0]
	assert.Equal(t, f.numberID, req.FromNumberID)
	assert.Equal(t, "+14155559999", req.ToNumber)
	assert.Equal(t, domain.CallSourceWidget, req.Source)
	assert.Equal(t, lead.ID, *req.LeadID)
	assert.Equal(t, f.agent.ID, *req.AgentID)
}

func TestService_Submit_InvalidPayload(t *testing.T) {
	f := newFixture(t, domain.VerificationSuccess)

	_, err := f.svc.Submit(context.Background(), f.form, Submission{Phone: "555"})
	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Fields, "name")
	assert.Contains(t, ve.Fields, "phone")
	assert.Empty(t, f.leads.All())
	assert.Empty(t, f.dialer.requests)
}

func TestService_Submit_AgentNumberNotVerified(t *testing.T) {
	for _, status := range []domain.VerificationStatus{domain.VerificationPending, domain.VerificationFailed} {
		t.Run(string(status), func(t *testing.T) {
			f := newFixture(t, status)
			lead, err := f.svc.Submit(context.Background(), f.form, Submission{Name: "Ada", Phone: "+14155559999"})
			assert.ErrorIs(t, err, domain.ErrAgentNumberNotVerified)
			assert.NotNil(t, lead)
			assert.Len(t, f.leads.All(), 1)
			assert.Empty(t, f.dialer.requests)
		})
	}
}

func TestService_Submit_AgentWithoutNumber(t *testing.T) {
	f := newFixture(t, domain.VerificationSuccess)
	f.agent.PhoneNumberID = nil
	f.agents.Put(f.agent)

	_, err := f.svc.Submit(context.Background(), f.form, Submission{Name: "Ada", Phone: "+14155559999"})
	assert.ErrorIs(t, err, domain.ErrAgentHasNoNumber)
	assert.Empty(t, f.dialer.requests)
}

func TestService_Submit_Denied(t *testing.T) {
	f := newFixture(t, domain.VerificationSuccess)
	f.dialer.err = &domain.AdmissionDeniedError{Reason: domain.ReasonPoolExhausted}

	lead, err := f.svc.Submit(context.Background(), f.form, Submission{Name: "Ada", Phone: "+14155559999"})
	var denied *domain.AdmissionDeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, domain.ReasonPoolExhausted, denied.Reason)
	assert.NotNil(t, lead)
}
