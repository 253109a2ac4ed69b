package numbers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/callgate/internal/domain"
	"github.com/tendant/callgate/internal/events"
	"github.com/tendant/callgate/internal/http/middleware"
	"github.com/tendant/callgate/internal/provisioning"
	"github.com/tendant/callgate/internal/repository/memory"
	"github.com/tendant/callgate/internal/telephony"
	"github.com/tendant/callgate/internal/telephony/telephonytest"
	"github.com/tendant/callgate/internal/verification"
)

type staticCreds struct{}

func (staticCreds) Resolve(context.Context, uuid.UUID) (telephony.Credentials, error) {
	return telephony.Credentials{AccountID: "AC1", Secret: "s"}, nil
}

type staticCallbacks struct{}

func (staticCallbacks) Verification(tenantID, phoneNumberID string) (string, error) {
	return "https://api.example.com/v1/telephony/verifications/callback?token=x", nil
}

type fixture struct {
	router   http.Handler
	numbers  *memory.PhoneNumbers
	provider *telephonytest.Fake
	tenantID uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &fixture{
		numbers:  memory.NewPhoneNumbers(),
		provider: telephonytest.New(),
		tenantID: uuid.New(),
	}
	verifier := verification.NewService(logger, f.numbers, f.provider, staticCreds{}, verification.HOTPCodes{}, staticCallbacks{}, events.Nop{})
	svc := provisioning.NewNumberService(logger, f.numbers, f.provider, verifier, provisioning.VoiceRuntimeURLs("https://voice.example.com"))
	h := NewHandler(logger, svc, verifier, staticCreds{})

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(middleware.WithTenantID(req.Context(), f.tenantID)))
		})
	})
	h.RegisterRoutes(r)
	f.router = r
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(v))
}

func TestVerifyPollAndDelete(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/numbers/verify", `{"number":"+14155550100","label":"Front desk"}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "validation_code")

	var created NumberResponse
	decode(t, rec, &created)
	assert.Equal(t, "pending", created.VerificationStatus)
	assert.Equal(t, "Front desk", created.Label)
	require.Len(t, f.provider.VerificationCalls, 1)

	stored, err := f.numbers.GetByID(context.Background(), f.tenantID, created.ID)
	require.NoError(t, err)
	f.provider.SetStatus(*stored.VerificationSessionID, domain.VerificationSuccess)

	rec = f.do(t, http.MethodGet, "/v1/numbers/"+created.ID.String()+"/verification", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var polled NumberResponse
	decode(t, rec, &polled)
	assert.Equal(t, "success", polled.VerificationStatus)

	rec = f.do(t, http.MethodPost, "/v1/numbers/"+created.ID.String()+"/retry", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPut, "/v1/numbers/"+created.ID.String()+"/default", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodDelete, "/v1/numbers/"+created.ID.String(), "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/numbers", "")
	var list struct {
		Numbers []NumberResponse `json:"numbers"`
	}
	decode(t, rec, &list)
	assert.Empty(t, list.Numbers)
}

func TestVerify_Invalid(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/numbers/verify", `{"number":"415-555-0100"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var body struct {
		Error   string            `json:"error"`
		Details map[string]string `json:"details"`
	}
	decode(t, rec, &body)
	assert.Contains(t, body.Details, "number")
	assert.Empty(t, f.provider.VerificationCalls)

	rec = f.do(t, http.MethodPost, "/v1/numbers/verify", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVerify_Duplicate(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/numbers/verify", `{"number":"+14155550100"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	rec = f.do(t, http.MethodPost, "/v1/numbers/verify", `{"number":"+14155550100"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestPurchase(t *testing.T) {
	f := newFixture(t)
	f.provider.Available = []string{"+14155550123", "+14155550124"}

	rec := f.do(t, http.MethodPost, "/v1/numbers/purchase", `{"area_code":"415"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var n NumberResponse
	decode(t, rec, &n)
	assert.Equal(t, "provider_purchased", n.Type)
	assert.Equal(t, "success", n.VerificationStatus)
	assert.Equal(t, "+14155550123", n.Number)

	rec = f.do(t, http.MethodDelete, "/v1/numbers/"+n.ID.String(), "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestPurchase_Errors(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/numbers/purchase", `{"area_code":"41"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/numbers/purchase", "")
	assert.Equal(t, http.StatusNotFound, rec.Code, "no numbers available")
}

func TestInvalidID(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/v1/numbers/not-a-uuid/verification", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/numbers/"+uuid.NewString()+"/verification", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRequiresTenant(t *testing.T) {
	h := &Handler{}
	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/v1/numbers", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
