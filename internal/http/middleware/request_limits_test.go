package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/callgate/internal/httputil"
)

type dialRequest struct {
	To string `json:"to"`
}

func dialHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req dialRequest
		if err := httputil.DecodeJSON(r, &req); err != nil {
			httputil.WriteError(w, err)
			return
		}
		httputil.JSON(w, http.StatusOK, req)
	})
}

func TestRequestSizeLimit(t *testing.T) {
	small := `{"to":"+14155550100"}`
	oversized := `{"to":"` + strings.Repeat("1", 256) + `"}`

	tests := []struct {
		name       string
		maxBytes   int64
		body       string
		wantStatus int
		wantError  string
	}{
		{name: "within limit", maxBytes: 128, body: small, wantStatus: http.StatusOK},
		{name: "over limit", maxBytes: 128, body: oversized, wantStatus: http.StatusRequestEntityTooLarge, wantError: "request body too large"},
		{name: "empty body", maxBytes: 128, body: "", wantStatus: http.StatusBadRequest, wantError: "request body is empty"},
		{name: "malformed body", maxBytes: 128, body: `{"to":`, wantStatus: http.StatusBadRequest, wantError: "invalid request body"},
		{name: "no limit configured", maxBytes: 0, body: oversized, wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := RequestSizeLimit(tt.maxBytes)(dialHandler())
			req := httptest.NewRequest(http.MethodPost, "/v1/calls", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantError == "" {
				return
			}
			var resp httputil.ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Contains(t, resp.Error, tt.wantError)
		})
	}
}
