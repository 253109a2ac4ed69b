package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/tendant/callgate/internal/auth"
	"github.com/tendant/callgate/internal/domain"
	"github.com/tendant/callgate/internal/httputil"
)

type contextKey string

const (
	// UserIDKey is the context key for the authenticated user ID.
	UserIDKey contextKey = "user_id"
	// TenantIDKey is the context key for the tenant ID.
	TenantIDKey contextKey = "tenant_id"
	// ClaimsKey is the context key for the token claims.
	ClaimsKey contextKey = "claims"
)

// AccessTokenValidator validates dashboard access tokens.
type AccessTokenValidator interface {
	ValidateAccessToken(token string) (*auth.Principal, error)
}

// Auth creates middleware that validates dashboard access tokens.
// Checks Authorization header first, then falls back to cookie for web clients.
func Auth(validator AccessTokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, ok := httputil.BearerToken(r)
			if !ok {
				tokenString, ok = httputil.AccessTokenFromCookie(r)
			}
			if !ok {
				httputil.Error(w, http.StatusUnauthorized, "missing authorization")
				return
			}

			principal, err := validator.ValidateAccessToken(tokenString)
			if err != nil {
				if errors.Is(err, domain.ErrTokenExpired) {
					httputil.Error(w, http.StatusUnauthorized, "token expired")
					return
				}
				httputil.Error(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), UserIDKey, principal.UserID)
			ctx = context.WithValue(ctx, TenantIDKey, principal.TenantID)
			ctx = context.WithValue(ctx, ClaimsKey, principal.Claims)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetUserID extracts the user ID from the request context.
func GetUserID(ctx context.Context) (uuid.UUID, bool) {
	userID, ok := ctx.Value(UserIDKey).(uuid.UUID)
	return userID, ok
}

// GetTenantID extracts the tenant ID from the request context.
func GetTenantID(ctx context.Context) (uuid.UUID, bool) {
	tenantID, ok := ctx.Value(TenantIDKey).(uuid.UUID)
	return tenantID, ok
}

// GetClaims extracts the token claims from the request context.
func GetClaims(ctx context.Context) (*auth.AccessTokenClaims, bool) {
	claims, ok := ctx.Value(ClaimsKey).(*auth.AccessTokenClaims)
	return claims, ok
}

// WithTenantID returns a copy of ctx carrying tenantID. Used by tests and
// internal callers that bypass Auth.
func WithTenantID(ctx context.Context, tenantID uuid.UUID) context.Context {
	return context.WithValue(ctx, TenantIDKey, tenantID)
}
