// Package auth validates the dashboard access tokens issued by the identity
// service (simple-idm). Tokens are HS256 JWTs that carry the caller's tenant.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/tendant/callgate/internal/domain"
)

// AccessTokenClaims represents the claims in a dashboard access token.
type AccessTokenClaims struct {
	jwt.RegisteredClaims
	Email        string `json:"email,omitempty"`
	Name         string `json:"name,omitempty"`
	TenantID     string `json:"tenant_id"`
	MembershipID string `json:"membership_id,omitempty"`
}

// Principal is the authenticated dashboard caller.
type Principal struct {
	UserID   uuid.UUID
	TenantID uuid.UUID
	Claims   *AccessTokenClaims
}

// TokenValidator validates dashboard access tokens.
type TokenValidator struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewTokenValidator creates a validator for tokens signed with secret by issuer.
func NewTokenValidator(secret []byte, issuer string) *TokenValidator {
	return &TokenValidator{secret: secret, issuer: issuer, now: time.Now}
}

// ValidateAccessToken parses and validates tokenString.
func (v *TokenValidator) ValidateAccessToken(tokenString string) (*Principal, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &AccessTokenClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, domain.ErrTokenExpired
		}
		return nil, domain.ErrInvalidToken
	}
	if !token.Valid {
		return nil, domain.ErrInvalidToken
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, domain.ErrInvalidToken
	}
	tenantID, err := uuid.Parse(claims.TenantID)
	if err != nil {
		return nil, domain.ErrInvalidToken
	}
	return &Principal{UserID: userID, TenantID: tenantID, Claims: claims}, nil
}

// IssueAccessToken signs a token the way the identity service does. It is
// used by tests and local tooling.
func (v *TokenValidator) IssueAccessToken(userID, tenantID uuid.UUID, ttl time.Duration) (string, error) {
	now := v.now()
	claims := AccessTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		TenantID: tenantID.String(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
