// Package capability issues and verifies short-lived scoped tokens embedded in
// provider callback URLs and handed to embedded widgets.
package capability

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/tendant/callgate/internal/domain"
)

// Scopes.
const (
	ScopeVerificationCallback = "verification:callback"
	ScopeCallStatus           = "calls:status"
	ScopeWidgetSubmit         = "widget:submit"
)

// Claims are the claims carried by a capability token.
type Claims struct {
	jwt.RegisteredClaims
	Scope    string `json:"scope"`
	TenantID string `json:"tid,omitempty"`
}

// Issuer signs and verifies capability tokens with HS256.
type Issuer struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewIssuer creates a new capability token issuer.
func NewIssuer(secret []byte, issuer string) *Issuer {
	return &Issuer{secret: secret, issuer: issuer, now: time.Now}
}

// WithClock overrides the clock. Used in tests.
func (i *Issuer) WithClock(now func() time.Time) *Issuer {
	i.now = now
	return i
}

// Issue signs a token granting scope over subject for ttl.
func (i *Issuer) Issue(scope, subject, tenantID string, ttl time.Duration) (string, error) {
	now := i.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Scope:    scope,
		TenantID: tenantID,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}

// Verify parses tokenString and checks that it was issued here, is unexpired and
// grants scope.
func (i *Issuer) Verify(tokenString, scope string) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)

	claims := &Claims{}
	token, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return i.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, domain.ErrTokenExpired
		}
		return nil, domain.ErrInvalidToken
	}
	if !token.Valid {
		return nil, domain.ErrInvalidToken
	}
	if claims.Scope != scope {
		return nil, domain.ErrForbidden
	}
	return claims, nil
}
