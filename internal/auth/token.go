package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenVerifier validates bearer tokens issued by the login flow. Tokens
// are HS256-signed with the deployment's verification key; expiry and
// issued-at are enforced with a small leeway.
type TokenVerifier struct {
	key    []byte
	leeway time.Duration
}

// NewTokenVerifier creates a verifier for the given signing key.
func NewTokenVerifier(key []byte) *TokenVerifier {
	return &TokenVerifier{key: key, leeway: 30 * time.Second}
}

// Verify parses and validates a bearer token and returns the principal id
// from its subject claim.
func (v *TokenVerifier) Verify(token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(t *jwt.Token) (any, error) { return v.key, nil },
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithLeeway(v.leeway),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return "", ErrInvalidCredentials
	}
	return claims.Subject, nil
}

// Issue mints a token for a principal. Used by the login collaborator and
// by tests; the core itself only verifies.
func (v *TokenVerifier) Issue(principal string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   principal,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(v.key)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}
