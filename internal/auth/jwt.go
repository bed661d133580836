package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Issuer is the issuer claim of admin tokens
const Issuer = "ca-indexer"

var (
	// ErrAdminDisabled is returned when no admin secret is configured
	ErrAdminDisabled = errors.New("admin access disabled")

	// ErrInvalidToken is returned for tokens that fail verification
	ErrInvalidToken = errors.New("invalid token")
)

// AdminVerifier issues and verifies HS256 admin bearer tokens
type AdminVerifier struct {
	secret []byte
	now    func() time.Time
}

// NewAdminVerifier creates a new admin token verifier. An empty secret
// rejects every token.
func NewAdminVerifier(secret string) *AdminVerifier {
	return &AdminVerifier{secret: []byte(secret), now: time.Now}
}

// Enabled reports whether a secret is configured
func (v *AdminVerifier) Enabled() bool {
	return len(v.secret) > 0
}

// IssueToken signs a token for subject valid for ttl
func (v *AdminVerifier) IssueToken(subject string, ttl time.Duration) (string, error) {
	if !v.Enabled() {
		return "", ErrAdminDisabled
	}
	now := v.now()
	claims := jwt.RegisteredClaims{
		Issuer:    Issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify checks a token, with or without its "Bearer " prefix, and returns
// its subject
func (v *AdminVerifier) Verify(tokenString string) (string, error) {
	if !v.Enabled() {
		return "", ErrAdminDisabled
	}
	tokenString = strings.TrimPrefix(tokenString, "Bearer ")
	if tokenString == "" {
		return "", fmt.Errorf("%w: empty token", ErrInvalidToken)
	}

	var claims jwt.RegisteredClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return "", fmt.Errorf("%w: no subject", ErrInvalidToken)
	}
	return claims.Subject, nil
}

// ValidateToken is a middleware-friendly wrapper around Verify
func (v *AdminVerifier) ValidateToken(authHeader string) (string, bool) {
	sub, err := v.Verify(authHeader)
	if err != nil {
		return "", false
	}
	return sub, true
}
