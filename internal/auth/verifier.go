// Package auth issues and verifies the bearer tokens required on the
// command channel.
//
//   - pilot: may send commands and watch telemetry
//   - observer: telemetry only
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	RolePilot    = "pilot"
	RoleObserver = "observer"
)

var (
	// ErrUnauthorized indicates a missing or invalid token.
	ErrUnauthorized = errors.New("auth: unauthorized")

	// ErrForbidden indicates a valid token without the required role.
	ErrForbidden = errors.New("auth: forbidden")
)

// Claims are the verified contents of a token.
type Claims struct {
	Subject string
	Roles   []string
	Expires time.Time
}

// HasRole reports whether the claims carry role.
func (c *Claims) HasRole(role string) bool {
	return slices.Contains(c.Roles, role)
}

type tokenClaims struct {
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// Verifier signs and checks HS256 tokens with a shared secret.
type Verifier struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewVerifier returns a verifier for the given secret.
func NewVerifier(secret, issuer string) (*Verifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("auth: HS256 requires a secret")
	}
	return &Verifier{secret: []byte(secret), issuer: issuer, now: time.Now}, nil
}

// Issue signs a token for subject with the given roles.
func (v *Verifier) Issue(subject string, ttl time.Duration, roles ...string) (string, error) {
	for _, r := range roles {
		if r != RolePilot && r != RoleObserver {
			return "", fmt.Errorf("auth: unknown role %q", r)
		}
	}
	now := v.now()
	claims := tokenClaims{
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// VerifyToken checks the signature, expiry and issuer of a token.
func (v *Verifier) VerifyToken(tokenString string) (*Claims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, fmt.Errorf("%w: empty token", ErrUnauthorized)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.now),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	var tc tokenClaims
	token, err := jwt.ParseWithClaims(tokenString, &tc, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("%w: invalid token", ErrUnauthorized)
	}
	if tc.Subject == "" || len(tc.Roles) == 0 {
		return nil, fmt.Errorf("%w: missing subject or roles", ErrUnauthorized)
	}

	c := &Claims{Subject: tc.Subject, Roles: tc.Roles}
	if tc.ExpiresAt != nil {
		c.Expires = tc.ExpiresAt.Time
	}
	return c, nil
}

// Authorize extracts the bearer token from r and checks it carries one of
// roles. Browsers cannot set headers on a websocket upgrade, so a "token"
// query parameter is accepted as well.
func (v *Verifier) Authorize(r *http.Request, roles ...string) (*Claims, error) {
	tok := BearerToken(r)
	if tok == "" {
		tok = r.URL.Query().Get("token")
	}
	c, err := v.VerifyToken(tok)
	if err != nil {
		return nil, err
	}
	for _, role := range roles {
		if c.HasRole(role) {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: one of %v required", ErrForbidden, roles)
}

// BearerToken returns the token of an "Authorization: Bearer" header.
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) < len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(h[len(prefix):])
}

// StatusCode maps an auth error to an HTTP status.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	}
	return http.StatusInternalServerError
}
