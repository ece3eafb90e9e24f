// Package auth validates the bearer tokens sent to the HTTP surface.
package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rotisserie/eris"
)

// Sentinels matched with errors.Is.
var (
	ErrUnauthorized    = eris.New("auth: unauthorized")
	ErrMissingClientID = eris.New("auth: client id is required")
)

// Error is a rejected request. It unwraps to ErrMissingClientID for a 400 and
// to ErrUnauthorized for a 401.
type Error struct {
	Status int
	Reason string
}

func (e *Error) Error() string { return "auth: " + e.Reason }

func (e *Error) Unwrap() error {
	if e.Status == http.StatusBadRequest {
		return ErrMissingClientID
	}
	return ErrUnauthorized
}

func unauthorized(reason string) *Error {
	return &Error{Status: http.StatusUnauthorized, Reason: reason}
}

// Claims are the token claims the service checks.
type Claims struct {
	ID   string `json:"id"`
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Validator checks HS256 tokens against a shared secret.
type Validator struct {
	secret []byte
	role   string
	maxAge time.Duration
	now    func() time.Time
}

// NewValidator creates a validator. Tokens must carry role and be issued
// no more than maxAge ago.
func NewValidator(secret, role string, maxAge time.Duration) *Validator {
	return &Validator{secret: []byte(secret), role: role, maxAge: maxAge, now: time.Now}
}

// Validate checks the Authorization header value for clientID and returns
// the token claims.
func (v *Validator) Validate(authHeader, clientID string) (*Claims, error) {
	if strings.TrimSpace(clientID) == "" {
		return nil, &Error{Status: http.StatusBadRequest, Reason: "client id is required for authorization"}
	}

	scheme, token, ok := strings.Cut(strings.TrimSpace(authHeader), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
		return nil, unauthorized("authorization token not found")
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(strings.TrimSpace(token), claims,
		func(*jwt.Token) (any, error) { return v.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return nil, unauthorized("invalid token: " + err.Error())
	}

	if claims.ID != clientID {
		return nil, unauthorized("client id does not match the token")
	}
	if claims.IssuedAt == nil || v.now().Sub(claims.IssuedAt.Time) > v.maxAge {
		return nil, unauthorized("token expired")
	}
	if claims.Role != v.role {
		return nil, unauthorized("role not authorized")
	}
	return claims, nil
}
