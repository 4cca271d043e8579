// Package auth verifies and issues the bearer tokens that carry a caller's
// identity. Tokens are HS256 JWTs holding {id, email, exp}.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken = errors.New("no token provided")
	ErrInvalidToken = errors.New("invalid token")
)

const DefaultTokenTTL = 7 * 24 * time.Hour

// Identity is the caller as asserted by a verified token.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type claims struct {
	jwt.RegisteredClaims
	ID    string `json:"id"`
	Email string `json:"email"`
}

type Verifier interface {
	Verify(token string) (Identity, error)
}

type Config struct {
	Secret   []byte
	TokenTTL time.Duration
	Now      func() time.Time
}

// Tokens verifies and issues tokens signed with a shared secret.
type Tokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

var _ Verifier = &Tokens{}

func New(cfg Config) (*Tokens, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("token secret is required")
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = DefaultTokenTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Tokens{
		secret: cfg.Secret,
		ttl:    cfg.TokenTTL,
		now:    cfg.Now,
	}, nil
}

// Issue signs a token for the identity, expiring after the configured TTL.
func (t *Tokens) Issue(id Identity) (string, error) {
	now := t.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
		ID:    id.ID,
		Email: id.Email,
	})
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks signature and expiry and returns the embedded identity.
// It has no side effects.
func (t *Tokens) Verify(token string) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, ErrMissingToken
	}

	var parsed claims
	_, err := jwt.ParseWithClaims(token, &parsed, func(*jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if parsed.ID == "" {
		return Identity{}, fmt.Errorf("%w: id claim is required", ErrInvalidToken)
	}
	return Identity{ID: parsed.ID, Email: parsed.Email}, nil
}

// FromHeader extracts the token from an "Authorization: Bearer <token>"
// header. Anything else yields an empty string.
func FromHeader(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
