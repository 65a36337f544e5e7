package session

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// TypeAccess and TypeRefresh are the token_type claim values. Each type
	// is bound to its own signing secret and lifetime; a token verified by
	// the wrong strategy is rejected.
	TypeAccess  = "access"
	TypeRefresh = "refresh"

	defaultIssuer     = "stratex"
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 24 * time.Hour * 14
)

// Payload is the verified, minimal token content the guard needs: who the
// token is for and when it was issued (seconds since epoch).
type Payload struct {
	Subject  string
	IssuedAt int64
}

// Strategy verifies raw bearer tokens of one type and issues new ones.
// Two instances exist per deployment: access and refresh. They share the
// claim layout and differ only in secret, lifetime and token_type.
type Strategy interface {
	Verify(raw string) (Payload, error)
	Issue(subject string, now time.Time) (token string, expiresAt time.Time, err error)
	Type() string
}

type claims struct {
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

type hs256Strategy struct {
	secret    []byte
	ttl       time.Duration
	issuer    string
	tokenType string
}

// NewAccessStrategy builds the access-token strategy over its own secret.
func NewAccessStrategy(secret string, ttl time.Duration, issuer string) (Strategy, error) {
	return newHS256Strategy(secret, ttl, issuer, TypeAccess, defaultAccessTTL)
}

// NewRefreshStrategy builds the refresh-token strategy over its own secret.
func NewRefreshStrategy(secret string, ttl time.Duration, issuer string) (Strategy, error) {
	return newHS256Strategy(secret, ttl, issuer, TypeRefresh, defaultRefreshTTL)
}

func newHS256Strategy(secret string, ttl time.Duration, issuer, tokenType string, fallbackTTL time.Duration) (Strategy, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("session: signing secret is required")
	}
	if ttl <= 0 {
		ttl = fallbackTTL
	}
	issuer = strings.TrimSpace(issuer)
	if issuer == "" {
		issuer = defaultIssuer
	}
	return &hs256Strategy{
		secret:    []byte(secret),
		ttl:       ttl,
		issuer:    issuer,
		tokenType: tokenType,
	}, nil
}

func (s *hs256Strategy) Type() string { return s.tokenType }

func (s *hs256Strategy) Issue(subject string, now time.Time) (string, time.Time, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", time.Time{}, errors.New("session: subject is required")
	}
	now = now.UTC()
	expiresAt := now.Add(s.ttl)
	c := claims{
		TokenType: s.tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

func (s *hs256Strategy) Verify(raw string) (Payload, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Payload{}, ErrNotAuthenticated
	}
	parsed, err := jwt.ParseWithClaims(raw, &claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrNotAuthenticated
		}
		return s.secret, nil
	}, jwt.WithIssuer(s.issuer), jwt.WithExpirationRequired())
	if err != nil {
		return Payload{}, ErrNotAuthenticated
	}
	c, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid {
		return Payload{}, ErrNotAuthenticated
	}
	if c.TokenType != s.tokenType {
		return Payload{}, ErrNotAuthenticated
	}
	if strings.TrimSpace(c.Subject) == "" {
		return Payload{}, ErrNotAuthenticated
	}
	payload := Payload{Subject: c.Subject}
	if c.IssuedAt != nil {
		payload.IssuedAt = c.IssuedAt.Unix()
	}
	return payload, nil
}
