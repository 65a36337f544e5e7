package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"stratex.org/internal/authz"
	"stratex.org/internal/credential"
)

// Service issues and refreshes token pairs and rotates the revocation
// watermark. Verification goes through the two guards so refresh tokens are
// subject to the identical watermark rule as access tokens.
type Service struct {
	users        authz.UserStore
	access       Strategy
	refresh      Strategy
	accessGuard  *Guard
	refreshGuard *Guard
	now          func() time.Time
}

// Option configures Service behavior.
type Option func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService wires the user store and both strategies together.
func NewService(users authz.UserStore, access, refresh Strategy, opts ...Option) (*Service, error) {
	if users == nil {
		return nil, errors.New("session: user store is required")
	}
	if access == nil || refresh == nil {
		return nil, errors.New("session: both token strategies are required")
	}
	accessGuard, err := NewGuard(users, access)
	if err != nil {
		return nil, err
	}
	refreshGuard, err := NewGuard(users, refresh)
	if err != nil {
		return nil, err
	}
	s := &Service{
		users:        users,
		access:       access,
		refresh:      refresh,
		accessGuard:  accessGuard,
		refreshGuard: refreshGuard,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// AccessGuard returns the guard HTTP middleware authenticates with.
func (s *Service) AccessGuard() *Guard { return s.accessGuard }

// TokenPair carries freshly issued credentials.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// IssuePair authenticates email/password and mints a fresh token pair.
func (s *Service) IssuePair(ctx context.Context, email, password string) (TokenPair, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return TokenPair{}, ErrNotAuthenticated
	}
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return TokenPair{}, ErrNotAuthenticated
	}
	if !user.Active {
		return TokenPair{}, ErrNotAuthenticated
	}
	if err := credential.VerifyPassword(user.PasswordHash, password); err != nil {
		return TokenPair{}, ErrNotAuthenticated
	}
	return s.mint(user.ID)
}

// Refresh verifies a refresh token (signature, expiry, watermark) and mints
// a new pair for its subject.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	subject, err := s.refreshGuard.Verify(ctx, refreshToken)
	if err != nil {
		return TokenPair{}, ErrNotAuthenticated
	}
	return s.mint(subject)
}

// LogoutAll moves the user's watermark to the present instant in a single
// write, revoking every outstanding access and refresh token at once.
func (s *Service) LogoutAll(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return errors.New("session: user id is required")
	}
	return s.users.SetInvalidBefore(ctx, userID, s.now().UTC())
}

// RotateCredential updates the password hash and moves the watermark in the
// same call so stolen tokens die with the old credential.
func (s *Service) RotateCredential(ctx context.Context, userID, newPassword string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return errors.New("session: user id is required")
	}
	hash, err := credential.HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePassword(ctx, userID, hash); err != nil {
		return err
	}
	return s.users.SetInvalidBefore(ctx, userID, s.now().UTC())
}

func (s *Service) mint(subject string) (TokenPair, error) {
	now := s.now()
	accessToken, accessExp, err := s.access.Issue(subject, now)
	if err != nil {
		return TokenPair{}, err
	}
	refreshToken, refreshExp, err := s.refresh.Issue(subject, now)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}
