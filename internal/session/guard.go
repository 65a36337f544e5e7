package session

import (
	"context"
	"time"

	"stratex.org/internal/authz"
)

// Guard layers the per-user invalid-before watermark on top of signature
// verification. It keeps no session state of its own: a token is acceptable
// purely as a function of its payload and the user's current watermark, so
// rotating the watermark revokes every outstanding token issued before the
// rotation instant, access and refresh alike.
type Guard struct {
	users    authz.UserStore
	strategy Strategy
}

// NewGuard binds a verification strategy to the user store.
func NewGuard(users authz.UserStore, strategy Strategy) (*Guard, error) {
	if users == nil || strategy == nil {
		return nil, ErrNotAuthenticated
	}
	return &Guard{users: users, strategy: strategy}, nil
}

// Verify accepts or rejects a raw bearer token. On accept it yields the
// subject id for downstream permission checks; there is no side effect, no
// sliding expiration, no implicit renewal.
func (g *Guard) Verify(ctx context.Context, raw string) (string, error) {
	payload, err := g.strategy.Verify(raw)
	if err != nil {
		return "", ErrNotAuthenticated
	}
	user, err := g.users.Find(ctx, payload.Subject)
	if err != nil {
		// Unknown subject and store failure both reject; neither may accept.
		return "", ErrNotAuthenticated
	}
	if !user.Active {
		return "", ErrNotAuthenticated
	}
	if !watermarkAccepts(payload, user.InvalidBefore) {
		return "", ErrNotAuthenticated
	}
	return user.ID, nil
}

// watermarkAccepts is the single watermark rule shared by both token types:
// reject iff a watermark is set, the token carries an issued-at, and the
// issued-at (in milliseconds) is strictly before the watermark.
func watermarkAccepts(payload Payload, invalidBefore *time.Time) bool {
	if invalidBefore == nil || payload.IssuedAt == 0 {
		return true
	}
	return payload.IssuedAt*1000 >= invalidBefore.UnixMilli()
}
