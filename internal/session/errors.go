package session

import "errors"

var (
	// ErrNotAuthenticated covers every rejection: bad signature, expired
	// token, unknown subject, or a token issued before the user's watermark.
	// Callers must keep it distinct from authorization denials.
	ErrNotAuthenticated = errors.New("session: not authenticated")
)
