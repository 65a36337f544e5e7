package ids

import (
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// New returns a lexicographically sortable identifier for storage keys.
// Entity identifiers are opaque to callers; only this package knows the
// encoding.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// IsWellFormed reports whether s parses as an identifier produced by New.
// Stores accept foreign key formats too (seed files use readable ids), so
// this is for callers that need to tell generated ids apart, not a gate on
// the write paths.
func IsWellFormed(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}
