// Package ids generates the identifiers stamped on every reminder entry.
//
// IDs are ULIDs: 26 characters, lexicographically sortable by creation time,
// and unique without coordination. A single monotone entropy source is shared
// by all callers so IDs generated within the same millisecond still sort in
// generation order.
package ids

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	monoMu      sync.Mutex
	monoEntropy io.Reader = ulid.Monotonic(rand.Reader, 0)
)

// New returns a fresh ULID string.
func New() (string, error) {
	return NewAt(time.Now())
}

// NewAt returns a ULID whose timestamp component is t.
func NewAt(t time.Time) (string, error) {
	monoMu.Lock()
	defer monoMu.Unlock()
	id, err := ulid.New(ulid.Timestamp(t), monoEntropy)
	if err != nil {
		return "", fmt.Errorf("ids: generate: %w", err)
	}
	return id.String(), nil
}

// MustNew is like New but panics on error. Use only in tests or init code.
func MustNew() string {
	id, err := New()
	if err != nil {
		panic(fmt.Sprintf("ids.MustNew: %v", err))
	}
	return id
}

// Valid reports whether s is a well-formed ULID string.
func Valid(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}

// Time returns the timestamp encoded in id.
func Time(id string) (time.Time, error) {
	u, err := ulid.ParseStrict(id)
	if err != nil {
		return time.Time{}, fmt.Errorf("ids: parse %q: %w", id, err)
	}
	return ulid.Time(u.Time()), nil
}
