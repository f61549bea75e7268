// Package types contains the core domain types shared across all remindq
// internal packages. It deliberately has zero imports of other remindq packages
// so that the store, the scheduler and the service can all import from it
// without creating import cycles.
package types

import (
	"fmt"
	"time"
)

// Entry is a single scheduled reminder.
//
// Design rules:
//   - Entries are immutable once scheduled. Rescheduling is remove + add.
//   - Time and CreatedAt are always stored in UTC.
//   - ID is a ULID assigned by the service; it is the identity used when the
//     entry is removed from the store.
type Entry struct {
	// ID uniquely identifies the entry.
	ID string `json:"id"`

	// AuthorID identifies the requester. Opaque to remindq.
	AuthorID uint64 `json:"author_id"`

	// Time is the instant at or after which the entry becomes due.
	Time time.Time `json:"time"`

	// Message is the payload handed back to the caller when the entry fires.
	Message string `json:"message"`

	// Target says where the reminder should be delivered (a channel, a chat,
	// a URL). Opaque to remindq.
	Target string `json:"target,omitempty"`

	// CreatedAt is when the entry was accepted.
	CreatedAt time.Time `json:"created_at"`
}

// IsDue reports whether the entry's time is at or before now.
func (e Entry) IsDue(now time.Time) bool {
	return !e.Time.After(now)
}

// Lateness returns how far past its due time the entry is at now.
// Negative values mean the entry is not yet due.
func (e Entry) Lateness(now time.Time) time.Duration {
	return now.Sub(e.Time)
}

// String is used in log lines.
func (e Entry) String() string {
	return fmt.Sprintf("%s author=%d at=%s", e.ID, e.AuthorID, e.Time.Format(time.RFC3339))
}
