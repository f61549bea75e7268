package store

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/snehjoshi/remindq/internal/types"
)

var (
	bucketReminders = []byte("reminders") // bucket name inside bbolt
	keyEntries      = []byte("entries")
)

// BoltBackend keeps the collection as one JSON value inside a bbolt file.
//
// bbolt gives us:
//   - Pure Go (no CGO, no external process)
//   - ACID transactions: a Save either replaces the value or leaves it alone
//   - An exclusive file lock, so a second process cannot open the same store
type BoltBackend struct {
	db *bbolt.DB
}

// OpenBoltBackend opens (or creates) the bbolt file at path.
// When fsync is false the database skips fsync after each commit.
func OpenBoltBackend(path string, fsync bool) (*BoltBackend, error) {
	opts := &bbolt.Options{Timeout: time.Second}
	db, err := bbolt.Open(path, 0o640, opts)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	db.NoSync = !fsync

	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketReminders)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: init bucket: %w", err)
	}
	return &BoltBackend{db: db}, nil
}

// Load reads the stored collection. A missing value is an empty collection.
func (b *BoltBackend) Load() ([]types.Entry, error) {
	var entries []types.Entry
	err := b.db.View(func(tx *bbolt.Tx) error {
		val := tx.Bucket(bucketReminders).Get(keyEntries)
		if len(val) == 0 {
			return nil
		}
		// val is only valid inside the transaction; Unmarshal copies it out.
		return json.Unmarshal(val, &entries)
	})
	if err != nil {
		return nil, fmt.Errorf("bolt load: %w", err)
	}
	return entries, nil
}

// Save replaces the stored collection in a single transaction.
func (b *BoltBackend) Save(entries []types.Entry) error {
	if entries == nil {
		entries = []types.Entry{}
	}
	val, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketReminders).Put(keyEntries, val)
	})
}

// Close closes the underlying bbolt database.
func (b *BoltBackend) Close() error {
	return b.db.Close()
}
