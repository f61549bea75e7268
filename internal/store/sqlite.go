package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/snehjoshi/remindq/internal/types"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS reminders (
	id          TEXT PRIMARY KEY,
	author_id   INTEGER NOT NULL,
	due_at_ns   INTEGER NOT NULL,
	message     TEXT    NOT NULL,
	target      TEXT    NOT NULL DEFAULT '',
	created_ns  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS reminders_author ON reminders(author_id);
`

// SQLiteBackend keeps the collection in a SQLite table. Every Save deletes
// and re-inserts all rows inside one transaction, so the table always holds a
// complete collection.
type SQLiteBackend struct {
	db *sql.DB
}

// OpenSQLiteBackend opens (or creates) the SQLite database at path.
func OpenSQLiteBackend(path string, fsync bool) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	synchronous := "FULL"
	if !fsync {
		synchronous = "OFF"
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 1000",
		"PRAGMA synchronous = " + synchronous,
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("store: %s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: migrate %s: %w", path, err)
	}
	return &SQLiteBackend{db: db}, nil
}

// Load reads every row.
func (b *SQLiteBackend) Load() ([]types.Entry, error) {
	rows, err := b.db.Query(`SELECT id, author_id, due_at_ns, message, target, created_ns FROM reminders ORDER BY due_at_ns, id`)
	if err != nil {
		return nil, fmt.Errorf("sqlite load: %w", err)
	}
	defer rows.Close()

	var entries []types.Entry
	for rows.Next() {
		var (
			e                types.Entry
			author           int64
			dueNs, createdNs int64
		)
		if err := rows.Scan(&e.ID, &author, &dueNs, &e.Message, &e.Target, &createdNs); err != nil {
			return nil, fmt.Errorf("sqlite scan: %w", err)
		}
		e.AuthorID = uint64(author)
		e.Time = fromNanos(dueNs)
		e.CreatedAt = fromNanos(createdNs)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite rows: %w", err)
	}
	return entries, nil
}

// Save replaces the table contents in one transaction.
func (b *SQLiteBackend) Save(entries []types.Entry) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM reminders`); err != nil {
		return fmt.Errorf("sqlite clear: %w", err)
	}
	if len(entries) > 0 {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO reminders(id, author_id, due_at_ns, message, target, created_ns) VALUES(?,?,?,?,?,?)`)
		if err != nil {
			return fmt.Errorf("sqlite prepare: %w", err)
		}
		defer stmt.Close()
		for _, e := range entries {
			// author_id is stored bit-for-bit as a signed integer.
			if _, err := stmt.ExecContext(ctx,
				e.ID, int64(e.AuthorID), toNanos(e.Time), e.Message, e.Target, toNanos(e.CreatedAt),
			); err != nil {
				return fmt.Errorf("sqlite insert %s: %w", e.ID, err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite commit: %w", err)
	}
	return nil
}

// Close closes the database handle.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

// toNanos maps the zero time to 0 so it survives a round trip.
func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}
