package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/snehjoshi/remindq/internal/types"
)

// fileModel is the on-disk JSON structure.
type fileModel struct {
	Version   int           `json:"version"`
	Reminders []types.Entry `json:"reminders"`
}

const fileModelVersion = 1

// FileBackend keeps the collection in a single JSON document.
// Writes go to <path>.tmp and are renamed over <path>, so a reader never
// observes a half-written file.
type FileBackend struct {
	path  string
	fsync bool
}

// NewFileBackend returns a FileBackend for path, creating its directory.
// When fsync is true the temp file is flushed to disk before the rename.
func NewFileBackend(path string, fsync bool) (*FileBackend, error) {
	if path == "" {
		return nil, errors.New("store: file path must not be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("store: create dir for %s: %w", path, err)
	}
	return &FileBackend{path: path, fsync: fsync}, nil
}

// Path returns the document path.
func (b *FileBackend) Path() string { return b.path }

// Load reads the document. A missing or empty file is an empty collection.
func (b *FileBackend) Load() ([]types.Entry, error) {
	data, err := os.ReadFile(b.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", b.path, err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var m fileModel
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", b.path, err)
	}
	if m.Version > fileModelVersion {
		return nil, fmt.Errorf("%s: unsupported version %d", b.path, m.Version)
	}
	return m.Reminders, nil
}

// Save rewrites the document atomically (write temp file, rename).
func (b *FileBackend) Save(entries []types.Entry) error {
	if entries == nil {
		entries = []types.Entry{}
	}
	data, err := json.MarshalIndent(fileModel{Version: fileModelVersion, Reminders: entries}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	tmp := b.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("open %s: %w", tmp, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if b.fsync {
		if err := f.Sync(); err != nil {
			_ = f.Close()
			return fmt.Errorf("fsync %s: %w", tmp, err)
		}
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, b.path); err != nil {
		return fmt.Errorf("rename to %s: %w", b.path, err)
	}
	return nil
}

// Close is a no-op; the file is not held open between writes.
func (b *FileBackend) Close() error { return nil }
