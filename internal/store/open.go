package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Driver names accepted by OpenDriver.
const (
	DriverFile   = "file"
	DriverBolt   = "bolt"
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// Config selects and tunes a Backend.
type Config struct {
	// Driver is one of "file", "bolt", "sqlite" or "memory".
	Driver string
	// Dir is the directory that holds the store file.
	Dir string
	// Name is the collection name; it becomes the file's base name.
	Name string
	// Fsync flushes every write to physical disk before it is acknowledged.
	Fsync bool
}

// NormalizeDriver lower-cases driver and resolves aliases. Unknown names are
// returned unchanged.
func NormalizeDriver(driver string) string {
	switch d := strings.ToLower(strings.TrimSpace(driver)); d {
	case "", "json", DriverFile:
		return DriverFile
	case "bbolt", DriverBolt:
		return DriverBolt
	case "sqlite3", DriverSQLite:
		return DriverSQLite
	default:
		return d
	}
}

// OpenDriver builds the configured Backend and opens a Store on it.
func OpenDriver(cfg Config) (*Store, error) {
	name := cfg.Name
	if name == "" {
		name = "reminders"
	}
	driver := NormalizeDriver(cfg.Driver)

	if driver != DriverMemory {
		if cfg.Dir == "" {
			return nil, fmt.Errorf("store: data dir must not be empty for driver %q", driver)
		}
		if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
			return nil, fmt.Errorf("store: create data dir: %w", err)
		}
	}

	var (
		b   Backend
		err error
	)
	switch driver {
	case DriverFile:
		b, err = NewFileBackend(filepath.Join(cfg.Dir, name+".json"), cfg.Fsync)
	case DriverBolt:
		b, err = OpenBoltBackend(filepath.Join(cfg.Dir, name+".db"), cfg.Fsync)
	case DriverSQLite:
		b, err = OpenSQLiteBackend(filepath.Join(cfg.Dir, name+".sqlite"), cfg.Fsync)
	case DriverMemory:
		b = NewMemoryBackend()
	default:
		return nil, fmt.Errorf("store: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	s, err := Open(name, b)
	if err != nil {
		_ = b.Close()
		return nil, err
	}
	return s, nil
}
