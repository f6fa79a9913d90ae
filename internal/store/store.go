package store

import (
	"context"
	"fmt"
	"strings"
)

// Store is the raw persisted key-value primitive the cache sits on.
// Implementations guarantee per-key durability only; there is no
// atomicity across keys.
type Store interface {
	// Get returns the value under key. ok is false when the key is absent.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// Set writes value under key, replacing any previous value.
	Set(ctx context.Context, key, value string) error

	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error

	// ListKeys returns every key currently stored, sorted.
	ListKeys(ctx context.Context) ([]string, error)

	// MultiRemove deletes every key in keys.
	MultiRemove(ctx context.Context, keys []string) error

	// Close releases the backend.
	Close() error
}

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendBolt   = "bolt"
)

// Config selects and locates a backend.
type Config struct {
	Backend string `yaml:"backend" mapstructure:"backend"`
	Path    string `yaml:"path" mapstructure:"path"`
}

// Open builds the backend named in cfg.
func Open(cfg Config) (Store, error) {
	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))
	switch backend {
	case "", BackendMemory:
		return NewMemory(), nil
	case BackendFile:
		return OpenFile(cfg.Path)
	case BackendSQLite:
		return OpenSQLite(cfg.Path)
	case BackendBolt:
		return OpenBolt(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown store backend %q (must be memory, file, sqlite, or bolt)", cfg.Backend)
	}
}
