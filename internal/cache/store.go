package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Supported durable backends.
const (
	BackendJSONL  = "jsonl"
	BackendSQLite = "sqlite"
)

// DefaultDir returns the per-user cache directory for oscapify.
func DefaultDir() (string, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("locating user cache directory: %w", err)
	}
	return filepath.Join(base, "oscapify"), nil
}

// FileName returns the cache file name used by a backend.
func FileName(backend string) string {
	if backend == BackendSQLite {
		return "doi_cache.db"
	}
	return "doi_cache.jsonl"
}

// OpenStore opens the durable store for backend inside dir. An empty dir
// selects DefaultDir.
func OpenStore(backend, dir string) (Store, error) {
	if dir == "" {
		d, err := DefaultDir()
		if err != nil {
			return nil, err
		}
		dir = d
	}
	switch strings.ToLower(backend) {
	case "", BackendJSONL:
		return NewJSONLStore(filepath.Join(dir, FileName(BackendJSONL))), nil
	case BackendSQLite:
		return OpenSQLiteStore(filepath.Join(dir, FileName(BackendSQLite)))
	default:
		return nil, fmt.Errorf("unknown cache backend %q (want %s or %s)", backend, BackendJSONL, BackendSQLite)
	}
}
