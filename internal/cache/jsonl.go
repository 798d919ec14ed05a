package cache

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/tmsincomb/oscapify/internal/atomicfile"
)

// MaxJSONLLineCapacity is the maximum buffer size for reading JSONL lines (1MB per line).
const MaxJSONLLineCapacity = 1024 * 1024

// JSONLStore persists entries as one JSON object per line. Every write
// replaces the whole file through a temp file and rename.
type JSONLStore struct {
	path string
}

// NewJSONLStore returns a store backed by the file at path.
func NewJSONLStore(path string) *JSONLStore {
	return &JSONLStore{path: path}
}

func (s *JSONLStore) Location() string {
	return s.path
}

func (s *JSONLStore) Close() error {
	return nil
}

// Load reads all entries. A missing file is an empty cache.
func (s *JSONLStore) Load(ctx context.Context) ([]Entry, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening cache file: %w", err)
	}
	defer f.Close()
	return ReadJSONL(f)
}

// ReadJSONL decodes entries from r, one per line.
func ReadJSONL(r io.Reader) ([]Entry, error) {
	var entries []Entry
	scanner := bufio.NewScanner(r)

	// Increase buffer size for long lines
	buf := make([]byte, MaxJSONLLineCapacity)
	scanner.Buffer(buf, MaxJSONLLineCapacity)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("parsing line %d: %w", lineNum, err)
		}
		entries = append(entries, e)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading cache file: %w", err)
	}

	return entries, nil
}

// WriteJSONL encodes entries to w, one per line.
func WriteJSONL(w io.Writer, entries []Entry) error {
	enc := json.NewEncoder(w)
	for i, e := range entries {
		if err := enc.Encode(e); err != nil {
			return fmt.Errorf("encoding entry %d: %w", i, err)
		}
	}
	return nil
}

// Replace rewrites the file with entries.
func (s *JSONLStore) Replace(ctx context.Context, entries []Entry) error {
	return atomicfile.Write(ctx, s.path, 0644, func(w io.Writer) error {
		return WriteJSONL(w, entries)
	})
}
