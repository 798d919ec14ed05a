// Package export writes DOI cache snapshots to portable files and reads them
// back. Supported formats are Parquet and JSONL, chosen by file extension.
package export

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tmsincomb/oscapify/internal/atomicfile"
	"github.com/tmsincomb/oscapify/internal/cache"
)

// Format identifies a snapshot file format.
type Format string

const (
	FormatParquet Format = "parquet"
	FormatJSONL   Format = "jsonl"
)

// DetectFormat returns the format implied by a file extension.
func DetectFormat(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".parquet":
		return FormatParquet, nil
	case ".jsonl", ".json":
		return FormatJSONL, nil
	default:
		return "", fmt.Errorf("unsupported file format: %s (supported: .parquet, .jsonl)", filepath.Ext(path))
	}
}

// Write saves entries to path atomically in the format implied by its extension.
func Write(ctx context.Context, path string, entries []cache.Entry) error {
	format, err := DetectFormat(path)
	if err != nil {
		return err
	}
	return atomicfile.Write(ctx, path, 0644, func(w io.Writer) error {
		if format == FormatParquet {
			return writeParquet(w, entries)
		}
		return cache.WriteJSONL(w, entries)
	})
}

// Read loads entries from path in the format implied by its extension.
func Read(path string) ([]cache.Entry, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer file.Close()

	if format == FormatJSONL {
		return cache.ReadJSONL(file)
	}

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	return readParquet(file, info.Size())
}
