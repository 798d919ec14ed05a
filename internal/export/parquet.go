package export

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/tmsincomb/oscapify/internal/cache"
)

// parquetEntry is the Parquet row layout of a cache entry.
type parquetEntry struct {
	Key       string `parquet:"key"`
	PMID      string `parquet:"pmid"`
	PMCID     string `parquet:"pmcid"`
	DOI       string `parquet:"doi"`
	Status    string `parquet:"status"`
	CreatedMs int64  `parquet:"created_ms"`
}

func toParquet(e cache.Entry) parquetEntry {
	return parquetEntry{
		Key:       e.Key,
		PMID:      e.PMID,
		PMCID:     e.PMCID,
		DOI:       e.DOI,
		Status:    string(e.Status),
		CreatedMs: e.Created.UnixMilli(),
	}
}

func fromParquet(p parquetEntry) cache.Entry {
	return cache.Entry{
		Key:     p.Key,
		PMID:    p.PMID,
		PMCID:   p.PMCID,
		DOI:     p.DOI,
		Status:  cache.Status(p.Status),
		Created: time.UnixMilli(p.CreatedMs).UTC(),
	}
}

func writeParquet(w io.Writer, entries []cache.Entry) error {
	writer := parquet.NewGenericWriter[parquetEntry](w)
	rows := make([]parquetEntry, len(entries))
	for i, e := range entries {
		rows[i] = toParquet(e)
	}
	if _, err := writer.Write(rows); err != nil {
		return fmt.Errorf("writing parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("closing parquet writer: %w", err)
	}
	return nil
}

func readParquet(r io.ReaderAt, size int64) ([]cache.Entry, error) {
	pf, err := parquet.OpenFile(r, size)
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet: %w", err)
	}

	reader := parquet.NewGenericReader[parquetEntry](pf)
	defer reader.Close()

	entries := make([]cache.Entry, 0, pf.NumRows())
	rows := make([]parquetEntry, 128) // Read in batches
	for {
		n, err := reader.Read(rows)
		for _, row := range rows[:n] {
			entries = append(entries, fromParquet(row))
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading parquet rows: %w", err)
		}
	}
	return entries, nil
}
