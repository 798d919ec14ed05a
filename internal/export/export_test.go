package export

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/tmsincomb/oscapify/internal/cache"
	"github.com/tmsincomb/oscapify/internal/ident"
)

func sampleEntries(t *testing.T) []cache.Entry {
	t.Helper()
	created := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	c := cache.New(cache.WithClock(func() time.Time { return created }))
	c.Put(ident.NewKey("12345678", "PMC1234567"), "10.1000/xyz123")
	c.Put(ident.NewKey("42", ""), "")
	return c.Entries()
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		path    string
		want    Format
		wantErr bool
	}{
		{"cache.parquet", FormatParquet, false},
		{"cache.PARQUET", FormatParquet, false},
		{"cache.jsonl", FormatJSONL, false},
		{"cache.json", FormatJSONL, false},
		{"cache.csv", "", true},
	}
	for _, tt := range tests {
		got, err := DetectFormat(tt.path)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("DetectFormat(%q) = %q, %v", tt.path, got, err)
		}
	}
}

func TestWriteRead(t *testing.T) {
	entries := sampleEntries(t)

	for _, name := range []string{"snapshot.parquet", "snapshot.jsonl"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			if err := Write(context.Background(), path, entries); err != nil {
				t.Fatalf("Write() error = %v", err)
			}
			got, err := Read(path)
			if err != nil {
				t.Fatalf("Read() error = %v", err)
			}
			if !reflect.DeepEqual(got, entries) {
				t.Errorf("Read() = %+v, want %+v", got, entries)
			}
		})
	}
}

func TestImportIntoCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.parquet")
	if err := Write(context.Background(), path, sampleEntries(t)); err != nil {
		t.Fatal(err)
	}
	entries, err := Read(path)
	if err != nil {
		t.Fatal(err)
	}

	c := cache.New()
	n, err := c.Import(context.Background(), entries)
	if err != nil || n != 2 {
		t.Fatalf("Import() = %d, %v", n, err)
	}
	e, ok := c.Get(ident.NewKey("12345678", "PMC1234567"))
	if !ok || e.DOI != "10.1000/xyz123" {
		t.Errorf("Get() = %+v, %v", e, ok)
	}
}

func TestRead_Errors(t *testing.T) {
	if _, err := Read(filepath.Join(t.TempDir(), "missing.parquet")); err == nil {
		t.Error("Read() should fail for a missing file")
	}

	bad := filepath.Join(t.TempDir(), "bad.parquet")
	if err := os.WriteFile(bad, []byte("not parquet"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Read(bad); err == nil {
		t.Error("Read() should fail for a corrupt parquet file")
	}
}
