package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tmsincomb/oscapify/internal/ident"
)

// Status is the outcome recorded for a cached lookup.
type Status string

const (
	StatusResolved   Status = "resolved"
	StatusUnresolved Status = "unresolved"
)

// Entry is one cached lookup result. Entries are replaced wholesale, never
// edited in place.
type Entry struct {
	Key     string    `json:"key"`
	PMID    string    `json:"pmid,omitempty"`
	PMCID   string    `json:"pmcid,omitempty"`
	DOI     string    `json:"doi,omitempty"`
	Status  Status    `json:"status"`
	Created time.Time `json:"created"`
}

// Resolved reports whether the entry carries a DOI.
func (e Entry) Resolved() bool {
	return e.Status == StatusResolved && e.DOI != ""
}

// identKey returns the normalized key for the entry.
func (e Entry) identKey() (ident.Key, error) {
	if e.Key != "" {
		return ident.ParseKey(e.Key)
	}
	k := ident.NewKey(e.PMID, e.PMCID)
	if k.IsZero() {
		return k, errors.New("entry has no identifier")
	}
	return k, nil
}

// IDs returns the identifiers recorded for the entry. They include any the
// service returned beyond those in the key.
func (e Entry) IDs() ident.Key {
	return ident.NewKey(e.PMID, e.PMCID)
}

// newEntry builds an entry for key; an empty doi records "unresolved".
// Identifiers missing from key are filled from found.
func newEntry(key, found ident.Key, doi string, created time.Time) Entry {
	e := Entry{
		Key:     key.String(),
		PMID:    key.PMID,
		PMCID:   key.PMCID,
		DOI:     doi,
		Status:  StatusResolved,
		Created: created.UTC(),
	}
	if e.PMID == "" {
		e.PMID = found.PMID
	}
	if e.PMCID == "" {
		e.PMCID = found.PMCID
	}
	if doi == "" {
		e.Status = StatusUnresolved
	}
	return e
}

// Store is the durable tier behind the in-memory cache.
type Store interface {
	// Load returns every persisted entry.
	Load(ctx context.Context) ([]Entry, error)
	// Replace atomically swaps the persisted set for entries.
	Replace(ctx context.Context, entries []Entry) error
	// Location describes where entries are persisted.
	Location() string
	Close() error
}

// Upserter is implemented by stores that can persist a subset of entries
// without rewriting the whole set.
type Upserter interface {
	Upsert(ctx context.Context, entries []Entry) error
}

// CacheIOError reports that the durable store could not be read or written.
// The cache keeps working in memory after returning one.
type CacheIOError struct {
	Op       string
	Location string
	Err      error
}

func (e *CacheIOError) Error() string {
	return fmt.Sprintf("cache %s %s: %v", e.Op, e.Location, e.Err)
}

func (e *CacheIOError) Unwrap() error {
	return e.Err
}

// IsCacheIO returns true if err is or wraps a CacheIOError.
func IsCacheIO(err error) bool {
	var ioErr *CacheIOError
	return errors.As(err, &ioErr)
}
