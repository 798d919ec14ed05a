package ident

import (
	"fmt"
	"strings"
)

// Id types understood by the lookup service.
const (
	TypePMID  = "pmid"
	TypePMCID = "pmcid"
)

// Key is a normalized (pmid, pmcid) pair. It is comparable and is used as the
// DOI cache key, so two raw pairs that normalize alike share one cache entry.
type Key struct {
	PMID  string
	PMCID string
}

// NewKey normalizes a raw pmid/pmcid pair.
func NewKey(pmid, pmcid string) Key {
	return Key{
		PMID:  NormalizePMID(pmid),
		PMCID: NormalizePMCID(pmcid),
	}
}

// Normalize re-applies normalization to an existing key.
func (k Key) Normalize() Key {
	return NewKey(k.PMID, k.PMCID)
}

// IsZero reports whether the key carries no identifier at all.
func (k Key) IsZero() bool {
	return k.PMID == "" && k.PMCID == ""
}

// String returns the serialized form used by durable cache stores.
func (k Key) String() string {
	return fmt.Sprintf("pmid:%s|pmcid:%s", k.PMID, k.PMCID)
}

// QueryID returns the identifier sent to the lookup service and its type.
// PMCIDs are preferred because every PMC record carries a PMID mapping.
func (k Key) QueryID() (id, idType string) {
	if k.PMCID != "" {
		return k.PMCID, TypePMCID
	}
	if k.PMID != "" {
		return k.PMID, TypePMID
	}
	return "", ""
}

// ParseKey parses the output of Key.String.
func ParseKey(s string) (Key, error) {
	pmidPart, pmcidPart, ok := strings.Cut(s, "|")
	if !ok || !strings.HasPrefix(pmidPart, "pmid:") || !strings.HasPrefix(pmcidPart, "pmcid:") {
		return Key{}, fmt.Errorf("invalid cache key %q", s)
	}
	return NewKey(strings.TrimPrefix(pmidPart, "pmid:"), strings.TrimPrefix(pmcidPart, "pmcid:")), nil
}
