// Package header maps the columns of an input CSV onto canonical fields.
package header

import "strings"

// Canonical field names.
const (
	FieldPMID      = "pmid"
	FieldPMCID     = "pmcid"
	FieldSentence  = "sentence"
	FieldPubMedURL = "pubmed_url"
)

// CanonicalFields lists the canonical fields in the order they are resolved.
// A column claimed by an earlier field is not offered to later ones.
var CanonicalFields = []string{FieldPMID, FieldPMCID, FieldSentence, FieldPubMedURL}

var mandatoryFields = map[string]bool{
	FieldPMID:     true,
	FieldSentence: true,
}

// IsMandatory reports whether a canonical field must be present in every file.
func IsMandatory(field string) bool {
	return mandatoryFields[field]
}

// IsCanonical reports whether name is a canonical field.
func IsCanonical(name string) bool {
	for _, f := range CanonicalFields {
		if f == name {
			return true
		}
	}
	return false
}

// Aliases maps a canonical field to the column names accepted for it.
type Aliases map[string][]string

// DefaultAliases returns a fresh copy of the built-in alias table.
func DefaultAliases() Aliases {
	return Aliases{
		FieldPMID:      {"pmid", "PMID", "PubMedID", "pubmed_id", "pm_id"},
		FieldPMCID:     {"pmcid", "PMCID", "PMC", "pmc_id"},
		FieldSentence:  {"sentence", "text", "abstract", "content", "passage"},
		FieldPubMedURL: {"pubmed_url", "url", "link", "pubmed_link"},
	}
}

// Override replaces the aliases for a field. Blank entries are dropped.
func (a Aliases) Override(field string, aliases []string) {
	var cleaned []string
	for _, alias := range aliases {
		if s := strings.TrimSpace(alias); s != "" {
			cleaned = append(cleaned, s)
		}
	}
	a[field] = cleaned
}

// Merge applies every override in other on top of a.
func (a Aliases) Merge(other map[string][]string) {
	for field, aliases := range other {
		a.Override(field, aliases)
	}
}

// For returns the aliases of a field in priority order with duplicates
// removed. Configured aliases come first; the canonical name is appended when
// the list does not already contain it.
func (a Aliases) For(field string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, alias := range append(append([]string(nil), a[field]...), field) {
		if seen[alias] {
			continue
		}
		seen[alias] = true
		out = append(out, alias)
	}
	return out
}

// Clone returns a deep copy.
func (a Aliases) Clone() Aliases {
	out := make(Aliases, len(a))
	for field, aliases := range a {
		out[field] = append([]string(nil), aliases...)
	}
	return out
}
