// Package ident normalizes PubMed identifiers and DOIs.
package ident

import (
	"regexp"
	"strings"
)

// nullTokens are cell values that spreadsheet exports use for "no value".
var nullTokens = map[string]bool{
	"":     true,
	"nan":  true,
	"none": true,
	"null": true,
	"n/a":  true,
	"na":   true,
}

var (
	digitsPattern = regexp.MustCompile(`^\d+$`)

	// PMCID embedded in a URL, e.g. .../pmc/articles/PMC1234567/
	pmcURLPattern = regexp.MustCompile(`(?i)PMC(\d+)`)
	// Legacy PMC render links: ?articleid=1234567&...type=pmc
	pmcArticleIDPattern = regexp.MustCompile(`(?i)articleid=(\d+).*type=pmc`)
)

// IsNull reports whether a raw cell value is empty or a null token.
func IsNull(raw string) bool {
	return nullTokens[strings.ToLower(strings.TrimSpace(raw))]
}

// NormalizePMID returns the canonical form of a PubMed ID, or "" if the value
// is absent or not a PubMed ID.
//
// Supports formats:
//   - 12345678
//   - PMID:12345678, pmid: 12345678
//   - 12345678.0 (float export)
func NormalizePMID(raw string) string {
	s := strings.TrimSpace(raw)
	if IsNull(s) {
		return ""
	}
	if len(s) >= 5 && strings.EqualFold(s[:5], "PMID:") {
		s = strings.TrimSpace(s[5:])
	}
	s = strings.TrimSuffix(s, ".0")
	if !digitsPattern.MatchString(s) {
		return ""
	}
	return s
}

// NormalizePMCID returns the canonical form "PMC<digits>" of a PubMed Central
// ID, or "" if the value is absent or not a PMCID.
func NormalizePMCID(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if IsNull(s) {
		return ""
	}
	s = strings.TrimPrefix(s, "PMCID:")
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "PMC")
	s = strings.TrimSpace(strings.TrimSuffix(s, ".0"))
	if !digitsPattern.MatchString(s) {
		return ""
	}
	return "PMC" + s
}

// PMCIDFromURL extracts a PMCID from a PubMed Central URL.
// Returns "" if the URL does not reference a PMC article.
func PMCIDFromURL(url string) string {
	url = strings.TrimSpace(url)
	if IsNull(url) {
		return ""
	}
	if m := pmcURLPattern.FindStringSubmatch(url); m != nil {
		return "PMC" + m[1]
	}
	if m := pmcArticleIDPattern.FindStringSubmatch(url); m != nil {
		return "PMC" + m[1]
	}
	return ""
}

// NormalizeDOI strips resolver prefixes and surrounding whitespace from a DOI.
// Case is preserved; DOIs are written out as the lookup service returned them.
func NormalizeDOI(doi string) string {
	doi = strings.TrimSpace(doi)
	for _, prefix := range []string{"https://doi.org/", "http://doi.org/", "https://dx.doi.org/", "http://dx.doi.org/", "doi.org/"} {
		if len(doi) >= len(prefix) && strings.EqualFold(doi[:len(prefix)], prefix) {
			doi = doi[len(prefix):]
			break
		}
	}
	if len(doi) >= 4 && strings.EqualFold(doi[:4], "doi:") {
		doi = strings.TrimSpace(doi[4:])
	}
	return strings.TrimRight(doi, ".,;")
}
