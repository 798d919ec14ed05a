package header

import (
	"fmt"
	"io"
	"sort"
	"strings"
)

// Report is a human-oriented diagnosis of a header row.
type Report struct {
	Headers     []string     `json:"headers"`
	Duplicates  []string     `json:"duplicates,omitempty"`
	Empty       []int        `json:"empty_columns,omitempty"`
	Whitespace  []string     `json:"whitespace_issues,omitempty"`
	Matched     []Match      `json:"matched"`
	Ambiguous   []Match      `json:"ambiguous,omitempty"`
	Unmatched   []string     `json:"unmatched,omitempty"`
	Preserved   []string     `json:"preserved,omitempty"`
	Excluded    []string     `json:"excluded,omitempty"`
	Missing     []string     `json:"missing,omitempty"`
	Suggestions []Suggestion `json:"suggestions,omitempty"`
	Valid       bool         `json:"valid"`

	// Patterns lists, per canonical field, the headers containing one of
	// its aliases as a substring.
	Patterns map[string][]string `json:"patterns,omitempty"`
}

// Diagnose builds a Report for a header row.
func (m *Mapper) Diagnose(headers []string) *Report {
	mapping := m.Analyze(headers)
	r := &Report{
		Headers:     mapping.Headers,
		Ambiguous:   mapping.Ambiguous,
		Preserved:   mapping.PreserveNames(),
		Excluded:    mapping.Excluded,
		Missing:     mapping.Missing,
		Suggestions: mapping.Suggestions,
		Valid:       len(mapping.Missing) == 0,
	}

	counts := make(map[string]int)
	for idx, h := range headers {
		trimmed := strings.TrimSpace(h)
		if trimmed == "" {
			r.Empty = append(r.Empty, idx)
			continue
		}
		if trimmed != h {
			r.Whitespace = append(r.Whitespace, h)
		}
		counts[trimmed]++
		if counts[trimmed] == 2 {
			r.Duplicates = append(r.Duplicates, trimmed)
		}
	}

	matchedIdx := make(map[int]bool)
	for _, field := range CanonicalFields {
		if match, ok := mapping.Fields[field]; ok {
			r.Matched = append(r.Matched, match)
			matchedIdx[match.Index] = true
		}
	}
	for idx, h := range headers {
		if !matchedIdx[idx] && strings.TrimSpace(h) != "" {
			r.Unmatched = append(r.Unmatched, h)
		}
	}
	sort.SliceStable(r.Matched, func(i, j int) bool {
		return r.Matched[i].Index < r.Matched[j].Index
	})
	r.Patterns = m.detectPatterns(headers)

	return r
}

func (m *Mapper) detectPatterns(headers []string) map[string][]string {
	patterns := make(map[string][]string)
	for _, field := range CanonicalFields {
		aliases := m.aliases.For(field)
		for _, h := range headers {
			lower := strings.ToLower(h)
			for _, alias := range aliases {
				if strings.Contains(lower, strings.ToLower(alias)) {
					patterns[field] = append(patterns[field], h)
					break
				}
			}
		}
	}
	return patterns
}

// SuggestedFlags returns process flags that would map missing fields to
// their best suggested column.
func (r *Report) SuggestedFlags() []string {
	missing := make(map[string]bool, len(r.Missing))
	for _, f := range r.Missing {
		missing[f] = true
	}
	var flags []string
	done := make(map[string]bool)
	for _, s := range r.Suggestions {
		if !missing[s.Field] || done[s.Field] {
			continue
		}
		done[s.Field] = true
		flags = append(flags, fmt.Sprintf("--header-%s %q", strings.ReplaceAll(s.Field, "_", "-"), s.Column))
	}
	return flags
}

// WriteText renders the report for a terminal.
func (r *Report) WriteText(w io.Writer) {
	fmt.Fprintf(w, "Headers (%d): %s\n", len(r.Headers), strings.Join(quoteAll(r.Headers), ", "))
	if len(r.Duplicates) > 0 {
		fmt.Fprintf(w, "Duplicate headers: %s\n", strings.Join(r.Duplicates, ", "))
	}
	if len(r.Empty) > 0 {
		fmt.Fprintf(w, "Empty headers at positions: %v\n", r.Empty)
	}
	if len(r.Whitespace) > 0 {
		fmt.Fprintf(w, "Headers with surrounding whitespace: %s\n", strings.Join(quoteAll(r.Whitespace), ", "))
	}

	fmt.Fprintln(w, "\nMatched:")
	if len(r.Matched) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	for _, m := range r.Matched {
		fmt.Fprintf(w, "  %-10s <- %q (%s)\n", m.Field, m.Column, m.Tier)
	}
	for _, m := range r.Ambiguous {
		fmt.Fprintf(w, "  %-10s ?? %q also matches (%s), ignored\n", m.Field, m.Column, m.Tier)
	}
	if len(r.Preserved) > 0 {
		fmt.Fprintf(w, "\nPassed through: %s\n", strings.Join(r.Preserved, ", "))
	}
	if len(r.Excluded) > 0 {
		fmt.Fprintf(w, "Excluded: %s\n", strings.Join(r.Excluded, ", "))
	}

	if len(r.Missing) > 0 {
		fmt.Fprintf(w, "\nMissing required fields: %s\n", strings.Join(r.Missing, ", "))
	}
	if len(r.Patterns) > 0 {
		fmt.Fprintln(w, "\nDetected header patterns:")
		for _, field := range CanonicalFields {
			if cols, ok := r.Patterns[field]; ok {
				fmt.Fprintf(w, "  %-10s %s\n", field+":", strings.Join(cols, ", "))
			}
		}
	}
	if len(r.Suggestions) > 0 {
		fmt.Fprintln(w, "\nSuggestions:")
		for _, s := range r.Suggestions {
			fmt.Fprintf(w, "  %-10s -> %q (score %.2f)\n", s.Field, s.Column, s.Score)
		}
	}
}

func quoteAll(ss []string) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = fmt.Sprintf("%q", s)
	}
	return out
}
