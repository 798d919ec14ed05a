package header

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// DefaultFuzzyThreshold is the minimum similarity for a fuzzy suggestion.
const DefaultFuzzyThreshold = 0.8

// Match records which column was chosen for a canonical field.
type Match struct {
	Field  string `json:"field"`
	Column string `json:"column"`
	Index  int    `json:"index"`
	Alias  string `json:"alias"`
	Tier   Tier   `json:"tier"`
}

// Suggestion is a fuzzy candidate column for a canonical field. Suggestions
// are never applied automatically.
type Suggestion struct {
	Field  string  `json:"field"`
	Column string  `json:"column"`
	Score  float64 `json:"score"`
}

// Mapping is the result of reconciling one header row.
type Mapping struct {
	Headers     []string         `json:"headers"`
	Fields      map[string]Match `json:"fields"`
	Ambiguous   []Match          `json:"ambiguous,omitempty"`
	Preserve    []int            `json:"-"`
	Excluded    []string         `json:"excluded,omitempty"`
	Missing     []string         `json:"missing,omitempty"`
	Suggestions []Suggestion     `json:"suggestions,omitempty"`
}

// Column returns the input column index for a canonical field.
func (m *Mapping) Column(field string) (int, bool) {
	match, ok := m.Fields[field]
	if !ok {
		return -1, false
	}
	return match.Index, true
}

// PreserveNames returns the names of passthrough columns in input order.
func (m *Mapping) PreserveNames() []string {
	names := make([]string, len(m.Preserve))
	for i, idx := range m.Preserve {
		names[i] = m.Headers[idx]
	}
	return names
}

// HeaderValidationError is returned when a mandatory field has no column.
type HeaderValidationError struct {
	Missing     []string
	Suggestions []Suggestion
}

func (e *HeaderValidationError) Error() string {
	msg := fmt.Sprintf("missing required column(s): %s", strings.Join(e.Missing, ", "))
	if len(e.Suggestions) == 0 {
		return msg
	}
	hints := make([]string, 0, len(e.Suggestions))
	for _, s := range e.Suggestions {
		hints = append(hints, fmt.Sprintf("%s -> %q", s.Field, s.Column))
	}
	return msg + " (did you mean: " + strings.Join(hints, ", ") + ")"
}

// IsHeaderValidation returns true if err is or wraps a HeaderValidationError.
func IsHeaderValidation(err error) bool {
	var hv *HeaderValidationError
	return errors.As(err, &hv)
}

// Options configures a Mapper.
type Options struct {
	Aliases Aliases
	// PreserveFields, when non-empty, limits passthrough to these columns.
	PreserveFields []string
	// ExcludeFields are never passed through.
	ExcludeFields  []string
	FuzzyThreshold float64
}

// Mapper reconciles header rows against an alias table.
type Mapper struct {
	aliases   Aliases
	preserve  map[string]bool
	exclude   map[string]bool
	threshold float64
}

// NewMapper creates a Mapper. Zero-valued options fall back to defaults.
func NewMapper(opts Options) *Mapper {
	m := &Mapper{
		aliases:   opts.Aliases,
		preserve:  foldSet(opts.PreserveFields),
		exclude:   foldSet(opts.ExcludeFields),
		threshold: opts.FuzzyThreshold,
	}
	if m.aliases == nil {
		m.aliases = DefaultAliases()
	}
	if m.threshold <= 0 || m.threshold > 1 {
		m.threshold = DefaultFuzzyThreshold
	}
	return m
}

func foldSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			set[strings.ToLower(n)] = true
		}
	}
	return set
}

// Map reconciles a header row and fails with a *HeaderValidationError if a
// mandatory field cannot be resolved.
func (m *Mapper) Map(headers []string) (*Mapping, error) {
	mapping := m.Analyze(headers)
	if len(mapping.Missing) > 0 {
		return nil, &HeaderValidationError{
			Missing:     mapping.Missing,
			Suggestions: mapping.Suggestions,
		}
	}
	return mapping, nil
}

// Analyze reconciles a header row without failing. Missing mandatory fields
// are listed in the result along with fuzzy suggestions.
func (m *Mapper) Analyze(headers []string) *Mapping {
	mapping := &Mapping{
		Headers: append([]string(nil), headers...),
		Fields:  make(map[string]Match),
	}
	claimed := make(map[int]bool)

	for _, field := range CanonicalFields {
		aliases := m.aliases.For(field)
		for _, strategy := range Strategies {
			matches := matchColumns(field, headers, aliases, claimed, strategy)
			if len(matches) == 0 {
				continue
			}
			mapping.Fields[field] = matches[0]
			claimed[matches[0].Index] = true
			mapping.Ambiguous = append(mapping.Ambiguous, matches[1:]...)
			break
		}
	}

	for _, field := range CanonicalFields {
		if _, ok := mapping.Fields[field]; ok {
			continue
		}
		suggestions := m.suggest(field, headers, claimed)
		mapping.Suggestions = append(mapping.Suggestions, suggestions...)
		if IsMandatory(field) {
			mapping.Missing = append(mapping.Missing, field)
		}
	}

	seen := make(map[string]bool)
	for idx, col := range headers {
		name := strings.TrimSpace(col)
		if claimed[idx] || name == "" || m.isAlias(col) {
			continue
		}
		folded := strings.ToLower(name)
		if seen[folded] {
			continue
		}
		seen[folded] = true
		if m.exclude[folded] || (len(m.preserve) > 0 && !m.preserve[folded]) {
			mapping.Excluded = append(mapping.Excluded, col)
			continue
		}
		mapping.Preserve = append(mapping.Preserve, idx)
	}

	return mapping
}

// matchColumns returns every unclaimed column matching one of the aliases
// under the given strategy. Columns matching an earlier alias come first, so
// a configured column beats a canonical one; ties keep input order.
func matchColumns(field string, headers, aliases []string, claimed map[int]bool, strategy Strategy) []Match {
	var matches []Match
	taken := make(map[int]bool)
	for _, alias := range aliases {
		for idx, col := range headers {
			if claimed[idx] || taken[idx] || strings.TrimSpace(col) == "" {
				continue
			}
			if strategy.Match(alias, col) {
				taken[idx] = true
				matches = append(matches, Match{
					Field:  field,
					Column: col,
					Index:  idx,
					Alias:  alias,
					Tier:   strategy.Tier,
				})
			}
		}
	}
	return matches
}

// isAlias reports whether a column matches any alias of any canonical field
// under a non-fuzzy strategy.
func (m *Mapper) isAlias(col string) bool {
	for _, field := range CanonicalFields {
		for _, alias := range m.aliases.For(field) {
			for _, strategy := range Strategies {
				if strategy.Match(alias, col) {
					return true
				}
			}
		}
	}
	return false
}

// suggest scores unclaimed columns against a field's aliases.
func (m *Mapper) suggest(field string, headers []string, claimed map[int]bool) []Suggestion {
	var out []Suggestion
	for idx, col := range headers {
		if claimed[idx] || strings.TrimSpace(col) == "" {
			continue
		}
		best := 0.0
		for _, alias := range m.aliases.For(field) {
			if s := Similarity(alias, col, m.threshold); s > best {
				best = s
			}
		}
		if best >= m.threshold {
			out = append(out, Suggestion{Field: field, Column: col, Score: best})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out
}

// Threshold returns the fuzzy suggestion threshold in use.
func (m *Mapper) Threshold() float64 {
	return m.threshold
}
