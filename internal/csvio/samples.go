package csvio

import "strings"

// ColumnSample summarizes the values of one column.
type ColumnSample struct {
	Name     string   `json:"name"`
	NonEmpty int      `json:"non_empty"`
	Empty    int      `json:"empty"`
	Unique   int      `json:"unique"`
	Samples  []string `json:"samples"`
}

// Samples summarizes the first maxCols columns, keeping up to perCol
// distinct non-empty values for each.
func (t *Table) Samples(maxCols, perCol int) []ColumnSample {
	n := len(t.Header)
	if maxCols >= 0 && maxCols < n {
		n = maxCols
	}
	out := make([]ColumnSample, n)
	for col := 0; col < n; col++ {
		s := ColumnSample{Name: t.Header[col], Samples: []string{}}
		seen := make(map[string]bool)
		for _, row := range t.Rows {
			v := ""
			if col < len(row) {
				v = strings.TrimSpace(row[col])
			}
			if v == "" {
				s.Empty++
				continue
			}
			s.NonEmpty++
			if seen[v] {
				continue
			}
			seen[v] = true
			if len(s.Samples) < perCol {
				s.Samples = append(s.Samples, v)
			}
		}
		s.Unique = len(seen)
		out[col] = s
	}
	return out
}
