// Package report aggregates per-file processing results into run totals.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tmsincomb/oscapify/internal/cache"
)

// Exit codes derived from a finished run.
const (
	ExitOK          = 0
	ExitFailure     = 1 // no file succeeded
	ExitStrictAbort = 3 // a file failed in strict mode
)

// Status is the outcome of one input file.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Counts are the per-row and per-lookup counters of one or more files.
type Counts struct {
	RowsRead          int `json:"rows_read"`
	RowsEmitted       int `json:"rows_emitted"`
	RowsSkipped       int `json:"rows_skipped"`
	RowsErrored       int `json:"rows_errored"`
	LookupsResolved   int `json:"lookups_resolved"`
	LookupsUnresolved int `json:"lookups_unresolved"`
	LookupsTransient  int `json:"lookups_transient"`
	CacheHits         int `json:"cache_hits"`
}

// Add accumulates other into c.
func (c *Counts) Add(other Counts) {
	c.RowsRead += other.RowsRead
	c.RowsEmitted += other.RowsEmitted
	c.RowsSkipped += other.RowsSkipped
	c.RowsErrored += other.RowsErrored
	c.LookupsResolved += other.LookupsResolved
	c.LookupsUnresolved += other.LookupsUnresolved
	c.LookupsTransient += other.LookupsTransient
	c.CacheHits += other.CacheHits
}

// FileResult is the outcome of processing one input file.
type FileResult struct {
	// Index is the file's position in the run's input list.
	Index       int           `json:"-"`
	Path        string        `json:"path"`
	Output      string        `json:"output,omitempty"`
	Encoding    string        `json:"encoding,omitempty"`
	Status      Status        `json:"status"`
	Error       string        `json:"error,omitempty"`
	StrictAbort bool          `json:"strict_abort,omitempty"`
	Counts      Counts        `json:"counts"`
	Duration    time.Duration `json:"duration_ns"`
}

// Totals summarizes a run.
type Totals struct {
	RunID          string        `json:"run_id"`
	Files          int           `json:"files"`
	FilesSucceeded int           `json:"files_succeeded"`
	FilesFailed    int           `json:"files_failed"`
	StrictAborts   int           `json:"strict_aborts"`
	Counts         Counts        `json:"counts"`
	Cache          *cache.Stats  `json:"cache,omitempty"`
	Duration       time.Duration `json:"duration_ns"`
}

// Report is a concurrency-safe accumulator of FileResults.
type Report struct {
	mu      sync.Mutex
	runID   string
	now     func() time.Time
	started time.Time
	files   []FileResult
	cache   *cache.Stats
}

// Option configures a Report.
type Option func(*Report)

// WithRunID sets the run ID instead of generating one.
func WithRunID(id string) Option {
	return func(r *Report) {
		r.runID = id
	}
}

// WithClock sets the time source used for run duration.
func WithClock(now func() time.Time) Option {
	return func(r *Report) {
		r.now = now
	}
}

// New creates an empty Report with a fresh run ID.
func New(opts ...Option) *Report {
	r := &Report{now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	if r.runID == "" {
		r.runID = uuid.NewString()
	}
	r.started = r.now()
	return r
}

// RunID returns the run's identifier.
func (r *Report) RunID() string {
	return r.runID
}

// AddFileResult records the outcome of one file.
func (r *Report) AddFileResult(fr FileResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files = append(r.files, fr)
}

// SetCacheStats attaches the DOI cache counters at the end of a run.
func (r *Report) SetCacheStats(s cache.Stats) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = &s
}

// Files returns the recorded results in input order.
func (r *Report) Files() []FileResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]FileResult(nil), r.files...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// Summary returns the totals over every recorded file.
func (r *Report) Summary() Totals {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := Totals{
		RunID:    r.runID,
		Files:    len(r.files),
		Cache:    r.cache,
		Duration: r.now().Sub(r.started),
	}
	for _, f := range r.files {
		t.Counts.Add(f.Counts)
		if f.Status == StatusSucceeded {
			t.FilesSucceeded++
			continue
		}
		t.FilesFailed++
		if f.StrictAbort {
			t.StrictAborts++
		}
	}
	return t
}

// ExitCode returns the process exit code for the run. A strict-mode file
// failure takes precedence over the zero-success rule.
func (r *Report) ExitCode(strict bool) int {
	t := r.Summary()
	if strict && t.StrictAborts > 0 {
		return ExitStrictAbort
	}
	if t.FilesSucceeded == 0 {
		return ExitFailure
	}
	return ExitOK
}

// jsonReport is the machine-readable form of a Report.
type jsonReport struct {
	Summary Totals       `json:"summary"`
	Files   []FileResult `json:"files"`
}

// WriteJSON writes the summary and per-file results as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(jsonReport{Summary: r.Summary(), Files: r.Files()})
}

// WriteText writes a per-file summary followed by run totals.
func (r *Report) WriteText(w io.Writer) {
	for _, f := range r.Files() {
		c := f.Counts
		fmt.Fprintf(w, "%s: %s\n", f.Path, f.Status)
		if f.Output != "" {
			fmt.Fprintf(w, "  output:  %s\n", f.Output)
		}
		if f.Error != "" {
			fmt.Fprintf(w, "  error:   %s\n", f.Error)
		}
		fmt.Fprintf(w, "  rows:    %d read, %d emitted, %d skipped, %d errored\n",
			c.RowsRead, c.RowsEmitted, c.RowsSkipped, c.RowsErrored)
		fmt.Fprintf(w, "  lookups: %d resolved, %d unresolved, %d transient\n",
			c.LookupsResolved, c.LookupsUnresolved, c.LookupsTransient)
	}

	t := r.Summary()
	fmt.Fprintf(w, "\nProcessed %d file(s): %d succeeded, %d failed in %s\n",
		t.Files, t.FilesSucceeded, t.FilesFailed, t.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "Rows: %d emitted, %d skipped, %d errored\n",
		t.Counts.RowsEmitted, t.Counts.RowsSkipped, t.Counts.RowsErrored)
	fmt.Fprintf(w, "DOIs: %d resolved, %d unresolved, %d transient\n",
		t.Counts.LookupsResolved, t.Counts.LookupsUnresolved, t.Counts.LookupsTransient)
	if t.Cache != nil {
		fmt.Fprintf(w, "Cache: %d entries, %d hits, %d misses (%.1f%% hit rate)\n",
			t.Cache.Entries, t.Cache.Hits, t.Cache.Misses, t.Cache.HitRate()*100)
	}
	fmt.Fprintf(w, "Run ID: %s\n", t.RunID)
}
