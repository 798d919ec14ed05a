// Package processor converts input CSV files into OSCAP output files.
//
// Each file goes through the same steps: read, map headers, normalize
// identifiers row by row, resolve every distinct identifier in one resolver
// call, then emit and atomically write the output. Files are independent;
// the DOI cache behind the resolver is the only state they share.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tmsincomb/oscapify/internal/csvio"
	"github.com/tmsincomb/oscapify/internal/header"
	"github.com/tmsincomb/oscapify/internal/ident"
	"github.com/tmsincomb/oscapify/internal/logging"
	"github.com/tmsincomb/oscapify/internal/report"
	"github.com/tmsincomb/oscapify/internal/resolver"
)

// Resolver looks up DOIs for a set of identifier keys.
type Resolver interface {
	Resolve(ctx context.Context, keys []ident.Key) map[ident.Key]resolver.Result
}

// Options configures a Processor.
type Options struct {
	Header       header.Options
	BatchName    string
	OutputDir    string
	OutputSuffix string
	Strict       bool
	Jobs         int
	Logger       *slog.Logger
	// Now is the clock used for record ids. Defaults to time.Now.
	Now func() time.Time
}

// Processor turns input tables into output records.
type Processor struct {
	resolver Resolver
	mapper   *header.Mapper
	opts     Options
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a Processor backed by res.
func New(res Resolver, opts Options) *Processor {
	if opts.Jobs < 1 {
		opts.Jobs = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Processor{
		resolver: res,
		mapper:   header.NewMapper(opts.Header),
		opts:     opts,
		logger:   logger,
		now:      now,
	}
}

// Result is the output of processing one table.
type Result struct {
	Header   []string
	Records  []OutputRecord
	Mapping  *header.Mapping
	Counts   report.Counts
	Skipped  []*RecordSkipped
	Errors   []*RowError
	Encoding string
}

// Rows returns the records as CSV rows.
func (r *Result) Rows() [][]string {
	rows := make([][]string, len(r.Records))
	for i, rec := range r.Records {
		rows[i] = rec.Values()
	}
	return rows
}

// candidate is a row that reached the Normalized state.
type candidate struct {
	row       int
	state     State
	key       ident.Key
	sentence  string
	preserved []string
}

// Process maps, normalizes, resolves and emits the rows of one table. It
// fails with a *header.HeaderValidationError when mandatory columns are
// missing, a *StrictModeAbort in strict mode, or ctx's error on cancellation.
// The returned Result carries the counts reached so far even on failure.
func (p *Processor) Process(ctx context.Context, table *csvio.Table) (*Result, error) {
	logger := p.fileLogger(ctx, table.Path)
	res := &Result{Encoding: table.Encoding}

	mapping, err := p.mapper.Map(table.Header)
	if err != nil {
		return res, err
	}
	res.Mapping = mapping
	res.Header = append(append([]string(nil), OutputColumns...), mapping.PreserveNames()...)
	for _, amb := range mapping.Ambiguous {
		logger.Debug("ambiguous header", "field", amb.Field, "column", amb.Column, "tier", amb.Tier)
	}

	var cands []candidate
	for i, values := range table.Rows {
		row := i + 1
		res.Counts.RowsRead++

		c, err := p.normalize(row, len(table.Header), values, mapping)
		if err != nil {
			if abort := p.reject(res, table.Path, err, logger); abort != nil {
				return res, abort
			}
			continue
		}
		cands = append(cands, c)
	}

	if err := ctx.Err(); err != nil {
		return res, err
	}

	keys := make([]ident.Key, len(cands))
	for i := range cands {
		cands[i].state = StateLookup
		keys[i] = cands[i].key
	}
	results := map[ident.Key]resolver.Result{}
	if len(keys) > 0 {
		results = p.resolver.Resolve(ctx, keys)
	}
	// Lookups of a cancelled run are incomplete; emit nothing.
	if err := ctx.Err(); err != nil {
		return res, err
	}

	date := p.now().Format("20060102")
	for _, c := range cands {
		lookup, ok := results[c.key]
		if !ok {
			err := &RowError{Row: c.row, Err: fmt.Errorf("no lookup result for %s", c.key)}
			if abort := p.reject(res, table.Path, err, logger); abort != nil {
				return res, abort
			}
			continue
		}

		id := RecordID(len(res.Records)+1, date)
		rec := OutputRecord{
			ID:         id,
			PMID:       c.key.PMID,
			PMCID:      c.key.PMCID,
			Sentence:   c.sentence,
			BatchName:  p.opts.BatchName,
			SentenceID: id,
			OutOfScope: OutOfScope,
			Preserved:  c.preserved,
		}
		// The service may know the identifier the input left empty.
		if rec.PMID == "" {
			rec.PMID = lookup.IDs.PMID
		}
		if rec.PMCID == "" {
			rec.PMCID = lookup.IDs.PMCID
		}

		// Counts change once per row, after its record is complete.
		delta := report.Counts{RowsEmitted: 1}
		if lookup.FromCache {
			delta.CacheHits = 1
		}
		switch lookup.Status {
		case resolver.Resolved:
			rec.DOI = lookup.DOI
			rec.OutOfScope = InScope
			delta.LookupsResolved = 1
		case resolver.Unresolved:
			delta.LookupsUnresolved = 1
		default:
			delta.LookupsTransient = 1
			logger.Debug("DOI lookup transient failure", "row", c.row, "query", c.key.String(), "err", lookup.Err)
		}
		res.Records = append(res.Records, rec)
		res.Counts.Add(delta)
	}

	return res, nil
}

// normalize moves one raw row from Read through Mapped to Normalized.
func (p *Processor) normalize(row, width int, values []string, mapping *header.Mapping) (candidate, error) {
	c := candidate{row: row, state: StateRead}
	if len(values) > width {
		return c, &RowError{Row: row, Err: fmt.Errorf("%d fields, header has %d", len(values), width)}
	}

	cell := func(field string) string {
		idx, ok := mapping.Column(field)
		if !ok || idx >= len(values) {
			return ""
		}
		return strings.TrimSpace(values[idx])
	}
	c.state = StateMapped

	c.sentence = cell(header.FieldSentence)
	if c.sentence == "" {
		return c, &RecordSkipped{Row: row, Reason: "empty sentence"}
	}

	pmid := ident.NormalizePMID(cell(header.FieldPMID))
	pmcid := ident.NormalizePMCID(cell(header.FieldPMCID))
	if pmcid == "" {
		pmcid = ident.PMCIDFromURL(cell(header.FieldPubMedURL))
	}
	c.key = ident.Key{PMID: pmid, PMCID: pmcid}
	if c.key.IsZero() {
		return c, &RecordSkipped{Row: row, Reason: "no usable pmid or pmcid"}
	}

	c.preserved = make([]string, len(mapping.Preserve))
	for i, idx := range mapping.Preserve {
		if idx < len(values) {
			c.preserved[i] = values[idx]
		}
	}
	c.state = StateNormalized
	return c, nil
}

// reject records a skipped or errored row. In strict mode it returns the
// abort that stops the file.
func (p *Processor) reject(res *Result, path string, err error, logger *slog.Logger) error {
	var skipped *RecordSkipped
	var rowErr *RowError
	switch {
	case errors.As(err, &skipped):
		res.Counts.RowsSkipped++
		res.Skipped = append(res.Skipped, skipped)
		logger.Debug("row skipped", "row", skipped.Row, "reason", skipped.Reason)
	case errors.As(err, &rowErr):
		res.Counts.RowsErrored++
		res.Errors = append(res.Errors, rowErr)
		logger.Warn("row error", "row", rowErr.Row, "err", rowErr.Err)
	}
	if p.opts.Strict {
		return &StrictModeAbort{Path: path, Err: err}
	}
	return nil
}

func (p *Processor) fileLogger(ctx context.Context, path string) *slog.Logger {
	logger := p.logger.With("file", path)
	if id := logging.RunID(ctx); id != "" {
		logger = logger.With("run_id", id)
	}
	return logger
}
