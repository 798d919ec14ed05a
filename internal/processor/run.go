package processor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/tmsincomb/oscapify/internal/csvio"
	"github.com/tmsincomb/oscapify/internal/header"
	"github.com/tmsincomb/oscapify/internal/report"
)

// CollectInputs expands paths into a sorted, deduplicated list of CSV files.
// Directories contribute their top-level *.csv files.
func CollectInputs(paths []string) ([]string, error) {
	seen := make(map[string]bool)
	var files []string
	add := func(path string) {
		clean := filepath.Clean(path)
		if !seen[clean] {
			seen[clean] = true
			files = append(files, clean)
		}
	}

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("input %s: %w", path, err)
		}
		if !info.IsDir() {
			add(path)
			continue
		}
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, fmt.Errorf("reading directory %s: %w", path, err)
		}
		for _, e := range entries {
			if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".csv") {
				add(filepath.Join(path, e.Name()))
			}
		}
	}

	sort.Strings(files)
	return files, nil
}

// OutputPaths returns the output file for each input. Inputs sharing a file
// stem get a numeric suffix so no two outputs collide.
func (p *Processor) OutputPaths(inputs []string) []string {
	used := make(map[string]int)
	out := make([]string, len(inputs))
	for i, in := range inputs {
		stem := strings.TrimSuffix(filepath.Base(in), filepath.Ext(in))
		name := stem + p.opts.OutputSuffix
		used[name]++
		if n := used[name]; n > 1 {
			name = fmt.Sprintf("%s_%d", name, n)
		}
		out[i] = filepath.Join(p.opts.OutputDir, name+".csv")
	}
	return out
}

// ProcessFile reads, processes and writes one file. Failures are reported in
// the returned FileResult, never as a panic or a partial output file.
func (p *Processor) ProcessFile(ctx context.Context, index int, input, output string) report.FileResult {
	start := p.now()
	fr := report.FileResult{Index: index, Path: input, Status: report.StatusFailed}
	logger := p.fileLogger(ctx, input)

	finish := func(err error) report.FileResult {
		fr.Duration = p.now().Sub(start)
		if err != nil {
			fr.Error = err.Error()
			fr.Output = ""
			fr.StrictAbort = IsStrictModeAbort(err)
			if header.IsHeaderValidation(err) {
				logger.Warn("header validation failed", "err", err)
			} else {
				logger.Error("file failed", "err", err)
			}
			return fr
		}
		fr.Status = report.StatusSucceeded
		logger.Info("file processed", "output", fr.Output, "rows", fr.Counts.RowsEmitted,
			"skipped", fr.Counts.RowsSkipped, "errored", fr.Counts.RowsErrored)
		return fr
	}

	table, err := csvio.Read(input)
	if err != nil {
		return finish(err)
	}
	fr.Encoding = table.Encoding
	logger.Debug("file read", "encoding", table.Encoding, "rows", len(table.Rows))

	res, err := p.Process(ctx, table)
	if res != nil {
		fr.Counts = res.Counts
	}
	if err != nil {
		return finish(err)
	}

	fr.Output = output
	return finish(csvio.WriteAtomic(ctx, output, res.Header, res.Rows()))
}

// Run processes every input with up to Jobs files in flight and records each
// outcome in rep. Individual file failures do not stop the run; only
// cancellation of ctx does, in which case ctx's error is returned.
func (p *Processor) Run(ctx context.Context, inputs []string, rep *report.Report) error {
	if p.opts.OutputDir != "" {
		if err := os.MkdirAll(p.opts.OutputDir, 0755); err != nil {
			return fmt.Errorf("creating output directory: %w", err)
		}
	}
	outputs := p.OutputPaths(inputs)

	var g errgroup.Group
	g.SetLimit(p.opts.Jobs)
	for i, in := range inputs {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			rep.AddFileResult(p.ProcessFile(ctx, i, in, outputs[i]))
			return nil
		})
	}
	_ = g.Wait()
	return ctx.Err()
}
