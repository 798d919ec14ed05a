package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tmsincomb/oscapify/internal/cache"
	"github.com/tmsincomb/oscapify/internal/config"
	"github.com/tmsincomb/oscapify/internal/header"
	"github.com/tmsincomb/oscapify/internal/idconv"
	"github.com/tmsincomb/oscapify/internal/logging"
	"github.com/tmsincomb/oscapify/internal/processor"
	"github.com/tmsincomb/oscapify/internal/report"
	"github.com/tmsincomb/oscapify/internal/resolver"
)

var (
	processOutput         string
	processSuffix         string
	processBatchName      string
	processNoCache        bool
	processStrict         bool
	processHeaderPMID     string
	processHeaderPMCID    string
	processHeaderSentence string
	processHeaderURL      string
	processPreserve       []string
	processExclude        []string
	processJobs           int
	processAPIKey         string
	processEmail          string
	processCacheBackend   string
	processCacheDir       string
	processBatchSize      int
	processMaxRetries     int
)

func init() {
	rootCmd.AddCommand(processCmd)

	f := processCmd.Flags()
	f.StringVarP(&processOutput, "output", "o", "", "Output directory (default oscapify_output_YYYYMMDD_HHMMSS)")
	f.StringVarP(&processSuffix, "suffix", "s", config.DefaultOutputSuffix, "Suffix appended to output file names")
	f.StringVarP(&processBatchName, "batch-name", "b", config.DefaultBatchName, "Batch name stamped into every record")
	f.BoolVar(&processNoCache, "no-cache", false, "Disable the DOI cache for this run")
	f.BoolVar(&processStrict, "strict", false, "Abort a file on its first skipped or invalid row")
	f.StringVar(&processHeaderPMID, "header-pmid", "", "Column to use for pmid")
	f.StringVar(&processHeaderPMCID, "header-pmcid", "", "Column to use for pmcid")
	f.StringVar(&processHeaderSentence, "header-sentence", "", "Column to use for sentence")
	f.StringVar(&processHeaderURL, "header-pubmed-url", "", "Column to use for pubmed_url")
	f.StringSliceVar(&processPreserve, "preserve-fields", nil, "Only pass through these extra columns")
	f.StringSliceVar(&processExclude, "exclude-fields", nil, "Never pass through these columns")
	f.IntVarP(&processJobs, "jobs", "j", 1, "Number of files processed in parallel")
	f.StringVar(&processAPIKey, "api-key", "", "NCBI API key (overrides "+config.EnvAPIKey+")")
	f.StringVar(&processEmail, "email", "", "Contact email sent to NCBI (overrides "+config.EnvEmail+")")
	f.StringVar(&processCacheBackend, "cache-backend", cache.BackendJSONL, "DOI cache backend: jsonl or sqlite")
	f.StringVar(&processCacheDir, "cache-dir", "", "DOI cache directory")
	f.IntVar(&processBatchSize, "batch-size", resolver.DefaultBatchSize, "Identifiers per lookup request")
	f.IntVar(&processMaxRetries, "max-retries", resolver.DefaultMaxRetries, "Retries for transient lookup failures")
}

var processCmd = &cobra.Command{
	Use:   "process <input>...",
	Short: "Convert CSV files to OSCAP format",
	Long: `Convert CSV files to OSCAP format.

Each input may be a CSV file or a directory; directories contribute their
top-level *.csv files. One output file is written per input.

Examples:
  oscapify process data.csv
  oscapify process data/ -o results --batch-name week42
  oscapify process export.csv --header-pmid "Article ID" --strict`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if code := runProcess(cmd.Context(), cmd, args); code != ExitSuccess {
			os.Exit(code)
		}
	},
}

// applyProcessFlags layers explicitly set flags over opts.
func applyProcessFlags(cmd *cobra.Command, opts *config.Options) {
	f := cmd.Flags()
	if f.Changed("output") {
		opts.OutputDir = processOutput
	}
	if f.Changed("suffix") {
		opts.OutputSuffix = processSuffix
	}
	if f.Changed("batch-name") {
		opts.BatchName = processBatchName
	}
	if processNoCache {
		opts.UseCache = false
	}
	if processStrict {
		opts.Strict = true
	}
	for field, column := range map[string]string{
		header.FieldPMID:      processHeaderPMID,
		header.FieldPMCID:     processHeaderPMCID,
		header.FieldSentence:  processHeaderSentence,
		header.FieldPubMedURL: processHeaderURL,
	} {
		if column != "" {
			opts.OverrideAlias(field, column)
		}
	}
	if f.Changed("preserve-fields") {
		opts.PreserveFields = processPreserve
	}
	if f.Changed("exclude-fields") {
		opts.ExcludeFields = processExclude
	}
	if f.Changed("jobs") {
		opts.Jobs = processJobs
	}
	if f.Changed("api-key") {
		opts.APIKey = processAPIKey
	}
	if f.Changed("email") {
		opts.Email = processEmail
	}
	if f.Changed("cache-backend") {
		opts.CacheBackend = processCacheBackend
	}
	if f.Changed("cache-dir") {
		opts.CacheDir = config.ExpandPath(processCacheDir)
	}
	if f.Changed("batch-size") {
		opts.BatchSize = processBatchSize
	}
	if f.Changed("max-retries") {
		opts.MaxRetries = processMaxRetries
	}
}

func runProcess(ctx context.Context, cmd *cobra.Command, args []string) int {
	opts := mustLoadOptions()
	applyProcessFlags(cmd, &opts)
	if err := opts.Validate(); err != nil {
		exitWithError(ExitConfigError, "invalid options: %v", err)
	}
	if opts.OutputDir == "" {
		opts.OutputDir = config.DefaultOutputDir(time.Now())
	}

	inputs, err := processor.CollectInputs(args)
	if err != nil {
		exitWithError(ExitError, "%v", err)
	}
	if len(inputs) == 0 {
		exitWithError(ExitError, "no CSV files found in %v", args)
	}

	rep := report.New()
	ctx = logging.WithRunID(ctx, rep.RunID())
	logger := logging.FromContext(ctx)

	c := openCache(ctx, opts, logger)
	defer c.Close()

	clientOpts := []idconv.ClientOption{
		idconv.WithAPIKey(opts.APIKey),
		idconv.WithEmail(opts.Email),
		idconv.WithTool(opts.Tool),
		idconv.WithTimeout(opts.Timeout),
	}
	if opts.IDConvURL != "" {
		clientOpts = append(clientOpts, idconv.WithBaseURL(opts.IDConvURL))
	}
	client := idconv.NewClient(clientOpts...)
	resOpts := opts.ResolverOptions()
	resOpts.Logger = logger
	res := resolver.New(client, c, resOpts)

	procOpts := opts.ProcessorOptions()
	procOpts.Logger = logger
	proc := processor.New(res, procOpts)

	logger.Info("processing started", "files", len(inputs), "output_dir", opts.OutputDir,
		"strict", opts.Strict, "cache", c.Location(), "api_key", client.HasAPIKey())

	runErr := proc.Run(ctx, inputs, rep)

	// Only complete sub-batches are in the cache, so flushing after an
	// interrupt is safe.
	if err := c.Flush(context.WithoutCancel(ctx)); err != nil {
		logger.Warn("final DOI cache flush failed", "err", err)
	}
	rep.SetCacheStats(c.Stats())
	rs := res.Stats()
	logger.Info("lookups finished", "keys", rs.Keys, "cache_hits", rs.CacheHits,
		"requests", rs.Requests, "retries", rs.Retries, "transient", rs.Transient)

	if humanOutput {
		rep.WriteText(stdout)
	} else {
		rep.WriteJSON(stdout)
	}

	if runErr != nil {
		logger.Warn("processing interrupted", "err", runErr)
		return ExitError
	}
	switch rep.ExitCode(opts.Strict) {
	case report.ExitStrictAbort:
		return ExitDataError
	case report.ExitFailure:
		return ExitError
	default:
		return ExitSuccess
	}
}

// openCache opens the DOI cache described by opts. Store problems are logged
// and the returned cache falls back to memory-only operation.
func openCache(ctx context.Context, opts config.Options, logger *slog.Logger) *cache.Cache {
	if !opts.UseCache {
		return cache.New(cache.WithDisabled(true), cache.WithLogger(logger))
	}

	store, err := cache.OpenStore(opts.CacheBackend, opts.CacheDir)
	if err != nil {
		logger.Warn("DOI cache unavailable, continuing in memory only", "err", err)
		return cache.New(cache.WithLogger(logger))
	}

	c := cache.New(cache.WithStore(store), cache.WithLogger(logger))
	// Load logs and degrades on failure; the cache stays usable.
	_ = c.Load(ctx)
	return c
}
