package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tmsincomb/oscapify/internal/cache"
	"github.com/tmsincomb/oscapify/internal/header"
	"github.com/tmsincomb/oscapify/internal/idconv"
	"github.com/tmsincomb/oscapify/internal/processor"
	"github.com/tmsincomb/oscapify/internal/resolver"
)

// Processing defaults.
const (
	DefaultBatchName    = "oscapify_batch"
	DefaultOutputSuffix = "-oscapify"
	DefaultOutputPrefix = "oscapify_output_"
)

// Options is the processing configuration consumed by the pipeline.
type Options struct {
	HeaderMapping  map[string][]string `json:"header_mapping,omitempty"`
	PreserveFields []string            `json:"preserve_fields,omitempty"`
	ExcludeFields  []string            `json:"exclude_fields,omitempty"`
	FuzzyThreshold float64             `json:"fuzzy_threshold"`

	Strict       bool   `json:"strict"`
	UseCache     bool   `json:"use_cache"`
	CacheBackend string `json:"cache_backend"`
	CacheDir     string `json:"cache_dir,omitempty"`

	APIKey  string        `json:"-"`
	Email   string        `json:"email,omitempty"`
	Tool    string        `json:"tool"`
	Timeout time.Duration `json:"timeout"`

	// IDConvURL replaces the NCBI endpoint, e.g. with a mirror.
	IDConvURL string `json:"idconv_url,omitempty"`

	BatchSize  int           `json:"batch_size"`
	MaxRetries int           `json:"max_retries"`
	Backoff    time.Duration `json:"backoff"`

	BatchName    string `json:"batch_name"`
	OutputDir    string `json:"output_dir,omitempty"`
	OutputSuffix string `json:"output_suffix"`
	Jobs         int    `json:"jobs"`
}

// Defaults returns the built-in options.
func Defaults() Options {
	return Options{
		FuzzyThreshold: header.DefaultFuzzyThreshold,
		UseCache:       true,
		CacheBackend:   cache.BackendJSONL,
		Tool:           idconv.DefaultTool,
		Timeout:        idconv.DefaultTimeout,
		BatchSize:      resolver.DefaultBatchSize,
		MaxRetries:     resolver.DefaultMaxRetries,
		Backoff:        resolver.DefaultBackoff,
		BatchName:      DefaultBatchName,
		OutputSuffix:   DefaultOutputSuffix,
		Jobs:           1,
	}
}

// FromGlobal layers the config file and then the environment over Defaults.
func FromGlobal(g *GlobalConfig) (Options, error) {
	opts := Defaults()
	if g == nil {
		g = &GlobalConfig{}
	}

	if len(g.HeaderMapping) > 0 {
		opts.HeaderMapping = g.HeaderMapping
	}
	opts.PreserveFields = g.PreserveFields
	opts.ExcludeFields = g.ExcludeFields
	if g.FuzzyThreshold != 0 {
		opts.FuzzyThreshold = g.FuzzyThreshold
	}
	if g.CacheBackend != "" {
		opts.CacheBackend = strings.ToLower(g.CacheBackend)
	}
	opts.CacheDir = g.CacheDir
	if g.Tool != "" {
		opts.Tool = g.Tool
	}
	opts.IDConvURL = g.IDConvURL
	if g.BatchName != "" {
		opts.BatchName = g.BatchName
	}
	if g.OutputSuffix != nil {
		opts.OutputSuffix = *g.OutputSuffix
	}
	if g.BatchSize != 0 {
		opts.BatchSize = g.BatchSize
	}
	if g.MaxRetries != nil {
		opts.MaxRetries = *g.MaxRetries
	}
	if g.Jobs != 0 {
		opts.Jobs = g.Jobs
	}

	var err error
	if g.Backoff != "" {
		if opts.Backoff, err = time.ParseDuration(g.Backoff); err != nil {
			return opts, fmt.Errorf("parsing backoff %q: %w", g.Backoff, err)
		}
	}
	if g.Timeout != "" {
		if opts.Timeout, err = time.ParseDuration(g.Timeout); err != nil {
			return opts, fmt.Errorf("parsing timeout %q: %w", g.Timeout, err)
		}
	}

	opts.APIKey = GetConfigValue(EnvAPIKey, g.NCBIAPIKey)
	opts.Email = GetConfigValue(EnvEmail, g.Email)

	return opts, opts.Validate()
}

// Validate reports the first invalid option.
func (o Options) Validate() error {
	var errs []error
	if o.FuzzyThreshold <= 0 || o.FuzzyThreshold > 1 {
		errs = append(errs, fmt.Errorf("fuzzy_threshold must be in (0, 1], got %v", o.FuzzyThreshold))
	}
	if o.BatchSize < 1 || o.BatchSize > idconv.MaxBatchSize {
		errs = append(errs, fmt.Errorf("batch_size must be between 1 and %d, got %d", idconv.MaxBatchSize, o.BatchSize))
	}
	if o.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("max_retries must not be negative, got %d", o.MaxRetries))
	}
	if o.Backoff < 0 || o.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("backoff and timeout must be positive durations"))
	}
	if o.Jobs < 1 {
		errs = append(errs, fmt.Errorf("jobs must be at least 1, got %d", o.Jobs))
	}
	if o.CacheBackend != cache.BackendJSONL && o.CacheBackend != cache.BackendSQLite {
		errs = append(errs, fmt.Errorf("cache_backend must be %s or %s, got %q", cache.BackendJSONL, cache.BackendSQLite, o.CacheBackend))
	}
	for field := range o.HeaderMapping {
		if !header.IsCanonical(field) {
			errs = append(errs, fmt.Errorf("header_mapping: unknown field %q", field))
		}
	}
	return errors.Join(errs...)
}

// Aliases returns the default alias table with HeaderMapping applied.
func (o Options) Aliases() header.Aliases {
	aliases := header.DefaultAliases()
	aliases.Merge(o.HeaderMapping)
	return aliases
}

// HeaderOptions returns the options for a header.Mapper.
func (o Options) HeaderOptions() header.Options {
	return header.Options{
		Aliases:        o.Aliases(),
		PreserveFields: o.PreserveFields,
		ExcludeFields:  o.ExcludeFields,
		FuzzyThreshold: o.FuzzyThreshold,
	}
}

// ResolverOptions returns the retry and batching policy.
func (o Options) ResolverOptions() resolver.Options {
	return resolver.Options{
		BatchSize:  o.BatchSize,
		MaxRetries: o.MaxRetries,
		Backoff:    o.Backoff,
	}
}

// ProcessorOptions returns the per-file processing options.
func (o Options) ProcessorOptions() processor.Options {
	return processor.Options{
		Header:       o.HeaderOptions(),
		BatchName:    o.BatchName,
		OutputDir:    o.OutputDir,
		OutputSuffix: o.OutputSuffix,
		Strict:       o.Strict,
		Jobs:         o.Jobs,
	}
}

// OverrideAlias makes column the preferred alias for field while keeping the
// field's other aliases.
func (o *Options) OverrideAlias(field, column string) {
	aliases := o.Aliases()
	mapping := make(map[string][]string, len(o.HeaderMapping)+1)
	for k, v := range o.HeaderMapping {
		mapping[k] = v
	}
	mapping[field] = append([]string{column}, aliases[field]...)
	o.HeaderMapping = mapping
}

// DefaultOutputDir returns the timestamped output directory for a run.
func DefaultOutputDir(now time.Time) string {
	return DefaultOutputPrefix + now.Format("20060102_150405")
}

// MaskedAPIKey returns the API key with all but the last four characters hidden.
func (o Options) MaskedAPIKey() string {
	if o.APIKey == "" {
		return ""
	}
	if len(o.APIKey) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(o.APIKey)-4) + o.APIKey[len(o.APIKey)-4:]
}
