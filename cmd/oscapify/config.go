package main

import (
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tmsincomb/oscapify/internal/cache"
	"github.com/tmsincomb/oscapify/internal/config"
	"github.com/tmsincomb/oscapify/internal/header"
)

func init() {
	rootCmd.AddCommand(configCmd)
}

// ConfigResponse is the JSON response for the config command.
type ConfigResponse struct {
	ConfigPath     string              `json:"config_path"`
	ConfigExists   bool                `json:"config_exists"`
	APIKey         string              `json:"api_key,omitempty"`
	Email          string              `json:"email,omitempty"`
	Tool           string              `json:"tool"`
	CacheBackend   string              `json:"cache_backend"`
	CacheLocation  string              `json:"cache_location"`
	BatchName      string              `json:"batch_name"`
	OutputSuffix   string              `json:"output_suffix"`
	FuzzyThreshold float64             `json:"fuzzy_threshold"`
	BatchSize      int                 `json:"batch_size"`
	MaxRetries     int                 `json:"max_retries"`
	Backoff        string              `json:"backoff"`
	Timeout        string              `json:"timeout"`
	Jobs           int                 `json:"jobs"`
	Aliases        map[string][]string `json:"header_aliases"`
	PreserveFields []string            `json:"preserve_fields,omitempty"`
	ExcludeFields  []string            `json:"exclude_fields,omitempty"`
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	Long: `Show the effective configuration.

Values come from built-in defaults, then the config file, then the
environment (` + config.EnvAPIKey + `, ` + config.EnvEmail + `). The API key is masked.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		opts := mustLoadOptions()

		path := configPath
		if path == "" {
			path = config.GlobalConfigPath()
		}
		_, statErr := os.Stat(path)

		location := opts.CacheDir
		if location == "" {
			if dir, err := cache.DefaultDir(); err == nil {
				location = dir
			}
		}

		aliases := opts.Aliases()
		resp := ConfigResponse{
			ConfigPath:     path,
			ConfigExists:   statErr == nil,
			APIKey:         opts.MaskedAPIKey(),
			Email:          opts.Email,
			Tool:           opts.Tool,
			CacheBackend:   opts.CacheBackend,
			CacheLocation:  location,
			BatchName:      opts.BatchName,
			OutputSuffix:   opts.OutputSuffix,
			FuzzyThreshold: opts.FuzzyThreshold,
			BatchSize:      opts.BatchSize,
			MaxRetries:     opts.MaxRetries,
			Backoff:        opts.Backoff.String(),
			Timeout:        opts.Timeout.String(),
			Jobs:           opts.Jobs,
			Aliases:        make(map[string][]string, len(header.CanonicalFields)),
			PreserveFields: opts.PreserveFields,
			ExcludeFields:  opts.ExcludeFields,
		}
		for _, field := range header.CanonicalFields {
			resp.Aliases[field] = aliases.For(field)
		}

		if !humanOutput {
			outputJSON(resp)
			return
		}

		exists := ""
		if !resp.ConfigExists {
			exists = " (not found, using defaults)"
		}
		outputHuman("config:          %s%s\n", resp.ConfigPath, exists)
		outputHuman("api key:         %s\n", orNone(resp.APIKey))
		outputHuman("email:           %s\n", orNone(resp.Email))
		outputHuman("cache:           %s in %s\n", resp.CacheBackend, resp.CacheLocation)
		outputHuman("batch name:      %s\n", resp.BatchName)
		outputHuman("output suffix:   %q\n", resp.OutputSuffix)
		outputHuman("fuzzy threshold: %.2f\n", resp.FuzzyThreshold)
		outputHuman("lookups:         batch %d, retries %d, backoff %s, timeout %s\n",
			resp.BatchSize, resp.MaxRetries, resp.Backoff, resp.Timeout)
		outputHuman("jobs:            %d\n", resp.Jobs)
		outputHuman("header aliases:\n")
		fields := make([]string, 0, len(resp.Aliases))
		for f := range resp.Aliases {
			fields = append(fields, f)
		}
		sort.Strings(fields)
		for _, f := range fields {
			outputHuman("  %-10s %s\n", f, strings.Join(resp.Aliases[f], ", "))
		}
	},
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
