package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/tmsincomb/oscapify/internal/cache"
	"github.com/tmsincomb/oscapify/internal/config"
	"github.com/tmsincomb/oscapify/internal/export"
	"github.com/tmsincomb/oscapify/internal/logging"
)

var (
	cacheBackendFlag string
	cacheDirFlag     string
	cacheClearYes    bool
	cachePruneAge    time.Duration
)

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheStatsCmd, cacheClearCmd, cachePruneCmd, cacheExportCmd, cacheImportCmd)

	pf := cacheCmd.PersistentFlags()
	pf.StringVar(&cacheBackendFlag, "cache-backend", "", "DOI cache backend: jsonl or sqlite")
	pf.StringVar(&cacheDirFlag, "cache-dir", "", "DOI cache directory")

	cacheClearCmd.Flags().BoolVar(&cacheClearYes, "yes", false, "Confirm removal of every cached DOI")
	cachePruneCmd.Flags().DurationVar(&cachePruneAge, "older-than", 30*24*time.Hour, "Remove unresolved entries older than this")
}

// CacheStatsResponse is the JSON response for cache stats.
type CacheStatsResponse struct {
	cache.Stats
	HitRate float64 `json:"hit_rate"`
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and maintain the DOI cache",
	Long: `Inspect and maintain the DOI cache.

The cache remembers every identifier looked up, including those with no DOI,
so later runs can skip the network. Its location follows --cache-dir, the
cache_dir config key, or the user cache directory.`,
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache size and location",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		c := mustOpenCache(cmd.Context(), cmd)
		defer c.Close()

		s := c.Stats()
		if humanOutput {
			outputHuman("Location:   %s\n", s.Location)
			outputHuman("Entries:    %d (%d resolved, %d unresolved)\n", s.Entries, s.Resolved, s.Unresolved)
			outputHuman("Hits:       %d\n", s.Hits)
			outputHuman("Misses:     %d\n", s.Misses)
			outputHuman("Hit rate:   %.1f%%\n", s.HitRate()*100)
			if s.Degraded {
				outputHuman("Status:     degraded (run 'oscapify cache clear --yes' to reset)\n")
			}
			return
		}
		outputJSON(CacheStatsResponse{Stats: s, HitRate: s.HitRate()})
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every cached DOI",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if !cacheClearYes {
			exitWithError(ExitError, "refusing to clear the cache without --yes")
		}
		c := mustOpenCache(cmd.Context(), cmd)
		defer c.Close()

		removed := c.Stats().Entries
		if err := c.Clear(cmd.Context()); err != nil {
			exitWithError(ExitError, "clearing cache: %v", err)
		}
		respondStatus(StatusResponse{Status: "cleared", Path: c.Location(), Count: removed},
			"Cleared %d entries from %s", removed, c.Location())
	},
}

var cachePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Forget old unresolved lookups so they are retried",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if cachePruneAge <= 0 {
			exitWithError(ExitConfigError, "--older-than must be positive")
		}
		c := mustOpenCache(cmd.Context(), cmd)
		defer c.Close()

		removed, err := c.Prune(cmd.Context(), time.Now().Add(-cachePruneAge))
		if err != nil {
			exitWithError(ExitError, "pruning cache: %v", err)
		}
		respondStatus(StatusResponse{Status: "pruned", Path: c.Location(), Count: removed},
			"Pruned %d unresolved entries older than %s", removed, cachePruneAge)
	},
}

var cacheExportCmd = &cobra.Command{
	Use:   "export <file>",
	Short: "Write the cache to a .jsonl or .parquet file",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		c := mustOpenCache(cmd.Context(), cmd)
		defer c.Close()

		entries := c.Entries()
		if err := export.Write(cmd.Context(), args[0], entries); err != nil {
			exitWithError(ExitError, "exporting cache: %v", err)
		}
		respondStatus(StatusResponse{Status: "exported", Path: args[0], Count: len(entries)},
			"Exported %d entries to %s", len(entries), args[0])
	},
}

var cacheImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Merge entries from a .jsonl or .parquet export into the cache",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		entries, err := export.Read(args[0])
		if err != nil {
			exitWithError(ExitError, "reading %s: %v", args[0], err)
		}

		c := mustOpenCache(cmd.Context(), cmd)
		defer c.Close()

		n, err := c.Import(cmd.Context(), entries)
		if err != nil {
			exitWithError(ExitError, "importing into cache: %v", err)
		}
		respondStatus(StatusResponse{Status: "imported", Path: c.Location(), Count: n},
			"Imported %d of %d entries into %s", n, len(entries), c.Location())
	},
}

// mustOpenCache opens and loads the configured durable cache, exits on error.
// A cache that fails to load is still returned so it can be cleared.
func mustOpenCache(ctx context.Context, cmd *cobra.Command) *cache.Cache {
	opts := mustLoadOptions()
	if cmd.Flags().Changed("cache-backend") {
		opts.CacheBackend = cacheBackendFlag
	}
	if cmd.Flags().Changed("cache-dir") {
		opts.CacheDir = config.ExpandPath(cacheDirFlag)
	}

	store, err := cache.OpenStore(opts.CacheBackend, opts.CacheDir)
	if err != nil {
		exitWithError(ExitConfigError, "opening cache: %v", err)
	}
	logger := logging.FromContext(ctx)
	c := cache.New(cache.WithStore(store), cache.WithLogger(logger))
	if err := c.Load(ctx); err != nil {
		logger.Warn("DOI cache could not be read", "err", err)
	}
	return c
}
