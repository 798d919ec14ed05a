// Package main provides the oscapify CLI entry point.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/tmsincomb/oscapify/internal/config"
	"github.com/tmsincomb/oscapify/internal/logging"
)

// Version is set at build time via ldflags
var Version = "dev"

// Persistent flags shared by every command.
var (
	humanOutput bool
	debugMode   bool
	logFormat   string
	configPath  string
)

// globalCfg is the configuration file loaded before any command runs.
var globalCfg *config.GlobalConfig

func main() {
	if err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithVersion(Version),
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		var ec exitCodeError
		if errors.As(err, &ec) {
			os.Exit(int(ec))
		}
		os.Exit(ExitError)
	}
}

var rootCmd = &cobra.Command{
	Use:   "oscapify",
	Short: "Convert literature CSV exports to OSCAP format with DOI enrichment",
	Long: `oscapify converts CSV exports of connectivity sentences keyed by PubMed
identifiers into OSCAP-compatible CSV files.

Input headers are matched against configurable aliases, and every record is
enriched with a DOI from the NCBI PMC ID Converter. Lookups are cached on disk
so repeated runs do not hit the service again.

All commands output JSON by default; use --human for readable output.
Logs are written to stderr.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&humanOutput, "human", false, "Use human-readable output instead of JSON")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: text or json")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default "+config.GlobalConfigPath()+")")
}

// setup loads .env and the config file, then configures logging.
func setup(cmd *cobra.Command, args []string) error {
	// Load .env file if present (ignore errors)
	_ = godotenv.Load()

	var err error
	if configPath != "" {
		globalCfg, err = config.LoadConfigFile(configPath)
	} else {
		globalCfg, err = config.LoadGlobalConfig()
	}
	if err != nil {
		return withExitCode(ExitConfigError, fmt.Errorf("loading config: %w", err))
	}

	level := globalCfg.LogLevel
	if debugMode {
		level = "debug"
	}
	format := globalCfg.LogFormat
	if logFormat != "" {
		format = logFormat
	}
	logging.Setup(os.Stderr, level, format)
	return nil
}

// mustLoadOptions derives the processing options from the config file and
// environment, exits on error.
func mustLoadOptions() config.Options {
	opts, err := config.FromGlobal(globalCfg)
	if err != nil {
		exitWithError(ExitConfigError, "invalid configuration: %v", err)
	}
	return opts
}
