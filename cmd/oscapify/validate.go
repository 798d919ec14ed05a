package main

import (
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tmsincomb/oscapify/internal/csvio"
	"github.com/tmsincomb/oscapify/internal/header"
)

const (
	sampleColumns = 5
	samplesPerCol = 3
)

var validateSuggest bool

func init() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().BoolVar(&validateSuggest, "suggest-mappings", false, "Suggest --header-* flags for missing fields")
}

// ValidateResponse is the JSON response for the validate command.
type ValidateResponse struct {
	File           string               `json:"file"`
	Encoding       string               `json:"encoding"`
	Rows           int                  `json:"rows"`
	Report         *header.Report       `json:"report"`
	Samples        []csvio.ColumnSample `json:"samples"`
	SuggestedFlags []string             `json:"suggested_flags,omitempty"`
}

var validateCmd = &cobra.Command{
	Use:   "validate <csv>",
	Short: "Check a CSV file's headers without processing it",
	Long: `Check a CSV file's headers without processing it.

Reports how each column maps onto pmid, pmcid, sentence and pubmed_url,
which columns pass through, and which required fields are missing.
Exits with status 3 when a required field cannot be mapped.

Examples:
  oscapify validate data.csv
  oscapify validate export.csv --suggest-mappings --human`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if code := runValidate(args[0]); code != ExitSuccess {
			os.Exit(code)
		}
	},
}

func runValidate(path string) int {
	opts := mustLoadOptions()
	if err := opts.Validate(); err != nil {
		exitWithError(ExitConfigError, "invalid options: %v", err)
	}

	table, err := csvio.Read(path)
	if err != nil {
		exitWithError(ExitError, "%v", err)
	}

	mapper := header.NewMapper(opts.HeaderOptions())
	rep := mapper.Diagnose(table.Header)

	resp := ValidateResponse{
		File:     path,
		Encoding: table.Encoding,
		Rows:     len(table.Rows),
		Report:   rep,
		Samples:  table.Samples(sampleColumns, samplesPerCol),
	}
	if validateSuggest {
		resp.SuggestedFlags = rep.SuggestedFlags()
	}

	if humanOutput {
		printValidateHuman(resp)
	} else {
		outputJSON(resp)
	}

	if !rep.Valid {
		return ExitDataError
	}
	return ExitSuccess
}

func printValidateHuman(resp ValidateResponse) {
	outputHuman("File: %s (%s, %d rows)\n\n", resp.File, resp.Encoding, resp.Rows)
	resp.Report.WriteText(stdout)

	if len(resp.Samples) > 0 {
		outputHuman("\nSample data:\n")
		for _, s := range resp.Samples {
			outputHuman("  %s: %d non-empty, %d empty, %d unique\n", s.Name, s.NonEmpty, s.Empty, s.Unique)
			for _, v := range s.Samples {
				outputHuman("    %s\n", truncate(v, 60))
			}
		}
	}

	if len(resp.SuggestedFlags) > 0 {
		outputHuman("\nTry:\n  oscapify process %s %s\n", resp.File, strings.Join(resp.SuggestedFlags, " "))
	}

	if resp.Report.Valid {
		outputHuman("\nHeaders OK\n")
	} else {
		outputHuman("\nHeaders invalid\n")
	}
}

// truncate shortens s to at most n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
