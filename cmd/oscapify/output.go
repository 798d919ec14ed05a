package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
)

// stdout receives command results; logs go to stderr.
var stdout io.Writer = os.Stdout

// writeJSON encodes v as indented JSON.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func outputJSON(v any) error {
	return writeJSON(stdout, v)
}

func outputHuman(format string, args ...any) {
	fmt.Fprintf(stdout, format, args...)
}

// respondStatus prints a StatusResponse, or msg in --human mode.
func respondStatus(resp StatusResponse, format string, args ...any) {
	if humanOutput {
		outputHuman(format+"\n", args...)
		return
	}
	outputJSON(resp)
}

// exitWithError reports a fatal command error and exits with code. JSON mode
// prints an ErrorResponse on stdout so callers parsing output still get JSON.
func exitWithError(code int, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	slog.Debug("command failed", "exit_code", code, "err", msg)
	if humanOutput {
		fmt.Fprintf(os.Stderr, "error: %s\n", msg)
	} else {
		outputJSON(ErrorResponse{Error: msg, Code: code})
	}
	os.Exit(code)
}

// ErrorResponse is a JSON error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"exit_code"`
}

// StatusResponse reports the outcome of a cache maintenance command.
type StatusResponse struct {
	Status string `json:"status"`
	Path   string `json:"path,omitempty"`
	Count  int    `json:"count"`
}
