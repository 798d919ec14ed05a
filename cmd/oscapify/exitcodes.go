package main

import "fmt"

// Exit codes
const (
	ExitSuccess     = 0 // Success
	ExitError       = 1 // General error, or no input file succeeded
	ExitConfigError = 2 // Configuration error (bad config file, invalid option)
	ExitDataError   = 3 // Data error (header validation failure, strict mode abort)
)

// exitCodeError carries a process exit code through fang.Execute.
type exitCodeError int

func (e exitCodeError) Error() string {
	return fmt.Sprintf("exit status %d", int(e))
}

// codedError pairs an error with the exit code it should produce.
type codedError struct {
	code exitCodeError
	err  error
}

func (e *codedError) Error() string { return e.err.Error() }

func (e *codedError) Unwrap() []error { return []error{e.err, e.code} }

// withExitCode wraps err so main exits with code.
func withExitCode(code int, err error) error {
	if err == nil {
		return nil
	}
	return &codedError{code: exitCodeError(code), err: err}
}
