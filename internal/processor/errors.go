package processor

import (
	"errors"
	"fmt"
)

// RecordSkipped reports a row whose mandatory values are empty or unusable.
// It is counted and the row is left out of the output.
type RecordSkipped struct {
	Row    int
	Reason string
}

func (e *RecordSkipped) Error() string {
	return fmt.Sprintf("row %d skipped: %s", e.Row, e.Reason)
}

// RowError reports a row whose output record could not be built.
type RowError struct {
	Row int
	Err error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("row %d: %v", e.Row, e.Err)
}

func (e *RowError) Unwrap() error {
	return e.Err
}

// StrictModeAbort stops processing of one file in strict mode. Nothing is
// written for the file.
type StrictModeAbort struct {
	Path string
	Err  error
}

func (e *StrictModeAbort) Error() string {
	return fmt.Sprintf("strict mode: aborting %s: %v", e.Path, e.Err)
}

func (e *StrictModeAbort) Unwrap() error {
	return e.Err
}

// IsStrictModeAbort returns true if err is or wraps a StrictModeAbort.
func IsStrictModeAbort(err error) bool {
	var sa *StrictModeAbort
	return errors.As(err, &sa)
}

// IsRecordSkipped returns true if err is or wraps a RecordSkipped.
func IsRecordSkipped(err error) bool {
	var rs *RecordSkipped
	return errors.As(err, &rs)
}
