// Package xerrors distinguishes the error kinds the controller's task
// boundaries (submitter, processing loop, document-store gateway) need to
// tell apart when deciding whether to mark an entity failed outright or
// leave it for the caller to retry.
package xerrors

import "fmt"

// SetupError reports that a prerequisite to submission is missing: unknown
// user, invalid home directory, missing jobscript templates. A benchmark
// hit with a SetupError is marked failed with no jobs submitted.
type SetupError struct {
	Reason string
	Err    error
}

func (e *SetupError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("setup error: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("setup error: %s", e.Reason)
}

func (e *SetupError) Unwrap() error { return e.Err }

// NewSetupError wraps err (which may be nil) with a human-readable reason.
func NewSetupError(reason string, err error) *SetupError {
	return &SetupError{Reason: reason, Err: err}
}

// SubmissionError reports that the scheduler refused a job. Unlike
// SetupError, some permutations may already have been submitted
// successfully; the caller decides the benchmark's fate from how many
// jobs landed, not from this error alone.
type SubmissionError struct {
	Identificator string
	Err           error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submission error for %s: %v", e.Identificator, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// ProcessingError reports an unexpected failure inside a single
// benchmark's processing loop. It never crosses benchmark boundaries: the
// processing supervisor catches it, marks the owning benchmark failed, and
// other watchers keep running.
type ProcessingError struct {
	RunNumber int64
	Err       error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("processing error for run %d: %v", e.RunNumber, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

// NewProcessingError wraps err as a ProcessingError for runNumber.
func NewProcessingError(runNumber int64, err error) *ProcessingError {
	return &ProcessingError{RunNumber: runNumber, Err: err}
}
