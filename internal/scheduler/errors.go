package scheduler

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidJob           = errors.New("invalid job")
	ErrCredentialsExhausted = errors.New("all credentials failed")
	ErrTransport            = errors.New("ssh transport failure")
	ErrScanCancelled        = errors.New("scan cancelled before job started")

	// ErrQueueClosed tells a worker to stop. It is never reported.
	ErrQueueClosed = errors.New("connection queue closed")
)

// CredentialExhaustedError is returned when no credential authenticated.
// Only the last attempt's failure is kept.
type CredentialExhaustedError struct {
	Target   string
	Attempts int
	Last     error
}

func (e *CredentialExhaustedError) Error() string {
	return fmt.Sprintf("%s: %d credential(s) failed, last: %v", e.Target, e.Attempts, e.Last)
}

func (e *CredentialExhaustedError) Unwrap() []error {
	return []error{ErrCredentialsExhausted, e.Last}
}

// ExecutionError means the session broke during the command sequence.
type ExecutionError struct {
	Command string
	Ran     int
	NotRun  int
	Err     error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution aborted at %q after %d command(s), %d not run: %v", e.Command, e.Ran, e.NotRun, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// PanicError wraps a panic recovered while processing a job.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic while processing job: %v", e.Value)
}
