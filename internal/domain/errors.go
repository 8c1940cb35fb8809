package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownJob       = errors.New("unknown job")
	ErrJobInFlight      = errors.New("job already in flight")
	ErrSchedulerRunning = errors.New("scheduler already running")
	ErrSchedulerStopped = errors.New("scheduler not running")
	ErrForceStopped     = errors.New("forced shutdown")
)

// ConnectionError means the target could not be reached.
type ConnectionError struct {
	Target string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Target, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// DumpError is an engine level failure while dumping one database.
type DumpError struct {
	Database string
	Err      error
}

func (e *DumpError) Error() string {
	return fmt.Sprintf("dump %s: %v", e.Database, e.Err)
}

func (e *DumpError) Unwrap() error { return e.Err }

// PartialJobFailure reports the databases of a job that failed while
// others succeeded.
type PartialJobFailure struct {
	Job    string
	Failed []*DumpError
	Total  int
}

func (e *PartialJobFailure) Error() string {
	names := make([]string, 0, len(e.Failed))
	for _, f := range e.Failed {
		names = append(names, f.Database)
	}
	return fmt.Sprintf("%d of %d database(s) failed: %s", len(e.Failed), e.Total, strings.Join(names, ", "))
}

func (e *PartialJobFailure) Unwrap() []error {
	errs := make([]error, 0, len(e.Failed))
	for _, f := range e.Failed {
		errs = append(errs, f)
	}
	return errs
}

// UploadError means an artifact was produced but not delivered.
type UploadError struct {
	Target   string
	Artifact string
	Attempts int
	Err      error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload %s to %s after %d attempt(s): %v", e.Artifact, e.Target, e.Attempts, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// SchedulerInternalError is a bug surfaced while scanning jobs. It is fatal
// to the tick it happened in only.
type SchedulerInternalError struct {
	Value interface{}
	Stack string
}

func (e *SchedulerInternalError) Error() string {
	return fmt.Sprintf("scheduler internal error: %v", e.Value)
}
