package report

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateTask is returned when a record already exists for a task id.
	ErrDuplicateTask = errors.New("report task already exists")

	// ErrNotFound is returned when no record exists for a task id.
	ErrNotFound = errors.New("report not found")

	// ErrInvalidTransition is returned when a status change would move a
	// record backwards or out of a terminal state.
	ErrInvalidTransition = errors.New("invalid report status transition")

	// ErrInvalidResults is returned when results do not match the target status.
	ErrInvalidResults = errors.New("results must be set if and only if status is SUCCESS")
)

// PersistenceError reports a failed write against the record store.
type PersistenceError struct {
	Op     string
	TaskID string
	Err    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persisting %s for task %s: %v", e.Op, e.TaskID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// GeneratorFailure reports that a generator raised while producing its report.
// A single failure fails the whole batch.
type GeneratorFailure struct {
	Generator string
	TaskID    string
	Err       error
}

func (e *GeneratorFailure) Error() string {
	return fmt.Sprintf("generator %s failed for task %s: %v", e.Generator, e.TaskID, e.Err)
}

func (e *GeneratorFailure) Unwrap() error { return e.Err }

// RecoveryError is returned when recording the ERROR state itself failed.
// It carries both the original cause and the write error; there is no
// further fallback.
type RecoveryError struct {
	TaskID string
	Cause  error
	Err    error
}

func (e *RecoveryError) Error() string {
	return fmt.Sprintf("recording ERROR for task %s failed: %v (cause: %v)", e.TaskID, e.Err, e.Cause)
}

func (e *RecoveryError) Unwrap() []error { return []error{e.Cause, e.Err} }
