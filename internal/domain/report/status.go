package report

import (
	"fmt"
)

// Status represents the lifecycle state of a report task. Transitions only
// ever move forward: PENDING -> IN_PROGRESS -> {SUCCESS | ERROR}.
type Status string

const (
	// StatusPending indicates the task record exists but generation has not started.
	StatusPending Status = "PENDING"

	// StatusInProgress indicates the generators are running for the task.
	StatusInProgress Status = "IN_PROGRESS"

	// StatusSuccess indicates every generator finished and the aggregated
	// results were persisted.
	StatusSuccess Status = "SUCCESS"

	// StatusError indicates generation failed. No results are kept.
	StatusError Status = "ERROR"

	// StatusUnspecified is used when a status is unknown.
	StatusUnspecified Status = "UNSPECIFIED"
)

// String returns the string representation of the Status.
func (s Status) String() string { return string(s) }

// ParseStatus converts a string to a Status.
func ParseStatus(s string) Status {
	switch s {
	case "PENDING":
		return StatusPending
	case "IN_PROGRESS":
		return StatusInProgress
	case "SUCCESS":
		return StatusSuccess
	case "ERROR":
		return StatusError
	default:
		return StatusUnspecified
	}
}

// IsTerminal reports whether no further transitions are allowed.
func (s Status) IsTerminal() bool { return s == StatusSuccess || s == StatusError }

// ValidateTransition checks if a status transition is valid and returns an
// error wrapping ErrInvalidTransition if not.
func (s Status) ValidateTransition(target Status) error {
	if !s.isValidTransition(target) {
		return fmt.Errorf("%w: from %s to %s", ErrInvalidTransition, s, target)
	}
	return nil
}

func (s Status) isValidTransition(target Status) bool {
	switch s {
	case StatusPending:
		return target == StatusInProgress
	case StatusInProgress:
		return target == StatusSuccess || target == StatusError
	case StatusSuccess, StatusError:
		// Terminal states - no further transitions allowed.
		return false
	default:
		return false
	}
}
