package report

import (
	"context"
	"time"
)

// Repository is the report record store. Every mutation runs in its own
// transaction; readers observe either the pre- or post-update record.
type Repository interface {
	// Insert creates a record with the given status.
	// Returns ErrDuplicateTask if the id already exists.
	Insert(ctx context.Context, id string, status Status) error

	// UpdateStatus moves the record to status, replacing its results.
	// Returns ErrNotFound if the id is absent and ErrInvalidTransition if the
	// stored status cannot move to status.
	UpdateStatus(ctx context.Context, id string, status Status, results *Results) error

	// Get returns the record for id or ErrNotFound.
	Get(ctx context.Context, id string) (*Report, error)
}

// Generator produces one structured report for a task. Implementations are
// independent of each other and may be invoked concurrently.
type Generator interface {
	// Name is the aggregation key of the generator's report.
	Name() string
	Generate(ctx context.Context, taskID string) (StructuredReport, error)
}

// StatusChangedEvent is emitted after a status change has been committed.
type StatusChangedEvent struct {
	TaskID     string    `json:"task_id"`
	Status     Status    `json:"status"`
	OccurredAt time.Time `json:"occurred_at"`
}

// EventPublisher broadcasts committed status changes to interested parties.
type EventPublisher interface {
	PublishStatusChanged(ctx context.Context, evt StatusChangedEvent) error
}

// NoopPublisher discards every event.
type NoopPublisher struct{}

func (NoopPublisher) PublishStatusChanged(context.Context, StatusChangedEvent) error { return nil }
