// Package memory provides an in-process report.Repository. Records are
// copied on the way in and out so callers never share state with the store.
package memory

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/ahrav/codereport/internal/domain/report"
)

var _ report.Repository = (*ReportStore)(nil)

type record struct {
	status    report.Status
	results   *report.Results
	createdAt time.Time
	updatedAt time.Time
}

// ReportStore is a mutex guarded map of report records.
type ReportStore struct {
	mu      sync.RWMutex
	records map[string]record
}

// NewReportStore creates an empty store.
func NewReportStore() *ReportStore {
	return &ReportStore{records: make(map[string]record)}
}

// Insert creates a record or returns report.ErrDuplicateTask.
func (s *ReportStore) Insert(ctx context.Context, id string, status report.Status) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[id]; ok {
		return fmt.Errorf("%w: %s", report.ErrDuplicateTask, id)
	}
	now := time.Now()
	s.records[id] = record{status: status, createdAt: now, updatedAt: now}
	return nil
}

// UpdateStatus applies a validated transition atomically.
func (s *ReportStore) UpdateStatus(ctx context.Context, id string, status report.Status, results *report.Results) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := report.ValidateResults(status, results); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return fmt.Errorf("%w: %s", report.ErrNotFound, id)
	}
	if err := rec.status.ValidateTransition(status); err != nil {
		return err
	}

	rec.status = status
	rec.results = cloneResults(results)
	rec.updatedAt = time.Now()
	s.records[id] = rec
	return nil
}

// Get returns a copy of the record for id.
func (s *ReportStore) Get(ctx context.Context, id string) (*report.Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", report.ErrNotFound, id)
	}
	return report.ReconstructReport(id, rec.status, cloneResults(rec.results), rec.createdAt, rec.updatedAt), nil
}

// Len returns the number of stored records.
func (s *ReportStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Ping always succeeds.
func (s *ReportStore) Ping(context.Context) error { return nil }

func cloneResults(r *report.Results) *report.Results {
	if r == nil {
		return nil
	}
	return &report.Results{Reports: maps.Clone(r.Reports)}
}
