package reports

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/codereport/internal/domain/report"
	"github.com/ahrav/codereport/internal/infra/storage/reports/memory"
	"github.com/ahrav/codereport/pkg/common/logger"
)

// mockRepository lets tests script store failures.
type mockRepository struct {
	mock.Mock
}

func (m *mockRepository) Insert(ctx context.Context, id string, status report.Status) error {
	return m.Called(ctx, id, status).Error(0)
}

func (m *mockRepository) UpdateStatus(ctx context.Context, id string, status report.Status, results *report.Results) error {
	return m.Called(ctx, id, status, results).Error(0)
}

func (m *mockRepository) Get(ctx context.Context, id string) (*report.Report, error) {
	args := m.Called(ctx, id)
	if r := args.Get(0); r != nil {
		return r.(*report.Report), args.Error(1)
	}
	return nil, args.Error(1)
}

// recordingStore wraps the memory store and records every status write.
type recordingStore struct {
	*memory.ReportStore

	mu     sync.Mutex
	writes []report.Status
}

func newRecordingStore() *recordingStore {
	return &recordingStore{ReportStore: memory.NewReportStore()}
}

func (s *recordingStore) UpdateStatus(ctx context.Context, id string, status report.Status, results *report.Results) error {
	s.mu.Lock()
	s.writes = append(s.writes, status)
	s.mu.Unlock()
	return s.ReportStore.UpdateStatus(ctx, id, status, results)
}

func (s *recordingStore) Writes() []report.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]report.Status(nil), s.writes...)
}

// fakeGenerator returns a fixed report or error after an optional delay.
type fakeGenerator struct {
	name   string
	report string
	err    error
	delay  time.Duration
	panics bool

	calls atomic.Int32
}

func (g *fakeGenerator) Name() string { return g.name }

func (g *fakeGenerator) Generate(ctx context.Context, taskID string) (report.StructuredReport, error) {
	g.calls.Add(1)
	if g.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(g.delay):
		}
	}
	if g.panics {
		panic("generator exploded")
	}
	if g.err != nil {
		return nil, g.err
	}
	return json.RawMessage(g.report), nil
}

// recordingPublisher captures published events.
type recordingPublisher struct {
	mu     sync.Mutex
	events []report.StatusChangedEvent
	err    error
}

func (p *recordingPublisher) PublishStatusChanged(_ context.Context, evt report.StatusChangedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return p.err
}

func (p *recordingPublisher) Statuses() []report.Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]report.Status, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Status)
	}
	return out
}

func successGenerators() []*fakeGenerator {
	return []*fakeGenerator{
		{name: "gen1", report: `{"a":1}`},
		{name: "gen2", report: `{"b":2}`},
		{name: "gen3", report: `{"c":3}`},
	}
}

func asGenerators(fakes []*fakeGenerator) []report.Generator {
	gens := make([]report.Generator, len(fakes))
	for i, f := range fakes {
		gens[i] = f
	}
	return gens
}

func newTestOrchestrator(t *testing.T, repo report.Repository, fakes []*fakeGenerator, opts ...Option) *Orchestrator {
	t.Helper()
	return newTestOrchestratorWithLogger(t, repo, fakes, logger.Noop(), opts...)
}

func newTestOrchestratorWithLogger(
	t *testing.T,
	repo report.Repository,
	fakes []*fakeGenerator,
	log *logger.Logger,
	opts ...Option,
) *Orchestrator {
	t.Helper()

	o := NewOrchestrator(repo, asGenerators(fakes), log, noop.NewTracerProvider().Tracer("test"), opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = o.Shutdown(ctx)
	})
	return o
}
