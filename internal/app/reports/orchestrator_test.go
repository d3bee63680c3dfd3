package reports

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/ahrav/codereport/internal/domain/report"
	"github.com/ahrav/codereport/pkg/common/logger"
)

func TestOrchestrator_CreateTask(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newRecordingStore()
	pub := new(recordingPublisher)
	o := newTestOrchestrator(t, store, successGenerators(), WithPublisher(pub))

	_, err := o.Report(ctx, "t1")
	require.ErrorIs(t, err, report.ErrNotFound)

	require.NoError(t, o.CreateTask(ctx, "t1"))

	got, err := o.Report(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, report.StatusPending, got.Status())
	assert.Nil(t, got.Results())
	assert.Equal(t, []report.Status{report.StatusPending}, pub.Statuses())
}

func TestOrchestrator_CreateTaskDuplicate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newRecordingStore()
	o := newTestOrchestrator(t, store, successGenerators())

	require.NoError(t, o.CreateTask(ctx, "t3"))
	err := o.CreateTask(ctx, "t3")
	require.ErrorIs(t, err, report.ErrDuplicateTask)

	var perr *report.PersistenceError
	assert.False(t, errors.As(err, &perr), "duplicate is not a persistence failure")
	assert.Equal(t, 1, store.Len())
}

func TestOrchestrator_CreateTaskErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := new(mockRepository)
	dbErr := errors.New("connection refused")
	repo.On("Insert", mock.Anything, "t1", report.StatusPending).Return(dbErr)

	o := newTestOrchestrator(t, repo, successGenerators())

	err := o.CreateTask(ctx, "t1")
	var perr *report.PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "PENDING", perr.Op)
	require.ErrorIs(t, err, dbErr)

	require.Error(t, o.CreateTask(ctx, ""))
	repo.AssertNumberOfCalls(t, "Insert", 1)
}

func TestOrchestrator_GenerateReportAllSucceed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newRecordingStore()
	fakes := successGenerators()
	pub := new(recordingPublisher)
	o := newTestOrchestrator(t, store, fakes, WithPublisher(pub))

	require.NoError(t, o.CreateTask(ctx, "t1"))
	require.NoError(t, o.GenerateReport(ctx, "t1"))

	got, err := o.Report(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, report.StatusSuccess, got.Status())

	data, err := got.Results().Marshal()
	require.NoError(t, err)
	assert.JSONEq(t, `{"results":{"gen1":{"a":1},"gen2":{"b":2},"gen3":{"c":3}}}`, string(data))

	assert.Equal(t, []report.Status{report.StatusInProgress, report.StatusSuccess}, store.Writes())
	assert.Equal(t,
		[]report.Status{report.StatusPending, report.StatusInProgress, report.StatusSuccess},
		pub.Statuses(),
	)
	for _, f := range fakes {
		assert.EqualValues(t, 1, f.calls.Load(), f.name)
	}
}

func TestOrchestrator_GenerateReportGeneratorFails(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newRecordingStore()
	fakes := successGenerators()
	genErr := errors.New("analysis backend unavailable")
	fakes[1].err = genErr
	o := newTestOrchestrator(t, store, fakes)

	require.NoError(t, o.CreateTask(ctx, "t2"))
	err := o.GenerateReport(ctx, "t2")

	var gf *report.GeneratorFailure
	require.ErrorAs(t, err, &gf)
	assert.Equal(t, "gen2", gf.Generator)
	assert.Equal(t, "t2", gf.TaskID)
	require.ErrorIs(t, err, genErr)

	got, err := o.Report(ctx, "t2")
	require.NoError(t, err)
	assert.Equal(t, report.StatusError, got.Status())
	assert.Nil(t, got.Results())

	assert.Equal(t, []report.Status{report.StatusInProgress, report.StatusError}, store.Writes(),
		"exactly one IN_PROGRESS and one ERROR write")
}

func TestOrchestrator_GenerateReportFailureModes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(fakes []*fakeGenerator)
		opts   []Option
		check  func(t *testing.T, err error)
	}{
		{
			name:   "generator panics",
			mutate: func(f []*fakeGenerator) { f[0].panics = true },
			check: func(t *testing.T, err error) {
				var gf *report.GeneratorFailure
				require.ErrorAs(t, err, &gf)
				assert.Equal(t, "gen1", gf.Generator)
				assert.Contains(t, err.Error(), "panicked")
			},
		},
		{
			name:   "generator returns invalid json",
			mutate: func(f []*fakeGenerator) { f[2].report = `{not json` },
			check: func(t *testing.T, err error) {
				var gf *report.GeneratorFailure
				require.ErrorAs(t, err, &gf)
				assert.Equal(t, "gen3", gf.Generator)
			},
		},
		{
			name:   "generation deadline exceeded",
			mutate: func(f []*fakeGenerator) { f[1].delay = time.Hour },
			opts:   []Option{WithGenerationTimeout(20 * time.Millisecond)},
			check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, context.DeadlineExceeded)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			store := newRecordingStore()
			fakes := successGenerators()
			tt.mutate(fakes)
			o := newTestOrchestrator(t, store, fakes, tt.opts...)

			require.NoError(t, o.CreateTask(ctx, "t"))
			err := o.GenerateReport(ctx, "t")
			tt.check(t, err)

			got, gerr := o.Report(ctx, "t")
			require.NoError(t, gerr)
			assert.Equal(t, report.StatusError, got.Status())
			assert.Nil(t, got.Results())
		})
	}
}

func TestOrchestrator_GenerateReportFirstFailureCancelsSiblings(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newRecordingStore()
	fakes := successGenerators()
	fakes[0].err = errors.New("boom")
	fakes[1].delay = time.Hour
	fakes[2].delay = time.Hour
	o := newTestOrchestrator(t, store, fakes)

	require.NoError(t, o.CreateTask(ctx, "t"))

	start := time.Now()
	err := o.GenerateReport(ctx, "t")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 10*time.Second)

	var gf *report.GeneratorFailure
	require.ErrorAs(t, err, &gf)
	assert.Equal(t, "gen1", gf.Generator, "the first failure is reported")
}

func TestOrchestrator_GenerateReportInProgressWriteFails(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := new(mockRepository)
	dbErr := errors.New("db down")
	repo.On("UpdateStatus", mock.Anything, "t", report.StatusInProgress, (*report.Results)(nil)).Return(dbErr)

	fakes := successGenerators()
	o := newTestOrchestrator(t, repo, fakes)

	err := o.GenerateReport(ctx, "t")

	var perr *report.PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "IN_PROGRESS", perr.Op)
	require.ErrorIs(t, err, dbErr)

	for _, f := range fakes {
		assert.Zero(t, f.calls.Load(), "no generator runs before IN_PROGRESS commits")
	}
	repo.AssertNumberOfCalls(t, "UpdateStatus", 1)
	repo.AssertNotCalled(t, "UpdateStatus", mock.Anything, "t", report.StatusError, mock.Anything)
}

func TestOrchestrator_GenerateReportSuccessWriteFails(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := new(mockRepository)
	dbErr := errors.New("serialization failure")
	repo.On("UpdateStatus", mock.Anything, "t", report.StatusInProgress, (*report.Results)(nil)).Return(nil)
	repo.On("UpdateStatus", mock.Anything, "t", report.StatusSuccess, mock.Anything).Return(dbErr)
	repo.On("UpdateStatus", mock.Anything, "t", report.StatusError, (*report.Results)(nil)).Return(nil)

	o := newTestOrchestrator(t, repo, successGenerators())

	err := o.GenerateReport(ctx, "t")

	var perr *report.PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "SUCCESS", perr.Op)
	require.ErrorIs(t, err, dbErr)
	repo.AssertExpectations(t)
}

func TestOrchestrator_GenerateReportRecoveryFails(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := new(mockRepository)
	writeErr := errors.New("disk full")
	repo.On("UpdateStatus", mock.Anything, "t", report.StatusInProgress, (*report.Results)(nil)).Return(nil)
	repo.On("UpdateStatus", mock.Anything, "t", report.StatusError, (*report.Results)(nil)).Return(writeErr)

	fakes := successGenerators()
	genErr := errors.New("generator crashed")
	fakes[2].err = genErr
	o := newTestOrchestrator(t, repo, fakes)

	err := o.GenerateReport(ctx, "t")

	var rerr *report.RecoveryError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "t", rerr.TaskID)
	require.ErrorIs(t, err, genErr, "original cause is preserved")
	require.ErrorIs(t, err, writeErr, "recovery write error is preserved")
	assert.Equal(t, OutcomeRecoveryFailure, classify(err))
}

func TestOrchestrator_RecoveryWriteIgnoresCancellation(t *testing.T) {
	t.Parallel()

	store := newRecordingStore()
	fakes := successGenerators()
	fakes[0].delay = time.Hour
	o := newTestOrchestrator(t, store, fakes)

	require.NoError(t, o.CreateTask(context.Background(), "t"))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := o.GenerateReport(ctx, "t")
	require.ErrorIs(t, err, context.Canceled)

	got, gerr := o.Report(context.Background(), "t")
	require.NoError(t, gerr)
	assert.Equal(t, report.StatusError, got.Status(), "ERROR is recorded even though the run was cancelled")
}

func TestOrchestrator_ConcurrentDistinctTasks(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newRecordingStore()
	fakes := successGenerators()
	for _, f := range fakes {
		f.delay = 5 * time.Millisecond
	}
	o := newTestOrchestrator(t, store, fakes)

	const n = 25
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := range n {
		id := fmt.Sprintf("task-%d", i)
		require.NoError(t, o.CreateTask(ctx, id))
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = o.GenerateReport(ctx, id)
		}()
	}
	wg.Wait()

	for i := range n {
		require.NoError(t, errs[i])
		got, err := o.Report(ctx, fmt.Sprintf("task-%d", i))
		require.NoError(t, err)
		assert.Equal(t, report.StatusSuccess, got.Status())
		assert.Len(t, got.Results().Reports, 3)
	}
}

// Runs for the same id are not locked against each other. The store's
// transition check rejects the second IN_PROGRESS write, so exactly one run
// proceeds and the other fails without touching the record.
func TestOrchestrator_SameTaskConcurrentRuns(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newRecordingStore()
	fakes := successGenerators()
	fakes[0].delay = 10 * time.Millisecond
	o := newTestOrchestrator(t, store, fakes)

	require.NoError(t, o.CreateTask(ctx, "same"))

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = o.GenerateReport(ctx, "same")
		}()
	}
	wg.Wait()

	var succeeded, rejected int
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, report.ErrInvalidTransition):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, rejected)

	got, err := o.Report(ctx, "same")
	require.NoError(t, err)
	assert.Equal(t, report.StatusSuccess, got.Status())
}

func TestOrchestrator_PublishFailureDoesNotAffectRun(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newRecordingStore()
	pub := &recordingPublisher{err: errors.New("broker unavailable")}
	o := newTestOrchestrator(t, store, successGenerators(), WithPublisher(pub))

	require.NoError(t, o.CreateTask(ctx, "t"))
	require.NoError(t, o.GenerateReport(ctx, "t"))

	got, err := o.Report(ctx, "t")
	require.NoError(t, err)
	assert.Equal(t, report.StatusSuccess, got.Status())
	assert.Len(t, pub.Statuses(), 3)
}

func TestOrchestrator_RunInBackground(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	store := newRecordingStore()
	fakes := successGenerators()
	for _, f := range fakes {
		f.delay = 10 * time.Millisecond
	}
	o := newTestOrchestrator(t, store, fakes)

	require.NoError(t, o.CreateTask(ctx, "bg"))
	require.NoError(t, o.RunInBackground(ctx, "bg"))

	// The request that started the run finishing must not cancel it.
	cancel()

	require.Eventually(t, func() bool {
		got, err := o.Report(context.Background(), "bg")
		return err == nil && got.Status() == report.StatusSuccess
	}, 5*time.Second, 5*time.Millisecond)
}

func TestOrchestrator_RunInBackgroundAfterShutdown(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	o := newTestOrchestrator(t, newRecordingStore(), successGenerators())

	require.NoError(t, o.Shutdown(ctx))
	require.ErrorIs(t, o.RunInBackground(ctx, "late"), ErrShuttingDown)
}

func TestOrchestrator_BackgroundFailuresAreLogged(t *testing.T) {
	t.Parallel()

	var (
		mu     sync.Mutex
		logged []logger.Record
	)
	events := logger.Events{Error: func(_ context.Context, r logger.Record) {
		mu.Lock()
		logged = append(logged, r)
		mu.Unlock()
	}}
	log := logger.NewWithEvents(new(bytes.Buffer), logger.LevelInfo, "test", nil, events)

	repo := new(mockRepository)
	repo.On("UpdateStatus", mock.Anything, "p", report.StatusInProgress, (*report.Results)(nil)).
		Run(func(mock.Arguments) { panic("store exploded") })

	o := newTestOrchestratorWithLogger(t, repo, successGenerators(), log)
	require.NoError(t, o.RunInBackground(context.Background(), "p"))
	require.NoError(t, o.Shutdown(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, logged, 1)
	assert.Equal(t, "background report run failed", logged[0].Message)
	assert.Equal(t, OutcomePanic, logged[0].Attributes["outcome"])
}

func TestOrchestrator_ShutdownCancelsInFlightRuns(t *testing.T) {
	t.Parallel()

	store := newRecordingStore()
	fakes := successGenerators()
	fakes[1].delay = time.Hour
	o := newTestOrchestrator(t, store, fakes, WithShutdownGrace(5*time.Second))

	ctx := context.Background()
	require.NoError(t, o.CreateTask(ctx, "slow"))
	require.NoError(t, o.RunInBackground(ctx, "slow"))

	require.Eventually(t, func() bool {
		got, err := o.Report(ctx, "slow")
		return err == nil && got.Status() == report.StatusInProgress
	}, 5*time.Second, 5*time.Millisecond)

	sctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err := o.Shutdown(sctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	got, gerr := o.Report(ctx, "slow")
	require.NoError(t, gerr)
	assert.Equal(t, report.StatusError, got.Status())
}

func TestClassify(t *testing.T) {
	t.Parallel()

	base := errors.New("x")
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: OutcomeSuccess},
		{name: "generator", err: &report.GeneratorFailure{Err: base}, want: OutcomeGeneratorFailure},
		{name: "persistence", err: &report.PersistenceError{Err: base}, want: OutcomePersistenceFailure},
		{name: "recovery", err: &report.RecoveryError{Cause: &report.GeneratorFailure{Err: base}, Err: base}, want: OutcomeRecoveryFailure},
		{name: "panic", err: &PanicError{Value: "x"}, want: OutcomePanic},
		{name: "wrapped generator", err: fmt.Errorf("run: %w", &report.GeneratorFailure{Err: base}), want: OutcomeGeneratorFailure},
		{name: "other", err: base, want: OutcomeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, classify(tt.err))
		})
	}
}

func TestNewMetrics(t *testing.T) {
	t.Parallel()

	m, err := NewMetrics(noop.NewMeterProvider())
	require.NoError(t, err)

	ctx := context.Background()
	o := newTestOrchestrator(t, newRecordingStore(), successGenerators(), WithMetrics(m))
	require.NoError(t, o.CreateTask(ctx, "m"))
	require.NoError(t, o.GenerateReport(ctx, "m"))
}
