// Package reports runs the report generation lifecycle for uploaded archives.
//
// A task moves PENDING -> IN_PROGRESS -> {SUCCESS | ERROR}. The orchestrator
// creates the record, commits IN_PROGRESS before any generator runs, fans
// out to every generator, and writes exactly one terminal status.
package reports

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/ahrav/codereport/internal/domain/report"
	"github.com/ahrav/codereport/pkg/common/logger"
)

const (
	defaultRecoveryTimeout = 10 * time.Second
	defaultShutdownGrace   = 15 * time.Second
)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithGenerationTimeout bounds the generator fan-out of each run. Zero
// leaves it unbounded.
func WithGenerationTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.generationTimeout = d }
}

// WithRecoveryTimeout bounds the ERROR write that follows a failed run.
func WithRecoveryTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.recoveryTimeout = d
		}
	}
}

// WithShutdownGrace bounds how long Shutdown waits for cancelled runs.
func WithShutdownGrace(d time.Duration) Option {
	return func(o *Orchestrator) { o.shutdownGrace = d }
}

// WithPublisher sets the destination for status change events.
func WithPublisher(p report.EventPublisher) Option {
	return func(o *Orchestrator) { o.publisher = p }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// Orchestrator coordinates report tasks against the record store and the
// configured generators.
type Orchestrator struct {
	repo       report.Repository
	generators []report.Generator
	publisher  report.EventPublisher
	metrics    Metrics

	generationTimeout time.Duration
	recoveryTimeout   time.Duration
	shutdownGrace     time.Duration

	runs *supervisor

	logger *logger.Logger
	tracer trace.Tracer
}

// NewOrchestrator creates an Orchestrator. Generators are invoked in the
// order given, but their reports are keyed by name.
func NewOrchestrator(
	repo report.Repository,
	generators []report.Generator,
	logger *logger.Logger,
	tracer trace.Tracer,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		repo:            repo,
		generators:      generators,
		publisher:       report.NoopPublisher{},
		metrics:         noopMetrics{},
		recoveryTimeout: defaultRecoveryTimeout,
		shutdownGrace:   defaultShutdownGrace,
		logger:          logger.With("component", "report_orchestrator"),
		tracer:          tracer,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.runs = newSupervisor(o.shutdownGrace, o.runFinished)

	return o
}

// CreateTask inserts a PENDING record for taskID.
// Returns an error wrapping report.ErrDuplicateTask if the id is taken.
func (o *Orchestrator) CreateTask(ctx context.Context, taskID string) error {
	ctx, span := o.tracer.Start(ctx, "report_orchestrator.create_task",
		trace.WithAttributes(attribute.String("task_id", taskID)))
	defer span.End()

	if taskID == "" {
		err := errors.New("task id is required")
		span.RecordError(err)
		span.SetStatus(codes.Error, "empty task id")
		return err
	}

	if err := o.repo.Insert(ctx, taskID, report.StatusPending); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create task")
		if errors.Is(err, report.ErrDuplicateTask) {
			return fmt.Errorf("creating task %s: %w", taskID, err)
		}
		return &report.PersistenceError{Op: report.StatusPending.String(), TaskID: taskID, Err: err}
	}
	span.AddEvent("task_created")
	span.SetStatus(codes.Ok, "task created")

	o.metrics.IncTasksCreated(ctx)
	o.publish(ctx, taskID, report.StatusPending)

	return nil
}

// RunInBackground starts GenerateReport for taskID on a supervised goroutine
// and returns immediately. The run is detached from ctx's cancellation but
// keeps its values, so traces stay linked to the request that started it.
// Returns ErrShuttingDown once Shutdown has been called.
func (o *Orchestrator) RunInBackground(ctx context.Context, taskID string) error {
	runCtx := context.WithoutCancel(ctx)
	o.metrics.IncActiveRuns(runCtx)

	err := o.runs.Go(runCtx, taskID, func(ctx context.Context) error {
		return o.GenerateReport(ctx, taskID)
	})
	if err != nil {
		o.metrics.DecActiveRuns(runCtx)
		o.logger.Warn(ctx, "background report run rejected", "task_id", taskID, "error", err)
		return err
	}

	return nil
}

// GenerateReport drives one task from PENDING to a terminal status.
//
// If IN_PROGRESS cannot be committed, no generator runs and no ERROR is
// written. Otherwise all generators run concurrently and the run ends with a
// single SUCCESS or ERROR write. When the ERROR write itself fails the
// returned error is a *report.RecoveryError.
func (o *Orchestrator) GenerateReport(ctx context.Context, taskID string) error {
	logger := o.logger.With("operation", "generate_report", "task_id", taskID)
	ctx, span := o.tracer.Start(ctx, "report_orchestrator.generate_report",
		trace.WithAttributes(
			attribute.String("task_id", taskID),
			attribute.Int("generator_count", len(o.generators)),
		))
	defer span.End()

	if err := o.repo.UpdateStatus(ctx, taskID, report.StatusInProgress, nil); err != nil {
		perr := &report.PersistenceError{Op: report.StatusInProgress.String(), TaskID: taskID, Err: err}
		span.RecordError(perr)
		span.SetStatus(codes.Error, "failed to mark task in progress")
		return perr
	}
	span.AddEvent("status_in_progress_committed")
	o.publish(ctx, taskID, report.StatusInProgress)
	logger.Info(ctx, "report generation started")

	results, err := o.generateAll(ctx, taskID)
	if err == nil {
		if err = o.repo.UpdateStatus(ctx, taskID, report.StatusSuccess, results); err == nil {
			span.AddEvent("status_success_committed")
			span.SetStatus(codes.Ok, "report generated")
			o.publish(ctx, taskID, report.StatusSuccess)
			logger.Info(ctx, "report generation completed", "report_count", len(results.Reports))
			return nil
		}
		err = &report.PersistenceError{Op: report.StatusSuccess.String(), TaskID: taskID, Err: err}
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, "report generation failed")
	logger.Warn(ctx, "report generation failed, recording error status", "error", err)

	return o.recordFailure(ctx, taskID, err)
}

// recordFailure writes ERROR after a failed run. The run's context may
// already be cancelled or expired, so the write uses a detached context with
// its own deadline.
func (o *Orchestrator) recordFailure(ctx context.Context, taskID string, cause error) error {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.recoveryTimeout)
	defer cancel()

	wctx, span := o.tracer.Start(wctx, "report_orchestrator.record_failure",
		trace.WithAttributes(attribute.String("task_id", taskID)))
	defer span.End()

	if err := o.repo.UpdateStatus(wctx, taskID, report.StatusError, nil); err != nil {
		rerr := &report.RecoveryError{
			TaskID: taskID,
			Cause:  cause,
			Err:    &report.PersistenceError{Op: report.StatusError.String(), TaskID: taskID, Err: err},
		}
		span.RecordError(rerr)
		span.SetStatus(codes.Error, "failed to record error status")
		return rerr
	}
	span.AddEvent("status_error_committed")
	o.publish(wctx, taskID, report.StatusError)

	return cause
}

// generateAll invokes every generator concurrently and waits for all of
// them. The first failure cancels the remaining generators.
func (o *Orchestrator) generateAll(ctx context.Context, taskID string) (*report.Results, error) {
	ctx, span := o.tracer.Start(ctx, "report_orchestrator.generate_all")
	defer span.End()

	if o.generationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.generationTimeout)
		defer cancel()
	}

	reports := make([]report.StructuredReport, len(o.generators))
	g, gctx := errgroup.WithContext(ctx)
	for i, gen := range o.generators {
		g.Go(func() error {
			rep, err := o.invoke(gctx, gen, taskID)
			if err != nil {
				return &report.GeneratorFailure{Generator: gen.Name(), TaskID: taskID, Err: err}
			}
			reports[i] = rep
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generator failed")
		return nil, err
	}

	results := report.NewResults()
	for i, gen := range o.generators {
		results.Add(gen.Name(), reports[i])
	}
	span.AddEvent("reports_aggregated", trace.WithAttributes(attribute.Int("report_count", len(results.Reports))))

	return results, nil
}

// invoke runs a single generator, converting panics and malformed output
// into errors so one misbehaving generator cannot take the process down.
func (o *Orchestrator) invoke(ctx context.Context, gen report.Generator, taskID string) (rep report.StructuredReport, err error) {
	ctx, span := o.tracer.Start(ctx, "report_orchestrator.invoke_generator",
		trace.WithAttributes(attribute.String("generator", gen.Name())))
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			rep, err = nil, fmt.Errorf("generator panicked: %v", r)
		}
		o.metrics.ObserveGenerator(ctx, gen.Name(), time.Since(start), err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "generator failed")
		}
		span.End()
	}()

	rep, err = gen.Generate(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if !json.Valid(rep) {
		return nil, errors.New("generator returned an invalid JSON report")
	}

	return rep, nil
}

// Report returns the current record for taskID.
func (o *Orchestrator) Report(ctx context.Context, taskID string) (*report.Report, error) {
	ctx, span := o.tracer.Start(ctx, "report_orchestrator.report",
		trace.WithAttributes(attribute.String("task_id", taskID)))
	defer span.End()

	r, err := o.repo.Get(ctx, taskID)
	if err != nil {
		if !errors.Is(err, report.ErrNotFound) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to get report")
		}
		return nil, err
	}
	span.SetAttributes(attribute.String("status", r.Status().String()))

	return r, nil
}

// Shutdown stops accepting background runs and waits for in-flight ones.
// If ctx expires first the runs are cancelled and, being cancelled, record
// ERROR before returning.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.logger.Info(ctx, "draining background report runs")
	if err := o.runs.Shutdown(ctx); err != nil {
		o.logger.Error(ctx, "background report runs did not drain cleanly", "error", err)
		return err
	}
	return nil
}

// runFinished is the supervisor's completion hook. Background runs have no
// caller to return to, so every failure is logged here.
func (o *Orchestrator) runFinished(ctx context.Context, taskID string, err error, elapsed time.Duration) {
	o.metrics.DecActiveRuns(ctx)

	outcome := classify(err)
	o.metrics.ObserveRun(ctx, outcome, elapsed)

	if err == nil {
		o.logger.Debug(ctx, "background report run finished", "task_id", taskID, "elapsed", elapsed)
		return
	}

	args := []any{"task_id", taskID, "outcome", outcome, "elapsed", elapsed, "error", err}
	var perr *PanicError
	if errors.As(err, &perr) {
		args = append(args, "stack", string(perr.Stack))
	}
	o.logger.Error(ctx, "background report run failed", args...)
}

func (o *Orchestrator) publish(ctx context.Context, taskID string, status report.Status) {
	evt := report.StatusChangedEvent{TaskID: taskID, Status: status, OccurredAt: time.Now().UTC()}
	if err := o.publisher.PublishStatusChanged(ctx, evt); err != nil {
		o.metrics.IncPublishErrors(ctx, status.String())
		o.logger.Warn(ctx, "failed to publish status change",
			"task_id", taskID, "status", status.String(), "error", err)
	}
}

// Run outcomes recorded by runFinished.
const (
	OutcomeSuccess            = "success"
	OutcomeGeneratorFailure   = "generator_failure"
	OutcomePersistenceFailure = "persistence_failure"
	OutcomeRecoveryFailure    = "recovery_failure"
	OutcomePanic              = "panic"
	OutcomeUnknown            = "unknown"
)

func classify(err error) string {
	var (
		recErr *report.RecoveryError
		genErr *report.GeneratorFailure
		perErr *report.PersistenceError
		panErr *PanicError
	)
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.As(err, &recErr):
		return OutcomeRecoveryFailure
	case errors.As(err, &panErr):
		return OutcomePanic
	case errors.As(err, &genErr):
		return OutcomeGeneratorFailure
	case errors.As(err, &perErr):
		return OutcomePersistenceFailure
	default:
		return OutcomeUnknown
	}
}

type noopMetrics struct{}

func (noopMetrics) IncTasksCreated(context.Context) {}
func (noopMetrics) ObserveRun(context.Context, string, time.Duration) {}
func (noopMetrics) ObserveGenerator(context.Context, string, time.Duration, error) {}
func (noopMetrics) IncActiveRuns(context.Context) {}
func (noopMetrics) DecActiveRuns(context.Context) {}
func (noopMetrics) IncPublishErrors(context.Context, string) {}
