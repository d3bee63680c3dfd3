package reports

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const namespace = "reports"

// Metrics defines the measurements recorded by the orchestrator.
type Metrics interface {
	IncTasksCreated(ctx context.Context)
	ObserveRun(ctx context.Context, outcome string, duration time.Duration)
	ObserveGenerator(ctx context.Context, generator string, duration time.Duration, err error)
	IncActiveRuns(ctx context.Context)
	DecActiveRuns(ctx context.Context)
	IncPublishErrors(ctx context.Context, status string)
}

type metrics struct {
	tasksCreated      metric.Int64Counter
	runsTotal         metric.Int64Counter
	runDuration       metric.Float64Histogram
	generatorDuration metric.Float64Histogram
	activeRuns        metric.Int64UpDownCounter
	publishErrors     metric.Int64Counter
}

// NewMetrics creates the orchestrator instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*metrics, error) {
	meter := mp.Meter(namespace, metric.WithInstrumentationVersion("v0.1.0"))

	m := new(metrics)
	var err error

	if m.tasksCreated, err = meter.Int64Counter(
		"tasks_created_total",
		metric.WithDescription("Total number of report tasks created"),
	); err != nil {
		return nil, err
	}

	if m.runsTotal, err = meter.Int64Counter(
		"runs_total",
		metric.WithDescription("Total number of report generation runs by outcome"),
	); err != nil {
		return nil, err
	}

	if m.runDuration, err = meter.Float64Histogram(
		"run_duration_seconds",
		metric.WithDescription("Duration of report generation runs"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if m.generatorDuration, err = meter.Float64Histogram(
		"generator_duration_seconds",
		metric.WithDescription("Duration of individual generator invocations"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if m.activeRuns, err = meter.Int64UpDownCounter(
		"active_runs",
		metric.WithDescription("Number of report generation runs in flight"),
	); err != nil {
		return nil, err
	}

	if m.publishErrors, err = meter.Int64Counter(
		"publish_errors_total",
		metric.WithDescription("Total number of status events that failed to publish"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *metrics) IncTasksCreated(ctx context.Context) { m.tasksCreated.Add(ctx, 1) }

func (m *metrics) ObserveRun(ctx context.Context, outcome string, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.runsTotal.Add(ctx, 1, attrs)
	m.runDuration.Record(ctx, duration.Seconds(), attrs)
}

func (m *metrics) ObserveGenerator(ctx context.Context, generator string, duration time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.generatorDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("generator", generator),
		attribute.String("outcome", outcome),
	))
}

func (m *metrics) IncActiveRuns(ctx context.Context) { m.activeRuns.Add(ctx, 1) }
func (m *metrics) DecActiveRuns(ctx context.Context) { m.activeRuns.Add(ctx, -1) }

func (m *metrics) IncPublishErrors(ctx context.Context, status string) {
	m.publishErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}
