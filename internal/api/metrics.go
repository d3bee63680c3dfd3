package api

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ahrav/codereport/internal/api/mid"
)

const namespace = "api"

// APIMetrics defines metrics operations needed by the ingress API.
type APIMetrics interface {
	mid.RequestMetrics

	IncUploadRequestsTotal(ctx context.Context, source string)
	IncUploadRequestErrors(ctx context.Context, source, reason string)
}

type apiMetrics struct {
	requestsTotal       metric.Int64Counter
	requestDuration     metric.Float64Histogram
	uploadRequestsTotal metric.Int64Counter
	uploadRequestErrors metric.Int64Counter
}

// NewAPIMetrics creates the API instruments on mp.
func NewAPIMetrics(mp metric.MeterProvider) (*apiMetrics, error) {
	meter := mp.Meter(namespace, metric.WithInstrumentationVersion("v0.1.0"))

	m := new(apiMetrics)
	var err error

	if m.requestsTotal, err = meter.Int64Counter(
		"requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	); err != nil {
		return nil, err
	}

	if m.requestDuration, err = meter.Float64Histogram(
		"request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if m.uploadRequestsTotal, err = meter.Int64Counter(
		"upload_requests_total",
		metric.WithDescription("Total number of archive upload requests"),
	); err != nil {
		return nil, err
	}

	if m.uploadRequestErrors, err = meter.Int64Counter(
		"upload_request_errors_total",
		metric.WithDescription("Total number of rejected or failed archive uploads"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *apiMetrics) IncRequestsTotal(ctx context.Context, method, path string, status int) {
	m.requestsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.Int("status", status),
	))
}

func (m *apiMetrics) ObserveRequestDuration(ctx context.Context, method, path string, duration time.Duration) {
	m.requestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
	))
}

func (m *apiMetrics) IncUploadRequestsTotal(ctx context.Context, source string) {
	m.uploadRequestsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

func (m *apiMetrics) IncUploadRequestErrors(ctx context.Context, source, reason string) {
	m.uploadRequestErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", source),
		attribute.String("reason", reason),
	))
}
