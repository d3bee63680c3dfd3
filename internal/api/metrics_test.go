package api

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestAPIMetrics(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	m, err := NewAPIMetrics(mp)
	require.NoError(t, err)

	ctx := context.Background()
	m.IncRequestsTotal(ctx, "GET", "/v1/reports/:id", 200)
	m.ObserveRequestDuration(ctx, "GET", "/v1/reports/:id", 20*time.Millisecond)
	m.IncUploadRequestsTotal(ctx, "github")
	m.IncUploadRequestErrors(ctx, "github", "upstream_failure")

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	names := make([]string, 0, 4)
	for _, met := range rm.ScopeMetrics[0].Metrics {
		names = append(names, met.Name)
	}
	assert.ElementsMatch(t, []string{
		"requests_total",
		"request_duration_seconds",
		"upload_requests_total",
		"upload_request_errors_total",
	}, names)
}
