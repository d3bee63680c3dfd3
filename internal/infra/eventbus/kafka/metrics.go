package kafka

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type metrics struct {
	published     metric.Int64Counter
	publishErrors metric.Int64Counter
}

// NewMetrics creates PublisherMetrics on mp.
func NewMetrics(mp metric.MeterProvider) (PublisherMetrics, error) {
	meter := mp.Meter("kafka_publisher", metric.WithInstrumentationVersion("v0.1.0"))

	m := new(metrics)
	var err error
	if m.published, err = meter.Int64Counter(
		"kafka_messages_published_total",
		metric.WithDescription("Total number of messages published to Kafka"),
	); err != nil {
		return nil, err
	}
	if m.publishErrors, err = meter.Int64Counter(
		"kafka_publish_errors_total",
		metric.WithDescription("Total number of Kafka publish failures"),
	); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *metrics) IncMessagePublished(ctx context.Context, topic string) {
	m.published.Add(ctx, 1, metric.WithAttributes(attribute.String("topic", topic)))
}

func (m *metrics) IncPublishError(ctx context.Context, topic string) {
	m.publishErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("topic", topic)))
}
