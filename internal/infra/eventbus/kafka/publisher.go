package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/codereport/internal/domain/report"
	"github.com/ahrav/codereport/internal/infra/eventbus/kafka/tracing"
	"github.com/ahrav/codereport/pkg/common/logger"
)

var _ report.EventPublisher = (*StatusPublisher)(nil)

// PublisherMetrics defines metrics operations needed to monitor publishing.
type PublisherMetrics interface {
	IncMessagePublished(ctx context.Context, topic string)
	IncPublishError(ctx context.Context, topic string)
}

// StatusPublisher sends report status changes to a single topic. Messages
// are keyed by task id so every event for a task lands on one partition and
// keeps its order.
type StatusPublisher struct {
	producer sarama.SyncProducer
	topic    string

	logger  *logger.Logger
	metrics PublisherMetrics
	tracer  trace.Tracer
}

// NewStatusPublisher wraps producer. metrics may be nil.
func NewStatusPublisher(
	producer sarama.SyncProducer,
	topic string,
	logger *logger.Logger,
	metrics PublisherMetrics,
	tracer trace.Tracer,
) *StatusPublisher {
	return &StatusPublisher{
		producer: producer,
		topic:    topic,
		logger:   logger.With("component", "kafka_status_publisher"),
		metrics:  metrics,
		tracer:   tracer,
	}
}

// PublishStatusChanged serializes evt as JSON and sends it synchronously.
func (p *StatusPublisher) PublishStatusChanged(ctx context.Context, evt report.StatusChangedEvent) error {
	ctx, span := tracing.StartProducerSpan(ctx, p.topic, p.tracer)
	defer span.End()
	span.SetAttributes(
		attribute.String("event.key", evt.TaskID),
		attribute.String("report.status", evt.Status.String()),
	)

	payload, err := json.Marshal(evt)
	if err != nil {
		p.recordError(ctx, span, err)
		return fmt.Errorf("failed to serialize status event for task %s: %w", evt.TaskID, err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(evt.TaskID), // Used for partition routing
		Value: sarama.ByteEncoder(payload),
	}
	tracing.InjectTraceContext(ctx, msg)

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.recordError(ctx, span, err)
		return fmt.Errorf("failed to send message to kafka topic %s: %w", p.topic, err)
	}

	if p.metrics != nil {
		p.metrics.IncMessagePublished(ctx, p.topic)
	}
	p.logger.Debug(ctx, "published status event",
		"topic", p.topic,
		"partition", partition,
		"offset", offset,
		"task_id", evt.TaskID,
		"status", evt.Status.String(),
	)

	return nil
}

func (p *StatusPublisher) recordError(ctx context.Context, span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, "publish failed")
	if p.metrics != nil {
		p.metrics.IncPublishError(ctx, p.topic)
	}
}

// Close flushes and closes the producer.
func (p *StatusPublisher) Close() error { return p.producer.Close() }
