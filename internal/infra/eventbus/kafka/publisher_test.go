package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/codereport/internal/domain/report"
	"github.com/ahrav/codereport/pkg/common/logger"
)

type countingMetrics struct {
	published atomic.Int32
	failed    atomic.Int32
}

func (m *countingMetrics) IncMessagePublished(context.Context, string) { m.published.Add(1) }
func (m *countingMetrics) IncPublishError(context.Context, string) { m.failed.Add(1) }

func newTestPublisher(t *testing.T) (*StatusPublisher, *mocks.SyncProducer, *countingMetrics) {
	t.Helper()

	producer := mocks.NewSyncProducer(t, newSaramaConfig("test"))
	m := new(countingMetrics)
	pub := NewStatusPublisher(producer, "report-status", logger.Noop(), m, noop.NewTracerProvider().Tracer("test"))
	t.Cleanup(func() { _ = pub.Close() })
	return pub, producer, m
}

func TestStatusPublisher_Publish(t *testing.T) {
	t.Parallel()

	pub, producer, m := newTestPublisher(t)

	evt := report.StatusChangedEvent{
		TaskID:     "task-1",
		Status:     report.StatusSuccess,
		OccurredAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "report-status" {
			return errors.New("unexpected topic " + msg.Topic)
		}
		key, err := msg.Key.Encode()
		if err != nil {
			return err
		}
		if string(key) != "task-1" {
			return errors.New("message must be keyed by task id")
		}

		val, err := msg.Value.Encode()
		if err != nil {
			return err
		}
		var got report.StatusChangedEvent
		if err := json.Unmarshal(val, &got); err != nil {
			return err
		}
		if got.Status != report.StatusSuccess || !got.OccurredAt.Equal(evt.OccurredAt) {
			return errors.New("payload does not match event")
		}
		return nil
	})

	require.NoError(t, pub.PublishStatusChanged(context.Background(), evt))
	assert.EqualValues(t, 1, m.published.Load())
	assert.Zero(t, m.failed.Load())
}

func TestStatusPublisher_PublishFailure(t *testing.T) {
	t.Parallel()

	pub, producer, m := newTestPublisher(t)

	producer.ExpectSendMessageAndFail(sarama.ErrLeaderNotAvailable)

	err := pub.PublishStatusChanged(context.Background(), report.StatusChangedEvent{
		TaskID: "task-2",
		Status: report.StatusError,
	})
	require.ErrorIs(t, err, sarama.ErrLeaderNotAvailable)
	assert.EqualValues(t, 1, m.failed.Load())
	assert.Zero(t, m.published.Load())
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "valid", cfg: Config{Brokers: []string{"localhost:9092"}, Topic: "t"}},
		{name: "no brokers", cfg: Config{Topic: "t"}, wantErr: true},
		{name: "no topic", cfg: Config{Brokers: []string{"localhost:9092"}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.validate()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}
