package kafka

import (
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/codereport/pkg/common/logger"
)

// ConnectWithRetry creates a StatusPublisher, retrying the broker connection
// with exponential backoff. This helps handle temporary network issues or
// Kafka cluster unavailability during startup.
func ConnectWithRetry(
	cfg *Config,
	maxElapsed time.Duration,
	logger *logger.Logger,
	metrics PublisherMetrics,
	tracer trace.Tracer,
) (*StatusPublisher, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	var publisher *StatusPublisher

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.MaxElapsedTime = maxElapsed
	expBackoff.InitialInterval = 2 * time.Second

	operation := func() error {
		producer, err := NewProducer(cfg)
		if err != nil {
			return fmt.Errorf("creating producer: %w", err)
		}
		publisher = NewStatusPublisher(producer, cfg.Topic, logger, metrics, tracer)
		return nil
	}

	if err := backoff.Retry(operation, expBackoff); err != nil {
		return nil, fmt.Errorf("failed to connect to Kafka after retries: %w", err)
	}

	return publisher, nil
}
