// Package kafka publishes report status changes to a Kafka topic.
package kafka

import (
	"errors"
	"time"

	"github.com/IBM/sarama"
)

// Config contains everything needed to publish status events.
type Config struct {
	Brokers  []string
	ClientID string
	Topic    string
}

func (c *Config) validate() error {
	if len(c.Brokers) == 0 {
		return errors.New("kafka: at least one broker is required")
	}
	if c.Topic == "" {
		return errors.New("kafka: topic is required")
	}
	return nil
}

// newSaramaConfig returns the producer settings shared by every publisher.
func newSaramaConfig(clientID string) *sarama.Config {
	config := sarama.NewConfig()
	config.ClientID = clientID

	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true
	config.Producer.Partitioner = sarama.NewHashPartitioner
	config.Producer.Retry.Max = 3
	config.Producer.Timeout = 10 * time.Second

	// Version should be consistent across all components
	config.Version = sarama.V3_6_0_0

	return config
}

// NewProducer creates a synchronous producer for cfg.
func NewProducer(cfg *Config) (sarama.SyncProducer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return sarama.NewSyncProducer(cfg.Brokers, newSaramaConfig(cfg.ClientID))
}
