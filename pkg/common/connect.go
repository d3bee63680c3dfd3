package common

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
)

// ConnectWithRetry calls connect with exponential backoff until it succeeds,
// maxElapsed passes or ctx is done. It smooths over dependencies (databases,
// brokers) that come up after the service during startup.
func ConnectWithRetry[T any](
	ctx context.Context,
	maxElapsed time.Duration,
	onRetry func(err error, next time.Duration),
	connect func(ctx context.Context) (T, error),
) (T, error) {
	var conn T

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.MaxElapsedTime = maxElapsed
	expBackoff.InitialInterval = time.Second

	operation := func() error {
		var err error
		conn, err = connect(ctx)
		return err
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(expBackoff, ctx), onRetry); err != nil {
		var zero T
		return zero, fmt.Errorf("failed to connect after retries: %w", err)
	}

	return conn, nil
}
