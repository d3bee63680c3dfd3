package reports

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"
)

// ErrShuttingDown is returned when a run is requested after Shutdown began.
var ErrShuttingDown = errors.New("report orchestrator is shutting down")

// PanicError carries a panic recovered from a background run.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string { return fmt.Sprintf("background run panicked: %v", e.Value) }

// runFunc is the unit of work executed by the supervisor.
type runFunc func(ctx context.Context) error

// doneFunc observes a finished run. It is the single place a run's error
// surfaces, since background runs have no synchronous caller.
type doneFunc func(ctx context.Context, taskID string, err error, elapsed time.Duration)

// supervisor owns the goroutines of detached report runs. It recovers
// panics, hands every outcome to onDone and lets shutdown drain or cancel
// in-flight runs.
type supervisor struct {
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup

	// stopCtx is cancelled when a shutdown deadline expires, which cancels
	// every in-flight run.
	stopCtx context.Context
	stop    context.CancelFunc

	// grace bounds how long shutdown waits for cancelled runs to record
	// their terminal state.
	grace  time.Duration
	onDone doneFunc
}

func newSupervisor(grace time.Duration, onDone doneFunc) *supervisor {
	stopCtx, stop := context.WithCancel(context.Background())
	return &supervisor{stopCtx: stopCtx, stop: stop, grace: grace, onDone: onDone}
}

// Go starts fn on its own goroutine. ctx should already be detached from
// any request cancellation; the supervisor only adds shutdown cancellation.
func (s *supervisor) Go(ctx context.Context, taskID string, fn runFunc) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrShuttingDown
	}
	s.wg.Add(1)
	s.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	unregister := context.AfterFunc(s.stopCtx, cancel)

	go func() {
		defer s.wg.Done()
		defer cancel()
		defer unregister()

		start := time.Now()
		err := s.run(runCtx, fn)
		s.onDone(runCtx, taskID, err, time.Since(start))
	}()
	return nil
}

func (s *supervisor) run(ctx context.Context, fn runFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return fn(ctx)
}

// Shutdown rejects new runs and waits for in-flight ones. If ctx expires
// first, in-flight runs are cancelled and given the grace period to finish
// recording their terminal state.
func (s *supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.stop()
		return nil
	case <-ctx.Done():
	}

	s.stop()

	timer := time.NewTimer(s.grace)
	defer timer.Stop()

	select {
	case <-done:
		return fmt.Errorf("report runs cancelled at shutdown: %w", ctx.Err())
	case <-timer.C:
		return fmt.Errorf("report runs still active after shutdown grace period: %w", ctx.Err())
	}
}
