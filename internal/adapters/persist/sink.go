package persist

import (
	"context"
	"fmt"
	"time"

	"github.com/pedalhouse/engine/pkg/logger"
	"github.com/pedalhouse/engine/pkg/metrics"
)

// Sink is implemented by the external persistence collaborator.
type Sink interface {
	Save(ctx context.Context, p *Payload) error
}

// Retry defaults.
const (
	defaultMaxAttempts = 4
	defaultBaseDelay   = time.Second
)

// Retrier wraps a sink with exponential backoff. A failed save risks
// only eventual data loss after retries exhaust, never a crash.
type Retrier struct {
	sink        Sink
	maxAttempts int
	baseDelay   time.Duration
	log         logger.Logger
}

// RetrierOption applies a configuration option to the Retrier.
type RetrierOption func(*Retrier)

// WithMaxAttempts sets the total number of save attempts.
func WithMaxAttempts(n int) RetrierOption {
	return func(r *Retrier) {
		if n > 0 {
			r.maxAttempts = n
		}
	}
}

// WithBaseDelay sets the first backoff delay; it doubles per attempt.
func WithBaseDelay(d time.Duration) RetrierOption {
	return func(r *Retrier) {
		if d > 0 {
			r.baseDelay = d
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(log logger.Logger) RetrierOption {
	return func(r *Retrier) {
		if log != nil {
			r.log = log
		}
	}
}

// NewRetrier wraps a sink with retry behavior.
func NewRetrier(sink Sink, opts ...RetrierOption) *Retrier {
	r := &Retrier{
		sink:        sink,
		maxAttempts: defaultMaxAttempts,
		baseDelay:   defaultBaseDelay,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = logger.Get().Named("persist")
	}
	return r
}

// Save attempts the save with exponential backoff until it succeeds,
// attempts exhaust, or the context is cancelled.
func (r *Retrier) Save(ctx context.Context, p *Payload) error {
	delay := r.baseDelay
	var lastErr error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		metrics.RecordAutosaveAttempt()
		start := time.Now()
		err := r.sink.Save(ctx, p)
		metrics.RecordAutosaveLatency(float64(time.Since(start).Milliseconds()))
		if err == nil {
			return nil
		}
		lastErr = err
		metrics.RecordAutosaveFailure()
		r.log.Warn(ctx, "save attempt failed",
			logger.Int("attempt", attempt),
			logger.Int("maxAttempts", r.maxAttempts),
			logger.Error(err),
		)
		if attempt == r.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("save cancelled: %w", ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
	}
	return fmt.Errorf("save failed after %d attempts: %w", r.maxAttempts, lastErr)
}
