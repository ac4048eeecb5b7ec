// Package ingest streams device readings from Kafka into a running
// session. The adapter decodes, de-duplicates, and forwards; everything
// else (validity windows, debounce, zone math) lives downstream.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/pedalhouse/engine/internal/domain/model"
	"github.com/pedalhouse/engine/pkg/logger"
	"github.com/pedalhouse/engine/pkg/metrics"
)

const defaultPollTimeout = 5 * time.Second

// Offerer accepts readings; satisfied by the session.
type Offerer interface {
	Offer(ctx context.Context, r model.Reading) bool
}

// fetcher captures the reader capabilities the consumer needs, so tests
// can substitute the Kafka client.
type fetcher interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Config carries the broker wiring for the reading stream.
type Config struct {
	Brokers []string
	Topic   string
	GroupID string
}

// Consumer pulls reading messages and offers them to the session.
type Consumer struct {
	cfg    Config
	reader fetcher
	target Offerer
	poll   time.Duration

	// lastSeen tracks the newest timestamp per device+metric so exact
	// duplicates and stale replays are dropped at the edge.
	lastSeen map[string]time.Time

	log logger.Logger
}

// Option applies a configuration option to the Consumer.
type Option func(*Consumer)

// WithLogger sets a custom logger.
func WithLogger(log logger.Logger) Option {
	return func(c *Consumer) {
		if log != nil {
			c.log = log
		}
	}
}

// WithPollTimeout bounds each fetch attempt.
func WithPollTimeout(d time.Duration) Option {
	return func(c *Consumer) {
		if d > 0 {
			c.poll = d
		}
	}
}

// withReader substitutes the Kafka client; used by tests.
func withReader(r fetcher) Option {
	return func(c *Consumer) {
		c.reader = r
	}
}

// New builds a consumer over a Kafka reader group.
func New(cfg Config, target Offerer, opts ...Option) (*Consumer, error) {
	if target == nil {
		return nil, ErrNilTarget
	}
	c := &Consumer{
		cfg:      cfg,
		target:   target,
		poll:     defaultPollTimeout,
		lastSeen: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logger.Get().Named("ingest")
	}
	if c.reader == nil {
		if len(cfg.Brokers) == 0 {
			return nil, ErrNoBrokers
		}
		if cfg.Topic == "" {
			return nil, ErrNoTopic
		}
		c.reader = kafka.NewReader(kafka.ReaderConfig{
			Brokers:     cfg.Brokers,
			GroupID:     cfg.GroupID,
			Topic:       cfg.Topic,
			StartOffset: kafka.LastOffset,
			MinBytes:    1,
			MaxBytes:    10e6,
			MaxWait:     500 * time.Millisecond,
		})
	}
	return c, nil
}

// Close shuts down the underlying reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// Run blocks until the context is cancelled or the reader closes,
// forwarding decoded readings to the session. Malformed messages are
// logged and dropped, never fatal.
func (c *Consumer) Run(ctx context.Context) error {
	c.log.Info(ctx, "reading consumer started",
		logger.String("topic", c.cfg.Topic),
		logger.String("group", c.cfg.GroupID),
	)
	defer c.log.Info(ctx, "reading consumer stopped")

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		fetchCtx, cancel := context.WithTimeout(ctx, c.poll)
		msg, err := c.reader.FetchMessage(fetchCtx)
		cancel()
		if err != nil {
			switch {
			case errors.Is(err, context.DeadlineExceeded):
				continue
			case errors.Is(err, context.Canceled):
				if ctx.Err() != nil {
					return ctx.Err()
				}
				continue
			case errors.Is(err, io.ErrClosedPipe), errors.Is(err, kafka.ErrGroupClosed):
				return nil
			default:
				c.log.Error(ctx, "fetch failed", logger.Error(err))
				continue
			}
		}

		c.handle(ctx, msg)

		commitCtx, commitCancel := context.WithTimeout(ctx, c.poll)
		if err := c.reader.CommitMessages(commitCtx, msg); err != nil {
			if !(errors.Is(err, context.Canceled) && ctx.Err() != nil) {
				c.log.Error(ctx, "commit failed", logger.Error(err))
			}
		}
		commitCancel()
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) {
	r, err := decodeReading(msg.Value)
	if err != nil {
		metrics.RecordReadingRejected("malformed")
		c.log.Warn(ctx, "dropping malformed reading",
			logger.Int64("offset", msg.Offset), logger.Error(err))
		return
	}

	key := r.DeviceID + "|" + string(r.Metric)
	if last, ok := c.lastSeen[key]; ok && !r.Timestamp.After(last) {
		metrics.RecordReadingRejected("duplicate")
		c.log.Debug(ctx, "dropping duplicate or stale reading",
			logger.String("device", r.DeviceID),
			logger.String("metric", string(r.Metric)),
		)
		return
	}
	c.lastSeen[key] = r.Timestamp

	if !c.target.Offer(ctx, r) {
		c.log.Debug(ctx, "reading refused by session",
			logger.String("device", r.DeviceID))
	}
}

// decodeReading parses one reading message. The timestamp defaults to
// now so clockless devices still land in the current tick window.
func decodeReading(raw []byte) (model.Reading, error) {
	var r model.Reading
	if err := json.Unmarshal(raw, &r); err != nil {
		return model.Reading{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if r.DeviceID == "" {
		return model.Reading{}, fmt.Errorf("%w: missing deviceId", ErrDecode)
	}
	if r.Metric == "" {
		r.Metric = model.MetricHeartRate
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}
	return r, nil
}
