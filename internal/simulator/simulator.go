// Package simulator generates synthetic wearable traffic for exercising
// a session end to end: a fleet of devices with wandering heart rates,
// occasional dropouts, and cadence/power companions.
package simulator

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/pedalhouse/engine/internal/domain/model"
	"github.com/pedalhouse/engine/pkg/logger"
)

// Default generation constants.
const (
	defaultDevices  = 8
	defaultInterval = time.Second
	defaultDropout  = 0.05
	defaultBaseBPM  = 90
	maxWanderBPM    = 185
	minWanderBPM    = 60
)

// Emitter receives generated readings. Implementations push to the
// session directly or publish to the reading stream.
type Emitter interface {
	Emit(ctx context.Context, r model.Reading) error
}

// EmitFunc adapts a function to the Emitter interface.
type EmitFunc func(ctx context.Context, r model.Reading) error

// Emit calls the function.
func (f EmitFunc) Emit(ctx context.Context, r model.Reading) error { return f(ctx, r) }

// device is one simulated wearable's walk state.
type device struct {
	id      string
	bpm     float64
	cadence float64
}

// Simulator drives a fleet of synthetic devices.
type Simulator struct {
	devices  []*device
	interval time.Duration
	dropout  float64
	rng      *rand.Rand
	log      logger.Logger
}

// Option applies a configuration option to the Simulator.
type Option func(*Simulator)

// WithDevices sets the fleet size.
func WithDevices(n int) Option {
	return func(s *Simulator) {
		if n > 0 {
			s.devices = make([]*device, n)
		}
	}
}

// WithInterval sets the per-device reporting cadence.
func WithInterval(d time.Duration) Option {
	return func(s *Simulator) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithDropout sets the probability that a device skips a report.
func WithDropout(p float64) Option {
	return func(s *Simulator) {
		if p >= 0 && p < 1 {
			s.dropout = p
		}
	}
}

// WithSeed makes the walk deterministic.
func WithSeed(seed int64) Option {
	return func(s *Simulator) {
		s.rng = rand.New(rand.NewSource(seed)) //nolint:gosec // simulation, not crypto
	}
}

// WithLogger sets a custom logger.
func WithLogger(log logger.Logger) Option {
	return func(s *Simulator) {
		if log != nil {
			s.log = log
		}
	}
}

// New creates a simulator fleet.
func New(opts ...Option) *Simulator {
	s := &Simulator{
		devices:  make([]*device, defaultDevices),
		interval: defaultInterval,
		dropout:  defaultDropout,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.rng == nil {
		s.rng = rand.New(rand.NewSource(time.Now().UnixNano())) //nolint:gosec // simulation, not crypto
	}
	if s.log == nil {
		s.log = logger.Get().Named("simulator")
	}
	for i := range s.devices {
		s.devices[i] = &device{
			id:      fmt.Sprintf("sim-hrm-%d", i+1),
			bpm:     defaultBaseBPM + s.rng.Float64()*40,
			cadence: 60 + s.rng.Float64()*30,
		}
	}
	return s
}

// Run emits readings at the configured cadence until the context is
// cancelled. Emitter errors are logged and the walk continues.
func (s *Simulator) Run(ctx context.Context, emit Emitter) error {
	s.log.Info(ctx, "simulator started",
		logger.Int("devices", len(s.devices)),
		logger.Int64("intervalMs", s.interval.Milliseconds()),
	)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			s.step(ctx, now, emit)
		}
	}
}

// Step advances every device one interval and emits its readings; split
// out so tests can drive the walk without real time.
func (s *Simulator) Step(ctx context.Context, now time.Time, emit Emitter) {
	s.step(ctx, now, emit)
}

func (s *Simulator) step(ctx context.Context, now time.Time, emit Emitter) {
	for _, d := range s.devices {
		d.bpm += s.rng.Float64()*8 - 3.5 // slight upward drift
		if d.bpm > maxWanderBPM {
			d.bpm = maxWanderBPM
		}
		if d.bpm < minWanderBPM {
			d.bpm = minWanderBPM
		}
		d.cadence += s.rng.Float64()*6 - 3

		if s.rng.Float64() < s.dropout {
			continue
		}
		readings := []model.Reading{
			{DeviceID: d.id, Metric: model.MetricHeartRate, Value: float64(int(d.bpm)), Timestamp: now},
			{DeviceID: d.id, Metric: model.MetricCadence, Value: float64(int(d.cadence)), Timestamp: now},
		}
		for _, r := range readings {
			if err := emit.Emit(ctx, r); err != nil {
				s.log.Warn(ctx, "emit failed",
					logger.String("device", d.id), logger.Error(err))
			}
		}
	}
}
