// Package config defines engine configuration structures and loading.
//
// Conventions:
// - Provide New() with defaults; Load layers file and env on top.
// - External errors are wrapped via this package's error helpers.
package config

import (
	"time"

	"github.com/pedalhouse/engine/internal/domain/governance"
	"github.com/pedalhouse/engine/internal/domain/model"
)

// KafkaConfig wires the inbound device-reading stream. An empty broker
// list disables the adapter; readings can still be pushed directly.
type KafkaConfig struct {
	Brokers []string `koanf:"brokers"`
	Topic   string   `koanf:"topic"`
	GroupID string   `koanf:"group_id"`
}

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// MetricsAddr configures the Prometheus listen address, e.g. ":9090".
	MetricsAddr string `koanf:"metrics_addr"`

	// TickIntervalMs is the fixed timeline cadence.
	TickIntervalMs int64 `koanf:"tick_interval_ms"`

	// AutosaveIntervalMs is the persistence cadence.
	AutosaveIntervalMs int64 `koanf:"autosave_interval_ms"`

	// StartDebounce is the number of consecutive valid readings that
	// commit to starting a session.
	StartDebounce int `koanf:"start_debounce"`

	// CoinUnitMs is the elapsed time worth one coin.
	CoinUnitMs int64 `koanf:"coin_unit_ms"`

	// GraceTransferMs bounds the mis-tap grace window for entity merges.
	GraceTransferMs int64 `koanf:"grace_transfer_ms"`

	// Roster escalation thresholds.
	IdleAfterMs      int64 `koanf:"idle_after_ms"`
	RemoveAfterMs    int64 `koanf:"remove_after_ms"`
	EmptyRosterEndMs int64 `koanf:"empty_roster_end_ms"`

	// QueueSize bounds the in-memory reading queue.
	QueueSize int `koanf:"queue_size"`

	// SaveDir is where session payload snapshots land.
	SaveDir string `koanf:"save_dir"`

	// MaxTimelinePoints caps the encoded timeline size.
	MaxTimelinePoints int `koanf:"max_timeline_points"`

	// Kafka configures the reading-stream adapter.
	Kafka KafkaConfig `koanf:"kafka"`

	// Governance is the gating policy document. Malformed content fails
	// open to unlocked downstream.
	Governance governance.Policy `koanf:"governance"`

	// Profiles is the read-only profile directory.
	Profiles []model.Profile `koanf:"profiles"`

	// DeviceOwners pre-binds devices to profile ids.
	DeviceOwners map[string]string `koanf:"device_owners"`
}

// New creates a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:           "info",
		MetricsAddr:        ":9090",
		TickIntervalMs:     5_000,
		AutosaveIntervalMs: 15_000,
		StartDebounce:      3,
		CoinUnitMs:         5_000,
		GraceTransferMs:    60_000,
		IdleAfterMs:        60_000,
		RemoveAfterMs:      180_000,
		EmptyRosterEndMs:   60_000,
		QueueSize:          4096,
		SaveDir:            "sessions",
		MaxTimelinePoints:  200_000,
		Governance:         governance.DefaultPolicy(),
		DeviceOwners:       map[string]string{},
	}
}

// Duration helpers.

func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalMs) * time.Millisecond
}

func (c *Config) AutosaveInterval() time.Duration {
	return time.Duration(c.AutosaveIntervalMs) * time.Millisecond
}

func (c *Config) GraceTransfer() time.Duration {
	return time.Duration(c.GraceTransferMs) * time.Millisecond
}

func (c *Config) IdleAfter() time.Duration {
	return time.Duration(c.IdleAfterMs) * time.Millisecond
}

func (c *Config) RemoveAfter() time.Duration {
	return time.Duration(c.RemoveAfterMs) * time.Millisecond
}

func (c *Config) EmptyRosterEnd() time.Duration {
	return time.Duration(c.EmptyRosterEndMs) * time.Millisecond
}

func (c *Config) CoinUnit() time.Duration {
	return time.Duration(c.CoinUnitMs) * time.Millisecond
}

// ProfileByID looks up the profile directory.
func (c *Config) ProfileByID(id string) (*model.Profile, bool) {
	for i := range c.Profiles {
		if c.Profiles[i].ProfileID == id {
			return &c.Profiles[i], true
		}
	}
	return nil, false
}
