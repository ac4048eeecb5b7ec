// Package model contains domain models passed between layers.
package model

import "time"

// Metric identifies the kind of value a device reports.
type Metric string

// Known device metrics.
const (
	MetricHeartRate Metric = "heart_rate"
	MetricCadence   Metric = "cadence"
	MetricPower     Metric = "power"
)

// Reading is one raw sample from a wearable device.
type Reading struct {
	DeviceID  string    `json:"deviceId"`
	Metric    Metric    `json:"metric"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// Valid reports whether the reading is plausible for its metric.
// Heart-rate outside 25-250 bpm is treated as sensor noise.
func (r Reading) Valid() bool {
	if r.DeviceID == "" {
		return false
	}
	switch r.Metric {
	case MetricHeartRate:
		return r.Value >= 25 && r.Value <= 250
	case MetricCadence:
		return r.Value >= 0 && r.Value <= 300
	case MetricPower:
		return r.Value >= 0 && r.Value <= 3000
	default:
		return false
	}
}

// Device tracks one wearable from first signal to prolonged silence.
type Device struct {
	ID            string
	Metric        Metric
	LastValue     float64
	LastSeenAt    time.Time
	InactiveSince *time.Time
}

// Profile is a stable identity. Owned externally; read-only to the core.
type Profile struct {
	ProfileID    string  `koanf:"profile_id"`
	DisplayName  string  `koanf:"display_name"`
	MaxHeartRate float64 `koanf:"max_heart_rate"`

	// Absolute bpm cutoffs for the effort ladder. Zero values are
	// derived from MaxHeartRate at classification time.
	ActiveBPM float64 `koanf:"active_bpm"`
	WarmBPM   float64 `koanf:"warm_bpm"`
	HotBPM    float64 `koanf:"hot_bpm"`
	FireBPM   float64 `koanf:"fire_bpm"`
}

// RosterEntry is a derived projection for display. It is never a second
// source of truth for activity.
type RosterEntry struct {
	EntityID  string  `json:"entityId"`
	ProfileID *string `json:"profileId"`
	DeviceID  string  `json:"deviceId"`
	IsActive  bool    `json:"isActive"`
	ZoneID    string  `json:"zoneId"`
	ZoneColor string  `json:"zoneColor"`
}

// VoiceMemo is an attachment captured by an external collaborator.
// The core only carries it into the persistence payload.
type VoiceMemo struct {
	ID         string    `json:"id"`
	RecordedAt time.Time `json:"recordedAt"`
	DurationMs int64     `json:"durationMs"`
	Transcript string    `json:"transcript,omitempty"`
}

// DeviceAssignment records one occupancy span of a device.
type DeviceAssignment struct {
	DeviceID   string     `json:"deviceId"`
	EntityID   string     `json:"entityId"`
	ProfileID  *string    `json:"profileId"`
	AssignedAt time.Time  `json:"assignedAt"`
	ReleasedAt *time.Time `json:"releasedAt"`
}
