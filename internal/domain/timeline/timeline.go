// Package timeline implements the append-only, tick-indexed multi-series
// store for one session, plus its irregular event log.
//
// In-memory series stay plain slices; run-length and symbol encoding are
// applied only when building the persistence payload.
package timeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/pedalhouse/engine/internal/domain/zone"
)

// Value is one sample in a series: float64 for numeric metrics,
// zone.Zone for the zone series, nil for an explicit gap.
type Value = any

// PrimaryBiometric is the metric whose series is the sole source of
// truth for "is this entity active at tick i".
const PrimaryBiometric = "heart_rate"

// ZoneMetric names the per-entity zone series.
const ZoneMetric = "zone"

// EntityType prefixes for series keys.
const (
	EntityTypeEntity  = "entity"
	EntityTypeSession = "session"
)

// defaultMaxPoints caps the total number of points accepted at encode time.
const defaultMaxPoints = 200_000

// Key builds a series key "{entityType}:{identifier}:{metric}".
func Key(entityType, identifier, metric string) string {
	return entityType + ":" + identifier + ":" + metric
}

// EntityKey builds a series key for a session entity.
func EntityKey(entityID, metric string) string {
	return Key(EntityTypeEntity, entityID, metric)
}

// Event is one irregular, insertion-ordered timeline occurrence.
type Event struct {
	TickIndex int            `json:"tickIndex"`
	Timestamp time.Time      `json:"timestamp"`
	OffsetMs  int64          `json:"offsetMs"`
	Type      string         `json:"type"`
	Source    string         `json:"source"`
	Data      map[string]any `json:"data,omitempty"`
}

// Timeline is the per-session store. Not safe for concurrent use; the
// session's tick task is the single owner.
type Timeline struct {
	startTime  time.Time
	intervalMs int64

	tickCount int
	series    map[string][]Value
	order     []string
	events    []Event

	maxPoints int
	frozen    bool
}

// Option applies a configuration option to the Timeline.
type Option func(*Timeline)

// WithMaxPoints overrides the encode-time size cap.
func WithMaxPoints(n int) Option {
	return func(t *Timeline) {
		if n > 0 {
			t.maxPoints = n
		}
	}
}

// New creates an empty timeline anchored at startTime with the given
// tick interval.
func New(startTime time.Time, interval time.Duration, opts ...Option) *Timeline {
	t := &Timeline{
		startTime:  startTime,
		intervalMs: interval.Milliseconds(),
		series:     make(map[string][]Value),
		maxPoints:  defaultMaxPoints,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// TickCount returns the number of committed ticks.
func (t *Timeline) TickCount() int { return t.tickCount }

// StartTime returns the timeline anchor.
func (t *Timeline) StartTime() time.Time { return t.startTime }

// IntervalMs returns the tick interval in milliseconds.
func (t *Timeline) IntervalMs() int64 { return t.intervalMs }

// Duration is always tickCount x interval, never a stored end timestamp.
func (t *Timeline) Duration() time.Duration {
	return time.Duration(int64(t.tickCount)*t.intervalMs) * time.Millisecond
}

// Frozen reports whether the timeline has been closed to new ticks.
func (t *Timeline) Frozen() bool { return t.frozen }

// Freeze closes the timeline to further ticks and events.
func (t *Timeline) Freeze() { t.frozen = true }

// Tick appends exactly one value per known series for the current tick.
// Series absent from the payload get nil; a series seen for the first
// time is back-filled with nil for all prior ticks.
func (t *Timeline) Tick(payload map[string]Value) error {
	if t.frozen {
		return ErrFrozen
	}
	normalized := make(map[string]Value, len(payload))
	for key, v := range payload {
		nv, err := normalize(v)
		if err != nil {
			return fmt.Errorf("series %s: %w", key, err)
		}
		normalized[key] = nv
		if _, ok := t.series[key]; !ok {
			backfill := make([]Value, t.tickCount, t.tickCount+1)
			t.series[key] = backfill
			t.order = append(t.order, key)
		}
	}
	for _, key := range t.order {
		t.series[key] = append(t.series[key], normalized[key])
	}
	t.tickCount++
	return nil
}

// normalize coerces samples to the two storable kinds so encode and
// decode stay exact inverses.
func normalize(v Value) (Value, error) {
	switch val := v.(type) {
	case nil, float64, zone.Zone:
		return v, nil
	case int:
		return float64(val), nil
	case int64:
		return float64(val), nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
	}
}

// RecordEvent appends an irregular event at the current tick index.
func (t *Timeline) RecordEvent(eventType, source string, data map[string]any) error {
	if t.frozen {
		return ErrFrozen
	}
	now := time.Now()
	t.events = append(t.events, Event{
		TickIndex: t.tickCount,
		Timestamp: now,
		OffsetMs:  now.Sub(t.startTime).Milliseconds(),
		Type:      eventType,
		Source:    source,
		Data:      data,
	})
	return nil
}

// Events returns a copy of the event log in insertion order.
func (t *Timeline) Events() []Event {
	out := make([]Event, len(t.events))
	copy(out, t.events)
	return out
}

// Series returns a copy of one series. Unknown keys return an empty slice.
func (t *Timeline) Series(key string) []Value {
	s, ok := t.series[key]
	if !ok {
		return []Value{}
	}
	out := make([]Value, len(s))
	copy(out, s)
	return out
}

// SeriesKeys returns all series keys in first-seen order.
func (t *Timeline) SeriesKeys() []string {
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}

// EntitySeries returns copies of every series belonging to one entity,
// keyed by metric name.
func (t *Timeline) EntitySeries(entityID string) map[string][]Value {
	prefix := EntityTypeEntity + ":" + entityID + ":"
	out := make(map[string][]Value)
	for _, key := range t.order {
		if strings.HasPrefix(key, prefix) {
			out[strings.TrimPrefix(key, prefix)] = t.Series(key)
		}
	}
	return out
}

// ActiveAt reports whether the entity's primary biometric series holds a
// numeric value at tick i. This is the only activity truth; roster flags
// and timeout trackers are projections of it.
func (t *Timeline) ActiveAt(entityID string, tick int) bool {
	s, ok := t.series[EntityKey(entityID, PrimaryBiometric)]
	if !ok || tick < 0 || tick >= len(s) {
		return false
	}
	_, numeric := s[tick].(float64)
	return numeric
}

// TransferEntitySeries renames every series under the from-entity prefix
// to the to-entity prefix. This is the only cross-entity series mutation
// and is used solely by the registry's grace transfer. When a target
// series already exists, gaps in the target are filled from the source.
func (t *Timeline) TransferEntitySeries(fromEntityID, toEntityID string) {
	fromPrefix := EntityTypeEntity + ":" + fromEntityID + ":"
	for i, key := range t.order {
		if !strings.HasPrefix(key, fromPrefix) {
			continue
		}
		metric := strings.TrimPrefix(key, fromPrefix)
		target := EntityKey(toEntityID, metric)
		src := t.series[key]
		if dst, ok := t.series[target]; ok {
			for j := range dst {
				if dst[j] == nil && j < len(src) {
					dst[j] = src[j]
				}
			}
			delete(t.series, key)
			t.order[i] = "" // compacted below
		} else {
			t.series[target] = src
			delete(t.series, key)
			t.order[i] = target
		}
	}
	compacted := t.order[:0]
	for _, key := range t.order {
		if key != "" {
			compacted = append(compacted, key)
		}
	}
	t.order = compacted
}
