// Package roster maps device occupancy to identities and owns the
// active -> idle -> removed escalation ladder.
package roster

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pedalhouse/engine/internal/domain/entity"
	"github.com/pedalhouse/engine/internal/domain/model"
	"github.com/pedalhouse/engine/pkg/logger"
	"github.com/pedalhouse/engine/pkg/metrics"
)

// Escalation defaults.
const (
	defaultDebounceReadings = 3
	defaultIdleAfter        = 60 * time.Second
	defaultRemoveAfter      = 180 * time.Second
)

// Participant is one roster member, pre-zone. The session decorates it
// into a display RosterEntry; neither is a source of truth for activity.
type Participant struct {
	EntityID  string
	ProfileID *string
	DeviceID  string
	Idle      bool
	LastSeen  time.Time
}

// Assignment reports the entity turnover produced by a guest handoff or
// reclaim, so the session can run the grace transfer.
type Assignment struct {
	DeviceID  string
	EndedID   string
	CreatedID string
}

// Roster resolves readings to participation entities.
type Roster struct {
	mu sync.Mutex

	reg     *entity.Registry
	devices *DeviceManager

	// bindings maps a device to the profile that owns its next entity.
	// A nil value means an anonymous guest.
	bindings map[string]*string
	debounce map[string]int

	debounceN   int
	idleAfter   time.Duration
	removeAfter time.Duration

	emptySince *time.Time

	log logger.Logger
}

// Option applies a configuration option to the Roster.
type Option func(*Roster)

// WithDebounce sets how many consecutive valid readings occupy a device.
func WithDebounce(n int) Option {
	return func(r *Roster) {
		if n > 0 {
			r.debounceN = n
		}
	}
}

// WithIdleAfter sets the silence duration before a participant turns idle.
func WithIdleAfter(d time.Duration) Option {
	return func(r *Roster) {
		if d > 0 {
			r.idleAfter = d
		}
	}
}

// WithRemoveAfter sets the silence duration before a participant is
// removed and its entity ended.
func WithRemoveAfter(d time.Duration) Option {
	return func(r *Roster) {
		if d > 0 {
			r.removeAfter = d
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(log logger.Logger) Option {
	return func(r *Roster) {
		if log != nil {
			r.log = log
		}
	}
}

// New creates a roster over the given registry and device table.
func New(reg *entity.Registry, devices *DeviceManager, opts ...Option) *Roster {
	r := &Roster{
		reg:         reg,
		devices:     devices,
		bindings:    make(map[string]*string),
		debounce:    make(map[string]int),
		debounceN:   defaultDebounceReadings,
		idleAfter:   defaultIdleAfter,
		removeAfter: defaultRemoveAfter,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = logger.Get().Named("roster")
	}
	return r
}

// BindOwner pre-assigns a device to a profile so its first entity is
// created under that identity.
func (r *Roster) BindOwner(deviceID, profileID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := profileID
	r.bindings[deviceID] = &p
}

// RegisterReading resolves a reading to the device's current entity,
// creating one only after the debounce count of consecutive valid
// readings. Returns the owning entity id, or "" while debouncing.
func (r *Roster) RegisterReading(ctx context.Context, reading model.Reading) (string, bool, error) {
	if !reading.Valid() {
		metrics.RecordReadingRejected("invalid")
		// An implausible reading breaks the consecutive-valid run.
		r.mu.Lock()
		delete(r.debounce, reading.DeviceID)
		r.mu.Unlock()
		return "", false, fmt.Errorf("device %s metric %s value %v: %w",
			reading.DeviceID, reading.Metric, reading.Value, ErrInvalidReading)
	}
	r.devices.Observe(reading)

	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.reg.ActiveOnDevice(reading.DeviceID); ok {
		r.debounce[reading.DeviceID] = 0
		return id, false, nil
	}

	r.debounce[reading.DeviceID]++
	if r.debounce[reading.DeviceID] < r.debounceN {
		return "", false, nil
	}
	r.debounce[reading.DeviceID] = 0

	e, err := r.reg.Create(r.bindings[reading.DeviceID], reading.DeviceID, reading.Timestamp)
	if err != nil {
		return "", false, fmt.Errorf("create entity: %w", err)
	}
	r.emptySince = nil
	metrics.UpdateActiveEntities(r.reg.ActiveCount())
	r.log.Info(ctx, "participant joined",
		logger.String("entity", e.ID),
		logger.String("device", reading.DeviceID),
		logger.Bool("guest", e.ProfileID == nil),
	)
	return e.ID, true, nil
}

// AssignGuest ends the device's current entity and starts a fresh one at
// zero currency for the guest. A nil guestProfileID is an anonymous guest.
func (r *Roster) AssignGuest(ctx context.Context, deviceID string, guestProfileID *string, now time.Time) (Assignment, error) {
	return r.reassign(ctx, deviceID, guestProfileID, now, "guest_assigned")
}

// ReclaimDevice is the symmetric operation: the original profile takes
// the device back with a brand-new entity, independent of any entity the
// same profile held earlier.
func (r *Roster) ReclaimDevice(ctx context.Context, deviceID, originalProfileID string, now time.Time) (Assignment, error) {
	return r.reassign(ctx, deviceID, &originalProfileID, now, "reclaimed")
}

func (r *Roster) reassign(ctx context.Context, deviceID string, profileID *string, now time.Time, reason string) (Assignment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a := Assignment{DeviceID: deviceID}
	if cur, ok := r.reg.ActiveOnDevice(deviceID); ok {
		if err := r.reg.End(cur, now, reason); err != nil {
			return a, fmt.Errorf("end current entity: %w", err)
		}
		a.EndedID = cur
		metrics.RecordEntityEnded(reason)
	}
	r.bindings[deviceID] = profileID

	e, err := r.reg.Create(profileID, deviceID, now)
	if err != nil {
		return a, fmt.Errorf("create entity: %w", err)
	}
	a.CreatedID = e.ID
	r.debounce[deviceID] = 0
	metrics.UpdateActiveEntities(r.reg.ActiveCount())
	r.log.Info(ctx, "device reassigned",
		logger.String("device", deviceID),
		logger.String("reason", reason),
		logger.String("ended", a.EndedID),
		logger.String("created", a.CreatedID),
	)
	return a, nil
}

// Sweep advances the escalation ladder: participants silent for
// idleAfter turn idle, those silent for removeAfter are removed and
// their entities ended. Returns the ended entity ids.
func (r *Roster) Sweep(ctx context.Context, now time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []string
	for _, d := range r.devices.Snapshot() {
		id, ok := r.reg.ActiveOnDevice(d.ID)
		if !ok {
			continue
		}
		silent := now.Sub(d.LastSeenAt)
		if silent >= r.removeAfter {
			if err := r.reg.End(id, now, "inactive"); err != nil {
				r.log.Warn(ctx, "failed to end inactive entity",
					logger.String("entity", id), logger.Error(err))
				continue
			}
			removed = append(removed, id)
			metrics.RecordEntityEnded("inactive")
			r.log.Info(ctx, "participant removed after prolonged silence",
				logger.String("entity", id),
				logger.String("device", d.ID),
			)
		} else if silent >= r.idleAfter {
			r.devices.MarkIdle(d.ID, d.LastSeenAt.Add(r.idleAfter))
		}
	}

	if r.reg.ActiveCount() == 0 {
		if r.emptySince == nil {
			t := now
			r.emptySince = &t
		}
	} else {
		r.emptySince = nil
	}
	metrics.UpdateActiveEntities(r.reg.ActiveCount())
	metrics.UpdateRosterSize(r.reg.ActiveCount())
	return removed
}

// EmptyFor reports how long the roster has been empty, zero while it is
// occupied.
func (r *Roster) EmptyFor(now time.Time) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.emptySince == nil {
		return 0
	}
	return now.Sub(*r.emptySince)
}

// Participants returns the current members with their idle flags.
func (r *Roster) Participants() []Participant {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Participant
	for _, e := range r.reg.All() {
		if e.Ended() {
			continue
		}
		p := Participant{
			EntityID:  e.ID,
			ProfileID: e.ProfileID,
			DeviceID:  e.DeviceID,
		}
		if d, ok := r.devices.Get(e.DeviceID); ok {
			p.LastSeen = d.LastSeenAt
			p.Idle = d.InactiveSince != nil
		}
		out = append(out, p)
	}
	return out
}
