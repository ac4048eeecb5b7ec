// Package entity tracks participation instances. An entity is one
// continuous turn of a person (or anonymous guest) on a device within a
// session, deliberately decoupled from the stable profile identity so a
// guest takeover never inherits the prior occupant's accumulated state.
package entity

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status of a participation instance.
type Status string

// Entity statuses. Ending is terminal.
const (
	StatusActive  Status = "active"
	StatusDropped Status = "dropped"
)

// Entity is a snapshot of one participation instance.
type Entity struct {
	ID        string
	ProfileID *string
	DeviceID  string
	StartTime time.Time
	EndTime   *time.Time
	EndReason string
	Status    Status
	Coins     int
}

// Ended reports whether the entity has been ended.
func (e Entity) Ended() bool { return e.Status == StatusDropped }

// Duration returns the entity's lifetime, using now while still active.
func (e Entity) Duration(now time.Time) time.Duration {
	if e.EndTime != nil {
		return e.EndTime.Sub(e.StartTime)
	}
	return now.Sub(e.StartTime)
}

// Aggregate sums gamification state across every entity a profile has
// ever owned. Profile-level totals are always computed this way, never
// kept as a live accumulator keyed by profile.
type Aggregate struct {
	ProfileID string
	Coins     int
	Duration  time.Duration
	Entities  int
}

// Registry is the owned arena of entities for one session. It is held
// by the session object and passed by reference, never a package-level
// singleton.
type Registry struct {
	mu       sync.RWMutex
	entities map[string]*Entity
	order    []string
	byDevice map[string]string // deviceID -> active entity id
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entities: make(map[string]*Entity),
		byDevice: make(map[string]string),
	}
}

// newID builds a time-plus-random identifier, immutable once created.
func newID(start time.Time) string {
	return fmt.Sprintf("ent-%d-%s", start.UnixMilli(), uuid.NewString()[:8])
}

// Create starts a new active entity on a device. A nil profileID means
// an anonymous guest. At most one entity may be active per device.
func (r *Registry) Create(profileID *string, deviceID string, startTime time.Time) (Entity, error) {
	if deviceID == "" {
		return Entity{}, ErrDeviceRequired
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.byDevice[deviceID]; ok {
		return Entity{}, fmt.Errorf("device %s already held by %s: %w", deviceID, cur, ErrDeviceOccupied)
	}
	e := &Entity{
		ID:        newID(startTime),
		ProfileID: profileID,
		DeviceID:  deviceID,
		StartTime: startTime,
		Status:    StatusActive,
	}
	r.entities[e.ID] = e
	r.order = append(r.order, e.ID)
	r.byDevice[deviceID] = e.ID
	return *e, nil
}

// End drops an entity and freezes its end time. Calling End on an
// already-ended entity is a no-op.
func (r *Registry) End(entityID string, endTime time.Time, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entities[entityID]
	if !ok {
		return fmt.Errorf("entity %s: %w", entityID, ErrNotFound)
	}
	if e.Status == StatusDropped {
		return nil
	}
	t := endTime
	e.EndTime = &t
	e.EndReason = reason
	e.Status = StatusDropped
	if r.byDevice[e.DeviceID] == e.ID {
		delete(r.byDevice, e.DeviceID)
	}
	return nil
}

// AddCoins credits coins to an active entity. Writes to an ended entity
// are rejected with an error, not silently dropped.
func (r *Registry) AddCoins(entityID string, coins int) error {
	if coins < 0 {
		return ErrNegativeCoins
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entities[entityID]
	if !ok {
		return fmt.Errorf("entity %s: %w", entityID, ErrNotFound)
	}
	if e.Status == StatusDropped {
		return fmt.Errorf("entity %s: %w", entityID, ErrEntityEnded)
	}
	e.Coins += coins
	return nil
}

// Get returns a snapshot of one entity.
func (r *Registry) Get(entityID string) (Entity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entities[entityID]
	if !ok {
		return Entity{}, fmt.Errorf("entity %s: %w", entityID, ErrNotFound)
	}
	return *e, nil
}

// ActiveOnDevice returns the id of the entity currently holding a device.
func (r *Registry) ActiveOnDevice(deviceID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byDevice[deviceID]
	return id, ok
}

// All returns snapshots of every entity in creation order.
func (r *Registry) All() []Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entity, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.entities[id])
	}
	return out
}

// ActiveCount returns the number of active entities.
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byDevice)
}

// TransferGraceWindow merges a just-ended short-lived entity's coins into
// the entity now active on the same device. This is the sole permitted
// exception to "ending is terminal" and exists to absorb accidental
// mis-taps. Returns the successor id and the number of coins moved, or
// ErrGraceIneligible when the entity does not qualify.
func (r *Registry) TransferGraceWindow(entityID string, threshold time.Duration) (string, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entities[entityID]
	if !ok {
		return "", 0, fmt.Errorf("entity %s: %w", entityID, ErrNotFound)
	}
	if e.Status != StatusDropped || e.EndTime == nil {
		return "", 0, fmt.Errorf("entity %s still active: %w", entityID, ErrGraceIneligible)
	}
	if e.EndTime.Sub(e.StartTime) >= threshold {
		return "", 0, fmt.Errorf("entity %s outlived the grace window: %w", entityID, ErrGraceIneligible)
	}
	succID, ok := r.byDevice[e.DeviceID]
	if !ok || succID == e.ID {
		return "", 0, fmt.Errorf("no successor on device %s: %w", e.DeviceID, ErrGraceIneligible)
	}
	succ := r.entities[succID]
	moved := e.Coins
	succ.Coins += moved
	e.Coins = 0
	return succID, moved, nil
}

// ProfileAggregate sums coins and duration across every entity the
// profile has ever owned, independent of any single entity's boundaries.
func (r *Registry) ProfileAggregate(profileID string) Aggregate {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := time.Now()
	agg := Aggregate{ProfileID: profileID}
	for _, id := range r.order {
		e := r.entities[id]
		if e.ProfileID == nil || *e.ProfileID != profileID {
			continue
		}
		agg.Coins += e.Coins
		agg.Duration += e.Duration(now)
		agg.Entities++
	}
	return agg
}
