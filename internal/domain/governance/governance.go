// Package governance implements the content-gating state machine and the
// challenge mini-game scheduler.
//
// The machine moves pending -> unlocked -> warning -> locked. Warning
// always cancels back to unlocked when requirements are restored, and
// locked reopens once they are. Warning only escalates to locked after a
// configurable grace countdown elapses without recovery.
package governance

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/pedalhouse/engine/internal/domain/zone"
	"github.com/pedalhouse/engine/pkg/logger"
	"github.com/pedalhouse/engine/pkg/metrics"
)

// State of the gate.
type State string

// Gate states.
const (
	StatePending  State = "pending"
	StateUnlocked State = "unlocked"
	StateWarning  State = "warning"
	StateLocked   State = "locked"
)

// gaugeValue maps states onto the governance_state metric.
func (s State) gaugeValue() int {
	switch s {
	case StatePending:
		return 0
	case StateUnlocked:
		return 1
	case StateWarning:
		return 2
	default:
		return 3
	}
}

// ParticipantZone is one roster member's current zone assignment.
type ParticipantZone struct {
	EntityID  string
	ProfileID *string
	Zone      zone.Zone
}

// Offender is a participant currently below the required zone.
type Offender struct {
	EntityID  string  `json:"entityId"`
	ProfileID *string `json:"profileId"`
	Zone      string  `json:"zone"`
}

// ActiveChallenge is a fired challenge awaiting completion or expiry.
type ActiveChallenge struct {
	Challenge Challenge      `json:"challenge"`
	FiredAt   time.Time      `json:"firedAt"`
	ExpiresAt time.Time      `json:"expiresAt"`
	Manual    bool           `json:"manual"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Snapshot is the outbound view consumed by UI and lighting.
type Snapshot struct {
	Status          State            `json:"status"`
	ActiveChallenge *ActiveChallenge `json:"activeChallenge"`
	NextChallengeAt *time.Time       `json:"nextChallengeAt"`
	Offenders       []Offender       `json:"offenders"`
}

// Engine re-evaluates the gate every timeline tick and independently
// schedules challenges.
type Engine struct {
	mu sync.Mutex

	policy       Policy
	requiredZone zone.Zone
	failOpen     bool
	tickInterval time.Duration

	state          State
	graceTicks     int
	graceRemaining int
	offenders      []Offender

	// Challenge loop. The countdown pauses (keeps its remainder) while
	// the gate is in warning or locked, and resumes on unlock.
	rng             *rand.Rand
	active          *ActiveChallenge
	nextAt          time.Time
	pausedRemaining time.Duration
	pausedTTL       time.Duration
	paused          bool
	lastChallenge   int

	log logger.Logger
}

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithLogger sets a custom logger.
func WithLogger(log logger.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// WithTickInterval sets the timeline tick interval used to convert the
// grace period into a tick countdown.
func WithTickInterval(interval time.Duration) Option {
	return func(e *Engine) {
		if interval > 0 {
			e.tickInterval = interval
		}
	}
}

// WithRandSource seeds the challenge scheduler for deterministic tests.
func WithRandSource(seed int64) Option {
	return func(e *Engine) {
		e.rng = rand.New(rand.NewSource(seed)) //nolint:gosec // scheduling jitter, not crypto
	}
}

// New builds an engine from a policy document. A nil or invalid policy
// fails open: the gate reports unlocked and never blocks playback over a
// configuration defect.
func New(policy *Policy, opts ...Option) *Engine {
	e := &Engine{
		state:         StatePending,
		tickInterval:  5 * time.Second,
		rng:           rand.New(rand.NewSource(time.Now().UnixNano())), //nolint:gosec // scheduling jitter
		lastChallenge: -1,
		log:           nil,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = logger.Get().Named("governance")
	}

	if policy == nil {
		e.failOpen = true
		e.state = StateUnlocked
		e.log.Warn(context.Background(), "no governance policy, failing open to unlocked")
	} else if err := policy.Validate(); err != nil {
		e.failOpen = true
		e.state = StateUnlocked
		e.log.Warn(context.Background(), "malformed governance policy, failing open to unlocked",
			logger.Error(err))
	} else {
		e.policy = *policy
		e.requiredZone, _ = zone.Parse(policy.RequiredZone)
		e.graceTicks = int((policy.GracePeriod() + e.tickInterval - 1) / e.tickInterval)
		if e.graceTicks < 1 {
			e.graceTicks = 1
		}
	}
	metrics.UpdateGovernanceState(e.state.gaugeValue())
	return e
}

// Evaluate advances the gate for one tick against the current roster
// zone assignments and drives the challenge loop. It must be called
// exactly once per tick window.
func (e *Engine) Evaluate(ctx context.Context, now time.Time, participants []ParticipantZone) State {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.failOpen {
		return e.state
	}

	compliant := 0
	offenders := make([]Offender, 0, len(participants))
	for _, p := range participants {
		if p.Zone.AtLeast(e.requiredZone) {
			compliant++
			continue
		}
		offenders = append(offenders, Offender{
			EntityID:  p.EntityID,
			ProfileID: p.ProfileID,
			Zone:      string(p.Zone),
		})
	}
	e.offenders = offenders
	met := compliant >= e.policy.MinParticipants

	prev := e.state
	switch e.state {
	case StatePending:
		if met {
			e.transition(StateUnlocked, now)
		}
	case StateUnlocked:
		if !met {
			e.graceRemaining = e.graceTicks
			e.transition(StateWarning, now)
		}
	case StateWarning:
		if met {
			e.transition(StateUnlocked, now)
		} else {
			e.graceRemaining--
			if e.graceRemaining <= 0 {
				e.transition(StateLocked, now)
			}
		}
	case StateLocked:
		if met {
			e.transition(StateUnlocked, now)
		}
	}

	if prev != e.state {
		e.log.Info(ctx, "governance state changed",
			logger.String("from", string(prev)),
			logger.String("to", string(e.state)),
			logger.Int("compliant", compliant),
			logger.Int("offenders", len(offenders)),
		)
	}

	e.advanceChallenges(ctx, now)
	return e.state
}

// transition flips gate state and pauses or resumes the challenge clock.
// Both the next-fire countdown and an active challenge's TTL keep their
// remainder across warning/locked spans.
func (e *Engine) transition(to State, now time.Time) {
	from := e.state
	e.state = to
	metrics.UpdateGovernanceState(to.gaugeValue())
	metrics.RecordGovernanceTransition(string(to))

	switch {
	case to == StateWarning || to == StateLocked:
		if from != StateUnlocked {
			break
		}
		if e.active != nil {
			e.pausedTTL = e.active.ExpiresAt.Sub(now)
			if e.pausedTTL < 0 {
				e.pausedTTL = 0
			}
			e.paused = true
		} else if !e.nextAt.IsZero() {
			e.pausedRemaining = e.nextAt.Sub(now)
			if e.pausedRemaining < 0 {
				e.pausedRemaining = 0
			}
			e.paused = true
		}
	case to == StateUnlocked:
		if e.paused {
			if e.active != nil {
				e.active.ExpiresAt = now.Add(e.pausedTTL)
			} else {
				e.nextAt = now.Add(e.pausedRemaining)
			}
			e.paused = false
		} else if e.nextAt.IsZero() && e.active == nil {
			e.scheduleNext(now)
		}
	}
}

// advanceChallenges expires or fires challenges. The loop is idle while
// the gate is warning or locked.
func (e *Engine) advanceChallenges(ctx context.Context, now time.Time) {
	if e.state != StateUnlocked {
		return
	}
	if e.active != nil && now.After(e.active.ExpiresAt) {
		e.log.Info(ctx, "challenge expired",
			logger.String("challenge", e.active.Challenge.ID))
		e.active = nil
		e.scheduleNext(now)
	}
	if e.active == nil && !e.nextAt.IsZero() && !now.Before(e.nextAt) {
		if err := e.fire(ctx, now, nil, false); err != nil {
			// Empty catalog: push the clock forward instead of spinning.
			e.scheduleNext(now)
		}
	}
}

// scheduleNext picks a random interval within the configured range.
func (e *Engine) scheduleNext(now time.Time) {
	if e.failOpen {
		return
	}
	span := e.policy.ChallengeMaxIntervalMs - e.policy.ChallengeMinIntervalMs
	jitter := int64(0)
	if span > 0 {
		jitter = e.rng.Int63n(span + 1)
	}
	interval := time.Duration(e.policy.ChallengeMinIntervalMs+jitter) * time.Millisecond
	e.nextAt = now.Add(interval)
	e.paused = false
}

// fire activates a challenge. Selection is weighted and cyclic, skipping
// an immediate repeat whenever the catalog has more than one entry.
func (e *Engine) fire(ctx context.Context, now time.Time, payload map[string]any, manual bool) error {
	if len(e.policy.Challenges) == 0 {
		return ErrNoChallenges
	}
	idx := e.pick()
	c := e.policy.Challenges[idx]
	e.lastChallenge = idx
	ttl := time.Duration(e.policy.ChallengeTTLMs) * time.Millisecond
	e.active = &ActiveChallenge{
		Challenge: c,
		FiredAt:   now,
		ExpiresAt: now.Add(ttl),
		Manual:    manual,
		Payload:   payload,
	}
	e.nextAt = time.Time{}
	if e.state != StateUnlocked {
		e.pausedTTL = ttl
		e.paused = true
	}
	metrics.RecordChallengeFired()
	e.log.Info(ctx, "challenge fired",
		logger.String("challenge", c.ID),
		logger.Bool("manual", manual),
	)
	return nil
}

func (e *Engine) pick() int {
	n := len(e.policy.Challenges)
	if n == 1 {
		return 0
	}
	total := 0
	for i, c := range e.policy.Challenges {
		if i == e.lastChallenge {
			continue
		}
		w := c.Weight
		if w <= 0 {
			w = 1
		}
		total += w
	}
	roll := e.rng.Intn(total)
	for i, c := range e.policy.Challenges {
		if i == e.lastChallenge {
			continue
		}
		w := c.Weight
		if w <= 0 {
			w = 1
		}
		roll -= w
		if roll < 0 {
			return i
		}
	}
	return (e.lastChallenge + 1) % n
}

// TriggerChallenge fires a challenge immediately, bypassing the timer.
// Intended for manual and test use.
func (e *Engine) TriggerChallenge(ctx context.Context, payload map[string]any) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.failOpen {
		return ErrNoChallenges
	}
	if e.active != nil {
		return ErrChallengeRunning
	}
	return e.fire(ctx, time.Now(), payload, true)
}

// CompleteChallenge resolves the active challenge and schedules the next.
func (e *Engine) CompleteChallenge(ctx context.Context, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.active == nil {
		return
	}
	e.log.Info(ctx, "challenge completed",
		logger.String("challenge", e.active.Challenge.ID))
	e.active = nil
	e.scheduleNext(now)
}

// Snapshot returns the outbound governance view.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := Snapshot{
		Status:    e.state,
		Offenders: append([]Offender(nil), e.offenders...),
	}
	if e.active != nil {
		c := *e.active
		s.ActiveChallenge = &c
	}
	if !e.nextAt.IsZero() && !e.paused {
		t := e.nextAt
		s.NextChallengeAt = &t
	}
	return s
}

// State returns the current gate state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}
