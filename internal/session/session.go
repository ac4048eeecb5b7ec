// Package session orchestrates one fitness session: start debounce,
// the fixed-cadence tick loop, the autosave loop, and lifecycle.
//
// All mutation of the session's entities and timeline is serialized
// through the session mutex and driven by the single run task; device
// readings arriving asynchronously only enqueue into the current tick
// window's pending payload.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/pedalhouse/engine/internal/adapters/mq/queue"
	"github.com/pedalhouse/engine/internal/adapters/persist"
	"github.com/pedalhouse/engine/internal/domain/entity"
	"github.com/pedalhouse/engine/internal/domain/governance"
	"github.com/pedalhouse/engine/internal/domain/model"
	"github.com/pedalhouse/engine/internal/domain/roster"
	"github.com/pedalhouse/engine/internal/domain/timeline"
	"github.com/pedalhouse/engine/internal/domain/treasure"
	"github.com/pedalhouse/engine/internal/domain/zone"
	"github.com/pedalhouse/engine/pkg/logger"
	"github.com/pedalhouse/engine/pkg/metrics"
)

type phase int

const (
	phaseIdle phase = iota
	phaseArmed
	phaseRunning
	phaseEnded
)

// Session is the orchestrator for one multi-participant fitness session.
type Session struct {
	mu sync.Mutex

	id    string
	phase phase

	// Configuration
	tickInterval     time.Duration
	autosaveInterval time.Duration
	startDebounce    int
	coinUnit         time.Duration
	graceTransfer    time.Duration
	idleAfter        time.Duration
	removeAfter      time.Duration
	emptyAfter       time.Duration
	queueCapacity    int
	maxPoints        int
	policy           *governance.Policy
	profiles         map[string]model.Profile
	deviceOwners     map[string]string

	// Components, built when the session commits to starting.
	reg     *entity.Registry
	devices *roster.DeviceManager
	roster  *roster.Roster
	tl      *timeline.Timeline
	box     *treasure.Box
	gov     *governance.Engine
	intake  *queue.InMemoryQueue
	saver   persist.Sink

	// Start debounce state.
	prestart []model.Reading

	// Runtime state.
	baseCtx   context.Context
	startTime time.Time
	endTime   *time.Time
	lastZones map[string]zone.Zone
	memos     []model.VoiceMemo
	stopCh    chan struct{}
	stopOnce  sync.Once
	doneCh    chan struct{}
	doneOnce  sync.Once
	saving    atomic.Bool

	log logger.Logger
}

// Option applies a configuration option to the Session.
type Option func(*Session)

// WithSink sets the external persistence collaborator.
func WithSink(sink persist.Sink) Option {
	return func(s *Session) {
		if sink != nil {
			s.saver = sink
		}
	}
}

// WithTickInterval sets the timeline cadence.
func WithTickInterval(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.tickInterval = d
		}
	}
}

// WithAutosaveInterval sets the persistence cadence.
func WithAutosaveInterval(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.autosaveInterval = d
		}
	}
}

// WithStartDebounce sets how many consecutive valid readings commit to
// starting the session.
func WithStartDebounce(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.startDebounce = n
		}
	}
}

// WithCoinUnit sets the elapsed time worth one coin.
func WithCoinUnit(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.coinUnit = d
		}
	}
}

// WithGraceTransfer sets the mis-tap grace window for entity merges.
func WithGraceTransfer(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.graceTransfer = d
		}
	}
}

// WithIdleAfter sets the roster idle threshold.
func WithIdleAfter(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.idleAfter = d
		}
	}
}

// WithRemoveAfter sets the roster removal threshold.
func WithRemoveAfter(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.removeAfter = d
		}
	}
}

// WithEmptyRosterEnd sets how long an empty roster is tolerated before
// the session auto-ends.
func WithEmptyRosterEnd(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.emptyAfter = d
		}
	}
}

// WithQueueCapacity bounds the reading intake queue.
func WithQueueCapacity(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.queueCapacity = n
		}
	}
}

// WithMaxTimelinePoints caps the encoded timeline size.
func WithMaxTimelinePoints(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.maxPoints = n
		}
	}
}

// WithPolicy sets the governance policy document.
func WithPolicy(p *governance.Policy) Option {
	return func(s *Session) {
		s.policy = p
	}
}

// WithProfiles installs the read-only profile directory.
func WithProfiles(profiles []model.Profile) Option {
	return func(s *Session) {
		for _, p := range profiles {
			s.profiles[p.ProfileID] = p
		}
	}
}

// WithDeviceOwners pre-binds devices to profile ids.
func WithDeviceOwners(owners map[string]string) Option {
	return func(s *Session) {
		for d, p := range owners {
			s.deviceOwners[d] = p
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(log logger.Logger) Option {
	return func(s *Session) {
		if log != nil {
			s.log = log
		}
	}
}

// New constructs a session with default configuration. The session does
// nothing until Start arms it and the start debounce commits.
func New(opts ...Option) *Session {
	s := &Session{
		id:               "ses-" + uuid.NewString(),
		tickInterval:     5 * time.Second,
		autosaveInterval: 15 * time.Second,
		startDebounce:    3,
		coinUnit:         5 * time.Second,
		graceTransfer:    60 * time.Second,
		idleAfter:        60 * time.Second,
		removeAfter:      180 * time.Second,
		emptyAfter:       60 * time.Second,
		queueCapacity:    4096,
		profiles:         make(map[string]model.Profile),
		deviceOwners:     make(map[string]string),
		lastZones:        make(map[string]zone.Zone),
		stopCh:           make(chan struct{}),
		doneCh:           make(chan struct{}),
		saver:            noopSink{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.Get().Named("session")
	}
	return s
}

// noopSink discards payloads; used when no collaborator is wired.
type noopSink struct{}

func (noopSink) Save(context.Context, *persist.Payload) error { return nil }

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Start arms the session: readings offered from now on count toward the
// start debounce, and the loops begin once it commits. The ctx bounds
// the lifetime of both periodic tasks, so an orphaned timer after
// session end is structurally impossible.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != phaseIdle {
		return ErrAlreadyStarted
	}
	s.baseCtx = ctx
	s.phase = phaseArmed
	s.log.Info(ctx, "session armed",
		logger.String("session", s.id),
		logger.Int("startDebounce", s.startDebounce),
	)
	return nil
}

// Offer submits one device reading. Before the session commits, valid
// readings count toward the start debounce and an invalid one resets
// it; afterwards readings enqueue into the current tick window.
func (s *Session) Offer(ctx context.Context, r model.Reading) bool {
	s.mu.Lock()
	switch s.phase {
	case phaseIdle, phaseEnded:
		s.mu.Unlock()
		metrics.RecordReadingRejected("session_closed")
		return false

	case phaseRunning:
		q := s.intake
		s.mu.Unlock()
		ok := q.Enqueue(ctx, r)
		if ok {
			metrics.RecordReadingIngested()
		}
		return ok

	default: // phaseArmed
		if !r.Valid() {
			s.prestart = s.prestart[:0]
			s.mu.Unlock()
			metrics.RecordReadingRejected("invalid")
			return false
		}
		s.prestart = append(s.prestart, r)
		if len(s.prestart) < s.startDebounce {
			s.mu.Unlock()
			return true
		}
		buffered := s.prestart
		s.prestart = nil
		s.commitLocked(time.Now())
		s.mu.Unlock()

		for _, b := range buffered {
			if s.intake.Enqueue(ctx, b) {
				metrics.RecordReadingIngested()
			}
		}
		return true
	}
}

// commitLocked builds the component graph and starts both loops.
func (s *Session) commitLocked(now time.Time) {
	s.phase = phaseRunning
	s.startTime = now

	s.reg = entity.NewRegistry()
	s.devices = roster.NewDeviceManager()
	s.roster = roster.New(s.reg, s.devices,
		roster.WithDebounce(s.startDebounce),
		roster.WithIdleAfter(s.idleAfter),
		roster.WithRemoveAfter(s.removeAfter),
		roster.WithLogger(s.log.Named("roster")),
	)
	for deviceID, profileID := range s.deviceOwners {
		s.roster.BindOwner(deviceID, profileID)
	}

	tlOpts := []timeline.Option{}
	if s.maxPoints > 0 {
		tlOpts = append(tlOpts, timeline.WithMaxPoints(s.maxPoints))
	}
	s.tl = timeline.New(now, s.tickInterval, tlOpts...)
	s.box = treasure.New(s.reg, treasure.WithCoinUnit(s.coinUnit))
	s.gov = governance.New(s.policy,
		governance.WithTickInterval(s.tickInterval),
		governance.WithLogger(s.log.Named("governance")),
	)
	s.intake = queue.NewInMemoryQueue(queue.WithCapacity(s.queueCapacity))

	go s.run(s.baseCtx)

	s.log.Info(s.baseCtx, "session started",
		logger.String("session", s.id),
		logger.Int64("tickIntervalMs", s.tickInterval.Milliseconds()),
		logger.Int64("autosaveIntervalMs", s.autosaveInterval.Milliseconds()),
	)
}

// run drives the tick and autosave cadences until the session ends or
// the context is cancelled.
func (s *Session) run(ctx context.Context) {
	defer s.doneOnce.Do(func() { close(s.doneCh) })

	tick := time.NewTicker(s.tickInterval)
	defer tick.Stop()
	save := time.NewTicker(s.autosaveInterval)
	defer save.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case now := <-tick.C:
			if final := s.tickOnce(ctx, now); final != nil {
				_ = s.flush(ctx, final)
				return
			}
		case <-save.C:
			s.autosave(ctx)
		}
	}
}

// tickOnce folds one window. It returns a final payload when the fold
// auto-ended the session (empty roster timeout).
func (s *Session) tickOnce(ctx context.Context, now time.Time) *persist.Payload {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != phaseRunning {
		return nil
	}
	s.foldLocked(ctx, now)

	if s.emptyAfter > 0 && s.roster.EmptyFor(now) >= s.emptyAfter {
		s.log.Info(ctx, "roster empty past threshold, ending session",
			logger.String("session", s.id))
		return s.finishLocked(ctx, now, "empty_roster")
	}
	return nil
}

// foldLocked folds the pending readings into exactly one timeline tick,
// advances the treasure box, and re-evaluates governance.
func (s *Session) foldLocked(ctx context.Context, now time.Time) {
	start := time.Now()

	perEntity := make(map[string]map[model.Metric]float64)
	for _, r := range s.intake.Drain() {
		entityID, created, err := s.roster.RegisterReading(ctx, r)
		if err != nil {
			s.log.Warn(ctx, "reading rejected", logger.Error(err))
			continue
		}
		if created {
			_ = s.tl.RecordEvent("participant_joined", "roster", map[string]any{
				"entityId": entityID,
				"deviceId": r.DeviceID,
			})
			metrics.RecordTimelineEvent()
		}
		if entityID == "" {
			continue // still debouncing
		}
		m, ok := perEntity[entityID]
		if !ok {
			m = make(map[model.Metric]float64)
			perEntity[entityID] = m
		}
		m[r.Metric] = r.Value // last reading in the window wins
	}

	for _, id := range s.roster.Sweep(ctx, now) {
		delete(s.lastZones, id)
		_ = s.tl.RecordEvent("participant_removed", "roster", map[string]any{"entityId": id})
		metrics.RecordTimelineEvent()
	}

	participants := s.roster.Participants()
	payload := make(map[string]timeline.Value)
	pzs := make([]governance.ParticipantZone, 0, len(participants))
	for _, p := range participants {
		vals := perEntity[p.EntityID]
		if hr, ok := vals[model.MetricHeartRate]; ok {
			z := zone.Classify(hr, s.profileOf(ctx, p.ProfileID))
			s.lastZones[p.EntityID] = z
			payload[s.seriesKey(ctx, p, timeline.PrimaryBiometric)] = hr
			payload[s.seriesKey(ctx, p, timeline.ZoneMetric)] = z.StorageTier()
			if _, err := s.box.Tick(p.EntityID, z, s.tickInterval); err != nil {
				s.log.Warn(ctx, "coin credit failed",
					logger.String("entity", p.EntityID), logger.Error(err))
			}
		}
		if cad, ok := vals[model.MetricCadence]; ok {
			payload[s.seriesKey(ctx, p, "cadence")] = cad
		}
		if pw, ok := vals[model.MetricPower]; ok {
			payload[s.seriesKey(ctx, p, "power")] = pw
		}

		z, ok := s.lastZones[p.EntityID]
		if !ok {
			z = zone.Cool
		}
		pzs = append(pzs, governance.ParticipantZone{
			EntityID:  p.EntityID,
			ProfileID: p.ProfileID,
			Zone:      z,
		})
	}
	payload[timeline.Key(timeline.EntityTypeSession, "global", "participants")] = len(participants)

	if err := s.tl.Tick(payload); err != nil {
		s.log.Error(ctx, "timeline tick failed", logger.Error(err))
		return
	}
	metrics.RecordTick()
	metrics.UpdateRosterSize(len(participants))

	s.gov.Evaluate(ctx, now, pzs)
	metrics.RecordTickLatency(float64(time.Since(start).Milliseconds()))
}

// seriesKey resolves the timeline key for a participant's metric.
// A participant without an entity id degrades to profile keying with a
// logged warning instead of crashing the tick loop.
func (s *Session) seriesKey(ctx context.Context, p roster.Participant, metric string) string {
	if p.EntityID != "" {
		return timeline.EntityKey(p.EntityID, metric)
	}
	if p.ProfileID != nil {
		s.log.Warn(ctx, "participant without entity id, keying series by profile",
			logger.String("profile", *p.ProfileID))
		return timeline.Key("profile", *p.ProfileID, metric)
	}
	s.log.Warn(ctx, "participant without entity or profile id, keying series by device",
		logger.String("device", p.DeviceID))
	return timeline.Key("device", p.DeviceID, metric)
}

// profileOf resolves the directory entry for a profile id. A missing
// entry degrades to guest thresholds with a logged warning.
func (s *Session) profileOf(ctx context.Context, profileID *string) *model.Profile {
	if profileID == nil {
		return nil
	}
	p, ok := s.profiles[*profileID]
	if !ok {
		s.log.Warn(ctx, "profile missing from directory, using guest thresholds",
			logger.String("profile", *profileID))
		return nil
	}
	return &p
}
