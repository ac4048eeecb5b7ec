package session

import (
	"context"
	"errors"
	"time"

	"github.com/pedalhouse/engine/internal/adapters/persist"
	"github.com/pedalhouse/engine/internal/domain/entity"
	"github.com/pedalhouse/engine/internal/domain/governance"
	"github.com/pedalhouse/engine/internal/domain/model"
	"github.com/pedalhouse/engine/internal/domain/timeline"
	"github.com/pedalhouse/engine/internal/domain/treasure"
	"github.com/pedalhouse/engine/internal/domain/zone"
	"github.com/pedalhouse/engine/pkg/logger"
	"github.com/pedalhouse/engine/pkg/metrics"
)

// End stops the session: one final fold of pending readings, ending of
// all active entities, a synchronous final save, then the timeline
// freezes. Ending an ended session is a no-op.
func (s *Session) End(ctx context.Context, reason string) error {
	s.mu.Lock()
	if s.phase == phaseEnded {
		s.mu.Unlock()
		return nil
	}
	if s.phase != phaseRunning {
		// Armed but never committed: nothing to persist.
		s.phase = phaseEnded
		s.stopOnce.Do(func() { close(s.stopCh) })
		s.doneOnce.Do(func() { close(s.doneCh) })
		s.mu.Unlock()
		return nil
	}
	now := time.Now()
	s.foldLocked(ctx, now)
	p := s.finishLocked(ctx, now, reason)
	s.mu.Unlock()

	return s.flush(ctx, p)
}

// Done is closed once the run loop has exited (or the session ended
// before ever committing).
func (s *Session) Done() <-chan struct{} { return s.doneCh }

// Running reports whether the session has committed and not yet ended.
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase == phaseRunning
}

// finishLocked transitions to the ended phase: entities end, the final
// payload is built, and the timeline freezes. The caller still holds
// the mutex; the returned payload is flushed outside it.
func (s *Session) finishLocked(ctx context.Context, now time.Time, reason string) *persist.Payload {
	s.phase = phaseEnded
	s.endTime = &now
	s.stopOnce.Do(func() { close(s.stopCh) })

	// Snapshot the roster before entities end so the final record names
	// the session's participants.
	finalRoster := s.rosterEntriesLocked()

	for _, e := range s.reg.All() {
		if e.Ended() {
			continue
		}
		if err := s.reg.End(e.ID, now, "session_end"); err != nil {
			s.log.Warn(ctx, "failed to end entity at session end",
				logger.String("entity", e.ID), logger.Error(err))
			continue
		}
		metrics.RecordEntityEnded("session_end")
	}
	_ = s.intake.Close()

	p, err := s.buildPayloadLocked(ctx)
	if p != nil {
		p.Roster = finalRoster
	}
	s.tl.Freeze()

	s.log.Info(ctx, "session ended",
		logger.String("session", s.id),
		logger.String("reason", reason),
		logger.Int64("durationMs", s.tl.Duration().Milliseconds()),
		logger.Int("ticks", s.tl.TickCount()),
	)
	if err != nil {
		return nil
	}
	return p
}

// autosave persists a point-in-time snapshot without blocking the tick
// loop: the payload builds under the mutex, the save runs detached. At
// most one save is in flight; an overlapping cadence tick is skipped.
func (s *Session) autosave(ctx context.Context) {
	s.mu.Lock()
	if s.phase != phaseRunning {
		s.mu.Unlock()
		return
	}
	p, err := s.buildPayloadLocked(ctx)
	s.mu.Unlock()
	if err != nil {
		return
	}

	if !s.saving.CompareAndSwap(false, true) {
		s.log.Debug(ctx, "autosave skipped, previous save still in flight",
			logger.String("session", s.id))
		return
	}
	go func() {
		defer s.saving.Store(false)
		_ = s.flush(s.baseCtx, p)
	}()
}

// flush validates and hands a payload to the sink. Rejections and sink
// failures are logged and counted; they never propagate into the tick
// loop.
func (s *Session) flush(ctx context.Context, p *persist.Payload) error {
	if p == nil {
		return nil
	}
	if err := persist.Validate(p); err != nil {
		var ve *persist.ValidationError
		if errors.As(err, &ve) {
			s.log.Warn(ctx, "persistence payload rejected",
				logger.String("session", s.id),
				logger.String("code", ve.Code),
				logger.String("detail", ve.Detail),
			)
		} else {
			s.log.Warn(ctx, "persistence payload rejected", logger.Error(err))
		}
		return err
	}

	if err := s.saver.Save(ctx, p); err != nil {
		s.log.Error(ctx, "save failed",
			logger.String("session", s.id), logger.Error(err))
		return err
	}
	return nil
}

// buildPayloadLocked assembles the persistence document. Duration is
// always tickCount x interval; the wall-clock end time is informational.
func (s *Session) buildPayloadLocked(ctx context.Context) (*persist.Payload, error) {
	enc, err := s.tl.Encode()
	if err != nil {
		code := persist.CodeSeriesTickMismatch
		if errors.Is(err, timeline.ErrSeriesSizeCap) {
			code = persist.CodeSeriesSizeCap
		}
		metrics.RecordValidationReject(code)
		s.log.Error(ctx, "timeline encode failed",
			logger.String("session", s.id), logger.Error(err))
		return nil, err
	}

	size := 0
	for _, rle := range enc.Series {
		size += len(rle)
	}
	metrics.RecordEncodedSeriesSize(size)

	return &persist.Payload{
		SessionID:         s.id,
		StartTime:         s.startTime,
		EndTime:           s.endTime,
		DurationMs:        s.tl.Duration().Milliseconds(),
		Roster:            s.rosterEntriesLocked(),
		DeviceAssignments: s.deviceAssignmentsLocked(),
		TreasureBox:       s.box.Summary(),
		Timeline:          enc,
		VoiceMemos:        append([]model.VoiceMemo(nil), s.memos...),
	}, nil
}

// rosterEntriesLocked projects the roster for display and persistence.
// IsActive derives from the primary biometric series at the last tick,
// never from a separately maintained flag.
func (s *Session) rosterEntriesLocked() []model.RosterEntry {
	participants := s.roster.Participants()
	out := make([]model.RosterEntry, 0, len(participants))
	last := s.tl.TickCount() - 1
	for _, p := range participants {
		z, ok := s.lastZones[p.EntityID]
		if !ok {
			z = zone.Cool
		}
		out = append(out, model.RosterEntry{
			EntityID:  p.EntityID,
			ProfileID: p.ProfileID,
			DeviceID:  p.DeviceID,
			IsActive:  s.tl.ActiveAt(p.EntityID, last),
			ZoneID:    string(z),
			ZoneColor: z.Color(),
		})
	}
	return out
}

// deviceAssignmentsLocked derives occupancy spans from entity lifetimes.
func (s *Session) deviceAssignmentsLocked() []model.DeviceAssignment {
	all := s.reg.All()
	out := make([]model.DeviceAssignment, 0, len(all))
	for _, e := range all {
		out = append(out, model.DeviceAssignment{
			DeviceID:   e.DeviceID,
			EntityID:   e.ID,
			ProfileID:  e.ProfileID,
			AssignedAt: e.StartTime,
			ReleasedAt: e.EndTime,
		})
	}
	return out
}

// AssignGuest hands a device to a guest mid-session. The previous
// occupant's entity ends; if it qualifies for the mis-tap grace window
// its coins and series merge into the fresh entity instead.
func (s *Session) AssignGuest(ctx context.Context, deviceID string, guestProfileID *string) (string, error) {
	return s.reassign(ctx, deviceID, func(now time.Time) (rosterAssignment, error) {
		a, err := s.roster.AssignGuest(ctx, deviceID, guestProfileID, now)
		return rosterAssignment(a), err
	}, "guest_assigned")
}

// ReclaimDevice returns a device to a profile with a brand-new entity.
func (s *Session) ReclaimDevice(ctx context.Context, deviceID, profileID string) (string, error) {
	return s.reassign(ctx, deviceID, func(now time.Time) (rosterAssignment, error) {
		a, err := s.roster.ReclaimDevice(ctx, deviceID, profileID, now)
		return rosterAssignment(a), err
	}, "reclaimed")
}

type rosterAssignment struct {
	DeviceID  string
	EndedID   string
	CreatedID string
}

func (s *Session) reassign(ctx context.Context, deviceID string, do func(time.Time) (rosterAssignment, error), event string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != phaseRunning {
		return "", ErrNotRunning
	}
	now := time.Now()
	a, err := do(now)
	if err != nil {
		return "", err
	}

	if a.EndedID != "" {
		succ, moved, terr := s.reg.TransferGraceWindow(a.EndedID, s.graceTransfer)
		switch {
		case terr == nil:
			s.tl.TransferEntitySeries(a.EndedID, succ)
			if z, ok := s.lastZones[a.EndedID]; ok {
				s.lastZones[succ] = z
			}
			_ = s.tl.RecordEvent("grace_transfer", "registry", map[string]any{
				"from":  a.EndedID,
				"to":    succ,
				"coins": moved,
			})
			metrics.RecordTimelineEvent()
			s.log.Info(ctx, "grace window transfer",
				logger.String("from", a.EndedID),
				logger.String("to", succ),
				logger.Int("coins", moved),
			)
		case errors.Is(terr, entity.ErrGraceIneligible):
			// Normal handoff; the ended entity keeps its record.
		default:
			s.log.Warn(ctx, "grace transfer failed", logger.Error(terr))
		}
		delete(s.lastZones, a.EndedID)
	}

	_ = s.tl.RecordEvent(event, "roster", map[string]any{
		"deviceId": a.DeviceID,
		"ended":    a.EndedID,
		"created":  a.CreatedID,
	})
	metrics.RecordTimelineEvent()
	return a.CreatedID, nil
}

// AddVoiceMemo attaches a memo recorded by an external collaborator.
func (s *Session) AddVoiceMemo(memo model.VoiceMemo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != phaseRunning {
		return ErrNotRunning
	}
	s.memos = append(s.memos, memo)
	_ = s.tl.RecordEvent("voice_memo", "recorder", map[string]any{
		"id":         memo.ID,
		"durationMs": memo.DurationMs,
	})
	metrics.RecordTimelineEvent()
	return nil
}

// TriggerChallenge fires a challenge immediately, out of schedule.
func (s *Session) TriggerChallenge(ctx context.Context, payload map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != phaseRunning {
		return ErrNotRunning
	}
	return s.gov.TriggerChallenge(ctx, payload)
}

// CompleteChallenge resolves the active challenge.
func (s *Session) CompleteChallenge(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != phaseRunning {
		return ErrNotRunning
	}
	s.gov.CompleteChallenge(ctx, time.Now())
	return nil
}

// GovernanceSnapshot returns the current gate view for UI and lighting.
func (s *Session) GovernanceSnapshot() governance.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gov == nil {
		return governance.Snapshot{Status: governance.StatePending}
	}
	return s.gov.Snapshot()
}

// RosterEntries returns the current display roster.
func (s *Session) RosterEntries() []model.RosterEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != phaseRunning && s.phase != phaseEnded || s.roster == nil {
		return nil
	}
	return s.rosterEntriesLocked()
}

// TreasureSummary returns current coin totals.
func (s *Session) TreasureSummary() treasure.Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.box == nil {
		return treasure.Summary{}
	}
	return s.box.Summary()
}

// ProfileAggregate sums coins and duration across every entity the
// profile held during this session.
func (s *Session) ProfileAggregate(profileID string) entity.Aggregate {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.reg == nil {
		return entity.Aggregate{ProfileID: profileID}
	}
	return s.reg.ProfileAggregate(profileID)
}

// Duration returns the session duration derived from committed ticks.
func (s *Session) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tl == nil {
		return 0
	}
	return s.tl.Duration()
}
