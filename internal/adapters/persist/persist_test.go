package persist_test

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pedalhouse/engine/internal/adapters/persist"
	"github.com/pedalhouse/engine/internal/domain/model"
	"github.com/pedalhouse/engine/internal/domain/timeline"
	"github.com/pedalhouse/engine/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMain(m *testing.M) {
	if err := logger.Init(); err != nil {
		os.Exit(1)
	}
	os.Exit(m.Run())
}

func validPayload() *persist.Payload {
	tl := timeline.New(time.Now(), 5*time.Second)
	for i := 0; i < 3; i++ {
		if err := tl.Tick(map[string]timeline.Value{"entity:e1:heart_rate": 100.0}); err != nil {
			panic(err)
		}
	}
	enc, err := tl.Encode()
	if err != nil {
		panic(err)
	}
	return &persist.Payload{
		SessionID:         "ses-1",
		StartTime:         time.Now().Add(-time.Minute),
		DurationMs:        15_000,
		Roster:            []model.RosterEntry{},
		DeviceAssignments: []model.DeviceAssignment{},
		Timeline:          enc,
	}
}

func TestValidate(t *testing.T) {
	Convey("Given a well-formed payload", t, func() {
		So(persist.Validate(validPayload()), ShouldBeNil)
	})

	Convey("Given structural defects", t, func() {
		cases := []struct {
			name string
			mut  func(*persist.Payload)
			code string
		}{
			{"no session id", func(p *persist.Payload) { p.SessionID = "" }, persist.CodeMissingSession},
			{"zero start time", func(p *persist.Payload) { p.StartTime = time.Time{} }, persist.CodeInvalidStartTime},
			{"nil roster", func(p *persist.Payload) { p.Roster = nil }, persist.CodeRosterRequired},
			{"nil assignments", func(p *persist.Payload) { p.DeviceAssignments = nil }, persist.CodeAssignmentsRequired},
		}
		for _, tc := range cases {
			Convey("Then "+tc.name+" is rejected", func() {
				p := validPayload()
				tc.mut(p)
				err := persist.Validate(p)
				var verr *persist.ValidationError
				So(errors.As(err, &verr), ShouldBeTrue)
				So(verr.Code, ShouldEqual, tc.code)
			})
		}
	})

	Convey("Given a short and empty session", t, func() {
		p := validPayload()
		p.DurationMs = 9_999
		p.Timeline = nil

		err := persist.Validate(p)
		var verr *persist.ValidationError
		So(errors.As(err, &verr), ShouldBeTrue)
		So(verr.Code, ShouldEqual, persist.CodeSessionTooShortEmpty)

		Convey("But one voice memo just over the bar is accepted", func() {
			p.DurationMs = 10_001
			So(persist.Validate(p), ShouldBeNil)

			p.DurationMs = 9_999
			p.VoiceMemos = []model.VoiceMemo{{ID: "memo-1", RecordedAt: time.Now()}}
			So(persist.Validate(p), ShouldBeNil)
		})
	})

	Convey("Given a series whose points disagree with the tick count", t, func() {
		p := validPayload()
		p.Timeline.Series["entity:e1:heart_rate"] = "100*2"

		err := persist.Validate(p)
		var verr *persist.ValidationError
		So(errors.As(err, &verr), ShouldBeTrue)
		So(verr.Code, ShouldEqual, persist.CodeSeriesTickMismatch)
	})

	Convey("Given a payload over the size cap", t, func() {
		p := validPayload()
		p.Timeline.Timebase.TickCount = 300_000
		p.Timeline.Series["entity:e1:heart_rate"] = "100*300000"

		err := persist.Validate(p)
		var verr *persist.ValidationError
		So(errors.As(err, &verr), ShouldBeTrue)
		So(verr.Code, ShouldEqual, persist.CodeSeriesSizeCap)
	})
}

type flakySink struct {
	failures int32
	saves    int32
}

func (s *flakySink) Save(ctx context.Context, p *persist.Payload) error {
	n := atomic.AddInt32(&s.saves, 1)
	if n <= s.failures {
		return errors.New("disk on fire")
	}
	return nil
}

func TestRetrier(t *testing.T) {
	Convey("Given a sink that fails twice before succeeding", t, func() {
		sink := &flakySink{failures: 2}
		r := persist.NewRetrier(sink,
			persist.WithMaxAttempts(4),
			persist.WithBaseDelay(time.Millisecond),
		)

		Convey("Then Save eventually succeeds", func() {
			So(r.Save(context.Background(), validPayload()), ShouldBeNil)
			So(atomic.LoadInt32(&sink.saves), ShouldEqual, 3)
		})
	})

	Convey("Given a sink that always fails", t, func() {
		sink := &flakySink{failures: 1 << 30}
		r := persist.NewRetrier(sink,
			persist.WithMaxAttempts(3),
			persist.WithBaseDelay(time.Millisecond),
		)

		Convey("Then Save reports the exhaustion without panicking", func() {
			err := r.Save(context.Background(), validPayload())
			So(err, ShouldNotBeNil)
			So(atomic.LoadInt32(&sink.saves), ShouldEqual, 3)
		})
	})

	Convey("Given a cancelled context", t, func() {
		sink := &flakySink{failures: 1 << 30}
		r := persist.NewRetrier(sink,
			persist.WithMaxAttempts(5),
			persist.WithBaseDelay(50*time.Millisecond),
		)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		Convey("Then retrying stops at the first backoff", func() {
			err := r.Save(ctx, validPayload())
			So(err, ShouldNotBeNil)
			So(atomic.LoadInt32(&sink.saves), ShouldEqual, 1)
		})
	})
}
