package roster_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/pedalhouse/engine/internal/domain/entity"
	"github.com/pedalhouse/engine/internal/domain/model"
	"github.com/pedalhouse/engine/internal/domain/roster"
	"github.com/pedalhouse/engine/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMain(m *testing.M) {
	if err := logger.Init(); err != nil {
		os.Exit(1)
	}
	os.Exit(m.Run())
}

func hr(device string, bpm float64, at time.Time) model.Reading {
	return model.Reading{DeviceID: device, Metric: model.MetricHeartRate, Value: bpm, Timestamp: at}
}

func TestDebounce(t *testing.T) {
	Convey("Given a roster with a 3-reading debounce", t, func() {
		reg := entity.NewRegistry()
		r := roster.New(reg, roster.NewDeviceManager(), roster.WithDebounce(3))
		ctx := context.Background()
		now := time.Now()

		Convey("Then one or two readings do not occupy the device", func() {
			id, created, err := r.RegisterReading(ctx, hr("hrm-1", 110, now))
			So(err, ShouldBeNil)
			So(created, ShouldBeFalse)
			So(id, ShouldBeEmpty)

			id, created, _ = r.RegisterReading(ctx, hr("hrm-1", 111, now.Add(time.Second)))
			So(created, ShouldBeFalse)
			So(id, ShouldBeEmpty)

			Convey("And the third consecutive valid reading creates the entity", func() {
				id, created, err = r.RegisterReading(ctx, hr("hrm-1", 112, now.Add(2*time.Second)))
				So(err, ShouldBeNil)
				So(created, ShouldBeTrue)
				So(id, ShouldNotBeEmpty)

				Convey("Then later readings resolve to the same entity", func() {
					again, created, err := r.RegisterReading(ctx, hr("hrm-1", 115, now.Add(3*time.Second)))
					So(err, ShouldBeNil)
					So(created, ShouldBeFalse)
					So(again, ShouldEqual, id)
				})
			})
		})

		Convey("When a reading is implausible", func() {
			_, _, err := r.RegisterReading(ctx, hr("hrm-1", 600, now))
			So(err, ShouldWrap, roster.ErrInvalidReading)
		})

		Convey("When an implausible reading interrupts the run", func() {
			_, _, _ = r.RegisterReading(ctx, hr("hrm-1", 110, now))
			_, _, _ = r.RegisterReading(ctx, hr("hrm-1", 111, now.Add(time.Second)))
			_, _, err := r.RegisterReading(ctx, hr("hrm-1", 600, now.Add(2*time.Second)))
			So(err, ShouldWrap, roster.ErrInvalidReading)

			Convey("Then the next valid reading starts the count over", func() {
				id, created, err := r.RegisterReading(ctx, hr("hrm-1", 112, now.Add(3*time.Second)))
				So(err, ShouldBeNil)
				So(created, ShouldBeFalse)
				So(id, ShouldBeEmpty)

				Convey("And three fresh valid readings still create one", func() {
					_, created, _ = r.RegisterReading(ctx, hr("hrm-1", 113, now.Add(4*time.Second)))
					So(created, ShouldBeFalse)
					id, created, err = r.RegisterReading(ctx, hr("hrm-1", 114, now.Add(5*time.Second)))
					So(err, ShouldBeNil)
					So(created, ShouldBeTrue)
					So(id, ShouldNotBeEmpty)
				})
			})
		})

		Convey("When a device is pre-bound to an owner", func() {
			r.BindOwner("hrm-2", "alice")
			for i := 0; i < 3; i++ {
				_, _, _ = r.RegisterReading(ctx, hr("hrm-2", 100+float64(i), now.Add(time.Duration(i)*time.Second)))
			}
			parts := r.Participants()
			So(parts, ShouldHaveLength, 1)
			So(*parts[0].ProfileID, ShouldEqual, "alice")
		})
	})
}

func occupy(r *roster.Roster, device string, start time.Time) string {
	var id string
	for i := 0; i < 3; i++ {
		id, _, _ = r.RegisterReading(context.Background(), hr(device, 100, start.Add(time.Duration(i)*time.Second)))
	}
	So(id, ShouldNotBeEmpty)
	return id
}

func TestGuestHandoff(t *testing.T) {
	Convey("Given an occupied device", t, func() {
		reg := entity.NewRegistry()
		r := roster.New(reg, roster.NewDeviceManager())
		ctx := context.Background()
		now := time.Now()

		r.BindOwner("hrm-1", "owner")
		ownerID := occupy(r, "hrm-1", now)
		So(reg.AddCoins(ownerID, 50), ShouldBeNil)

		Convey("When a guest takes over", func() {
			a, err := r.AssignGuest(ctx, "hrm-1", nil, now.Add(time.Minute))
			So(err, ShouldBeNil)
			So(a.EndedID, ShouldEqual, ownerID)
			So(a.CreatedID, ShouldNotBeEmpty)

			Convey("Then the guest entity starts at zero", func() {
				guest, _ := reg.Get(a.CreatedID)
				So(guest.Coins, ShouldEqual, 0)
				So(guest.ProfileID, ShouldBeNil)
			})

			Convey("And the owner's reclaim entity also starts at zero", func() {
				_ = mustAddCoins(reg, a.CreatedID, 20)

				b, err := r.ReclaimDevice(ctx, "hrm-1", "owner", now.Add(2*time.Minute))
				So(err, ShouldBeNil)
				So(b.EndedID, ShouldEqual, a.CreatedID)

				reclaimed, _ := reg.Get(b.CreatedID)
				So(reclaimed.Coins, ShouldEqual, 0)
				So(*reclaimed.ProfileID, ShouldEqual, "owner")

				Convey("And the owner aggregate only sums the owner's entities", func() {
					So(mustAddCoins(reg, b.CreatedID, 8), ShouldBeNil)
					agg := reg.ProfileAggregate("owner")
					So(agg.Coins, ShouldEqual, 58)
					So(agg.Entities, ShouldEqual, 2)
				})
			})
		})
	})
}

func mustAddCoins(reg *entity.Registry, id string, n int) error {
	return reg.AddCoins(id, n)
}

func TestEscalationLadder(t *testing.T) {
	Convey("Given a roster with 60s idle and 180s removal", t, func() {
		reg := entity.NewRegistry()
		dm := roster.NewDeviceManager()
		r := roster.New(reg, dm,
			roster.WithIdleAfter(60*time.Second),
			roster.WithRemoveAfter(180*time.Second),
		)
		ctx := context.Background()
		now := time.Now()
		id := occupy(r, "hrm-1", now)

		Convey("When the device goes silent for 90 seconds", func() {
			removed := r.Sweep(ctx, now.Add(90*time.Second))
			So(removed, ShouldBeEmpty)

			Convey("Then the participant is idle but still present", func() {
				parts := r.Participants()
				So(parts, ShouldHaveLength, 1)
				So(parts[0].Idle, ShouldBeTrue)
			})
		})

		Convey("When silence exceeds the removal threshold", func() {
			removed := r.Sweep(ctx, now.Add(200*time.Second))
			So(removed, ShouldResemble, []string{id})

			Convey("Then the entity is ended and the roster empties", func() {
				e, _ := reg.Get(id)
				So(e.Ended(), ShouldBeTrue)
				So(e.EndReason, ShouldEqual, "inactive")
				So(r.Participants(), ShouldBeEmpty)
			})

			Convey("And EmptyFor grows from the sweep that emptied it", func() {
				So(r.EmptyFor(now.Add(200*time.Second)), ShouldEqual, 0)
				So(r.EmptyFor(now.Add(260*time.Second)), ShouldEqual, 60*time.Second)
			})
		})

		Convey("When the device keeps reporting", func() {
			_, _, _ = r.RegisterReading(ctx, hr("hrm-1", 120, now.Add(170*time.Second)))
			removed := r.Sweep(ctx, now.Add(180*time.Second))
			So(removed, ShouldBeEmpty)
		})
	})
}
