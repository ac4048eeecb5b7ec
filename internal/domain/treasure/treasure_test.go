package treasure_test

import (
	"testing"
	"time"

	"github.com/pedalhouse/engine/internal/domain/entity"
	"github.com/pedalhouse/engine/internal/domain/treasure"
	"github.com/pedalhouse/engine/internal/domain/zone"
	. "github.com/smartystreets/goconvey/convey"
)

func TestTick(t *testing.T) {
	Convey("Given a box with a 5s coin unit", t, func() {
		reg := entity.NewRegistry()
		e, _ := reg.Create(nil, "hrm-1", time.Now())
		box := treasure.New(reg, treasure.WithCoinUnit(5*time.Second))

		Convey("When ticking one full window", func() {
			coins, err := box.Tick(e.ID, zone.Warm, 5*time.Second)
			So(err, ShouldBeNil)
			So(coins, ShouldEqual, 1)

			got, _ := reg.Get(e.ID)
			So(got.Coins, ShouldEqual, 1)

			s := box.Summary()
			So(s.TotalCoins, ShouldEqual, 1)
			So(s.Buckets["warm"], ShouldEqual, 1)
		})

		Convey("When elapsed time rounds", func() {
			coins, err := box.Tick(e.ID, zone.Hot, 12*time.Second)
			So(err, ShouldBeNil)
			So(coins, ShouldEqual, 2)

			coins, err = box.Tick(e.ID, zone.Hot, 2*time.Second)
			So(err, ShouldBeNil)
			So(coins, ShouldEqual, 0)
		})

		Convey("When accumulating across zones", func() {
			_, _ = box.Tick(e.ID, zone.Warm, 10*time.Second)
			_, _ = box.Tick(e.ID, zone.Fire, 5*time.Second)

			s := box.Summary()
			So(s.TotalCoins, ShouldEqual, 3)
			So(s.Buckets["warm"], ShouldEqual, 2)
			So(s.Buckets["fire"], ShouldEqual, 1)
		})

		Convey("When the entity has ended", func() {
			So(reg.End(e.ID, time.Now(), "removed"), ShouldBeNil)
			coins, err := box.Tick(e.ID, zone.Warm, 5*time.Second)
			So(err, ShouldWrap, entity.ErrEntityEnded)
			So(coins, ShouldEqual, 0)

			Convey("Then the buckets stay untouched", func() {
				So(box.Summary().TotalCoins, ShouldEqual, 0)
			})
		})
	})
}

func TestMonotone(t *testing.T) {
	Convey("Given a sequence of ticks", t, func() {
		reg := entity.NewRegistry()
		e, _ := reg.Create(nil, "hrm-1", time.Now())
		box := treasure.New(reg)

		Convey("Then the entity total never decreases", func() {
			last := 0
			for i := 0; i < 10; i++ {
				_, err := box.Tick(e.ID, zone.Active, 5*time.Second)
				So(err, ShouldBeNil)
				got, _ := reg.Get(e.ID)
				So(got.Coins, ShouldBeGreaterThanOrEqualTo, last)
				last = got.Coins
			}
			So(last, ShouldEqual, 10)
		})
	})
}
