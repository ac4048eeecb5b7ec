package zone_test

import (
	"testing"

	"github.com/pedalhouse/engine/internal/domain/model"
	"github.com/pedalhouse/engine/internal/domain/zone"
	. "github.com/smartystreets/goconvey/convey"
)

func TestClassify(t *testing.T) {
	Convey("Given a profile with a 200 bpm max heart rate", t, func() {
		p := &model.Profile{ProfileID: "p1", MaxHeartRate: 200}

		Convey("Then default fractions place the cutoffs at 120/140/160/180", func() {
			So(zone.Classify(100, p), ShouldEqual, zone.Cool)
			So(zone.Classify(120, p), ShouldEqual, zone.Active)
			So(zone.Classify(140, p), ShouldEqual, zone.Warm)
			So(zone.Classify(160, p), ShouldEqual, zone.Hot)
			So(zone.Classify(180, p), ShouldEqual, zone.Fire)
		})

		Convey("And explicit bpm thresholds override the fractions", func() {
			p.WarmBPM = 130
			So(zone.Classify(131, p), ShouldEqual, zone.Warm)
		})
	})

	Convey("Given no profile", t, func() {
		Convey("Then guest defaults apply", func() {
			So(zone.Classify(60, nil), ShouldEqual, zone.Cool)
			So(zone.Classify(190*0.9, nil), ShouldEqual, zone.Fire)
		})
	})
}

func TestSymbolRoundTrip(t *testing.T) {
	Convey("Given the four storage tiers", t, func() {
		for _, z := range []zone.Zone{zone.Cool, zone.Active, zone.Warm, zone.Hot} {
			s, err := z.Symbol()
			So(err, ShouldBeNil)
			So(len(s), ShouldEqual, 1)

			back, err := zone.FromSymbol(s)
			So(err, ShouldBeNil)
			So(back, ShouldEqual, z)
		}
	})

	Convey("Given fire", t, func() {
		Convey("Then it stores as the hot symbol", func() {
			s, err := zone.Fire.Symbol()
			So(err, ShouldBeNil)
			So(s, ShouldEqual, "h")
			So(zone.Fire.StorageTier(), ShouldEqual, zone.Hot)
		})
	})

	Convey("Given an unknown symbol", t, func() {
		_, err := zone.FromSymbol("x")
		So(err, ShouldEqual, zone.ErrUnknownSymbol)
	})
}

func TestPriority(t *testing.T) {
	Convey("Given the ladder", t, func() {
		So(zone.Fire.AtLeast(zone.Hot), ShouldBeTrue)
		So(zone.Warm.AtLeast(zone.Hot), ShouldBeFalse)
		So(zone.Cool.Priority(), ShouldEqual, 0)
		So(zone.Fire.Priority(), ShouldEqual, 4)
		So(zone.Zone("nope").Priority(), ShouldEqual, -1)
	})
}
