package domain

import (
	"errors"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestSchedule(t *testing.T) {
	Convey("Given a Schedule", t, func() {
		now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

		Convey("Every 6 hours", func() {
			s := Every(6, UnitHours)

			Convey("It should be enabled with a 6h interval", func() {
				So(s.Enabled(), ShouldBeTrue)
				So(s.Interval(), ShouldEqual, 6*time.Hour)
				So(s.String(), ShouldEqual, "every 6 hour(s)")
			})

			Convey("A run 5h ago should be due in one hour", func() {
				next := s.Next(now.Add(-5 * time.Hour))
				So(next, ShouldEqual, now.Add(time.Hour))
				So(next.After(now), ShouldBeTrue)
			})

			Convey("A run 7h ago should already be due", func() {
				next := s.Next(now.Add(-7 * time.Hour))
				So(next.After(now), ShouldBeFalse)
			})
		})

		Convey("Minutes and days units", func() {
			So(Every(15, UnitMinutes).Interval(), ShouldEqual, 15*time.Minute)
			So(Every(2, UnitDays).Interval(), ShouldEqual, 48*time.Hour)
		})

		Convey("The zero value", func() {
			var s Schedule

			Convey("It should be disabled and never due", func() {
				So(s.Enabled(), ShouldBeFalse)
				So(s.Next(now).IsZero(), ShouldBeTrue)
				So(s.String(), ShouldEqual, "disabled")
			})
		})

		Convey("ParseSchedule", func() {
			Convey("When the unit is valid", func() {
				s, err := ParseSchedule("Hours", 3, "")
				So(err, ShouldBeNil)
				So(s.Unit, ShouldEqual, UnitHours)
				So(s.Every, ShouldEqual, 3)
			})

			Convey("When the unit is disabled or empty", func() {
				s, err := ParseSchedule("disabled", 0, "")
				So(err, ShouldBeNil)
				So(s.Enabled(), ShouldBeFalse)

				s, err = ParseSchedule("", 0, "")
				So(err, ShouldBeNil)
				So(s.Enabled(), ShouldBeFalse)
			})

			Convey("When the magnitude is not positive", func() {
				_, err := ParseSchedule("minutes", 0, "")
				So(err, ShouldNotBeNil)
				So(err.Error(), ShouldContainSubstring, "every must be positive")
			})

			Convey("When the unit is unknown", func() {
				_, err := ParseSchedule("weeks", 1, "")
				So(err, ShouldNotBeNil)
			})

			Convey("When a cron expression is given", func() {
				s, err := ParseSchedule("cron", 0, "30 2 * * *")
				So(err, ShouldBeNil)
				So(s.Enabled(), ShouldBeTrue)
				So(s.Next(now), ShouldEqual, time.Date(2026, 10, 17, 2, 30, 0, 0, time.UTC))
			})

			Convey("When the cron expression is invalid", func() {
				_, err := ParseSchedule("cron", 0, "not a cron")
				So(err, ShouldNotBeNil)
			})
		})
	})
}

func TestErrors(t *testing.T) {
	Convey("Given the error taxonomy", t, func() {
		Convey("PartialJobFailure should name the failed databases", func() {
			cause := errors.New("access denied")
			err := &PartialJobFailure{
				Job:    "prod",
				Total:  2,
				Failed: []*DumpError{{Database: "B", Err: cause}},
			}

			So(err.Error(), ShouldEqual, "1 of 2 database(s) failed: B")
			So(errors.Is(err, cause), ShouldBeTrue)

			var dumpErr *DumpError
			So(errors.As(err, &dumpErr), ShouldBeTrue)
			So(dumpErr.Database, ShouldEqual, "B")
		})

		Convey("ConnectionError should unwrap", func() {
			cause := errors.New("refused")
			var err error = &ConnectionError{Target: "db1", Err: cause}
			So(errors.Is(err, cause), ShouldBeTrue)
			So(err.Error(), ShouldEqual, "connect db1: refused")
		})
	})
}
