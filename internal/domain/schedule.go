package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

type Unit string

const (
	UnitMinutes Unit = "minutes"
	UnitHours   Unit = "hours"
	UnitDays    Unit = "days"
	UnitCron    Unit = "cron"
)

// Schedule is a recurrence rule. The zero value is disabled.
type Schedule struct {
	Unit  Unit
	Every int
	Expr  string

	cron cron.Schedule
}

func Disabled() Schedule {
	return Schedule{}
}

func Every(n int, unit Unit) Schedule {
	return Schedule{Unit: unit, Every: n}
}

// ParseSchedule builds a Schedule from its configured parts. An empty unit
// or "disabled" yields a disabled schedule.
func ParseSchedule(unit string, every int, expr string) (Schedule, error) {
	switch u := Unit(strings.ToLower(strings.TrimSpace(unit))); u {
	case "", "disabled":
		return Disabled(), nil
	case UnitMinutes, UnitHours, UnitDays:
		if every <= 0 {
			return Schedule{}, fmt.Errorf("schedule %q: every must be positive, got %d", u, every)
		}
		return Every(every, u), nil
	case UnitCron:
		parsed, err := cron.ParseStandard(strings.TrimSpace(expr))
		if err != nil {
			return Schedule{}, fmt.Errorf("schedule cron %q: %w", expr, err)
		}
		return Schedule{Unit: UnitCron, Expr: strings.TrimSpace(expr), cron: parsed}, nil
	default:
		return Schedule{}, fmt.Errorf("unknown schedule unit: %s", unit)
	}
}

func (s Schedule) Enabled() bool {
	switch s.Unit {
	case UnitMinutes, UnitHours, UnitDays:
		return s.Every > 0
	case UnitCron:
		return s.cron != nil
	}
	return false
}

// Interval is the fixed period of unit based schedules, zero otherwise.
func (s Schedule) Interval() time.Duration {
	switch s.Unit {
	case UnitMinutes:
		return time.Duration(s.Every) * time.Minute
	case UnitHours:
		return time.Duration(s.Every) * time.Hour
	case UnitDays:
		return time.Duration(s.Every) * 24 * time.Hour
	}
	return 0
}

// Next returns the first eligible run instant after last. It returns the
// zero time for disabled schedules.
func (s Schedule) Next(last time.Time) time.Time {
	if !s.Enabled() {
		return time.Time{}
	}
	if s.Unit == UnitCron {
		return s.cron.Next(last)
	}
	return last.Add(s.Interval())
}

func (s Schedule) String() string {
	switch s.Unit {
	case UnitMinutes:
		return fmt.Sprintf("every %d minute(s)", s.Every)
	case UnitHours:
		return fmt.Sprintf("every %d hour(s)", s.Every)
	case UnitDays:
		return fmt.Sprintf("every %d day(s)", s.Every)
	case UnitCron:
		return "cron " + s.Expr
	}
	return "disabled"
}
