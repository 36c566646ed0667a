// Package clock resolves the current instant, converts it to a configured
// civil timezone, and classifies it DAY or NIGHT against a configured
// hour window with wrap-around across midnight.
package clock

import (
	"time"

	"martin/internal/apperr"
)

// Mode is the classification of an instant relative to the configured
// day/night hour window.
type Mode string

const (
	Day   Mode = "DAY"
	Night Mode = "NIGHT"
)

// Clock is injected everywhere the orchestrator or a test needs "now",
// so tests can freeze time instead of monkey-patching time.Now.
type Clock interface {
	Now() time.Time
}

// RealClock is the production Clock backed by time.Now.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// FixedClock is a test Clock that always returns the same instant.
type FixedClock struct{ At time.Time }

func (f FixedClock) Now() time.Time { return f.At }

// TimeMode holds the configured civil timezone and DAY hour window and
// classifies instants against it.
type TimeMode struct {
	loc          *time.Location
	dayStartHour int
	dayEndHour   int
}

// NewTimeMode parses tz (an IANA timezone name) and validates the hour
// bounds. day_start == day_end is treated as 24-hour DAY per spec.
func NewTimeMode(tz string, dayStartHour, dayEndHour int) (*TimeMode, error) {
	if dayStartHour < 0 || dayStartHour > 23 {
		return nil, apperr.Config("day_night.day_start_hour out of range [0,23]", nil)
	}
	if dayEndHour < 0 || dayEndHour > 23 {
		return nil, apperr.Config("day_night.day_end_hour out of range [0,23]", nil)
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, apperr.Config("app.timezone: unknown location "+tz, err)
	}
	return &TimeMode{loc: loc, dayStartHour: dayStartHour, dayEndHour: dayEndHour}, nil
}

// Classify converts t to the configured civil timezone and returns
// DAY or NIGHT. day_start == day_end means 24-hour DAY. Otherwise, when
// day_start < day_end the DAY interval is [day_start, day_end); when
// day_start > day_end it wraps across midnight: hour >= day_start OR
// hour < day_end is DAY.
func (tm *TimeMode) Classify(t time.Time) Mode {
	if tm.dayStartHour == tm.dayEndHour {
		return Day
	}
	hour := t.In(tm.loc).Hour()
	var isDay bool
	if tm.dayStartHour < tm.dayEndHour {
		isDay = hour >= tm.dayStartHour && hour < tm.dayEndHour
	} else {
		isDay = hour >= tm.dayStartHour || hour < tm.dayEndHour
	}
	if isDay {
		return Day
	}
	return Night
}

// Location returns the configured civil timezone.
func (tm *TimeMode) Location() *time.Location { return tm.loc }

// NextDayEnd returns the next instant at which the DAY window closes:
// the next occurrence of day_end_hour:00 in the configured civil
// timezone at or after now.
func (tm *TimeMode) NextDayEnd(now time.Time) time.Time {
	local := now.In(tm.loc)
	end := time.Date(local.Year(), local.Month(), local.Day(), tm.dayEndHour, 0, 0, 0, tm.loc)
	if !end.After(local) {
		end = end.AddDate(0, 0, 1)
	}
	return end
}
