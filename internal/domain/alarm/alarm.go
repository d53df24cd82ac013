package alarm

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Meridiem tells whether the hour of an Alarm is on a 24-hour or 12-hour clock.
type Meridiem int

const (
	// Clock24 means Hour is in 0..23.
	Clock24 Meridiem = iota
	// AM means Hour is in 1..12 before noon.
	AM
	// PM means Hour is in 1..12 after noon.
	PM
)

// Alarm is a wall-clock time of day at which the host triggers.
type Alarm struct {
	// Hour is 0..23 for Clock24 or 1..12 with AM/PM.
	Hour int
	// Minute is 0..59.
	Minute int
	// Meridiem selects the clock the hour is expressed in.
	Meridiem Meridiem
}

var (
	// ErrInvalidAlarm is returned for an alarm time outside the valid ranges.
	ErrInvalidAlarm = errors.New("invalid alarm time")
)

// New returns a 24-hour alarm.
func New(hour, minute int) (Alarm, error) {
	a := Alarm{Hour: hour, Minute: minute, Meridiem: Clock24}

	return a, a.Validate()
}

// New12 returns a 12-hour alarm with an AM/PM flag.
func New12(hour, minute int, pm bool) (Alarm, error) {
	a := Alarm{Hour: hour, Minute: minute, Meridiem: AM}
	if pm {
		a.Meridiem = PM
	}

	return a, a.Validate()
}

// Parse reads "HH:MM" (24-hour) or "H:MM am|pm" (12-hour, space optional).
func Parse(s string) (Alarm, error) {
	text := strings.ToLower(strings.TrimSpace(s))

	meridiem := Clock24

	switch {
	case strings.HasSuffix(text, "am"):
		meridiem = AM
		text = strings.TrimSpace(strings.TrimSuffix(text, "am"))
	case strings.HasSuffix(text, "pm"):
		meridiem = PM
		text = strings.TrimSpace(strings.TrimSuffix(text, "pm"))
	}

	hourText, minuteText, ok := strings.Cut(text, ":")
	if !ok {
		return Alarm{}, fmt.Errorf("%w: %q has no minutes", ErrInvalidAlarm, s)
	}

	hour, err := strconv.Atoi(hourText)
	if err != nil {
		return Alarm{}, fmt.Errorf("%w: hour of %q: %w", ErrInvalidAlarm, s, err)
	}

	minute, err := strconv.Atoi(minuteText)
	if err != nil || len(minuteText) != 2 {
		return Alarm{}, fmt.Errorf("%w: minute of %q", ErrInvalidAlarm, s)
	}

	a := Alarm{Hour: hour, Minute: minute, Meridiem: meridiem}

	return a, a.Validate()
}

// Validate checks hour and minute ranges for the alarm's clock.
func (a Alarm) Validate() error {
	if a.Minute < 0 || a.Minute > 59 {
		return fmt.Errorf("%w: minute %d", ErrInvalidAlarm, a.Minute)
	}

	switch a.Meridiem {
	case Clock24:
		if a.Hour < 0 || a.Hour > 23 {
			return fmt.Errorf("%w: hour %d", ErrInvalidAlarm, a.Hour)
		}
	case AM, PM:
		if a.Hour < 1 || a.Hour > 12 {
			return fmt.Errorf("%w: hour %d", ErrInvalidAlarm, a.Hour)
		}
	default:
		return fmt.Errorf("%w: meridiem %d", ErrInvalidAlarm, a.Meridiem)
	}

	return nil
}

// Hour24 returns the hour on a 24-hour clock. 12 AM is 0, 12 PM is 12.
func (a Alarm) Hour24() int {
	switch a.Meridiem {
	case AM:
		return a.Hour % 12
	case PM:
		return a.Hour%12 + 12
	default:
		return a.Hour
	}
}

// Next returns the first firing instant at or after the start of the minute
// containing now, in now's location. An alarm due in the current minute is
// therefore reported as the current occurrence rather than tomorrow's.
func (a Alarm) Next(now time.Time) time.Time {
	candidate := a.On(now)
	if candidate.Before(now.Truncate(time.Minute)) {
		candidate = candidate.AddDate(0, 0, 1)
	}

	return candidate
}

// On returns the firing instant on the calendar day of t.
func (a Alarm) On(t time.Time) time.Time {
	year, month, day := t.Date()

	return time.Date(year, month, day, a.Hour24(), a.Minute, 0, 0, t.Location())
}

// Due reports whether now lies within tolerance of today's firing instant.
func (a Alarm) Due(now time.Time, tolerance time.Duration) bool {
	diff := now.Sub(a.On(now))
	if diff < 0 {
		diff = -diff
	}

	return diff < tolerance
}

// String renders the alarm the way it was expressed: "07:30" or "2:10 PM".
func (a Alarm) String() string {
	switch a.Meridiem {
	case AM:
		return fmt.Sprintf("%d:%02d AM", a.Hour, a.Minute)
	case PM:
		return fmt.Sprintf("%d:%02d PM", a.Hour, a.Minute)
	default:
		return fmt.Sprintf("%02d:%02d", a.Hour, a.Minute)
	}
}
