// Package quota provides pure functions for sliding-window quota enforcement.
// All functions are deterministic - same input always produces same output.
package quota

import "time"

// Window identifies a quota accounting window.
type Window string

const (
	WindowMinute Window = "minute"
	WindowHour   Window = "hour"
	WindowDay    Window = "day"
	WindowMonth  Window = "month"
)

// LimitWindows are the windows charged against plan limits, smallest first.
// The minute window caps the burst and is handled separately.
var LimitWindows = []Window{WindowHour, WindowDay, WindowMonth}

// Floor returns the start instant of the window containing t.
func Floor(t time.Time, w Window) time.Time {
	t = t.UTC()
	switch w {
	case WindowMinute:
		return t.Truncate(time.Minute)
	case WindowHour:
		return t.Truncate(time.Hour)
	case WindowDay:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	case WindowMonth:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
	return t.Truncate(time.Hour)
}

// Next returns the start instant of the window after the one containing t.
func Next(t time.Time, w Window) time.Time {
	floor := Floor(t, w)
	switch w {
	case WindowMinute:
		return floor.Add(time.Minute)
	case WindowHour:
		return floor.Add(time.Hour)
	case WindowDay:
		return floor.AddDate(0, 0, 1)
	case WindowMonth:
		return floor.AddDate(0, 1, 0)
	}
	return floor.Add(time.Hour)
}

// SecondsToReset returns whole seconds until the window containing t rolls
// over, never less than 1.
func SecondsToReset(t time.Time, w Window) int {
	secs := int(Next(t, w).Sub(t.UTC()).Seconds())
	if secs < 1 {
		return 1
	}
	return secs
}
