// Package alert decides, every poll tick, whether and how idle alerts
// go out: active-window and workday gating, window-boundary summaries
// with cooldown, and steady-state per-socket alerting with dedup.
package alert

import (
	"charging-alert-backend/internal/parse"
)

// InTimeWindow reports whether the minute-of-day now lies inside the
// window [start, end], both endpoints inclusive. Windows where end is
// before start wrap past midnight.
func InTimeWindow(now, start, end string) (bool, error) {
	n, err := parse.MinutesOfDay(now)
	if err != nil {
		return false, err
	}
	s, err := parse.MinutesOfDay(start)
	if err != nil {
		return false, err
	}
	e, err := parse.MinutesOfDay(end)
	if err != nil {
		return false, err
	}
	if s <= e {
		return n >= s && n <= e, nil
	}
	return n >= s || n <= e, nil
}

// nearTarget reports whether two minute-of-day values are within
// tolerance of each other, measured across midnight: 23:59 is one
// minute from 00:00.
func nearTarget(now, target, tolerance int) bool {
	diff := now - target
	if diff < 0 {
		diff = -diff
	}
	if diff > 720 {
		diff = 1440 - diff
	}
	return diff <= tolerance
}

// NearBoundary reports which window boundary, if any, the minute-of-day
// now falls within tolerance of. The second return is "window_start" or
// "window_end" when the first is true.
func NearBoundary(now, start, end string, tolerance int) (bool, string, error) {
	n, err := parse.MinutesOfDay(now)
	if err != nil {
		return false, "", err
	}
	s, err := parse.MinutesOfDay(start)
	if err != nil {
		return false, "", err
	}
	e, err := parse.MinutesOfDay(end)
	if err != nil {
		return false, "", err
	}
	if nearTarget(n, s, tolerance) {
		return true, "window_start", nil
	}
	if nearTarget(n, e, tolerance) {
		return true, "window_end", nil
	}
	return false, "", nil
}
