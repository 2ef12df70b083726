// Package prebar times the "pre-bar" signal: a firing a little over two
// seconds before each bar boundary closes, exchange session permitting.
//
// The firing instant is found by watching relative second/millisecond offsets
// of the exchange clock rather than arming an absolute timer, so drift between
// the local and exchange clocks is tolerated. A debounce counter guarantees at
// most one firing per boundary.
package prebar

import (
	"time"

	"spikes-trader/internal/sessiongate"
)

// lookAhead is how far before the boundary the signal belongs. A timestamp is
// "pre-bar" when adding lookAhead lands it in the opening minute of a bar.
const lookAhead = 5 * time.Second

// Config holds the static inputs of the detector.
type Config struct {
	BarMinutes int
	Mode       sessiongate.Mode

	// Debounce is the minimum accumulated wall-clock time between firings.
	// Zero means the 5s default.
	Debounce time.Duration
}

// Detector accumulates wall-clock deltas and decides when the pre-bar instant
// has been reached. It is a plain state machine: feed it every clock tick via
// Observe and it never fires twice for one boundary.
type Detector struct {
	cfg Config
	acc time.Duration
}

// New creates a Detector.
func New(cfg Config) *Detector {
	if cfg.Debounce == 0 {
		cfg.Debounce = 5 * time.Second
	}
	return &Detector{cfg: cfg}
}

// Observe feeds one wall-clock tick: now is the exchange timestamp, elapsed is
// the wall-clock time since the previous tick. It returns true when the
// pre-bar signal must fire; the debounce counter resets on firing.
func (d *Detector) Observe(now time.Time, elapsed time.Duration) bool {
	if d.cfg.BarMinutes <= 0 {
		return false
	}
	if !sessiongate.IsTradingDay(now) {
		return false
	}

	d.acc += elapsed
	past := d.acc > d.cfg.Debounce

	msk := now.In(sessiongate.MSK)
	minute := sessiongate.MinuteOfDay(msk)

	if !sessiongate.PermittedAt(minute, d.cfg.BarMinutes, d.cfg.Mode) {
		return false
	}

	// The minute 5 seconds ahead must open a new bar, and we must be in the
	// final stretch of the current minute: second last-2, past 500ms.
	last := sessiongate.PreBarSecond(minute)
	if msk.Add(lookAhead).Minute()%d.cfg.BarMinutes != 0 ||
		msk.Second() != last-2 ||
		msk.Nanosecond() < int(500*time.Millisecond) ||
		!past {
		return false
	}

	d.acc = 0
	return true
}

// NextBarTime returns the opening time of the bar following t for the given
// bar length: seconds are dropped and the minute is rounded up to the next
// bar boundary.
func NextBarTime(t time.Time, barMinutes int) time.Time {
	msk := t.In(sessiongate.MSK)
	next := msk.Add(-time.Duration(msk.Second())*time.Second - time.Duration(msk.Nanosecond()))
	rem := next.Minute() % barMinutes
	return next.Add(time.Duration(barMinutes-rem) * time.Minute)
}
