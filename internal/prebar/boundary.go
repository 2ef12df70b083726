package prebar

import "time"

// Boundary tracks plain bar boundaries: Observe fires once when the clock
// first reaches or passes each bar opening. It stands in for the bar
// aggregation collaborator that announces finished bars.
type Boundary struct {
	barMinutes int
	next       time.Time
}

// NewBoundary creates a tracker for the given bar length.
func NewBoundary(barMinutes int) *Boundary {
	return &Boundary{barMinutes: barMinutes}
}

// Observe feeds the current exchange time and reports whether a bar boundary
// has just been crossed. The first observation only arms the tracker.
func (b *Boundary) Observe(now time.Time) bool {
	if b.barMinutes <= 0 {
		return false
	}
	if b.next.IsZero() {
		b.next = NextBarTime(now, b.barMinutes)
		return false
	}
	if now.Before(b.next) {
		return false
	}
	b.next = NextBarTime(now, b.barMinutes)
	return true
}
