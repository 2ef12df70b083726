// Package sched delivers one-shot callbacks at exchange-clock instants.
// Callbacks run on timer goroutines and must therefore take whatever lock the
// callee needs; the scheduler itself never retries a firing.
package sched

import (
	"sync"
	"time"
)

// Scheduler arms one-shot timers against an injectable clock. The clock func
// supplies the current exchange time so that scheduling stays correct when
// the local clock drifts from the venue.
type Scheduler struct {
	mu     sync.Mutex
	now    func() time.Time
	timers map[int64]*time.Timer
	nextID int64
	epoch  int64
}

// New creates a Scheduler. now defaults to time.Now.
func New(now func() time.Time) *Scheduler {
	if now == nil {
		now = time.Now
	}
	return &Scheduler{now: now, timers: make(map[int64]*time.Timer)}
}

// ScheduleAt runs fn once when the exchange clock reaches t. If t has already
// passed, fn runs immediately on a timer goroutine.
func (s *Scheduler) ScheduleAt(t time.Time, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := t.Sub(s.now())
	if d < 0 {
		d = 0
	}

	id := s.nextID
	s.nextID++
	epoch := s.epoch
	s.timers[id] = time.AfterFunc(d, func() {
		s.mu.Lock()
		delete(s.timers, id)
		live := s.epoch == epoch
		s.mu.Unlock()
		if live {
			fn()
		}
	})
}

// Stop cancels all pending timers; a timer that already fired but has not yet
// run its callback is suppressed too. The scheduler stays usable, so a
// stopped strategy can be started again and arm fresh timers.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch++
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}

// Pending returns the number of armed timers.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}
