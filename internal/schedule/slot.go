// Package schedule holds the two cooperative schedulers that sit between the
// document model and its slow collaborators: the analysis scheduler (full vs
// incremental policy plus debounce) and the save scheduler (persistence state
// machine). Both share the same single-timer-slot discipline: scheduling
// replaces any pending timer, it never queues behind it.
package schedule

import (
	"sync"
	"time"
)

// Slot is a single debounce timer slot. Schedule cancels and replaces any
// pending callback (last-write-wins); the generation counter acts as the
// cancellation token, so a timer that fires after being replaced does
// nothing.
type Slot struct {
	mu    sync.Mutex
	timer *time.Timer
	gen   uint64
}

// Schedule arranges fn to run after d, replacing any pending callback.
func (s *Slot) Schedule(d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.gen++
	gen := s.gen
	s.timer = time.AfterFunc(d, func() {
		s.mu.Lock()
		live := s.gen == gen
		if live {
			s.timer = nil
		}
		s.mu.Unlock()
		if live {
			fn()
		}
	})
}

// Cancel drops any pending callback.
func (s *Slot) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.gen++
}

// Pending reports whether a callback is waiting to fire.
func (s *Slot) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}
