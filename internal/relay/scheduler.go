package relay

import (
	"sync"
	"time"
)

// Scheduler debounces presence broadcasts. Two states: idle and pending.
// Schedule arms the timer when idle and is a no-op when pending, coalescing
// bursts of presence changes into one fan-out. The flip back to idle happens
// before fn runs, so changes arriving mid-broadcast re-arm the timer.
type Scheduler struct {
	mu      sync.Mutex
	delay   time.Duration
	fn      func()
	timer   *time.Timer
	pending bool
	stopped bool
}

func NewScheduler(delay time.Duration, fn func()) *Scheduler {
	return &Scheduler{delay: delay, fn: fn}
}

func (s *Scheduler) Schedule() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || s.pending {
		return
	}
	s.pending = true
	s.timer = time.AfterFunc(s.delay, s.fire)
}

func (s *Scheduler) fire() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.pending = false
	s.mu.Unlock()

	s.fn()
}

// Pending reports whether a broadcast is armed. Diagnostic only.
func (s *Scheduler) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	s.pending = false
	if s.timer != nil {
		s.timer.Stop()
	}
}
