package xmodem

import (
	"fmt"
	"sync"
	"time"
)

// Supervisor schedules a bounded number of repeating actions, such as the
// receiver's start probes.
//
// Actions run through the dispatch function given to NewSupervisor. When
// dispatch executes them on the owner's goroutine, a Cancel issued from that
// goroutine is final: no action queued before the Cancel runs after it.
//
// A Supervisor runs at most one schedule at a time.
type Supervisor struct {
	dispatch func(func())

	mu     sync.Mutex
	gen    uint64
	active bool
	stop   chan struct{}
	fired  int
}

// ScheduleOption is a functional option for ScheduleRepeating.
type ScheduleOption func(*scheduleOptions)

type scheduleOptions struct {
	immediate bool
	exhausted func()
}

// WithImmediate fires the first repetition right away instead of after one interval.
func WithImmediate() ScheduleOption {
	return func(o *scheduleOptions) { o.immediate = true }
}

// WithExhausted registers fn to run one interval after the final
// repetition, unless the schedule was cancelled in between.
func WithExhausted(fn func()) ScheduleOption {
	return func(o *scheduleOptions) { o.exhausted = fn }
}

// NewSupervisor creates a Supervisor. A nil dispatch runs actions on the
// supervisor's timer goroutine.
func NewSupervisor(dispatch func(func())) *Supervisor {
	if dispatch == nil {
		dispatch = func(fn func()) { fn() }
	}

	return &Supervisor{dispatch: dispatch}
}

// ScheduleRepeating invokes action every interval until it was invoked
// maxRepetitions times or Cancel is called, then cancels itself.
// A schedule already running is cancelled first.
func (s *Supervisor) ScheduleRepeating(action func(), interval time.Duration, maxRepetitions int, opts ...ScheduleOption) error {
	if interval <= 0 {
		return fmt.Errorf("xmodem: invalid probe interval %v", interval)
	}
	if maxRepetitions < 1 {
		return fmt.Errorf("xmodem: invalid repetition count %d", maxRepetitions)
	}

	o := &scheduleOptions{}
	for _, opt := range opts {
		opt(o)
	}

	s.mu.Lock()
	s.cancelLocked()
	s.gen++
	s.active = true
	s.fired = 0
	s.stop = make(chan struct{})
	gen, stop := s.gen, s.stop
	s.mu.Unlock()

	go s.run(gen, stop, action, interval, maxRepetitions, o)

	return nil
}

// Cancel stops the running schedule. Cancelling a stopped supervisor is a no-op.
func (s *Supervisor) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelLocked()
}

// Active reports whether a schedule is running.
func (s *Supervisor) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.active
}

// Fired returns how many times the current or last schedule invoked its action.
func (s *Supervisor) Fired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.fired
}

func (s *Supervisor) cancelLocked() {
	if !s.active {
		return
	}
	s.active = false
	s.gen++
	close(s.stop)
}

func (s *Supervisor) run(gen uint64, stop <-chan struct{}, action func(), interval time.Duration, maxRepetitions int, o *scheduleOptions) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for n := 1; n <= maxRepetitions; n++ {
		if n > 1 || !o.immediate {
			select {
			case <-stop:
				return
			case <-ticker.C:
			}
		}

		last := n == maxRepetitions
		s.dispatch(func() {
			if !s.claim(gen) {
				return
			}
			action()
			if last && o.exhausted == nil {
				s.finish(gen)
			}
		})
	}

	if o.exhausted == nil {
		return
	}

	select {
	case <-stop:
		return
	case <-ticker.C:
	}

	s.dispatch(func() {
		if s.finish(gen) {
			o.exhausted()
		}
	})
}

// claim reports whether gen is still the running schedule and counts a repetition.
func (s *Supervisor) claim(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active || s.gen != gen {
		return false
	}
	s.fired++

	return true
}

// finish ends schedule gen. It returns false when gen was cancelled or replaced.
func (s *Supervisor) finish(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active || s.gen != gen {
		return false
	}
	s.cancelLocked()

	return true
}
