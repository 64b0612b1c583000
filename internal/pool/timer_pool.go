// Package pool holds pooled one-shot timers for the session loops.
package pool

import (
	"sync"
	"time"
)

var timerPool sync.Pool

// GetTimer returns a stopped-and-drained timer from the pool, reset to fire
// after d. Return it with PutTimer.
func GetTimer(d time.Duration) *time.Timer {
	if v := timerPool.Get(); v != nil {
		t, _ := v.(*time.Timer)
		t.Reset(d)

		return t
	}

	return time.NewTimer(d)
}

// PutTimer stops t, drains a pending fire and returns it to the pool.
// t must not be used afterwards.
func PutTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	timerPool.Put(t)
}

// Deadline is a re-armable one-shot timer whose channel is nil while
// disarmed, so it can sit in a select unconditionally.
//
// Deadline is not goroutine-safe; it belongs to a single loop.
type Deadline struct {
	timer *time.Timer
}

// Arm (re)starts the deadline to fire after d.
func (dl *Deadline) Arm(d time.Duration) {
	dl.Disarm()
	dl.timer = GetTimer(d)
}

// Disarm stops the deadline. Disarming a disarmed deadline is a no-op.
func (dl *Deadline) Disarm() {
	if dl.timer != nil {
		PutTimer(dl.timer)
		dl.timer = nil
	}
}

// Armed reports whether the deadline is pending.
func (dl *Deadline) Armed() bool {
	return dl.timer != nil
}

// C returns the fire channel, or nil when disarmed.
func (dl *Deadline) C() <-chan time.Time {
	if dl.timer == nil {
		return nil
	}

	return dl.timer.C
}

// Fired must be called after receiving from C. It releases the timer.
func (dl *Deadline) Fired() {
	if dl.timer != nil {
		timerPool.Put(dl.timer)
		dl.timer = nil
	}
}
