// Package clock provides the time source and timer scheduling used by the
// dispatcher, so that schedules can be driven by wall time in production and
// by a virtual clock in tests.
package clock

import "time"

// Timer is a scheduled callback that can be cancelled before it fires.
type Timer interface {
	// Stop prevents the callback from running. It returns false if the
	// callback already ran or was already stopped.
	Stop() bool
}

// Clock supplies the current time and runs callbacks at a given time.
//
// ScheduleAt must not run fn on the calling goroutine; callers schedule
// while holding locks that fn acquires.
type Clock interface {
	Now() time.Time
	ScheduleAt(t time.Time, fn func()) Timer
}

// Real is a Clock backed by the runtime timer wheel.
type Real struct{}

// New returns the wall clock.
func New() Clock {
	return Real{}
}

// Now returns time.Now().
func (Real) Now() time.Time {
	return time.Now()
}

// ScheduleAt runs fn on its own goroutine once t is reached. A time in the
// past fires immediately.
func (Real) ScheduleAt(t time.Time, fn func()) Timer {
	return time.AfterFunc(time.Until(t), fn)
}
