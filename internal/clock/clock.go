// Package clock provides an injectable time source so the planner never
// reaches for a process-global "current time" function, unlike the source's
// module-level currentGmtTimeStrFunc indirection.
package clock

import "time"

// Clock is the time source the snapshot model and planner depend on.
type Clock interface {
	// Now returns the current time in UTC.
	Now() time.Time
	// Sleep blocks for d. CreateCurrent uses this to guarantee monotonic,
	// unique snapshot timestamps across rapid successive calls.
	Sleep(d time.Duration)
}

// System is the production Clock, backed by the real wall clock.
type System struct{}

// Now returns time.Now() in UTC.
func (System) Now() time.Time { return time.Now().UTC() }

// Sleep calls time.Sleep.
func (System) Sleep(d time.Duration) { time.Sleep(d) }
