// Package clock implements the single monotonic virtual clock shared by a
// glc.Context: monotonic nanoseconds since init.
package clock

import (
	"sync/atomic"
	"time"
)

// Clock is a monotonic virtual clock. All on-disk and in-pipeline
// timestamps are nanoseconds from a Clock.
//
// A Clock is safe for concurrent use.
type Clock struct {
	start time.Time

	// timeDifference is subtracted from Time() to produce StateTime(),
	// stored as nanoseconds. Reset() and AddDiff() mutate it atomically so
	// concurrent readers never observe a torn value.
	timeDifference int64
}

// New returns a Clock initialized to the current instant.
func New() *Clock {
	return &Clock{start: time.Now()}
}

// Time returns nanoseconds elapsed since the Clock was created.
func (c *Clock) Time() int64 {
	return time.Since(c.start).Nanoseconds()
}

// StateTime returns Time() minus the user-controlled time difference. Used
// to make each re-opened file segment start at zero.
func (c *Clock) StateTime() int64 {
	return c.Time() - atomic.LoadInt64(&c.timeDifference)
}

// Reset sets the time difference so that StateTime() reads zero right now.
func (c *Clock) Reset() {
	atomic.StoreInt64(&c.timeDifference, c.Time())
}

// AddDiff adjusts the time difference by delta nanoseconds.
func (c *Clock) AddDiff(delta int64) {
	atomic.AddInt64(&c.timeDifference, delta)
}

// Seconds returns StateTime() as a float64 number of seconds, for use as a
// logging.Logger timestamp source.
func (c *Clock) Seconds() float64 {
	return float64(c.StateTime()) / float64(time.Second)
}
