package coid

import (
	"sync"
	"time"
)

// Timestamp is a monotonically increasing, totally ordered value: wall
// time in nanoseconds in the high bits, a per-process tiebreaker counter
// in the low bits so two timestamps produced in the same nanosecond
// still compare distinct.
type Timestamp uint64

const tiebreakerBits = 12
const tiebreakerMask = uint64(1)<<tiebreakerBits - 1

// Zero is the timestamp before which nothing can have committed.
const Zero Timestamp = 0

// Before reports whether t happened before o.
func (t Timestamp) Before(o Timestamp) bool { return t < o }

// After reports whether t happened after o.
func (t Timestamp) After(o Timestamp) bool { return t > o }

// WallTime extracts the approximate wall-clock component of t.
func (t Timestamp) WallTime() time.Time {
	return time.Unix(0, int64(uint64(t)>>tiebreakerBits))
}

// Clock issues Timestamps that are monotonic even across calls that land
// in the same wall-clock nanosecond, and supports deferring a timestamp
// to a recent point in the past so concurrent operations can be made to
// precede it (kvtx.Runtime.Begin calls Defer, with a zero offset, for
// deferred transactions).
type Clock struct {
	mu   sync.Mutex
	last Timestamp
	now  func() time.Time
}

// NewClock constructs a Clock backed by time.Now.
func NewClock() *Clock {
	return &Clock{now: time.Now}
}

// newClockWithSource is used by tests to inject a deterministic time
// source.
func newClockWithSource(now func() time.Time) *Clock {
	return &Clock{now: now}
}

// Now returns a fresh timestamp strictly greater than any timestamp
// previously returned by this Clock.
func (c *Clock) Now() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()

	wall := uint64(c.now().UnixNano()) << tiebreakerBits
	ts := Timestamp(wall)
	if ts <= c.last {
		ts = c.last + 1
	}
	c.last = ts
	return ts
}

// Defer returns a timestamp set deliberately into the recent past (at
// most maxBack before now), clamped so it never goes below the last
// timestamp this Clock has already handed out plus one — deferring must
// still produce a fresh, monotonic value, it just starts from an earlier
// wall-clock basis so that concurrent operations which read "now" a
// moment ago can still precede it.
func (c *Clock) Defer(maxBack time.Duration) Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()

	basis := c.now().Add(-maxBack)
	wall := uint64(basis.UnixNano()) << tiebreakerBits
	ts := Timestamp(wall)
	if ts <= c.last {
		ts = c.last + 1
	}
	c.last = ts
	return ts
}

// Observe folds an externally-seen timestamp (e.g. a commit timestamp
// returned by a remote server) into this Clock so that subsequently
// issued timestamps stay monotonic relative to it.
func (c *Clock) Observe(seen Timestamp) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if seen > c.last {
		c.last = seen
	}
}
