// Package cache implements the server-side COID cache (§4.2) and the two
// client-side caches (§4.4): the consistent schema cache and the coarse
// value cache. All three are process-wide state with init-once
// lifecycles, following a lock-guarded map of per-key locks with
// copy-out reads.
package cache

import (
	"sync"
	"time"

	"github.com/dreamware/yesqueldb/internal/coid"
	"github.com/dreamware/yesqueldb/internal/oplog"
	"github.com/dreamware/yesqueldb/internal/value"
)

// entry pairs one COID's log chain with the per-COID lock §5 requires.
// The lock is always real: the server-side splitter (§4.6) runs its
// rewrite in its own goroutine regardless of configured worker count, so
// a single-worker deployment is never actually free of concurrent access
// to a COID's chain the way options.h's compile-time single-thread flag
// assumed.
type entry struct {
	mu    sync.Mutex
	chain *oplog.Chain
}

// CoidCache is the server's process-wide table of COID -> log chain. It
// owns creation of a COID's chain on first access (the root COID of a
// freshly created container is created lazily).
type CoidCache struct {
	mu         sync.RWMutex
	entries    map[coid.COID]*entry
	thresholds oplog.Thresholds
	retention  time.Duration
}

// New constructs an empty CoidCache.
func New(thresholds oplog.Thresholds, retention time.Duration) *CoidCache {
	return &CoidCache{
		entries:    make(map[coid.COID]*entry),
		thresholds: thresholds,
		retention:  retention,
	}
}

func (c *CoidCache) getOrCreate(co coid.COID) *entry {
	c.mu.RLock()
	e, ok := c.entries[co]
	c.mu.RUnlock()
	if ok {
		return e
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok = c.entries[co]; ok {
		return e
	}
	e = &entry{chain: oplog.NewChain(c.thresholds)}
	c.entries[co] = e
	return e
}

// Apply appends entry to co's log chain under its per-COID lock, then
// opportunistically checkpoints if thresholds are exceeded.
func (c *CoidCache) Apply(co coid.COID, le oplog.Entry) error {
	e := c.getOrCreate(co)
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.chain.Apply(le); err != nil {
		return err
	}
	if e.chain.NeedsCheckpoint() {
		return e.chain.Checkpoint()
	}
	return nil
}

// Read materializes co's value as of ts. It also attempts an
// opportunistic checkpoint after the read, matching §4.2's "also
// attempts checkpointing opportunistically on read".
func (c *CoidCache) Read(co coid.COID, ts coid.Timestamp) (value.Container, coid.Timestamp, error) {
	e := c.getOrCreate(co)
	e.mu.Lock()
	defer e.mu.Unlock()

	val, producedTS, err := e.chain.Read(ts)
	if err != nil {
		return value.Container{}, 0, err
	}
	if e.chain.NeedsCheckpoint() {
		_ = e.chain.Checkpoint()
	}
	return val, producedTS, nil
}

// WithLock runs fn with co's per-COID lock held for fn's whole duration,
// giving a caller atomic read-then-rewrite access to a single COID
// instead of two separately-locked Read/Apply calls with a race window
// between them where a concurrent writer could interleave (the splitter
// needs this: reading a node, computing its split, and installing both
// halves must happen as one step or a concurrent insert into the node
// could be lost). fn drives the chain directly and must not call back
// into CoidCache for co — the lock oplog.Chain documents as required is
// not reentrant.
func (c *CoidCache) WithLock(co coid.COID, fn func(chain *oplog.Chain) error) error {
	e := c.getOrCreate(co)
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(e.chain)
}

// HeadTS returns co's current committed version (the timestamp of its
// most recently applied log entry).
func (c *CoidCache) HeadTS(co coid.COID) coid.Timestamp {
	e := c.getOrCreate(co)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.chain.HeadTS()
}

// LastDelRangeTS returns the timestamp of co's most recently applied
// DelRange entry, or zero if none.
func (c *CoidCache) LastDelRangeTS(co coid.COID) coid.Timestamp {
	e := c.getOrCreate(co)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.chain.LastDelRangeTS()
}

// Checkpoint forces co's chain to checkpoint now, regardless of
// thresholds.
func (c *CoidCache) Checkpoint(co coid.COID) error {
	e := c.getOrCreate(co)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.chain.Checkpoint()
}

// EvictExpired runs the background eviction pass: drops retained log
// entries older than retention across every tracked COID. It is safe to
// call repeatedly from a ticking goroutine; interrupting it between
// COIDs is harmless (idempotent).
func (c *CoidCache) EvictExpired(now coid.Timestamp) {
	cutoffNanos := int64(now.WallTime().Add(-c.retention).UnixNano())
	cutoff := coid.Timestamp(uint64(cutoffNanos) << 12)

	c.mu.RLock()
	cos := make([]coid.COID, 0, len(c.entries))
	for co := range c.entries {
		cos = append(cos, co)
	}
	c.mu.RUnlock()

	for _, co := range cos {
		e := c.getOrCreate(co)
		e.mu.Lock()
		_ = e.chain.EvictOlderThan(cutoff)
		e.mu.Unlock()
	}
}

// ForEach calls fn once per tracked COID with its current materialized
// value and head timestamp, used by the dump path (§6) to flatten the
// whole cache to a file. fn is called after the COID's lock has been
// released, so the value it sees may already be superseded.
func (c *CoidCache) ForEach(fn func(co coid.COID, ts coid.Timestamp, val value.Container)) {
	c.mu.RLock()
	cos := make([]coid.COID, 0, len(c.entries))
	for co := range c.entries {
		cos = append(cos, co)
	}
	c.mu.RUnlock()

	for _, co := range cos {
		e := c.getOrCreate(co)
		e.mu.Lock()
		ts := e.chain.HeadTS()
		val, _, err := e.chain.Read(ts)
		e.mu.Unlock()
		if err != nil {
			continue
		}
		fn(co, ts, val)
	}
}

// Seed installs val as co's entire state at ts, discarding any existing
// chain for co. Used only by the restore path (§6) to repopulate a
// freshly started server before it serves any request; calling it
// concurrently with normal traffic is not supported.
func (c *CoidCache) Seed(co coid.COID, ts coid.Timestamp, val value.Container) {
	e := c.getOrCreate(co)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.chain.Seed(ts, val)
}

// RunEvictionLoop starts a background eviction goroutine ticking every
// interval, stoppable via the returned cancel function. The loop is
// interruptible and idempotent, per §5's cancellation policy.
func (c *CoidCache) RunEvictionLoop(interval time.Duration, clock *coid.Clock) (stop func()) {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				c.EvictExpired(clock.Now())
			}
		}
	}()
	return func() { close(done) }
}
