package oplog

import (
	"fmt"
	"sort"
	"time"

	"github.com/dreamware/yesqueldb/internal/coid"
	"github.com/dreamware/yesqueldb/internal/value"
	"github.com/dreamware/yesqueldb/internal/yerrors"
)

// Thresholds configures when a Chain's checkpoint fires, mirroring the
// original's LOG_CHECKPOINT_MIN_* options.
type Thresholds struct {
	MinItems     int // checkpoint if chain length reaches this
	MinAddItems  int // ...or this many Add entries accumulate
	MinDelRanges int // ...or this many DelRange entries accumulate
}

// DefaultThresholds matches the original program's defaults.
var DefaultThresholds = Thresholds{MinItems: 15, MinAddItems: 10, MinDelRanges: 1}

// DefaultRetention is the default log retention window (§3): entries
// older than this are garbage-collected and reads below it abort with
// StaleRead.
const DefaultRetention = 3 * time.Second

// Chain is the per-COID ordered log: a materialized snapshot plus every
// retained entry committed after it, ordered by timestamp (oldest
// first). One Chain exists per COID in the server's COID cache; callers
// must hold the COID's per-COID lock before calling any method here —
// Chain itself does no locking (that's the cache's job, §4.2/§5).
type Chain struct {
	snapshot   Snapshot
	entries    []Entry // non-decreasing TS, none before snapshot.TS
	addCount   int
	delCount   int
	thresholds Thresholds
}

// NewChain returns an empty chain seeded with an empty super-value
// snapshot at timestamp zero — the lazily-created root COID's starting
// state.
func NewChain(thresholds Thresholds) *Chain {
	return &Chain{
		snapshot:   Snapshot{TS: coid.Zero, Value: value.SuperContainer(value.NewSuperValue(value.DefaultKeyInfo))},
		thresholds: thresholds,
	}
}

// Apply appends entry to the chain under the caller's lock. Entries must
// arrive in non-decreasing timestamp order (guaranteed by the server
// committing one COID's writes at a time).
func (c *Chain) Apply(entry Entry) error {
	if len(c.entries) > 0 && entry.TS < c.entries[len(c.entries)-1].TS {
		return fmt.Errorf("oplog: out-of-order apply at ts %d after %d: %w",
			entry.TS, c.entries[len(c.entries)-1].TS, yerrors.ErrCorruption)
	}
	c.entries = append(c.entries, entry)
	switch entry.Kind {
	case KindAdd:
		c.addCount++
	case KindDelRange:
		c.delCount++
	}
	return nil
}

// OldestRetainedTS returns the oldest timestamp a Read can serve without
// StaleRead: the snapshot's own timestamp (reads at or after it can
// always be served by replaying from the snapshot).
func (c *Chain) OldestRetainedTS() coid.Timestamp {
	return c.snapshot.TS
}

// HeadTS returns the timestamp of the most recently applied entry (or
// the snapshot's timestamp if no entry has been applied since), i.e.
// the COID's current committed version. Used by the commit protocol's
// conflict check without requiring a full replay.
func (c *Chain) HeadTS() coid.Timestamp {
	if len(c.entries) == 0 {
		return c.snapshot.TS
	}
	return c.entries[len(c.entries)-1].TS
}

// LastDelRangeTS returns the timestamp of the most recently applied
// DelRange entry, or zero if none has been applied. Used by the
// delrange-conflicts-delrange policy (§4.3).
func (c *Chain) LastDelRangeTS() coid.Timestamp {
	for i := len(c.entries) - 1; i >= 0; i-- {
		if c.entries[i].Kind == KindDelRange {
			return c.entries[i].TS
		}
	}
	return coid.Zero
}

// Read materializes the COID's value as of ts by folding snapshot plus
// every retained entry with TS <= ts, in order. Returns ErrStaleRead if
// ts predates the oldest retained state.
func (c *Chain) Read(ts coid.Timestamp) (value.Container, coid.Timestamp, error) {
	if ts < c.snapshot.TS {
		return value.Container{}, 0, fmt.Errorf("oplog: read at %d predates oldest retained %d: %w",
			ts, c.snapshot.TS, yerrors.ErrStaleRead)
	}

	cur := c.snapshot.Value.Clone()
	producedTS := c.snapshot.TS
	for _, e := range c.entries {
		if e.TS > ts {
			break
		}
		var err error
		cur, err = fold(cur, e)
		if err != nil {
			return value.Container{}, 0, err
		}
		producedTS = e.TS
	}
	return cur, producedTS, nil
}

// fold applies one entry on top of cur, returning the resulting value.
func fold(cur value.Container, e Entry) (value.Container, error) {
	switch e.Kind {
	case KindWrite:
		return value.BlobContainer(e.Blob), nil
	case KindAdd:
		sv, err := cur.AsSuper()
		if err != nil {
			return cur, err
		}
		sv, err = sv.InsertCell(e.Cell, e.Replace)
		if err != nil {
			return cur, err
		}
		return value.SuperContainer(sv), nil
	case KindDelRange:
		sv, err := cur.AsSuper()
		if err != nil {
			return cur, err
		}
		return value.SuperContainer(sv.DeleteRange(e.Lo, e.Hi, e.Interval)), nil
	case KindAttr:
		sv, err := cur.AsSuper()
		if err != nil {
			return cur, err
		}
		sv, err = sv.SetAttr(e.AttrID, e.AttrVal)
		if err != nil {
			return cur, err
		}
		return value.SuperContainer(sv), nil
	case KindCheckpoint:
		return e.Snapshot.Value, nil
	default:
		return cur, fmt.Errorf("oplog: unknown entry kind %d: %w", e.Kind, yerrors.ErrCorruption)
	}
}

// NeedsCheckpoint reports whether the chain has grown past any of its
// configured thresholds and should be folded into a new checkpoint.
func (c *Chain) NeedsCheckpoint() bool {
	t := c.thresholds
	return len(c.entries) >= t.MinItems ||
		c.addCount >= t.MinAddItems ||
		c.delCount >= t.MinDelRanges
}

// Checkpoint materializes the chain's current (latest) value into a new
// snapshot and trims every folded entry, bounding memory and future
// replay cost. It is invoked when NeedsCheckpoint is true, and
// opportunistically on read.
func (c *Chain) Checkpoint() error {
	if len(c.entries) == 0 {
		return nil
	}
	latestTS := c.entries[len(c.entries)-1].TS
	val, _, err := c.Read(latestTS)
	if err != nil {
		return err
	}
	c.snapshot = Snapshot{TS: latestTS, Value: val}
	c.entries = nil
	c.addCount = 0
	c.delCount = 0
	return nil
}

// EvictOlderThan drops retained entries whose timestamp is older than
// cutoff, folding them into the snapshot first so later reads above
// cutoff remain correct. This is the background eviction task's
// per-chain step (§4.2); reads below the new oldest-retained timestamp
// subsequently fail with StaleRead.
func (c *Chain) EvictOlderThan(cutoff coid.Timestamp) error {
	i := sort.Search(len(c.entries), func(i int) bool { return c.entries[i].TS >= cutoff })
	if i == 0 {
		return nil
	}
	val, producedTS, err := c.Read(c.entries[i-1].TS)
	if err != nil {
		return err
	}
	c.snapshot = Snapshot{TS: producedTS, Value: val}
	c.entries = append([]Entry(nil), c.entries[i:]...)
	c.addCount, c.delCount = 0, 0
	for _, e := range c.entries {
		switch e.Kind {
		case KindAdd:
			c.addCount++
		case KindDelRange:
			c.delCount++
		}
	}
	return nil
}

// Len returns the number of retained (non-checkpointed) entries.
func (c *Chain) Len() int { return len(c.entries) }

// Seed replaces the chain's snapshot wholesale and discards any
// entries, used only by the dump/restore path (§6) to repopulate a
// freshly started server's cache from a flat file before it serves any
// request.
func (c *Chain) Seed(ts coid.Timestamp, val value.Container) {
	c.snapshot = Snapshot{TS: ts, Value: val}
	c.entries = nil
	c.addCount = 0
	c.delCount = 0
}
