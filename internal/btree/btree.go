// Package btree implements the distributed B-tree (§4.5): a tree of
// super-values addressed by COID, with every node mutation expressed as
// ordinary KV transaction operations (add-cell, delete-range, set-attr)
// so the tree's consistency rides entirely on the commit protocol
// internal/kvtx implements. A node's shape is just a super-value: leaves
// hold row cells, internal nodes hold separator cells whose Child field
// names the next COID down.
package btree

import (
	"context"
	"fmt"
	"sort"

	"github.com/dreamware/yesqueldb/internal/coid"
	"github.com/dreamware/yesqueldb/internal/kvtx"
	"github.com/dreamware/yesqueldb/internal/value"
	"github.com/dreamware/yesqueldb/internal/yerrors"
)

// rightSiblingAttr is the attribute slot a leaf's right-sibling COID
// lives in, mirroring internal/server/splitter.go's convention (a leaf's
// right pointer is server-local state the splitter also writes).
const rightSiblingAttr = 0

// MaxLevels bounds Lookup/Insert's descent; exceeding it signals a
// corrupt or cyclic tree (options.h's DTREE_MAX_LEVELS).
const MaxLevels = 14

// SplitCellCount and SplitByteSize mirror server.SplitCellCount/
// SplitByteSize: the client-visible thresholds past which Insert queues
// a split work-item. Kept as separate constants (rather than importing
// internal/server, so the client-side tree package does not depend on
// the storage server) since both sides must agree on the same literal
// values, not share a variable.
const (
	SplitCellCount = 50
	SplitByteSize  = 8000
)

// SplitClientMaxRetries bounds the client-side splitter's (and the
// optimistic-insert retry loop's) retry count, preventing livelock when
// the tree is under concurrent modification.
const SplitClientMaxRetries = 100

// Options configures one Tree's behavior, defaulting to the values §4.5
// and §4.6 document.
type Options struct {
	// NoFirstNodeHack disables the sentinel-first-leaf optimization: by
	// default a freshly initialized tree allocates a separate first leaf
	// under an internal root, so the root itself never takes insert
	// traffic directly and never needs to split.
	NoFirstNodeHack bool

	// OptimisticInsert is carried as a configuration flag only: neither
	// Insert nor InsertWithRetry reads it. InsertWithRetry retries the
	// add-cell transaction up to SplitClientMaxRetries on an abort
	// whether or not it is set.
	OptimisticInsert bool

	// DirectSeek enables the client-side leaf cache: Lookup/Insert first
	// try the last leaf COID visited for a key, falling back to a full
	// root descent if that leaf no longer covers the key.
	DirectSeek bool
}

// DefaultOptions matches §4.5's stated defaults: direct-seek, optimistic
// insert, and the first-node hack all enabled; server-side splitting.
func DefaultOptions() Options {
	return Options{DirectSeek: true, OptimisticInsert: true}
}

// SplitWorkItem names a COID whose (count, size) hint exceeded the split
// thresholds on a prior Insert, queued for the splitter (§4.5 step 4).
type SplitWorkItem struct {
	COID coid.COID
}

// Tree is one distributed B-tree, addressed by the CID all its nodes
// share. Tree itself holds no server connection; every operation takes
// the *kvtx.Tx to run its KV operations against, so a caller controls
// the surrounding transaction's lifetime and commit/abort.
type Tree struct {
	cid     coid.CID
	keyInfo value.KeyInfo
	opts    Options

	seekCache *directSeekCache
}

// New returns a Tree over cid, using ki as every node's collation.
func New(cid coid.CID, ki value.KeyInfo, opts Options) *Tree {
	return &Tree{
		cid:     cid,
		keyInfo: ki,
		opts:    opts,
		seekCache: &directSeekCache{
			entries: make(map[int64]coid.COID),
		},
	}
}

func (t *Tree) root() coid.COID { return coid.RootCOID(t.cid) }

// Init creates an empty tree: either a bare empty leaf at the root
// (NoFirstNodeHack), or an internal root with one separator pointing at
// a freshly allocated empty leaf (the default sentinel-first-leaf
// shape, reducing split contention on a brand-new, still-empty tree).
func (t *Tree) Init(ctx context.Context, tx *kvtx.Tx, alloc *coid.Allocator) error {
	if t.opts.NoFirstNodeHack {
		return tx.WriteSuper(t.root(), value.NewSuperValue(t.keyInfo))
	}

	firstOID, err := alloc.Next()
	if err != nil {
		return fmt.Errorf("btree: init: %w", err)
	}
	firstLeaf := coid.COID{CID: t.cid, OID: firstOID}
	if err := tx.WriteSuper(firstLeaf, value.NewSuperValue(t.keyInfo)); err != nil {
		return err
	}

	root := value.NewSuperValue(t.keyInfo)
	sentinel := value.NewInternalCell(minInt64, firstLeaf, value.Blob{})
	root, err = root.InsertCell(sentinel, false)
	if err != nil {
		return fmt.Errorf("btree: init root: %w", err)
	}
	return tx.WriteSuper(t.root(), root)
}

const minInt64 = -1 << 63

// descend walks from the root to the leaf that would contain key,
// returning every node visited along the path (root first, leaf last).
// It is also used by Insert/DeleteRange/Scan, which all need the leaf's
// COID; Lookup additionally needs the leaf's materialized contents,
// already part of path's last entry.
func (t *Tree) descend(ctx context.Context, tx *kvtx.Tx, key int64) (path []pathNode, err error) {
	if t.opts.DirectSeek {
		if leaf, ok := t.seekCache.get(key); ok {
			sv, err := tx.ReadSuper(ctx, leaf)
			if err == nil && coversLeaf(sv, t.keyInfo, key) {
				return []pathNode{{co: leaf, sv: sv}}, nil
			}
			// stale entry: fall through to a full root descent
		}
	}

	co := t.root()
	for level := 0; ; level++ {
		if level >= MaxLevels {
			return nil, fmt.Errorf("btree: descent exceeded %d levels: %w", MaxLevels, yerrors.ErrCorruption)
		}
		sv, err := tx.ReadSuper(ctx, co)
		if err != nil {
			return nil, fmt.Errorf("btree: descend: %w", err)
		}
		path = append(path, pathNode{co: co, sv: sv})
		if isLeaf(sv) {
			if t.opts.DirectSeek {
				t.seekCache.put(key, co)
			}
			return path, nil
		}
		child, err := floorChild(sv, t.keyInfo, key)
		if err != nil {
			return nil, err
		}
		co = child
	}
}

// pathNode is one level visited during a descent.
type pathNode struct {
	co coid.COID
	sv value.SuperValue
}

// isLeaf reports whether sv's cells carry no children, i.e. sv is a leaf
// node rather than a separator (internal) node. An empty node (no cells
// at all, e.g. a freshly created tree) is treated as a leaf.
func isLeaf(sv value.SuperValue) bool {
	for _, c := range sv.Cells {
		if c.HasChild {
			return false
		}
	}
	return true
}

// coversLeaf reports whether a cached leaf is still safe to use for key.
// An empty leaf or one with no right sibling (the rightmost leaf) covers
// any key at or past its first cell. A leaf with a right sibling has an
// upper bound this cache entry doesn't know without another read, so it
// only counts as a hit when key is a cell already present — new keys
// past an unknown split boundary fall back to a full descent rather than
// risk landing in the wrong half.
func coversLeaf(sv value.SuperValue, ki value.KeyInfo, key int64) bool {
	if len(sv.Cells) == 0 {
		return true
	}
	if ki.Compare(key, sv.Cells[0].Key) < 0 {
		return false
	}
	if _, hasRight := sv.Attr(rightSiblingAttr); !hasRight {
		return true
	}
	_, found := sv.Lookup(key)
	return found
}

// floorChild returns the child COID of the separator cell whose key is
// the greatest key <= key (the standard B+tree descent rule: a
// separator cell's key is the smallest key in its subtree).
func floorChild(sv value.SuperValue, ki value.KeyInfo, key int64) (coid.COID, error) {
	cells := sv.Cells
	idx := sort.Search(len(cells), func(i int) bool {
		return ki.Compare(cells[i].Key, key) > 0
	})
	if idx == 0 {
		return coid.COID{}, fmt.Errorf("btree: no separator covers key %d: %w", key, yerrors.ErrCorruption)
	}
	return cells[idx-1].Child, nil
}

// Lookup descends to the leaf that would hold key and returns its cell,
// if present.
func (t *Tree) Lookup(ctx context.Context, tx *kvtx.Tx, key int64) (value.Cell, bool, error) {
	path, err := t.descend(ctx, tx, key)
	if err != nil {
		return value.Cell{}, false, err
	}
	leaf := path[len(path)-1].sv
	cell, ok := leaf.Lookup(key)
	return cell, ok, nil
}

// Insert descends to the target leaf and adds cell, queuing a split
// work-item if the leaf's post-insert (count, size) exceeds the split
// thresholds. It returns the queued work-item, or nil if none was
// needed. Callers pass a non-nil item on to internal/splitter's
// Dispatcher, which decides whether the server or the client itself
// performs the split.
func (t *Tree) Insert(ctx context.Context, tx *kvtx.Tx, cell value.Cell, replace bool) (*SplitWorkItem, error) {
	path, err := t.descend(ctx, tx, cell.Key)
	if err != nil {
		return nil, err
	}
	leaf := path[len(path)-1].co

	count, size, err := tx.AddCell(ctx, leaf, cell, replace)
	if err != nil {
		return nil, fmt.Errorf("btree: insert: %w", err)
	}
	if count > SplitCellCount || size > SplitByteSize {
		return &SplitWorkItem{COID: leaf}, nil
	}
	return nil, nil
}

// InsertWithRetry wraps Insert with the optimistic-insert retry loop
// (§4.5 step 5): begin, descend, attempt the add-cell, and on a
// transaction-abort error retry against a fresh transaction up to
// SplitClientMaxRetries times, bounding livelock under concurrent
// structural changes to the path.
func (t *Tree) InsertWithRetry(ctx context.Context, rt *kvtx.Runtime, cell value.Cell, replace bool) (*SplitWorkItem, error) {
	var lastErr error
	for attempt := 0; attempt < SplitClientMaxRetries; attempt++ {
		tx := rt.Begin(true, false)
		item, err := t.Insert(ctx, tx, cell, replace)
		if err != nil {
			_ = tx.Abort(ctx)
			return nil, err
		}
		if _, err := tx.Commit(ctx); err != nil {
			lastErr = err
			if !yerrors.IsAbort(err) {
				return nil, err
			}
			continue
		}
		return item, nil
	}
	return nil, fmt.Errorf("btree: insert exceeded %d retries: %w", SplitClientMaxRetries, lastErr)
}

// Scan streams up to count cells starting from key (inclusive), crossing
// leaves via the right-sibling attribute until count is satisfied or the
// tree is exhausted. It is restartable: calling it again with the last
// returned cell's key resumes from there.
func (t *Tree) Scan(ctx context.Context, tx *kvtx.Tx, start int64, count int) ([]value.Cell, error) {
	path, err := t.descend(ctx, tx, start)
	if err != nil {
		return nil, err
	}
	leaf := path[len(path)-1]

	out := make([]value.Cell, 0, count)
	sv := leaf.sv
	co := leaf.co
	it := sv.IterateFrom(start)
	for len(out) < count {
		cell, ok := it.Next()
		if ok {
			out = append(out, cell)
			continue
		}

		rsAttr, has := sv.Attr(rightSiblingAttr)
		if !has || rsAttr == 0 {
			break
		}
		co = coid.COID{CID: t.cid, OID: coid.OID(rsAttr)}
		sv, err = tx.ReadSuper(ctx, co)
		if err != nil {
			return nil, fmt.Errorf("btree: scan: %w", err)
		}
		it = sv.IterateFrom(minInt64)
	}
	return out, nil
}

// DeleteRange deletes every cell in [lo, hi] (per kind) across every leaf
// the range covers. It deliberately does not rebalance the tree:
// under-full leaves are left as-is (§4.5).
func (t *Tree) DeleteRange(ctx context.Context, tx *kvtx.Tx, lo, hi int64, kind value.IntervalKind) error {
	path, err := t.descend(ctx, tx, lo)
	if err != nil {
		return err
	}
	leaf := path[len(path)-1]
	co := leaf.co
	sv := leaf.sv

	for {
		if err := tx.DeleteRange(co, lo, hi, kind); err != nil {
			return err
		}
		rsAttr, has := sv.Attr(rightSiblingAttr)
		if !has || rsAttr == 0 {
			return nil
		}
		next := coid.COID{CID: t.cid, OID: coid.OID(rsAttr)}
		nextSV, err := tx.ReadSuper(ctx, next)
		if err != nil {
			return fmt.Errorf("btree: delete-range: %w", err)
		}
		if len(nextSV.Cells) == 0 || t.keyInfo.Compare(nextSV.Cells[0].Key, hi) > 0 {
			return nil
		}
		co, sv = next, nextSV
	}
}
