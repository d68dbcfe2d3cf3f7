package server

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dreamware/yesqueldb/internal/coid"
	"github.com/dreamware/yesqueldb/internal/oplog"
	"github.com/dreamware/yesqueldb/internal/rpcchan"
	"github.com/dreamware/yesqueldb/internal/value"
)

// SplitMinSize is the minimum number of cells each half of a split keeps,
// so a node needs at least twice this many cells before it can be split
// (options.h's DTREE_SPLIT_MINSIZE).
const SplitMinSize = 3

// SplitCellCount and SplitByteSize are the default thresholds past which
// an inserted-into node is queued for a split (§4.5 step 3).
const (
	SplitCellCount = 50
	SplitByteSize  = 8000
)

// splitCoordinator runs the server-side splitter state machine of §4.6:
// Stable -> RequestPending -> Splitting -> Stable, with duplicate
// suppression within AvoidDuplicateInterval.
type splitCoordinator struct {
	s *Server

	mu       sync.Mutex
	lastSeen map[coid.COID]time.Time
	inFlight map[coid.COID]bool
}

func newSplitCoordinator(s *Server) *splitCoordinator {
	return &splitCoordinator{
		s:        s,
		lastSeen: make(map[coid.COID]time.Time),
		inFlight: make(map[coid.COID]bool),
	}
}

// maybeRequestSplit is called after installing writes to co: if co's
// current value exceeds the split thresholds, it requests a split,
// subject to duplicate suppression.
func (s *Server) maybeRequestSplit(co coid.COID) {
	val, _, err := s.cache.Read(co, s.clock.Now())
	if err != nil {
		return
	}
	sv, err := val.AsSuper()
	if err != nil {
		return // a blob-shaped COID is never a B-tree node; nothing to split
	}
	if sv.Len() <= SplitCellCount && sv.ByteSize() <= SplitByteSize {
		return
	}
	s.splitter.request(co, s.cfg.AllSplitsUnconditional, s.cfg.AvoidDuplicateInterval)
}

// request enqueues co for a split unless suppressed by the duplicate
// window or an in-flight split for the same COID.
func (c *splitCoordinator) request(co coid.COID, unconditional bool, window time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.inFlight[co] {
		return
	}
	if !unconditional {
		if last, ok := c.lastSeen[co]; ok && time.Since(last) < window {
			return
		}
	}
	c.lastSeen[co] = time.Now()
	c.inFlight[co] = true

	go func() {
		if err := c.s.performSplit(co); err != nil {
			c.s.log.Error().Err(err).Stringer("coid", co).Msg("split failed")
		}
		c.mu.Lock()
		delete(c.inFlight, co)
		c.mu.Unlock()
	}()
}

// HandleSplit serves SPLIT(coid, parm): the RPC entry point a client (in
// the client-side splitter variant, or an admin tool) uses to ask this
// server to consider splitting co. It runs the same request path as an
// internally-triggered split, so duplicate suppression applies uniformly
// regardless of who asked.
func (s *Server) HandleSplit(ctx context.Context, req rpcchan.SplitRequest) (rpcchan.SplitResponse, error) {
	s.splitter.request(req.COID, s.cfg.AllSplitsUnconditional, s.cfg.AvoidDuplicateInterval)
	return rpcchan.SplitResponse{Accepted: true}, nil
}

// performSplit runs the split transaction of §4.6 step (a)-(e): read the
// node, choose a median cell, create a new COID for the right half,
// rewrite both halves, and patch the parent's separator. Since the
// node's COID carries no parent pointer, the parent is located by
// descending from the CID's root using the node's own minimum key (it
// still routes to the pre-split node, so the last internal node visited
// before reaching it is the parent) — the same rule the B-tree layer's
// own descent uses. If co is itself the root, there is no parent to
// patch: the split instead grows the tree by one level, turning the
// root into a fresh two-child separator node.
//
// §4.6's correctness guarantee is that a split conflicts with concurrent
// inserts into the same node rather than racing them. co's read and
// rewrite happen inside a single CoidCache.WithLock call, and the
// parent's read and rewrite happen inside a second one: co's per-COID
// lock is held for the whole read-split-rewrite sequence, so a
// concurrent HandleCommit install for co blocks until the split has
// finished rather than interleaving with it (the prior detached
// read-then-separately-locked-rewrite left exactly that window open,
// racing a lost update against the full-range DelRange).
func (s *Server) performSplit(co coid.COID) error {
	root := coid.RootCOID(co.CID)
	commitTS := s.clock.Now()

	var rightCOID coid.COID
	var leftMinKey, rightMinKey int64
	var grewRoot, didSplit bool

	err := s.cache.WithLock(co, func(chain *oplog.Chain) error {
		val, _, err := chain.Read(commitTS)
		if err != nil {
			return err
		}
		sv, err := val.AsSuper()
		if err != nil {
			return nil // a blob-shaped COID is never a B-tree node; nothing to split
		}
		if sv.Len() < SplitMinSize*2 {
			return nil // too small to split in half and keep both halves >= SplitMinSize
		}

		cells := append([]value.Cell(nil), sv.Cells...)
		sort.Slice(cells, func(i, j int) bool { return sv.KeyInfo.Compare(cells[i].Key, cells[j].Key) < 0 })

		mid := len(cells) / 2
		if mid < SplitMinSize {
			mid = SplitMinSize
		}
		left, right := cells[:mid], cells[mid:]
		leftMinKey, rightMinKey = left[0].Key, right[0].Key

		if co == root {
			leftLeaf := coid.COID{CID: co.CID, OID: s.allocSplitOID(co.CID)}
			rightLeaf := coid.COID{CID: co.CID, OID: s.allocSplitOID(co.CID)}

			leftSV := buildHalf(sv.KeyInfo, left, uint64(rightLeaf.OID))
			rightSV := buildHalf(sv.KeyInfo, right, 0)
			if rsAttr, ok := sv.Attr(rightSiblingAttr); ok {
				rightSV, _ = rightSV.SetAttr(rightSiblingAttr, rsAttr)
			}

			if err := s.rewrite(leftLeaf, commitTS, leftSV); err != nil {
				return err
			}
			if err := s.rewrite(rightLeaf, commitTS, rightSV); err != nil {
				return err
			}

			// The new root's left separator must cover every key below
			// the tree's previous minimum, not just leftMinKey, or a
			// later lookup/insert for a smaller key finds no covering
			// separator (§8.4's (-inf, rightMinKey) coverage invariant).
			newRoot := value.NewSuperValue(sv.KeyInfo)
			newRoot, _ = newRoot.InsertCell(value.NewInternalCell(minInt64, leftLeaf, value.Blob{}), false)
			newRoot, _ = newRoot.InsertCell(value.NewInternalCell(rightMinKey, rightLeaf, value.Blob{}), false)
			if err := rewriteChain(chain, commitTS, newRoot); err != nil {
				return err
			}
			grewRoot = true
			return nil
		}

		rightCOID = coid.COID{CID: co.CID, OID: s.allocSplitOID(co.CID)}
		leftSV := buildHalf(sv.KeyInfo, left, uint64(rightCOID.OID))
		rightSV := buildHalf(sv.KeyInfo, right, 0)
		if rsAttr, ok := sv.Attr(rightSiblingAttr); ok {
			rightSV, _ = rightSV.SetAttr(rightSiblingAttr, rsAttr)
		}

		if err := s.rewrite(rightCOID, commitTS, rightSV); err != nil {
			return err
		}
		if err := rewriteChain(chain, commitTS, leftSV); err != nil {
			return err
		}
		didSplit = true
		return nil
	})
	if err != nil {
		return err
	}
	if grewRoot {
		splitsTotal.Inc()
		return nil
	}
	if !didSplit {
		return nil
	}

	parent, err := s.findParent(root, co, leftMinKey)
	if err != nil {
		return err
	}
	err = s.cache.WithLock(parent, func(chain *oplog.Chain) error {
		parentVal, _, err := chain.Read(commitTS)
		if err != nil {
			return err
		}
		parentSV, err := parentVal.AsSuper()
		if err != nil {
			return err
		}
		parentSV, err = parentSV.InsertCell(value.NewInternalCell(rightMinKey, rightCOID, value.Blob{}), false)
		if err != nil {
			return err
		}
		return rewriteChain(chain, commitTS, parentSV)
	})
	if err != nil {
		return err
	}
	splitsTotal.Inc()
	return nil
}

// buildHalf assembles a node's super-value from its half of the sorted
// cell list, chaining rightSibling as its right-sibling attribute
// (0 means "no right sibling" and is left unset).
func buildHalf(ki value.KeyInfo, half []value.Cell, rightSibling uint64) value.SuperValue {
	sv := value.NewSuperValue(ki)
	for _, c := range half {
		sv, _ = sv.InsertCell(c, true)
	}
	if rightSibling != 0 {
		sv, _ = sv.SetAttr(rightSiblingAttr, rightSibling)
	}
	return sv
}

// findParent descends from root towards target using key (which still
// routes to target's pre-split contents), returning the last internal
// node visited before target. It is the server-local mirror of the
// B-tree layer's own descent rule, used only by the splitter since the
// server has no other way to learn a node's parent.
func (s *Server) findParent(root, target coid.COID, key int64) (coid.COID, error) {
	co := root
	var parent coid.COID
	hasParent := false
	for level := 0; level < maxSplitDescendLevels; level++ {
		if co == target {
			if !hasParent {
				return coid.COID{}, fmt.Errorf("server: split target %s has no parent", target)
			}
			return parent, nil
		}
		val, _, err := s.cache.Read(co, s.clock.Now())
		if err != nil {
			return coid.COID{}, err
		}
		sv, err := val.AsSuper()
		if err != nil {
			return coid.COID{}, err
		}
		if isLeafSV(sv) {
			return coid.COID{}, fmt.Errorf("server: descent to %s hit a leaf %s before finding it", target, co)
		}
		child, err := floorChildServer(sv, key)
		if err != nil {
			return coid.COID{}, err
		}
		parent, hasParent = co, true
		co = child
	}
	return coid.COID{}, fmt.Errorf("server: findParent exceeded %d levels", maxSplitDescendLevels)
}

const maxSplitDescendLevels = 14

func isLeafSV(sv value.SuperValue) bool {
	for _, c := range sv.Cells {
		if c.HasChild {
			return false
		}
	}
	return true
}

// floorChildServer returns the child COID of the separator cell whose
// key is the greatest key <= key, mirroring internal/btree's own
// descent rule (kept as a local, unexported copy rather than an import
// of internal/btree, since the storage server has no business depending
// on the client-side tree package).
func floorChildServer(sv value.SuperValue, key int64) (coid.COID, error) {
	cells := sv.Cells
	idx := sort.Search(len(cells), func(i int) bool {
		return sv.KeyInfo.Compare(cells[i].Key, key) > 0
	})
	if idx == 0 {
		return coid.COID{}, fmt.Errorf("server: no separator covers key %d", key)
	}
	return cells[idx-1].Child, nil
}

// rewrite installs sv as co's entire value at ts via the log's mutation
// vocabulary: a full-range delete followed by one Add per cell and one
// Attr per set attribute, mirroring kvtx.Tx.WriteSuper's expansion since
// the op-log has no single "replace the whole super-value" entry kind.
func (s *Server) rewrite(co coid.COID, ts coid.Timestamp, sv value.SuperValue) error {
	if err := s.cache.Apply(co, oplog.Entry{Kind: oplog.KindDelRange, TS: ts, Lo: minInt64, Hi: maxInt64, Interval: value.ClosedClosed}); err != nil {
		return err
	}
	for _, c := range sv.Cells {
		if err := s.cache.Apply(co, oplog.Entry{Kind: oplog.KindAdd, TS: ts, Cell: c, Replace: true}); err != nil {
			return err
		}
	}
	for id := 0; id < value.MaxAttrs; id++ {
		if val, ok := sv.Attr(id); ok {
			if err := s.cache.Apply(co, oplog.Entry{Kind: oplog.KindAttr, TS: ts, AttrID: id, AttrVal: val}); err != nil {
				return err
			}
		}
	}
	return nil
}

// rewriteChain installs sv as the entire value of an already-locked chain
// at ts, the same full-range-delete-then-readd expansion rewrite uses,
// but driven directly against chain instead of through CoidCache.Apply.
// Callers that already hold co's lock (via CoidCache.WithLock) must use
// this instead of rewrite/cache.Apply, which would deadlock re-entering
// the same non-reentrant per-COID lock.
func rewriteChain(chain *oplog.Chain, ts coid.Timestamp, sv value.SuperValue) error {
	if err := chain.Apply(oplog.Entry{Kind: oplog.KindDelRange, TS: ts, Lo: minInt64, Hi: maxInt64, Interval: value.ClosedClosed}); err != nil {
		return err
	}
	for _, c := range sv.Cells {
		if err := chain.Apply(oplog.Entry{Kind: oplog.KindAdd, TS: ts, Cell: c, Replace: true}); err != nil {
			return err
		}
	}
	for id := 0; id < value.MaxAttrs; id++ {
		if val, ok := sv.Attr(id); ok {
			if err := chain.Apply(oplog.Entry{Kind: oplog.KindAttr, TS: ts, AttrID: id, AttrVal: val}); err != nil {
				return err
			}
		}
	}
	if chain.NeedsCheckpoint() {
		return chain.Checkpoint()
	}
	return nil
}

// rightSiblingAttr is the attribute slot a leaf's right-sibling OID
// lives in (§4.5's Scan uses this to stream across leaves).
const rightSiblingAttr = 0

const (
	minInt64 = -1 << 63
	maxInt64 = 1<<63 - 1
)

func (s *Server) allocSplitOID(cid coid.CID) coid.OID {
	s.mu.Lock()
	iss := s.issuerFor(cid)
	s.mu.Unlock()
	iss.mu.Lock()
	defer iss.mu.Unlock()
	if iss.counter == coid.MaxCounter {
		iss.counter = 0
	} else {
		iss.counter++
	}
	return coid.NewOID(iss.issuer, iss.counter, 0)
}
