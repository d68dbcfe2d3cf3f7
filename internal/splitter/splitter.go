// Package splitter drives the §4.6 splitter state machine from the
// client side of the two locations options.h's DTREE_SPLIT_LOCATION
// allows: 1 (client) performs the split itself in a kvtx transaction,
// 2 (server, the default) just asks the owning server to do it over
// rpcchan's SPLIT verb. internal/server carries its own server-side
// variant (server.performSplit) since it works directly against the
// COID cache rather than through a kvtx transaction; this package is
// the half of the splitter a client process runs.
package splitter

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dreamware/yesqueldb/internal/btree"
	"github.com/dreamware/yesqueldb/internal/coid"
	"github.com/dreamware/yesqueldb/internal/kvtx"
	"github.com/dreamware/yesqueldb/internal/rpcchan"
	"github.com/dreamware/yesqueldb/internal/value"
)

// Location mirrors DTREE_SPLIT_LOCATION: 1 is more reliable and better
// tested, 2 is more efficient and is this system's default.
type Location int

const (
	ServerSide Location = 2
	ClientSide Location = 1
)

// Dispatcher drives split work-items reported by btree.Insert/
// InsertWithRetry, applying the same duplicate-suppression window the
// server-side splitter uses (AvoidDuplicateInterval) so a hot leaf
// doesn't queue redundant splits from many concurrent clients.
type Dispatcher struct {
	rt       *kvtx.Runtime
	location Location
	window   time.Duration
	allocOID func(coid.CID) (coid.OID, error)

	mu       sync.Mutex
	lastSeen map[coid.COID]time.Time
}

// New builds a Dispatcher. allocOID mints a fresh OID for a new right
// half when location is ClientSide; it is unused (may be nil) when
// location is ServerSide, since the server mints its own OIDs.
func New(rt *kvtx.Runtime, location Location, window time.Duration, allocOID func(coid.CID) (coid.OID, error)) *Dispatcher {
	return &Dispatcher{
		rt:       rt,
		location: location,
		window:   window,
		allocOID: allocOID,
		lastSeen: make(map[coid.COID]time.Time),
	}
}

// Dispatch handles a work item reported by an insert. A nil item is a
// no-op, so callers can pass btree.Insert's return value directly.
func (d *Dispatcher) Dispatch(ctx context.Context, ch rpcchan.Channel, item *btree.SplitWorkItem) error {
	if item == nil {
		return nil
	}
	if d.suppressed(item.COID) {
		return nil
	}
	switch d.location {
	case ClientSide:
		return d.splitLocally(ctx, item.COID)
	default:
		_, err := ch.Split(ctx, rpcchan.SplitRequest{COID: item.COID})
		return err
	}
}

func (d *Dispatcher) suppressed(co coid.COID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if last, ok := d.lastSeen[co]; ok && time.Since(last) < d.window {
		return true
	}
	d.lastSeen[co] = time.Now()
	return false
}

// splitMinSize mirrors server.SplitMinSize: a node must have at least
// twice this many cells before it can be split in half and keep both
// halves usable.
const splitMinSize = 3

// rightSiblingAttr mirrors server.rightSiblingAttr / btree's own
// leaf-chaining convention.
const rightSiblingAttr = 0

// splitLocally runs the client-side split transaction (§4.6,
// DTREE_SPLIT_LOCATION=1): read the node, halve its cells, write both
// halves, and patch the parent's separator, all inside one kvtx
// transaction so the change is atomic from the client's perspective.
func (d *Dispatcher) splitLocally(ctx context.Context, co coid.COID) error {
	tx := d.rt.Begin(true, false)

	sv, err := tx.ReadSuper(ctx, co)
	if err != nil {
		_ = tx.Abort(ctx)
		return fmt.Errorf("splitter: read %s: %w", co, err)
	}
	if sv.Len() < splitMinSize*2 {
		_ = tx.Abort(ctx)
		return nil
	}

	cells := append([]value.Cell(nil), sv.Cells...)
	sort.Slice(cells, func(i, j int) bool { return sv.KeyInfo.Compare(cells[i].Key, cells[j].Key) < 0 })
	mid := len(cells) / 2
	if mid < splitMinSize {
		mid = splitMinSize
	}
	left, right := cells[:mid], cells[mid:]
	rightMinKey := right[0].Key

	rightOID, err := d.allocOID(co.CID)
	if err != nil {
		_ = tx.Abort(ctx)
		return fmt.Errorf("splitter: alloc right half oid: %w", err)
	}
	rightCOID := coid.COID{CID: co.CID, OID: rightOID}

	leftSV := value.NewSuperValue(sv.KeyInfo)
	for _, c := range left {
		leftSV, _ = leftSV.InsertCell(c, true)
	}
	leftSV, _ = leftSV.SetAttr(rightSiblingAttr, uint64(rightCOID.OID))

	rightSV := value.NewSuperValue(sv.KeyInfo)
	for _, c := range right {
		rightSV, _ = rightSV.InsertCell(c, true)
	}
	if rsAttr, ok := sv.Attr(rightSiblingAttr); ok {
		rightSV, _ = rightSV.SetAttr(rightSiblingAttr, rsAttr)
	}

	if err := tx.WriteSuper(co, leftSV); err != nil {
		_ = tx.Abort(ctx)
		return err
	}
	if err := tx.WriteSuper(rightCOID, rightSV); err != nil {
		_ = tx.Abort(ctx)
		return err
	}

	root := coid.RootCOID(co.CID)
	if co != root {
		parent, err := findParent(ctx, tx, root, co, left[0].Key)
		if err != nil {
			_ = tx.Abort(ctx)
			return err
		}
		parentSV, err := tx.ReadSuper(ctx, parent)
		if err != nil {
			_ = tx.Abort(ctx)
			return err
		}
		parentSV, err = parentSV.InsertCell(value.NewInternalCell(rightMinKey, rightCOID, value.Blob{}), false)
		if err != nil {
			_ = tx.Abort(ctx)
			return err
		}
		if err := tx.WriteSuper(parent, parentSV); err != nil {
			_ = tx.Abort(ctx)
			return err
		}
	} else {
		// co is the root itself: growing the tree by one level is the
		// server-side splitter's job (it owns OID 0 for this CID), so a
		// client-side split of the root aborts the transaction, writes
		// neither half, and returns an error.
		_ = tx.Abort(ctx)
		return fmt.Errorf("splitter: client-side split of root %s is not supported, ask the server", co)
	}

	_, err = tx.Commit(ctx)
	return err
}

// findParent descends from root towards target using key, mirroring
// internal/server's own findParent since neither side stores a parent
// pointer directly on a node.
func findParent(ctx context.Context, tx *kvtx.Tx, root, target coid.COID, key int64) (coid.COID, error) {
	co := root
	var parent coid.COID
	hasParent := false
	for level := 0; level < btree.MaxLevels; level++ {
		if co == target {
			if !hasParent {
				return coid.COID{}, fmt.Errorf("splitter: split target %s has no parent", target)
			}
			return parent, nil
		}
		sv, err := tx.ReadSuper(ctx, co)
		if err != nil {
			return coid.COID{}, err
		}
		child, ok := floorChild(sv, key)
		if !ok {
			return coid.COID{}, fmt.Errorf("splitter: descent to %s hit a leaf %s before finding it", target, co)
		}
		parent, hasParent = co, true
		co = child
	}
	return coid.COID{}, fmt.Errorf("splitter: findParent exceeded %d levels", btree.MaxLevels)
}

// floorChild returns the child of the separator cell whose key is the
// greatest key <= key, or false if sv is a leaf (no cell has a child).
func floorChild(sv value.SuperValue, key int64) (coid.COID, bool) {
	cells := sv.Cells
	for _, c := range cells {
		if !c.HasChild {
			return coid.COID{}, false
		}
	}
	idx := sort.Search(len(cells), func(i int) bool {
		return sv.KeyInfo.Compare(cells[i].Key, key) > 0
	})
	if idx == 0 {
		return coid.COID{}, false
	}
	return cells[idx-1].Child, true
}
