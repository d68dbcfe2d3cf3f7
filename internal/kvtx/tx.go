package kvtx

import (
	"context"
	"fmt"
	"math"

	"github.com/dreamware/yesqueldb/internal/coid"
	"github.com/dreamware/yesqueldb/internal/rpcchan"
	"github.com/dreamware/yesqueldb/internal/value"
	"github.com/dreamware/yesqueldb/internal/yerrors"
)

const (
	minInt64 = math.MinInt64
	maxInt64 = math.MaxInt64
)

// State is a KV transaction's lifecycle state (§4.8):
// Idle → Active → Preparing → Committed | Aborted → Freed.
type State int

const (
	Idle State = iota
	Active
	Preparing
	Committed
	Aborted
	Freed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Active:
		return "active"
	case Preparing:
		return "preparing"
	case Committed:
		return "committed"
	case Aborted:
		return "aborted"
	case Freed:
		return "freed"
	default:
		return "unknown"
	}
}

// savepoint snapshots the write-set at begin_sub(level): writeOrderLen
// truncates newly-touched COIDs away entirely on abort_sub, while
// mutationLens truncates mutations appended to already-touched COIDs.
type savepoint struct {
	writeOrderLen int
	mutationLens  map[coid.COID]int
}

// Tx is one client-side KV transaction: a snapshot timestamp, a read-set
// (COID → version observed), and a write-set (COID → queued mutations),
// committed or aborted as a unit across every server it touched.
//
// A Tx is not safe for concurrent use by multiple goroutines — like the
// original, each connection drives at most one transaction at a time.
type Tx struct {
	runtime *Runtime

	id         string
	state      State
	mode       Mode
	snapshotTS coid.Timestamp
	commitTS   coid.Timestamp

	readSet  map[coid.COID]coid.Timestamp
	writeSet map[coid.COID][]rpcchan.Mutation
	// writeOrder preserves first-touch order so COIDs group onto their
	// server deterministically and sub-transaction rollback is order-aware.
	writeOrder []coid.COID

	depth      int
	savepoints map[int]savepoint
}

// ID returns the transaction's opaque identifier, sent on every RPC.
func (tx *Tx) ID() string { return tx.id }

// State returns the transaction's current lifecycle state.
func (tx *Tx) State() State { return tx.state }

// SnapshotTS returns the timestamp reads are consistent as-of.
func (tx *Tx) SnapshotTS() coid.Timestamp { return tx.snapshotTS }

// CommitTS returns the timestamp the transaction committed at; only
// meaningful once State() is Committed.
func (tx *Tx) CommitTS() coid.Timestamp { return tx.commitTS }

// ReadOnly reports whether the transaction has queued no mutations,
// answering the client API's tx_read_only?(Tx).
func (tx *Tx) ReadOnly() bool { return len(tx.writeSet) == 0 }

// Mode returns the backend mode fixed at Begin.
func (tx *Tx) Mode() Mode { return tx.mode }

// isLocal reports whether co is served by the process-wide memkv store
// rather than a remote server: either the whole transaction runs in
// Local mode, or co's CID carries the ephemeral bit (§4.7 is selected per
// CID regardless of the transaction's own mode).
func (tx *Tx) isLocal(co coid.COID) bool {
	return tx.mode == Local || co.CID.Ephemeral()
}

func (tx *Tx) requireActive() error {
	if tx.state != Active {
		return fmt.Errorf("kvtx: operation invalid in state %s: %w", tx.state, yerrors.ErrCorruption)
	}
	return nil
}

// BeginSub opens a save-point at level: nested begin_sub calls at
// increasing levels are independent and may be released or aborted in
// any order, matching the original's explicit-level savepoint API.
func (tx *Tx) BeginSub(level int) {
	if tx.savepoints == nil {
		tx.savepoints = make(map[int]savepoint)
	}
	lens := make(map[coid.COID]int, len(tx.writeOrder))
	for _, co := range tx.writeOrder {
		lens[co] = len(tx.writeSet[co])
	}
	tx.savepoints[level] = savepoint{writeOrderLen: len(tx.writeOrder), mutationLens: lens}
	tx.depth++
}

// AbortSub rolls the write-set back to the state it was in when
// BeginSub(level) was called, discarding every mutation queued since.
func (tx *Tx) AbortSub(level int) error {
	sp, ok := tx.savepoints[level]
	if !ok {
		return fmt.Errorf("kvtx: no open sub-transaction at level %d", level)
	}
	for _, co := range tx.writeOrder[sp.writeOrderLen:] {
		delete(tx.writeSet, co)
	}
	tx.writeOrder = tx.writeOrder[:sp.writeOrderLen]
	for co, n := range sp.mutationLens {
		if muts, ok := tx.writeSet[co]; ok {
			tx.writeSet[co] = muts[:n]
		}
	}
	delete(tx.savepoints, level)
	tx.depth--
	return nil
}

// ReleaseSub discards the save-point at level without rolling anything
// back: its mutations become part of the enclosing transaction.
func (tx *Tx) ReleaseSub(level int) error {
	if _, ok := tx.savepoints[level]; !ok {
		return fmt.Errorf("kvtx: no open sub-transaction at level %d", level)
	}
	delete(tx.savepoints, level)
	tx.depth--
	return nil
}

func (tx *Tx) appendMutation(co coid.COID, m rpcchan.Mutation) {
	if _, seen := tx.writeSet[co]; !seen {
		tx.writeOrder = append(tx.writeOrder, co)
	}
	tx.writeSet[co] = append(tx.writeSet[co], m)
}

// localWrite returns the most recent whole-value write-set entry queued
// for co, if any, implementing read-your-writes for Get/Put.
func (tx *Tx) localWrite(co coid.COID) (value.Blob, bool) {
	muts := tx.writeSet[co]
	for i := len(muts) - 1; i >= 0; i-- {
		if muts[i].Kind == rpcchan.MutWrite {
			return muts[i].Blob, true
		}
	}
	return value.Blob{}, false
}

// Put replaces co's value entirely with b, queued in the write-set.
func (tx *Tx) Put(co coid.COID, b []byte) error {
	return tx.put(co, value.NewBlob(b))
}

// Put2 is the two-buffer gather variant of Put.
func (tx *Tx) Put2(co coid.COID, b1, b2 []byte) error {
	return tx.put(co, value.Gather(b1, b2))
}

// Put3 is the three-buffer gather variant of Put.
func (tx *Tx) Put3(co coid.COID, b1, b2, b3 []byte) error {
	return tx.put(co, value.Gather(b1, b2, b3))
}

func (tx *Tx) put(co coid.COID, b value.Blob) error {
	if err := tx.requireActive(); err != nil {
		return err
	}
	tx.appendMutation(co, rpcchan.Mutation{Kind: rpcchan.MutWrite, Blob: b})
	return nil
}

// Get fetches co's value as of the transaction's snapshot: write-set
// first (read-your-writes), then the coarse value cache, then the
// owning server — recording the returned version in the read-set.
func (tx *Tx) Get(ctx context.Context, co coid.COID) (value.Container, error) {
	return tx.GetPadded(ctx, co, 0)
}

// GetPadded is Get with pad extra uninitialized trailing bytes reserved
// in the returned blob for in-place growth (only meaningful when the
// stored value is a Blob; ignored for super-values).
func (tx *Tx) GetPadded(ctx context.Context, co coid.COID, pad int) (value.Container, error) {
	if err := tx.requireActive(); err != nil {
		return value.Container{}, err
	}

	if b, ok := tx.localWrite(co); ok {
		if pad > 0 {
			b = value.Padded(b.Bytes(), pad)
		}
		return value.BlobContainer(b), nil
	}

	if tx.isLocal(co) {
		val := tx.runtime.local.Get(co)
		if pad > 0 {
			if b, err := val.AsBlob(); err == nil {
				val = value.BlobContainer(value.Padded(b.Bytes(), pad))
			}
		}
		tx.noteRead(co, tx.snapshotTS)
		return val, nil
	}

	if ts, val, ok := tx.runtime.valueC.Lookup(co); ok && ts <= tx.snapshotTS {
		tx.noteRead(co, ts)
		return val, nil
	}

	_, ch := tx.runtime.resolve(co.CID)
	resp, err := ch.Get(ctx, rpcchan.GetRequest{COID: co, TS: tx.snapshotTS, Pad: pad})
	if err != nil {
		return value.Container{}, fmt.Errorf("kvtx: get %s: %w", co, err)
	}
	tx.noteRead(co, resp.Version)
	tx.runtime.valueC.Refresh(co, resp.Version, resp.Value)
	return resp.Value, nil
}

// noteRead records the version a COID was observed at, keeping the
// oldest recorded version if the COID was already in the read-set (the
// conflict check only needs to know the earliest version a decision was
// made on).
func (tx *Tx) noteRead(co coid.COID, ts coid.Timestamp) {
	if existing, ok := tx.readSet[co]; !ok || ts < existing {
		tx.readSet[co] = ts
	}
}

// GetSchema fetches co through the consistent schema cache (§4.4)
// instead of the coarse value cache GetPadded otherwise consults: a
// cache hit is returned with no round trip at all, valid until
// SchemaCache.Invalidate is called for co or a newer Install supersedes
// it. A miss falls through to GetPadded and installs the
// result, so the cache is populated the first time any transaction
// reads a given schema COID. Callers own deciding which COIDs are
// schema entries (the SQL layer's reserved catalog table ids) — kvtx
// itself has no marker distinguishing a schema COID from any other.
func (tx *Tx) GetSchema(ctx context.Context, co coid.COID) (value.Container, error) {
	if err := tx.requireActive(); err != nil {
		return value.Container{}, err
	}

	if val, ts, ok := tx.runtime.schema.Get(co); ok {
		tx.noteRead(co, ts)
		return val, nil
	}

	val, err := tx.GetPadded(ctx, co, 0)
	if err != nil {
		return value.Container{}, err
	}
	tx.runtime.schema.Install(co, tx.snapshotTS, val)
	return val, nil
}

// readSuper materializes co's current super-value as of this
// transaction: the last server/cache-fetched base, with every
// structural mutation (Add/DelRange/Attr) queued so far in this
// transaction's write-set folded on top, in order.
func (tx *Tx) readSuper(ctx context.Context, co coid.COID) (value.SuperValue, error) {
	base, err := tx.GetPadded(ctx, co, 0)
	if err != nil {
		return value.SuperValue{}, err
	}
	sv, err := base.AsSuper()
	if err != nil {
		return value.SuperValue{}, err
	}

	for _, m := range tx.writeSet[co] {
		switch m.Kind {
		case rpcchan.MutWrite:
			// A whole-value write resets the base; restart the fold.
			sv, err = value.BlobContainer(m.Blob).AsSuper()
			if err != nil {
				return value.SuperValue{}, err
			}
		case rpcchan.MutAdd:
			sv, err = sv.InsertCell(m.Cell, m.Replace)
			if err != nil {
				return value.SuperValue{}, err
			}
		case rpcchan.MutDelRange:
			sv = sv.DeleteRange(m.Lo, m.Hi, m.Interval)
		case rpcchan.MutAttr:
			sv, err = sv.SetAttr(m.AttrID, m.AttrVal)
			if err != nil {
				return value.SuperValue{}, err
			}
		}
	}
	return sv, nil
}

// ReadSuper is the client API's read_super(coid): fetches and
// materializes co as a super-value, including this transaction's own
// uncommitted structural mutations.
func (tx *Tx) ReadSuper(ctx context.Context, co coid.COID) (value.SuperValue, error) {
	if err := tx.requireActive(); err != nil {
		return value.SuperValue{}, err
	}
	return tx.readSuper(ctx, co)
}

// WriteSuper replaces co's entire value with sv, the client API's
// write_super(coid, SuperValue). Since the operation log only knows how
// to write whole blobs, not whole super-values (§3), this is expressed
// as the equivalent mutation sequence: delete everything, then re-add
// every cell and attribute — the same approach a checkpoint's replay
// would reconstruct from.
func (tx *Tx) WriteSuper(co coid.COID, sv value.SuperValue) error {
	if err := tx.requireActive(); err != nil {
		return err
	}
	tx.appendMutation(co, rpcchan.Mutation{
		Kind:     rpcchan.MutDelRange,
		Lo:       minInt64,
		Hi:       maxInt64,
		Interval: value.ClosedClosed,
	})
	for _, cell := range sv.Cells {
		tx.appendMutation(co, rpcchan.Mutation{Kind: rpcchan.MutAdd, Cell: cell, Replace: true})
	}
	for id := 0; id < value.MaxAttrs; id++ {
		if val, ok := sv.Attr(id); ok {
			tx.appendMutation(co, rpcchan.Mutation{Kind: rpcchan.MutAttr, AttrID: id, AttrVal: val})
		}
	}
	return nil
}

// AddCell queues cell for insertion into co's super-value, the client
// API's list_add(coid, cell, key-info, flags). It returns the (count,
// size) hint the B-tree layer uses to decide whether to request a
// split, computed against this transaction's locally-folded view.
func (tx *Tx) AddCell(ctx context.Context, co coid.COID, cell value.Cell, replace bool) (count int, size int, err error) {
	if err := tx.requireActive(); err != nil {
		return 0, 0, err
	}
	sv, err := tx.readSuper(ctx, co)
	if err != nil {
		return 0, 0, err
	}
	sv, err = sv.InsertCell(cell, replace)
	if err != nil {
		return 0, 0, err
	}
	tx.appendMutation(co, rpcchan.Mutation{Kind: rpcchan.MutAdd, Cell: cell, Replace: replace})
	return sv.Len(), sv.ByteSize(), nil
}

// DeleteRange queues a delete-range mutation, the client API's
// list_del_range(coid, interval-kind, cell_lo, cell_hi, key-info).
func (tx *Tx) DeleteRange(co coid.COID, lo, hi int64, kind value.IntervalKind) error {
	if err := tx.requireActive(); err != nil {
		return err
	}
	tx.appendMutation(co, rpcchan.Mutation{Kind: rpcchan.MutDelRange, Lo: lo, Hi: hi, Interval: kind})
	return nil
}

// SetAttr queues an attribute-set mutation, the client API's
// attr_set(coid, attr-id, value).
func (tx *Tx) SetAttr(co coid.COID, attrID int, val uint64) error {
	if err := tx.requireActive(); err != nil {
		return err
	}
	tx.appendMutation(co, rpcchan.Mutation{Kind: rpcchan.MutAttr, AttrID: attrID, AttrVal: val})
	return nil
}

// Free releases the transaction's memory. It may only be called once
// the transaction has reached a terminal state.
func (tx *Tx) Free() error {
	if tx.state != Committed && tx.state != Aborted {
		return fmt.Errorf("kvtx: free called in non-terminal state %s: %w", tx.state, yerrors.ErrCorruption)
	}
	tx.readSet = nil
	tx.writeSet = nil
	tx.writeOrder = nil
	tx.savepoints = nil
	tx.state = Freed
	return nil
}
