package kvtx

import (
	"context"
	"fmt"

	"github.com/dreamware/yesqueldb/internal/coid"
	"github.com/dreamware/yesqueldb/internal/rpcchan"
	"github.com/dreamware/yesqueldb/internal/yerrors"
)

// participant groups one server's share of the read-set and write-set.
type participant struct {
	serverID string
	ch       rpcchan.Channel
	reads    map[coid.COID]coid.Timestamp
	writes   map[coid.COID][]rpcchan.Mutation
}

// groupByServer partitions tx's read-set and write-set by owning server,
// excluding every COID isLocal routes to the memkv store instead: those
// never touch a Resolver and are applied directly by applyLocalWrites. A
// server only needs the read-set entries for COIDs it also holds writes
// for, plus (for OCC/non-commutative) every COID it owns that was read at
// all — so a read-only COID's version check happens on the server that
// owns it even if that server receives no writes.
func (tx *Tx) groupByServer() map[string]*participant {
	groups := make(map[string]*participant)

	get := func(co coid.COID) *participant {
		id, ch := tx.runtime.resolve(co.CID)
		p, ok := groups[id]
		if !ok {
			p = &participant{
				serverID: id,
				ch:       ch,
				reads:    make(map[coid.COID]coid.Timestamp),
				writes:   make(map[coid.COID][]rpcchan.Mutation),
			}
			groups[id] = p
		}
		return p
	}

	for co, ts := range tx.readSet {
		if tx.isLocal(co) {
			continue
		}
		get(co).reads[co] = ts
	}
	for _, co := range tx.writeOrder {
		if tx.isLocal(co) {
			continue
		}
		p := get(co)
		p.writes[co] = tx.writeSet[co]
		if _, ok := p.reads[co]; !ok {
			if ts, ok := tx.readSet[co]; ok {
				p.reads[co] = ts
			}
		}
	}
	return groups
}

// applyLocalWrites installs every queued mutation against an isLocal
// COID directly in the process-wide memkv store. §4.7's backend has no
// prepare/commit protocol of its own, so these writes take effect as soon
// as the enclosing transaction decides to commit, with no 2PC round trip
// and no conflict check against concurrent local writers beyond memkv's
// own single lock.
func (tx *Tx) applyLocalWrites() error {
	for _, co := range tx.writeOrder {
		if !tx.isLocal(co) {
			continue
		}
		for _, m := range tx.writeSet[co] {
			if err := tx.runtime.local.Apply(co, m); err != nil {
				return fmt.Errorf("kvtx: apply local write %s: %w", co, err)
			}
		}
	}
	return nil
}

// Commit runs the two-phase commit protocol (§4.3): local/ephemeral
// writes are installed first since memkv has no prepare phase to
// participate in, then prepare runs against every remaining participant
// server and commit broadcasts at the maximum returned timestamp — unless
// the transaction is read-only (nothing to commit), entirely local
// (nothing left after the local writes install), or touches exactly one
// remote server with 1PC enabled, in which case that server combines
// prepare and commit into a single round trip.
//
// A transaction mixing local and remote writes is not atomic across the
// two backends: the local half installs unconditionally before the
// remote half's conflict check runs, so a remote abort does not roll the
// local writes back.
//
// On success, returns the commit timestamp and moves the transaction to
// Committed. On conflict, the transaction moves to Aborted and the
// returned error wraps yerrors.ErrConflictAbort.
func (tx *Tx) Commit(ctx context.Context) (coid.Timestamp, error) {
	if err := tx.requireActive(); err != nil {
		return 0, err
	}
	tx.state = Preparing

	if tx.ReadOnly() {
		tx.state = Committed
		tx.commitTS = tx.snapshotTS
		return tx.commitTS, nil
	}

	if err := tx.applyLocalWrites(); err != nil {
		tx.state = Aborted
		return 0, fmt.Errorf("kvtx: commit aborted: %w", err)
	}

	groups := tx.groupByServer()
	if len(groups) == 0 {
		// Every COID this transaction touched was local or ephemeral;
		// applyLocalWrites already installed them, nothing left to
		// prepare/commit against a remote server.
		tx.state = Committed
		tx.commitTS = tx.snapshotTS
		return tx.commitTS, nil
	}
	opts := tx.runtime.opts
	onePhase := opts.onePhaseCommit() && len(groups) == 1

	prepared := make([]*participant, 0, len(groups))
	var maxTS coid.Timestamp
	var abortReason string
	aborted := false

	for _, p := range groups {
		resp, err := p.ch.Prepare(ctx, rpcchan.PrepareRequest{
			TxID:                      tx.id,
			SnapshotTS:                tx.snapshotTS,
			ReadSet:                   p.reads,
			Writes:                    p.writes,
			OCC:                       opts.OCC,
			NonCommutative:            opts.NonCommutative,
			DelRangeConflictsDelRange: opts.delRangeConflicts(),
			OnePhaseCommit:            onePhase,
		})
		if err != nil {
			aborted = true
			abortReason = err.Error()
			break
		}
		if resp.Vote != rpcchan.VotePrepared {
			aborted = true
			abortReason = resp.Reason
			break
		}
		prepared = append(prepared, p)
		if resp.CommitTS > maxTS {
			maxTS = resp.CommitTS
		}
	}

	if aborted {
		tx.abortPrepared(ctx, prepared)
		tx.state = Aborted
		return 0, fmt.Errorf("kvtx: commit aborted: %s: %w", abortReason, yerrors.ErrConflictAbort)
	}

	if onePhase {
		// The sole participant already installed the writes as part of
		// Prepare; nothing left to broadcast.
		tx.state = Committed
		tx.commitTS = maxTS
		return tx.commitTS, nil
	}

	for _, p := range prepared {
		if err := p.ch.Commit(ctx, rpcchan.CommitRequest{TxID: tx.id, TS: maxTS}); err != nil {
			// The coordinator has already decided to commit; a commit-phase
			// RPC failure is a durability concern for the server's own
			// recovery path, not grounds to report the transaction aborted.
			continue
		}
	}
	tx.state = Committed
	tx.commitTS = maxTS
	return tx.commitTS, nil
}

// abortPrepared sends ABORT to every server that returned a prepared
// vote before the overall transaction was decided to abort.
func (tx *Tx) abortPrepared(ctx context.Context, prepared []*participant) {
	for _, p := range prepared {
		_ = p.ch.Abort(ctx, rpcchan.AbortRequest{TxID: tx.id})
	}
}

// Abort notifies every remote server the transaction touched to release
// any held locks, then discards the read/write sets. Local/ephemeral
// COIDs need no such notice: applyLocalWrites only runs from Commit, so
// an aborted transaction never installed them in the first place.
func (tx *Tx) Abort(ctx context.Context) error {
	if tx.state != Active && tx.state != Preparing {
		return fmt.Errorf("kvtx: abort called in terminal state %s: %w", tx.state, yerrors.ErrCorruption)
	}
	seen := make(map[string]rpcchan.Channel)
	for co := range tx.readSet {
		if tx.isLocal(co) {
			continue
		}
		id, ch := tx.runtime.resolve(co.CID)
		seen[id] = ch
	}
	for _, co := range tx.writeOrder {
		if tx.isLocal(co) {
			continue
		}
		id, ch := tx.runtime.resolve(co.CID)
		seen[id] = ch
	}
	for _, ch := range seen {
		_ = ch.Abort(ctx, rpcchan.AbortRequest{TxID: tx.id})
	}
	tx.state = Aborted
	return nil
}
