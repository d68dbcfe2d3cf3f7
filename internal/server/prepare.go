package server

import (
	"context"

	"github.com/dreamware/yesqueldb/internal/rpcchan"
)

// HandlePrepare serves PREPARE(tx-id, read-set, write-set) (§4.3): it
// runs every applicable conflict check against this server's share of
// the transaction, and on success either installs the writes
// immediately (the 1PC fast path) or holds them pending a follow-up
// COMMIT.
func (s *Server) HandlePrepare(ctx context.Context, req rpcchan.PrepareRequest) (rpcchan.PrepareResponse, error) {
	if reason, ok := s.checkConflicts(req); !ok {
		prepareRequestsTotal.WithLabelValues("abort").Inc()
		return rpcchan.PrepareResponse{Vote: rpcchan.VoteAbort, Reason: reason}, nil
	}

	commitTS := s.clock.Now()

	if req.OnePhaseCommit {
		if err := s.install(commitTS, req.Writes); err != nil {
			prepareRequestsTotal.WithLabelValues("abort").Inc()
			return rpcchan.PrepareResponse{Vote: rpcchan.VoteAbort, Reason: err.Error()}, nil
		}
		prepareRequestsTotal.WithLabelValues("prepared-1pc").Inc()
		return rpcchan.PrepareResponse{Vote: rpcchan.VotePrepared, CommitTS: commitTS}, nil
	}

	s.mu.Lock()
	s.pending[req.TxID] = &pendingTx{writes: req.Writes}
	pendingTxGauge.Set(float64(len(s.pending)))
	s.mu.Unlock()
	prepareRequestsTotal.WithLabelValues("prepared").Inc()
	return rpcchan.PrepareResponse{Vote: rpcchan.VotePrepared, CommitTS: commitTS}, nil
}

// checkConflicts implements §4.3's prepare-time conflict checks:
//
//   - base check (always active): a write-set COID's committed version
//     must not have moved past the timestamp it was read at (every
//     add-cell reads its node first, so this alone catches node-level
//     write-write conflicts without needing OCC).
//   - OCC (req.OCC): additionally conflicts on any read-set COID that
//     isn't also in the write-set, catching write-skew on pure reads.
//   - non-commutative (req.NonCommutative): treats every write-set COID
//     as if it had been read-stamped at the snapshot, closing the
//     "blind write" gap so two writers to the same COID always race.
//   - delrange-conflicts-delrange (req.DelRangeConflictsDelRange): a
//     delrange in this transaction's write-set conflicts with any
//     delrange committed on the same COID since the snapshot.
func (s *Server) checkConflicts(req rpcchan.PrepareRequest) (reason string, ok bool) {
	for co := range req.Writes {
		ts, inReadSet := req.ReadSet[co]
		if !inReadSet {
			continue
		}
		if head := s.cache.HeadTS(co); head > ts {
			return "write-set version stale", false
		}
	}

	if req.NonCommutative {
		for co := range req.Writes {
			if _, inReadSet := req.ReadSet[co]; inReadSet {
				continue
			}
			if head := s.cache.HeadTS(co); head > req.SnapshotTS {
				return "non-commutative write conflict", false
			}
		}
	}

	if req.OCC {
		for co, ts := range req.ReadSet {
			if _, written := req.Writes[co]; written {
				continue
			}
			if head := s.cache.HeadTS(co); head > ts {
				return "occ read-set conflict", false
			}
		}
	}

	if req.DelRangeConflictsDelRange {
		for co, muts := range req.Writes {
			if !hasDelRange(muts) {
				continue
			}
			if last := s.cache.LastDelRangeTS(co); last > req.SnapshotTS {
				return "delrange-delrange conflict", false
			}
		}
	}

	return "", true
}

func hasDelRange(muts []rpcchan.Mutation) bool {
	for _, m := range muts {
		if m.Kind == rpcchan.MutDelRange {
			return true
		}
	}
	return false
}
