// Package rpcchan defines the RPC channel abstraction the KV transaction
// runtime consumes to talk to a storage server (§6's server RPCs), plus
// two concrete transports: an in-process channel for same-binary tests
// and single-node deployments, and an HTTP+JSON channel in the style of
// johnjansen-torua's cmd/node and cmd/coordinator handlers.
//
// The wire layer and framing are explicitly out of scope for the core
// (spec §1); this package only needs to preserve what §6 requires:
// COID, timestamp, and length-prefixed value payloads travel intact.
package rpcchan

import (
	"context"

	"github.com/dreamware/yesqueldb/internal/coid"
	"github.com/dreamware/yesqueldb/internal/value"
)

// Mutation is one write-set entry sent on PREPARE, mirroring oplog's
// entry shapes minus the commit timestamp (the server assigns that).
type MutationKind int

const (
	MutWrite MutationKind = iota
	MutAdd
	MutDelRange
	MutAttr
)

type Mutation struct {
	Kind MutationKind

	Blob value.Blob

	Cell    value.Cell
	Replace bool

	Lo, Hi   int64
	Interval value.IntervalKind

	AttrID  int
	AttrVal uint64
}

// Vote is a server's PREPARE response.
type Vote int

const (
	VotePrepared Vote = iota
	VoteAbort
)

// GetRequest/GetResponse back the GET verb.
type GetRequest struct {
	COID coid.COID
	TS   coid.Timestamp
	Pad  int
}

type GetResponse struct {
	Value   value.Container
	Version coid.Timestamp
}

// PrepareRequest/PrepareResponse back the PREPARE verb. ReadSet records
// the version (timestamp) at which each COID was read; Writes carries
// the piggybacked write-set when its encoded size is within the
// WriteOnPreparePiggyback threshold (empty otherwise, meaning the
// writes will follow in a later message — out of scope here since the
// core always piggybacks in-process).
type PrepareRequest struct {
	TxID       string
	SnapshotTS coid.Timestamp
	ReadSet    map[coid.COID]coid.Timestamp
	Writes     map[coid.COID][]Mutation

	OCC                       bool
	NonCommutative            bool
	DelRangeConflictsDelRange bool

	// OnePhaseCommit tells the server exactly one participant is involved
	// in this transaction: if prepare succeeds, the server installs the
	// writes immediately (at its chosen commit timestamp) instead of
	// waiting for a follow-up COMMIT, collapsing prepare+commit into one
	// round trip (§4.3's 1PC fast path).
	OnePhaseCommit bool
}

type PrepareResponse struct {
	Vote     Vote
	CommitTS coid.Timestamp
	Reason   string
}

// CommitRequest/AbortRequest back COMMIT/ABORT.
type CommitRequest struct {
	TxID string
	TS   coid.Timestamp
}

type AbortRequest struct {
	TxID string
}

// SplitRequest/SplitResponse back the SPLIT verb: requests the server
// consider (and possibly coalesce/suppress) a split of the given node.
type SplitRequest struct {
	COID   coid.COID
	IsLeaf bool
}

type SplitResponse struct {
	Accepted bool
}

// AllocRowIDRequest/Response back ALLOC-ROWID: issuer-id/OID-space
// allocation from the bookkeeping container.
type AllocRowIDRequest struct {
	CID  coid.CID
	Hint uint16
}

type AllocRowIDResponse struct {
	RowID coid.OID
}

// Channel is the client-facing RPC surface the KV transaction runtime
// depends on. One Channel instance addresses one server.
type Channel interface {
	Get(ctx context.Context, req GetRequest) (GetResponse, error)
	Prepare(ctx context.Context, req PrepareRequest) (PrepareResponse, error)
	Commit(ctx context.Context, req CommitRequest) error
	Abort(ctx context.Context, req AbortRequest) error
	Split(ctx context.Context, req SplitRequest) (SplitResponse, error)
	AllocRowID(ctx context.Context, req AllocRowIDRequest) (AllocRowIDResponse, error)
}

// Handler is the server-facing surface a storage server implements; both
// InProcess and the HTTP transport dispatch onto it.
type Handler interface {
	HandleGet(ctx context.Context, req GetRequest) (GetResponse, error)
	HandlePrepare(ctx context.Context, req PrepareRequest) (PrepareResponse, error)
	HandleCommit(ctx context.Context, req CommitRequest) error
	HandleAbort(ctx context.Context, req AbortRequest) error
	HandleSplit(ctx context.Context, req SplitRequest) (SplitResponse, error)
	HandleAllocRowID(ctx context.Context, req AllocRowIDRequest) (AllocRowIDResponse, error)
}
