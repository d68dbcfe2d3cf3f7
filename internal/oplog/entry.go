// Package oplog implements the per-COID in-memory operation log (§4.2):
// an ordered, timestamped chain of mutations that the server replays
// forward from the latest checkpoint to materialize a COID's value.
package oplog

import (
	"github.com/dreamware/yesqueldb/internal/coid"
	"github.com/dreamware/yesqueldb/internal/value"
)

// EntryKind discriminates the five log-entry shapes of §3.
type EntryKind int

const (
	// KindWrite replaces the COID's value with a blob.
	KindWrite EntryKind = iota
	// KindAdd inserts a cell into the COID's super-value.
	KindAdd
	// KindDelRange deletes a key range from the COID's super-value.
	KindDelRange
	// KindAttr sets one attribute of the COID's super-value.
	KindAttr
	// KindCheckpoint is a materialized snapshot that lets replay start
	// later than the beginning of time.
	KindCheckpoint
)

// Entry is one log-entry, timestamped at its commit time.
type Entry struct {
	Kind EntryKind
	TS   coid.Timestamp

	// KindWrite
	Blob value.Blob

	// KindAdd
	Cell    value.Cell
	Replace bool

	// KindDelRange
	Lo, Hi   int64
	Interval value.IntervalKind

	// KindAttr
	AttrID  int
	AttrVal uint64

	// KindCheckpoint
	Snapshot Snapshot
}
