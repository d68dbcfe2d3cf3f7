// Package yerrors defines the error taxonomy shared by the KV transaction
// runtime, the storage server, and the distributed B-tree layer.
//
// Errors are modeled as sentinel base values wrapped with context via
// fmt.Errorf("...: %w", ...), the same idiom the storage package in the
// dreamware/torua lineage uses for ErrKeyNotFound — callers compare with
// errors.Is rather than type-switching.
package yerrors

import "errors"

// Transaction-abort family (§7). All are retried by a caller-side loop;
// none indicate corruption.
var (
	// ErrConflictAbort is returned when prepare finds a read-set entry
	// overwritten at a timestamp newer than the transaction's snapshot.
	ErrConflictAbort = errors.New("yesqueldb: conflict abort")

	// ErrStaleRead is returned when a read's timestamp predates the
	// oldest retained log entry for the COID.
	ErrStaleRead = errors.New("yesqueldb: stale read")

	// ErrPrepareReject names a prepare rejected by a server-local policy
	// (OCC, non-commutative mode, delrange-conflicts-delrange) rather
	// than by a raw version mismatch. No code in this module returns it:
	// kvtx.Commit reports every abort vote, policy rejections included,
	// as ErrConflictAbort.
	ErrPrepareReject = errors.New("yesqueldb: prepare rejected")

	// ErrTimeoutAbort names a prepare that got no server response in
	// time. No code in this module returns it, and prepare has no
	// deadline of its own.
	ErrTimeoutAbort = errors.New("yesqueldb: timeout abort")
)

// ErrWrongType signals a read requested the wrong value shape (blob vs.
// super-value). This is a programming error and is never retried.
var ErrWrongType = errors.New("yesqueldb: wrong value type")

// Corruption signals an invariant violation: exceeded max tree depth,
// duplicate cell in a sorted node, a log checksum mismatch, etc. Fatal
// to the offending transaction and surfaced unwrapped to the caller.
var ErrCorruption = errors.New("yesqueldb: corruption")

// ErrIOError signals that disk-log or snapshot persistence failed. Fatal
// if durability was requested; degrades to ephemeral operation otherwise.
var ErrIOError = errors.New("yesqueldb: io error")

// OutOfResource family: issuer-id space exhausted, OID counter wrapped
// with no free slot, scratch buffer overflow. Typically fatal.
var ErrOutOfResource = errors.New("yesqueldb: out of resource")

// IsAbort reports whether err is one of the TransactionAbort family,
// i.e. recoverable by retrying the transaction at a fresh timestamp.
func IsAbort(err error) bool {
	switch {
	case errors.Is(err, ErrConflictAbort),
		errors.Is(err, ErrStaleRead),
		errors.Is(err, ErrPrepareReject),
		errors.Is(err, ErrTimeoutAbort):
		return true
	default:
		return false
	}
}
