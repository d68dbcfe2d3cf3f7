// Package kvtx implements the client-side KV transaction runtime (§4.3):
// begin/get/put/add-cell/delete-range/set-attr/commit/abort/free plus
// save-point sub-transactions, talking to one or more servers through
// rpcchan.Channel and consulting the process-wide client caches (§4.4).
package kvtx

import (
	"github.com/dreamware/yesqueldb/internal/cache"
	"github.com/dreamware/yesqueldb/internal/coid"
	"github.com/dreamware/yesqueldb/internal/memkv"
	"github.com/dreamware/yesqueldb/internal/rpcchan"
	"github.com/google/uuid"
)

// Mode is a transaction's backend as chosen at begin(remote?) (§3): fixed
// for the transaction's whole lifetime.
type Mode int

const (
	// Remote is the normal mode: durable CIDs route through the owning
	// server via rpcchan, ephemeral CIDs still route to the local memkv
	// store regardless of mode.
	Remote Mode = iota
	// Local forces every COID the transaction touches, durable or not,
	// through the process-wide memkv store — single-node testing without
	// a real server to resolve to.
	Local
)

// Resolver maps a CID to the server that owns it. All OIDs within a CID
// live on the same server, so resolution happens at CID granularity.
type Resolver func(cid coid.CID) (serverID string, ch rpcchan.Channel)

// Runtime is the process-wide client context every Tx is begun from: the
// clock used to assign snapshot timestamps, the server resolver, and the
// two client-side caches (§4.4). One Runtime per process, shared by every
// connection's transactions.
type Runtime struct {
	clock   *coid.Clock
	resolve Resolver
	opts    Options
	schema  *cache.SchemaCache
	valueC  *cache.ValueCache
	local   *memkv.Store
}

// NewRuntime builds a Runtime. resolve must be non-nil; a single-server
// deployment can return the same (id, channel) pair unconditionally. The
// local memkv store backs both Local-mode transactions and every
// ephemeral CID a Remote-mode transaction happens to touch (§4.7).
func NewRuntime(clock *coid.Clock, resolve Resolver, opts Options) *Runtime {
	return &Runtime{
		clock:   clock,
		resolve: resolve,
		opts:    opts,
		schema:  cache.NewSchemaCache(),
		valueC:  cache.NewValueCache(),
		local:   memkv.New(),
	}
}

// SchemaCache exposes the runtime's consistent schema cache, e.g. for a
// server-pushed invalidation listener to call Invalidate on.
func (r *Runtime) SchemaCache() *cache.SchemaCache { return r.schema }

// Begin starts a new top-level transaction with a fresh snapshot
// timestamp. remote and deferred mirror the client API's begin(remote?,
// deferred?): remote selects whether durable CIDs route to their owning
// server (Remote) or to the local memkv store alongside ephemeral ones
// (Local); deferred takes the timestamp from the clock's Defer with a
// zero offset, so it is not backdated: it is the same fresh, monotonic
// value Now would return.
func (r *Runtime) Begin(remote, deferred bool) *Tx {
	ts := r.clock.Now()
	if deferred {
		ts = r.clock.Defer(0)
	}

	mode := Local
	if remote {
		mode = Remote
	}

	return &Tx{
		runtime:    r,
		id:         uuid.NewString(),
		state:      Active,
		mode:       mode,
		snapshotTS: ts,
		readSet:    make(map[coid.COID]coid.Timestamp),
		writeSet:   make(map[coid.COID][]rpcchan.Mutation),
		depth:      1,
	}
}
