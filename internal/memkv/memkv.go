// Package memkv implements the in-memory KV backend of §4.7: a simpler
// store selected by the ephemeral bit in a CID, used for temp tables and
// single-node testing. Unlike the durable path (cache.CoidCache plus an
// oplog.Chain per COID), there is no log, no checkpointing, and no
// retention window — begin/commit/abort are no-ops and every get/put
// just takes the single process-wide lock.
package memkv

import (
	"sync"

	"github.com/dreamware/yesqueldb/internal/coid"
	"github.com/dreamware/yesqueldb/internal/rpcchan"
	"github.com/dreamware/yesqueldb/internal/value"
	"github.com/dreamware/yesqueldb/internal/yerrors"
)

// Store is a process-wide hash map COID → value, guarded by a single
// reader-writer lock (§4.7, §5's shared-resource policy).
type Store struct {
	mu    sync.RWMutex
	table map[coid.COID]value.Container
}

// New returns an empty Store.
func New() *Store {
	return &Store{table: make(map[coid.COID]value.Container)}
}

// Get returns co's current value, or an empty super-value if co has
// never been written (mirroring a lazily-created root COID on the
// durable path).
func (s *Store) Get(co coid.COID) value.Container {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.table[co]
	if !ok {
		return value.SuperContainer(value.NewSuperValue(value.DefaultKeyInfo))
	}
	return v
}

// Apply installs a single mutation against co's current value,
// immediately and without versioning — there is no snapshot isolation
// in the ephemeral store, only last-writer-wins under the lock.
func (s *Store) Apply(co coid.COID, m rpcchan.Mutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.table[co]
	if !ok {
		cur = value.SuperContainer(value.NewSuperValue(value.DefaultKeyInfo))
	}

	switch m.Kind {
	case rpcchan.MutWrite:
		s.table[co] = value.BlobContainer(m.Blob)
		return nil
	case rpcchan.MutAdd:
		sv, err := cur.AsSuper()
		if err != nil {
			return err
		}
		sv, err = sv.InsertCell(m.Cell, m.Replace)
		if err != nil {
			return err
		}
		s.table[co] = value.SuperContainer(sv)
		return nil
	case rpcchan.MutDelRange:
		sv, err := cur.AsSuper()
		if err != nil {
			return err
		}
		s.table[co] = value.SuperContainer(sv.DeleteRange(m.Lo, m.Hi, m.Interval))
		return nil
	case rpcchan.MutAttr:
		sv, err := cur.AsSuper()
		if err != nil {
			return err
		}
		sv, err = sv.SetAttr(m.AttrID, m.AttrVal)
		if err != nil {
			return err
		}
		s.table[co] = value.SuperContainer(sv)
		return nil
	default:
		return yerrors.ErrCorruption
	}
}

// Delete removes co entirely, used when a temp table is dropped.
func (s *Store) Delete(co coid.COID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.table, co)
}

// Begin, Commit, and Abort are no-ops: the ephemeral store has no
// transaction lifecycle of its own (§4.7). They exist so memkv.Store can
// satisfy the same shape of calls the durable path's transaction runtime
// makes, without the caller needing to special-case the ephemeral bit at
// every call site beyond choosing which backend to dispatch to.
func (s *Store) Begin() error  { return nil }
func (s *Store) Commit() error { return nil }
func (s *Store) Abort() error  { return nil }
