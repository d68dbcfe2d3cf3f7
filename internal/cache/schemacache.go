package cache

import (
	"sync"
	"sync/atomic"

	"github.com/dreamware/yesqueldb/internal/coid"
	"github.com/dreamware/yesqueldb/internal/value"
)

// schemaSlot holds one COID's cached schema entry plus a validity flag
// that Invalidate flips atomically, so the lock-free
// read path (SchemaCache.Get) never blocks on a concurrent invalidation.
type schemaSlot struct {
	ts    coid.Timestamp
	val   value.Container
	valid atomic.Bool
}

// SchemaCache is the client-side consistent cache for table-schema
// entries (§4.4). An entry stays valid until Invalidate is called for
// its COID or a newer Install supersedes it. The cache has no server
// push path of its own: Invalidate runs only when its owner calls it,
// and it affects later Get calls only — a transaction that already read
// the entry is not aborted.
type SchemaCache struct {
	mu    sync.RWMutex
	slots map[coid.COID]*schemaSlot
}

// NewSchemaCache returns an empty SchemaCache.
func NewSchemaCache() *SchemaCache {
	return &SchemaCache{slots: make(map[coid.COID]*schemaSlot)}
}

// Get returns the cached schema for co if present and still valid.
func (s *SchemaCache) Get(co coid.COID) (value.Container, coid.Timestamp, bool) {
	s.mu.RLock()
	slot, ok := s.slots[co]
	s.mu.RUnlock()
	if !ok || !slot.valid.Load() {
		return value.Container{}, 0, false
	}
	return slot.val, slot.ts, true
}

// Install atomically compare-installs co's schema at ts, replacing any
// older or invalidated entry. A newer entry already present wins.
func (s *SchemaCache) Install(co coid.COID, ts coid.Timestamp, val value.Container) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.slots[co]; ok {
		if existing.valid.Load() && existing.ts >= ts {
			return
		}
	}
	slot := &schemaSlot{ts: ts, val: val}
	slot.valid.Store(true)
	s.slots[co] = slot
}

// Invalidate marks co's cached schema stale, so Get misses for co until
// the next Install. Transactions that already read the entry are not
// affected.
func (s *SchemaCache) Invalidate(co coid.COID) {
	s.mu.RLock()
	slot, ok := s.slots[co]
	s.mu.RUnlock()
	if ok {
		slot.valid.Store(false)
	}
}
