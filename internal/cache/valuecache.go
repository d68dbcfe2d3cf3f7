package cache

import (
	"sync"

	"github.com/dreamware/yesqueldb/internal/coid"
	"github.com/dreamware/yesqueldb/internal/value"
)

// valueSlot is one entry of the coarse value cache: the last-read
// (timestamp, value) pair for a COID.
type valueSlot struct {
	ts  coid.Timestamp
	val value.Container
}

// ValueCache is the client-side coarse cache of §4.4: it remembers the
// last value read for a COID and is consulted opportunistically by
// Get, but every hit is still re-validated through the transaction's
// prepare path — this cache only saves a network round-trip on the
// read path, it never substitutes for the version check prepare does.
type ValueCache struct {
	mu    sync.RWMutex
	slots map[coid.COID]valueSlot
}

// NewValueCache returns an empty ValueCache.
func NewValueCache() *ValueCache {
	return &ValueCache{slots: make(map[coid.COID]valueSlot)}
}

// Lookup returns the cached (timestamp, value) for co, if any.
func (v *ValueCache) Lookup(co coid.COID) (coid.Timestamp, value.Container, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	slot, ok := v.slots[co]
	return slot.ts, slot.val, ok
}

// Refresh installs (ts, val) for co if ts is newer than what's cached,
// matching the original GlobalCache::refresh contract: only refresh
// if the given value is newer than what's in the cache, and make an
// independent copy when doing so.
func (v *ValueCache) Refresh(co coid.COID, ts coid.Timestamp, val value.Container) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if existing, ok := v.slots[co]; ok && existing.ts >= ts {
		return false
	}
	v.slots[co] = valueSlot{ts: ts, val: val.Clone()}
	return true
}

// Evict removes co's cached entry, returning whether it was present.
func (v *ValueCache) Evict(co coid.COID) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.slots[co]
	delete(v.slots, co)
	return ok
}
