package btree

import (
	"sync"

	"github.com/dreamware/yesqueldb/internal/coid"
)

// directSeekCache remembers, per key, the leaf COID last visited for it
// (§4.5's direct-seek optimization). It is deliberately coarse: one
// entry per exact key rather than per key-range, since a node's key
// range isn't known without reading it anyway, and a stale hit is
// already by design cheap to detect (coversLeaf) and recover from (a
// full root descent).
type directSeekCache struct {
	mu      sync.RWMutex
	entries map[int64]coid.COID
}

func (c *directSeekCache) get(key int64) (coid.COID, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	co, ok := c.entries[key]
	return co, ok
}

func (c *directSeekCache) put(key int64, co coid.COID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = co
}
