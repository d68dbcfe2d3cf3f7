package value

import "github.com/dreamware/yesqueldb/internal/coid"

// Cell is the unit inside a super-value: a (numeric key, payload,
// optional child COID) triple. Child is the zero COID on leaves.
type Cell struct {
	Key     int64
	Payload Blob
	Child   coid.COID
	HasChild bool
}

// NewLeafCell builds a leaf cell (no child COID).
func NewLeafCell(key int64, payload Blob) Cell {
	return Cell{Key: key, Payload: payload}
}

// NewInternalCell builds an internal cell separating child from its
// siblings at key.
func NewInternalCell(key int64, child coid.COID, payload Blob) Cell {
	return Cell{Key: key, Payload: payload, Child: child, HasChild: true}
}

// Clone returns a deep copy of the cell, safe for independent mutation.
func (c Cell) Clone() Cell {
	c.Payload = c.Payload.Clone()
	return c
}
