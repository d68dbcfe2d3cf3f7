// Package coid implements the container/object identifier types (§3) and
// the monotonic, tiebreaker-augmented clock that produces commit and
// snapshot timestamps.
package coid

import "fmt"

// CID is a 64-bit tagged container identifier. Bit layout (high to low):
//
//	bit 63       ephemeral flag (1 = in-process/ephemeral, 0 = durable)
//	bits 62-32   database id (31 bits)
//	bits 31-0    table id within the database (32 bits)
//
// CID 0 is reserved for bookkeeping (issuer-id allocation, used-db-id
// tracking).
type CID uint64

const (
	ephemeralBit = uint64(1) << 63
	dbIDShift    = 32
	dbIDMask     = uint64(0x7FFFFFFF)
	tableIDMask  = uint64(0xFFFFFFFF)
)

// BookkeepingCID is the reserved CID for server-local bookkeeping state
// (issuer-id counters, used-database-id sets).
const BookkeepingCID CID = 0

// NewCID constructs a CID from its three fields. dbID is truncated to 31
// bits.
func NewCID(ephemeral bool, dbID, tableID uint32) CID {
	c := (uint64(dbID) & dbIDMask) << dbIDShift
	c |= uint64(tableID) & tableIDMask
	if ephemeral {
		c |= ephemeralBit
	}
	return CID(c)
}

// Ephemeral reports whether c addresses an in-process-only container
// (selects the memkv backend instead of the distributed server).
func (c CID) Ephemeral() bool {
	return uint64(c)&ephemeralBit != 0
}

// DBID returns the database-id field.
func (c CID) DBID() uint32 {
	return uint32((uint64(c) >> dbIDShift) & dbIDMask)
}

// TableID returns the table-id field.
func (c CID) TableID() uint32 {
	return uint32(uint64(c) & tableIDMask)
}

func (c CID) String() string {
	kind := "durable"
	if c.Ephemeral() {
		kind = "ephemeral"
	}
	return fmt.Sprintf("CID(%s,db=%d,table=%d)", kind, c.DBID(), c.TableID())
}
