package coid

import (
	"fmt"
	"sync"

	"github.com/dreamware/yesqueldb/internal/yerrors"
)

// OID is a 64-bit composite object identifier within a CID: issuer (32
// bits), counter (16 bits), server hint (16 bits).
type OID uint64

const (
	oidIssuerShift = 32
	oidCounterMask = uint64(0xFFFF)
	oidCounterBits = 16
	oidHintMask    = uint64(0xFFFF)
)

// RootOID is the fixed OID of a container's B-tree root.
const RootOID OID = 0

// MaxCounter is the counter value that forces issuer renewal on the next
// allocation (16-bit counter wraparound).
const MaxCounter = uint16(0xFFFF)

func newOID(issuer uint32, counter, hint uint16) OID {
	o := uint64(issuer) << oidIssuerShift
	o |= uint64(counter) << 16
	o |= uint64(hint) & oidHintMask
	return OID(o)
}

// NewOID builds an OID directly from its three fields. Exported for the
// storage server's ALLOC-ROWID handler, which mints OIDs itself rather
// than through a client-side Allocator.
func NewOID(issuer uint32, counter, hint uint16) OID {
	return newOID(issuer, counter, hint)
}

// Issuer returns the issuer-id field.
func (o OID) Issuer() uint32 {
	return uint32(uint64(o) >> oidIssuerShift)
}

// Counter returns the counter field.
func (o OID) Counter() uint16 {
	return uint16((uint64(o) >> 16) & oidCounterMask)
}

// ServerHint returns the server-hint field.
func (o OID) ServerHint() uint16 {
	return uint16(uint64(o) & oidHintMask)
}

func (o OID) String() string {
	return fmt.Sprintf("OID(issuer=%d,ctr=%d,hint=%d)", o.Issuer(), o.Counter(), o.ServerHint())
}

// IssuerSource allocates a fresh, process-uniquely-owned issuer id. It is
// invoked transactionally against the bookkeeping container (CID 0) by
// whatever KV transaction runtime embeds this package; coid itself stays
// free of a dependency on kvtx.
type IssuerSource func() (uint32, error)

// Allocator hands out fresh OIDs for one process. It holds a private
// issuer id and a counter; when the counter wraps (reaches MaxCounter)
// the allocator requests a new issuer id on the next allocation.
//
// Allocator is safe for concurrent use.
type Allocator struct {
	mu      sync.Mutex
	source  IssuerSource
	issuer  uint32
	counter uint16
	hint    uint16
	have    bool
}

// NewAllocator constructs an Allocator that uses source to mint issuer
// ids and stamps every OID with serverHint (the server this client
// prefers to route fresh writes to).
func NewAllocator(source IssuerSource, serverHint uint16) *Allocator {
	return &Allocator{source: source, hint: serverHint}
}

// Next allocates a fresh OID, renewing the issuer id if none is held yet
// or the counter has wrapped past MaxCounter.
func (a *Allocator) Next() (OID, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.have || a.counter == MaxCounter {
		issuer, err := a.source()
		if err != nil {
			return 0, fmt.Errorf("coid: renew issuer id: %w", err)
		}
		if issuer == 0 {
			return 0, fmt.Errorf("coid: %w: issuer id must be nonzero", yerrors.ErrOutOfResource)
		}
		a.issuer = issuer
		a.counter = 0
		a.have = true
	} else {
		a.counter++
	}

	return newOID(a.issuer, a.counter, a.hint), nil
}
