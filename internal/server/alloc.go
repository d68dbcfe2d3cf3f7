package server

import (
	"context"
	"sync"

	"github.com/dreamware/yesqueldb/internal/coid"
	"github.com/dreamware/yesqueldb/internal/rpcchan"
)

// cidIssuer mints fresh, per-CID-unique OIDs for this server: a single
// issuer id (this server's own, fixed at construction) and a counter
// that only advances, never reused. This is the server side of §3's
// bookkeeping CID 0: the table of used issuer ids lives here rather than
// in the COID cache, since it's server-local sequence state, not
// versioned application data.
type cidIssuer struct {
	mu      sync.Mutex
	issuer  uint32
	counter uint16
}

// HandleAllocRowID serves ALLOC-ROWID(cid, hint) -> rowid: hands out the
// next unused OID under cid, stamped with hint as its server-hint field
// so the requesting client knows which server to route fresh writes to.
func (s *Server) HandleAllocRowID(ctx context.Context, req rpcchan.AllocRowIDRequest) (rpcchan.AllocRowIDResponse, error) {
	s.mu.Lock()
	iss := s.issuerFor(req.CID)
	s.mu.Unlock()

	iss.mu.Lock()
	defer iss.mu.Unlock()
	if iss.counter == coid.MaxCounter {
		iss.counter = 0
	} else {
		iss.counter++
	}
	return rpcchan.AllocRowIDResponse{RowID: coid.NewOID(iss.issuer, iss.counter, req.Hint)}, nil
}

// issuerFor returns cid's cidIssuer, creating it on first use and
// seeding its issuer id via the server's own Resolver — must be called
// with s.mu held.
func (s *Server) issuerFor(cid coid.CID) *cidIssuer {
	if iss, ok := s.issuers[cid]; ok {
		return iss
	}
	hint, err := s.issuer()
	if err != nil {
		hint = 1 // degrade to a fixed nonzero issuer rather than fail allocation entirely
	}
	iss := &cidIssuer{issuer: hint}
	s.issuers[cid] = iss
	return iss
}
