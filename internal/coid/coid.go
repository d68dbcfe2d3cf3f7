package coid

import (
	"fmt"
	"strconv"
	"strings"
)

// COID is the primary addressable unit in yesqueldb: a (CID, OID) pair.
type COID struct {
	CID CID
	OID OID
}

// RootCOID returns the fixed-OID root COID of cid's container. The root
// COID of a freshly created container is created lazily on first access;
// RootCOID just names the address, it does not allocate anything.
func RootCOID(cid CID) COID {
	return COID{CID: cid, OID: RootOID}
}

func (c COID) String() string {
	return fmt.Sprintf("%s/%s", c.CID, c.OID)
}

// MarshalText renders c as "<cid>:<oid>" hex, letting COID serve as a
// JSON object-map key (Go's encoding/json requires TextMarshaler for
// non-string map keys) — used by the HTTP RPC transport.
func (c COID) MarshalText() ([]byte, error) {
	return []byte(strconv.FormatUint(uint64(c.CID), 16) + ":" + strconv.FormatUint(uint64(c.OID), 16)), nil
}

// UnmarshalText parses the format MarshalText produces.
func (c *COID) UnmarshalText(text []byte) error {
	parts := strings.SplitN(string(text), ":", 2)
	if len(parts) != 2 {
		return fmt.Errorf("coid: malformed COID text %q", text)
	}
	cidVal, err := strconv.ParseUint(parts[0], 16, 64)
	if err != nil {
		return fmt.Errorf("coid: parse cid: %w", err)
	}
	oidVal, err := strconv.ParseUint(parts[1], 16, 64)
	if err != nil {
		return fmt.Errorf("coid: parse oid: %w", err)
	}
	c.CID = CID(cidVal)
	c.OID = OID(oidVal)
	return nil
}

// Less gives COID a total order, used as map/tree key ordering where a
// deterministic iteration order matters (e.g. grouping writes by owning
// server during prepare).
func (c COID) Less(o COID) bool {
	if c.CID != o.CID {
		return c.CID < o.CID
	}
	return c.OID < o.OID
}
