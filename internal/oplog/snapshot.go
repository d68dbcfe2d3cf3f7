package oplog

import (
	"github.com/dreamware/yesqueldb/internal/coid"
	"github.com/dreamware/yesqueldb/internal/value"
)

// Snapshot is a materialized COID value as of a given timestamp. It
// truncates replay: reading at ts >= Snapshot.TS only needs to fold
// entries newer than Snapshot.TS on top of Snapshot.Value.
type Snapshot struct {
	TS    coid.Timestamp
	Value value.Container
}
