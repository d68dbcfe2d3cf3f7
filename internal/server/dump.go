package server

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dreamware/yesqueldb/internal/coid"
	"github.com/dreamware/yesqueldb/internal/value"
)

// dumpRecord is one COID's flattened state, as stored in the dump file.
// Storing the materialized value rather than the raw log entries keeps
// the file format independent of the op-log's internal entry shapes,
// and restoring is just a Seed per record.
type dumpRecord struct {
	COID  coid.COID       `json:"coid"`
	TS    coid.Timestamp  `json:"ts"`
	Value value.Container `json:"value"`
}

// Dump flattens every COID currently tracked by the server's cache to
// cfg.DumpFile (options.h's FLUSH_FILENAME), one JSON record per line.
// It is the server-side counterpart of the original's periodic flush:
// a point-in-time snapshot good enough to restore from on the next
// start, not a continuously-consistent backup.
func (s *Server) Dump() error {
	f, err := os.Create(s.cfg.DumpFile)
	if err != nil {
		return fmt.Errorf("server: dump %s: %w", s.cfg.DumpFile, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	var encErr error
	s.cache.ForEach(func(co coid.COID, ts coid.Timestamp, val value.Container) {
		if encErr != nil {
			return
		}
		encErr = enc.Encode(dumpRecord{COID: co, TS: ts, Value: val})
	})
	if encErr != nil {
		return fmt.Errorf("server: dump %s: %w", s.cfg.DumpFile, encErr)
	}
	s.log.Info().Str("file", s.cfg.DumpFile).Msg("dump written")
	return nil
}

// Restore repopulates the server's cache from cfg.DumpFile, written by a
// prior Dump. It must be called before the server starts serving
// requests: Seed discards whatever chain state a COID already has.
// A missing file is not an error — a server's first start has nothing
// to restore.
func (s *Server) Restore() error {
	f, err := os.Open(s.cfg.DumpFile)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("server: restore %s: %w", s.cfg.DumpFile, err)
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	count := 0
	for dec.More() {
		var rec dumpRecord
		if err := dec.Decode(&rec); err != nil {
			return fmt.Errorf("server: restore %s: %w", s.cfg.DumpFile, err)
		}
		s.cache.Seed(rec.COID, rec.TS, rec.Value)
		count++
	}
	s.log.Info().Str("file", s.cfg.DumpFile).Int("records", count).Msg("dump restored")
	return nil
}
