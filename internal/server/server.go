// Package server implements the yesqueldb storage server (§4.1-4.3,
// §4.6's server-side splitter, §6's server RPCs): it owns the COID
// cache, runs the per-transaction prepare/commit conflict checks, and
// exposes rpcchan.Handler so it can be driven in-process or over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dreamware/yesqueldb/internal/cache"
	"github.com/dreamware/yesqueldb/internal/coid"
	"github.com/dreamware/yesqueldb/internal/oplog"
	"github.com/dreamware/yesqueldb/internal/rpcchan"
	"github.com/dreamware/yesqueldb/internal/value"
	"github.com/dreamware/yesqueldb/internal/yerrors"
	"github.com/rs/zerolog"
)

// Config collects a server's tunables, defaulting to the values §6 and
// original_source/include/options.h document.
type Config struct {
	ID      string
	Workers int // default 1; matches options.h's worker-thread count for sizing, no longer gates locking (§5: per-COID locks are always held)

	Thresholds oplog.Thresholds
	Retention  time.Duration

	DisableOnePhaseCommit bool

	AvoidDuplicateInterval time.Duration
	AllSplitsUnconditional bool
	LoadSplits             bool

	DumpFile string

	// DiskLogEnabled turns on write-ahead durability logging (§ambient
	// "disk log fsync batching" supplement). When false (SKIPLOG,
	// options.h's own default), commits are acknowledged once installed
	// in the in-memory COID cache only.
	DiskLogEnabled       bool
	DiskLogFile          string
	DiskLogSimple        bool
	DiskLogFlushInterval time.Duration
}

// DefaultConfig matches options.h's documented defaults.
func DefaultConfig(id string) Config {
	return Config{
		ID:                     id,
		Workers:                1,
		Thresholds:             oplog.DefaultThresholds,
		Retention:              oplog.DefaultRetention,
		AvoidDuplicateInterval: 1000 * time.Millisecond,
		DumpFile:               "kv.dat",
		DiskLogFile:            "kv.log",
		DiskLogFlushInterval:   10 * time.Millisecond,
	}
}

// pendingTx is a transaction this server has voted prepared on but not
// yet committed or aborted — held between PREPARE and COMMIT/ABORT.
type pendingTx struct {
	writes map[coid.COID][]rpcchan.Mutation
}

// Server is one storage-server node (§4.1): the COID cache, the
// bookkeeping issuer-id allocators (§3's CID 0), the splitter's
// duplicate-suppression state, and in-flight prepared transactions.
type Server struct {
	cfg    Config
	clock  *coid.Clock
	cache  *cache.CoidCache
	log    zerolog.Logger
	issuer Resolver

	mu      sync.Mutex
	pending map[string]*pendingTx
	issuers map[coid.CID]*cidIssuer

	splitter *splitCoordinator
	diskLog  *DiskLog

	stopEviction func()
}

// Resolver answers the server's own issuer-hint: "which issuer number am
// I" for newly allocated OIDs. A single-node deployment can return a
// constant.
type Resolver func() (issuerHint uint32, err error)

// New constructs a Server. logger should already be configured with
// whatever sink/level the deployment wants (§ambient logging).
func New(cfg Config, clock *coid.Clock, issuer Resolver, logger zerolog.Logger) *Server {
	c := cache.New(cfg.Thresholds, cfg.Retention)

	s := &Server{
		cfg:     cfg,
		clock:   clock,
		cache:   c,
		log:     logger.With().Str("component", "server").Str("server_id", cfg.ID).Logger(),
		issuer:  issuer,
		pending: make(map[string]*pendingTx),
		issuers: make(map[coid.CID]*cidIssuer),
	}
	s.splitter = newSplitCoordinator(s)
	return s
}

// Start begins the background eviction loop (§4.2), ticking at a
// quarter of the retention window so stale entries are dropped promptly
// without hammering every chain's lock every tick.
func (s *Server) Start() {
	interval := s.cfg.Retention / 4
	if interval <= 0 {
		interval = time.Second
	}
	s.stopEviction = s.cache.RunEvictionLoop(interval, s.clock)
	s.log.Info().Dur("interval", interval).Msg("eviction loop started")

	if s.cfg.DiskLogEnabled {
		dl, err := OpenDiskLog(s.cfg.DiskLogFile, s.cfg.DiskLogSimple, s.cfg.DiskLogFlushInterval)
		if err != nil {
			s.log.Error().Err(err).Msg("disk log disabled: failed to open")
			return
		}
		s.diskLog = dl
		s.log.Info().Str("file", s.cfg.DiskLogFile).Bool("simple", s.cfg.DiskLogSimple).Msg("disk log started")
	}
}

// Stop halts background work.
func (s *Server) Stop() {
	if s.stopEviction != nil {
		s.stopEviction()
	}
	if s.diskLog != nil {
		if err := s.diskLog.Close(); err != nil {
			s.log.Error().Err(err).Msg("disk log close")
		}
	}
}

// Cache exposes the server's COID cache, e.g. for the dump/restore path.
func (s *Server) Cache() *cache.CoidCache { return s.cache }

var _ rpcchan.Handler = (*Server)(nil)

// HandleGet serves GET(coid, ts): materialize co as of ts from the COID
// cache.
func (s *Server) HandleGet(ctx context.Context, req rpcchan.GetRequest) (rpcchan.GetResponse, error) {
	getRequestsTotal.Inc()
	val, producedTS, err := s.cache.Read(req.COID, req.TS)
	if err != nil {
		if errors.Is(err, yerrors.ErrStaleRead) {
			staleReadsTotal.Inc()
		}
		return rpcchan.GetResponse{}, err
	}
	if req.Pad > 0 {
		if b, err := val.AsBlob(); err == nil {
			val = value.BlobContainer(value.Padded(b.Bytes(), req.Pad))
		}
	}
	return rpcchan.GetResponse{Value: val, Version: producedTS}, nil
}

// HandleCommit serves COMMIT(tx-id, ts): installs a previously prepared
// transaction's writes at ts and releases the prepare hold.
func (s *Server) HandleCommit(ctx context.Context, req rpcchan.CommitRequest) error {
	commitRequestsTotal.Inc()
	s.mu.Lock()
	p, ok := s.pending[req.TxID]
	delete(s.pending, req.TxID)
	pendingTxGauge.Set(float64(len(s.pending)))
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("server: commit of unknown or already-resolved tx %s", req.TxID)
	}
	return s.install(req.TS, p.writes)
}

// HandleAbort serves ABORT(tx-id): releases the prepare hold without
// installing anything.
func (s *Server) HandleAbort(ctx context.Context, req rpcchan.AbortRequest) error {
	abortRequestsTotal.Inc()
	s.mu.Lock()
	delete(s.pending, req.TxID)
	pendingTxGauge.Set(float64(len(s.pending)))
	s.mu.Unlock()
	return nil
}

// install applies every write-set mutation at ts, appending one log
// entry per mutation per COID (§3's op-log entry shapes), and then
// checks every touched node against the split thresholds (§4.5's step 3).
func (s *Server) install(ts coid.Timestamp, writes map[coid.COID][]rpcchan.Mutation) error {
	if s.diskLog != nil {
		if err := s.diskLog.Append(diskLogRecord{TS: ts, Writes: writes}); err != nil {
			return fmt.Errorf("server: durability log: %w", err)
		}
	}
	for co, muts := range writes {
		for _, m := range muts {
			entry, err := mutationToEntry(ts, m)
			if err != nil {
				return err
			}
			if err := s.cache.Apply(co, entry); err != nil {
				return err
			}
		}
		s.maybeRequestSplit(co)
	}
	return nil
}

// mutationToEntry converts one wire Mutation into the oplog entry it
// represents, stamped at the transaction's chosen commit timestamp.
func mutationToEntry(ts coid.Timestamp, m rpcchan.Mutation) (oplog.Entry, error) {
	switch m.Kind {
	case rpcchan.MutWrite:
		return oplog.Entry{Kind: oplog.KindWrite, TS: ts, Blob: m.Blob}, nil
	case rpcchan.MutAdd:
		return oplog.Entry{Kind: oplog.KindAdd, TS: ts, Cell: m.Cell, Replace: m.Replace}, nil
	case rpcchan.MutDelRange:
		return oplog.Entry{Kind: oplog.KindDelRange, TS: ts, Lo: m.Lo, Hi: m.Hi, Interval: m.Interval}, nil
	case rpcchan.MutAttr:
		return oplog.Entry{Kind: oplog.KindAttr, TS: ts, AttrID: m.AttrID, AttrVal: m.AttrVal}, nil
	default:
		return oplog.Entry{}, fmt.Errorf("server: unknown mutation kind %d: %w", m.Kind, yerrors.ErrCorruption)
	}
}
