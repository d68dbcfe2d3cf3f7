package kvtx

import (
	"context"
	"sync"
	"testing"

	"github.com/dreamware/yesqueldb/internal/coid"
	"github.com/dreamware/yesqueldb/internal/rpcchan"
	"github.com/dreamware/yesqueldb/internal/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer is a minimal single-COID-store stand-in for the real
// storage server, just enough to exercise kvtx's prepare/commit
// coordination and conflict-check wiring end to end.
type fakeServer struct {
	mu      sync.Mutex
	store   map[coid.COID]struct {
		ts  coid.Timestamp
		val value.Container
	}
	pending map[string]map[coid.COID][]rpcchan.Mutation
	clock   coid.Timestamp
}

func newFakeServer() *fakeServer {
	return &fakeServer{
		store: make(map[coid.COID]struct {
			ts  coid.Timestamp
			val value.Container
		}),
		pending: make(map[string]map[coid.COID][]rpcchan.Mutation),
	}
}

func (s *fakeServer) HandleGet(ctx context.Context, req rpcchan.GetRequest) (rpcchan.GetResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.store[req.COID]
	if !ok {
		// A COID that has never been written defaults to an empty
		// super-value, matching the server's lazily-created root chain.
		return rpcchan.GetResponse{Value: value.SuperContainer(value.NewSuperValue(value.DefaultKeyInfo)), Version: 0}, nil
	}
	return rpcchan.GetResponse{Value: e.val, Version: e.ts}, nil
}

func (s *fakeServer) HandlePrepare(ctx context.Context, req rpcchan.PrepareRequest) (rpcchan.PrepareResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for co, ts := range req.ReadSet {
		if e, ok := s.store[co]; ok && e.ts > ts {
			return rpcchan.PrepareResponse{Vote: rpcchan.VoteAbort, Reason: "conflict"}, nil
		}
	}

	s.clock++
	commitTS := s.clock

	if req.OnePhaseCommit {
		s.install(req.Writes, commitTS)
		return rpcchan.PrepareResponse{Vote: rpcchan.VotePrepared, CommitTS: commitTS}, nil
	}

	s.pending[req.TxID] = req.Writes
	return rpcchan.PrepareResponse{Vote: rpcchan.VotePrepared, CommitTS: commitTS}, nil
}

func (s *fakeServer) install(writes map[coid.COID][]rpcchan.Mutation, ts coid.Timestamp) {
	for co, muts := range writes {
		cur := s.store[co].val
		for _, m := range muts {
			switch m.Kind {
			case rpcchan.MutWrite:
				cur = value.BlobContainer(m.Blob)
			case rpcchan.MutAdd:
				sv, _ := cur.AsSuper()
				sv, _ = sv.InsertCell(m.Cell, m.Replace)
				cur = value.SuperContainer(sv)
			case rpcchan.MutDelRange:
				sv, _ := cur.AsSuper()
				cur = value.SuperContainer(sv.DeleteRange(m.Lo, m.Hi, m.Interval))
			case rpcchan.MutAttr:
				sv, _ := cur.AsSuper()
				sv, _ = sv.SetAttr(m.AttrID, m.AttrVal)
				cur = value.SuperContainer(sv)
			}
		}
		s.store[co] = struct {
			ts  coid.Timestamp
			val value.Container
		}{ts: ts, val: cur}
	}
}

func (s *fakeServer) HandleCommit(ctx context.Context, req rpcchan.CommitRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	writes, ok := s.pending[req.TxID]
	if !ok {
		return nil
	}
	delete(s.pending, req.TxID)
	s.install(writes, req.TS)
	return nil
}

func (s *fakeServer) HandleAbort(ctx context.Context, req rpcchan.AbortRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, req.TxID)
	return nil
}

func (s *fakeServer) HandleSplit(ctx context.Context, req rpcchan.SplitRequest) (rpcchan.SplitResponse, error) {
	return rpcchan.SplitResponse{}, nil
}

func (s *fakeServer) HandleAllocRowID(ctx context.Context, req rpcchan.AllocRowIDRequest) (rpcchan.AllocRowIDResponse, error) {
	return rpcchan.AllocRowIDResponse{}, nil
}

func singleServerRuntime(t *testing.T) (*Runtime, *fakeServer) {
	srv := newFakeServer()
	ch := rpcchan.InProcess(srv)
	rt := NewRuntime(coid.NewClock(), func(coid.CID) (string, rpcchan.Channel) {
		return "s1", ch
	}, DefaultOptions())
	return rt, srv
}

func testCOID() coid.COID {
	return coid.COID{CID: coid.NewCID(false, 1, 1), OID: 5}
}

func TestPutGetReadYourWrites(t *testing.T) {
	rt, _ := singleServerRuntime(t)
	tx := rt.Begin(true, false)
	co := testCOID()

	require.NoError(t, tx.Put(co, []byte("hello")))
	v, err := tx.Get(context.Background(), co)
	require.NoError(t, err)
	b, err := v.AsBlob()
	require.NoError(t, err)
	assert.Equal(t, "hello", string(b.Bytes()))
}

func TestCommitSinglePhaseFastPath(t *testing.T) {
	rt, srv := singleServerRuntime(t)
	tx := rt.Begin(true, false)
	co := testCOID()
	require.NoError(t, tx.Put(co, []byte("v1")))

	ts, err := tx.Commit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Committed, tx.State())
	assert.Equal(t, ts, tx.CommitTS())

	srv.mu.Lock()
	e, ok := srv.store[co]
	srv.mu.Unlock()
	require.True(t, ok)
	b, _ := e.val.AsBlob()
	assert.Equal(t, "v1", string(b.Bytes()))
	assert.Empty(t, srv.pending)
}

func TestCommitConflictAborts(t *testing.T) {
	rt, _ := singleServerRuntime(t)
	co := testCOID()

	reader := rt.Begin(true, false)
	_, err := reader.Get(context.Background(), co) // stamps read-set at the COID's version 0
	require.NoError(t, err)

	writer := rt.Begin(true, false)
	require.NoError(t, writer.Put(co, []byte("winner")))
	_, err = writer.Commit(context.Background())
	require.NoError(t, err) // advances the COID's version past 0

	require.NoError(t, reader.Put(co, []byte("loser")))
	_, err = reader.Commit(context.Background())
	require.Error(t, err)
	assert.Equal(t, Aborted, reader.State())
}

func TestReadOnlyCommitNeverPreparesAndNeedsNoServer(t *testing.T) {
	rt := NewRuntime(coid.NewClock(), func(coid.CID) (string, rpcchan.Channel) {
		t.Fatal("resolve should not be called for a read-only commit")
		return "", nil
	}, DefaultOptions())
	tx := rt.Begin(true, false)
	ts, err := tx.Commit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, tx.SnapshotTS(), ts)
}

func TestAbortSubRollsBackWriteSet(t *testing.T) {
	rt, _ := singleServerRuntime(t)
	tx := rt.Begin(true, false)
	co := testCOID()

	require.NoError(t, tx.Put(co, []byte("before")))
	tx.BeginSub(1)
	require.NoError(t, tx.Put(co, []byte("inside-sub")))
	require.NoError(t, tx.AbortSub(1))

	v, err := tx.Get(context.Background(), co)
	require.NoError(t, err)
	b, _ := v.AsBlob()
	assert.Equal(t, "before", string(b.Bytes()))
}

func TestAddCellAndReadSuperFoldsLocalWrites(t *testing.T) {
	rt, _ := singleServerRuntime(t)
	tx := rt.Begin(true, false)
	co := testCOID()

	count, size, err := tx.AddCell(context.Background(), co, value.NewLeafCell(1, value.NewBlob([]byte("a"))), false)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Greater(t, size, 0)

	_, _, err = tx.AddCell(context.Background(), co, value.NewLeafCell(2, value.NewBlob([]byte("b"))), false)
	require.NoError(t, err)

	sv, err := tx.ReadSuper(context.Background(), co)
	require.NoError(t, err)
	assert.Equal(t, 2, sv.Len())
}

func TestFreeRequiresTerminalState(t *testing.T) {
	rt, _ := singleServerRuntime(t)
	tx := rt.Begin(true, false)
	assert.Error(t, tx.Free())

	_, err := tx.Commit(context.Background())
	require.NoError(t, err)
	assert.NoError(t, tx.Free())
	assert.Equal(t, Freed, tx.State())
}

func TestAbortDiscardsUncommittedWrites(t *testing.T) {
	rt, srv := singleServerRuntime(t)
	co := testCOID()

	// Put a baseline value so the conflict check has something to compare.
	base := rt.Begin(true, false)
	require.NoError(t, base.Put(co, []byte("base")))
	_, err := base.Commit(context.Background())
	require.NoError(t, err)

	tx := rt.Begin(true, false)
	require.NoError(t, tx.Put(co, []byte("never-committed")))
	require.NoError(t, tx.Abort(context.Background()))
	assert.Equal(t, Aborted, tx.State())

	srv.mu.Lock()
	e := srv.store[co]
	srv.mu.Unlock()
	b, _ := e.val.AsBlob()
	assert.Equal(t, "base", string(b.Bytes()))
}

func ephemeralCOID() coid.COID {
	return coid.COID{CID: coid.NewCID(true, 1, 1), OID: 5}
}

// TestEphemeralCIDRoutesToLocalStore exercises §4.7: a write against an
// ephemeral CID never reaches the resolved server, and is visible to a
// later Remote-mode transaction through the same runtime's shared memkv
// store without any prepare/commit round trip.
func TestEphemeralCIDRoutesToLocalStore(t *testing.T) {
	rt, srv := singleServerRuntime(t)
	co := ephemeralCOID()

	tx := rt.Begin(true, false)
	require.NoError(t, tx.Put(co, []byte("scratch")))
	ts, err := tx.Commit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, tx.SnapshotTS(), ts)

	srv.mu.Lock()
	_, onServer := srv.store[co]
	srv.mu.Unlock()
	assert.False(t, onServer, "ephemeral COID must never reach the durable server")

	reader := rt.Begin(true, false)
	v, err := reader.Get(context.Background(), co)
	require.NoError(t, err)
	b, err := v.AsBlob()
	require.NoError(t, err)
	assert.Equal(t, "scratch", string(b.Bytes()))
}

// TestLocalModeBypassesResolverEvenForDurableCID exercises begin(remote=
// false): a Local-mode transaction routes every COID to memkv, including
// one whose CID carries no ephemeral bit, so a resolver that always
// errors is never actually invoked.
func TestLocalModeBypassesResolverEvenForDurableCID(t *testing.T) {
	rt := NewRuntime(coid.NewClock(), func(coid.CID) (string, rpcchan.Channel) {
		t.Fatal("resolve must not be called for a Local-mode transaction")
		return "", nil
	}, DefaultOptions())
	co := testCOID()

	tx := rt.Begin(false, false)
	assert.Equal(t, Local, tx.Mode())
	require.NoError(t, tx.Put(co, []byte("local-only")))
	_, err := tx.Commit(context.Background())
	require.NoError(t, err)

	reader := rt.Begin(false, false)
	v, err := reader.Get(context.Background(), co)
	require.NoError(t, err)
	b, err := v.AsBlob()
	require.NoError(t, err)
	assert.Equal(t, "local-only", string(b.Bytes()))
}

// TestGetSchemaInstallsOnMissAndHitsThereafter exercises §4.4: a first
// read through GetSchema falls through to the server and installs the
// result into the runtime's shared SchemaCache; a second read, even
// from a different transaction, is served from the cache with no
// further server round trip.
func TestGetSchemaInstallsOnMissAndHitsThereafter(t *testing.T) {
	rt, srv := singleServerRuntime(t)
	co := testCOID()

	writer := rt.Begin(true, false)
	require.NoError(t, writer.Put(co, []byte("schema-v1")))
	_, err := writer.Commit(context.Background())
	require.NoError(t, err)

	_, _, ok := rt.SchemaCache().Get(co)
	assert.False(t, ok)

	reader := rt.Begin(true, false)
	v, err := reader.GetSchema(context.Background(), co)
	require.NoError(t, err)
	b, err := v.AsBlob()
	require.NoError(t, err)
	assert.Equal(t, "schema-v1", string(b.Bytes()))

	cachedVal, _, ok := rt.SchemaCache().Get(co)
	require.True(t, ok)
	cb, err := cachedVal.AsBlob()
	require.NoError(t, err)
	assert.Equal(t, "schema-v1", string(cb.Bytes()))

	srv.mu.Lock()
	before := srv.store[co]
	srv.mu.Unlock()

	second := rt.Begin(true, false)
	v2, err := second.GetSchema(context.Background(), co)
	require.NoError(t, err)
	b2, err := v2.AsBlob()
	require.NoError(t, err)
	assert.Equal(t, "schema-v1", string(b2.Bytes()))

	srv.mu.Lock()
	after := srv.store[co]
	srv.mu.Unlock()
	assert.Equal(t, before.ts, after.ts, "cached schema read must not touch the server")

	rt.SchemaCache().Invalidate(co)
	_, _, ok = rt.SchemaCache().Get(co)
	assert.False(t, ok)
}
