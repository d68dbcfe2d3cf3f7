package splitter

import (
	"context"
	"testing"
	"time"

	"github.com/dreamware/yesqueldb/internal/btree"
	"github.com/dreamware/yesqueldb/internal/coid"
	"github.com/dreamware/yesqueldb/internal/kvtx"
	"github.com/dreamware/yesqueldb/internal/rpcchan"
	"github.com/dreamware/yesqueldb/internal/server"
	"github.com/dreamware/yesqueldb/internal/value"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSetup(t *testing.T) (*kvtx.Runtime, rpcchan.Channel, coid.CID) {
	t.Helper()
	srv := server.New(server.DefaultConfig("s1"), coid.NewClock(), func() (uint32, error) { return 1, nil }, zerolog.Nop())
	ch := rpcchan.InProcess(srv)
	rt := kvtx.NewRuntime(coid.NewClock(), func(coid.CID) (string, rpcchan.Channel) {
		return "s1", ch
	}, kvtx.DefaultOptions())
	return rt, ch, coid.NewCID(false, 1, 9)
}

func TestDispatchNilItemIsNoop(t *testing.T) {
	rt, ch, _ := testSetup(t)
	d := New(rt, ServerSide, time.Second, nil)
	require.NoError(t, d.Dispatch(context.Background(), ch, nil))
}

func TestDispatchServerSideSendsSplitRPC(t *testing.T) {
	rt, ch, cid := testSetup(t)
	d := New(rt, ServerSide, time.Millisecond, nil)

	leaf := coid.COID{CID: cid, OID: coid.RootOID}
	err := d.Dispatch(context.Background(), ch, &btree.SplitWorkItem{COID: leaf})
	require.NoError(t, err)
}

func TestDispatchSuppressesDuplicateWithinWindow(t *testing.T) {
	rt, ch, cid := testSetup(t)
	d := New(rt, ServerSide, time.Hour, nil)
	leaf := coid.COID{CID: cid, OID: 5}

	require.NoError(t, d.Dispatch(context.Background(), ch, &btree.SplitWorkItem{COID: leaf}))

	d.mu.Lock()
	first, seen := d.lastSeen[leaf]
	d.mu.Unlock()
	assert.True(t, seen)

	require.NoError(t, d.Dispatch(context.Background(), ch, &btree.SplitWorkItem{COID: leaf}))

	d.mu.Lock()
	second := d.lastSeen[leaf]
	d.mu.Unlock()
	assert.Equal(t, first, second, "a suppressed dispatch leaves the window start unchanged")
}

func TestSplitLocallyPatchesParentSeparator(t *testing.T) {
	rt, _, cid := testSetup(t)
	leaf := coid.COID{CID: cid, OID: 3}
	root := coid.RootCOID(cid)

	ctx := context.Background()
	tx := rt.Begin(true, false)
	parentSV := value.NewSuperValue(value.DefaultKeyInfo)
	parentSV, err := parentSV.InsertCell(value.NewInternalCell(-1<<63, leaf, value.Blob{}), false)
	require.NoError(t, err)
	require.NoError(t, tx.WriteSuper(root, parentSV))

	leafSV := value.NewSuperValue(value.DefaultKeyInfo)
	for i := int64(0); i < 10; i++ {
		leafSV, _ = leafSV.InsertCell(value.NewLeafCell(i, value.NewBlob([]byte("x"))), false)
	}
	require.NoError(t, tx.WriteSuper(leaf, leafSV))
	_, err = tx.Commit(ctx)
	require.NoError(t, err)

	nextOID := coid.OID(100)
	d := New(rt, ClientSide, time.Millisecond, func(coid.CID) (coid.OID, error) {
		nextOID++
		return nextOID, nil
	})

	require.NoError(t, d.splitLocally(ctx, leaf))

	tx2 := rt.Begin(true, false)
	gotRoot, err := tx2.ReadSuper(ctx, root)
	require.NoError(t, err)
	assert.Equal(t, 2, gotRoot.Len())
}

func TestSplitLocallyRefusesToSplitTheRoot(t *testing.T) {
	rt, _, cid := testSetup(t)
	root := coid.RootCOID(cid)

	ctx := context.Background()
	tx := rt.Begin(true, false)
	rootSV := value.NewSuperValue(value.DefaultKeyInfo)
	for i := int64(0); i < 10; i++ {
		rootSV, _ = rootSV.InsertCell(value.NewLeafCell(i, value.NewBlob([]byte("x"))), false)
	}
	require.NoError(t, tx.WriteSuper(root, rootSV))
	_, err := tx.Commit(ctx)
	require.NoError(t, err)

	d := New(rt, ClientSide, time.Millisecond, func(coid.CID) (coid.OID, error) { return 1, nil })
	err = d.splitLocally(ctx, root)
	assert.Error(t, err)
}
