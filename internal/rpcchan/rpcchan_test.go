package rpcchan

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/dreamware/yesqueldb/internal/coid"
	"github.com/dreamware/yesqueldb/internal/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeHandler is a minimal Handler used to exercise both transports
// without depending on the real storage server.
type fakeHandler struct{}

func (fakeHandler) HandleGet(ctx context.Context, req GetRequest) (GetResponse, error) {
	return GetResponse{Value: value.BlobContainer(value.NewBlob([]byte("hi"))), Version: 42}, nil
}

func (fakeHandler) HandlePrepare(ctx context.Context, req PrepareRequest) (PrepareResponse, error) {
	return PrepareResponse{Vote: VotePrepared, CommitTS: 100}, nil
}

func (fakeHandler) HandleCommit(ctx context.Context, req CommitRequest) error { return nil }
func (fakeHandler) HandleAbort(ctx context.Context, req AbortRequest) error   { return nil }

func (fakeHandler) HandleSplit(ctx context.Context, req SplitRequest) (SplitResponse, error) {
	return SplitResponse{Accepted: true}, nil
}

func (fakeHandler) HandleAllocRowID(ctx context.Context, req AllocRowIDRequest) (AllocRowIDResponse, error) {
	return AllocRowIDResponse{RowID: 7}, nil
}

func testCOID() coid.COID {
	return coid.COID{CID: coid.NewCID(false, 1, 1), OID: 3}
}

func TestInProcessChannelDispatches(t *testing.T) {
	ch := InProcess(fakeHandler{})
	resp, err := ch.Get(context.Background(), GetRequest{COID: testCOID(), TS: 1})
	require.NoError(t, err)
	b, err := resp.Value.AsBlob()
	require.NoError(t, err)
	assert.Equal(t, "hi", string(b.Bytes()))
	assert.Equal(t, coid.Timestamp(42), resp.Version)
}

func TestHTTPChannelRoundTrip(t *testing.T) {
	srv := httptest.NewServer(NewHTTPMux(fakeHandler{}))
	defer srv.Close()

	ch := HTTP(srv.URL)

	getResp, err := ch.Get(context.Background(), GetRequest{COID: testCOID(), TS: 1})
	require.NoError(t, err)
	b, err := getResp.Value.AsBlob()
	require.NoError(t, err)
	assert.Equal(t, "hi", string(b.Bytes()))

	prepResp, err := ch.Prepare(context.Background(), PrepareRequest{
		TxID:    "tx1",
		ReadSet: map[coid.COID]coid.Timestamp{testCOID(): 1},
		Writes: map[coid.COID][]Mutation{
			testCOID(): {{Kind: MutAdd, Cell: value.NewLeafCell(1, value.NewBlob([]byte("x")))}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, VotePrepared, prepResp.Vote)
	assert.Equal(t, coid.Timestamp(100), prepResp.CommitTS)

	require.NoError(t, ch.Commit(context.Background(), CommitRequest{TxID: "tx1", TS: 100}))
	require.NoError(t, ch.Abort(context.Background(), AbortRequest{TxID: "tx2"}))

	splitResp, err := ch.Split(context.Background(), SplitRequest{COID: testCOID(), IsLeaf: true})
	require.NoError(t, err)
	assert.True(t, splitResp.Accepted)

	allocResp, err := ch.AllocRowID(context.Background(), AllocRowIDRequest{CID: testCOID().CID, Hint: 1})
	require.NoError(t, err)
	assert.Equal(t, coid.OID(7), allocResp.RowID)
}
