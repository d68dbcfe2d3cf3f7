package memkv

import (
	"testing"

	"github.com/dreamware/yesqueldb/internal/coid"
	"github.com/dreamware/yesqueldb/internal/rpcchan"
	"github.com/dreamware/yesqueldb/internal/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ephemeralCOID() coid.COID {
	return coid.COID{CID: coid.NewCID(true, 1, 1), OID: 9}
}

func TestGetOfUnwrittenCOIDIsEmptySuper(t *testing.T) {
	s := New()
	v := s.Get(ephemeralCOID())
	sv, err := v.AsSuper()
	require.NoError(t, err)
	assert.Equal(t, 0, sv.Len())
}

func TestApplyWriteThenGet(t *testing.T) {
	s := New()
	co := ephemeralCOID()
	require.NoError(t, s.Apply(co, rpcchan.Mutation{Kind: rpcchan.MutWrite, Blob: value.NewBlob([]byte("x"))}))
	b, err := s.Get(co).AsBlob()
	require.NoError(t, err)
	assert.Equal(t, "x", string(b.Bytes()))
}

func TestApplyAddAndDeleteRange(t *testing.T) {
	s := New()
	co := ephemeralCOID()
	require.NoError(t, s.Apply(co, rpcchan.Mutation{Kind: rpcchan.MutAdd, Cell: value.NewLeafCell(1, value.NewBlob([]byte("a")))}))
	require.NoError(t, s.Apply(co, rpcchan.Mutation{Kind: rpcchan.MutAdd, Cell: value.NewLeafCell(2, value.NewBlob([]byte("b")))}))

	sv, err := s.Get(co).AsSuper()
	require.NoError(t, err)
	assert.Equal(t, 2, sv.Len())

	require.NoError(t, s.Apply(co, rpcchan.Mutation{Kind: rpcchan.MutDelRange, Lo: 1, Hi: 1, Interval: value.ClosedClosed}))
	sv, err = s.Get(co).AsSuper()
	require.NoError(t, err)
	assert.Equal(t, 1, sv.Len())
	_, found := sv.Lookup(1)
	assert.False(t, found)
}

func TestDeleteRemovesEntirely(t *testing.T) {
	s := New()
	co := ephemeralCOID()
	require.NoError(t, s.Apply(co, rpcchan.Mutation{Kind: rpcchan.MutWrite, Blob: value.NewBlob([]byte("x"))}))
	s.Delete(co)
	v := s.Get(co)
	_, err := v.AsSuper()
	assert.NoError(t, err) // back to the default empty super-value shape
}

func TestLifecycleNoOps(t *testing.T) {
	s := New()
	assert.NoError(t, s.Begin())
	assert.NoError(t, s.Commit())
	assert.NoError(t, s.Abort())
}
