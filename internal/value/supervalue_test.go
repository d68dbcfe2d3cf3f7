package value

import (
	"testing"

	"github.com/dreamware/yesqueldb/internal/coid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertCellMaintainsOrder(t *testing.T) {
	sv := NewSuperValue(DefaultKeyInfo)
	var err error
	for _, k := range []int64{5, 1, 3, 2, 4} {
		sv, err = sv.InsertCell(NewLeafCell(k, NewBlob([]byte("v"))), false)
		require.NoError(t, err)
	}
	require.Equal(t, 5, sv.Len())
	for i := 1; i < sv.Len(); i++ {
		assert.Less(t, sv.Cells[i-1].Key, sv.Cells[i].Key)
	}
}

func TestInsertCellDuplicateFailsWithoutReplace(t *testing.T) {
	sv := NewSuperValue(DefaultKeyInfo)
	sv, err := sv.InsertCell(NewLeafCell(1, NewBlob([]byte("a"))), false)
	require.NoError(t, err)
	_, err = sv.InsertCell(NewLeafCell(1, NewBlob([]byte("b"))), false)
	require.Error(t, err)
}

func TestInsertCellReplace(t *testing.T) {
	sv := NewSuperValue(DefaultKeyInfo)
	sv, err := sv.InsertCell(NewLeafCell(1, NewBlob([]byte("a"))), false)
	require.NoError(t, err)
	sv, err = sv.InsertCell(NewLeafCell(1, NewBlob([]byte("b"))), true)
	require.NoError(t, err)
	cell, ok := sv.Lookup(1)
	require.True(t, ok)
	assert.Equal(t, "b", string(cell.Payload.Bytes()))
}

func TestInsertCellDoesNotMutateOriginal(t *testing.T) {
	sv := NewSuperValue(DefaultKeyInfo)
	sv, _ = sv.InsertCell(NewLeafCell(1, NewBlob(nil)), false)
	sv2, err := sv.InsertCell(NewLeafCell(2, NewBlob(nil)), false)
	require.NoError(t, err)
	assert.Equal(t, 1, sv.Len(), "original super-value must be unaffected by the insert")
	assert.Equal(t, 2, sv2.Len())
}

func TestLookupMissingReturnsFalse(t *testing.T) {
	sv := NewSuperValue(DefaultKeyInfo)
	_, ok := sv.Lookup(42)
	assert.False(t, ok)
}

func TestDeleteRangeRemovesCoveredKeys(t *testing.T) {
	sv := NewSuperValue(DefaultKeyInfo)
	for _, k := range []int64{1, 2, 3, 4, 5} {
		sv, _ = sv.InsertCell(NewLeafCell(k, NewBlob(nil)), false)
	}
	sv = sv.DeleteRange(2, 4, ClosedClosed)
	_, ok := sv.Lookup(2)
	assert.False(t, ok)
	_, ok = sv.Lookup(3)
	assert.False(t, ok)
	_, ok = sv.Lookup(4)
	assert.False(t, ok)
	_, ok = sv.Lookup(1)
	assert.True(t, ok)
	_, ok = sv.Lookup(5)
	assert.True(t, ok)
}

func TestDeleteRangeThenLookupInRangeReturnsNone(t *testing.T) {
	sv := NewSuperValue(DefaultKeyInfo)
	sv, _ = sv.InsertCell(NewLeafCell(10, NewBlob([]byte("x"))), false)
	sv = sv.DeleteRange(0, 20, ClosedClosed)
	_, ok := sv.Lookup(10)
	assert.False(t, ok)
}

func TestSetAttrBounds(t *testing.T) {
	sv := NewSuperValue(DefaultKeyInfo)
	sv, err := sv.SetAttr(0, 123)
	require.NoError(t, err)
	got, ok := sv.Attr(0)
	require.True(t, ok)
	assert.Equal(t, uint64(123), got)

	_, err = sv.SetAttr(MaxAttrs, 1)
	assert.Error(t, err)
}

func TestIterateFromIsRestartable(t *testing.T) {
	sv := NewSuperValue(DefaultKeyInfo)
	for _, k := range []int64{1, 2, 3, 4, 5} {
		sv, _ = sv.InsertCell(NewLeafCell(k, NewBlob(nil)), false)
	}

	collect := func(from int64) []int64 {
		var got []int64
		it := sv.IterateFrom(from)
		for {
			c, ok := it.Next()
			if !ok {
				break
			}
			got = append(got, c.Key)
		}
		return got
	}

	assert.Equal(t, []int64{3, 4, 5}, collect(3))
	assert.Equal(t, []int64{3, 4, 5}, collect(3), "re-invoking IterateFrom restarts the sequence")
}

func TestInternalCellHasChild(t *testing.T) {
	child := coid.COID{CID: coid.NewCID(false, 1, 1), OID: 7}
	c := NewInternalCell(10, child, NewBlob(nil))
	assert.True(t, c.HasChild)
	assert.Equal(t, child, c.Child)
}
