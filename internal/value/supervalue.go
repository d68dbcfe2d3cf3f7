package value

import (
	"fmt"
	"sort"

	"github.com/dreamware/yesqueldb/internal/yerrors"
)

// MaxAttrs bounds the small fixed attribute array super-values carry
// (e.g. a leaf's right-sibling pointer lives in one attribute slot).
const MaxAttrs = 8

// SuperValue is an ordered list of cells plus a small fixed attribute
// array and a key-info descriptor. It is the in-memory form of a B-tree
// node, but is independently useful as a general ordered-map value.
//
// SuperValue is copy-on-write: a reader holds a SuperValue by value and
// its Cells slice is never mutated in place by any method here — every
// method that changes cells returns a new SuperValue whose Cells slice
// is a fresh clone (SetAttr's result shares the unchanged Cells slice),
// so concurrent readers of the original are unaffected.
type SuperValue struct {
	Cells   []Cell
	Attrs   [MaxAttrs]uint64
	AttrSet [MaxAttrs]bool
	KeyInfo KeyInfo
}

// NewSuperValue returns an empty super-value using the given collation.
func NewSuperValue(ki KeyInfo) SuperValue {
	return SuperValue{KeyInfo: ki}
}

func (sv SuperValue) cmp(a, b int64) int { return sv.KeyInfo.Compare(a, b) }

// search returns the index of the first cell whose key is >= key under
// sv's comparator (lower bound), and whether that cell's key equals key
// exactly.
func (sv SuperValue) search(key int64) (idx int, exact bool) {
	n := len(sv.Cells)
	idx = sort.Search(n, func(i int) bool {
		return sv.cmp(sv.Cells[i].Key, key) >= 0
	})
	exact = idx < n && sv.cmp(sv.Cells[idx].Key, key) == 0
	return idx, exact
}

// Lookup returns the cell with the given key, if present, in order.
func (sv SuperValue) Lookup(key int64) (Cell, bool) {
	idx, exact := sv.search(key)
	if !exact {
		return Cell{}, false
	}
	return sv.Cells[idx], true
}

// InsertCell inserts cell maintaining sort order. If a cell with the same
// key already exists, InsertCell fails with an error unless replace is
// true, in which case the existing cell is overwritten.
func (sv SuperValue) InsertCell(cell Cell, replace bool) (SuperValue, error) {
	idx, exact := sv.search(cell.Key)
	if exact && !replace {
		return sv, fmt.Errorf("value: duplicate cell at key %d: %w", cell.Key, yerrors.ErrCorruption)
	}

	out := sv.cloneCells()
	if exact {
		out.Cells[idx] = cell
		return out, nil
	}

	out.Cells = append(out.Cells, Cell{})
	copy(out.Cells[idx+1:], out.Cells[idx:])
	out.Cells[idx] = cell
	return out, nil
}

// DeleteRange removes all cells whose key falls within (lo, hi)
// interpreted per kind.
func (sv SuperValue) DeleteRange(lo, hi int64, kind IntervalKind) SuperValue {
	out := sv.cloneCells()
	filtered := out.Cells[:0]
	for _, c := range out.Cells {
		if kind.Contains(sv.cmp, c.Key, lo, hi) {
			continue
		}
		filtered = append(filtered, c)
	}
	out.Cells = filtered
	return out
}

// SetAttr sets attribute id to value. id must be within [0, MaxAttrs).
func (sv SuperValue) SetAttr(id int, val uint64) (SuperValue, error) {
	if id < 0 || id >= MaxAttrs {
		return sv, fmt.Errorf("value: attribute id %d out of range: %w", id, yerrors.ErrCorruption)
	}
	out := sv
	out.Attrs[id] = val
	out.AttrSet[id] = true
	return out, nil
}

// Attr returns attribute id's value and whether it has been set.
func (sv SuperValue) Attr(id int) (uint64, bool) {
	if id < 0 || id >= MaxAttrs {
		return 0, false
	}
	return sv.Attrs[id], sv.AttrSet[id]
}

// cloneCells returns a copy of sv whose Cells slice is independently
// owned, implementing the copy-on-write contract.
func (sv SuperValue) cloneCells() SuperValue {
	out := sv
	out.Cells = make([]Cell, len(sv.Cells))
	copy(out.Cells, sv.Cells)
	return out
}

// Clone returns a deep copy of sv, cloning every cell's payload too.
func (sv SuperValue) Clone() SuperValue {
	out := sv.cloneCells()
	for i := range out.Cells {
		out.Cells[i] = out.Cells[i].Clone()
	}
	return out
}

// Len returns the number of cells.
func (sv SuperValue) Len() int { return len(sv.Cells) }

// ByteSize estimates the serialized size of sv, used by the B-tree layer
// to decide whether a node has grown past SplitByteSize.
func (sv SuperValue) ByteSize() int {
	n := 0
	for _, c := range sv.Cells {
		n += 8 + c.Payload.Len() + 16 // key + payload + child COID slot
	}
	return n
}

// Iterator is a lazy, finite, restartable sequence over a super-value's
// cells starting from a given key (inclusive). Restarting means
// re-invoking IterateFrom; the iterator itself holds no server-side
// cursor state.
type Iterator struct {
	cells []Cell
	pos   int
}

// IterateFrom returns an Iterator positioned at the first cell whose key
// is >= from.
func (sv SuperValue) IterateFrom(from int64) *Iterator {
	idx, _ := sv.search(from)
	return &Iterator{cells: sv.Cells, pos: idx}
}

// Next returns the next cell in the iteration and advances the cursor.
// The second return value is false once the sequence is exhausted.
func (it *Iterator) Next() (Cell, bool) {
	if it.pos >= len(it.cells) {
		return Cell{}, false
	}
	c := it.cells[it.pos]
	it.pos++
	return c, true
}
