package value

import "github.com/dreamware/yesqueldb/internal/yerrors"

// Shape distinguishes the two value forms a COID can hold (§3).
type Shape int

const (
	// ShapeBlob is a length-prefixed byte sequence.
	ShapeBlob Shape = iota
	// ShapeSuper is an ordered list of cells plus attributes.
	ShapeSuper
)

// Container holds whichever of Blob/SuperValue a COID currently is. Only
// one of Blob/Super is meaningful, selected by Shape.
type Container struct {
	Shape Shape
	Blob  Blob
	Super SuperValue
}

// BlobContainer wraps b as a blob-shaped container.
func BlobContainer(b Blob) Container {
	return Container{Shape: ShapeBlob, Blob: b}
}

// SuperContainer wraps sv as a super-value-shaped container.
func SuperContainer(sv SuperValue) Container {
	return Container{Shape: ShapeSuper, Super: sv}
}

// AsBlob returns the container's blob, or ErrWrongType if it holds a
// super-value instead.
func (c Container) AsBlob() (Blob, error) {
	if c.Shape != ShapeBlob {
		return Blob{}, yerrors.ErrWrongType
	}
	return c.Blob, nil
}

// AsSuper returns the container's super-value, or ErrWrongType if it
// holds a blob instead.
func (c Container) AsSuper() (SuperValue, error) {
	if c.Shape != ShapeSuper {
		return SuperValue{}, yerrors.ErrWrongType
	}
	return c.Super, nil
}

// Clone returns a deep, independently-mutable copy of c.
func (c Container) Clone() Container {
	switch c.Shape {
	case ShapeBlob:
		return BlobContainer(c.Blob.Clone())
	case ShapeSuper:
		return SuperContainer(c.Super.Clone())
	default:
		return c
	}
}
