// Package value implements the reference-counted, copy-on-write value
// containers that flow through every layer of yesqueldb: blobs and
// super-values (§4.1).
package value

import (
	"bytes"
	"encoding/json"
)

// Blob is an immutable, length-prefixed byte sequence. Blob is a shared
// owning handle: copying a Blob shares the backing array, Clone makes an
// independent byte copy, and Blob has no methods that mutate it.
// Equality is byte-exact.
type Blob struct {
	data []byte
}

// NewBlob wraps b. The caller must not mutate b after this call; build
// a new slice and wrap that to derive a modified copy instead.
func NewBlob(b []byte) Blob {
	return Blob{data: b}
}

// Bytes returns the blob's backing bytes. Callers must treat the result
// as read-only.
func (b Blob) Bytes() []byte {
	return b.data
}

// Len returns the number of bytes in the blob.
func (b Blob) Len() int {
	return len(b.data)
}

// Equal reports whether two blobs hold byte-identical content.
func (b Blob) Equal(other Blob) bool {
	return bytes.Equal(b.data, other.data)
}

// Clone returns a deep copy of b, safe for independent mutation.
func (b Blob) Clone() Blob {
	cp := make([]byte, len(b.data))
	copy(cp, b.data)
	return Blob{data: cp}
}

// Padded returns a new blob whose backing array has pad extra trailing
// bytes beyond b's content. The padding is zero-filled by allocation;
// matching the original memKVgetPad contract, callers must not rely on
// its content and must write it before reading it.
func Padded(b []byte, pad int) Blob {
	out := make([]byte, len(b)+pad)
	copy(out, b)
	return Blob{data: out[:len(b)]}
}

// MarshalJSON encodes the blob as a base64 string (via []byte's default
// JSON encoding), used by the HTTP RPC transport.
func (b Blob) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.data)
}

// UnmarshalJSON decodes a base64 JSON string into the blob.
func (b *Blob) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &b.data)
}

// Gather concatenates multiple buffers into a single blob without
// requiring the caller to pre-join them — the backing for Put2/Put3's
// gather variants.
func Gather(bufs ...[]byte) Blob {
	n := 0
	for _, b := range bufs {
		n += len(b)
	}
	out := make([]byte, 0, n)
	for _, b := range bufs {
		out = append(out, b...)
	}
	return Blob{data: out}
}
