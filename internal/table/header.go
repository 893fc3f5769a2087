// Package table holds the pieces shared by the record tables: header field
// access, the header lock and truncation detection.
package table

import (
	"encoding/binary"
	"sync/atomic"
	"unsafe"
)

// Header is a table header. It lives in heap memory for memory tables and
// in a shared file mapping for persistent ones.
type Header []byte

// Uint32 reads the little-endian uint32 at off.
func (h Header) Uint32(off int) uint32 {
	return binary.LittleEndian.Uint32(h[off:])
}

// PutUint32 writes v at off.
func (h Header) PutUint32(off int, v uint32) {
	binary.LittleEndian.PutUint32(h[off:], v)
}

// Add32 adds delta to the uint32 at off and returns the new value.
func (h Header) Add32(off int, delta int32) uint32 {
	v := h.Uint32(off) + uint32(delta)
	h.PutUint32(off, v)
	return v
}

// Uint64 reads the little-endian uint64 at off.
func (h Header) Uint64(off int) uint64 {
	return binary.LittleEndian.Uint64(h[off:])
}

// PutUint64 writes v at off.
func (h Header) PutUint64(off int, v uint64) {
	binary.LittleEndian.PutUint64(h[off:], v)
}

// LoadFlag atomically reads the 4-byte flag at off. Flags written by other
// handles on the same mapping are observed without holding the lock.
func (h Header) LoadFlag(off int) bool {
	return atomic.LoadUint32((*uint32)(unsafe.Pointer(&h[off]))) != 0
}

// StoreFlag atomically writes the 4-byte flag at off.
func (h Header) StoreFlag(off int, on bool) {
	var v uint32
	if on {
		v = 1
	}
	atomic.StoreUint32((*uint32)(unsafe.Pointer(&h[off])), v)
}

// NewHeader allocates a zeroed heap header of n bytes. The backing array is
// 8-byte aligned so lock and flag words can be accessed atomically.
func NewHeader(n int) Header {
	words := make([]uint64, (n+7)/8)
	return unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), n)
}
