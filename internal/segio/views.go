package segio

import "github.com/hupe1980/recstore/internal/container"

// Elements is a container.Store view of one array, addressed by uint32 ID.
type Elements struct {
	f *File
	a int
}

// Elements returns a Store over array a.
func (sf *File) Elements(a int) Elements {
	return Elements{f: sf, a: a}
}

// At implements container.Store.
func (e Elements) At(id uint32) ([]byte, error) {
	return e.f.At(e.a, uint64(id), true)
}

// Get implements container.Store.
func (e Elements) Get(id uint32) []byte {
	b, _ := e.f.At(e.a, uint64(id), false)
	return b
}

// Bits is a container.BitStore view of a byte array (element width 0).
type Bits struct {
	f *File
	a int
}

// Bits returns a BitStore over array a.
func (sf *File) Bits(a int) Bits {
	return Bits{f: sf, a: a}
}

// Test implements container.BitStore.
func (b Bits) Test(bit uint32) bool {
	p, _ := b.f.At(b.a, uint64(bit>>3), false)
	return p != nil && p[0]&(1<<(bit&7)) != 0
}

// Set implements container.BitStore.
func (b Bits) Set(bit uint32, on bool) error {
	p, err := b.f.At(b.a, uint64(bit>>3), true)
	if err != nil {
		return err
	}
	if on {
		p[0] |= 1 << (bit & 7)
	} else {
		p[0] &^= 1 << (bit & 7)
	}
	return nil
}

var (
	_ container.Store    = Elements{}
	_ container.BitStore = Bits{}
)
