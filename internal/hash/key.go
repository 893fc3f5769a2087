package hash

import "encoding/binary"

// Key hashes a table key. Four-byte keys hash to their little-endian
// value; every other key uses the polynomial h = h*1021 + b.
func Key(key []byte) uint32 {
	if len(key) == 4 {
		return binary.LittleEndian.Uint32(key)
	}
	return Poly1021(key)
}

// Poly1021 is the rolling polynomial hash h = h*1021 + b.
func Poly1021(key []byte) uint32 {
	var h uint32
	for _, b := range key {
		h = h*1021 + uint32(b)
	}
	return h
}

// Step returns the probe stride for h. It is odd, so combined with a
// power-of-two index it visits every slot.
func Step(h uint32) uint32 {
	return (h >> 2) | 0x01010101
}
