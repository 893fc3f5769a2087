// Package hash provides the hash functions used by tables.
//
// # Key hashing
//
// Key and Poly1021 derive the 32-bit hash of a table key and Step derives
// the open-addressing probe stride from it:
//
//	h := hash.Key(key)
//	for i, step := h, hash.Step(h); ; i += step {
//	    slot := index[i & mask]
//	    ...
//	}
//
// # CRC32-Castagnoli (CRC32C)
//
// Persistent segment files checksum their immutable descriptor with CRC32C
// so that structural damage is detected at open time. Go's crc32 package
// uses hardware instructions (SSE4.2, ARM CRC) when available.
package hash
