// Package arena provides the chunked byte space that holds long keys of
// in-memory hash tables.
//
// Positions are plain byte offsets. A position maps to chunk pos>>bits at
// offset pos&(size-1); callers never place a span across two chunks, which
// mirrors the segment rule of persistent key arenas. Chunks are allocated
// on first touch, optionally off-heap via anonymous mappings, and keep
// their address until Close.
package arena
