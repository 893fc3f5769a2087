// Package mmap provides shared read-write file mappings and anonymous
// mappings.
//
// # Usage
//
//	m, err := mmap.Map(f, offset, size, true)
//	if err != nil { ... }
//	defer m.Close()
//
//	buf := m.Bytes() // writes go straight to the page cache
//	m.Sync()         // optional msync
//
// File mappings are MAP_SHARED, so two handles that map the same range of
// the same file (in one process or several) observe each other's writes.
// This is what persistent tables rely on for their shared header and lock
// word.
//
// # Platform Support
//
//   - Unix (Linux, macOS, BSD): mmap(2), msync(2), madvise(2)
//   - Windows: CreateFileMapping/MapViewOfFile (madvise is a no-op)
//
// # Thread Safety
//
// Close is idempotent and protected by an atomic flag. Callers must ensure no
// goroutine touches Bytes() after Close() returns.
package mmap
