package mmap

import (
	"sync/atomic"
)

// Fder is implemented by files that expose an OS descriptor, such as *os.File.
type Fder interface {
	Fd() uintptr
}

// Mapping represents a memory-mapped range of a file or of anonymous memory.
// It owns the underlying byte slice and is responsible for unmapping it.
type Mapping struct {
	data     []byte
	writable bool
	closed   atomic.Bool
	// unmap is the platform-specific function to unmap the memory.
	unmap func([]byte) error
	flush func([]byte) error
}

// Map maps size bytes of f starting at offset. The mapping is shared, so
// writes through a writable mapping are visible to every other mapping of
// the same file range, in this process or another.
//
// offset must be a multiple of the allocation granularity (64 KiB covers
// every supported platform).
func Map(f Fder, offset int64, size int, writable bool) (*Mapping, error) {
	if size <= 0 {
		return nil, ErrInvalidSize
	}
	if offset < 0 || offset%Granularity != 0 {
		return nil, ErrInvalidOffset
	}

	data, unmapFunc, flushFunc, err := osMap(f.Fd(), offset, size, writable)
	if err != nil {
		return nil, err
	}

	return &Mapping{
		data:     data,
		writable: writable,
		unmap:    unmapFunc,
		flush:    flushFunc,
	}, nil
}

// MapAnon creates a private read-write anonymous mapping of size bytes.
// The memory is zero-filled and lives outside the Go heap.
func MapAnon(size int) (*Mapping, error) {
	if size <= 0 {
		return nil, ErrInvalidSize
	}
	data, unmapFunc, err := osMapAnon(size)
	if err != nil {
		return nil, err
	}
	return &Mapping{data: data, writable: true, unmap: unmapFunc}, nil
}

// Close unmaps the memory. It is idempotent.
func (m *Mapping) Close() error {
	if m.closed.Swap(true) {
		return nil // Already closed
	}
	if m.unmap != nil && m.data != nil {
		return m.unmap(m.data)
	}
	return nil
}

// Bytes returns the underlying byte slice.
// Warning: The slice is valid only until Close() is called.
func (m *Mapping) Bytes() []byte {
	if m.closed.Load() {
		return nil
	}
	return m.data
}

// Size returns the size of the mapping in bytes.
func (m *Mapping) Size() int {
	return len(m.data)
}

// Writable reports whether the mapping accepts writes.
func (m *Mapping) Writable() bool {
	return m.writable
}

// Sync flushes dirty pages of a file mapping to disk.
func (m *Mapping) Sync() error {
	if m.closed.Load() {
		return ErrClosed
	}
	if m.flush == nil || !m.writable {
		return nil
	}
	return m.flush(m.data)
}

// Advise provides hints to the kernel about how the memory will be accessed.
func (m *Mapping) Advise(pattern AccessPattern) error {
	if m.closed.Load() {
		return ErrClosed
	}
	return osAdvise(m.data, pattern)
}
