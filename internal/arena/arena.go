package arena

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/recstore/internal/mmap"
)

// MemoryAcquirer is an interface for acquiring memory.
type MemoryAcquirer interface {
	AcquireMemory(bytes int64) error
	ReleaseMemory(bytes int64)
}

var (
	// ErrOutOfRange is returned for positions past the last chunk or spans
	// that cross a chunk boundary.
	ErrOutOfRange = errors.New("arena: position out of range")
	// ErrAllocationFailed is returned when a chunk cannot be allocated.
	ErrAllocationFailed = errors.New("arena: allocation failed")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("arena: closed")
)

// Stats tracks arena memory usage.
type Stats struct {
	ActiveChunks  uint64
	BytesReserved uint64
}

type chunk struct {
	data    []byte
	mapping *mmap.Mapping // nil for heap chunks
}

// Arena is a position-addressed byte space split into fixed-size chunks.
// Chunks are allocated on first touch and keep their address until Close.
type Arena struct {
	chunkBits int
	chunkSize int
	offHeap   bool
	acquirer  MemoryAcquirer

	chunks []atomic.Pointer[chunk]
	mu     sync.Mutex // Protects chunk allocation
	closed atomic.Bool

	activeChunks atomic.Uint64
}

// Option is a configuration option for Arena.
type Option func(*Arena)

// WithMemoryAcquirer sets the memory acquirer for the arena.
func WithMemoryAcquirer(acquirer MemoryAcquirer) Option {
	return func(a *Arena) {
		a.acquirer = acquirer
	}
}

// WithOffHeap backs chunks with anonymous mappings instead of the Go heap.
func WithOffHeap() Option {
	return func(a *Arena) {
		a.offHeap = true
	}
}

// New creates an arena of maxChunks chunks of 1<<chunkBits bytes each.
func New(chunkBits int, maxChunks int, opts ...Option) *Arena {
	a := &Arena{
		chunkBits: chunkBits,
		chunkSize: 1 << chunkBits,
		chunks:    make([]atomic.Pointer[chunk], maxChunks),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ChunkSize returns the chunk size in bytes.
func (a *Arena) ChunkSize() int {
	return a.chunkSize
}

// Capacity returns the total addressable size in bytes.
func (a *Arena) Capacity() uint64 {
	return uint64(len(a.chunks)) << a.chunkBits
}

// Span returns n bytes at pos. With alloc unset a missing chunk yields nil.
func (a *Arena) Span(pos uint64, n int, alloc bool) ([]byte, error) {
	idx := pos >> a.chunkBits
	off := int(pos & uint64(a.chunkSize-1))
	if idx >= uint64(len(a.chunks)) || off+n > a.chunkSize {
		return nil, ErrOutOfRange
	}
	c := a.chunks[idx].Load()
	if c == nil {
		if !alloc {
			return nil, nil
		}
		var err error
		if c, err = a.allocate(int(idx)); err != nil {
			return nil, err
		}
	}
	return c.data[off : off+n : off+n], nil
}

func (a *Arena) allocate(idx int) (*chunk, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed.Load() {
		return nil, ErrClosed
	}
	if c := a.chunks[idx].Load(); c != nil {
		return c, nil
	}

	if a.acquirer != nil {
		if err := a.acquirer.AcquireMemory(int64(a.chunkSize)); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrAllocationFailed, err)
		}
	}

	c := &chunk{}
	if a.offHeap {
		m, err := mmap.MapAnon(a.chunkSize)
		if err != nil {
			if a.acquirer != nil {
				a.acquirer.ReleaseMemory(int64(a.chunkSize))
			}
			return nil, fmt.Errorf("%w: %w", ErrAllocationFailed, err)
		}
		c.data, c.mapping = m.Bytes(), m
	} else {
		c.data = make([]byte, a.chunkSize)
	}

	a.chunks[idx].Store(c)
	a.activeChunks.Add(1)
	return c, nil
}

// Stats returns current usage.
func (a *Arena) Stats() Stats {
	n := a.activeChunks.Load()
	return Stats{
		ActiveChunks:  n,
		BytesReserved: n * uint64(a.chunkSize),
	}
}

// Close releases every chunk. Slices obtained from the arena must not be
// used afterwards.
func (a *Arena) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed.Swap(true) {
		return nil
	}
	var errs []error
	for i := range a.chunks {
		c := a.chunks[i].Swap(nil)
		if c == nil {
			continue
		}
		if c.mapping != nil {
			errs = append(errs, c.mapping.Close())
		}
		if a.acquirer != nil {
			a.acquirer.ReleaseMemory(int64(a.chunkSize))
		}
	}
	a.activeChunks.Store(0)
	return errors.Join(errs...)
}
