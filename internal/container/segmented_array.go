// Package container implements the block-segmented storage used by
// in-memory tables.
package container

import (
	"errors"
	"fmt"
	"math/bits"
	"sync"
	"sync/atomic"
)

// NumBlocks is the number of block slots. Block k holds 2^k elements, so
// the slots together cover every non-zero uint32 ID.
const NumBlocks = 32

var (
	// ErrInvalidID is returned for ID 0.
	ErrInvalidID = errors.New("container: invalid id")
	// ErrNoMemory is returned when a block cannot be allocated.
	ErrNoMemory = errors.New("container: block allocation failed")
)

// MemoryAcquirer charges block allocations against a budget.
// *resource.Controller implements it.
type MemoryAcquirer interface {
	AcquireMemory(bytes int64) error
	ReleaseMemory(bytes int64)
}

// Option configures a SegmentedArray.
type Option func(*SegmentedArray)

// WithThreadSafe serializes block allocation so that concurrent At calls
// racing on the same missing block observe a single allocation.
func WithThreadSafe() Option {
	return func(a *SegmentedArray) {
		a.threadSafe = true
	}
}

// WithMemoryAcquirer charges every block against acquirer.
func WithMemoryAcquirer(acquirer MemoryAcquirer) Option {
	return func(a *SegmentedArray) {
		a.acquirer = acquirer
	}
}

type block struct {
	data []byte
}

// SegmentedArray is a sparse ID-indexed array of fixed-size byte elements.
//
// The element for ID i lives in block floor(log2 i) at offset i - 2^block.
// Blocks are allocated zero-filled on first touch and never move until
// Close, so slices returned by At stay valid for the array's lifetime.
type SegmentedArray struct {
	elemSize   int
	threadSafe bool
	acquirer   MemoryAcquirer

	blocks   [NumBlocks]atomic.Pointer[block]
	max      atomic.Uint32
	reserved atomic.Int64
	mu       sync.Mutex // Protects block allocation when threadSafe
}

// NewSegmentedArray creates an array of elemSize-byte elements.
func NewSegmentedArray(elemSize int, opts ...Option) *SegmentedArray {
	a := &SegmentedArray{elemSize: elemSize}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func locate(id uint32) (k int, off int) {
	k = bits.Len32(id) - 1
	return k, int(id - 1<<k)
}

// ElemSize returns the element size in bytes.
func (a *SegmentedArray) ElemSize() int {
	return a.elemSize
}

// At returns the element slot for id, allocating its block if needed.
func (a *SegmentedArray) At(id uint32) ([]byte, error) {
	if id == 0 {
		return nil, ErrInvalidID
	}
	k, off := locate(id)
	b := a.blocks[k].Load()
	if b == nil {
		var err error
		if b, err = a.allocate(k); err != nil {
			return nil, err
		}
	}
	for {
		m := a.max.Load()
		if id <= m || a.max.CompareAndSwap(m, id) {
			break
		}
	}
	return a.slot(b, off), nil
}

// Get returns the element slot for id, or nil if its block was never
// allocated. It never allocates.
func (a *SegmentedArray) Get(id uint32) []byte {
	if id == 0 {
		return nil
	}
	k, off := locate(id)
	b := a.blocks[k].Load()
	if b == nil {
		return nil
	}
	return a.slot(b, off)
}

func (a *SegmentedArray) slot(b *block, off int) []byte {
	start := off * a.elemSize
	end := start + a.elemSize
	return b.data[start:end:end]
}

func (a *SegmentedArray) allocate(k int) (*block, error) {
	if a.threadSafe {
		a.mu.Lock()
		defer a.mu.Unlock()
		if b := a.blocks[k].Load(); b != nil {
			return b, nil
		}
	}

	size := int64(1<<k) * int64(a.elemSize)
	if a.acquirer != nil {
		if err := a.acquirer.AcquireMemory(size); err != nil {
			return nil, fmt.Errorf("%w: block %d (%d bytes): %w", ErrNoMemory, k, size, err)
		}
	}
	b := &block{data: make([]byte, size)}
	a.blocks[k].Store(b)
	a.reserved.Add(size)
	return b, nil
}

// Max returns the highest ID ever passed to At.
func (a *SegmentedArray) Max() uint32 {
	return a.max.Load()
}

// Reserved returns the number of bytes held by allocated blocks.
func (a *SegmentedArray) Reserved() int64 {
	return a.reserved.Load()
}

// Close frees every block. The array must not be used afterwards.
func (a *SegmentedArray) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for k := range a.blocks {
		if a.blocks[k].Swap(nil) != nil && a.acquirer != nil {
			a.acquirer.ReleaseMemory(int64(1<<k) * int64(a.elemSize))
		}
	}
	a.reserved.Store(0)
	a.max.Store(0)
}
