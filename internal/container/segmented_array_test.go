package container

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/recstore/resource"
)

func TestSegmentedArray_Addressing(t *testing.T) {
	tests := []struct {
		id    uint32
		block int
		off   int
	}{
		{1, 0, 0},
		{2, 1, 0},
		{3, 1, 1},
		{4, 2, 0},
		{7, 2, 3},
		{8, 3, 0},
		{1 << 20, 20, 0},
		{1<<20 + 5, 20, 5},
		{0xffffffff, 31, 1<<31 - 1},
	}
	for _, tt := range tests {
		k, off := locate(tt.id)
		assert.Equal(t, tt.block, k, "id %d", tt.id)
		assert.Equal(t, tt.off, off, "id %d", tt.id)
	}
}

func TestSegmentedArray_AtGet(t *testing.T) {
	a := NewSegmentedArray(8)
	defer a.Close()

	_, err := a.At(0)
	assert.ErrorIs(t, err, ErrInvalidID)
	assert.Nil(t, a.Get(0))

	assert.Nil(t, a.Get(5))
	p, err := a.At(5)
	require.NoError(t, err)
	require.Len(t, p, 8)
	assert.Equal(t, make([]byte, 8), p)
	copy(p, "abcdefgh")

	// Same block, already allocated.
	assert.Equal(t, "abcdefgh", string(a.Get(5)))
	assert.NotNil(t, a.Get(6))
	assert.Equal(t, uint32(5), a.Max())

	// Writes never spill into the neighbour.
	q, err := a.At(6)
	require.NoError(t, err)
	assert.Equal(t, 8, cap(q))
	assert.Equal(t, make([]byte, 8), q)

	assert.Equal(t, int64(4*8), a.Reserved())
}

func TestSegmentedArray_StableAddresses(t *testing.T) {
	a := NewSegmentedArray(4)
	defer a.Close()

	first, err := a.At(3)
	require.NoError(t, err)
	first[0] = 42

	for id := uint32(4); id < 5000; id++ {
		_, err := a.At(id)
		require.NoError(t, err)
	}
	again := a.Get(3)
	assert.Equal(t, &first[0], &again[0])
	assert.Equal(t, byte(42), again[0])
	assert.Equal(t, uint32(4999), a.Max())
}

func TestSegmentedArray_MemoryLimit(t *testing.T) {
	rc := resource.NewController(resource.Config{MemoryLimitBytes: 64})
	a := NewSegmentedArray(4, WithMemoryAcquirer(rc))

	// Blocks 0..3 take 4+8+16+32 = 60 bytes.
	for id := uint32(1); id < 16; id++ {
		_, err := a.At(id)
		require.NoError(t, err)
	}
	_, err := a.At(16)
	assert.ErrorIs(t, err, ErrNoMemory)
	assert.ErrorIs(t, err, resource.ErrMemoryLimitExceeded)
	assert.Equal(t, uint32(15), a.Max())

	a.Close()
	assert.Zero(t, rc.MemoryUsage())
	assert.Zero(t, a.Reserved())
}

func TestSegmentedArray_ConcurrentAllocation(t *testing.T) {
	a := NewSegmentedArray(8, WithThreadSafe())
	defer a.Close()

	const workers = 16
	ptrs := make([]*byte, workers)
	var start sync.WaitGroup
	start.Add(1)

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		w := w
		g.Go(func() error {
			start.Wait()
			p, err := a.At(1 << 12)
			if err != nil {
				return err
			}
			ptrs[w] = &p[0]
			return nil
		})
	}
	start.Done()
	require.NoError(t, g.Wait())

	for _, p := range ptrs {
		assert.Same(t, ptrs[0], p)
	}
	assert.Equal(t, int64(8<<12), a.Reserved())
}
