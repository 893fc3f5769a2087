package array

import (
	"context"
	"encoding/binary"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/recstore"
	"github.com/hupe1980/recstore/internal/fs"
	"github.com/hupe1980/recstore/internal/segio"
	"github.com/hupe1980/recstore/resource"
)

type backend struct {
	name string
	path func(t *testing.T) string
}

var backends = []backend{
	{"memory", func(*testing.T) string { return "" }},
	{"persistent", func(t *testing.T) string { return filepath.Join(t.TempDir(), "records.rec") }},
}

func forEachBackend(t *testing.T, fn func(t *testing.T, path string)) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			fn(t, b.path(t))
		})
	}
}

func newTestTable(t *testing.T, path string, valueSize int, flags Flags, opts ...Option) *Table {
	t.Helper()
	tbl, err := Create(path, valueSize, flags, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { tbl.Close() })
	return tbl
}

func u32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func TestAddValue(t *testing.T) {
	forEachBackend(t, func(t *testing.T, path string) {
		tbl := newTestTable(t, path, 8, 0)

		for i := uint32(1); i <= 100; i++ {
			id, err := tbl.Add(u32(i * 10))
			require.NoError(t, err)
			assert.Equal(t, i, id)
		}
		n, err := tbl.Size()
		require.NoError(t, err)
		assert.Equal(t, uint32(100), n)

		v, err := tbl.Value(42)
		require.NoError(t, err)
		assert.Len(t, v, 8)
		assert.Equal(t, uint32(420), binary.LittleEndian.Uint32(v))

		_, err = tbl.Value(101)
		assert.ErrorIs(t, err, recstore.ErrNotFound)
		_, err = tbl.Value(recstore.NilID)
		assert.ErrorIs(t, err, recstore.ErrNotFound)

		_, err = tbl.Add(make([]byte, 9))
		assert.ErrorIs(t, err, recstore.ErrInvalidArgument)
	})
}

func TestValueIsCopy(t *testing.T) {
	tbl := newTestTable(t, "", 4, 0)
	id, err := tbl.Add(u32(1))
	require.NoError(t, err)

	v, err := tbl.Value(id)
	require.NoError(t, err)
	v[0] = 99

	require.NoError(t, tbl.View(id, func(value []byte) {
		assert.Equal(t, u32(1), value)
	}))
}

func TestGarbageReuse(t *testing.T) {
	forEachBackend(t, func(t *testing.T, path string) {
		tbl := newTestTable(t, path, 4, 0)
		for i := 1; i <= 10; i++ {
			_, err := tbl.Add(u32(uint32(i)))
			require.NoError(t, err)
		}

		require.NoError(t, tbl.DeleteByID(3))
		require.NoError(t, tbl.DeleteByID(7))
		assert.ErrorIs(t, tbl.DeleteByID(7), recstore.ErrNotFound)
		assert.False(t, tbl.Exists(3))
		assert.True(t, tbl.Exists(4))
		assert.Equal(t, uint32(2), tbl.GarbageCount())

		// Most recently deleted first.
		id, err := tbl.Add(nil)
		require.NoError(t, err)
		assert.Equal(t, recstore.ID(7), id)
		v, err := tbl.Value(id)
		require.NoError(t, err)
		assert.Equal(t, u32(0), v, "reused value is zeroed")

		id, err = tbl.Add(nil)
		require.NoError(t, err)
		assert.Equal(t, recstore.ID(3), id)

		id, err = tbl.Add(nil)
		require.NoError(t, err)
		assert.Equal(t, recstore.ID(11), id)

		n, _ := tbl.Size()
		assert.Equal(t, uint32(11), n)
		assert.Zero(t, tbl.GarbageCount())
	})
}

func TestSmallValuesAreNotReused(t *testing.T) {
	tbl := newTestTable(t, "", 2, 0)
	for i := 0; i < 3; i++ {
		_, err := tbl.Add([]byte{1, 2})
		require.NoError(t, err)
	}
	require.NoError(t, tbl.DeleteByID(2))
	assert.False(t, tbl.Exists(2))
	assert.True(t, tbl.Exists(3))

	id, err := tbl.Add(nil)
	require.NoError(t, err)
	assert.Equal(t, recstore.ID(4), id)
}

func TestSetValue(t *testing.T) {
	forEachBackend(t, func(t *testing.T, path string) {
		tbl := newTestTable(t, path, 8, 0)
		id, err := tbl.Add(nil)
		require.NoError(t, err)

		delta := make([]byte, 8)
		binary.LittleEndian.PutUint64(delta, 5)
		require.NoError(t, tbl.SetValue(id, delta, recstore.Incr))
		require.NoError(t, tbl.SetValue(id, delta, recstore.Incr))
		binary.LittleEndian.PutUint64(delta, 3)
		require.NoError(t, tbl.SetValue(id, delta, recstore.Decr))

		v, err := tbl.Value(id)
		require.NoError(t, err)
		assert.Equal(t, uint64(7), binary.LittleEndian.Uint64(v))

		require.NoError(t, tbl.SetValue(id, []byte("ab"), recstore.Set))
		v, _ = tbl.Value(id)
		assert.Equal(t, []byte{'a', 'b', 0, 0, 0, 0, 0, 0}, v)

		assert.ErrorIs(t, tbl.SetValue(999, delta, recstore.Set), recstore.ErrNotFound)
	})
}

func TestSetValueUnsupportedSize(t *testing.T) {
	tbl := newTestTable(t, "", 6, 0)
	id, err := tbl.Add(nil)
	require.NoError(t, err)
	assert.ErrorIs(t, tbl.SetValue(id, make([]byte, 6), recstore.Incr), recstore.ErrInvalidArgument)
}

func TestNextAndIDs(t *testing.T) {
	forEachBackend(t, func(t *testing.T, path string) {
		tbl := newTestTable(t, path, 4, 0)
		for i := 0; i < 6; i++ {
			_, err := tbl.Add(nil)
			require.NoError(t, err)
		}
		require.NoError(t, tbl.DeleteByID(2))
		require.NoError(t, tbl.DeleteByID(5))

		var got []recstore.ID
		for id := tbl.Next(recstore.NilID); id != recstore.NilID; id = tbl.Next(id) {
			got = append(got, id)
		}
		assert.Equal(t, []recstore.ID{1, 3, 4, 6}, got)

		ids, err := tbl.IDs()
		require.NoError(t, err)
		assert.Equal(t, []uint32{1, 3, 4, 6}, ids.ToArray())
		assert.Equal(t, recstore.ID(6), tbl.MaxID())
	})
}

func TestCreateInvalid(t *testing.T) {
	_, err := Create("", -1, 0)
	assert.ErrorIs(t, err, recstore.ErrInvalidArgument)
	_, err = Create("", MaxValueSize+1, 0)
	assert.ErrorIs(t, err, recstore.ErrInvalidArgument)
	_, err = Open("")
	assert.ErrorIs(t, err, recstore.ErrInvalidArgument)
}

func TestPersistentReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.rec")
	tbl, err := Create(path, 12, 0)
	require.NoError(t, err)
	for i := 1; i <= 5; i++ {
		_, err := tbl.Add(u32(uint32(i)))
		require.NoError(t, err)
	}
	require.NoError(t, tbl.DeleteByID(2))
	require.NoError(t, tbl.Sync())
	require.NoError(t, tbl.Close())

	tbl, err = Open(path)
	require.NoError(t, err)
	defer tbl.Close()

	assert.Equal(t, 12, tbl.ValueSize())
	n, err := tbl.Size()
	require.NoError(t, err)
	assert.Equal(t, uint32(4), n)
	assert.False(t, tbl.Exists(2))

	v, err := tbl.Value(4)
	require.NoError(t, err)
	assert.Equal(t, uint32(4), binary.LittleEndian.Uint32(v))

	id, err := tbl.Add(nil)
	require.NoError(t, err)
	assert.Equal(t, recstore.ID(2), id)
}

func TestOpenWrongType(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blob")
	sf, err := segio.Create(path, segio.TypeBlob, 8, []segio.ArraySpec{{ElementWidth: 0, MaxSegments: 1}})
	require.NoError(t, err)
	require.NoError(t, sf.Close())

	_, err = Open(path)
	assert.ErrorIs(t, err, recstore.ErrInvalidFormat)

	_, err = Open(filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, recstore.ErrIO)
}

func TestTruncate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.rec")
	tbl := newTestTable(t, path, 4, 0)
	for i := 0; i < 10; i++ {
		_, err := tbl.Add(nil)
		require.NoError(t, err)
	}

	other, err := Open(path)
	require.NoError(t, err)
	defer other.Close()

	require.NoError(t, tbl.Truncate())
	n, err := tbl.Size()
	require.NoError(t, err)
	assert.Zero(t, n)

	id, err := tbl.Add(nil)
	require.NoError(t, err)
	assert.Equal(t, recstore.ID(1), id)

	_, err = other.Add(nil)
	require.ErrorIs(t, err, recstore.ErrFileCorrupt)
	assert.Contains(t, err.Error(), "is truncated, please unmap or reopen the database")
	_, err = other.Size()
	assert.ErrorIs(t, err, recstore.ErrFileCorrupt)
	assert.Equal(t, recstore.CodeFileCorrupt, recstore.CodeOf(recstore.LastError()))

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()
	assert.True(t, reopened.Exists(1))
}

func TestTruncateMemory(t *testing.T) {
	tbl := newTestTable(t, "", 4, FlagQueue, WithQueueCapacity(8))
	_, err := tbl.Push(nil)
	require.NoError(t, err)

	require.NoError(t, tbl.Truncate())
	n, _ := tbl.Size()
	assert.Zero(t, n)
	assert.Equal(t, uint32(8), tbl.QueueCapacity())
}

func TestLock(t *testing.T) {
	forEachBackend(t, func(t *testing.T, path string) {
		tbl := newTestTable(t, path, 4, 0)
		ctx := context.Background()

		require.NoError(t, tbl.Lock(ctx, 0))
		assert.True(t, tbl.IsLocked())
		assert.ErrorIs(t, tbl.Lock(ctx, 2), recstore.ErrDeadlockAvoided)

		tbl.Unlock()
		assert.False(t, tbl.IsLocked())

		require.NoError(t, tbl.Lock(ctx, 0))
		tbl.ClearLock()
		assert.False(t, tbl.IsLocked())
	})
}

func TestLockSharedAcrossHandles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.rec")
	a := newTestTable(t, path, 4, 0)
	b, err := Open(path)
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, a.Lock(context.Background(), 0))
	assert.ErrorIs(t, b.Lock(context.Background(), 0), recstore.ErrDeadlockAvoided)
	a.Unlock()
	require.NoError(t, b.Lock(context.Background(), 0))
	b.Unlock()
}

func TestClosed(t *testing.T) {
	tbl, err := Create("", 4, 0)
	require.NoError(t, err)
	require.NoError(t, tbl.Close())
	require.NoError(t, tbl.Close())

	_, err = tbl.Add(nil)
	assert.ErrorIs(t, err, recstore.ErrInvalidArgument)
	assert.False(t, tbl.Exists(1))
	assert.ErrorIs(t, tbl.Lock(context.Background(), 0), recstore.ErrInvalidArgument)
}

func TestMemoryLimit(t *testing.T) {
	rc := resource.NewController(resource.Config{MemoryLimitBytes: 1024})
	tbl := newTestTable(t, "", 64, 0, WithResourceController(rc))

	var err error
	for i := 0; i < 100 && err == nil; i++ {
		_, err = tbl.Add(nil)
	}
	require.ErrorIs(t, err, recstore.ErrNoMemory)

	// Blocks 0..3 hold IDs 1..15; block 4 would exceed the budget.
	n, _ := tbl.Size()
	assert.Equal(t, uint32(15), n)
	assert.Equal(t, recstore.ID(15), tbl.MaxID())
}

func TestFaultyFileSystem(t *testing.T) {
	ffs := fs.NewFaultyFS(fs.Default)
	path := filepath.Join(t.TempDir(), "records.rec")
	tbl := newTestTable(t, path, 4, 0, WithFileSystem(ffs))

	ffs.AddRule("records.rec", fs.Fault{FailAfterBytes: -1, FailTruncateAbove: 0})
	_, err := tbl.Add(nil)
	require.Error(t, err)
	n, _ := tbl.Size()
	assert.Zero(t, n)

	ffs.ClearRules()
	id, err := tbl.Add(nil)
	require.NoError(t, err)
	assert.Equal(t, recstore.ID(1), id)
}
