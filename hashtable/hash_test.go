package hashtable

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/recstore"
	"github.com/hupe1980/recstore/array"
	"github.com/hupe1980/recstore/internal/fs"
	"github.com/hupe1980/recstore/resource"
)

type backend struct {
	name string
	path func(t *testing.T) string
}

var backends = []backend{
	{"memory", func(*testing.T) string { return "" }},
	{"persistent", func(t *testing.T) string { return filepath.Join(t.TempDir(), "keys.hash") }},
}

func forEachBackend(t *testing.T, fn func(t *testing.T, path string)) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			fn(t, b.path(t))
		})
	}
}

func newTestTable(t *testing.T, path string, keySize, valueSize int, flags Flags, opts ...Option) *Table {
	t.Helper()
	tbl, err := Create(path, keySize, valueSize, flags, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { tbl.Close() })
	return tbl
}

func u32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func i64(v int64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, uint64(v))
	return b
}

func TestFixedKeys(t *testing.T) {
	forEachBackend(t, func(t *testing.T, path string) {
		tbl := newTestTable(t, path, 4, 4, 0)

		for i := uint32(1); i <= 1000; i++ {
			id, v, added, err := tbl.Add(u32(i))
			require.NoError(t, err)
			assert.True(t, added)
			assert.Equal(t, i, id)
			assert.Equal(t, make([]byte, 4), v)
		}
		for i := uint32(2); i <= 1000; i += 2 {
			require.NoError(t, tbl.Delete(u32(i)))
		}
		n, err := tbl.Size()
		require.NoError(t, err)
		assert.Equal(t, uint32(500), n)

		id, _, err := tbl.Get(u32(2))
		require.NoError(t, err)
		assert.Equal(t, recstore.NilID, id)
		id, _, err = tbl.Get(u32(999))
		require.NoError(t, err)
		assert.Equal(t, recstore.ID(999), id)

		// The most recently deleted entry is reused first.
		id, _, added, err := tbl.Add(u32(2))
		require.NoError(t, err)
		assert.True(t, added)
		assert.Equal(t, recstore.ID(1000), id)

		key, err := tbl.Key(id)
		require.NoError(t, err)
		assert.Equal(t, u32(2), key)
		assert.Equal(t, recstore.ID(1000), tbl.MaxID())
	})
}

func TestAddExisting(t *testing.T) {
	forEachBackend(t, func(t *testing.T, path string) {
		tbl := newTestTable(t, path, 8, 8, 0)

		key := []byte("abcdefgh")
		id, _, added, err := tbl.Add(key)
		require.NoError(t, err)
		require.True(t, added)
		require.NoError(t, tbl.SetValue(id, i64(42), recstore.Set))

		again, v, added, err := tbl.Add(key)
		require.NoError(t, err)
		assert.False(t, added)
		assert.Equal(t, id, again)
		assert.Equal(t, i64(42), v)

		got, v, err := tbl.Get(key)
		require.NoError(t, err)
		assert.Equal(t, id, got)
		assert.Equal(t, i64(42), v)
	})
}

func TestKeyValidation(t *testing.T) {
	fixed := newTestTable(t, "", 8, 0, 0)
	_, _, _, err := fixed.Add([]byte("short"))
	assert.ErrorIs(t, err, recstore.ErrInvalidArgument)
	_, _, _, err = fixed.Add(nil)
	assert.ErrorIs(t, err, recstore.ErrInvalidArgument)

	varKeys := newTestTable(t, "", 0, 0, FlagKeyVarSize)
	assert.Equal(t, MaxKeySize, varKeys.KeySize())
	_, _, _, err = varKeys.Add(make([]byte, MaxKeySize+1))
	assert.ErrorIs(t, err, recstore.ErrInvalidArgument)
	_, _, _, err = varKeys.Add(make([]byte, MaxKeySize))
	assert.NoError(t, err)

	large := newTestTable(t, "", 0, 0, FlagKeyVarSize|FlagKeyLarge)
	assert.Equal(t, MaxKeySizeLarge, large.KeySize())
	assert.True(t, large.IsLargeTotalKeySize())
	_, _, _, err = large.Add(bytes.Repeat([]byte{'x'}, MaxKeySizeLarge))
	assert.NoError(t, err)
}

func TestCreateInvalid(t *testing.T) {
	_, err := Create("", 0, 4, 0)
	assert.ErrorIs(t, err, recstore.ErrInvalidArgument)
	_, err = Create("", MaxKeySize+1, 4, 0)
	assert.ErrorIs(t, err, recstore.ErrInvalidArgument)
	_, err = Create("", 4, -1, 0)
	assert.ErrorIs(t, err, recstore.ErrInvalidArgument)
	_, err = Create("", 4, 1<<22, 0)
	assert.ErrorIs(t, err, recstore.ErrInvalidArgument)
}

func TestVarKeys(t *testing.T) {
	forEachBackend(t, func(t *testing.T, path string) {
		tbl := newTestTable(t, path, 0, 8, FlagKeyVarSize)

		id1, _, _, err := tbl.Add([]byte("abc"))
		require.NoError(t, err)
		assert.Zero(t, tbl.TotalKeySize(), "short keys are stored inline")

		long := []byte("hello world")
		id2, _, _, err := tbl.Add(long)
		require.NoError(t, err)
		assert.Equal(t, uint64(len(long)), tbl.TotalKeySize())
		assert.Equal(t, uint64(KeySegments)<<22, tbl.MaxTotalKeySize())

		for id, want := range map[recstore.ID][]byte{id1: []byte("abc"), id2: long} {
			key, err := tbl.Key(id)
			require.NoError(t, err)
			assert.Equal(t, want, key)

			got, _, err := tbl.Get(want)
			require.NoError(t, err)
			assert.Equal(t, id, got)
		}

		// Same hash prefix, different length.
		id, _, err := tbl.Get([]byte("hello worl"))
		require.NoError(t, err)
		assert.Equal(t, recstore.NilID, id)
	})
}

func TestVarKeyReuseKeepsArenaOffset(t *testing.T) {
	forEachBackend(t, func(t *testing.T, path string) {
		tbl := newTestTable(t, path, 0, 0, FlagKeyVarSize)

		a := bytes.Repeat([]byte{'a'}, 100)
		b := bytes.Repeat([]byte{'b'}, 100)
		id, _, _, err := tbl.Add(a)
		require.NoError(t, err)
		require.NoError(t, tbl.Delete(a))

		reused, _, added, err := tbl.Add(b)
		require.NoError(t, err)
		assert.True(t, added)
		assert.Equal(t, id, reused)
		assert.Equal(t, uint64(100), tbl.TotalKeySize())

		key, err := tbl.Key(reused)
		require.NoError(t, err)
		assert.Equal(t, b, key)
	})
}

func TestTombstoneReuse(t *testing.T) {
	tbl := newTestTable(t, "", 0, 0, FlagKeyVarSize)

	_, _, _, err := tbl.Add([]byte("a"))
	require.NoError(t, err)
	_, _, _, err = tbl.Add([]byte("b"))
	require.NoError(t, err)
	require.NoError(t, tbl.Delete([]byte("a")))
	assert.Equal(t, uint32(1), tbl.s.hdr.Uint32(hdrNGarbages))

	id, _, added, err := tbl.Add([]byte("a"))
	require.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, recstore.ID(1), id)
	assert.Zero(t, tbl.s.hdr.Uint32(hdrNGarbages))
}

func TestAddCommitsBitAndSlot(t *testing.T) {
	for _, path := range []string{"", filepath.Join(t.TempDir(), "t.hash")} {
		tbl := newTestTable(t, path, 0, 4, FlagKeyVarSize)
		for i := 0; i < 300; i++ {
			key := []byte(fmt.Sprintf("entry-%d", i))
			id, _, added, err := tbl.Add(key)
			require.NoError(t, err)
			require.True(t, added)

			assert.True(t, tbl.s.bits.Test(id))
			pos, err := tbl.slotOf("test", id, tbl.hashKey(key))
			require.NoError(t, err)
			slot, err := tbl.s.indexSlot(pos, false)
			require.NoError(t, err)
			assert.Equal(t, id, binary.LittleEndian.Uint32(slot))
		}
	}
}

func TestResize(t *testing.T) {
	var buf bytes.Buffer
	logger := recstore.NewLogger(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	tbl := newTestTable(t, "", 0, 4, FlagKeyVarSize, WithLogger(logger))

	key := func(i int) []byte { return []byte(fmt.Sprintf("key-%d", i)) }
	masks := map[int]uint32{127: 255, 128: 511, 255: 511, 256: 1023, 511: 1023, 512: 2047}
	for i := 0; i < 513; i++ {
		id, _, _, err := tbl.Add(key(i))
		require.NoError(t, err)
		require.NoError(t, tbl.SetValue(id, u32(uint32(i)), recstore.Set))

		// The check before insert i sees i entries.
		if want, ok := masks[i]; ok {
			assert.Equal(t, want, tbl.s.hdr.Uint32(hdrMaxOffset), "after insert %d", i)
		}
		for j := 0; j <= i; j++ {
			id, v, err := tbl.Get(key(j))
			require.NoError(t, err)
			require.Equal(t, recstore.ID(j+1), id, "key %d after insert %d", j, i)
			require.Equal(t, u32(uint32(j)), v)
		}
	}
	assert.Equal(t, uint32(2047), tbl.s.hdr.Uint32(hdrMaxOffset))
	assert.Contains(t, buf.String(), "index resized")
	require.NoError(t, tbl.Check(&bytes.Buffer{}))
}

func TestResizeFlipsFileIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.hash")
	tbl := newTestTable(t, path, 4, 0, 0)

	// Start from a small index so that a few hundred keys resize it.
	tbl.s.hdr.PutUint32(hdrMaxOffset, initialIndexSize-1)

	add := func(from, to uint32) {
		for i := from; i <= to; i++ {
			_, _, _, err := tbl.Add(u32(i))
			require.NoError(t, err)
		}
	}
	add(1, 200)
	assert.Equal(t, uint32(maxIndexSize), tbl.s.hdr.Uint32(hdrIdxOffset))
	assert.Equal(t, uint32(511), tbl.s.hdr.Uint32(hdrMaxOffset))

	add(201, 300)
	assert.Zero(t, tbl.s.hdr.Uint32(hdrIdxOffset))
	assert.Equal(t, uint32(1023), tbl.s.hdr.Uint32(hdrMaxOffset))

	for i := uint32(1); i <= 300; i++ {
		id, _, err := tbl.Get(u32(i))
		require.NoError(t, err)
		assert.Equal(t, i, id)
	}
	require.NoError(t, tbl.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()
	id, _, err := reopened.Get(u32(300))
	require.NoError(t, err)
	assert.Equal(t, recstore.ID(300), id)
}

func TestKeyArenaExhaustion(t *testing.T) {
	forEachBackend(t, func(t *testing.T, path string) {
		tbl := newTestTable(t, path, 0, 0, FlagKeyVarSize, WithMaxKeySegments(1))
		assert.Equal(t, uint64(1)<<22, tbl.MaxTotalKeySize())

		key := func(i int) []byte {
			k := make([]byte, MaxKeySize)
			binary.LittleEndian.PutUint32(k, uint32(i))
			return k
		}
		// A key ending exactly on the segment end moves to the next segment.
		for i := 0; i < 1023; i++ {
			_, _, _, err := tbl.Add(key(i))
			require.NoError(t, err)
		}
		used := tbl.TotalKeySize()
		_, _, _, err := tbl.Add(key(1023))
		require.ErrorIs(t, err, recstore.ErrNotEnoughSpace)

		n, _ := tbl.Size()
		assert.Equal(t, uint32(1023), n)
		assert.Equal(t, recstore.ID(1023), tbl.MaxID())
		assert.Equal(t, used, tbl.TotalKeySize())

		id, _, added, err := tbl.Add([]byte("ok"))
		require.NoError(t, err)
		assert.True(t, added)
		assert.Equal(t, recstore.ID(1024), id)
	})
}

func TestMemoryLimit(t *testing.T) {
	rc := resource.NewController(resource.Config{MemoryLimitBytes: 2048})
	tbl := newTestTable(t, "", 4, 60, 0, WithResourceController(rc))

	var err error
	for i := uint32(1); i <= 100 && err == nil; i++ {
		_, _, _, err = tbl.Add(u32(i))
	}
	require.ErrorIs(t, err, recstore.ErrNoMemory)

	// Blocks 0..3 hold IDs 1..15; block 4 would exceed the budget.
	n, _ := tbl.Size()
	assert.Equal(t, uint32(15), n)
	id, _, err := tbl.Get(u32(16))
	require.NoError(t, err)
	assert.Equal(t, recstore.NilID, id)

	require.NoError(t, tbl.Close())
	assert.Zero(t, rc.MemoryUsage())
}

func TestSetValueModes(t *testing.T) {
	tbl := newTestTable(t, "", 0, 8, FlagKeyVarSize)
	id, _, _, err := tbl.Add([]byte("counter"))
	require.NoError(t, err)

	require.NoError(t, tbl.SetValue(id, i64(10), recstore.Incr))
	require.NoError(t, tbl.SetValue(id, i64(3), recstore.Decr))
	v, err := tbl.Value(id)
	require.NoError(t, err)
	assert.Equal(t, i64(7), v)

	require.NoError(t, tbl.Update(id, func(v []byte) { v[0] = 99 }))
	require.NoError(t, tbl.View(id, func(v []byte) { assert.Equal(t, byte(99), v[0]) }))

	assert.ErrorIs(t, tbl.SetValue(id, u32(1), recstore.Incr), recstore.ErrInvalidArgument)
	assert.ErrorIs(t, tbl.SetValue(99, i64(1), recstore.Set), recstore.ErrNotFound)
}

func TestDeleteByIDAndNext(t *testing.T) {
	forEachBackend(t, func(t *testing.T, path string) {
		tbl := newTestTable(t, path, 0, 0, FlagKeyVarSize)
		for _, k := range []string{"a", "bb", "ccc", "dddddddddd"} {
			_, _, _, err := tbl.Add([]byte(k))
			require.NoError(t, err)
		}

		require.NoError(t, tbl.DeleteByID(2))
		assert.ErrorIs(t, tbl.DeleteByID(2), recstore.ErrNotFound)
		assert.ErrorIs(t, tbl.Delete([]byte("bb")), recstore.ErrNotFound)
		assert.False(t, tbl.Exists(2))
		assert.True(t, tbl.Exists(3))

		assert.Equal(t, recstore.ID(1), tbl.Next(0))
		assert.Equal(t, recstore.ID(3), tbl.Next(1))
		assert.Equal(t, recstore.NilID, tbl.Next(4))

		ids, err := tbl.IDs()
		require.NoError(t, err)
		assert.Equal(t, []uint32{1, 3, 4}, ids.ToArray())

		id, _, err := tbl.Get([]byte("dddddddddd"))
		require.NoError(t, err)
		assert.Equal(t, recstore.ID(4), id)
	})
}

func TestPersistentReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.hash")
	tbl := newTestTable(t, path, 0, 8, FlagKeyVarSize)

	keys := []string{"x", "medium-key", strings.Repeat("long", 100)}
	for i, k := range keys {
		id, _, _, err := tbl.Add([]byte(k))
		require.NoError(t, err)
		require.NoError(t, tbl.SetValue(id, i64(int64(i)), recstore.Set))
	}
	require.NoError(t, tbl.Delete([]byte("x")))
	require.NoError(t, tbl.Sync())
	require.NoError(t, tbl.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, FlagKeyVarSize, reopened.Flags())
	assert.Equal(t, MaxKeySize, reopened.KeySize())
	n, err := reopened.Size()
	require.NoError(t, err)
	assert.Equal(t, uint32(2), n)

	for i, k := range keys[1:] {
		id, v, err := reopened.Get([]byte(k))
		require.NoError(t, err)
		assert.Equal(t, recstore.ID(i+2), id)
		assert.Equal(t, i64(int64(i+1)), v)
	}

	// The freed entry is still on the garbage list.
	id, _, _, err := reopened.Add([]byte("y"))
	require.NoError(t, err)
	assert.Equal(t, recstore.ID(1), id)
}

func TestOpenWrongType(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.rec")
	a, err := array.Create(path, 4, 0)
	require.NoError(t, err)
	require.NoError(t, a.Close())

	_, err = Open(path)
	assert.ErrorIs(t, err, recstore.ErrInvalidFormat)

	_, err = Open("")
	assert.ErrorIs(t, err, recstore.ErrInvalidArgument)
}

func TestTruncate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.hash")
	tbl := newTestTable(t, path, 0, 4, FlagKeyVarSize)
	_, _, _, err := tbl.Add([]byte("hello, truncation"))
	require.NoError(t, err)

	other, err := Open(path)
	require.NoError(t, err)
	defer other.Close()

	require.NoError(t, tbl.Truncate())
	n, err := tbl.Size()
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, tbl.TotalKeySize())

	_, err = other.Size()
	require.ErrorIs(t, err, recstore.ErrFileCorrupt)
	_, _, err = other.Get([]byte("hello, truncation"))
	require.ErrorIs(t, err, recstore.ErrFileCorrupt)

	id, _, _, err := tbl.Add([]byte("again"))
	require.NoError(t, err)
	assert.Equal(t, recstore.ID(1), id)
}

func TestTruncateMemory(t *testing.T) {
	tbl := newTestTable(t, "", 4, 0, 0)
	for i := uint32(1); i <= 10; i++ {
		_, _, _, err := tbl.Add(u32(i))
		require.NoError(t, err)
	}
	require.NoError(t, tbl.Truncate())
	n, err := tbl.Size()
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, recstore.NilID, tbl.MaxID())
}

func TestLock(t *testing.T) {
	forEachBackend(t, func(t *testing.T, path string) {
		tbl := newTestTable(t, path, 4, 0, 0)
		ctx := context.Background()

		require.NoError(t, tbl.Lock(ctx, 0))
		assert.True(t, tbl.IsLocked())
		assert.ErrorIs(t, tbl.Lock(ctx, 10), recstore.ErrDeadlockAvoided)

		tbl.Unlock()
		assert.False(t, tbl.IsLocked())

		require.NoError(t, tbl.Lock(ctx, 0))
		tbl.ClearLock()
		assert.False(t, tbl.IsLocked())
	})
}

func TestClosed(t *testing.T) {
	tbl, err := Create("", 4, 0, 0)
	require.NoError(t, err)
	require.NoError(t, tbl.Close())
	require.NoError(t, tbl.Close())

	_, _, _, err = tbl.Add(u32(1))
	assert.ErrorIs(t, err, recstore.ErrInvalidArgument)
	assert.False(t, tbl.Exists(1))
}

func TestFaultyFileSystem(t *testing.T) {
	ffs := fs.NewFaultyFS(fs.Default)
	path := filepath.Join(t.TempDir(), "keys.hash")
	tbl := newTestTable(t, path, 4, 4, 0, WithFileSystem(ffs))

	ffs.AddRule("keys.hash", fs.Fault{FailAfterBytes: -1, FailTruncateAbove: 0})
	_, _, _, err := tbl.Add(u32(7))
	require.Error(t, err)
	n, _ := tbl.Size()
	assert.Zero(t, n)

	ffs.ClearRules()
	id, _, added, err := tbl.Add(u32(7))
	require.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, recstore.ID(1), id)
}

func TestCheck(t *testing.T) {
	tbl := newTestTable(t, "", 0, 4, FlagKeyVarSize)
	_, _, _, err := tbl.Add([]byte("some key"))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, tbl.Check(&buf))
	out := buf.String()
	assert.Contains(t, out, "layout:")
	assert.Contains(t, out, "var-large")
	assert.Contains(t, out, "curr_key:")
}
