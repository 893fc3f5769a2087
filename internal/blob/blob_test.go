package blob

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/recstore/internal/compress"
	"github.com/hupe1980/recstore/internal/segio"
)

func newStore(t *testing.T, opts ...Option) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "values.blob")
	s, err := Create(path, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestPutGet(t *testing.T) {
	s, _ := newStore(t)

	require.NoError(t, s.Put(1, []byte("hello")))
	require.NoError(t, s.Put(2, []byte{}))

	v, ok, err := s.Get(1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "hello", string(v))

	v, ok, err = s.Get(2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Empty(t, v)

	_, ok, err = s.Get(3)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, 2, s.Len())
	assert.Equal(t, int64(5), s.Bytes())

	_, _, err = s.Get(0)
	assert.ErrorIs(t, err, ErrInvalidID)
}

func TestGetReturnsCopy(t *testing.T) {
	s, _ := newStore(t)
	require.NoError(t, s.Put(1, []byte("abc")))

	v, _, err := s.Get(1)
	require.NoError(t, err)
	v[0] = 'x'

	v, _, err = s.Get(1)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(v))
}

func TestReplaceAndDelete(t *testing.T) {
	s, _ := newStore(t)

	require.NoError(t, s.Put(7, bytes.Repeat([]byte("a"), 100)))
	require.NoError(t, s.Put(7, []byte("short")))
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, int64(5), s.Bytes())

	v, _, err := s.Get(7)
	require.NoError(t, err)
	assert.Equal(t, "short", string(v))

	require.NoError(t, s.Delete(7))
	require.NoError(t, s.Delete(7))
	require.NoError(t, s.Delete(1000))
	_, ok, err := s.Get(7)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, s.Len())
	assert.Zero(t, s.Bytes())
}

func TestFreedChunksAreReused(t *testing.T) {
	s, _ := newStore(t)

	require.NoError(t, s.Put(1, bytes.Repeat([]byte("a"), 40)))
	info, err := s.f.At(arrayInfo, 1, false)
	require.NoError(t, err)
	first := append([]byte(nil), info[:8]...)

	require.NoError(t, s.Delete(1))
	require.NoError(t, s.Put(2, bytes.Repeat([]byte("b"), 60)))

	info, err = s.f.At(arrayInfo, 2, false)
	require.NoError(t, err)
	assert.Equal(t, first, info[:8], "same size class reuses the freed chunk")

	v, _, err := s.Get(2)
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte("b"), 60), v)
}

func TestChunksDoNotCrossSegments(t *testing.T) {
	s, _ := newStore(t)

	// 3 MiB values round up to 4 MiB chunks, one per segment.
	big := bytes.Repeat([]byte("z"), 3<<20)
	require.NoError(t, s.Put(1, []byte("x")))
	require.NoError(t, s.Put(2, big))

	v, _, err := s.Get(2)
	require.NoError(t, err)
	assert.Equal(t, big, v)
}

func TestTooLargeAndFull(t *testing.T) {
	s, _ := newStore(t, WithMaxDataSegments(1))

	assert.ErrorIs(t, s.Put(1, make([]byte, MaxValueSize+1)), ErrTooLarge)

	require.NoError(t, s.Put(1, make([]byte, 16)))
	assert.ErrorIs(t, s.Put(2, make([]byte, MaxValueSize)), ErrFull)

	_, ok, err := s.Get(2)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, s.Len())
}

func TestCodec(t *testing.T) {
	for _, c := range []compress.Codec{compress.None, compress.LZ4, compress.ZSTD} {
		t.Run(c.String(), func(t *testing.T) {
			s, _ := newStore(t, WithCodec(c))
			data := bytes.Repeat([]byte("compressible "), 200)

			require.NoError(t, s.Put(1, data))
			v, ok, err := s.Get(1)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, data, v)
			if c != compress.None {
				assert.Less(t, s.Bytes(), int64(len(data)))
			}
		})
	}
}

func TestReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "values.blob")
	s, err := Create(path, WithCodec(compress.LZ4))
	require.NoError(t, err)
	require.NoError(t, s.Put(3, []byte("persisted")))
	require.NoError(t, s.Sync())
	require.NoError(t, s.Close())

	s, err = Open(path, WithCodec(compress.LZ4))
	require.NoError(t, err)
	defer s.Close()

	v, ok, err := s.Get(3)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "persisted", string(v))
	assert.Equal(t, path, s.Path())
}

func TestOpenWrongType(t *testing.T) {
	path := filepath.Join(t.TempDir(), "other.seg")
	sf, err := segio.Create(path, segio.TypeArray, 16, []segio.ArraySpec{{ElementWidth: 2, MaxSegments: 1}})
	require.NoError(t, err)
	require.NoError(t, sf.Close())

	_, err = Open(path)
	assert.ErrorIs(t, err, segio.ErrInvalidFormat)
}
