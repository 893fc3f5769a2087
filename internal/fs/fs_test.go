package fs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalFS(t *testing.T) {
	tmp := t.TempDir()
	lfs := LocalFS{}

	dir := filepath.Join(tmp, "subdir")
	assert.NoError(t, lfs.MkdirAll(dir, 0o755))

	fpath := filepath.Join(dir, "test.bin")
	f, err := lfs.OpenFile(fpath, os.O_CREATE|os.O_RDWR, 0o644)
	require.NoError(t, err)

	_, err = f.Write([]byte("hello"))
	assert.NoError(t, err)
	assert.NoError(t, f.Sync())
	assert.NotZero(t, f.Fd())

	require.NoError(t, f.Truncate(4096))
	info, err := f.Stat()
	require.NoError(t, err)
	assert.Equal(t, int64(4096), info.Size())

	_, err = f.WriteAt([]byte("x"), 4000)
	assert.NoError(t, err)
	assert.NoError(t, f.Close())

	assert.True(t, Exists(lfs, fpath))
	assert.NoError(t, lfs.Remove(fpath))
	assert.False(t, Exists(lfs, fpath))
}

func TestFaultyFS_Write(t *testing.T) {
	ffs := NewFaultyFS(nil)
	fault := NoFault
	fault.FailAfterBytes = 5
	ffs.AddRule("faulty", fault)

	f, err := ffs.OpenFile(filepath.Join(t.TempDir(), "faulty.bin"), os.O_CREATE|os.O_RDWR, 0o644)
	require.NoError(t, err)
	defer f.Close()

	n, err := f.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	n, err = f.Write([]byte("!"))
	assert.ErrorIs(t, err, ErrInjected)
	assert.Zero(t, n)
}

func TestFaultyFS_Truncate(t *testing.T) {
	ffs := NewFaultyFS(nil)

	f, err := ffs.OpenFile(filepath.Join(t.TempDir(), "grow.bin"), os.O_CREATE|os.O_RDWR, 0o644)
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, f.Truncate(1<<20))

	// Rules added after open still apply.
	fault := NoFault
	fault.FailTruncateAbove = 1 << 20
	ffs.AddRule("grow", fault)

	assert.ErrorIs(t, f.Truncate(2<<20), ErrInjected)
	assert.NoError(t, f.Truncate(1<<19))

	ffs.ClearRules()
	assert.NoError(t, f.Truncate(2<<20))
}

func TestFaultyFS_OpenAndRemove(t *testing.T) {
	tmp := t.TempDir()
	ffs := NewFaultyFS(LocalFS{})
	path := filepath.Join(tmp, "data.keys")

	f, err := ffs.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	ffs.AddRule(".keys", Fault{FailOnOpen: true, FailOnRemove: true, FailAfterBytes: -1, FailTruncateAbove: -1})

	_, err = ffs.OpenFile(path, os.O_RDWR, 0o644)
	assert.ErrorIs(t, err, ErrInjected)
	assert.ErrorIs(t, ffs.Remove(path), ErrInjected)

	// The longest pattern wins.
	ffs.AddRule("data.keys", NoFault)
	f, err = ffs.OpenFile(path, os.O_RDWR, 0o644)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	assert.NoError(t, ffs.Remove(path))
}
