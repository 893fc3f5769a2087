package cache

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/hupe1980/recstore"
	"github.com/hupe1980/recstore/hashtable"
	"github.com/hupe1980/recstore/internal/blob"
	"github.com/hupe1980/recstore/internal/fs"
	"github.com/hupe1980/recstore/internal/segio"
	"github.com/hupe1980/recstore/internal/table"
)

const lockRetryDelay = 10 * time.Millisecond

// Open opens the persistent cache stored in <base>.keys and <base>.values,
// creating both and the parent directory if needed. A pair that cannot be opened is removed and
// recreated empty. <base>.lock serializes opening across processes.
//
// An empty base keeps the persistent cache in memory; it still goes through
// the keys lock on every operation.
func Open(ctx context.Context, base string, opts ...Option) (*Cache, error) {
	const op = "cache.Open"
	o := applyOptions(opts)
	if base == "" {
		return openDetached(op, o)
	}

	if err := o.fs.MkdirAll(filepath.Dir(base), 0o755); err != nil {
		return nil, recstore.Wrap(recstore.ErrIO, op, err)
	}
	fl := flock.New(base + ".lock")
	locked, err := fl.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, recstore.Wrap(recstore.ErrIO, op, err)
	}
	if !locked {
		return nil, recstore.Errorf(recstore.ErrDeadlockAvoided, op, "<%s.lock> is held", base)
	}
	defer fl.Unlock()

	keys, values, err := openFiles(base, o)
	if err != nil {
		cause := err
		keys, values, err = recreateFiles(base, o)
		o.logger.WithComponent("cache").WithPath(base).LogRepair(ctx, cause, err)
		if err != nil {
			return nil, table.Wrap(op, err)
		}
	}

	c := newCache(base, true, keys, values, o)
	if err := c.initReserved(op); err != nil {
		c.close()
		removeFiles(base, o)
		return nil, err
	}
	return c, nil
}

func openDetached(op string, o options) (*Cache, error) {
	keys, err := hashtable.Create("", 0, entrySize, keyFlags,
		hashtable.WithLogger(o.logger), hashtable.WithResourceController(o.rc))
	if err != nil {
		return nil, err
	}
	c := newCache("", true, keys, newMemoryValues(o.rc), o)
	if err := c.initReserved(op); err != nil {
		c.close()
		return nil, err
	}
	return c, nil
}

func keyOptions(o options) []hashtable.Option {
	return []hashtable.Option{
		hashtable.WithLogger(o.logger),
		hashtable.WithFileSystem(o.fs),
		hashtable.WithResourceController(o.rc),
	}
}

func valueOptions(o options) []blob.Option {
	return []blob.Option{
		blob.WithSegmentOptions(segio.WithFileSystem(o.fs), segio.WithResourceController(o.rc)),
		blob.WithCodec(o.codec),
	}
}

// openFiles opens an existing pair, or creates one if there are no keys.
func openFiles(base string, o options) (*hashtable.Table, *blob.Store, error) {
	keysPath, valuesPath := base+".keys", base+".values"
	if !fs.Exists(o.fs, keysPath) {
		return recreateFiles(base, o)
	}
	keys, err := hashtable.Open(keysPath, keyOptions(o)...)
	if err != nil {
		return nil, nil, err
	}
	if keys.KeySize() != MaxKeySize || keys.ValueSize() != entrySize || keys.Flags() != keyFlags {
		keys.Close()
		return nil, nil, recstore.Errorf(recstore.ErrInvalidFormat, "cache.Open",
			"<%s> is not a cache keys table", keysPath)
	}
	values, err := blob.Open(valuesPath, valueOptions(o)...)
	if err != nil {
		keys.Close()
		return nil, nil, err
	}
	return keys, values, nil
}

// recreateFiles removes whatever is left at base and creates an empty pair.
func recreateFiles(base string, o options) (*hashtable.Table, *blob.Store, error) {
	if err := removeFiles(base, o); err != nil {
		return nil, nil, err
	}
	keys, err := hashtable.Create(base+".keys", 0, entrySize, keyFlags, keyOptions(o)...)
	if err != nil {
		return nil, nil, err
	}
	values, err := blob.Create(base+".values", valueOptions(o)...)
	if err != nil {
		keys.Close()
		return nil, nil, err
	}
	return keys, values, nil
}

func removeFiles(base string, o options) error {
	var errs []error
	for _, p := range []string{base + ".keys", base + ".values"} {
		if fs.Exists(o.fs, p) {
			errs = append(errs, segio.Remove(o.fs, p))
		}
	}
	return errors.Join(errs...)
}

// Remove deletes the files of the persistent cache at base.
func Remove(base string, opts ...Option) error {
	o := applyOptions(opts)
	return table.Wrap("cache.Remove", removeFiles(base, o))
}
