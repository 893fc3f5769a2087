package cache

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/hupe1980/recstore"
	"github.com/hupe1980/recstore/hashtable"
	"github.com/hupe1980/recstore/internal/table"
)

// MaxKeySize is the largest cache key.
const MaxKeySize = hashtable.MaxKeySizeLarge

const keyFlags = hashtable.FlagKeyVarSize | hashtable.FlagKeyLarge

// Statistics is a snapshot of cache counters. Entries excludes the
// reserved records.
type Statistics struct {
	Entries    uint32
	MaxEntries uint32
	Fetches    uint64
	Hits       uint64
}

// Cache is an LRU cache of byte values keyed by byte strings.
//
// Memory caches keep everything in process. Persistent caches keep keys
// and LRU links in a hash table file and values in a blob file, and
// exclude other processes through the table lock.
type Cache struct {
	mu         sync.Mutex
	base       string
	persistent bool
	keys       *hashtable.Table
	ring       ring
	values     valueStore
	opts       options
	logger     *recstore.Logger
	closed     bool
}

// New creates a memory cache.
func New(opts ...Option) (*Cache, error) {
	const op = "cache.New"
	o := applyOptions(opts)
	keys, err := hashtable.Create("", 0, entrySize, keyFlags,
		hashtable.WithLogger(o.logger), hashtable.WithResourceController(o.rc))
	if err != nil {
		return nil, err
	}
	c := newCache("", false, keys, newMemoryValues(o.rc), o)
	if err := c.initReserved(op); err != nil {
		c.close()
		return nil, err
	}
	return c, nil
}

func newCache(base string, persistent bool, keys *hashtable.Table, values valueStore, o options) *Cache {
	return &Cache{
		base:       base,
		persistent: persistent,
		keys:       keys,
		ring:       ring{keys: keys},
		values:     values,
		opts:       o,
		logger:     o.logger.WithComponent("cache").WithPath(base),
	}
}

func (c *Cache) displayPath() string {
	if c.base == "" {
		return "(memory)"
	}
	return c.base + ".keys"
}

// initReserved adds ROOT and METADATA to a new table and verifies them in
// an existing one.
func (c *Cache) initReserved(op string) error {
	id, _, added, err := c.keys.Add(rootKey)
	if err != nil {
		return err
	}
	if id != rootID {
		return recstore.Errorf(recstore.ErrFileCorrupt, op,
			"broken cache keys storage: broken root: <%s>", c.displayPath())
	}
	if added {
		if err := c.ring.update(rootID, func(e entry) {
			e.setNext(rootID)
			e.setPrev(rootID)
		}); err != nil {
			return err
		}
	}

	id, _, added, err = c.keys.Add(metadataKey)
	if err != nil {
		return err
	}
	if id != metadataID {
		return recstore.Errorf(recstore.ErrFileCorrupt, op,
			"broken cache keys storage: broken metadata: <%s>", c.displayPath())
	}
	if added {
		return c.ring.update(metadataID, func(e entry) { e.setMaxEntries(c.opts.maxEntries) })
	}
	return nil
}

// Path returns the base path of a persistent cache, or "".
func (c *Cache) Path() string {
	return c.base
}

// IsPersistent reports whether the cache was opened with Open.
func (c *Cache) IsPersistent() bool {
	return c.persistent
}

// lock takes the cache mutex and, for persistent caches, the keys lock.
func (c *Cache) lock(ctx context.Context, op string) (func(), error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, recstore.Errorf(recstore.ErrInvalidArgument, op, "cache is closed")
	}
	if c.persistent {
		if err := c.keys.Lock(ctx, c.opts.lockTimeout); err != nil {
			c.mu.Unlock()
			return nil, err
		}
		return func() {
			c.keys.Unlock()
			c.mu.Unlock()
		}, nil
	}
	return c.mu.Unlock, nil
}

func (c *Cache) metadata() (entry, error) {
	var md entry
	err := c.keys.View(metadataID, func(v []byte) { md = append(entry(nil), v...) })
	return md, err
}

// entries must be called with the cache locked.
func (c *Cache) entries() (uint32, error) {
	n, err := c.keys.Size()
	if err != nil {
		return 0, err
	}
	return n - reserved, nil
}

// stale reports whether an entry modified at ns predates the watermark.
func (c *Cache) stale(ns int64) bool {
	if c.opts.lastModified == nil {
		return false
	}
	modified := time.Unix(0, ns).Truncate(c.opts.tick)
	return !modified.After(c.opts.lastModified().Truncate(c.opts.tick))
}

// Fetch returns the value cached under key and moves it to the front.
// A stale entry is dropped and reported as a miss.
func (c *Cache) Fetch(ctx context.Context, key []byte) ([]byte, bool, error) {
	start := time.Now()
	v, hit, err := c.fetch(ctx, key)
	c.opts.metrics.RecordFetch(hit, time.Since(start), err)
	return v, hit, err
}

func (c *Cache) fetch(ctx context.Context, key []byte) ([]byte, bool, error) {
	const op = "cache.Fetch"
	if bytes.Equal(key, rootKey) {
		return nil, false, nil
	}
	unlock, err := c.lock(ctx, op)
	if err != nil {
		return nil, false, err
	}
	defer unlock()

	if err := c.ring.update(metadataID, func(e entry) { e.addFetch() }); err != nil {
		return nil, false, err
	}
	id, v, err := c.keys.Get(key)
	if err != nil || id == recstore.NilID || id == metadataID {
		return nil, false, err
	}
	if c.stale(entry(v).modified()) {
		c.opts.metrics.RecordEviction(1)
		return nil, false, c.expireEntry(op, id)
	}
	value, ok, err := c.values.Get(id)
	if err != nil {
		return nil, false, table.Wrap(op, err)
	}
	if !ok {
		return nil, false, c.expireEntry(op, id)
	}
	if err := c.ring.unlink(id); err != nil {
		return nil, false, err
	}
	if err := c.ring.pushFront(id); err != nil {
		return nil, false, err
	}
	if err := c.ring.update(metadataID, func(e entry) { e.addHit() }); err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// Update caches value under key as the most recently used entry and
// evicts from the back while the cache is over capacity. It does nothing
// when the capacity is zero or key is reserved.
func (c *Cache) Update(ctx context.Context, key, value []byte) error {
	start := time.Now()
	err := c.update(ctx, key, value)
	c.opts.metrics.RecordUpdate(time.Since(start), err)
	return err
}

func (c *Cache) update(ctx context.Context, key, value []byte) error {
	const op = "cache.Update"
	if bytes.Equal(key, rootKey) || bytes.Equal(key, metadataKey) {
		return nil
	}
	unlock, err := c.lock(ctx, op)
	if err != nil {
		return err
	}
	defer unlock()

	md, err := c.metadata()
	if err != nil {
		return err
	}
	limit := md.maxEntries()
	if limit == 0 {
		return nil
	}

	id, _, added, err := c.keys.Add(key)
	if err != nil {
		return err
	}
	if err := c.values.Put(id, value); err != nil {
		if added {
			_ = c.keys.DeleteByID(id)
		}
		return table.Wrap(op, err)
	}
	if !added {
		if err := c.ring.unlink(id); err != nil {
			return err
		}
	}
	now := c.opts.now().UnixNano()
	if err := c.ring.update(id, func(e entry) { e.setModified(now) }); err != nil {
		return err
	}
	if err := c.ring.pushFront(id); err != nil {
		return err
	}
	_, err = c.evictTo(ctx, op, limit)
	return err
}

// expireEntry must be called with the cache locked.
func (c *Cache) expireEntry(op string, id recstore.ID) error {
	if err := c.ring.unlink(id); err != nil {
		return err
	}
	if err := c.values.Delete(id); err != nil {
		return table.Wrap(op, err)
	}
	return c.keys.DeleteByID(id)
}

// expireBack drops up to n entries from the back of the ring.
func (c *Cache) expireBack(op string, n int) (int, error) {
	evicted := 0
	for evicted < n {
		id, err := c.ring.back()
		if err != nil || id == recstore.NilID {
			return evicted, err
		}
		if err := c.expireEntry(op, id); err != nil {
			return evicted, err
		}
		evicted++
	}
	return evicted, nil
}

// evictTo drops entries from the back until at most limit remain.
func (c *Cache) evictTo(ctx context.Context, op string, limit uint32) (int, error) {
	n, err := c.entries()
	if err != nil || n <= limit {
		return 0, err
	}
	evicted, err := c.expireBack(op, int(n-limit))
	if evicted > 0 {
		c.opts.metrics.RecordEviction(evicted)
		c.logger.LogEvict(ctx, int(n-limit), evicted)
	}
	return evicted, err
}

// Expire drops up to n least recently used entries and returns how many
// were dropped.
func (c *Cache) Expire(ctx context.Context, n int) (int, error) {
	const op = "cache.Expire"
	unlock, err := c.lock(ctx, op)
	if err != nil {
		return 0, err
	}
	defer unlock()
	evicted, err := c.expireBack(op, n)
	if evicted > 0 {
		c.opts.metrics.RecordEviction(evicted)
		c.logger.LogEvict(ctx, n, evicted)
	}
	return evicted, err
}

// SetMaxEntries changes the capacity, evicting from the back down to n.
func (c *Cache) SetMaxEntries(ctx context.Context, n uint32) error {
	const op = "cache.SetMaxEntries"
	unlock, err := c.lock(ctx, op)
	if err != nil {
		return err
	}
	defer unlock()
	if err := c.ring.update(metadataID, func(e entry) { e.setMaxEntries(n) }); err != nil {
		return err
	}
	_, err = c.evictTo(ctx, op, n)
	return err
}

// MaxEntries returns the capacity, or 0 if it cannot be read.
func (c *Cache) MaxEntries() uint32 {
	unlock, err := c.lock(context.Background(), "cache.MaxEntries")
	if err != nil {
		return 0
	}
	defer unlock()
	md, err := c.metadata()
	if err != nil {
		return 0
	}
	return md.maxEntries()
}

// Statistics returns the cache counters.
func (c *Cache) Statistics() (Statistics, error) {
	unlock, err := c.lock(context.Background(), "cache.Statistics")
	if err != nil {
		return Statistics{}, err
	}
	defer unlock()
	md, err := c.metadata()
	if err != nil {
		return Statistics{}, err
	}
	n, err := c.entries()
	if err != nil {
		return Statistics{}, err
	}
	return Statistics{
		Entries:    n,
		MaxEntries: md.maxEntries(),
		Fetches:    md.fetches(),
		Hits:       md.hits(),
	}, nil
}

// Keys returns the cached keys from most to least recently used.
func (c *Cache) Keys(ctx context.Context) ([][]byte, error) {
	unlock, err := c.lock(ctx, "cache.Keys")
	if err != nil {
		return nil, err
	}
	defer unlock()
	ids, err := c.ring.order()
	if err != nil {
		return nil, err
	}
	keys := make([][]byte, 0, len(ids))
	for _, id := range ids {
		k, err := c.keys.Key(id)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// Close releases the cache.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.close()
}

func (c *Cache) close() error {
	err := c.keys.Close()
	if verr := c.values.Close(); err == nil {
		err = table.Wrap("cache.Close", verr)
	}
	return err
}
