package cache

import (
	"context"
	"os"
	"sync"
)

// EnvCacheType selects the default cache mode. "persistent" opens a
// persistent cache; anything else a memory cache. A default base path
// always selects persistent mode.
const EnvCacheType = "RECSTORE_CACHE_TYPE"

var (
	defaultMu       sync.Mutex
	defaultOnce     = new(sync.Once)
	defaultCache    *Cache
	currentCache    *Cache
	defaultBasePath string
)

// SetDefaultBasePath sets the base path used by Init and ReopenDefault.
// An empty path clears it.
func SetDefaultBasePath(base string) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultBasePath = base
}

// DefaultBasePath returns the configured base path, or "".
func DefaultBasePath() string {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	return defaultBasePath
}

// openDefault must be called with defaultMu held.
func openDefault(ctx context.Context, opts []Option) (*Cache, error) {
	if defaultBasePath != "" {
		return Open(ctx, defaultBasePath, opts...)
	}
	if os.Getenv(EnvCacheType) == "persistent" {
		return Open(ctx, "", opts...)
	}
	return New(opts...)
}

// Init opens the process default cache and makes it current. Only the
// first call after start or Shutdown has an effect.
func Init(ctx context.Context, opts ...Option) error {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	var err error
	defaultOnce.Do(func() {
		var c *Cache
		if c, err = openDefault(ctx, opts); err == nil {
			defaultCache, currentCache = c, c
		}
	})
	return err
}

// Default returns the current cache, or nil before Init.
func Default() *Cache {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	return currentCache
}

// SetDefault makes c the current cache. The default cache opened by Init
// stays open and owned by this package.
func SetDefault(c *Cache) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	currentCache = c
}

// ReopenDefault replaces the default cache with a freshly opened one, for
// example after SetDefaultBasePath. If the old default was current, the
// new one becomes current. On error the old default stays in place.
func ReopenDefault(ctx context.Context, opts ...Option) error {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	c, err := openDefault(ctx, opts)
	if err != nil {
		return err
	}
	defaultOnce.Do(func() {})
	if currentCache == defaultCache {
		currentCache = c
	}
	old := defaultCache
	defaultCache = c
	if old != nil {
		return old.Close()
	}
	return nil
}

// Shutdown closes the default cache and clears the current one. Init may
// be called again afterwards.
func Shutdown() error {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	currentCache = nil
	defaultOnce = new(sync.Once)
	if defaultCache == nil {
		return nil
	}
	err := defaultCache.Close()
	defaultCache = nil
	return err
}
