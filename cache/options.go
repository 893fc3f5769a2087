package cache

import (
	"time"

	"github.com/hupe1980/recstore"
	"github.com/hupe1980/recstore/internal/compress"
	"github.com/hupe1980/recstore/internal/fs"
	"github.com/hupe1980/recstore/resource"
)

// Codec compresses values of a persistent cache.
type Codec = compress.Codec

const (
	CodecNone = compress.None
	CodecLZ4  = compress.LZ4
	CodecZSTD = compress.ZSTD
)

const (
	// DefaultMaxEntries is the capacity of a new cache.
	DefaultMaxEntries = 100

	// DefaultTick is the resolution of staleness checks.
	DefaultTick = time.Second

	// DefaultLockTimeout is the number of attempts made on the keys lock.
	DefaultLockTimeout = 1000
)

type options struct {
	logger       *recstore.Logger
	metrics      recstore.MetricsCollector
	fs           fs.FileSystem
	rc           *resource.Controller
	codec        Codec
	maxEntries   uint32
	lastModified func() time.Time
	now          func() time.Time
	tick         time.Duration
	lockTimeout  int
}

// Option configures New and Open.
type Option func(*options)

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l *recstore.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithMetricsCollector receives fetch, update and eviction events.
func WithMetricsCollector(m recstore.MetricsCollector) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithFileSystem sets the file system used for the keys and values files.
func WithFileSystem(fsys fs.FileSystem) Option {
	return func(o *options) {
		o.fs = fsys
	}
}

// WithResourceController charges keys and in-memory values against rc.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) {
		o.rc = rc
	}
}

// WithCodec compresses values written by a persistent cache. Values
// written with another codec stay readable.
func WithCodec(c Codec) Option {
	return func(o *options) {
		o.codec = c
	}
}

// WithMaxEntries sets the capacity of a newly created cache. An existing
// persistent cache keeps its stored capacity.
func WithMaxEntries(n uint32) Option {
	return func(o *options) {
		o.maxEntries = n
	}
}

// WithLastModified sets the staleness watermark: entries updated at or
// before the returned time, compared at tick resolution, are dropped on
// fetch. Without it entries never go stale.
func WithLastModified(fn func() time.Time) Option {
	return func(o *options) {
		o.lastModified = fn
	}
}

// WithClock overrides the time source for modification times.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithTick sets the staleness resolution. Defaults to DefaultTick.
func WithTick(d time.Duration) Option {
	return func(o *options) {
		o.tick = d
	}
}

// WithLockTimeout sets the attempts made on the keys lock of a persistent
// cache. Defaults to DefaultLockTimeout.
func WithLockTimeout(n int) Option {
	return func(o *options) {
		o.lockTimeout = n
	}
}

func applyOptions(opts []Option) options {
	o := options{
		fs:          fs.Default,
		maxEntries:  DefaultMaxEntries,
		now:         time.Now,
		tick:        DefaultTick,
		lockTimeout: DefaultLockTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = recstore.NoopLogger()
	}
	if o.metrics == nil {
		o.metrics = recstore.NoopMetricsCollector{}
	}
	if o.fs == nil {
		o.fs = fs.Default
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.tick <= 0 {
		o.tick = DefaultTick
	}
	return o
}
