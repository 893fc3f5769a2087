package hashtable

import (
	"github.com/hupe1980/recstore"
	"github.com/hupe1980/recstore/internal/fs"
	"github.com/hupe1980/recstore/resource"
)

type options struct {
	logger      *recstore.Logger
	fs          fs.FileSystem
	rc          *resource.Controller
	keySegments uint32
	offHeap     bool
}

// Option configures Create and Open.
type Option func(*options)

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l *recstore.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithFileSystem sets the file system used by persistent tables.
func WithFileSystem(fsys fs.FileSystem) Option {
	return func(o *options) {
		o.fs = fsys
	}
}

// WithResourceController charges memory blocks and file growth against rc.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) {
		o.rc = rc
	}
}

// WithMaxKeySegments lowers the number of 4 MiB segments available to
// variable-size keys. Values above the default are clamped.
// It only applies to Create.
func WithMaxKeySegments(n uint32) Option {
	return func(o *options) {
		o.keySegments = n
	}
}

// WithOffHeap stores the keys of memory tables in anonymous mappings
// instead of the Go heap.
func WithOffHeap() Option {
	return func(o *options) {
		o.offHeap = true
	}
}

func applyOptions(opts []Option) options {
	o := options{fs: fs.Default}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = recstore.NoopLogger()
	}
	if o.fs == nil {
		o.fs = fs.Default
	}
	return o
}

// keySegmentsFor resolves the key arena size for a new table.
func (o options) keySegmentsFor(flags Flags) uint32 {
	def := uint32(KeySegments)
	if flags&FlagKeyLarge != 0 {
		def = KeySegmentsLarge
	}
	if o.keySegments == 0 || o.keySegments > def {
		return def
	}
	return o.keySegments
}
