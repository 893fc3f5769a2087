package array

import (
	"github.com/hupe1980/recstore"
	"github.com/hupe1980/recstore/internal/fs"
	"github.com/hupe1980/recstore/resource"
)

type options struct {
	logger        *recstore.Logger
	fs            fs.FileSystem
	rc            *resource.Controller
	queueCapacity uint32
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

// WithQueueCapacity bounds a FlagQueue table. Defaults to recstore.MaxID.
// It only applies to Create.
func WithQueueCapacity(n uint32) Option {
	return func(o *options) {
		o.queueCapacity = n
	}
}

func applyOptions(opts []Option) options {
	o := options{
		fs:            fs.Default,
		queueCapacity: recstore.MaxID,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = recstore.NoopLogger()
	}
	if o.fs == nil {
		o.fs = fs.Default
	}
	if o.queueCapacity == 0 || o.queueCapacity > recstore.MaxID {
		o.queueCapacity = recstore.MaxID
	}
	return o
}
