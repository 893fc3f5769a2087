package hashtable

import (
	"context"
	"sync"

	"github.com/hupe1980/recstore"
	"github.com/hupe1980/recstore/internal/segio"
	"github.com/hupe1980/recstore/internal/table"
)

// Flags are fixed at creation.
type Flags uint32

const (
	// FlagKeyVarSize stores keys of any length up to the key size.
	FlagKeyVarSize Flags = 1 << 0
	// FlagKeyLarge raises the key limit and the key arena to the large
	// bounds. It only applies with FlagKeyVarSize.
	FlagKeyLarge Flags = 1 << 1
)

const (
	// MaxKeySize bounds fixed keys and normal variable-size keys.
	MaxKeySize = 4096
	// MaxKeySizeLarge bounds variable-size keys of FlagKeyLarge tables.
	MaxKeySizeLarge = 0xffff
)

// Table maps byte keys to IDs, each with a fixed-size value.
//
// A Table is safe for concurrent use within one process. Handles in other
// processes are excluded only through Lock.
type Table struct {
	mu     sync.RWMutex
	path   string
	opts   options
	l      layout
	flags  Flags
	s      *storage
	guard  *table.Guard
	logger *recstore.Logger
	closed bool
}

// Create creates a hash table. An empty path creates a memory table.
//
// With FlagKeyVarSize, keySize is the largest accepted key, and 0 selects
// MaxKeySize (or MaxKeySizeLarge with FlagKeyLarge). Otherwise every key is
// exactly keySize bytes.
func Create(path string, keySize, valueSize int, flags Flags, opts ...Option) (*Table, error) {
	const op = "hashtable.Create"
	if flags&FlagKeyVarSize == 0 {
		flags &^= FlagKeyLarge
	}
	limit := MaxKeySize
	if flags&FlagKeyLarge != 0 {
		limit = MaxKeySizeLarge
	}
	if flags&FlagKeyVarSize != 0 && keySize == 0 {
		keySize = limit
	}
	if keySize <= 0 || keySize > limit {
		return nil, recstore.Errorf(recstore.ErrInvalidArgument, op, "key size %d out of range", keySize)
	}
	l := newLayout(keySize, valueSize, flags, path == "")
	if valueSize < 0 || l.entrySize() > segio.SegmentSize {
		return nil, recstore.Errorf(recstore.ErrInvalidArgument, op, "value size %d out of range", valueSize)
	}
	o := applyOptions(opts)
	s, err := newStorage(path, l, flags, o.keySegmentsFor(flags), o)
	if err != nil {
		return nil, table.Wrap(op, err)
	}
	return newTable(path, s, l, flags, o), nil
}

// Open opens the hash table stored at path.
func Open(path string, opts ...Option) (*Table, error) {
	const op = "hashtable.Open"
	if path == "" {
		return nil, recstore.Errorf(recstore.ErrInvalidArgument, op, "empty path")
	}
	o := applyOptions(opts)
	s, l, flags, err := openStorage(path, o)
	if err != nil {
		return nil, table.Wrap(op, err)
	}
	return newTable(path, s, l, flags, o), nil
}

// Remove deletes the file of a persistent table.
func Remove(path string, opts ...Option) error {
	o := applyOptions(opts)
	return table.Wrap("hashtable.Remove", segio.Remove(o.fs, path))
}

func newTable(path string, s *storage, l layout, flags Flags, o options) *Table {
	t := &Table{
		path:   path,
		opts:   o,
		l:      l,
		flags:  flags,
		s:      s,
		logger: o.logger.WithComponent("hashtable").WithPath(path),
	}
	t.guard = table.NewGuard(s.hdr, hdrLock, hdrTruncated, t.displayPath(), t.logger)
	return t
}

func (t *Table) displayPath() string {
	if t.path == "" {
		return "(memory)"
	}
	return t.path
}

// check must be called with t.mu held.
func (t *Table) check(op string) error {
	if t.closed {
		return recstore.Errorf(recstore.ErrInvalidArgument, op, "table is closed")
	}
	return t.guard.Check(op)
}

// Path returns the file path, or "" for memory tables.
func (t *Table) Path() string {
	return t.path
}

// KeySize returns the fixed key size, or the largest variable key.
func (t *Table) KeySize() int {
	return t.l.keySize
}

// ValueSize returns the value size in bytes.
func (t *Table) ValueSize() int {
	return t.l.valueSize
}

// Flags returns the creation flags.
func (t *Table) Flags() Flags {
	return t.flags
}

// Size returns the number of live records.
func (t *Table) Size() (uint32, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if err := t.check("hashtable.Size"); err != nil {
		return 0, err
	}
	return t.s.hdr.Uint32(hdrNEntries), nil
}

// MaxID returns the highest ID ever handed out.
func (t *Table) MaxID() recstore.ID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.check("hashtable.MaxID") != nil {
		return recstore.NilID
	}
	return t.s.hdr.Uint32(hdrCurrRec)
}

func (t *Table) keyCursorOffset() int {
	if t.l.kind == layoutVarLarge {
		return hdrCurrKeyLarge
	}
	return hdrCurrKeyNormal
}

// TotalKeySize returns the bytes consumed in the key arena, including
// the padding left at segment ends. Fixed-key tables report 0.
func (t *Table) TotalKeySize() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.l.isVar() || t.check("hashtable.TotalKeySize") != nil {
		return 0
	}
	return t.s.hdr.Uint64(t.keyCursorOffset())
}

// MaxTotalKeySize returns the key arena capacity.
func (t *Table) MaxTotalKeySize() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.l.isVar() || t.check("hashtable.MaxTotalKeySize") != nil {
		return 0
	}
	return t.maxTotalKeySize()
}

func (t *Table) maxTotalKeySize() uint64 {
	return uint64(t.s.hdr.Uint32(hdrMaxKeySegments)) << keyWidth
}

// IsLargeTotalKeySize reports whether the table uses the large key arena.
func (t *Table) IsLargeTotalKeySize() bool {
	return t.flags&FlagKeyLarge != 0
}

// Lock takes the table's advisory lock. timeout counts attempts: 0 tries
// once, a negative value waits until ctx is done. The table must not be
// closed while Lock is waiting.
func (t *Table) Lock(ctx context.Context, timeout int) error {
	g, err := t.currentGuard("hashtable.Lock")
	if err != nil {
		return err
	}
	return g.Lock(ctx, "hashtable.Lock", timeout)
}

// Unlock releases the advisory lock.
func (t *Table) Unlock() {
	if g, err := t.currentGuard("hashtable.Unlock"); err == nil {
		g.Unlock()
	}
}

// ClearLock forcibly releases the advisory lock.
func (t *Table) ClearLock() {
	if g, err := t.currentGuard("hashtable.ClearLock"); err == nil {
		g.ClearLock()
	}
}

// IsLocked reports whether the advisory lock is held.
func (t *Table) IsLocked() bool {
	g, err := t.currentGuard("hashtable.IsLocked")
	return err == nil && g.IsLocked()
}

func (t *Table) currentGuard(op string) (*table.Guard, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return nil, t.check(op)
	}
	return t.guard, nil
}

// Truncate removes every record. A persistent table is recreated at the
// same path; other handles on the old file fail with ErrFileCorrupt from
// then on.
func (t *Table) Truncate() error {
	const op = "hashtable.Truncate"
	t.mu.Lock()
	defer t.mu.Unlock()
	err := t.truncate(op)
	t.logger.LogTruncate(context.Background(), err)
	return err
}

func (t *Table) truncate(op string) error {
	if err := t.check(op); err != nil {
		return err
	}
	keySegments := t.s.hdr.Uint32(hdrMaxKeySegments)

	if t.s.file != nil {
		t.guard.MarkTruncated()
	}
	if err := t.s.close(t.opts); err != nil {
		t.closed = true
		return table.Wrap(op, err)
	}
	if t.path != "" {
		if err := segio.Remove(t.opts.fs, t.path); err != nil {
			t.closed = true
			return table.Wrap(op, err)
		}
	}
	s, err := newStorage(t.path, t.l, t.flags, keySegments, t.opts)
	if err != nil {
		t.closed = true
		return table.Wrap(op, err)
	}
	t.s = s
	t.guard = table.NewGuard(s.hdr, hdrLock, hdrTruncated, t.displayPath(), t.logger)
	return nil
}

// Sync flushes a persistent table to disk.
func (t *Table) Sync() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if err := t.check("hashtable.Sync"); err != nil {
		return err
	}
	if t.s.file == nil {
		return nil
	}
	return table.Wrap("hashtable.Sync", t.s.file.Sync())
}

// Close releases the table. Using it afterwards returns an error.
func (t *Table) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return table.Wrap("hashtable.Close", t.s.close(t.opts))
}
