package array

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/recstore"
	"github.com/hupe1980/recstore/internal/segio"
	"github.com/hupe1980/recstore/internal/table"
)

// MaxValueSize is the largest supported value size.
const MaxValueSize = segio.SegmentSize

// Flags are fixed at creation.
type Flags uint32

const (
	// FlagQueue enables Push, Pull and Unblock.
	FlagQueue Flags = 1 << 0
)

// Table is a record table of fixed-size values addressed by ID.
//
// A Table is safe for concurrent use within one process. Handles in other
// processes are excluded only through Lock.
type Table struct {
	mu        sync.RWMutex
	path      string
	opts      options
	valueSize int
	flags     Flags
	s         *storage
	guard     *table.Guard
	logger    *recstore.Logger
	queue     *queue
	closed    bool
}

// Create creates a table. An empty path creates a memory table; otherwise
// the table is backed by a new file at path.
func Create(path string, valueSize int, flags Flags, opts ...Option) (*Table, error) {
	const op = "array.Create"
	if valueSize < 0 || valueSize > MaxValueSize {
		return nil, recstore.Errorf(recstore.ErrInvalidArgument, op, "value size %d out of range", valueSize)
	}
	o := applyOptions(opts)
	s, err := newStorage(path, valueSize, flags, o.queueCapacity, o)
	if err != nil {
		return nil, table.Wrap(op, err)
	}
	return newTable(path, s, o), nil
}

// Open opens the table stored at path.
func Open(path string, opts ...Option) (*Table, error) {
	const op = "array.Open"
	if path == "" {
		return nil, recstore.Errorf(recstore.ErrInvalidArgument, op, "empty path")
	}
	o := applyOptions(opts)
	s, err := openStorage(path, o)
	if err != nil {
		return nil, table.Wrap(op, err)
	}
	return newTable(path, s, o), nil
}

// Remove deletes the file of a persistent table.
func Remove(path string, opts ...Option) error {
	o := applyOptions(opts)
	return table.Wrap("array.Remove", segio.Remove(o.fs, path))
}

func newTable(path string, s *storage, o options) *Table {
	t := &Table{
		path:      path,
		opts:      o,
		valueSize: int(s.hdr.Uint32(hdrValueSize)),
		flags:     Flags(s.hdr.Uint32(hdrFlags)),
		s:         s,
		logger:    o.logger.WithComponent("array").WithPath(path),
	}
	t.guard = table.NewGuard(s.hdr, hdrLock, hdrTruncated, t.displayPath(), t.logger)
	if t.flags&FlagQueue != 0 {
		t.queue = newQueue()
	}
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

// ValueSize returns the value size in bytes.
func (t *Table) ValueSize() int {
	return t.valueSize
}

// Flags returns the creation flags.
func (t *Table) Flags() Flags {
	return t.flags
}

// Size returns the number of live records.
func (t *Table) Size() (uint32, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if err := t.check("array.Size"); err != nil {
		return 0, err
	}
	return t.s.hdr.Uint32(hdrNEntries), nil
}

// MaxID returns the highest ID ever handed out.
func (t *Table) MaxID() recstore.ID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.check("array.MaxID") != nil {
		return recstore.NilID
	}
	return t.s.hdr.Uint32(hdrMaxRec)
}

// GarbageCount returns the number of deleted records awaiting reuse.
func (t *Table) GarbageCount() uint32 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.check("array.GarbageCount") != nil {
		return 0
	}
	return t.s.hdr.Uint32(hdrNGarbages)
}

func (t *Table) slot(v []byte) []byte {
	return v[:t.valueSize:t.valueSize]
}

// Add appends a record holding value, which may be shorter than the value
// size. Deleted IDs are reused before new ones are allocated.
func (t *Table) Add(value []byte) (recstore.ID, error) {
	const op = "array.Add"
	if len(value) > t.valueSize {
		return recstore.NilID, recstore.Errorf(recstore.ErrInvalidArgument, op,
			"value size %d exceeds %d", len(value), t.valueSize)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	id, v, err := t.add(op)
	if err != nil {
		return recstore.NilID, err
	}
	copy(v, value)
	return id, nil
}

// add returns the new record and its zeroed value slot. On error the table
// is unchanged.
func (t *Table) add(op string) (recstore.ID, []byte, error) {
	if err := t.check(op); err != nil {
		return recstore.NilID, nil, err
	}
	h := t.s.hdr

	if t.valueSize >= 4 {
		if id := h.Uint32(hdrGarbage); id != recstore.NilID {
			v, err := t.s.values.At(id)
			if err != nil {
				return recstore.NilID, nil, table.Wrap(op, err)
			}
			if err := t.s.bits.Set(id, true); err != nil {
				return recstore.NilID, nil, table.Wrap(op, err)
			}
			h.PutUint32(hdrGarbage, binary.LittleEndian.Uint32(v))
			h.Add32(hdrNGarbages, -1)
			h.Add32(hdrNEntries, 1)
			v = t.slot(v)
			clear(v)
			return id, v, nil
		}
	}

	id := h.Uint32(hdrCurrRec) + 1
	if id > t.s.limit {
		return recstore.NilID, nil, recstore.Errorf(recstore.ErrNoMemory, op, "no more record IDs (max %d)", t.s.limit)
	}
	v, err := t.s.values.At(id)
	if err != nil {
		return recstore.NilID, nil, table.Wrap(op, err)
	}
	existed := t.s.bits.Test(id)
	if !existed {
		if err := t.s.bits.Set(id, true); err != nil {
			return recstore.NilID, nil, table.Wrap(op, err)
		}
		h.Add32(hdrNEntries, 1)
	}
	h.PutUint32(hdrCurrRec, id)
	if id > h.Uint32(hdrMaxRec) {
		h.PutUint32(hdrMaxRec, id)
	}
	v = t.slot(v)
	clear(v)
	return id, v, nil
}

// exists must be called with t.mu held.
func (t *Table) exists(id recstore.ID) bool {
	if id == recstore.NilID || id > t.s.limit {
		return false
	}
	h := t.s.hdr
	if h.Uint32(hdrNGarbages) == 0 && id <= h.Uint32(hdrCurrRec) {
		return true
	}
	return t.s.bits.Test(id)
}

// Exists reports whether id is a live record.
func (t *Table) Exists(id recstore.ID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.check("array.Exists") != nil {
		return false
	}
	return t.exists(id)
}

func (t *Table) value(op string, id recstore.ID) ([]byte, error) {
	if err := t.check(op); err != nil {
		return nil, err
	}
	if !t.exists(id) {
		return nil, recstore.Errorf(recstore.ErrNotFound, op, "record %d", id)
	}
	v := t.s.values.Get(id)
	if v == nil {
		return nil, recstore.Errorf(recstore.ErrFileCorrupt, op, "record %d has no storage", id)
	}
	return t.slot(v), nil
}

// Value returns a copy of the value of id.
func (t *Table) Value(id recstore.ID) ([]byte, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, err := t.value("array.Value", id)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), v...), nil
}

// View calls fn with the stored value of id. The slice is only valid
// during fn, which must not call back into the table.
func (t *Table) View(id recstore.ID, fn func(value []byte)) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, err := t.value("array.View", id)
	if err != nil {
		return err
	}
	fn(v)
	return nil
}

// SetValue updates the value of id. See recstore.SetMode.
func (t *Table) SetValue(id recstore.ID, value []byte, mode recstore.SetMode) error {
	const op = "array.SetValue"
	t.mu.Lock()
	defer t.mu.Unlock()
	v, err := t.value(op, id)
	if err != nil {
		return err
	}
	return table.ApplyValue(op, v, value, mode)
}

// DeleteByID deletes id. Its slot joins the garbage list when the value
// is large enough to hold the link.
func (t *Table) DeleteByID(id recstore.ID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.delete("array.DeleteByID", id)
}

func (t *Table) delete(op string, id recstore.ID) error {
	if err := t.check(op); err != nil {
		return err
	}
	if !t.exists(id) {
		return recstore.Errorf(recstore.ErrNotFound, op, "record %d", id)
	}
	if err := t.s.bits.Set(id, false); err != nil {
		return table.Wrap(op, err)
	}
	h := t.s.hdr
	if t.valueSize >= 4 {
		if v := t.s.values.Get(id); v != nil {
			binary.LittleEndian.PutUint32(v, h.Uint32(hdrGarbage))
			h.PutUint32(hdrGarbage, id)
		}
	}
	h.Add32(hdrNEntries, -1)
	h.Add32(hdrNGarbages, 1)
	return nil
}

// Next returns the first live ID after id, or recstore.NilID.
func (t *Table) Next(id recstore.ID) recstore.ID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.check("array.Next") != nil {
		return recstore.NilID
	}
	top := t.s.hdr.Uint32(hdrMaxRec)
	for id < top {
		id++
		if t.exists(id) {
			return id
		}
	}
	return recstore.NilID
}

// IDs returns a snapshot of the live IDs.
func (t *Table) IDs() (*roaring.Bitmap, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if err := t.check("array.IDs"); err != nil {
		return nil, err
	}
	bm := roaring.New()
	top := t.s.hdr.Uint32(hdrMaxRec)
	for id := recstore.ID(1); id != 0 && id <= top; id++ {
		if t.exists(id) {
			bm.Add(id)
		}
	}
	return bm, nil
}

// Lock takes the table's advisory lock. timeout counts attempts: 0 tries
// once, a negative value waits until ctx is done. The table must not be
// closed while Lock is waiting.
func (t *Table) Lock(ctx context.Context, timeout int) error {
	g, err := t.currentGuard("array.Lock")
	if err != nil {
		return err
	}
	return g.Lock(ctx, "array.Lock", timeout)
}

// Unlock releases the advisory lock.
func (t *Table) Unlock() {
	if g, err := t.currentGuard("array.Unlock"); err == nil {
		g.Unlock()
	}
}

// ClearLock forcibly releases the advisory lock.
func (t *Table) ClearLock() {
	if g, err := t.currentGuard("array.ClearLock"); err == nil {
		g.ClearLock()
	}
}

// IsLocked reports whether the advisory lock is held.
func (t *Table) IsLocked() bool {
	g, err := t.currentGuard("array.IsLocked")
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
	const op = "array.Truncate"
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
	queueCap := t.s.hdr.Uint32(hdrQueueCap)

	if t.s.file != nil {
		t.guard.MarkTruncated()
	}
	if err := t.s.close(); err != nil {
		t.closed = true
		return table.Wrap(op, err)
	}
	if t.path != "" {
		if err := segio.Remove(t.opts.fs, t.path); err != nil {
			t.closed = true
			return table.Wrap(op, err)
		}
	}
	s, err := newStorage(t.path, t.valueSize, t.flags, queueCap, t.opts)
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
	if err := t.check("array.Sync"); err != nil {
		return err
	}
	if t.s.file == nil {
		return nil
	}
	return table.Wrap("array.Sync", t.s.file.Sync())
}

// Close releases the table. Using it afterwards returns an error, and
// blocked Pull calls return.
func (t *Table) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	err := t.s.close()
	t.mu.Unlock()

	if t.queue != nil {
		t.queue.close()
	}
	return table.Wrap("array.Close", err)
}
