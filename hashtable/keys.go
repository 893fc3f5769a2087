package hashtable

import (
	"bytes"
	"encoding/binary"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/recstore"
	"github.com/hupe1980/recstore/internal/table"
)

func (t *Table) checkKey(op string, key []byte) error {
	switch {
	case len(key) == 0:
		return recstore.Errorf(recstore.ErrInvalidArgument, op, "empty key")
	case t.l.isVar() && len(key) > t.l.keySize:
		return recstore.Errorf(recstore.ErrInvalidArgument, op, "too long key: %d > %d", len(key), t.l.keySize)
	case !t.l.isVar() && len(key) != t.l.keySize:
		return recstore.Errorf(recstore.ErrInvalidArgument, op, "key size %d, want %d", len(key), t.l.keySize)
	}
	return nil
}

// garbageOffset is the header slot of the free list for keys of size n.
func garbageOffset(n int) int {
	return hdrGarbages + 4*(n-1)
}

// entryKey returns the stored key of e. The slice aliases table memory.
func (t *Table) entryKey(op string, e []byte) ([]byte, error) {
	switch {
	case !t.l.isVar():
		return t.l.fixedKey(e), nil
	case t.l.inline(e):
		n := t.l.keyLen(e)
		return e[8 : 8+n : 8+n], nil
	}
	k, err := t.s.keys.Span(t.l.keyOffset(e), t.l.keyLen(e), false)
	if err != nil {
		return nil, table.Wrap(op, err)
	}
	if k == nil {
		return nil, recstore.Errorf(recstore.ErrFileCorrupt, op, "key at %d has no storage", t.l.keyOffset(e))
	}
	return k, nil
}

func (t *Table) match(op string, e []byte, hv uint32, key []byte) (bool, error) {
	if t.l.hash(e) != hv {
		return false, nil
	}
	switch t.l.kind {
	case layoutPlain:
		return true, nil
	case layoutRich:
		return bytes.Equal(t.l.fixedKey(e), key), nil
	}
	if t.l.keyLen(e) != len(key) {
		return false, nil
	}
	k, err := t.entryKey(op, e)
	if err != nil {
		return false, err
	}
	return bytes.Equal(k, key), nil
}

// keyPlacement is a reserved spot in the key arena.
type keyPlacement struct {
	off    uint64
	cursor uint64 // new arena cursor, 0 if unchanged
}

// placeKey writes key into the arena for entry e and returns where it
// went. The arena cursor is left for the caller to commit.
func (t *Table) placeKey(op string, e []byte, key []byte, reused bool) (keyPlacement, error) {
	n := uint64(len(key))
	if reused && t.l.keyLen(e) == len(key) {
		off := t.l.keyOffset(e)
		dst, err := t.s.keys.Span(off, len(key), true)
		if err != nil {
			return keyPlacement{}, table.Wrap(op, err)
		}
		copy(dst, key)
		return keyPlacement{off: off}, nil
	}
	if n >= segmentSize {
		return keyPlacement{}, recstore.Errorf(recstore.ErrInvalidArgument, op, "too long key: %d", n)
	}
	off := t.s.hdr.Uint64(t.keyCursorOffset())
	if off>>keyWidth != (off+n)>>keyWidth {
		off = (off>>keyWidth + 1) << keyWidth
	}
	if limit := t.maxTotalKeySize(); off+n > limit {
		return keyPlacement{}, recstore.Errorf(recstore.ErrNotEnoughSpace, op,
			"total key size %d would exceed %d", off+n, limit)
	}
	dst, err := t.s.keys.Span(off, len(key), true)
	if err != nil {
		return keyPlacement{}, table.Wrap(op, err)
	}
	copy(dst, key)
	return keyPlacement{off: off, cursor: off + n}, nil
}

// add inserts key unless it exists. On error the table is unchanged.
func (t *Table) add(op string, key []byte) (recstore.ID, []byte, bool, error) {
	if err := t.check(op); err != nil {
		return recstore.NilID, nil, false, err
	}
	if err := t.checkKey(op, key); err != nil {
		return recstore.NilID, nil, false, err
	}
	if err := t.grow(op); err != nil {
		return recstore.NilID, nil, false, err
	}
	hv := t.hashKey(key)
	p, err := t.lookup(op, key, hv)
	if err != nil {
		return recstore.NilID, nil, false, err
	}
	if p.id != recstore.NilID {
		return p.id, t.l.value(p.entry), false, nil
	}

	h := t.s.hdr
	goff := garbageOffset(len(key))
	id := h.Uint32(goff)
	reused := id != recstore.NilID
	if !reused {
		id = h.Uint32(hdrCurrRec) + 1
		if id > t.s.limit {
			return recstore.NilID, nil, false, recstore.Errorf(recstore.ErrNoMemory, op, "no more record IDs (max %d)", t.s.limit)
		}
	}
	e, err := t.s.entries.At(id)
	if err != nil {
		return recstore.NilID, nil, false, table.Wrap(op, err)
	}
	var link uint32
	if reused {
		link = binary.LittleEndian.Uint32(e)
	}
	// Allocate the bitmap byte and the index slot up front.
	if err := t.s.bits.Set(id, false); err != nil {
		return recstore.NilID, nil, false, table.Wrap(op, err)
	}
	if _, err := t.s.indexSlot(p.pos, true); err != nil {
		return recstore.NilID, nil, false, table.Wrap(op, err)
	}

	var kp keyPlacement
	inline := !t.l.isVar() || len(key) <= t.l.slotSize()
	if !inline {
		if kp, err = t.placeKey(op, e, key, reused); err != nil {
			return recstore.NilID, nil, false, err
		}
	}

	if reused {
		h.PutUint32(goff, link)
	} else {
		h.PutUint32(hdrCurrRec, id)
	}
	if kp.cursor != 0 {
		h.PutUint64(t.keyCursorOffset(), kp.cursor)
	}

	switch {
	case !t.l.isVar():
		clear(e)
		t.l.putFixedKey(e, hv, key)
	case inline:
		t.l.setVarHeader(e, hv, len(key), true)
		slot := e[8 : 8+t.l.slotSize()]
		clear(slot)
		copy(slot, key)
	default:
		t.l.setVarHeader(e, hv, len(key), false)
		t.l.setKeyOffset(e, kp.off)
	}
	v := t.l.value(e)
	clear(v)

	// Both were allocated above, so neither write can fail here.
	if err := t.s.bits.Set(id, true); err != nil {
		return recstore.NilID, nil, false, table.Wrap(op, err)
	}
	if err := t.setSlot(op, p.pos, id); err != nil {
		return recstore.NilID, nil, false, err
	}
	if p.reuse {
		h.Add32(hdrNGarbages, -1)
	}
	h.Add32(hdrNEntries, 1)
	return id, v, true, nil
}

// Add inserts key. It returns the record, a copy of its value and whether
// the key was new. An existing key keeps its ID and value.
func (t *Table) Add(key []byte) (recstore.ID, []byte, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, v, added, err := t.add("hashtable.Add", key)
	if err != nil {
		return recstore.NilID, nil, false, err
	}
	return id, append([]byte(nil), v...), added, nil
}

// get must be called with t.mu held.
func (t *Table) get(op string, key []byte) (probe, error) {
	if err := t.check(op); err != nil {
		return probe{}, err
	}
	if err := t.checkKey(op, key); err != nil {
		return probe{}, err
	}
	return t.lookup(op, key, t.hashKey(key))
}

// Get returns the record of key and a copy of its value. A missing key
// returns recstore.NilID and no error.
func (t *Table) Get(key []byte) (recstore.ID, []byte, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, err := t.get("hashtable.Get", key)
	if err != nil || p.id == recstore.NilID {
		return recstore.NilID, nil, err
	}
	return p.id, append([]byte(nil), t.l.value(p.entry)...), nil
}

// exists must be called with t.mu held.
func (t *Table) exists(id recstore.ID) bool {
	return id != recstore.NilID && id <= t.s.hdr.Uint32(hdrCurrRec) && t.s.bits.Test(id)
}

// Exists reports whether id is a live record.
func (t *Table) Exists(id recstore.ID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.check("hashtable.Exists") == nil && t.exists(id)
}

// entry must be called with t.mu held.
func (t *Table) entry(op string, id recstore.ID) ([]byte, error) {
	if err := t.check(op); err != nil {
		return nil, err
	}
	if !t.exists(id) {
		return nil, recstore.Errorf(recstore.ErrNotFound, op, "record %d", id)
	}
	e := t.s.entries.Get(id)
	if e == nil {
		return nil, recstore.Errorf(recstore.ErrFileCorrupt, op, "record %d has no storage", id)
	}
	return e, nil
}

// Key returns a copy of the key of id.
func (t *Table) Key(id recstore.ID) ([]byte, error) {
	const op = "hashtable.Key"
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, err := t.entry(op, id)
	if err != nil {
		return nil, err
	}
	k, err := t.entryKey(op, e)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), k...), nil
}

// Value returns a copy of the value of id.
func (t *Table) Value(id recstore.ID) ([]byte, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, err := t.entry("hashtable.Value", id)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), t.l.value(e)...), nil
}

// View calls fn with the stored value of id. The slice is only valid
// during fn, which must not call back into the table.
func (t *Table) View(id recstore.ID, fn func(value []byte)) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, err := t.entry("hashtable.View", id)
	if err != nil {
		return err
	}
	fn(t.l.value(e))
	return nil
}

// Update calls fn with the stored value of id for modification. The slice
// is only valid during fn, which must not call back into the table.
func (t *Table) Update(id recstore.ID, fn func(value []byte)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, err := t.entry("hashtable.Update", id)
	if err != nil {
		return err
	}
	fn(t.l.value(e))
	return nil
}

// SetValue updates the value of id. See recstore.SetMode.
func (t *Table) SetValue(id recstore.ID, value []byte, mode recstore.SetMode) error {
	const op = "hashtable.SetValue"
	t.mu.Lock()
	defer t.mu.Unlock()
	e, err := t.entry(op, id)
	if err != nil {
		return err
	}
	return table.ApplyValue(op, t.l.value(e), value, mode)
}

// Delete deletes key.
func (t *Table) Delete(key []byte) error {
	const op = "hashtable.Delete"
	t.mu.Lock()
	defer t.mu.Unlock()
	p, err := t.get(op, key)
	if err != nil {
		return err
	}
	if p.id == recstore.NilID {
		return recstore.Errorf(recstore.ErrNotFound, op, "key %q", key)
	}
	t.deleteAt(p.id, p.entry, p.pos)
	return nil
}

// DeleteByID deletes id.
func (t *Table) DeleteByID(id recstore.ID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.deleteByID("hashtable.DeleteByID", id)
}

func (t *Table) deleteByID(op string, id recstore.ID) error {
	e, err := t.entry(op, id)
	if err != nil {
		return err
	}
	pos, err := t.slotOf(op, id, t.l.hash(e))
	if err != nil {
		return err
	}
	t.deleteAt(id, e, pos)
	return nil
}

// deleteAt tombstones the index slot and pushes the entry on the free list
// of its key size.
func (t *Table) deleteAt(id recstore.ID, e []byte, pos uint32) {
	h := t.s.hdr
	goff := garbageOffset(t.l.keyLen(e))
	// pos and the bitmap byte of id are live, so these writes cannot fail.
	_ = t.setSlot("hashtable.Delete", pos, slotGarbage)
	binary.LittleEndian.PutUint32(e, h.Uint32(goff))
	h.PutUint32(goff, id)
	_ = t.s.bits.Set(id, false)
	h.Add32(hdrNEntries, -1)
	h.Add32(hdrNGarbages, 1)
}

// Next returns the first live ID after id, or recstore.NilID.
func (t *Table) Next(id recstore.ID) recstore.ID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.check("hashtable.Next") != nil {
		return recstore.NilID
	}
	top := t.s.hdr.Uint32(hdrCurrRec)
	for id < top {
		id++
		if t.s.bits.Test(id) {
			return id
		}
	}
	return recstore.NilID
}

// IDs returns a snapshot of the live IDs.
func (t *Table) IDs() (*roaring.Bitmap, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if err := t.check("hashtable.IDs"); err != nil {
		return nil, err
	}
	return t.ids(), nil
}

func (t *Table) ids() *roaring.Bitmap {
	bm := roaring.New()
	top := t.s.hdr.Uint32(hdrCurrRec)
	for id := recstore.ID(1); id != 0 && id <= top; id++ {
		if t.s.bits.Test(id) {
			bm.Add(id)
		}
	}
	return bm
}
