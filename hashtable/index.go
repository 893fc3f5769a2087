package hashtable

import (
	"context"
	"encoding/binary"

	"github.com/hupe1980/recstore"
	"github.com/hupe1980/recstore/internal/hash"
	"github.com/hupe1980/recstore/internal/table"
)

// Index slot states besides a record ID.
const (
	slotEmpty   = 0
	slotGarbage = 0xffffffff
)

// hashKey returns the hash of key. Plain entries store the key itself, so
// their hash must be the key value.
func (t *Table) hashKey(key []byte) uint32 {
	if t.l.kind == layoutPlain {
		return hash.Key(key)
	}
	return hash.Poly1021(key)
}

// probe is the outcome of an index lookup.
type probe struct {
	id    recstore.ID // NilID if absent
	entry []byte
	pos   uint32 // slot of id, or the slot an insert should use
	reuse bool   // pos holds a tombstone
}

// lookup walks the probe sequence of key. It must be called with t.mu held.
func (t *Table) lookup(op string, key []byte, hv uint32) (probe, error) {
	mask := t.s.hdr.Uint32(hdrMaxOffset)
	var p probe
	for i, step := hv, hash.Step(hv); ; i += step {
		pos := i & mask
		slot, err := t.s.indexSlot(pos, false)
		if err != nil {
			return probe{}, table.Wrap(op, err)
		}
		var id uint32
		if slot != nil {
			id = binary.LittleEndian.Uint32(slot)
		}
		switch id {
		case slotEmpty:
			if !p.reuse {
				p.pos = pos
			}
			return p, nil
		case slotGarbage:
			if !p.reuse {
				p.pos, p.reuse = pos, true
			}
			continue
		}
		e := t.s.entries.Get(id)
		if e == nil {
			return probe{}, recstore.Errorf(recstore.ErrFileCorrupt, op, "record %d has no storage", id)
		}
		ok, err := t.match(op, e, hv, key)
		if err != nil {
			return probe{}, err
		}
		if ok {
			return probe{id: id, entry: e, pos: pos}, nil
		}
	}
}

// slotOf finds the index slot that refers to id.
func (t *Table) slotOf(op string, id recstore.ID, hv uint32) (uint32, error) {
	mask := t.s.hdr.Uint32(hdrMaxOffset)
	for i, step := hv, hash.Step(hv); ; i += step {
		pos := i & mask
		slot, err := t.s.indexSlot(pos, false)
		if err != nil {
			return 0, table.Wrap(op, err)
		}
		if slot == nil || binary.LittleEndian.Uint32(slot) == slotEmpty {
			return 0, recstore.Errorf(recstore.ErrFileCorrupt, op, "record %d is missing from the index", id)
		}
		if binary.LittleEndian.Uint32(slot) == id {
			return pos, nil
		}
	}
}

func (t *Table) setSlot(op string, pos uint32, v uint32) error {
	slot, err := t.s.indexSlot(pos, true)
	if err != nil {
		return table.Wrap(op, err)
	}
	binary.LittleEndian.PutUint32(slot, v)
	return nil
}

// grow rebuilds the index once live entries and tombstones fill half of
// it. On error the old index stays in place.
func (t *Table) grow(op string) error {
	h := t.s.hdr
	n := h.Uint32(hdrNEntries)
	maxOffset := h.Uint32(hdrMaxOffset)
	if (uint64(n)+uint64(h.Uint32(hdrNGarbages)))*2 <= uint64(maxOffset) {
		return nil
	}
	if maxOffset > maxIndexSize {
		return recstore.Errorf(recstore.ErrTooLargeOffset, op, "index offset %d exceeds %d", maxOffset, maxIndexSize)
	}
	size := uint64(initialIndexSize)
	for size <= 2*uint64(n) {
		size <<= 1
	}
	if size > maxIndexSize {
		return recstore.Errorf(recstore.ErrTooLargeOffset, op, "index size %d exceeds %d", size, maxIndexSize)
	}

	var err error
	if t.s.file == nil {
		err = t.rehashMemory(op, uint32(size))
	} else {
		err = t.rehashFile(op, uint32(size))
	}
	if err != nil {
		return err
	}
	h.PutUint32(hdrMaxOffset, uint32(size-1))
	h.PutUint32(hdrNGarbages, 0)
	t.logger.LogResize(context.Background(), maxOffset+1, uint32(size), n)
	return nil
}

// rehash inserts every live entry into an empty index through slot.
func (t *Table) rehash(op string, mask uint32, slot func(pos uint32) ([]byte, error)) error {
	top := t.s.hdr.Uint32(hdrCurrRec)
	for id := recstore.ID(1); id != 0 && id <= top; id++ {
		if !t.s.bits.Test(id) {
			continue
		}
		e := t.s.entries.Get(id)
		if e == nil {
			return recstore.Errorf(recstore.ErrFileCorrupt, op, "record %d has no storage", id)
		}
		hv := t.l.hash(e)
		for i, step := hv, hash.Step(hv); ; i += step {
			s, err := slot(i & mask)
			if err != nil {
				return table.Wrap(op, err)
			}
			if binary.LittleEndian.Uint32(s) == slotEmpty {
				binary.LittleEndian.PutUint32(s, id)
				break
			}
		}
	}
	return nil
}

func (t *Table) rehashMemory(op string, size uint32) error {
	if err := t.opts.rc.AcquireMemory(4 * int64(size)); err != nil {
		return table.Wrap(op, err)
	}
	index := make([]byte, 4*int(size))
	err := t.rehash(op, size-1, func(pos uint32) ([]byte, error) {
		p := 4 * int(pos)
		return index[p : p+4 : p+4], nil
	})
	if err != nil {
		t.opts.rc.ReleaseMemory(int64(len(index)))
		return err
	}
	t.opts.rc.ReleaseMemory(int64(len(t.s.index)))
	t.s.index = index
	return nil
}

// rehashFile builds the new index in the half of the index array not in
// use and then flips hdrIdxOffset.
func (t *Table) rehashFile(op string, size uint32) error {
	f := t.s.file
	dst := uint64(maxIndexSize - t.s.hdr.Uint32(hdrIdxOffset))
	for e, end := dst, dst+uint64(size); e < end; {
		tail, err := f.SegmentTail(arrayIndex, e, true)
		if err != nil {
			return table.Wrap(op, err)
		}
		n := min(uint64(len(tail))>>indexWidth, end-e)
		clear(tail[:n<<indexWidth])
		e += n
	}
	err := t.rehash(op, size-1, func(pos uint32) ([]byte, error) {
		return f.At(arrayIndex, dst+uint64(pos), true)
	})
	if err != nil {
		return err
	}
	t.s.hdr.PutUint32(hdrIdxOffset, uint32(dst))
	return nil
}

