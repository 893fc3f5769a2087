package hashtable

import (
	"bytes"
	"cmp"
	"encoding/binary"
	"math"
	"slices"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/recstore"
)

// SortBy selects the sorted field.
type SortBy int

const (
	// SortByKey sorts by the record key.
	SortByKey SortBy = iota
	// SortByValue sorts by the record value.
	SortByValue
	// SortByID sorts by record ID.
	SortByID
)

// SortType selects how the field bytes compare.
type SortType int

const (
	// Bytes compares lexicographically.
	Bytes SortType = iota
	// Int32 compares a little-endian int32.
	Int32
	// Uint32 compares a little-endian uint32.
	Uint32
	// Int64 compares a little-endian int64.
	Int64
	// Uint64 compares a little-endian uint64.
	Uint64
	// Float64 compares a little-endian IEEE 754 float64.
	Float64
)

func (t SortType) width() int {
	switch t {
	case Int32, Uint32:
		return 4
	case Int64, Uint64, Float64:
		return 8
	}
	return 0
}

// Record is a record passed to comparators and group functions. Key and
// Value are copies.
type Record struct {
	ID    recstore.ID
	Key   []byte
	Value []byte
}

// SortOptions configures Sort.
type SortOptions struct {
	By   SortBy
	Type SortType
	// FieldOffset is the byte offset of the field within the key or value.
	FieldOffset int
	Descending  bool
	// Compare overrides By and Type.
	Compare func(a, b Record) int
	// Offset skips that many sorted records.
	Offset int
	// Limit caps the result; 0 or less returns every record.
	Limit int
}

// Sort returns live record IDs ordered by opts. Records that compare equal
// keep ID order.
func (t *Table) Sort(opts SortOptions) ([]recstore.ID, error) {
	const op = "hashtable.Sort"
	if w := opts.Type.width(); opts.Compare == nil && opts.By != SortByID && w > 0 {
		size := t.l.valueSize
		if opts.By == SortByKey {
			size = t.l.keySize
		}
		if opts.FieldOffset < 0 || opts.FieldOffset+w > size {
			return nil, recstore.Errorf(recstore.ErrInvalidArgument, op,
				"%d-byte field at %d does not fit %d bytes", w, opts.FieldOffset, size)
		}
	}

	recs, err := t.records(op)
	if err != nil {
		return nil, err
	}
	compare := opts.Compare
	if compare == nil {
		compare = fieldCompare(opts)
	}
	if opts.Descending {
		asc := compare
		compare = func(a, b Record) int { return asc(b, a) }
	}
	slices.SortStableFunc(recs, compare)

	recs = recs[min(max(opts.Offset, 0), len(recs)):]
	if opts.Limit > 0 && opts.Limit < len(recs) {
		recs = recs[:opts.Limit]
	}
	ids := make([]recstore.ID, len(recs))
	for i, r := range recs {
		ids[i] = r.ID
	}
	return ids, nil
}

// field returns the sorted bytes of r. Short variable keys read as zero.
func field(r Record, opts SortOptions) []byte {
	b := r.Value
	if opts.By == SortByKey {
		b = r.Key
	}
	w := opts.Type.width()
	if w == 0 {
		if opts.FieldOffset >= len(b) {
			return nil
		}
		return b[opts.FieldOffset:]
	}
	if opts.FieldOffset+w > len(b) {
		return make([]byte, w)
	}
	return b[opts.FieldOffset : opts.FieldOffset+w]
}

func fieldCompare(opts SortOptions) func(a, b Record) int {
	if opts.By == SortByID {
		return func(a, b Record) int { return cmp.Compare(a.ID, b.ID) }
	}
	le := binary.LittleEndian
	switch opts.Type {
	case Int32:
		return func(a, b Record) int {
			return cmp.Compare(int32(le.Uint32(field(a, opts))), int32(le.Uint32(field(b, opts))))
		}
	case Uint32:
		return func(a, b Record) int {
			return cmp.Compare(le.Uint32(field(a, opts)), le.Uint32(field(b, opts)))
		}
	case Int64:
		return func(a, b Record) int {
			return cmp.Compare(int64(le.Uint64(field(a, opts))), int64(le.Uint64(field(b, opts))))
		}
	case Uint64:
		return func(a, b Record) int {
			return cmp.Compare(le.Uint64(field(a, opts)), le.Uint64(field(b, opts)))
		}
	case Float64:
		return func(a, b Record) int {
			return cmp.Compare(math.Float64frombits(le.Uint64(field(a, opts))),
				math.Float64frombits(le.Uint64(field(b, opts))))
		}
	}
	return func(a, b Record) int { return bytes.Compare(field(a, opts), field(b, opts)) }
}

// records snapshots every live record in ID order.
func (t *Table) records(op string) ([]Record, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if err := t.check(op); err != nil {
		return nil, err
	}
	recs := make([]Record, 0, t.s.hdr.Uint32(hdrNEntries))
	top := t.s.hdr.Uint32(hdrCurrRec)
	for id := recstore.ID(1); id != 0 && id <= top; id++ {
		if !t.s.bits.Test(id) {
			continue
		}
		e := t.s.entries.Get(id)
		if e == nil {
			return nil, recstore.Errorf(recstore.ErrFileCorrupt, op, "record %d has no storage", id)
		}
		k, err := t.entryKey(op, e)
		if err != nil {
			return nil, err
		}
		recs = append(recs, Record{
			ID:    id,
			Key:   bytes.Clone(k),
			Value: bytes.Clone(t.l.value(e)),
		})
	}
	return recs, nil
}

// Group partitions the live records by the group key fn returns. Records
// for which fn returns nil are left out.
func (t *Table) Group(fn func(r Record) []byte) (map[string]*roaring.Bitmap, error) {
	recs, err := t.records("hashtable.Group")
	if err != nil {
		return nil, err
	}
	groups := make(map[string]*roaring.Bitmap)
	for _, r := range recs {
		g := fn(r)
		if g == nil {
			continue
		}
		bm, ok := groups[string(g)]
		if !ok {
			bm = roaring.New()
			groups[string(g)] = bm
		}
		bm.Add(r.ID)
	}
	return groups, nil
}
