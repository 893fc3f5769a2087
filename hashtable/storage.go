package hashtable

import (
	"math/bits"

	"github.com/hupe1980/recstore"
	"github.com/hupe1980/recstore/internal/arena"
	"github.com/hupe1980/recstore/internal/container"
	"github.com/hupe1980/recstore/internal/segio"
	"github.com/hupe1980/recstore/internal/table"
)

// Header layout. Memory tables keep the same bytes on the heap.
const (
	hdrFlags          = 0
	hdrKeySize        = 4
	hdrValueSize      = 8
	hdrEntrySize      = 12
	hdrMaxOffset      = 16
	hdrNEntries       = 20
	hdrNGarbages      = 24
	hdrCurrRec        = 28
	hdrIdxOffset      = 32
	hdrLock           = 36
	hdrTruncated      = 40
	hdrCurrKeyNormal  = 48
	hdrCurrKeyLarge   = 56
	hdrMaxKeySegments = 64
	hdrGarbages       = 128 // u32 list head per key size
)

const (
	arrayKeys    = 0
	arrayEntries = 1
	arrayIndex   = 2
	arrayBits    = 3

	// keyWidth is log2 of a key arena segment.
	keyWidth = segio.SegmentWidth

	// KeySegments and KeySegmentsLarge bound the key arena of normal and
	// FlagKeyLarge tables.
	KeySegments      = 0x400
	KeySegmentsLarge = 0x40000

	indexWidth         = 2
	indexSegments      = 0x400
	slotsPerSegment    = segio.SegmentSize >> indexWidth
	maxIndexSize       = indexSegments * slotsPerSegment / 2
	maxEntrySegments   = 1 << 16
	bitmapSegments     = 32
	initialIndexSize   = 256
	initialFileOffsets = slotsPerSegment - 1
	segmentSize        = segio.SegmentSize
)

func headerSize(l layout) int {
	return hdrGarbages + 4*l.keySize
}

// keySpace is the key arena: an arena.Arena in memory, array 0 of the
// segment file otherwise.
type keySpace interface {
	Span(pos uint64, n int, alloc bool) ([]byte, error)
}

type fileKeys struct {
	f *segio.File
}

func (k fileKeys) Span(pos uint64, n int, alloc bool) ([]byte, error) {
	return k.f.Span(arrayKeys, pos, n, alloc)
}

type storage struct {
	hdr     table.Header
	entries container.Store
	bits    container.BitStore
	keys    keySpace // nil for fixed keys
	limit   recstore.ID

	// memory
	mem    *container.SegmentedArray
	bitmap *container.Bitmap
	arena  *arena.Arena
	index  []byte

	file *segio.File
}

func entryWidth(size int) uint32 {
	if size <= 1 {
		return 0
	}
	return uint32(bits.Len(uint(size - 1)))
}

func fileSpecs(l layout, keySegments uint32) []segio.ArraySpec {
	w := entryWidth(l.entrySize())
	if !l.isVar() {
		keySegments = 1
	}
	return []segio.ArraySpec{
		{ElementWidth: 0, MaxSegments: keySegments},
		{ElementWidth: w, MaxSegments: min(uint32(1)<<(30-(segio.SegmentWidth-w)), maxEntrySegments)},
		{ElementWidth: indexWidth, MaxSegments: indexSegments},
		{ElementWidth: 0, MaxSegments: bitmapSegments},
	}
}

func newStorage(path string, l layout, flags Flags, keySegments uint32, o options) (*storage, error) {
	var s *storage
	if path == "" {
		copts := []container.Option{
			container.WithThreadSafe(),
			container.WithMemoryAcquirer(o.rc),
		}
		s = &storage{
			hdr:    table.NewHeader(headerSize(l)),
			mem:    container.NewSegmentedArray(l.entrySize(), copts...),
			bitmap: container.NewBitmap(copts...),
			limit:  recstore.MaxID,
		}
		s.entries, s.bits = s.mem, s.bitmap
		if l.isVar() {
			aopts := []arena.Option{arena.WithMemoryAcquirer(o.rc)}
			if o.offHeap {
				aopts = append(aopts, arena.WithOffHeap())
			}
			s.arena = arena.New(keyWidth, int(keySegments), aopts...)
			s.keys = s.arena
		}
		if err := o.rc.AcquireMemory(4 * initialIndexSize); err != nil {
			return nil, err
		}
		s.index = make([]byte, 4*initialIndexSize)
		s.hdr.PutUint32(hdrMaxOffset, initialIndexSize-1)
	} else {
		f, err := segio.Create(path, segio.TypeHash, headerSize(l), fileSpecs(l, keySegments),
			segio.WithFileSystem(o.fs), segio.WithResourceController(o.rc))
		if err != nil {
			return nil, err
		}
		s = fileStorage(f, l)
		s.hdr.PutUint32(hdrMaxOffset, initialFileOffsets)
	}
	h := s.hdr
	h.PutUint32(hdrFlags, uint32(flags))
	h.PutUint32(hdrKeySize, uint32(l.keySize))
	h.PutUint32(hdrValueSize, uint32(l.valueSize))
	h.PutUint32(hdrEntrySize, uint32(l.entrySize()))
	h.PutUint32(hdrMaxKeySegments, keySegments)
	return s, nil
}

func fileStorage(f *segio.File, l layout) *storage {
	s := &storage{
		hdr:     table.Header(f.Header()),
		entries: f.Elements(arrayEntries),
		bits:    f.Bits(arrayBits),
		limit:   recstore.ID(min(f.Spec(arrayEntries).Capacity()-1, uint64(recstore.MaxID))),
		file:    f,
	}
	if l.isVar() {
		s.keys = fileKeys{f: f}
	}
	return s
}

// openStorage opens a hash file and reconstructs its layout from the header.
func openStorage(path string, o options) (*storage, layout, Flags, error) {
	const op = "hashtable.Open"
	typ, err := segio.PeekType(o.fs, path)
	if err != nil {
		return nil, layout{}, 0, err
	}
	if typ != segio.TypeHash {
		return nil, layout{}, 0, recstore.Errorf(recstore.ErrInvalidFormat, op, "<%s> is a %s file", path, typ)
	}
	f, err := segio.Open(path, segio.WithFileSystem(o.fs), segio.WithResourceController(o.rc))
	if err != nil {
		return nil, layout{}, 0, err
	}
	if f.NumArrays() != 4 || len(f.Header()) < hdrGarbages {
		f.Close()
		return nil, layout{}, 0, recstore.Errorf(recstore.ErrInvalidFormat, op, "<%s> has an unexpected layout", path)
	}
	h := table.Header(f.Header())
	flags := Flags(h.Uint32(hdrFlags))
	l := newLayout(int(h.Uint32(hdrKeySize)), int(h.Uint32(hdrValueSize)), flags, false)
	if len(f.Header()) != headerSize(l) ||
		int(h.Uint32(hdrEntrySize)) != l.entrySize() ||
		f.Spec(arrayEntries).ElementWidth != entryWidth(l.entrySize()) {
		f.Close()
		return nil, layout{}, 0, recstore.Errorf(recstore.ErrFileCorrupt, op, "<%s> header does not match its layout", path)
	}
	return fileStorage(f, l), l, flags, nil
}

// indexSlot returns the 4-byte index slot i, which is already masked.
// Without alloc it returns nil for a slot whose segment does not exist yet.
func (s *storage) indexSlot(i uint32, alloc bool) ([]byte, error) {
	if s.file == nil {
		p := 4 * int(i)
		return s.index[p : p+4 : p+4], nil
	}
	return s.file.At(arrayIndex, uint64(s.hdr.Uint32(hdrIdxOffset))+uint64(i), alloc)
}

func (s *storage) close(o options) error {
	if s.file != nil {
		return s.file.Close()
	}
	s.mem.Close()
	s.bitmap.Close()
	o.rc.ReleaseMemory(int64(len(s.index)))
	s.index = nil
	if s.arena != nil {
		return s.arena.Close()
	}
	return nil
}
