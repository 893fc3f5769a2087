package array

import (
	"math/bits"

	"github.com/hupe1980/recstore"
	"github.com/hupe1980/recstore/internal/container"
	"github.com/hupe1980/recstore/internal/segio"
	"github.com/hupe1980/recstore/internal/table"
)

// Header layout. Memory tables keep the same bytes on the heap.
const (
	hdrFlags     = 0
	hdrValueSize = 4
	hdrNEntries  = 8
	hdrNGarbages = 12
	hdrGarbage   = 16
	hdrCurrRec   = 20
	hdrLock      = 24
	hdrTruncated = 28
	hdrQueueHead = 32
	hdrQueueTail = 40
	hdrQueueCap  = 48
	hdrMaxRec    = 52

	headerSize = 64
)

const (
	arrayValues = 0
	arrayBits   = 1

	bitmapSegments   = 32
	maxValueSegments = 1 << 16
)

// storage is either a pair of in-process containers or a segment file.
type storage struct {
	hdr    table.Header
	values container.Store
	bits   container.BitStore
	limit  recstore.ID

	file   *segio.File
	mem    *container.SegmentedArray
	bitmap *container.Bitmap
}

func elementWidth(valueSize int) uint32 {
	if valueSize <= 1 {
		return 0
	}
	return uint32(bits.Len(uint(valueSize - 1)))
}

func fileSpecs(valueSize int) []segio.ArraySpec {
	w := elementWidth(valueSize)
	return []segio.ArraySpec{
		{ElementWidth: w, MaxSegments: min(uint32(1)<<(30-(segio.SegmentWidth-w)), maxValueSegments)},
		{ElementWidth: 0, MaxSegments: bitmapSegments},
	}
}

func newStorage(path string, valueSize int, flags Flags, queueCap uint32, o options) (*storage, error) {
	var s *storage
	if path == "" {
		copts := []container.Option{
			container.WithThreadSafe(),
			container.WithMemoryAcquirer(o.rc),
		}
		s = &storage{
			hdr:    table.NewHeader(headerSize),
			mem:    container.NewSegmentedArray(max(valueSize, 1), copts...),
			bitmap: container.NewBitmap(copts...),
			limit:  recstore.MaxID,
		}
		s.values, s.bits = s.mem, s.bitmap
	} else {
		f, err := segio.Create(path, segio.TypeArray, headerSize, fileSpecs(valueSize),
			segio.WithFileSystem(o.fs), segio.WithResourceController(o.rc))
		if err != nil {
			return nil, err
		}
		s = fileStorage(f)
	}
	s.hdr.PutUint32(hdrFlags, uint32(flags))
	s.hdr.PutUint32(hdrValueSize, uint32(valueSize))
	s.hdr.PutUint32(hdrQueueCap, queueCap)
	return s, nil
}

func fileStorage(f *segio.File) *storage {
	return &storage{
		hdr:    table.Header(f.Header()),
		values: f.Elements(arrayValues),
		bits:   f.Bits(arrayBits),
		limit:  recstore.ID(min(f.Spec(arrayValues).Capacity()-1, uint64(recstore.MaxID))),
		file:   f,
	}
}

func openStorage(path string, o options) (*storage, error) {
	typ, err := segio.PeekType(o.fs, path)
	if err != nil {
		return nil, err
	}
	if typ != segio.TypeArray {
		return nil, recstore.Errorf(recstore.ErrInvalidFormat, "array.Open",
			"<%s> is a %s file", path, typ)
	}
	f, err := segio.Open(path, segio.WithFileSystem(o.fs), segio.WithResourceController(o.rc))
	if err != nil {
		return nil, err
	}
	if f.NumArrays() != 2 || len(f.Header()) != headerSize {
		f.Close()
		return nil, recstore.Errorf(recstore.ErrInvalidFormat, "array.Open", "<%s> has an unexpected layout", path)
	}
	s := fileStorage(f)
	if vs := int(s.hdr.Uint32(hdrValueSize)); vs > MaxValueSize || f.Spec(arrayValues).ElementWidth != elementWidth(vs) {
		f.Close()
		return nil, recstore.Errorf(recstore.ErrFileCorrupt, "array.Open", "<%s> value size %d does not match its layout", path, vs)
	}
	return s, nil
}

func (s *storage) close() error {
	if s.file != nil {
		return s.file.Close()
	}
	s.mem.Close()
	s.bitmap.Close()
	return nil
}
