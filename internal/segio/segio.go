package segio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/recstore/internal/fs"
	"github.com/hupe1980/recstore/internal/hash"
	"github.com/hupe1980/recstore/internal/mmap"
	"github.com/hupe1980/recstore/resource"
)

const (
	// SegmentWidth is log2 of the segment size.
	SegmentWidth = 22
	// SegmentSize is the size of one segment (4 MiB).
	SegmentSize = 1 << SegmentWidth

	segmentMask = SegmentSize - 1
)

const (
	magic = "RSEGIO01"

	offType         = 8
	offWidth        = 12
	offNArrays      = 16
	offUserSize     = 20
	offUserOffset   = 24
	offHeaderSize   = 28
	offChecksum     = 32
	offNSegments    = 36
	offSpecs        = 40
	specSize        = 8
	userHeaderAlign = 64
)

var (
	// ErrInvalidFormat is returned when a file is not a segment file.
	ErrInvalidFormat = errors.New("segio: invalid format")
	// ErrCorrupt is returned when the descriptor checksum does not match.
	ErrCorrupt = errors.New("segio: corrupt descriptor")
	// ErrOutOfRange is returned for positions past an array's last segment.
	ErrOutOfRange = errors.New("segio: position out of range")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("segio: closed")
)

// Type identifies what a segment file stores.
type Type uint32

// ArraySpec describes one logical array.
type ArraySpec struct {
	// ElementWidth is log2 of the element size. It must not exceed
	// SegmentWidth.
	ElementWidth uint32
	// MaxSegments bounds the logical address space of the array.
	MaxSegments uint32
}

// ElementSize returns 1 << ElementWidth.
func (s ArraySpec) ElementSize() int {
	return 1 << s.ElementWidth
}

// Capacity returns the number of elements the array can address.
func (s ArraySpec) Capacity() uint64 {
	return uint64(s.MaxSegments) << (SegmentWidth - s.ElementWidth)
}

type options struct {
	fs fs.FileSystem
	rc *resource.Controller
}

// Option configures Create and Open.
type Option func(*options)

// WithFileSystem sets the file system (fs.Default if unset).
func WithFileSystem(fsys fs.FileSystem) Option {
	return func(o *options) {
		o.fs = fsys
	}
}

// WithResourceController charges segment growth against the controller's
// IO limit.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) {
		o.rc = rc
	}
}

func applyOptions(opts []Option) options {
	o := options{fs: fs.Default}
	for _, opt := range opts {
		opt(&o)
	}
	if o.fs == nil {
		o.fs = fs.Default
	}
	return o
}

type segment struct {
	m    *mmap.Mapping
	data []byte
}

type array struct {
	spec ArraySpec
	base uint32 // first entry of this array in the segment map
	segs []atomic.Pointer[segment]
}

// File is an open segment file.
type File struct {
	path       string
	fs         fs.FileSystem
	rc         *resource.Controller
	f          fs.File
	head       *mmap.Mapping
	hdr        []byte
	user       []byte
	headerSize int64
	arrays     []array

	mu     sync.Mutex // Protects segment allocation and mapping
	maps   []*mmap.Mapping
	closed atomic.Bool
}

func alignUp(n, a int64) int64 {
	return (n + a - 1) / a * a
}

func layout(specs []ArraySpec, userSize int) (userOffset, headerSize int64, totalSegs uint32) {
	for _, s := range specs {
		totalSegs += s.MaxSegments
	}
	mapEnd := int64(offSpecs) + int64(len(specs))*specSize + int64(totalSegs)*4
	userOffset = alignUp(mapEnd, userHeaderAlign)
	headerSize = alignUp(userOffset+int64(userSize), mmap.Granularity)
	return userOffset, headerSize, totalSegs
}

// Create creates a new segment file at path. It fails if the file exists.
func Create(path string, typ Type, userHeaderSize int, specs []ArraySpec, opts ...Option) (*File, error) {
	if len(specs) == 0 || userHeaderSize < 0 {
		return nil, fmt.Errorf("segio: create %s: %w", path, ErrInvalidFormat)
	}
	for _, s := range specs {
		if s.ElementWidth > SegmentWidth || s.MaxSegments == 0 {
			return nil, fmt.Errorf("segio: create %s: bad array spec %+v: %w", path, s, ErrInvalidFormat)
		}
	}
	o := applyOptions(opts)

	userOffset, headerSize, _ := layout(specs, userHeaderSize)

	f, err := o.fs.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, err
	}
	if err := f.Truncate(headerSize); err != nil {
		f.Close()
		o.fs.Remove(path)
		return nil, err
	}

	desc := make([]byte, offSpecs+len(specs)*specSize)
	copy(desc, magic)
	binary.LittleEndian.PutUint32(desc[offType:], uint32(typ))
	binary.LittleEndian.PutUint32(desc[offWidth:], SegmentWidth)
	binary.LittleEndian.PutUint32(desc[offNArrays:], uint32(len(specs)))
	binary.LittleEndian.PutUint32(desc[offUserSize:], uint32(userHeaderSize))
	binary.LittleEndian.PutUint32(desc[offUserOffset:], uint32(userOffset))
	binary.LittleEndian.PutUint32(desc[offHeaderSize:], uint32(headerSize))
	for i, s := range specs {
		p := offSpecs + i*specSize
		binary.LittleEndian.PutUint32(desc[p:], s.ElementWidth)
		binary.LittleEndian.PutUint32(desc[p+4:], s.MaxSegments)
	}
	binary.LittleEndian.PutUint32(desc[offChecksum:], descriptorChecksum(desc))

	if _, err := f.WriteAt(desc, 0); err != nil {
		f.Close()
		o.fs.Remove(path)
		return nil, err
	}

	sf, err := attach(path, f, desc, o)
	if err != nil {
		f.Close()
		o.fs.Remove(path)
		return nil, err
	}
	return sf, nil
}

// Open opens an existing segment file.
func Open(path string, opts ...Option) (*File, error) {
	o := applyOptions(opts)

	f, err := o.fs.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}

	fixed := make([]byte, offSpecs)
	if _, err := f.ReadAt(fixed, 0); err != nil {
		f.Close()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("segio: open %s: short header: %w", path, ErrInvalidFormat)
		}
		return nil, err
	}
	if string(fixed[:len(magic)]) != magic ||
		binary.LittleEndian.Uint32(fixed[offWidth:]) != SegmentWidth {
		f.Close()
		return nil, fmt.Errorf("segio: open %s: %w", path, ErrInvalidFormat)
	}

	n := binary.LittleEndian.Uint32(fixed[offNArrays:])
	if n == 0 || n > 64 {
		f.Close()
		return nil, fmt.Errorf("segio: open %s: %d arrays: %w", path, n, ErrCorrupt)
	}
	desc := make([]byte, offSpecs+int(n)*specSize)
	if _, err := f.ReadAt(desc, 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("segio: open %s: %w: %w", path, ErrCorrupt, err)
	}
	if binary.LittleEndian.Uint32(desc[offChecksum:]) != descriptorChecksum(desc) {
		f.Close()
		return nil, fmt.Errorf("segio: open %s: %w", path, ErrCorrupt)
	}

	sf, err := attach(path, f, desc, o)
	if err != nil {
		f.Close()
		return nil, err
	}
	return sf, nil
}

// descriptorChecksum covers the immutable part of the header. The
// checksum field itself and the mutable segment count are excluded.
func descriptorChecksum(desc []byte) uint32 {
	return hash.CRC32CParts(desc[:offChecksum], desc[offSpecs:])
}

func attach(path string, f fs.File, desc []byte, o options) (*File, error) {
	n := int(binary.LittleEndian.Uint32(desc[offNArrays:]))
	specs := make([]ArraySpec, n)
	for i := range specs {
		p := offSpecs + i*specSize
		specs[i] = ArraySpec{
			ElementWidth: binary.LittleEndian.Uint32(desc[p:]),
			MaxSegments:  binary.LittleEndian.Uint32(desc[p+4:]),
		}
		if specs[i].ElementWidth > SegmentWidth || specs[i].MaxSegments == 0 {
			return nil, fmt.Errorf("segio: open %s: %w", path, ErrCorrupt)
		}
	}
	userSize := int(binary.LittleEndian.Uint32(desc[offUserSize:]))
	userOffset, headerSize, _ := layout(specs, userSize)
	if int64(binary.LittleEndian.Uint32(desc[offUserOffset:])) != userOffset ||
		int64(binary.LittleEndian.Uint32(desc[offHeaderSize:])) != headerSize {
		return nil, fmt.Errorf("segio: open %s: layout mismatch: %w", path, ErrCorrupt)
	}

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if fi.Size() < headerSize {
		return nil, fmt.Errorf("segio: open %s: truncated header: %w", path, ErrCorrupt)
	}

	head, err := mmap.Map(f, 0, int(headerSize), true)
	if err != nil {
		return nil, err
	}

	sf := &File{
		path:       path,
		fs:         o.fs,
		rc:         o.rc,
		f:          f,
		head:       head,
		hdr:        head.Bytes(),
		headerSize: headerSize,
		arrays:     make([]array, n),
	}
	sf.user = sf.hdr[userOffset : userOffset+int64(userSize)]

	var base uint32
	for i, s := range specs {
		sf.arrays[i] = array{
			spec: s,
			base: base,
			segs: make([]atomic.Pointer[segment], s.MaxSegments),
		}
		base += s.MaxSegments
	}
	return sf, nil
}

// Path returns the file path.
func (sf *File) Path() string {
	return sf.path
}

// Type returns the file type recorded at creation.
func (sf *File) Type() Type {
	return Type(binary.LittleEndian.Uint32(sf.hdr[offType:]))
}

// Header returns the user header. It is shared with every other handle on
// the file and stays valid until Close.
func (sf *File) Header() []byte {
	return sf.user
}

// Spec returns the spec of array a.
func (sf *File) Spec(a int) ArraySpec {
	return sf.arrays[a].spec
}

// NumArrays returns the number of logical arrays.
func (sf *File) NumArrays() int {
	return len(sf.arrays)
}

// NumSegments returns the number of physical segments in the file.
func (sf *File) NumSegments() uint32 {
	return binary.LittleEndian.Uint32(sf.hdr[offNSegments:])
}

func (sf *File) segMapEntry(a int, ls uint32) []byte {
	off := int64(offSpecs) + int64(len(sf.arrays))*specSize + int64(sf.arrays[a].base+ls)*4
	return sf.hdr[off : off+4]
}

// At returns element e of array a. With alloc set, a missing segment is
// allocated; otherwise At returns nil for positions whose segment does not
// exist yet.
func (sf *File) At(a int, e uint64, alloc bool) ([]byte, error) {
	arr := &sf.arrays[a]
	w := arr.spec.ElementWidth
	return sf.span(arr, a, e<<w, 1<<w, alloc)
}

// Span returns n bytes starting at element e of array a. The range must
// not cross a segment boundary.
func (sf *File) Span(a int, e uint64, n int, alloc bool) ([]byte, error) {
	arr := &sf.arrays[a]
	return sf.span(arr, a, e<<arr.spec.ElementWidth, n, alloc)
}

// SegmentTail returns the bytes from element e of array a to the end of
// its segment.
func (sf *File) SegmentTail(a int, e uint64, alloc bool) ([]byte, error) {
	arr := &sf.arrays[a]
	pos := e << arr.spec.ElementWidth
	return sf.span(arr, a, pos, int(SegmentSize-(pos&segmentMask)), alloc)
}

func (sf *File) span(arr *array, a int, pos uint64, n int, alloc bool) ([]byte, error) {
	ls := pos >> SegmentWidth
	off := pos & segmentMask
	if ls >= uint64(arr.spec.MaxSegments) || off+uint64(n) > SegmentSize {
		return nil, ErrOutOfRange
	}
	s := arr.segs[ls].Load()
	if s == nil {
		var err error
		if s, err = sf.resolve(a, uint32(ls), alloc); s == nil {
			return nil, err
		}
	}
	end := off + uint64(n)
	return s.data[off:end:end], nil
}

func (sf *File) resolve(a int, ls uint32, alloc bool) (*segment, error) {
	sf.mu.Lock()
	defer sf.mu.Unlock()

	if sf.closed.Load() {
		return nil, ErrClosed
	}
	arr := &sf.arrays[a]
	if s := arr.segs[ls].Load(); s != nil {
		return s, nil
	}

	entry := sf.segMapEntry(a, ls)
	phys := binary.LittleEndian.Uint32(entry)
	if phys == 0 {
		if !alloc {
			return nil, nil
		}
		var err error
		if phys, err = sf.grow(); err != nil {
			return nil, err
		}
		binary.LittleEndian.PutUint32(entry, phys)
	}

	m, err := mmap.Map(sf.f, sf.headerSize+int64(phys-1)*SegmentSize, SegmentSize, true)
	if err != nil {
		return nil, err
	}
	// Records and index slots are touched by ID and hash, not in file order.
	_ = m.Advise(mmap.AccessRandom)
	sf.maps = append(sf.maps, m)
	s := &segment{m: m, data: m.Bytes()}
	arr.segs[ls].Store(s)
	return s, nil
}

// grow appends a zero-filled physical segment and returns its 1-based
// number.
func (sf *File) grow() (uint32, error) {
	n := binary.LittleEndian.Uint32(sf.hdr[offNSegments:])
	size := sf.headerSize + int64(n+1)*SegmentSize

	if err := sf.rc.AcquireIO(context.Background(), SegmentSize); err != nil {
		return 0, err
	}

	fi, err := sf.f.Stat()
	if err != nil {
		return 0, err
	}
	if fi.Size() < size {
		if err := sf.f.Truncate(size); err != nil {
			return 0, err
		}
	}
	binary.LittleEndian.PutUint32(sf.hdr[offNSegments:], n+1)
	return n + 1, nil
}

// Sync flushes every mapping to disk.
func (sf *File) Sync() error {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	if sf.closed.Load() {
		return ErrClosed
	}
	var errs []error
	errs = append(errs, sf.head.Sync())
	for _, m := range sf.maps {
		errs = append(errs, m.Sync())
	}
	return errors.Join(errs...)
}

// Close unmaps every segment and closes the file. Slices obtained from the
// file must not be used afterwards.
func (sf *File) Close() error {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	if sf.closed.Swap(true) {
		return nil
	}
	var errs []error
	for i := range sf.arrays {
		for j := range sf.arrays[i].segs {
			sf.arrays[i].segs[j].Store(nil)
		}
	}
	for _, m := range sf.maps {
		errs = append(errs, m.Close())
	}
	sf.maps = nil
	errs = append(errs, sf.head.Close(), sf.f.Close())
	sf.hdr, sf.user = nil, nil
	return errors.Join(errs...)
}

// Remove deletes the file at path.
func Remove(fsys fs.FileSystem, path string) error {
	if fsys == nil {
		fsys = fs.Default
	}
	return fsys.Remove(path)
}

// PeekType reads the type of the segment file at path without mapping it.
func PeekType(fsys fs.FileSystem, path string) (Type, error) {
	if fsys == nil {
		fsys = fs.Default
	}
	f, err := fsys.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	buf := make([]byte, offWidth)
	if _, err := f.ReadAt(buf, 0); err != nil {
		return 0, fmt.Errorf("segio: %s: %w", path, ErrInvalidFormat)
	}
	if string(buf[:len(magic)]) != magic {
		return 0, fmt.Errorf("segio: %s: %w", path, ErrInvalidFormat)
	}
	return Type(binary.LittleEndian.Uint32(buf[offType:])), nil
}
