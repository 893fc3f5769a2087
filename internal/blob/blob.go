// Package blob stores variable-length values keyed by record ID in a
// segment file.
//
// With a codec configured, values are framed by internal/compress; stored
// sizes and MaxValueSize then refer to the framed bytes.
//
// Each ID has a 16-byte descriptor (position, size, flags). Values are
// placed in power-of-two chunks taken from per-size-class free lists or
// bumped from a write cursor; a chunk never crosses a segment. Freed chunks
// are threaded through their first eight bytes.
package blob

import (
	"encoding/binary"
	"errors"
	"math/bits"

	"github.com/hupe1980/recstore/internal/compress"
	"github.com/hupe1980/recstore/internal/segio"
)

const (
	arrayInfo = 0
	arrayData = 1

	infoWidth = 4 // 16-byte descriptors

	minClass = 4 // 16 bytes
	maxClass = segio.SegmentWidth
	nClasses = maxClass - minClass + 1

	// DefaultDataSegments bounds the data area at 4 GiB.
	DefaultDataSegments = 1024

	// MaxValueSize is the largest value a store accepts.
	MaxValueSize = segio.SegmentSize

	hdrCursor = 0
	hdrFree   = 8
	hdrCount  = hdrFree + nClasses*8
	hdrBytes  = hdrCount + 8
	hdrSize   = hdrBytes + 8

	flagPresent = 1
)

var (
	// ErrTooLarge is returned for values over MaxValueSize.
	ErrTooLarge = errors.New("blob: value too large")
	// ErrFull is returned when the data area is exhausted.
	ErrFull = errors.New("blob: data area full")
	// ErrInvalidID is returned for ID 0.
	ErrInvalidID = errors.New("blob: invalid id")
)

type options struct {
	segOpts      []segio.Option
	dataSegments uint32
	codec        compress.Codec
	framed       bool
}

// Option configures Create and Open.
type Option func(*options)

// WithSegmentOptions passes options to the underlying segment file.
func WithSegmentOptions(opts ...segio.Option) Option {
	return func(o *options) {
		o.segOpts = append(o.segOpts, opts...)
	}
}

// WithMaxDataSegments bounds the data area (Create only).
func WithMaxDataSegments(n uint32) Option {
	return func(o *options) {
		o.dataSegments = n
	}
}

// WithCodec frames every value with the given compression codec. A store
// must be opened with the same framing it was created with.
func WithCodec(c compress.Codec) Option {
	return func(o *options) {
		o.codec = c
		o.framed = true
	}
}

func applyOptions(opts []Option) options {
	o := options{dataSegments: DefaultDataSegments}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Store is a variable-length value store. It is not safe for concurrent
// use; callers serialize access.
type Store struct {
	f      *segio.File
	hdr    []byte
	codec  compress.Codec
	framed bool
}

// Create creates a store at path.
func Create(path string, opts ...Option) (*Store, error) {
	o := applyOptions(opts)
	specs := []segio.ArraySpec{
		{ElementWidth: infoWidth, MaxSegments: 1 << (30 - (segio.SegmentWidth - infoWidth))},
		{ElementWidth: 0, MaxSegments: o.dataSegments},
	}
	f, err := segio.Create(path, segio.TypeBlob, hdrSize, specs, o.segOpts...)
	if err != nil {
		return nil, err
	}
	return &Store{f: f, hdr: f.Header(), codec: o.codec, framed: o.framed}, nil
}

// Open opens an existing store.
func Open(path string, opts ...Option) (*Store, error) {
	o := applyOptions(opts)
	f, err := segio.Open(path, o.segOpts...)
	if err != nil {
		return nil, err
	}
	if f.Type() != segio.TypeBlob || f.NumArrays() != 2 || len(f.Header()) != hdrSize {
		f.Close()
		return nil, segio.ErrInvalidFormat
	}
	return &Store{f: f, hdr: f.Header(), codec: o.codec, framed: o.framed}, nil
}

func class(n int) int {
	c := bits.Len(uint(n - 1))
	return max(c, minClass)
}

func (s *Store) freeHead(c int) []byte {
	p := hdrFree + (c-minClass)*8
	return s.hdr[p : p+8]
}

// Put stores value under id, replacing any previous value.
func (s *Store) Put(id uint32, value []byte) error {
	if id == 0 {
		return ErrInvalidID
	}
	if s.framed {
		frame, err := compress.Encode(value, s.codec)
		if err != nil {
			return err
		}
		value = frame
	}
	if len(value) > MaxValueSize {
		return ErrTooLarge
	}
	info, err := s.f.At(arrayInfo, uint64(id), true)
	if err != nil {
		return err
	}

	var pos uint64
	if len(value) > 0 {
		if pos, err = s.alloc(class(len(value))); err != nil {
			return err
		}
		dst, err := s.f.Span(arrayData, pos, len(value), true)
		if err != nil {
			return err
		}
		copy(dst, value)
	}

	s.release(info)
	binary.LittleEndian.PutUint64(info[0:], pos)
	binary.LittleEndian.PutUint32(info[8:], uint32(len(value)))
	binary.LittleEndian.PutUint32(info[12:], flagPresent)
	s.addCounters(1, int64(len(value)))
	return nil
}

func (s *Store) alloc(c int) (uint64, error) {
	head := s.freeHead(c)
	if next := binary.LittleEndian.Uint64(head); next != 0 {
		pos := next - 1
		link, err := s.f.Span(arrayData, pos, 8, true)
		if err != nil {
			return 0, err
		}
		copy(head, link)
		return pos, nil
	}

	size := uint64(1) << c
	cur := s.hdr[hdrCursor : hdrCursor+8]
	pos := binary.LittleEndian.Uint64(cur)
	if pos>>segio.SegmentWidth != (pos+size-1)>>segio.SegmentWidth {
		pos = (pos>>segio.SegmentWidth + 1) << segio.SegmentWidth
	}
	if pos+size > uint64(s.f.Spec(arrayData).MaxSegments)<<segio.SegmentWidth {
		return 0, ErrFull
	}
	// Touch the chunk before moving the cursor so a failed segment
	// allocation leaves the store unchanged.
	if _, err := s.f.Span(arrayData, pos, int(size), true); err != nil {
		return 0, err
	}
	binary.LittleEndian.PutUint64(cur, pos+size)
	return pos, nil
}

// release frees the chunk described by info, if any.
func (s *Store) release(info []byte) {
	if binary.LittleEndian.Uint32(info[12:])&flagPresent == 0 {
		return
	}
	size := binary.LittleEndian.Uint32(info[8:])
	s.addCounters(-1, -int64(size))
	if size > 0 {
		pos := binary.LittleEndian.Uint64(info[0:])
		if link, err := s.f.Span(arrayData, pos, 8, false); err == nil && link != nil {
			head := s.freeHead(class(int(size)))
			copy(link, head)
			binary.LittleEndian.PutUint64(head, pos+1)
		}
	}
	clear(info)
}

func (s *Store) addCounters(n int64, bytes int64) {
	cnt := s.hdr[hdrCount : hdrCount+8]
	binary.LittleEndian.PutUint64(cnt, uint64(int64(binary.LittleEndian.Uint64(cnt))+n))
	b := s.hdr[hdrBytes : hdrBytes+8]
	binary.LittleEndian.PutUint64(b, uint64(int64(binary.LittleEndian.Uint64(b))+bytes))
}

// Get returns a copy of the value stored under id.
func (s *Store) Get(id uint32) ([]byte, bool, error) {
	if id == 0 {
		return nil, false, ErrInvalidID
	}
	info, err := s.f.At(arrayInfo, uint64(id), false)
	if err != nil || info == nil {
		return nil, false, err
	}
	if binary.LittleEndian.Uint32(info[12:])&flagPresent == 0 {
		return nil, false, nil
	}
	size := int(binary.LittleEndian.Uint32(info[8:]))
	out := make([]byte, size)
	if size > 0 {
		src, err := s.f.Span(arrayData, binary.LittleEndian.Uint64(info[0:]), size, false)
		if err != nil {
			return nil, false, err
		}
		if src == nil {
			return nil, false, segio.ErrCorrupt
		}
		copy(out, src)
	}
	if s.framed {
		if out, err = compress.Decode(out); err != nil {
			return nil, false, err
		}
	}
	return out, true, nil
}

// Delete removes the value stored under id. Deleting a missing value is a
// no-op.
func (s *Store) Delete(id uint32) error {
	if id == 0 {
		return ErrInvalidID
	}
	info, err := s.f.At(arrayInfo, uint64(id), false)
	if err != nil || info == nil {
		return err
	}
	s.release(info)
	return nil
}

// Len returns the number of stored values.
func (s *Store) Len() int {
	return int(binary.LittleEndian.Uint64(s.hdr[hdrCount:]))
}

// Bytes returns the total size of stored values.
func (s *Store) Bytes() int64 {
	return int64(binary.LittleEndian.Uint64(s.hdr[hdrBytes:]))
}

// Path returns the file path.
func (s *Store) Path() string {
	return s.f.Path()
}

// Sync flushes the store to disk.
func (s *Store) Sync() error {
	return s.f.Sync()
}

// Close closes the store.
func (s *Store) Close() error {
	return s.f.Close()
}
