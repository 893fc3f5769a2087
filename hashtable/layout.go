package hashtable

import "encoding/binary"

// layoutKind selects how an entry stores its key. It is fixed when the table
// is created.
type layoutKind uint8

const (
	// [key u32][value]. The key doubles as the hash value.
	layoutPlain layoutKind = iota
	// [hash u32][key][value]
	layoutRich
	// [hash u32][flag u16][size u16][inline key or u32 arena offset][value]
	layoutVarNormal
	// [hash u32][flag u16][size u16][inline key or u64 arena offset][value]
	layoutVarLarge
)

func (k layoutKind) String() string {
	switch k {
	case layoutPlain:
		return "plain"
	case layoutRich:
		return "rich"
	case layoutVarNormal:
		return "var-normal"
	case layoutVarLarge:
		return "var-large"
	}
	return "unknown"
}

// flagImmediate marks a var key stored inside the entry.
const flagImmediate = 1

type layout struct {
	kind      layoutKind
	keySize   int // fixed key size, or the largest var key
	valueSize int
}

func newLayout(keySize, valueSize int, flags Flags, memory bool) layout {
	l := layout{keySize: keySize, valueSize: valueSize}
	switch {
	case flags&FlagKeyVarSize != 0 && (memory || flags&FlagKeyLarge != 0):
		l.kind = layoutVarLarge
	case flags&FlagKeyVarSize != 0:
		l.kind = layoutVarNormal
	case keySize == 4:
		l.kind = layoutPlain
	default:
		l.kind = layoutRich
	}
	return l
}

func (l layout) isVar() bool {
	return l.kind == layoutVarNormal || l.kind == layoutVarLarge
}

// slotSize is the inline key capacity of a var entry.
func (l layout) slotSize() int {
	if l.kind == layoutVarLarge {
		return 8
	}
	return 4
}

func (l layout) valueOffset() int {
	switch l.kind {
	case layoutPlain:
		return 4
	case layoutRich:
		return 4 + l.keySize
	}
	return 8 + l.slotSize()
}

func (l layout) entrySize() int {
	return l.valueOffset() + l.valueSize
}

func (l layout) hash(e []byte) uint32 {
	return binary.LittleEndian.Uint32(e)
}

func (l layout) keyLen(e []byte) int {
	if l.isVar() {
		return int(binary.LittleEndian.Uint16(e[6:]))
	}
	return l.keySize
}

func (l layout) value(e []byte) []byte {
	off := l.valueOffset()
	end := off + l.valueSize
	return e[off:end:end]
}

func (l layout) inline(e []byte) bool {
	return binary.LittleEndian.Uint16(e[4:])&flagImmediate != 0
}

func (l layout) keyOffset(e []byte) uint64 {
	if l.kind == layoutVarLarge {
		return binary.LittleEndian.Uint64(e[8:])
	}
	return uint64(binary.LittleEndian.Uint32(e[8:]))
}

func (l layout) setKeyOffset(e []byte, off uint64) {
	if l.kind == layoutVarLarge {
		binary.LittleEndian.PutUint64(e[8:], off)
	} else {
		binary.LittleEndian.PutUint32(e[8:], uint32(off))
	}
}

// setVarHeader writes the var-key header fields.
func (l layout) setVarHeader(e []byte, hash uint32, size int, inline bool) {
	var flag uint16
	if inline {
		flag = flagImmediate
	}
	binary.LittleEndian.PutUint32(e, hash)
	binary.LittleEndian.PutUint16(e[4:], flag)
	binary.LittleEndian.PutUint16(e[6:], uint16(size))
}

// fixedKey returns the in-entry key of a plain or rich entry.
func (l layout) fixedKey(e []byte) []byte {
	if l.kind == layoutPlain {
		return e[0:4:4]
	}
	return e[4 : 4+l.keySize : 4+l.keySize]
}

// putFixedKey writes a plain or rich key.
func (l layout) putFixedKey(e []byte, hash uint32, key []byte) {
	binary.LittleEndian.PutUint32(e, hash)
	if l.kind == layoutRich {
		copy(e[4:], key)
	}
}
