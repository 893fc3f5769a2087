package table

import (
	"encoding/binary"

	"github.com/hupe1980/recstore"
)

// ApplyValue combines src into the stored value dst according to mode.
//
// Set copies src and zeroes the rest of dst. Incr and Decr treat both as
// little-endian signed integers and require a 4- or 8-byte value.
func ApplyValue(op string, dst, src []byte, mode recstore.SetMode) error {
	switch mode {
	case recstore.Set:
		if len(src) > len(dst) {
			return recstore.Errorf(recstore.ErrInvalidArgument, op,
				"value size %d exceeds %d", len(src), len(dst))
		}
		n := copy(dst, src)
		clear(dst[n:])
		return nil
	case recstore.Incr, recstore.Decr:
	default:
		return recstore.Errorf(recstore.ErrInvalidArgument, op, "unknown set mode %d", int(mode))
	}

	if len(src) != len(dst) {
		return recstore.Errorf(recstore.ErrInvalidArgument, op,
			"%s needs a %d-byte operand, got %d", mode, len(dst), len(src))
	}
	switch len(dst) {
	case 4:
		d := int32(binary.LittleEndian.Uint32(src))
		if mode == recstore.Decr {
			d = -d
		}
		binary.LittleEndian.PutUint32(dst, uint32(int32(binary.LittleEndian.Uint32(dst))+d))
	case 8:
		d := int64(binary.LittleEndian.Uint64(src))
		if mode == recstore.Decr {
			d = -d
		}
		binary.LittleEndian.PutUint64(dst, uint64(int64(binary.LittleEndian.Uint64(dst))+d))
	default:
		return recstore.Errorf(recstore.ErrInvalidArgument, op,
			"%s is not supported for %d-byte values", mode, len(dst))
	}
	return nil
}
