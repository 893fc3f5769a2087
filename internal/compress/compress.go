// Package compress frames byte blocks with optional LZ4 or ZSTD compression.
//
// Frame format: [codec uint8][reserved 3 bytes][raw length uint32][payload].
// A block whose compressed form does not save at least 10% is stored raw
// with codec None, so Decode never needs to know which codec was asked for.
package compress

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec identifies a compression algorithm.
type Codec uint8

const (
	// None stores blocks uncompressed.
	None Codec = 0
	// LZ4 uses LZ4 block compression (fast).
	LZ4 Codec = 1
	// ZSTD uses ZSTD compression (better ratio).
	ZSTD Codec = 2
)

func (c Codec) String() string {
	switch c {
	case None:
		return "none"
	case LZ4:
		return "lz4"
	case ZSTD:
		return "zstd"
	}
	return fmt.Sprintf("codec(%d)", uint8(c))
}

// HeaderSize is the size of the frame header.
const HeaderSize = 8

// ErrCorrupt is returned for frames that cannot be decoded.
var ErrCorrupt = errors.New("compress: corrupt frame")

// ZSTD encoder/decoder pools
var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

// Encode frames data with codec.
func Encode(data []byte, codec Codec) ([]byte, error) {
	var payload []byte
	switch codec {
	case None:
	case LZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, buf, nil)
		if err != nil {
			return nil, err
		}
		payload = buf[:n] // n == 0 means incompressible
	case ZSTD:
		enc := getZstdEncoder()
		payload = enc.EncodeAll(data, nil)
		zstdEncoderPool.Put(enc)
	default:
		return nil, fmt.Errorf("compress: unknown codec %d", codec)
	}

	if len(payload) == 0 || float64(len(payload)) > float64(len(data))*0.9 {
		codec, payload = None, data
	}

	out := make([]byte, HeaderSize+len(payload))
	out[0] = byte(codec)
	binary.LittleEndian.PutUint32(out[4:], uint32(len(data)))
	copy(out[HeaderSize:], payload)
	return out, nil
}

// Decode returns the raw bytes of a frame. The result never aliases frame.
func Decode(frame []byte) ([]byte, error) {
	if len(frame) < HeaderSize {
		return nil, ErrCorrupt
	}
	codec := Codec(frame[0])
	rawLen := binary.LittleEndian.Uint32(frame[4:])
	payload := frame[HeaderSize:]

	switch codec {
	case None:
		if uint32(len(payload)) != rawLen {
			return nil, ErrCorrupt
		}
		out := make([]byte, rawLen)
		copy(out, payload)
		return out, nil
	case LZ4:
		out := make([]byte, rawLen)
		n, err := lz4.UncompressBlock(payload, out)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
		if uint32(n) != rawLen {
			return nil, ErrCorrupt
		}
		return out, nil
	case ZSTD:
		dec := getZstdDecoder()
		defer zstdDecoderPool.Put(dec)
		out, err := dec.DecodeAll(payload, make([]byte, 0, rawLen))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
		if uint32(len(out)) != rawLen {
			return nil, ErrCorrupt
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: codec %d", ErrCorrupt, codec)
}

// FrameCodec returns the codec a frame was stored with.
func FrameCodec(frame []byte) Codec {
	if len(frame) < HeaderSize {
		return None
	}
	return Codec(frame[0])
}
