package segment

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec compresses the stored-documents block of a segment. Postings and
// the dictionary are left uncompressed so they can be read per term.
type Codec uint32

const (
	CodecNone Codec = 0
	CodecZstd Codec = 1
	CodecLZ4  Codec = 2
)

func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecZstd:
		return "zstd"
	case CodecLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("codec(%d)", uint32(c))
	}
}

// ParseCodec maps a configuration name to a Codec.
func ParseCodec(name string) (Codec, error) {
	switch name {
	case "", "none":
		return CodecNone, nil
	case "zstd":
		return CodecZstd, nil
	case "lz4":
		return CodecLZ4, nil
	default:
		return CodecNone, fmt.Errorf("unknown stored fields codec %q", name)
	}
}

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() (*zstd.Encoder, error) {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder), nil
	}
	return zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
}

func getZstdDecoder() (*zstd.Decoder, error) {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder), nil
	}
	return zstd.NewReader(nil)
}

// block layout: [raw size u32][compressed size u32, 0 = stored raw][data]
const blockHeaderSize = 8

func (c Codec) encodeBlock(raw []byte) ([]byte, error) {
	var compressed []byte
	switch c {
	case CodecNone:
	case CodecZstd:
		enc, err := getZstdEncoder()
		if err != nil {
			return nil, fmt.Errorf("creating zstd encoder: %w", err)
		}
		compressed = enc.EncodeAll(raw, nil)
		zstdEncoderPool.Put(enc)
	case CodecLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(raw)))
		n, err := lz4.CompressBlock(raw, buf, nil)
		if err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		compressed = buf[:n]
	default:
		return nil, fmt.Errorf("encoding block: %s", c)
	}

	out := make([]byte, blockHeaderSize, blockHeaderSize+len(raw))
	binary.LittleEndian.PutUint32(out[0:4], uint32(len(raw)))
	if len(compressed) == 0 || len(compressed) >= len(raw) {
		return append(out, raw...), nil
	}
	binary.LittleEndian.PutUint32(out[4:8], uint32(len(compressed)))
	return append(out, compressed...), nil
}

func (c Codec) decodeBlock(block []byte) ([]byte, error) {
	if len(block) < blockHeaderSize {
		return nil, fmt.Errorf("stored block too small: %d bytes", len(block))
	}
	rawSize := binary.LittleEndian.Uint32(block[0:4])
	compSize := binary.LittleEndian.Uint32(block[4:8])
	data := block[blockHeaderSize:]
	if compSize == 0 {
		if uint32(len(data)) != rawSize {
			return nil, fmt.Errorf("stored block size mismatch: %d != %d", len(data), rawSize)
		}
		return data, nil
	}
	if uint32(len(data)) != compSize {
		return nil, fmt.Errorf("compressed block size mismatch: %d != %d", len(data), compSize)
	}
	switch c {
	case CodecZstd:
		dec, err := getZstdDecoder()
		if err != nil {
			return nil, fmt.Errorf("creating zstd decoder: %w", err)
		}
		defer zstdDecoderPool.Put(dec)
		raw, err := dec.DecodeAll(data, make([]byte, 0, rawSize))
		if err != nil {
			return nil, fmt.Errorf("zstd decode: %w", err)
		}
		if uint32(len(raw)) != rawSize {
			return nil, fmt.Errorf("zstd decoded %d bytes, want %d", len(raw), rawSize)
		}
		return raw, nil
	case CodecLZ4:
		raw := make([]byte, rawSize)
		n, err := lz4.UncompressBlock(data, raw)
		if err != nil {
			return nil, fmt.Errorf("lz4 decode: %w", err)
		}
		if uint32(n) != rawSize {
			return nil, fmt.Errorf("lz4 decoded %d bytes, want %d", n, rawSize)
		}
		return raw, nil
	default:
		return nil, fmt.Errorf("decoding block: %s", c)
	}
}
