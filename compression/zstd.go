package compression

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// ZstdLevel represents different Zstd compression levels
type ZstdLevel int

const (
	ZstdFastest ZstdLevel = 1
	ZstdDefault ZstdLevel = 3
	ZstdBetter  ZstdLevel = 6
	ZstdBest    ZstdLevel = 9
)

func (l ZstdLevel) encoderLevel() zstd.EncoderLevel {
	switch l {
	case ZstdFastest:
		return zstd.SpeedFastest
	case ZstdBetter:
		return zstd.SpeedBetterCompression
	case ZstdBest:
		return zstd.SpeedBestCompression
	default:
		return zstd.SpeedDefault
	}
}

type zstdCompressor struct {
	minReductionPercent uint8
	encoders            sync.Pool
}

// Decoders are stateless between DecodeAll calls, so one pool serves
// every compressor and the package level DecompressZstd.
var zstdDecoders = sync.Pool{
	New: func() any {
		d, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
		if err != nil {
			panic(fmt.Sprintf("failed to create zstd decoder: %v", err))
		}
		return d
	},
}

// NewZstdCompressor creates a new Zstd compressor with the specified level
func NewZstdCompressor(minReductionPercent uint8, level ZstdLevel) Compressor {
	el := level.encoderLevel()
	c := &zstdCompressor{minReductionPercent: minReductionPercent}
	c.encoders.New = func() any {
		e, err := zstd.NewWriter(nil,
			zstd.WithEncoderLevel(el),
			zstd.WithLowerEncoderMem(true),
			zstd.WithWindowSize(1<<20),
		)
		if err != nil {
			panic(fmt.Sprintf("failed to create zstd encoder: %v", err))
		}
		return e
	}
	return c
}

func (c *zstdCompressor) Compress(dst, src []byte) ([]byte, bool, error) {
	e := c.encoders.Get().(*zstd.Encoder)
	defer c.encoders.Put(e)
	out, ok := keepIfReduced(dst, src, e.EncodeAll(src, nil), c.minReductionPercent)
	return out, ok, nil
}

func (c *zstdCompressor) Decompress(dst, src []byte) ([]byte, error) {
	return DecompressZstd(dst, src)
}

func (c *zstdCompressor) Type() Type { return Zstd }

// DecompressZstd decompresses Zstd-compressed data
func DecompressZstd(dst, src []byte) ([]byte, error) {
	d := zstdDecoders.Get().(*zstd.Decoder)
	defer zstdDecoders.Put(d)
	out, err := d.DecodeAll(src, dst[:0])
	if err != nil {
		return nil, fmt.Errorf("zstd decompression failed: %w", err)
	}
	return out, nil
}
