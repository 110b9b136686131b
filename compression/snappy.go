package compression

import (
	"fmt"

	"github.com/klauspost/compress/snappy"
)

type snappyCompressor struct {
	minReductionPercent uint8
}

// NewSnappyCompressor creates a new Snappy compressor
func NewSnappyCompressor(minReductionPercent uint8) Compressor {
	return &snappyCompressor{minReductionPercent: minReductionPercent}
}

func (c *snappyCompressor) Compress(dst, src []byte) ([]byte, bool, error) {
	out, ok := keepIfReduced(dst, src, snappy.Encode(nil, src), c.minReductionPercent)
	return out, ok, nil
}

func (c *snappyCompressor) Decompress(dst, src []byte) ([]byte, error) {
	return DecompressSnappy(dst, src)
}

func (c *snappyCompressor) Type() Type { return Snappy }

// DecompressSnappy decompresses Snappy-compressed data
func DecompressSnappy(dst, src []byte) ([]byte, error) {
	out, err := snappy.Decode(dst[:cap(dst)], src)
	if err != nil {
		return nil, fmt.Errorf("snappy decompression failed: %w", err)
	}
	return out, nil
}
