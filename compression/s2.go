package compression

import (
	"fmt"

	"github.com/klauspost/compress/s2"
)

type s2Compressor struct {
	minReductionPercent uint8
}

// NewS2Compressor creates a new S2 compressor
func NewS2Compressor(minReductionPercent uint8) Compressor {
	return &s2Compressor{minReductionPercent: minReductionPercent}
}

func (c *s2Compressor) Compress(dst, src []byte) ([]byte, bool, error) {
	out, ok := keepIfReduced(dst, src, s2.Encode(nil, src), c.minReductionPercent)
	return out, ok, nil
}

func (c *s2Compressor) Decompress(dst, src []byte) ([]byte, error) {
	return DecompressS2(dst, src)
}

func (c *s2Compressor) Type() Type { return S2 }

// DecompressS2 decompresses S2-compressed data
func DecompressS2(dst, src []byte) ([]byte, error) {
	out, err := s2.Decode(dst[:cap(dst)], src)
	if err != nil {
		return nil, fmt.Errorf("s2 decompression failed: %w", err)
	}
	return out, nil
}
