// Package compression compresses run file blocks. Freshly spilled runs
// are short lived and favour a fast codec; compaction outputs live
// longer and can afford a stronger one, which is what TieredConfig
// expresses.
package compression

import "fmt"

// Type identifies a compression algorithm. The value is stored in every
// block trailer, so existing values must never be renumbered.
type Type uint8

const (
	// None stores blocks without compression
	None Type = iota

	// Snappy uses Snappy compression algorithm
	Snappy

	// Zstd uses Zstandard compression algorithm
	Zstd

	// S2 uses S2 compression algorithm
	S2
)

// MinBlockSize is the smallest block that is worth handing to an encoder.
const MinBlockSize = 512

// String returns the string representation of the compression type
func (t Type) String() string {
	switch t {
	case None:
		return "none"
	case Snappy:
		return "snappy"
	case Zstd:
		return "zstd"
	case S2:
		return "s2"
	default:
		return "unknown"
	}
}

// ParseType is the inverse of Type.String.
func ParseType(s string) (Type, error) {
	for _, t := range []Type{None, Snappy, Zstd, S2} {
		if t.String() == s {
			return t, nil
		}
	}
	return None, fmt.Errorf("unknown compression type %q", s)
}

// Config holds compression configuration
type Config struct {
	Type Type

	// MinReductionPercent is the minimum size reduction required to keep
	// a block compressed. Blocks that shrink less are stored raw.
	MinReductionPercent uint8

	// ZstdLevel is only used when Type is Zstd.
	ZstdLevel ZstdLevel
}

// NoCompressionConfig stores every block raw.
func NoCompressionConfig() Config {
	return Config{Type: None}
}

// SnappyConfig returns a configuration for Snappy compression
func SnappyConfig() Config {
	return Config{Type: Snappy, MinReductionPercent: 12}
}

// S2DefaultConfig returns configuration for S2 compression with default settings
func S2DefaultConfig() Config {
	return Config{Type: S2, MinReductionPercent: 12}
}

// ZstdBalancedConfig uses the default zstd level, which keeps encoder
// memory small.
func ZstdBalancedConfig() Config {
	return Config{Type: Zstd, MinReductionPercent: 8, ZstdLevel: ZstdDefault}
}

// ZstdBestConfig trades a lot of encoder memory for ratio.
func ZstdBestConfig() Config {
	return Config{Type: Zstd, MinReductionPercent: 5, ZstdLevel: ZstdBest}
}

// PresetConfig returns the preset for t: snappy, s2 or balanced zstd.
func PresetConfig(t Type) Config {
	switch t {
	case Snappy:
		return SnappyConfig()
	case S2:
		return S2DefaultConfig()
	case Zstd:
		return ZstdBalancedConfig()
	default:
		return NoCompressionConfig()
	}
}

// TieredConfig picks a compression config by run origin.
type TieredConfig struct {
	// Spill is used for runs written when a buffer fills up or is
	// persisted explicitly.
	Spill Config

	// Compacted is used for runs produced by merging other runs.
	Compacted Config
}

// DefaultTieredConfig is fast S2 on spills and balanced zstd on compactions.
func DefaultTieredConfig() TieredConfig {
	return TieredConfig{
		Spill:     S2DefaultConfig(),
		Compacted: ZstdBalancedConfig(),
	}
}

// UniformConfig uses c for every run.
func UniformConfig(c Config) TieredConfig {
	return TieredConfig{Spill: c, Compacted: c}
}

// Compressor interface defines compression operations
type Compressor interface {
	// Compress compresses src into dst. The bool reports whether the
	// result is compressed or a raw copy of src.
	Compress(dst, src []byte) ([]byte, bool, error)

	// Decompress decompresses src into dst.
	Decompress(dst, src []byte) ([]byte, error)

	Type() Type
}

// NewCompressor creates a new compressor based on the configuration
func NewCompressor(config Config) (Compressor, error) {
	switch config.Type {
	case None:
		return noneCompressor{}, nil
	case Snappy:
		return NewSnappyCompressor(config.MinReductionPercent), nil
	case Zstd:
		return NewZstdCompressor(config.MinReductionPercent, config.ZstdLevel), nil
	case S2:
		return NewS2Compressor(config.MinReductionPercent), nil
	default:
		return nil, fmt.Errorf("unknown compression type: %d", config.Type)
	}
}

type noneCompressor struct{}

func (noneCompressor) Compress(dst, src []byte) ([]byte, bool, error) {
	return rawCopy(dst, src), false, nil
}

func (noneCompressor) Decompress(dst, src []byte) ([]byte, error) {
	return rawCopy(dst, src), nil
}

func (noneCompressor) Type() Type { return None }

// rawCopy copies src into dst, reallocating only if necessary.
func rawCopy(dst, src []byte) []byte {
	if cap(dst) < len(src) {
		dst = make([]byte, len(src))
	} else {
		dst = dst[:len(src)]
	}
	copy(dst, src)
	return dst
}

// keepIfReduced falls back to a raw copy when compressed did not shrink
// src by at least minPercent.
func keepIfReduced(dst, src, compressed []byte, minPercent uint8) ([]byte, bool) {
	if len(src) == 0 {
		return rawCopy(dst, src), false
	}
	if minPercent > 0 {
		reduction := (len(src) - len(compressed)) * 100 / len(src)
		if reduction < int(minPercent) {
			return rawCopy(dst, src), false
		}
	}
	return compressed, true
}

// EncodeBlock compresses one block and reports the type to record in its
// trailer. Blocks under MinBlockSize are stored raw.
func EncodeBlock(c Compressor, dst, src []byte) ([]byte, Type, error) {
	if len(src) < MinBlockSize {
		return rawCopy(dst, src), None, nil
	}
	out, compressed, err := c.Compress(dst, src)
	if err != nil {
		return nil, None, err
	}
	if !compressed {
		return out, None, nil
	}
	return out, c.Type(), nil
}

// DecodeBlock reverses EncodeBlock for a block stored with type t.
func DecodeBlock(dst, src []byte, t Type) ([]byte, error) {
	switch t {
	case None:
		return rawCopy(dst, src), nil
	case Snappy:
		return DecompressSnappy(dst, src)
	case Zstd:
		return DecompressZstd(dst, src)
	case S2:
		return DecompressS2(dst, src)
	default:
		return nil, fmt.Errorf("unknown compression type: %d", t)
	}
}
