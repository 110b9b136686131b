package spillmap

import (
	"cmp"
	"log/slog"
	"os"

	"github.com/twlk9/spillmap/byteset"
	"github.com/twlk9/spillmap/codec"
	"github.com/twlk9/spillmap/compression"
	"github.com/twlk9/spillmap/filemap"
	"github.com/twlk9/spillmap/handler"
	"github.com/twlk9/spillmap/keys"
)

const (
	KiB = 1024
	MiB = KiB * 1024
)

// Default values
var (
	DefaultBufferPersistThreshold = 1000
	DefaultMaxOpenFiles           = 100
	DefaultNumRetries             = 2
	DefaultBlockSize              = 32 * KiB
)

// Options configures a SortedSet. All fields except Rewrite, NewStore,
// Compression, Logger and Metrics are required; New validates them
// eagerly.
type Options[E any] struct {
	// Comparator orders elements. Its name is written into every run.
	Comparator keys.Comparator[E]

	// Codec serializes elements into runs. Its name is written into every
	// run too.
	Codec codec.Codec[E]

	// Rewrite resolves comparator-equal elements, on Put within the buffer
	// and across runs during compaction. Nil means last write wins.
	Rewrite filemap.Rewrite[E]

	// Number of elements at which the buffer is spilled into a persisted
	// run. Bounds heap use.
	BufferPersistThreshold int

	// Soft limit on the number of runs. Persist compacts when it is
	// exceeded, down to half of it.
	MaxOpenFiles int

	// Number of extra attempts for I/O failures while creating or writing
	// a run. Each attempt moves on to the next handler factory.
	NumRetries int

	// HandlerFactories create the resources runs are written to. They are
	// tried in order, round-robin, skipping factories that report invalid.
	HandlerFactories []handler.Factory

	// NewStore builds the in-memory structure of a run; nil means a
	// google/btree B-tree.
	NewStore filemap.StoreFactory[E]

	// Compression of spilled runs and of compacted runs.
	// Default: DefaultTieredConfig (S2 spills, zstd compactions)
	Compression *compression.TieredConfig

	// Uncompressed size of a run file block.
	BlockSize int

	// Structured logger
	Logger *slog.Logger

	// Metrics, nil disables them.
	Metrics *Metrics
}

// Validate checks the options and returns the first problem found.
func (o *Options[E]) Validate() error {
	if o.Comparator == nil {
		return ErrNilComparator
	}
	if o.Codec == nil {
		return ErrNilCodec
	}
	if o.BufferPersistThreshold <= 0 {
		return ErrInvalidBufferPersistThreshold
	}
	if o.MaxOpenFiles <= 0 {
		return ErrInvalidMaxOpenFiles
	}
	if o.NumRetries < 0 {
		return ErrInvalidNumRetries
	}
	if len(o.HandlerFactories) == 0 {
		return ErrNoHandlerFactories
	}
	for _, f := range o.HandlerFactories {
		if f == nil {
			return ErrNoHandlerFactories
		}
	}
	if o.BlockSize < 0 {
		return ErrInvalidBlockSize
	}
	return nil
}

// Clone returns a copy whose factory list can be changed independently.
func (o *Options[E]) Clone() *Options[E] {
	clone := *o
	clone.HandlerFactories = append([]handler.Factory(nil), o.HandlerFactories...)
	if o.Compression != nil {
		c := *o.Compression
		clone.Compression = &c
	}
	return &clone
}

// withDefaults fills the optional fields.
func (o *Options[E]) withDefaults() *Options[E] {
	c := o.Clone()
	if c.Compression == nil {
		t := compression.DefaultTieredConfig()
		c.Compression = &t
	}
	if c.BlockSize == 0 {
		c.BlockSize = DefaultBlockSize
	}
	if c.Logger == nil {
		c.Logger = DefaultLogger()
	}
	if c.Rewrite == nil {
		c.Rewrite = filemap.LastWriteWins[E]
	}
	return c
}

func (o *Options[E]) runConfig(c compression.Config) filemap.SetConfig[E] {
	return filemap.SetConfig[E]{
		Comparator:  o.Comparator,
		Codec:       o.Codec,
		Rewrite:     o.Rewrite,
		NewStore:    o.NewStore,
		Compression: c,
		BlockSize:   o.BlockSize,
		Logger:      o.Logger,
	}
}

func defaultOptions[E any](cmp keys.Comparator[E], c codec.Codec[E], factories []handler.Factory) *Options[E] {
	t := compression.DefaultTieredConfig()
	return &Options[E]{
		Comparator:             cmp,
		Codec:                  c,
		BufferPersistThreshold: DefaultBufferPersistThreshold,
		MaxOpenFiles:           DefaultMaxOpenFiles,
		NumRetries:             DefaultNumRetries,
		HandlerFactories:       factories,
		Compression:            &t,
		BlockSize:              DefaultBlockSize,
		Logger:                 DefaultLogger(),
	}
}

// NewSetOptions returns defaults for a set of ordered values.
func NewSetOptions[E cmp.Ordered](c codec.Codec[E], factories ...handler.Factory) *Options[E] {
	return defaultOptions(keys.Natural[E](), c, factories)
}

// NewByteSetOptions returns defaults for a set of raw byte slices kept in
// an arena-backed byteset buffer.
func NewByteSetOptions(factories ...handler.Factory) *Options[[]byte] {
	o := defaultOptions(keys.Bytes(), codec.Bytes(), factories)
	o.NewStore = func(c keys.Comparator[[]byte]) filemap.Store[[]byte] { return byteset.New(c) }
	return o
}

// MapOptions configures a SortedMap. The fields mirror Options.
type MapOptions[K, V any] struct {
	Comparator keys.Comparator[K]
	KeyCodec   codec.Codec[K]
	ValueCodec codec.Codec[V]
	Rewrite    filemap.MapRewrite[K, V]
	NewStore   filemap.StoreFactory[keys.Entry[K, V]]

	BufferPersistThreshold int
	MaxOpenFiles           int
	NumRetries             int
	HandlerFactories       []handler.Factory

	Compression *compression.TieredConfig
	BlockSize   int
	Logger      *slog.Logger
	Metrics     *Metrics
}

// NewMapOptions returns defaults for a map with ordered keys.
func NewMapOptions[K cmp.Ordered, V any](kc codec.Codec[K], vc codec.Codec[V], factories ...handler.Factory) *MapOptions[K, V] {
	t := compression.DefaultTieredConfig()
	return &MapOptions[K, V]{
		Comparator:             keys.Natural[K](),
		KeyCodec:               kc,
		ValueCodec:             vc,
		BufferPersistThreshold: DefaultBufferPersistThreshold,
		MaxOpenFiles:           DefaultMaxOpenFiles,
		NumRetries:             DefaultNumRetries,
		HandlerFactories:       factories,
		Compression:            &t,
		BlockSize:              DefaultBlockSize,
		Logger:                 DefaultLogger(),
	}
}

// EntryOptions converts map options into the options of the entry set
// that backs the map.
func (o *MapOptions[K, V]) EntryOptions() *Options[keys.Entry[K, V]] {
	eo := &Options[keys.Entry[K, V]]{
		Rewrite:                o.Rewrite.Entries(),
		BufferPersistThreshold: o.BufferPersistThreshold,
		MaxOpenFiles:           o.MaxOpenFiles,
		NumRetries:             o.NumRetries,
		HandlerFactories:       o.HandlerFactories,
		NewStore:               o.NewStore,
		Compression:            o.Compression,
		BlockSize:              o.BlockSize,
		Logger:                 o.Logger,
		Metrics:                o.Metrics,
	}
	if o.Comparator != nil {
		eo.Comparator = keys.EntryComparator[K, V](o.Comparator)
	}
	if o.KeyCodec != nil && o.ValueCodec != nil {
		eo.Codec = codec.Pair(o.KeyCodec, o.ValueCodec)
	}
	return eo
}

// Validate checks the options and returns the first problem found.
func (o *MapOptions[K, V]) Validate() error {
	return o.EntryOptions().Validate()
}

// Helpful Logger functions
func getLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

func DefaultLogger() *slog.Logger {
	return getLogger(slog.LevelWarn)
}

func DebugLogger() *slog.Logger {
	return getLogger(slog.LevelDebug)
}
