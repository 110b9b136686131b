package filemap

import (
	"iter"
	"log/slog"

	"github.com/twlk9/spillmap/codec"
	"github.com/twlk9/spillmap/compression"
	"github.com/twlk9/spillmap/handler"
	"github.com/twlk9/spillmap/keys"
	"github.com/twlk9/spillmap/merge"
)

// MapConfig is SetConfig for key/value runs.
type MapConfig[K, V any] struct {
	Comparator keys.Comparator[K]
	KeyCodec   codec.Codec[K]
	ValueCodec codec.Codec[V]
	Rewrite    MapRewrite[K, V]
	NewStore   StoreFactory[keys.Entry[K, V]]

	Compression compression.Config
	BlockSize   int
	Logger      *slog.Logger
}

// SetConfig returns the config of the entry set backing a Map.
func (c MapConfig[K, V]) SetConfig() SetConfig[keys.Entry[K, V]] {
	cfg := SetConfig[keys.Entry[K, V]]{
		Rewrite:     c.Rewrite.Entries(),
		NewStore:    c.NewStore,
		Compression: c.Compression,
		BlockSize:   c.BlockSize,
		Logger:      c.Logger,
	}
	if c.Comparator != nil {
		cfg.Comparator = keys.EntryComparator[K, V](c.Comparator)
	}
	if c.KeyCodec != nil && c.ValueCodec != nil {
		cfg.Codec = codec.Pair(c.KeyCodec, c.ValueCodec)
	}
	return cfg
}

// Map is a persistable sorted map: a Set of entries ordered by key.
type Map[K, V any] struct {
	set *Set[keys.Entry[K, V]]
	cmp keys.Comparator[K]
}

// NewMap creates an empty unpersisted map bound to h.
func NewMap[K, V any](cfg MapConfig[K, V], h handler.Handler) (*Map[K, V], error) {
	s, err := NewSet(cfg.SetConfig(), h)
	if err != nil {
		return nil, err
	}
	return &Map[K, V]{set: s, cmp: cfg.Comparator}, nil
}

// OpenMap attaches a map to a resource persisted earlier.
func OpenMap[K, V any](cfg MapConfig[K, V], h handler.Handler) (*Map[K, V], error) {
	s, err := OpenSet(cfg.SetConfig(), h)
	if err != nil {
		return nil, err
	}
	return &Map[K, V]{set: s, cmp: cfg.Comparator}, nil
}

// MapOf wraps an existing entry set.
func MapOf[K, V any](s *Set[keys.Entry[K, V]], cmp keys.Comparator[K]) *Map[K, V] {
	return &Map[K, V]{set: s, cmp: cmp}
}

func probe[K, V any](k K) keys.Entry[K, V] {
	return keys.Entry[K, V]{Key: k}
}

// Set exposes the backing entry set.
func (m *Map[K, V]) Set() *Set[keys.Entry[K, V]] { return m.set }

// Comparator returns the key order.
func (m *Map[K, V]) Comparator() keys.Comparator[K] { return m.cmp }

func (m *Map[K, V]) Put(k K, v V) error {
	return m.set.Put(keys.Entry[K, V]{Key: k, Value: v})
}

// Get returns the value stored under k.
func (m *Map[K, V]) Get(k K) (V, bool, error) {
	e, ok, err := m.set.Get(probe[K, V](k))
	return e.Value, ok, err
}

func (m *Map[K, V]) Remove(k K) (bool, error) {
	return m.set.Remove(probe[K, V](k))
}

func (m *Map[K, V]) ContainsKey(k K) (bool, error) {
	return m.set.Contains(probe[K, V](k))
}

func (m *Map[K, V]) FirstKey() (K, error) {
	e, err := m.set.First()
	return e.Key, err
}

func (m *Map[K, V]) LastKey() (K, error) {
	e, err := m.set.Last()
	return e.Key, err
}

func (m *Map[K, V]) Len() int { return m.set.Len() }
func (m *Map[K, V]) IsEmpty() bool { return m.set.IsEmpty() }
func (m *Map[K, V]) IsPersisted() bool { return m.set.IsPersisted() }
func (m *Map[K, V]) Persist() error { return m.set.Persist() }
func (m *Map[K, V]) Load() error { return m.set.Load() }
func (m *Map[K, V]) Clear() { m.set.Clear() }
func (m *Map[K, V]) Delete() error { return m.set.Delete() }
func (m *Map[K, V]) Handler() handler.Handler { return m.set.Handler() }
func (m *Map[K, V]) Rebind(h handler.Handler) error { return m.set.Rebind(h) }

// Iterator iterates the entries in key order.
func (m *Map[K, V]) Iterator() *merge.Iterator[keys.Entry[K, V]] {
	return m.set.Iterator()
}

// All iterates keys and values in key order.
func (m *Map[K, V]) All() iter.Seq2[K, V] {
	return entries(m.set.All())
}

func entries[K, V any](seq iter.Seq[keys.Entry[K, V]]) iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		for e := range seq {
			if !yield(e.Key, e.Value) {
				return
			}
		}
	}
}

func (m *Map[K, V]) view(r keys.Range[K]) *MapView[K, V] {
	return &MapView[K, V]{v: m.set.View(keys.MapRange[K, V](r))}
}

// SubMap returns a view of the keys in [from, to).
func (m *Map[K, V]) SubMap(from, to K) *MapView[K, V] { return m.view(keys.Between(from, to)) }

// HeadMap returns a view of the keys before to.
func (m *Map[K, V]) HeadMap(to K) *MapView[K, V] { return m.view(keys.Before(to)) }

// TailMap returns a view of the keys at or after from.
func (m *Map[K, V]) TailMap(from K) *MapView[K, V] { return m.view(keys.From(from)) }

// MapView is a bounded, live window onto a Map.
type MapView[K, V any] struct {
	v *SetView[keys.Entry[K, V]]
}

// Put stores v under k, which must lie inside the view.
func (mv *MapView[K, V]) Put(k K, v V) error {
	return mv.v.Put(keys.Entry[K, V]{Key: k, Value: v})
}

func (mv *MapView[K, V]) Get(k K) (V, bool, error) {
	var zero V
	ok, err := mv.v.Contains(probe[K, V](k))
	if !ok || err != nil {
		return zero, false, err
	}
	e, ok, err := mv.v.s.Get(probe[K, V](k))
	return e.Value, ok, err
}

func (mv *MapView[K, V]) Remove(k K) (bool, error) {
	return mv.v.Remove(probe[K, V](k))
}

func (mv *MapView[K, V]) ContainsKey(k K) (bool, error) {
	return mv.v.Contains(probe[K, V](k))
}

func (mv *MapView[K, V]) FirstKey() (K, error) {
	e, err := mv.v.First()
	return e.Key, err
}

func (mv *MapView[K, V]) LastKey() (K, error) {
	e, err := mv.v.Last()
	return e.Key, err
}

func (mv *MapView[K, V]) Len() (int, error) { return mv.v.Len() }

func (mv *MapView[K, V]) Iterator() *merge.Iterator[keys.Entry[K, V]] {
	return mv.v.Iterator()
}

func (mv *MapView[K, V]) All() iter.Seq2[K, V] {
	return entries(mv.v.All())
}

func (mv *MapView[K, V]) sub(r keys.Range[K]) *MapView[K, V] {
	return &MapView[K, V]{v: mv.v.sub(keys.MapRange[K, V](r))}
}

func (mv *MapView[K, V]) SubMap(from, to K) *MapView[K, V] { return mv.sub(keys.Between(from, to)) }
func (mv *MapView[K, V]) HeadMap(to K) *MapView[K, V] { return mv.sub(keys.Before(to)) }
func (mv *MapView[K, V]) TailMap(from K) *MapView[K, V] { return mv.sub(keys.From(from)) }
