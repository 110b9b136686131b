package spillmap

import (
	"fmt"
	"iter"

	"github.com/twlk9/spillmap/filemap"
	"github.com/twlk9/spillmap/keys"
	"github.com/twlk9/spillmap/merge"
)

// SortedMap is a sorted map backed by a buffer and persisted runs. It is a
// SortedSet of entries ordered by key alone, so everything said about
// SortedSet applies: a key may be held by several runs until they are
// compacted, and Get resolves the copies with the map's Rewrite.
type SortedMap[K, V any] struct {
	set *SortedSet[keys.Entry[K, V]]
	cmp keys.Comparator[K]
}

// NewMap validates opts and creates an empty map.
func NewMap[K, V any](opts *MapOptions[K, V]) (*SortedMap[K, V], error) {
	if opts == nil {
		return nil, fmt.Errorf("%w: options are required", ErrConfiguration)
	}
	s, err := New(opts.EntryOptions())
	if err != nil {
		return nil, err
	}
	return &SortedMap[K, V]{set: s, cmp: opts.Comparator}, nil
}

// Comparator returns the key order.
func (m *SortedMap[K, V]) Comparator() keys.Comparator[K] { return m.cmp }

// Entries exposes the backing entry set.
func (m *SortedMap[K, V]) Entries() *SortedSet[keys.Entry[K, V]] { return m.set }

// Runs returns the current runs, oldest first, as maps.
func (m *SortedMap[K, V]) Runs() []*filemap.Map[K, V] {
	runs := m.set.Runs()
	out := make([]*filemap.Map[K, V], len(runs))
	for i, r := range runs {
		out[i] = filemap.MapOf(r, m.cmp)
	}
	return out
}

// Put stores v under k. It may spill the buffer first.
func (m *SortedMap[K, V]) Put(k K, v V) error {
	return m.set.Put(keys.Entry[K, V]{Key: k, Value: v})
}

// Get returns the value stored under k, resolved over all runs.
func (m *SortedMap[K, V]) Get(k K) (V, bool, error) {
	e, ok, err := m.set.Get(keys.Entry[K, V]{Key: k})
	return e.Value, ok, err
}

// Remove deletes k from every run. It fails with ErrPersisted, removing
// nothing, when a persisted run holds k.
func (m *SortedMap[K, V]) Remove(k K) (bool, error) {
	return m.set.Remove(keys.Entry[K, V]{Key: k})
}

func (m *SortedMap[K, V]) ContainsKey(k K) (bool, error) {
	return m.set.Contains(keys.Entry[K, V]{Key: k})
}

func (m *SortedMap[K, V]) FirstKey() (K, error) {
	e, err := m.set.First()
	return e.Key, err
}

func (m *SortedMap[K, V]) LastKey() (K, error) {
	e, err := m.set.Last()
	return e.Key, err
}

// Len counts entries over all runs, duplicate keys included.
func (m *SortedMap[K, V]) Len() int { return m.set.Len() }
func (m *SortedMap[K, V]) IsEmpty() bool { return m.set.IsEmpty() }
func (m *SortedMap[K, V]) Persist() error { return m.set.Persist() }
func (m *SortedMap[K, V]) Load() error { return m.set.Load() }
func (m *SortedMap[K, V]) Compact() error { return m.set.Compact() }
func (m *SortedMap[K, V]) Clear() error { return m.set.Clear() }
func (m *SortedMap[K, V]) Close() error { return m.set.Close() }

// Iterator merges the entries of all runs in key order.
func (m *SortedMap[K, V]) Iterator() *merge.Iterator[keys.Entry[K, V]] {
	return m.set.Iterator()
}

// All iterates keys and values in key order.
func (m *SortedMap[K, V]) All() iter.Seq2[K, V] {
	return pairs(m.set.All())
}

func pairs[K, V any](seq iter.Seq[keys.Entry[K, V]]) iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		for e := range seq {
			if !yield(e.Key, e.Value) {
				return
			}
		}
	}
}

func (m *SortedMap[K, V]) view(r keys.Range[K]) *MapView[K, V] {
	return &MapView[K, V]{v: &SetView[keys.Entry[K, V]]{s: m.set, r: keys.MapRange[K, V](r)}}
}

// SubMap returns a live view of the keys in [from, to).
func (m *SortedMap[K, V]) SubMap(from, to K) *MapView[K, V] { return m.view(keys.Between(from, to)) }

// HeadMap returns a live view of the keys before to.
func (m *SortedMap[K, V]) HeadMap(to K) *MapView[K, V] { return m.view(keys.Before(to)) }

// TailMap returns a live view of the keys at or after from.
func (m *SortedMap[K, V]) TailMap(from K) *MapView[K, V] { return m.view(keys.From(from)) }

// MapView is a bounded window onto a SortedMap.
type MapView[K, V any] struct {
	v *SetView[keys.Entry[K, V]]
}

// Put stores v under k, which must lie inside the view.
func (mv *MapView[K, V]) Put(k K, v V) error {
	return mv.v.Put(keys.Entry[K, V]{Key: k, Value: v})
}

// Get returns the value under k when k lies inside the view.
func (mv *MapView[K, V]) Get(k K) (V, bool, error) {
	var zero V
	probe := keys.Entry[K, V]{Key: k}
	if !mv.v.inRange(probe) {
		return zero, false, nil
	}
	e, ok, err := mv.v.s.Get(probe)
	return e.Value, ok, err
}

func (mv *MapView[K, V]) Remove(k K) (bool, error) {
	return mv.v.Remove(keys.Entry[K, V]{Key: k})
}

func (mv *MapView[K, V]) ContainsKey(k K) (bool, error) {
	return mv.v.Contains(keys.Entry[K, V]{Key: k})
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
	return pairs(mv.v.All())
}

func (mv *MapView[K, V]) sub(r keys.Range[K]) *MapView[K, V] {
	return &MapView[K, V]{v: mv.v.sub(keys.MapRange[K, V](r))}
}

func (mv *MapView[K, V]) SubMap(from, to K) *MapView[K, V] { return mv.sub(keys.Between(from, to)) }
func (mv *MapView[K, V]) HeadMap(to K) *MapView[K, V] { return mv.sub(keys.Before(to)) }
func (mv *MapView[K, V]) TailMap(from K) *MapView[K, V] { return mv.sub(keys.From(from)) }
