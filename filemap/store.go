package filemap

import (
	"github.com/google/btree"

	"github.com/twlk9/spillmap/keys"
	"github.com/twlk9/spillmap/memtable"
)

// Store is the in-memory ordered structure behind an unpersisted run.
type Store[E any] interface {
	Len() int

	// Insert adds e. When an equal element exists, replace decides whether
	// e takes its place; nil always replaces. Reports whether Len grew.
	Insert(e E, replace func(existing, candidate E) bool) bool

	Delete(e E) (E, bool)
	Get(e E) (E, bool)

	// Higher returns the smallest element after pos (at pos if inclusive).
	Higher(pos E, inclusive bool) (E, bool)
	// Lower returns the largest element before pos (at pos if inclusive).
	Lower(pos E, inclusive bool) (E, bool)

	Min() (E, bool)
	Max() (E, bool)
	Ascend(fn func(E) bool)
	Clear()
}

// StoreFactory creates an empty store for a comparator.
type StoreFactory[E any] func(cmp keys.Comparator[E]) Store[E]

const btreeDegree = 32

// BTreeStore is the default Store, a B-tree from google/btree.
type BTreeStore[E any] struct {
	cmp keys.Comparator[E]
	t   *btree.BTreeG[E]
}

// NewBTreeStore creates an empty B-tree store ordered by cmp.
func NewBTreeStore[E any](cmp keys.Comparator[E]) Store[E] {
	return &BTreeStore[E]{
		cmp: cmp,
		t:   btree.NewG(btreeDegree, func(a, b E) bool { return cmp.Compare(a, b) < 0 }),
	}
}

// NewSkipListStore creates an empty skiplist store ordered by cmp.
func NewSkipListStore[E any](cmp keys.Comparator[E]) Store[E] {
	return memtable.New(cmp)
}

func (s *BTreeStore[E]) Len() int { return s.t.Len() }

func (s *BTreeStore[E]) Insert(e E, replace func(existing, candidate E) bool) bool {
	if existing, ok := s.t.Get(e); ok {
		if replace == nil || replace(existing, e) {
			s.t.ReplaceOrInsert(e)
		}
		return false
	}
	s.t.ReplaceOrInsert(e)
	return true
}

func (s *BTreeStore[E]) Delete(e E) (E, bool) { return s.t.Delete(e) }

func (s *BTreeStore[E]) Get(e E) (E, bool) { return s.t.Get(e) }

func (s *BTreeStore[E]) Higher(pos E, inclusive bool) (E, bool) {
	var out E
	found := false
	s.t.AscendGreaterOrEqual(pos, func(e E) bool {
		if !inclusive && s.cmp.Compare(e, pos) == 0 {
			return true
		}
		out, found = e, true
		return false
	})
	return out, found
}

func (s *BTreeStore[E]) Lower(pos E, inclusive bool) (E, bool) {
	var out E
	found := false
	s.t.DescendLessOrEqual(pos, func(e E) bool {
		if !inclusive && s.cmp.Compare(e, pos) == 0 {
			return true
		}
		out, found = e, true
		return false
	})
	return out, found
}

func (s *BTreeStore[E]) Min() (E, bool) { return s.t.Min() }

func (s *BTreeStore[E]) Max() (E, bool) { return s.t.Max() }

func (s *BTreeStore[E]) Ascend(fn func(E) bool) { s.t.Ascend(fn) }

func (s *BTreeStore[E]) Clear() { s.t.Clear(false) }

// Rewrite decides whether candidate replaces the comparator-equal
// existing element. Within a run, existing is the element already stored;
// during compaction it is the element from the older run.
type Rewrite[E any] func(existing, candidate E) bool

// LastWriteWins always keeps the candidate.
func LastWriteWins[E any](_, _ E) bool { return true }

// MapRewrite is Rewrite for map values with the shared key.
type MapRewrite[K, V any] func(key K, existing, candidate V) bool

// Entries adapts a map rewrite to the entry set backing a Map.
func (r MapRewrite[K, V]) Entries() Rewrite[keys.Entry[K, V]] {
	if r == nil {
		return nil
	}
	return func(existing, candidate keys.Entry[K, V]) bool {
		return r(existing.Key, existing.Value, candidate.Value)
	}
}
