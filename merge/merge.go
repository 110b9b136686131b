// Package merge presents several independently sorted sources as one
// sorted stream.
//
// Every source is a Cursor that is pulled one element at a time. The
// merged Iterator keeps one peeked element per source in a min-heap, so
// Next always returns the globally smallest element and only advances the
// source that produced it. Equal elements from different sources are all
// returned, older sources (lower index) first; collapsing them is left to
// Dedup.
package merge

import (
	"container/heap"
	"iter"

	"github.com/hashicorp/go-multierror"

	"github.com/twlk9/spillmap/keys"
)

// Cursor is a forward-only pull source over one sorted run.
type Cursor[E any] interface {
	// Next returns the next element, or false when the source is
	// exhausted or failed.
	Next() (E, bool)

	// Err returns the error that stopped the cursor, if any.
	Err() error

	// Close releases any resource held by the cursor. It is safe to call
	// more than once.
	Close() error

	// Remove deletes e from the cursor's backing run. The cursor must keep
	// working afterwards.
	Remove(e E) error
}

// heapEntry is the peeked head of one source.
type heapEntry[E any] struct {
	head E
	src  int
}

type cursorHeap[E any] struct {
	cmp     keys.Comparator[E]
	entries []heapEntry[E]
}

func (h *cursorHeap[E]) Len() int { return len(h.entries) }

// Less orders by element and falls back to source order, so that among
// equal elements the one from the oldest source surfaces first.
func (h *cursorHeap[E]) Less(i, j int) bool {
	if c := h.cmp.Compare(h.entries[i].head, h.entries[j].head); c != 0 {
		return c < 0
	}
	return h.entries[i].src < h.entries[j].src
}

func (h *cursorHeap[E]) Swap(i, j int) { h.entries[i], h.entries[j] = h.entries[j], h.entries[i] }

func (h *cursorHeap[E]) Push(x any) { h.entries = append(h.entries, x.(heapEntry[E])) }

func (h *cursorHeap[E]) Pop() any {
	old := h.entries
	n := len(old)
	item := old[n-1]
	h.entries = old[:n-1]
	return item
}

// Iterator is the k-way merge of its cursors. It is not safe for
// concurrent use.
type Iterator[E any] struct {
	cursors []Cursor[E]
	h       cursorHeap[E]

	initialized bool
	closed      bool

	// last is the element most recently returned by Next and lastSrc the
	// index of its cursor, or -1 when there is nothing to remove.
	last    E
	lastSrc int

	err error
}

// New merges cursors ordered from oldest to newest.
func New[E any](cmp keys.Comparator[E], cursors ...Cursor[E]) *Iterator[E] {
	return &Iterator[E]{
		cursors: cursors,
		h:       cursorHeap[E]{cmp: cmp, entries: make([]heapEntry[E], 0, len(cursors))},
		lastSrc: -1,
	}
}

// ensureInitialized peeks the first element of every cursor. It runs on
// first use so that creating an iterator never touches storage.
func (it *Iterator[E]) ensureInitialized() {
	if it.initialized {
		return
	}
	it.initialized = true
	for i, c := range it.cursors {
		e, ok := c.Next()
		if !ok {
			if err := c.Err(); err != nil {
				it.err = err
				return
			}
			continue
		}
		it.h.entries = append(it.h.entries, heapEntry[E]{head: e, src: i})
	}
	heap.Init(&it.h)
}

// HasNext reports whether Next will return an element.
func (it *Iterator[E]) HasNext() bool {
	if it.closed {
		return false
	}
	it.ensureInitialized()
	return it.err == nil && it.h.Len() > 0
}

// Next returns the smallest remaining element. On exhaustion it returns
// keys.ErrNoSuchElement; after a source failure it returns that error.
func (it *Iterator[E]) Next() (E, error) {
	var zero E
	if !it.HasNext() {
		if it.err != nil {
			return zero, it.err
		}
		return zero, keys.ErrNoSuchElement
	}
	top := it.h.entries[0]
	it.last, it.lastSrc = top.head, top.src

	c := it.cursors[top.src]
	if e, ok := c.Next(); ok {
		it.h.entries[0].head = e
		heap.Fix(&it.h, 0)
	} else {
		heap.Pop(&it.h)
		if err := c.Err(); err != nil {
			it.err = err
		}
	}
	return top.head, nil
}

// Remove deletes the element last returned by Next from the source that
// produced it. Removing twice without an intervening Next fails with
// keys.ErrNoSuchElement; a persisted source fails with keys.ErrPersisted.
func (it *Iterator[E]) Remove() error {
	if it.lastSrc < 0 {
		return keys.ErrNoSuchElement
	}
	if err := it.cursors[it.lastSrc].Remove(it.last); err != nil {
		return err
	}
	var zero E
	it.last, it.lastSrc = zero, -1
	return nil
}

// Err returns the first source failure.
func (it *Iterator[E]) Err() error {
	return it.err
}

// Close closes every cursor and reports all failures together.
func (it *Iterator[E]) Close() error {
	if it.closed {
		return nil
	}
	it.closed = true
	var result *multierror.Error
	for _, c := range it.cursors {
		if err := c.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	it.h.entries = nil
	return result.ErrorOrNil()
}

// All yields the remaining elements. Check Err afterwards.
func (it *Iterator[E]) All() iter.Seq[E] {
	return func(yield func(E) bool) {
		for it.HasNext() {
			e, err := it.Next()
			if err != nil || !yield(e) {
				return
			}
		}
	}
}

// Collect drains the iterator into a slice and closes it.
func (it *Iterator[E]) Collect() ([]E, error) {
	var out []E
	for e := range it.All() {
		out = append(out, e)
	}
	err := it.Err()
	if cerr := it.Close(); err == nil {
		err = cerr
	}
	return out, err
}

// Dedup collapses runs of comparator-equal elements into one. The first
// element of a run is the existing one; each following candidate replaces
// it when rewrite returns true. A nil rewrite keeps the last element.
func Dedup[E any](src iter.Seq[E], cmp keys.Comparator[E], rewrite func(existing, candidate E) bool) iter.Seq[E] {
	return func(yield func(E) bool) {
		var cur E
		have := false
		for e := range src {
			if have && cmp.Compare(cur, e) == 0 {
				if rewrite == nil || rewrite(cur, e) {
					cur = e
				}
				continue
			}
			if have && !yield(cur) {
				return
			}
			cur, have = e, true
		}
		if have {
			yield(cur)
		}
	}
}
