// Package byteset is a sorted set of byte slices kept in one arena.
//
// Elements are copied into a single backing slice and addressed by a
// sorted index of spans, so a buffer of many small keys costs two
// allocations instead of one per element. Removed bytes stay in the arena
// until more than half of it is garbage, then the live elements are
// copied into a fresh arena.
package byteset

import (
	"iter"

	"github.com/twlk9/spillmap/keys"
)

type span struct {
	off int
	n   int
}

// Buffer is a sorted set of byte slices. It is not safe for concurrent
// use. Slices returned by a Buffer are read-only and stay valid after
// later mutations.
type Buffer struct {
	cmp     keys.Comparator[[]byte]
	data    []byte
	spans   []span
	garbage int
}

// New creates an empty buffer ordered by cmp, or bytewise when cmp is nil.
func New(cmp keys.Comparator[[]byte]) *Buffer {
	if cmp == nil {
		cmp = keys.Bytes()
	}
	return &Buffer{cmp: cmp}
}

// Comparator returns the order of the buffer.
func (b *Buffer) Comparator() keys.Comparator[[]byte] {
	return b.cmp
}

func (b *Buffer) at(i int) []byte {
	s := b.spans[i]
	return b.data[s.off : s.off+s.n : s.off+s.n]
}

// search returns the index of the first element >= e and whether it is
// equal to e.
func (b *Buffer) search(e []byte) (int, bool) {
	lo, hi := 0, len(b.spans)
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		if b.cmp.Compare(b.at(mid), e) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo, lo < len(b.spans) && b.cmp.Compare(b.at(lo), e) == 0
}

// upper returns the index of the first element > e.
func (b *Buffer) upper(e []byte) int {
	i, found := b.search(e)
	if found {
		i++
	}
	return i
}

func (b *Buffer) store(e []byte) span {
	s := span{off: len(b.data), n: len(e)}
	b.data = append(b.data, e...)
	return s
}

func (b *Buffer) drop(s span) {
	b.garbage += s.n
	if b.garbage > 4096 && b.garbage*2 > len(b.data) {
		b.compact()
	}
}

// compact copies live elements into a new arena. The old arena is left
// untouched because callers may still hold slices into it.
func (b *Buffer) compact() {
	data := make([]byte, 0, len(b.data)-b.garbage)
	for i, s := range b.spans {
		b.spans[i].off = len(data)
		data = append(data, b.data[s.off:s.off+s.n]...)
	}
	b.data = data
	b.garbage = 0
}

// Add inserts a copy of e. It reports false when an equal element is
// already present, leaving the set unchanged.
func (b *Buffer) Add(e []byte) bool {
	return b.Insert(e, func(_, _ []byte) bool { return false })
}

// Insert adds a copy of e. When an equal element exists, replace decides
// whether e takes its place; a nil replace always replaces. It reports
// whether the set grew.
func (b *Buffer) Insert(e []byte, replace func(existing, candidate []byte) bool) bool {
	i, found := b.search(e)
	if found {
		if replace == nil || replace(b.at(i), e) {
			old := b.spans[i]
			b.spans[i] = b.store(e)
			b.drop(old)
		}
		return false
	}
	s := b.store(e)
	b.spans = append(b.spans, span{})
	copy(b.spans[i+1:], b.spans[i:])
	b.spans[i] = s
	return true
}

// Remove deletes the element equal to e.
func (b *Buffer) Remove(e []byte) bool {
	_, ok := b.Delete(e)
	return ok
}

// Delete removes and returns the element equal to e.
func (b *Buffer) Delete(e []byte) ([]byte, bool) {
	i, found := b.search(e)
	if !found {
		return nil, false
	}
	out := b.at(i)
	s := b.spans[i]
	b.spans = append(b.spans[:i], b.spans[i+1:]...)
	b.drop(s)
	return out, true
}

// Contains reports whether an element equal to e is present.
func (b *Buffer) Contains(e []byte) bool {
	_, found := b.search(e)
	return found
}

// Get returns the stored element equal to e.
func (b *Buffer) Get(e []byte) ([]byte, bool) {
	i, found := b.search(e)
	if !found {
		return nil, false
	}
	return b.at(i), true
}

// At returns the element of rank i. It panics when i is out of range,
// like a slice index.
func (b *Buffer) At(i int) []byte {
	return b.at(i)
}

// Len returns the number of elements.
func (b *Buffer) Len() int {
	return len(b.spans)
}

// First returns the smallest element.
func (b *Buffer) First() ([]byte, error) {
	if len(b.spans) == 0 {
		return nil, keys.ErrNoSuchElement
	}
	return b.at(0), nil
}

// Last returns the largest element.
func (b *Buffer) Last() ([]byte, error) {
	if len(b.spans) == 0 {
		return nil, keys.ErrNoSuchElement
	}
	return b.at(len(b.spans) - 1), nil
}

// Min is First without an error.
func (b *Buffer) Min() ([]byte, bool) {
	e, err := b.First()
	return e, err == nil
}

// Max is Last without an error.
func (b *Buffer) Max() ([]byte, bool) {
	e, err := b.Last()
	return e, err == nil
}

// Higher returns the smallest element after pos, or at pos when
// inclusive.
func (b *Buffer) Higher(pos []byte, inclusive bool) ([]byte, bool) {
	i, found := b.search(pos)
	if found && !inclusive {
		i++
	}
	if i >= len(b.spans) {
		return nil, false
	}
	return b.at(i), true
}

// Lower returns the largest element before pos, or at pos when
// inclusive.
func (b *Buffer) Lower(pos []byte, inclusive bool) ([]byte, bool) {
	i, found := b.search(pos)
	if found && inclusive {
		return b.at(i), true
	}
	if i == 0 {
		return nil, false
	}
	return b.at(i - 1), true
}

// Ascend calls fn on every element in order until fn returns false.
func (b *Buffer) Ascend(fn func([]byte) bool) {
	for i := range b.spans {
		if !fn(b.at(i)) {
			return
		}
	}
}

// All iterates the elements in order.
func (b *Buffer) All() iter.Seq[[]byte] {
	return b.Ascend
}

// Clear removes every element and releases the arena.
func (b *Buffer) Clear() {
	b.data = nil
	b.spans = nil
	b.garbage = 0
}

// SubSet returns a live view of [from, to).
func (b *Buffer) SubSet(from, to []byte) *View {
	return &View{buf: b, r: keys.Between(from, to)}
}

// HeadSet returns a live view of the elements before to.
func (b *Buffer) HeadSet(to []byte) *View {
	return &View{buf: b, r: keys.Before(to)}
}

// TailSet returns a live view of the elements at or after from.
func (b *Buffer) TailSet(from []byte) *View {
	return &View{buf: b, r: keys.From(from)}
}

// View is a bounded window onto a Buffer. Changes made through the view
// are visible in the buffer and the other way around.
type View struct {
	buf *Buffer
	r   keys.Range[[]byte]
}

// Range returns the bounds of the view.
func (v *View) Range() keys.Range[[]byte] {
	return v.r
}

// bounds returns the index interval [lo, hi) covered by the view.
func (v *View) bounds() (int, int) {
	lo, hi := 0, len(v.buf.spans)
	if v.r.HasStart {
		lo, _ = v.buf.search(v.r.Start)
	}
	if v.r.HasLimit {
		hi, _ = v.buf.search(v.r.Limit)
	}
	if hi < lo {
		hi = lo
	}
	return lo, hi
}

// Add inserts e, which must lie inside the view.
func (v *View) Add(e []byte) (bool, error) {
	if !v.r.Contains(v.buf.cmp, e) {
		return false, keys.ErrOutOfRange
	}
	return v.buf.Add(e), nil
}

// Remove deletes e when it lies inside the view.
func (v *View) Remove(e []byte) bool {
	if !v.r.Contains(v.buf.cmp, e) {
		return false
	}
	return v.buf.Remove(e)
}

// Contains reports whether e lies inside the view and is present.
func (v *View) Contains(e []byte) bool {
	return v.r.Contains(v.buf.cmp, e) && v.buf.Contains(e)
}

// Len returns the number of elements inside the view.
func (v *View) Len() int {
	lo, hi := v.bounds()
	return hi - lo
}

// At returns the element of rank i within the view.
func (v *View) At(i int) []byte {
	lo, hi := v.bounds()
	if i < 0 || lo+i >= hi {
		panic("byteset: view index out of range")
	}
	return v.buf.at(lo + i)
}

// First returns the smallest element inside the view.
func (v *View) First() ([]byte, error) {
	lo, hi := v.bounds()
	if lo == hi {
		return nil, keys.ErrNoSuchElement
	}
	return v.buf.at(lo), nil
}

// Last returns the largest element inside the view.
func (v *View) Last() ([]byte, error) {
	lo, hi := v.bounds()
	if lo == hi {
		return nil, keys.ErrNoSuchElement
	}
	return v.buf.at(hi - 1), nil
}

// All iterates the view in order. Elements added or removed during the
// iteration are picked up because the position is re-sought each step.
func (v *View) All() iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		lo, hi := v.bounds()
		if lo == hi {
			return
		}
		e := v.buf.at(lo)
		for {
			if !yield(e) {
				return
			}
			i := v.buf.upper(e)
			if i >= len(v.buf.spans) {
				return
			}
			e = v.buf.at(i)
			if v.r.PastLimit(v.buf.cmp, e) {
				return
			}
		}
	}
}

func (v *View) sub(r keys.Range[[]byte]) *View {
	return &View{buf: v.buf, r: v.r.Intersect(v.buf.cmp, r)}
}

// SubSet narrows the view to [from, to).
func (v *View) SubSet(from, to []byte) *View { return v.sub(keys.Between(from, to)) }

// HeadSet narrows the view to the elements before to.
func (v *View) HeadSet(to []byte) *View { return v.sub(keys.Before(to)) }

// TailSet narrows the view to the elements at or after from.
func (v *View) TailSet(from []byte) *View { return v.sub(keys.From(from)) }
