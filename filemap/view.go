package filemap

import (
	"iter"

	"github.com/twlk9/spillmap/keys"
	"github.com/twlk9/spillmap/merge"
)

// SetView is a bounded, live window onto a Set. It works in both states;
// on a persisted set every read streams the resource.
type SetView[E any] struct {
	s *Set[E]
	r keys.Range[E]
}

// Range returns the bounds of the view.
func (v *SetView[E]) Range() keys.Range[E] { return v.r }

// Put adds e, which must lie inside the view.
func (v *SetView[E]) Put(e E) error {
	if !v.r.Contains(v.s.cfg.Comparator, e) {
		return keys.ErrOutOfRange
	}
	return v.s.Put(e)
}

// Remove deletes e when it lies inside the view.
func (v *SetView[E]) Remove(e E) (bool, error) {
	if !v.r.Contains(v.s.cfg.Comparator, e) {
		return false, nil
	}
	return v.s.Remove(e)
}

// Contains reports whether e lies inside the view and is present.
func (v *SetView[E]) Contains(e E) (bool, error) {
	if !v.r.Contains(v.s.cfg.Comparator, e) {
		return false, nil
	}
	return v.s.Contains(e)
}

// Iterator iterates the view in order.
func (v *SetView[E]) Iterator() *merge.Iterator[E] {
	return merge.New(v.s.cfg.Comparator, v.s.Cursor(v.r))
}

// All iterates the view; errors end the iteration.
func (v *SetView[E]) All() iter.Seq[E] {
	return func(yield func(E) bool) {
		it := v.Iterator()
		defer it.Close()
		for e := range it.All() {
			if !yield(e) {
				return
			}
		}
	}
}

// Len counts the elements inside the view.
func (v *SetView[E]) Len() (int, error) {
	it := v.Iterator()
	defer it.Close()
	n := 0
	for range it.All() {
		n++
	}
	return n, it.Err()
}

// First returns the smallest element inside the view.
func (v *SetView[E]) First() (E, error) {
	var zero E
	c := v.s.Cursor(v.r)
	defer c.Close()
	if e, ok := c.Next(); ok {
		return e, nil
	}
	if err := c.Err(); err != nil {
		return zero, err
	}
	return zero, keys.ErrNoSuchElement
}

// Last returns the largest element inside the view.
func (v *SetView[E]) Last() (E, error) {
	var zero E
	if st, ok := v.s.st.(unpersisted[E]); ok {
		var e E
		if v.r.HasLimit {
			e, ok = st.store.Lower(v.r.Limit, false)
		} else {
			e, ok = st.store.Max()
		}
		if !ok || v.r.BeforeStart(v.s.cfg.Comparator, e) {
			return zero, keys.ErrNoSuchElement
		}
		return e, nil
	}
	c := v.s.Cursor(v.r)
	defer c.Close()
	last, found := zero, false
	for e, ok := c.Next(); ok; e, ok = c.Next() {
		last, found = e, true
	}
	if err := c.Err(); err != nil {
		return zero, err
	}
	if !found {
		return zero, keys.ErrNoSuchElement
	}
	return last, nil
}

func (v *SetView[E]) sub(r keys.Range[E]) *SetView[E] {
	return &SetView[E]{s: v.s, r: v.r.Intersect(v.s.cfg.Comparator, r)}
}

// SubSet narrows the view to [from, to).
func (v *SetView[E]) SubSet(from, to E) *SetView[E] { return v.sub(keys.Between(from, to)) }

// HeadSet narrows the view to the elements before to.
func (v *SetView[E]) HeadSet(to E) *SetView[E] { return v.sub(keys.Before(to)) }

// TailSet narrows the view to the elements at or after from.
func (v *SetView[E]) TailSet(from E) *SetView[E] { return v.sub(keys.From(from)) }
