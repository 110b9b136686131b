package keys

// Range represents iteration bounds.
// Start is inclusive, Limit is exclusive. A bound only applies when its
// Has flag is set, so the zero Range is unbounded.
type Range[E any] struct {
	Start    E
	Limit    E
	HasStart bool
	HasLimit bool
}

// All returns an unbounded range.
func All[E any]() Range[E] {
	return Range[E]{}
}

// Between returns [start, limit).
func Between[E any](start, limit E) Range[E] {
	return Range[E]{Start: start, Limit: limit, HasStart: true, HasLimit: true}
}

// From returns [start, +inf).
func From[E any](start E) Range[E] {
	return Range[E]{Start: start, HasStart: true}
}

// Before returns (-inf, limit).
func Before[E any](limit E) Range[E] {
	return Range[E]{Limit: limit, HasLimit: true}
}

// BeforeStart reports whether e sorts before the inclusive lower bound.
func (r Range[E]) BeforeStart(c Comparator[E], e E) bool {
	return r.HasStart && c.Compare(e, r.Start) < 0
}

// PastLimit reports whether e sorts at or after the exclusive upper bound.
func (r Range[E]) PastLimit(c Comparator[E], e E) bool {
	return r.HasLimit && c.Compare(e, r.Limit) >= 0
}

// Contains reports whether e lies inside the range.
func (r Range[E]) Contains(c Comparator[E], e E) bool {
	return !r.BeforeStart(c, e) && !r.PastLimit(c, e)
}

// Empty reports whether no element can satisfy the range.
func (r Range[E]) Empty(c Comparator[E]) bool {
	return r.HasStart && r.HasLimit && c.Compare(r.Start, r.Limit) >= 0
}

// Intersect narrows r by o. Views created from views use it so a nested
// view can never reach outside its parent.
func (r Range[E]) Intersect(c Comparator[E], o Range[E]) Range[E] {
	out := r
	if o.HasStart && (!out.HasStart || c.Compare(o.Start, out.Start) > 0) {
		out.Start, out.HasStart = o.Start, true
	}
	if o.HasLimit && (!out.HasLimit || c.Compare(o.Limit, out.Limit) < 0) {
		out.Limit, out.HasLimit = o.Limit, true
	}
	return out
}

// MapRange converts a key range into an entry range for comparators made
// with EntryComparator.
func MapRange[K, V any](r Range[K]) Range[Entry[K, V]] {
	return Range[Entry[K, V]]{
		Start:    Entry[K, V]{Key: r.Start},
		Limit:    Entry[K, V]{Key: r.Limit},
		HasStart: r.HasStart,
		HasLimit: r.HasLimit,
	}
}
