package merge

// SeekFunc returns the first element strictly after pos, or the very first
// element when first is set.
type SeekFunc[E any] func(pos E, first bool) (E, bool)

// SeekCursor is a Cursor over a mutable in-memory run. It remembers the
// last element it returned rather than a position inside the run, and
// seeks past it on every pull, so the run may change underneath it.
type SeekCursor[E any] struct {
	seek    SeekFunc[E]
	remove  func(E) error
	pos     E
	started bool
	done    bool
}

// NewSeekCursor builds a cursor from a seek function and the run's remove.
func NewSeekCursor[E any](seek SeekFunc[E], remove func(E) error) *SeekCursor[E] {
	return &SeekCursor[E]{seek: seek, remove: remove}
}

func (c *SeekCursor[E]) Next() (E, bool) {
	var zero E
	if c.done {
		return zero, false
	}
	e, ok := c.seek(c.pos, !c.started)
	if !ok {
		c.done = true
		return zero, false
	}
	c.pos, c.started = e, true
	return e, true
}

func (c *SeekCursor[E]) Err() error { return nil }

func (c *SeekCursor[E]) Close() error {
	c.done = true
	return nil
}

func (c *SeekCursor[E]) Remove(e E) error {
	return c.remove(e)
}
