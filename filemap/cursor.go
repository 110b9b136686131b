package filemap

import (
	"fmt"
	"io"

	"github.com/twlk9/spillmap/keys"
	"github.com/twlk9/spillmap/merge"
	"github.com/twlk9/spillmap/runfile"
)

// fileCursor streams a persisted run. The resource is opened on the first
// pull and closed on exhaustion, on error or by Close, whichever comes
// first.
type fileCursor[E any] struct {
	s  *Set[E]
	r  keys.Range[E]
	rc io.ReadCloser
	rd *runfile.Reader

	opened bool
	done   bool
	err    error
}

func (c *fileCursor[E]) open() error {
	c.opened = true
	rc, err := c.s.h.Open()
	if err != nil {
		return err
	}
	meta := c.s.cfg.Meta()
	rd, err := runfile.NewReader(rc, &meta)
	if err != nil {
		rc.Close()
		return fmt.Errorf("open run %s: %w", c.s.h.Name(), err)
	}
	c.rc, c.rd = rc, rd
	return nil
}

func (c *fileCursor[E]) fail(err error) {
	c.err = err
	c.Close()
}

func (c *fileCursor[E]) Next() (E, bool) {
	var zero E
	if c.done {
		return zero, false
	}
	if !c.opened {
		if err := c.open(); err != nil {
			c.fail(err)
			return zero, false
		}
	}
	cmp := c.s.cfg.Comparator
	for {
		rec, ok := c.rd.Next()
		if !ok {
			if err := c.rd.Err(); err != nil {
				c.fail(fmt.Errorf("read run %s: %w", c.s.h.Name(), err))
			} else {
				c.Close()
			}
			return zero, false
		}
		e, err := c.s.cfg.Codec.Decode(rec)
		if err != nil {
			c.fail(fmt.Errorf("%w: decode element of run %s: %w", keys.ErrCorruption, c.s.h.Name(), err))
			return zero, false
		}
		if c.r.BeforeStart(cmp, e) {
			continue
		}
		if c.r.PastLimit(cmp, e) {
			c.Close()
			return zero, false
		}
		return e, true
	}
}

func (c *fileCursor[E]) Err() error { return c.err }

func (c *fileCursor[E]) Close() error {
	c.done = true
	if c.rc == nil {
		return nil
	}
	rc := c.rc
	c.rc, c.rd = nil, nil
	return rc.Close()
}

func (c *fileCursor[E]) Remove(E) error {
	return keys.ErrPersisted
}

// liveCursor walks an unpersisted set in memory. Once the set has been
// persisted it switches to the resource and skips what it already
// returned.
type liveCursor[E any] struct {
	s    *Set[E]
	r    keys.Range[E]
	mem  *merge.SeekCursor[E]
	file *fileCursor[E]

	pos     E
	started bool
	done    bool
}

func (c *liveCursor[E]) Next() (E, bool) {
	var zero E
	if c.done {
		return zero, false
	}
	if c.file == nil && !c.s.IsPersisted() {
		e, ok := c.mem.Next()
		if !ok {
			c.done = true
			return zero, false
		}
		c.pos, c.started = e, true
		return e, true
	}
	if c.file == nil {
		c.mem.Close()
		c.file = &fileCursor[E]{s: c.s, r: c.r}
	}
	cmp := c.s.cfg.Comparator
	for {
		e, ok := c.file.Next()
		if !ok {
			c.done = true
			return zero, false
		}
		if c.started && cmp.Compare(e, c.pos) <= 0 {
			continue
		}
		c.pos, c.started = e, true
		return e, true
	}
}

func (c *liveCursor[E]) Err() error {
	if c.file != nil {
		return c.file.Err()
	}
	return nil
}

func (c *liveCursor[E]) Close() error {
	c.done = true
	c.mem.Close()
	if c.file != nil {
		return c.file.Close()
	}
	return nil
}

func (c *liveCursor[E]) Remove(e E) error {
	if c.file != nil {
		return keys.ErrPersisted
	}
	return c.mem.Remove(e)
}
