// Package filemap implements a single persistable sorted run.
//
// A Set is either unpersisted, holding its elements in an in-memory Store
// where they can be changed, or persisted, with its elements written in
// sorted order to the resource of its handler.Handler and read back by
// streaming. Mutations on a persisted set fail with keys.ErrPersisted.
// Map is the key/value form, a Set of entries ordered by key.
package filemap

import (
	"fmt"
	"iter"
	"log/slog"

	"github.com/twlk9/spillmap/codec"
	"github.com/twlk9/spillmap/compression"
	"github.com/twlk9/spillmap/handler"
	"github.com/twlk9/spillmap/keys"
	"github.com/twlk9/spillmap/merge"
	"github.com/twlk9/spillmap/runfile"
)

var (
	ErrNilComparator = fmt.Errorf("%w: comparator is required", keys.ErrConfiguration)
	ErrNilCodec      = fmt.Errorf("%w: codec is required", keys.ErrConfiguration)
	ErrNilHandler    = fmt.Errorf("%w: handler is required", keys.ErrConfiguration)

	// ErrUnsorted is returned by WriteSet when its input goes backwards.
	ErrUnsorted = fmt.Errorf("%w: input is not strictly ascending", keys.ErrIllegalState)
)

// SetConfig describes how a Set orders, stores and encodes its elements.
type SetConfig[E any] struct {
	Comparator keys.Comparator[E]
	Codec      codec.Codec[E]

	// Rewrite resolves a Put of an element equal to a stored one. Nil
	// means LastWriteWins.
	Rewrite Rewrite[E]

	// NewStore creates the in-memory structure. Nil means NewBTreeStore.
	NewStore StoreFactory[E]

	Compression compression.Config
	BlockSize   int
	Logger      *slog.Logger
}

func (c *SetConfig[E]) validate() error {
	if c.Comparator == nil {
		return ErrNilComparator
	}
	if c.Codec == nil {
		return ErrNilCodec
	}
	if c.Rewrite == nil {
		c.Rewrite = LastWriteWins[E]
	}
	if c.NewStore == nil {
		c.NewStore = NewBTreeStore[E]
	}
	if c.BlockSize <= 0 {
		c.BlockSize = runfile.DefaultBlockSize
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	return nil
}

// Meta is the header a run written under this config carries.
func (c SetConfig[E]) Meta() runfile.Meta {
	return runfile.Meta{Comparator: c.Comparator.Name(), Codec: c.Codec.Name()}
}

// state is either unpersisted or persisted.
type state[E any] interface {
	isState()
}

type unpersisted[E any] struct {
	store Store[E]
}

// persisted keeps the bounds and count of the run so that First, Last
// and Len never touch the resource.
type persisted[E any] struct {
	count int
	first E
	last  E
}

func (unpersisted[E]) isState() {}
func (persisted[E]) isState() {}

// Set is one sorted run. It is not safe for concurrent use.
type Set[E any] struct {
	cfg SetConfig[E]
	h   handler.Handler
	st  state[E]
}

// NewSet creates an empty unpersisted set bound to h.
func NewSet[E any](cfg SetConfig[E], h handler.Handler) (*Set[E], error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if h == nil {
		return nil, ErrNilHandler
	}
	return &Set[E]{cfg: cfg, h: h, st: unpersisted[E]{store: cfg.NewStore(cfg.Comparator)}}, nil
}

// OpenSet attaches a set to a resource persisted earlier, possibly by
// another process. The run header must match the config's comparator and
// codec, and the whole run is scanned once to verify it.
func OpenSet[E any](cfg SetConfig[E], h handler.Handler) (*Set[E], error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if h == nil {
		return nil, ErrNilHandler
	}
	s := &Set[E]{cfg: cfg, h: h}
	st := persisted[E]{}
	err := s.scan(func(e E) error {
		if st.count > 0 && cfg.Comparator.Compare(st.last, e) >= 0 {
			return fmt.Errorf("%w: run %s is out of order", keys.ErrCorruption, h.Name())
		}
		if st.count == 0 {
			st.first = e
		}
		st.last = e
		st.count++
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.st = st
	return s, nil
}

// scan streams every element of the resource through fn.
func (s *Set[E]) scan(fn func(E) error) error {
	rc, err := s.h.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	meta := s.cfg.Meta()
	rd, err := runfile.NewReader(rc, &meta)
	if err != nil {
		return fmt.Errorf("open run %s: %w", s.h.Name(), err)
	}
	for {
		rec, ok := rd.Next()
		if !ok {
			break
		}
		e, err := s.cfg.Codec.Decode(rec)
		if err != nil {
			return fmt.Errorf("%w: decode element of run %s: %w", keys.ErrCorruption, s.h.Name(), err)
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	if err := rd.Err(); err != nil {
		return fmt.Errorf("read run %s: %w", s.h.Name(), err)
	}
	return nil
}

// Put adds e. An element already stored that compares equal is replaced
// when the rewrite strategy says so.
func (s *Set[E]) Put(e E) error {
	switch st := s.st.(type) {
	case unpersisted[E]:
		st.store.Insert(e, s.cfg.Rewrite)
		return nil
	case persisted[E]:
		return keys.ErrPersisted
	}
	panic("unreachable")
}

// Remove deletes the element equal to e and reports whether it existed.
func (s *Set[E]) Remove(e E) (bool, error) {
	switch st := s.st.(type) {
	case unpersisted[E]:
		_, ok := st.store.Delete(e)
		return ok, nil
	case persisted[E]:
		return false, keys.ErrPersisted
	}
	panic("unreachable")
}

// Get returns the stored element equal to e.
func (s *Set[E]) Get(e E) (E, bool, error) {
	var zero E
	switch st := s.st.(type) {
	case unpersisted[E]:
		v, ok := st.store.Get(e)
		return v, ok, nil
	case persisted[E]:
		if st.count == 0 || s.cfg.Comparator.Compare(e, st.first) < 0 || s.cfg.Comparator.Compare(e, st.last) > 0 {
			return zero, false, nil
		}
		c := s.Cursor(keys.From(e))
		defer c.Close()
		v, ok := c.Next()
		if !ok {
			return zero, false, c.Err()
		}
		if s.cfg.Comparator.Compare(v, e) != 0 {
			return zero, false, nil
		}
		return v, true, nil
	}
	panic("unreachable")
}

// Contains reports whether an element equal to e is present. A persisted
// set streams its resource up to e.
func (s *Set[E]) Contains(e E) (bool, error) {
	_, ok, err := s.Get(e)
	return ok, err
}

// Len returns the number of elements.
func (s *Set[E]) Len() int {
	switch st := s.st.(type) {
	case unpersisted[E]:
		return st.store.Len()
	case persisted[E]:
		return st.count
	}
	panic("unreachable")
}

// IsEmpty reports whether the set holds no elements.
func (s *Set[E]) IsEmpty() bool {
	return s.Len() == 0
}

// IsPersisted reports whether the set lives in its resource.
func (s *Set[E]) IsPersisted() bool {
	_, ok := s.st.(persisted[E])
	return ok
}

// Handler returns the resource binding.
func (s *Set[E]) Handler() handler.Handler {
	return s.h
}

// Comparator returns the order of the set.
func (s *Set[E]) Comparator() keys.Comparator[E] {
	return s.cfg.Comparator
}

// Config returns the effective configuration.
func (s *Set[E]) Config() SetConfig[E] {
	return s.cfg
}

// Rebind moves an unpersisted set to another resource, e.g. after the
// previous one failed. The old resource is not touched.
func (s *Set[E]) Rebind(h handler.Handler) error {
	if h == nil {
		return ErrNilHandler
	}
	if s.IsPersisted() {
		return keys.ErrPersisted
	}
	s.h = h
	return nil
}

// First returns the smallest element.
func (s *Set[E]) First() (E, error) {
	var zero E
	switch st := s.st.(type) {
	case unpersisted[E]:
		if e, ok := st.store.Min(); ok {
			return e, nil
		}
	case persisted[E]:
		if st.count > 0 {
			return st.first, nil
		}
	}
	return zero, keys.ErrNoSuchElement
}

// Last returns the largest element.
func (s *Set[E]) Last() (E, error) {
	var zero E
	switch st := s.st.(type) {
	case unpersisted[E]:
		if e, ok := st.store.Max(); ok {
			return e, nil
		}
	case persisted[E]:
		if st.count > 0 {
			return st.last, nil
		}
	}
	return zero, keys.ErrNoSuchElement
}

// Persist writes the set to its resource in one sorted pass and drops the
// in-memory copy. On failure the set stays unpersisted and unchanged; the
// partial resource is truncated by the next attempt. Persisting a
// persisted set does nothing.
func (s *Set[E]) Persist() error {
	st, ok := s.st.(unpersisted[E])
	if !ok {
		return nil
	}
	p, err := s.write(func(yield func(E) bool) {
		st.store.Ascend(yield)
	}, nil)
	if err != nil {
		return err
	}
	st.store.Clear()
	s.st = p
	return nil
}

// write streams src into the resource and returns the resulting persisted
// state. A non-nil *srcErr after src is drained aborts the write.
func (s *Set[E]) write(src iter.Seq[E], srcErr *error) (persisted[E], error) {
	p := persisted[E]{}
	w, err := s.h.Create()
	if err != nil {
		return p, err
	}
	rw, err := runfile.NewWriter(w, s.cfg.Meta(), runfile.WriterOptions{
		Compression: s.cfg.Compression,
		BlockSize:   s.cfg.BlockSize,
		Logger:      s.cfg.Logger,
		Name:        s.h.Name(),
	})
	if err != nil {
		w.Close()
		return p, err
	}

	var buf []byte
	for e := range src {
		if p.count > 0 && s.cfg.Comparator.Compare(p.last, e) >= 0 {
			err = ErrUnsorted
			break
		}
		buf, err = s.cfg.Codec.Append(buf[:0], e)
		if err != nil {
			err = fmt.Errorf("encode element: %w", err)
			break
		}
		if err = rw.Add(buf); err != nil {
			break
		}
		if p.count == 0 {
			p.first = e
		}
		p.last = e
		p.count++
	}
	if err == nil && srcErr != nil && *srcErr != nil {
		err = *srcErr
	}
	if err == nil {
		err = rw.Finish()
	}
	if cerr := w.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("%w: close run %s: %w", keys.ErrIO, s.h.Name(), cerr)
	}
	if err != nil {
		s.cfg.Logger.Error("Failed to persist run", "error", err, "run", s.h.Name(), "written", p.count)
		return persisted[E]{}, fmt.Errorf("persist run %s: %w", s.h.Name(), err)
	}
	s.cfg.Logger.Debug("Persisted run", "run", s.h.Name(), "elements", p.count, "bytes", rw.Size())
	return p, nil
}

// WriteSet streams an ascending sequence straight into a new persisted set
// without building it in memory. srcErr, when non-nil, is consulted after
// src ends so that a failing source aborts the write.
func WriteSet[E any](cfg SetConfig[E], h handler.Handler, src iter.Seq[E], srcErr func() error) (*Set[E], error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if h == nil {
		return nil, ErrNilHandler
	}
	s := &Set[E]{cfg: cfg, h: h}
	var serr error
	wrapped := func(yield func(E) bool) {
		for e := range src {
			if !yield(e) {
				return
			}
		}
		if srcErr != nil {
			serr = srcErr()
		}
	}
	p, err := s.write(wrapped, &serr)
	if err != nil {
		return nil, err
	}
	s.st = p
	return s, nil
}

// Load reads a persisted set back into memory. The resource is kept. On
// failure the set stays persisted.
func (s *Set[E]) Load() error {
	if !s.IsPersisted() {
		return nil
	}
	store := s.cfg.NewStore(s.cfg.Comparator)
	err := s.scan(func(e E) error {
		store.Insert(e, nil)
		return nil
	})
	if err != nil {
		s.cfg.Logger.Error("Failed to load run", "error", err, "run", s.h.Name())
		return err
	}
	s.st = unpersisted[E]{store: store}
	s.cfg.Logger.Debug("Loaded run", "run", s.h.Name(), "elements", store.Len())
	return nil
}

// Clear empties the set and makes it mutable again. The resource is left
// alone and gets truncated by the next Persist.
func (s *Set[E]) Clear() {
	if st, ok := s.st.(unpersisted[E]); ok {
		st.store.Clear()
		return
	}
	s.st = unpersisted[E]{store: s.cfg.NewStore(s.cfg.Comparator)}
}

// Delete releases the resource and empties the set.
func (s *Set[E]) Delete() error {
	s.Clear()
	return s.h.Delete()
}

// Cursor returns a merge cursor over the elements inside r. An
// unpersisted set yields a cursor that tolerates mutation and supports
// Remove; if the set is persisted under it, the cursor carries on from the
// resource. A persisted set streams its resource and refuses Remove.
func (s *Set[E]) Cursor(r keys.Range[E]) merge.Cursor[E] {
	if s.IsPersisted() {
		return &fileCursor[E]{s: s, r: r}
	}
	return &liveCursor[E]{
		s: s,
		r: r,
		mem: merge.NewSeekCursor(
			func(pos E, first bool) (E, bool) { return s.seek(r, pos, first) },
			func(e E) error {
				ok, err := s.Remove(e)
				if err == nil && !ok {
					return keys.ErrNoSuchElement
				}
				return err
			},
		),
	}
}

// seek finds the next element inside r for an in-memory cursor.
func (s *Set[E]) seek(r keys.Range[E], pos E, first bool) (E, bool) {
	var zero E
	st, ok := s.st.(unpersisted[E])
	if !ok {
		return zero, false
	}
	var e E
	switch {
	case !first:
		e, ok = st.store.Higher(pos, false)
	case r.HasStart:
		e, ok = st.store.Higher(r.Start, true)
	default:
		e, ok = st.store.Min()
	}
	if !ok || r.PastLimit(s.cfg.Comparator, e) {
		return zero, false
	}
	return e, true
}

// Iterator returns an iterator over the whole set.
func (s *Set[E]) Iterator() *merge.Iterator[E] {
	return merge.New(s.cfg.Comparator, s.Cursor(keys.All[E]()))
}

// All iterates the whole set. Errors end the iteration silently; use
// Iterator when they matter.
func (s *Set[E]) All() iter.Seq[E] {
	return func(yield func(E) bool) {
		it := s.Iterator()
		defer it.Close()
		for e := range it.All() {
			if !yield(e) {
				return
			}
		}
	}
}

// SubSet returns a view of [from, to).
func (s *Set[E]) SubSet(from, to E) *SetView[E] {
	return &SetView[E]{s: s, r: keys.Between(from, to)}
}

// HeadSet returns a view of the elements before to.
func (s *Set[E]) HeadSet(to E) *SetView[E] {
	return &SetView[E]{s: s, r: keys.Before(to)}
}

// TailSet returns a view of the elements at or after from.
func (s *Set[E]) TailSet(from E) *SetView[E] {
	return &SetView[E]{s: s, r: keys.From(from)}
}

// View returns a view bounded by r.
func (s *Set[E]) View(r keys.Range[E]) *SetView[E] {
	return &SetView[E]{s: s, r: r}
}
