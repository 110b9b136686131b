// Package spillmap provides sorted sets and maps whose contents may
// exceed memory.
//
// A container keeps one mutable buffer run plus an ordered list of older
// runs. When the buffer reaches BufferPersistThreshold elements it is
// written to a resource obtained from a handler.Factory, and the next Put
// starts a new buffer. Reads merge every run lazily, so nothing is materialized to
// answer them. Persist writes everything out and compacts the runs when
// there are more than MaxOpenFiles of them.
//
// Containers are not safe for concurrent use, and all I/O happens
// synchronously on the calling goroutine.
package spillmap

import (
	"errors"
	"fmt"
	"iter"
	"log/slog"

	"github.com/hashicorp/go-multierror"

	"github.com/twlk9/spillmap/filemap"
	"github.com/twlk9/spillmap/keys"
	"github.com/twlk9/spillmap/merge"
)

// SortedSet is a sorted set backed by a buffer and persisted runs.
//
// Equal elements held by different runs are not collapsed until a
// compaction merges those runs, so Len counts raw elements and iteration
// may return an element once per run holding it.
type SortedSet[E any] struct {
	opts    *Options[E]
	logger  *slog.Logger
	metrics *Metrics

	spillCfg   filemap.SetConfig[E]
	compactCfg filemap.SetConfig[E]

	// runs are ordered oldest first. buffer, when not nil, is the last
	// run.
	runs   []*filemap.Set[E]
	buffer *filemap.Set[E]

	// nextFactory is the round-robin position in HandlerFactories.
	nextFactory int
	closed      bool
}

// New validates opts and creates an empty set. Nothing is written until
// the first spill.
func New[E any](opts *Options[E]) (*SortedSet[E], error) {
	if opts == nil {
		return nil, fmt.Errorf("%w: options are required", ErrConfiguration)
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	o := opts.withDefaults()
	return &SortedSet[E]{
		opts:       o,
		logger:     o.Logger,
		metrics:    o.Metrics,
		spillCfg:   o.runConfig(o.Compression.Spill),
		compactCfg: o.runConfig(o.Compression.Compacted),
	}, nil
}

// Comparator returns the order of the set.
func (s *SortedSet[E]) Comparator() keys.Comparator[E] {
	return s.opts.Comparator
}

// Runs returns the current runs, oldest first. The slice is a copy; the
// runs are live.
func (s *SortedSet[E]) Runs() []*filemap.Set[E] {
	return append([]*filemap.Set[E](nil), s.runs...)
}

// Put adds e to the buffer. A buffer that reaches BufferPersistThreshold
// elements is spilled right away. If the spill fails e is taken out again,
// leaving the set as it was, and the error is returned.
func (s *SortedSet[E]) Put(e E) error {
	if s.closed {
		return ErrClosed
	}
	if s.buffer == nil {
		if err := s.newBuffer(); err != nil {
			return err
		}
	}
	n := s.buffer.Len()
	if err := s.buffer.Put(e); err != nil {
		return err
	}
	if s.buffer.Len() < s.opts.BufferPersistThreshold {
		return nil
	}
	if err := s.spill(); err != nil {
		s.undoPut(e, n)
		return err
	}
	return nil
}

// undoPut takes back a Put that grew the buffer from n elements. A Put
// that replaced an element never fills the buffer, so removing e is
// enough.
func (s *SortedSet[E]) undoPut(e E, n int) {
	if s.buffer.Len() > n {
		if _, err := s.buffer.Remove(e); err != nil {
			s.logger.Error("Failed to undo put", "error", err, "run", s.buffer.Handler().Name())
			return
		}
	}
	if s.buffer.IsEmpty() {
		s.dropRun(s.buffer)
		s.buffer = nil
	}
}

func (s *SortedSet[E]) newBuffer() error {
	h, err := s.acquire()
	if err != nil {
		return err
	}
	buf, err := filemap.NewSet(s.spillCfg, h)
	if err != nil {
		s.discard(h)
		return err
	}
	s.buffer = buf
	s.runs = append(s.runs, buf)
	s.metrics.setRuns(len(s.runs))
	return nil
}

// spill persists the buffer and retires it. The next Put starts a new one.
func (s *SortedSet[E]) spill() error {
	n := s.buffer.Len()
	if err := s.persistRun(s.buffer); err != nil {
		return err
	}
	s.logger.Debug("Spilled buffer", "run", s.buffer.Handler().Name(), "elements", n, "runs", len(s.runs))
	s.metrics.spilled(n)
	s.buffer = nil
	return nil
}

// Remove deletes every copy of e. If any run holding e is persisted
// nothing is removed and ErrPersisted is returned.
func (s *SortedSet[E]) Remove(e E) (bool, error) {
	if s.closed {
		return false, ErrClosed
	}
	var holders []*filemap.Set[E]
	for _, run := range s.runs {
		ok, err := run.Contains(e)
		if err != nil {
			return false, err
		}
		if !ok {
			continue
		}
		if run.IsPersisted() {
			return false, ErrPersisted
		}
		holders = append(holders, run)
	}
	for _, run := range holders {
		if _, err := run.Remove(e); err != nil {
			return false, err
		}
	}
	return len(holders) > 0, nil
}

// Contains reports whether any run holds e. Persisted runs are only read
// when e lies within their bounds, and then only up to e.
func (s *SortedSet[E]) Contains(e E) (bool, error) {
	if s.closed {
		return false, ErrClosed
	}
	for i := len(s.runs) - 1; i >= 0; i-- {
		ok, err := s.runs[i].Contains(e)
		if err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}

// Get returns the element equal to e as a compaction would resolve it:
// copies from newer runs replace older ones when Rewrite agrees.
func (s *SortedSet[E]) Get(e E) (E, bool, error) {
	var cur E
	if s.closed {
		return cur, false, ErrClosed
	}
	found := false
	for _, run := range s.runs {
		v, ok, err := run.Get(e)
		if err != nil {
			return cur, false, err
		}
		if !ok {
			continue
		}
		if !found || s.opts.Rewrite(cur, v) {
			cur = v
		}
		found = true
	}
	return cur, found, nil
}

// First returns the smallest element.
func (s *SortedSet[E]) First() (E, error) {
	return s.bound(func(r *filemap.Set[E]) (E, error) { return r.First() }, -1)
}

// Last returns the largest element.
func (s *SortedSet[E]) Last() (E, error) {
	return s.bound(func(r *filemap.Set[E]) (E, error) { return r.Last() }, 1)
}

// bound folds per-run bounds, keeping the one on the side of sign.
func (s *SortedSet[E]) bound(get func(*filemap.Set[E]) (E, error), sign int) (E, error) {
	var best E
	if s.closed {
		return best, ErrClosed
	}
	found := false
	for _, run := range s.runs {
		e, err := get(run)
		if errors.Is(err, ErrNoSuchElement) {
			continue
		}
		if err != nil {
			return best, err
		}
		if !found || s.opts.Comparator.Compare(e, best)*sign > 0 {
			best, found = e, true
		}
	}
	if !found {
		return best, ErrNoSuchElement
	}
	return best, nil
}

// Len returns the number of elements over all runs, duplicates included.
func (s *SortedSet[E]) Len() int {
	n := 0
	for _, run := range s.runs {
		n += run.Len()
	}
	return n
}

// IsEmpty reports whether no run holds an element.
func (s *SortedSet[E]) IsEmpty() bool {
	for _, run := range s.runs {
		if !run.IsEmpty() {
			return false
		}
	}
	return true
}

// Persist writes every run, the buffer included, to its resource and
// compacts when there are more than MaxOpenFiles runs. An empty buffer is
// dropped instead of written. Calling Persist again does nothing.
func (s *SortedSet[E]) Persist() error {
	if s.closed {
		return ErrClosed
	}
	if s.buffer != nil && s.buffer.IsEmpty() {
		s.dropRun(s.buffer)
		s.buffer = nil
	}
	for _, run := range s.runs {
		if run.IsPersisted() {
			continue
		}
		if err := s.persistRun(run); err != nil {
			return err
		}
		s.logger.Debug("Persisted run", "run", run.Handler().Name(), "elements", run.Len())
		s.metrics.persisted(run.Len())
	}
	s.buffer = nil
	if len(s.runs) > s.opts.MaxOpenFiles {
		return s.Compact()
	}
	return nil
}

// dropRun removes run from the list and releases its resource.
func (s *SortedSet[E]) dropRun(run *filemap.Set[E]) {
	for i, r := range s.runs {
		if r == run {
			s.runs = append(s.runs[:i], s.runs[i+1:]...)
			break
		}
	}
	if err := run.Delete(); err != nil {
		s.logger.Error("Failed to delete run", "error", err, "run", run.Handler().Name())
	}
	s.metrics.setRuns(len(s.runs))
}

// Load reads every persisted run back into memory. Resources are kept.
// Runs loaded before a failure stay loaded.
func (s *SortedSet[E]) Load() error {
	if s.closed {
		return ErrClosed
	}
	for _, run := range s.runs {
		if !run.IsPersisted() {
			continue
		}
		if err := run.Load(); err != nil {
			return err
		}
		s.metrics.loaded()
	}
	return nil
}

// Clear removes every run and deletes their resources.
func (s *SortedSet[E]) Clear() error {
	var result *multierror.Error
	for _, run := range s.runs {
		if err := run.Delete(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	s.runs = nil
	s.buffer = nil
	s.metrics.setRuns(0)
	if err := result.ErrorOrNil(); err != nil {
		s.logger.Error("Failed to delete runs", "error", err)
		return err
	}
	return nil
}

// Close clears the set and makes further use fail with ErrClosed.
func (s *SortedSet[E]) Close() error {
	if s.closed {
		return nil
	}
	err := s.Clear()
	s.closed = true
	return err
}

func (s *SortedSet[E]) cursors(r keys.Range[E]) []merge.Cursor[E] {
	cs := make([]merge.Cursor[E], 0, len(s.runs))
	for _, run := range s.runs {
		cs = append(cs, run.Cursor(r))
	}
	return cs
}

// Iterator merges all runs. Remove on it works for elements of
// unpersisted runs and fails with ErrPersisted otherwise. Close it to
// release the streams of persisted runs.
func (s *SortedSet[E]) Iterator() *merge.Iterator[E] {
	return merge.New(s.opts.Comparator, s.cursors(keys.All[E]())...)
}

// All iterates the merged runs. Errors end the iteration silently; use
// Iterator when they matter.
func (s *SortedSet[E]) All() iter.Seq[E] {
	return all(s.Iterator())
}

func all[E any](it *merge.Iterator[E]) iter.Seq[E] {
	return func(yield func(E) bool) {
		defer it.Close()
		for e := range it.All() {
			if !yield(e) {
				return
			}
		}
	}
}

// SubSet returns a live view of [from, to).
func (s *SortedSet[E]) SubSet(from, to E) *SetView[E] {
	return &SetView[E]{s: s, r: keys.Between(from, to)}
}

// HeadSet returns a live view of the elements before to.
func (s *SortedSet[E]) HeadSet(to E) *SetView[E] {
	return &SetView[E]{s: s, r: keys.Before(to)}
}

// TailSet returns a live view of the elements at or after from.
func (s *SortedSet[E]) TailSet(from E) *SetView[E] {
	return &SetView[E]{s: s, r: keys.From(from)}
}

// SetView is a bounded window onto a SortedSet. Puts go through the
// parent, so they may spill.
type SetView[E any] struct {
	s *SortedSet[E]
	r keys.Range[E]
}

// Range returns the bounds of the view.
func (v *SetView[E]) Range() keys.Range[E] { return v.r }

func (v *SetView[E]) inRange(e E) bool {
	return v.r.Contains(v.s.opts.Comparator, e)
}

// Put adds e, which must lie inside the view.
func (v *SetView[E]) Put(e E) error {
	if !v.inRange(e) {
		return ErrOutOfRange
	}
	return v.s.Put(e)
}

// Remove deletes e when it lies inside the view.
func (v *SetView[E]) Remove(e E) (bool, error) {
	if !v.inRange(e) {
		return false, nil
	}
	return v.s.Remove(e)
}

// Contains reports whether e lies inside the view and is present.
func (v *SetView[E]) Contains(e E) (bool, error) {
	if !v.inRange(e) {
		return false, nil
	}
	return v.s.Contains(e)
}

// Iterator merges the part of every run inside the view.
func (v *SetView[E]) Iterator() *merge.Iterator[E] {
	return merge.New(v.s.opts.Comparator, v.s.cursors(v.r)...)
}

// All iterates the view.
func (v *SetView[E]) All() iter.Seq[E] {
	return all(v.Iterator())
}

// Len counts the elements inside the view, duplicates included.
func (v *SetView[E]) Len() (int, error) {
	n := 0
	for _, run := range v.s.runs {
		m, err := run.View(v.r).Len()
		if err != nil {
			return 0, err
		}
		n += m
	}
	return n, nil
}

// First returns the smallest element inside the view.
func (v *SetView[E]) First() (E, error) {
	return v.s.bound(func(r *filemap.Set[E]) (E, error) { return r.View(v.r).First() }, -1)
}

// Last returns the largest element inside the view.
func (v *SetView[E]) Last() (E, error) {
	return v.s.bound(func(r *filemap.Set[E]) (E, error) { return r.View(v.r).Last() }, 1)
}

func (v *SetView[E]) sub(r keys.Range[E]) *SetView[E] {
	return &SetView[E]{s: v.s, r: v.r.Intersect(v.s.opts.Comparator, r)}
}

// SubSet narrows the view to [from, to).
func (v *SetView[E]) SubSet(from, to E) *SetView[E] { return v.sub(keys.Between(from, to)) }

// HeadSet narrows the view to the elements before to.
func (v *SetView[E]) HeadSet(to E) *SetView[E] { return v.sub(keys.Before(to)) }

// TailSet narrows the view to the elements at or after from.
func (v *SetView[E]) TailSet(from E) *SetView[E] { return v.sub(keys.From(from)) }
