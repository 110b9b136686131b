package merge

import (
	"errors"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twlk9/spillmap/keys"
)

// sliceRun is a mutable sorted run used as a merge source.
type sliceRun struct {
	elems []int
}

func (r *sliceRun) cursor() *SeekCursor[int] {
	return NewSeekCursor(func(pos int, first bool) (int, bool) {
		for _, e := range r.elems {
			if first || e > pos {
				return e, true
			}
		}
		return 0, false
	}, func(e int) error {
		i := slices.Index(r.elems, e)
		if i < 0 {
			return keys.ErrNoSuchElement
		}
		r.elems = slices.Delete(r.elems, i, i+1)
		return nil
	})
}

// frozen is a read-only source, like a persisted run.
type frozen struct {
	elems  []int
	i      int
	err    error
	closed int
}

func (f *frozen) Next() (int, bool) {
	if f.i >= len(f.elems) {
		return 0, false
	}
	f.i++
	return f.elems[f.i-1], true
}
func (f *frozen) Err() error {
	if f.i >= len(f.elems) {
		return f.err
	}
	return nil
}
func (f *frozen) Close() error { f.closed++; return nil }
func (f *frozen) Remove(_ int) error { return keys.ErrPersisted }

func TestMergeOrder(t *testing.T) {
	cmp := keys.Natural[int]()
	it := New[int](cmp,
		&frozen{elems: []int{1, 4, 7}},
		&frozen{elems: []int{2, 5, 8}},
		(&sliceRun{elems: []int{0, 3, 9}}).cursor(),
	)
	got, err := it.Collect()
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 7, 8, 9}, got)
}

func TestMergeKeepsDuplicates(t *testing.T) {
	cmp := keys.Natural[int]()
	a := &frozen{elems: []int{1, 2, 3}}
	b := &frozen{elems: []int{2, 3, 4}}
	got, err := New[int](cmp, a, b).Collect()
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 2, 3, 3, 4}, got)
	assert.Equal(t, 1, a.closed)
	assert.Equal(t, 1, b.closed)
}

func TestMergeTieBreakBySource(t *testing.T) {
	type rec struct{ k, src int }
	cmp := keys.Func("k", func(a, b rec) int { return a.k - b.k })
	src := func(id int, ks ...int) Cursor[rec] {
		r := &sliceCursor[rec]{}
		for _, k := range ks {
			r.elems = append(r.elems, rec{k, id})
		}
		return r
	}
	got, err := New(cmp, src(0, 1, 2), src(1, 1, 2), src(2, 2)).Collect()
	require.NoError(t, err)
	assert.Equal(t, []rec{{1, 0}, {1, 1}, {2, 0}, {2, 1}, {2, 2}}, got)
}

type sliceCursor[E any] struct {
	elems []E
	i     int
}

func (c *sliceCursor[E]) Next() (E, bool) {
	var zero E
	if c.i >= len(c.elems) {
		return zero, false
	}
	c.i++
	return c.elems[c.i-1], true
}
func (c *sliceCursor[E]) Err() error { return nil }
func (c *sliceCursor[E]) Close() error { return nil }
func (c *sliceCursor[E]) Remove(_ E) error { return keys.ErrPersisted }

func TestExhaustion(t *testing.T) {
	it := New[int](keys.Natural[int]())
	assert.False(t, it.HasNext())
	_, err := it.Next()
	require.ErrorIs(t, err, keys.ErrNoSuchElement)
	// Still deterministic on repeat.
	_, err = it.Next()
	require.ErrorIs(t, err, keys.ErrNoSuchElement)
}

func TestNextWithoutHasNext(t *testing.T) {
	it := New[int](keys.Natural[int](), &frozen{elems: []int{5, 6}})
	e, err := it.Next()
	require.NoError(t, err)
	assert.Equal(t, 5, e)
	e, err = it.Next()
	require.NoError(t, err)
	assert.Equal(t, 6, e)
	_, err = it.Next()
	require.ErrorIs(t, err, keys.ErrNoSuchElement)
}

func TestRemoveDelegatesToOwner(t *testing.T) {
	cmp := keys.Natural[int]()
	older := &sliceRun{elems: []int{1, 3, 5}}
	newer := &sliceRun{elems: []int{3, 4}}
	it := New[int](cmp, older.cursor(), newer.cursor())

	require.ErrorIs(t, it.Remove(), keys.ErrNoSuchElement, "remove before next")

	var seen []int
	for it.HasNext() {
		e, err := it.Next()
		require.NoError(t, err)
		seen = append(seen, e)
		if e == 3 {
			require.NoError(t, it.Remove())
			require.ErrorIs(t, it.Remove(), keys.ErrNoSuchElement, "second remove")
		}
	}
	assert.Equal(t, []int{1, 3, 3, 4, 5}, seen)
	// Both copies of 3 were removed, each from its own run.
	assert.Equal(t, []int{1, 5}, older.elems)
	assert.Equal(t, []int{4}, newer.elems)
}

func TestRemoveFromPersistedSource(t *testing.T) {
	it := New[int](keys.Natural[int](), &frozen{elems: []int{1}})
	_, err := it.Next()
	require.NoError(t, err)
	require.ErrorIs(t, it.Remove(), keys.ErrPersisted)
	require.ErrorIs(t, it.Remove(), keys.ErrIllegalState)
}

func TestSourceFailure(t *testing.T) {
	boom := errors.New("boom")
	it := New[int](keys.Natural[int](), &frozen{elems: []int{1, 2}, err: boom}, &frozen{elems: []int{3}})
	got, err := it.Collect()
	require.ErrorIs(t, err, boom)
	assert.Equal(t, []int{1, 2}, got)
}

func TestDedup(t *testing.T) {
	type rec struct {
		k  string
		ts int
	}
	cmp := keys.Func("k", func(a, b rec) int {
		switch {
		case a.k < b.k:
			return -1
		case a.k > b.k:
			return 1
		}
		return 0
	})
	in := []rec{{"a", 5}, {"a", 9}, {"a", 2}, {"b", 1}, {"c", 3}, {"c", 1}}
	seq := slices.Values(in)

	newest := func(existing, candidate rec) bool { return candidate.ts > existing.ts }
	assert.Equal(t, []rec{{"a", 9}, {"b", 1}, {"c", 3}}, slices.Collect(Dedup(seq, cmp, newest)))
	assert.Equal(t, []rec{{"a", 2}, {"b", 1}, {"c", 1}}, slices.Collect(Dedup(seq, cmp, nil)))
}
