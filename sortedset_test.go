package spillmap

import (
	"math/rand/v2"
	"os"
	"slices"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twlk9/spillmap/codec"
	"github.com/twlk9/spillmap/filemap"
	"github.com/twlk9/spillmap/handler"
	"github.com/twlk9/spillmap/keys"
)

func TestSpillAtThreshold(t *testing.T) {
	s := newInt64Set(t, 5, 100)
	putAll(t, s, seq(1, 4)...)
	require.Len(t, s.Runs(), 1)
	assert.False(t, s.Runs()[0].IsPersisted())

	require.NoError(t, s.Put(5))
	require.Len(t, s.Runs(), 1)
	assert.True(t, s.Runs()[0].IsPersisted())
	ok, err := s.Remove(3)
	assert.ErrorIs(t, err, ErrPersisted)
	assert.False(t, ok)

	putAll(t, s, seq(6, 12)...)

	runs := s.Runs()
	require.Len(t, runs, 3)
	assert.True(t, runs[0].IsPersisted())
	assert.True(t, runs[1].IsPersisted())
	assert.False(t, runs[2].IsPersisted())
	assert.Equal(t, 5, runs[0].Len())
	assert.Equal(t, 5, runs[1].Len())
	assert.Equal(t, 2, runs[2].Len())
	assert.Equal(t, 12, s.Len())
	assert.Equal(t, seq(1, 12), elements(t, s))
}

func TestPersistCompactsPastMaxOpenFiles(t *testing.T) {
	s := newInt64Set(t, 1, 7)
	putAll(t, s, seq(1, 8)...)
	require.Len(t, s.Runs(), 8)

	require.NoError(t, s.Persist())
	runs := s.Runs()
	require.Len(t, runs, 3)
	for _, r := range runs {
		assert.True(t, r.IsPersisted())
	}
	assert.Equal(t, 8, s.Len())
	assert.Equal(t, seq(1, 8), elements(t, s))
}

func TestPersistLoadRoundTrip(t *testing.T) {
	s := newInt64Set(t, 10, 100)
	rnd := rand.New(rand.NewPCG(1, 2))
	want := make([]int64, 0, 200)
	for _, v := range rnd.Perm(200) {
		require.NoError(t, s.Put(int64(v)))
		want = append(want, int64(v))
	}
	slices.Sort(want)

	require.NoError(t, s.Persist())
	for _, r := range s.Runs() {
		assert.True(t, r.IsPersisted())
	}
	assert.Equal(t, want, elements(t, s))

	require.NoError(t, s.Load())
	for _, r := range s.Runs() {
		assert.False(t, r.IsPersisted())
	}
	assert.Equal(t, want, elements(t, s))
	assert.Equal(t, 200, s.Len())
}

func TestPersistIsIdempotent(t *testing.T) {
	f := &countingFactory{MemFactory: handler.NewMemFactory(t.Name())}
	s := newInt64Set(t, 4, 100, f)
	putAll(t, s, seq(1, 10)...)

	require.NoError(t, s.Persist())
	created := f.created
	sizes := make([]int64, 0)
	for _, r := range s.Runs() {
		sizes = append(sizes, r.Handler().Size())
	}

	require.NoError(t, s.Persist())
	assert.Equal(t, created, f.created)
	for i, r := range s.Runs() {
		assert.Equal(t, sizes[i], r.Handler().Size())
	}
	assert.Equal(t, seq(1, 10), elements(t, s))
}

func TestPersistDropsEmptyBuffer(t *testing.T) {
	s := newInt64Set(t, 2, 100)
	putAll(t, s, 1, 2, 3)
	_, err := s.Remove(3)
	require.NoError(t, err)
	require.Len(t, s.Runs(), 2)

	require.NoError(t, s.Persist())
	assert.Len(t, s.Runs(), 1)
	assert.Equal(t, []int64{1, 2}, elements(t, s))
}

func TestMutationAfterPersist(t *testing.T) {
	s := newInt64Set(t, 100, 100)
	putAll(t, s, 1, 2, 3)
	require.NoError(t, s.Persist())

	ok, err := s.Remove(2)
	assert.ErrorIs(t, err, ErrPersisted)
	assert.False(t, ok)
	assert.Equal(t, []int64{1, 2, 3}, elements(t, s))

	// A Put after Persist starts a new buffer.
	require.NoError(t, s.Put(4))
	require.Len(t, s.Runs(), 2)
	ok, err = s.Remove(4)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Remove(99)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRemoveIsAllOrNothing(t *testing.T) {
	s := newInt64Set(t, 2, 100)
	putAll(t, s, 1, 2, 1)
	// 1 is held by the persisted first run and by the buffer.
	_, err := s.Remove(1)
	assert.ErrorIs(t, err, ErrPersisted)
	assert.Equal(t, 3, s.Len())
	assert.Equal(t, []int64{1, 1, 2}, elements(t, s))
}

func TestIterationOrderAcrossRuns(t *testing.T) {
	s := newInt64Set(t, 3, 100)
	rnd := rand.New(rand.NewPCG(3, 4))
	for range 100 {
		require.NoError(t, s.Put(int64(rnd.IntN(40))))
	}
	got := elements(t, s)
	assert.True(t, slices.IsSorted(got))
	assert.Equal(t, s.Len(), len(got))

	first, err := s.First()
	require.NoError(t, err)
	last, err := s.Last()
	require.NoError(t, err)
	assert.Equal(t, got[0], first)
	assert.Equal(t, got[len(got)-1], last)
}

func TestContainsAndGet(t *testing.T) {
	s := newInt64Set(t, 2, 100)
	putAll(t, s, 5, 1, 9, 3)

	for _, v := range []int64{1, 3, 5, 9} {
		ok, err := s.Contains(v)
		require.NoError(t, err)
		assert.True(t, ok, "contains %d", v)
		got, ok, err := s.Get(v)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, v, got)
	}
	ok, err := s.Contains(4)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEmptySet(t *testing.T) {
	s := newInt64Set(t, 2, 100)
	assert.True(t, s.IsEmpty())
	assert.Equal(t, 0, s.Len())
	_, err := s.First()
	assert.ErrorIs(t, err, ErrNoSuchElement)
	_, err = s.Last()
	assert.ErrorIs(t, err, ErrNoSuchElement)
	assert.Empty(t, elements(t, s))
	require.NoError(t, s.Persist())
	assert.Empty(t, s.Runs())
}

func TestIteratorRemove(t *testing.T) {
	s := newInt64Set(t, 4, 100)
	putAll(t, s, seq(1, 6)...)

	it := s.Iterator()
	for it.HasNext() {
		v, err := it.Next()
		require.NoError(t, err)
		err = it.Remove()
		if v <= 4 {
			assert.ErrorIs(t, err, ErrPersisted, "element %d", v)
		} else {
			assert.NoError(t, err, "element %d", v)
		}
	}
	require.NoError(t, it.Close())
	assert.Equal(t, seq(1, 4), elements(t, s))
}

func TestIteratorRemoveDuplicates(t *testing.T) {
	s := newInt64Set(t, 2, 100)
	putAll(t, s, 1, 2, 2, 3)
	require.NoError(t, s.Persist())
	require.NoError(t, s.Load())
	require.Len(t, s.Runs(), 2)
	assert.Equal(t, []int64{1, 2, 2, 3}, elements(t, s))

	// Removing one copy leaves the other run alone.
	it := s.Iterator()
	for it.HasNext() {
		v, err := it.Next()
		require.NoError(t, err)
		if v == 2 {
			require.NoError(t, it.Remove())
			break
		}
	}
	require.NoError(t, it.Close())
	assert.Equal(t, []int64{1, 2, 3}, elements(t, s))
	assert.Equal(t, 3, s.Len())

	it = s.Iterator()
	var seen []int64
	for it.HasNext() {
		v, err := it.Next()
		require.NoError(t, err)
		seen = append(seen, v)
		if v == 2 {
			require.NoError(t, it.Remove())
			assert.ErrorIs(t, it.Remove(), ErrNoSuchElement)
		}
	}
	require.NoError(t, it.Close())
	assert.Equal(t, []int64{1, 2, 3}, seen)
	assert.Equal(t, []int64{1, 3}, elements(t, s))
}

func TestIteratorSurvivesSpill(t *testing.T) {
	s := newInt64Set(t, 4, 100)
	putAll(t, s, 10, 20, 30)

	it := s.Iterator()
	v, err := it.Next()
	require.NoError(t, err)
	assert.Equal(t, int64(10), v)

	// Fills the buffer, which is spilled under the iterator.
	require.NoError(t, s.Put(40))
	require.True(t, s.Runs()[0].IsPersisted())

	got := []int64{v}
	for it.HasNext() {
		v, err := it.Next()
		require.NoError(t, err)
		got = append(got, v)
	}
	require.NoError(t, it.Err())
	require.NoError(t, it.Close())
	assert.Equal(t, []int64{10, 20, 30, 40}, got)

	// Elements of the spilled run can no longer be removed through it.
	it = s.Iterator()
	_, err = it.Next()
	require.NoError(t, err)
	assert.ErrorIs(t, it.Remove(), ErrPersisted)
	require.NoError(t, it.Close())
}

func TestFailedSpillUndoesPut(t *testing.T) {
	f := &toggleFactory{MemFactory: handler.NewMemFactory(t.Name())}
	f.fail = true
	s := newInt64Set(t, 3, 100, f)
	putAll(t, s, 1, 2)

	err := s.Put(3)
	require.ErrorIs(t, err, ErrRetriesExhausted)
	require.Len(t, s.Runs(), 1)
	assert.False(t, s.Runs()[0].IsPersisted())
	assert.Equal(t, []int64{1, 2}, elements(t, s))

	f.fail = false
	require.NoError(t, s.Put(3))
	require.Len(t, s.Runs(), 1)
	assert.True(t, s.Runs()[0].IsPersisted())
	assert.Equal(t, []int64{1, 2, 3}, elements(t, s))
}

func TestBoundedView(t *testing.T) {
	s := newInt64Set(t, 3, 100)
	putAll(t, s, 1, 3, 5, 7, 9)

	v := s.SubSet(3, 8)
	assert.ErrorIs(t, v.Put(8), ErrOutOfRange)
	assert.ErrorIs(t, v.Put(2), ErrOutOfRange)
	require.NoError(t, v.Put(4))

	got, err := v.Iterator().Collect()
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 4, 5, 7}, got)
	n, err := v.Len()
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	first, err := v.First()
	require.NoError(t, err)
	assert.Equal(t, int64(3), first)
	last, err := v.Last()
	require.NoError(t, err)
	assert.Equal(t, int64(7), last)

	nested := v.HeadSet(5)
	got, err = nested.Iterator().Collect()
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 4}, got)
	assert.ErrorIs(t, nested.Put(6), ErrOutOfRange)

	ok, err := v.Contains(9)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = s.TailSet(9).Contains(9)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestViewPutSpills(t *testing.T) {
	s := newInt64Set(t, 2, 100)
	v := s.TailSet(0)
	for _, e := range seq(1, 5) {
		require.NoError(t, v.Put(e))
	}
	assert.Len(t, s.Runs(), 3)
	assert.Equal(t, seq(1, 5), elements(t, s))
}

func TestCloseReleasesResources(t *testing.T) {
	dir := t.TempDir()
	opts := NewSetOptions(codec.String(), &handler.DirFactory{Dir: dir, Prefix: "words-"})
	opts.BufferPersistThreshold = 3
	opts.Logger = quietLogger()
	s, err := New(opts)
	require.NoError(t, err)

	words := []string{"pear", "apple", "fig", "kiwi", "plum", "date", "lime"}
	for _, w := range words {
		require.NoError(t, s.Put(w))
	}
	require.NoError(t, s.Persist())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, len(s.Runs()))

	sorted := slices.Clone(words)
	slices.Sort(sorted)
	got, err := s.Iterator().Collect()
	require.NoError(t, err)
	assert.Equal(t, sorted, got)

	require.NoError(t, s.Close())
	entries, err = os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	assert.ErrorIs(t, s.Put("x"), ErrClosed)
	_, err = s.Contains("x")
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, s.Close())
}

func TestByteSetOptions(t *testing.T) {
	opts := NewByteSetOptions(handler.NewMemFactory(t.Name()))
	opts.BufferPersistThreshold = 2
	opts.Logger = quietLogger()
	s, err := New(opts)
	require.NoError(t, err)
	defer s.Close()

	for _, k := range []string{"delta", "alpha", "charlie", "bravo", "echo"} {
		require.NoError(t, s.Put([]byte(k)))
	}
	var got []string
	for e := range s.All() {
		got = append(got, string(e))
	}
	assert.Equal(t, []string{"alpha", "bravo", "charlie", "delta", "echo"}, got)
}

func TestSkipListStore(t *testing.T) {
	opts := NewSetOptions(codec.Int64(), handler.NewMemFactory(t.Name()))
	opts.BufferPersistThreshold = 4
	opts.NewStore = filemap.NewSkipListStore[int64]
	opts.Logger = quietLogger()
	s, err := New(opts)
	require.NoError(t, err)
	defer s.Close()

	putAll(t, s, 9, 2, 7, 4, 6, 1)
	ok, err := s.Remove(6)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []int64{1, 2, 4, 7, 9}, elements(t, s))
}

func TestIncompatibleComparator(t *testing.T) {
	s := newInt64Set(t, 100, 100)
	putAll(t, s, 1, 2, 3)
	require.NoError(t, s.Persist())
	h := s.Runs()[0].Handler()

	cfg := filemap.SetConfig[int64]{
		Comparator: keys.Reverse(keys.Natural[int64]()),
		Codec:      codec.Int64(),
	}
	_, err := filemap.OpenSet(cfg, h)
	assert.ErrorIs(t, err, ErrIncompatibleRun)
	assert.False(t, IsRetryable(err))
}

func TestCorruptedRun(t *testing.T) {
	s := newInt64Set(t, 100, 100)
	putAll(t, s, seq(1, 50)...)
	require.NoError(t, s.Persist())

	mh, ok := s.Runs()[0].Handler().(*handler.MemHandler)
	require.True(t, ok)
	data := mh.Bytes()
	data[len(data)/2] ^= 0xff

	_, err := s.Iterator().Collect()
	assert.ErrorIs(t, err, ErrCorruption)
	assert.False(t, IsRetryable(err))
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, "test")

	opts := NewSetOptions(codec.Int64(), handler.NewMemFactory(t.Name()))
	opts.BufferPersistThreshold = 2
	opts.MaxOpenFiles = 2
	opts.Logger = quietLogger()
	opts.Metrics = m
	s, err := New(opts)
	require.NoError(t, err)
	defer s.Close()

	putAll(t, s, seq(1, 5)...)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Spills))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Runs))

	require.NoError(t, s.Persist())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Persists))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Compactions))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.RunsMerged))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Runs))
	// 4 spilled, 1 persisted, 5 rewritten by the compaction
	assert.Equal(t, 10.0, testutil.ToFloat64(m.ElementsWritten))

	require.NoError(t, s.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Loads))

	n, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Equal(t, 9, n)
}

func TestAllStopsEarly(t *testing.T) {
	s := newInt64Set(t, 3, 100)
	putAll(t, s, seq(1, 10)...)
	var got []int64
	for v := range s.All() {
		got = append(got, v)
		if len(got) == 4 {
			break
		}
	}
	assert.Equal(t, seq(1, 4), got)
	require.NoError(t, s.Put(11))
	assert.Equal(t, seq(1, 11), elements(t, s))
}
