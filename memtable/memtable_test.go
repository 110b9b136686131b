package memtable

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twlk9/spillmap/keys"
)

func collect[E any](mt *MemTable[E]) []E {
	var out []E
	mt.Ascend(func(e E) bool {
		out = append(out, e)
		return true
	})
	return out
}

func TestMemTableBasicOperations(t *testing.T) {
	mt := New(keys.Natural[string]())

	_, ok := mt.Get("nonexistent")
	assert.False(t, ok)
	_, ok = mt.Min()
	assert.False(t, ok)
	_, ok = mt.Max()
	assert.False(t, ok)

	assert.True(t, mt.Insert("key2", nil))
	assert.True(t, mt.Insert("key1", nil))
	assert.True(t, mt.Insert("key3", nil))
	assert.False(t, mt.Insert("key2", nil))
	assert.Equal(t, 3, mt.Len())

	got, ok := mt.Get("key1")
	require.True(t, ok)
	assert.Equal(t, "key1", got)
	assert.Equal(t, []string{"key1", "key2", "key3"}, collect(mt))

	min, _ := mt.Min()
	max, _ := mt.Max()
	assert.Equal(t, "key1", min)
	assert.Equal(t, "key3", max)
}

func TestMemTableReplace(t *testing.T) {
	type rec struct{ k, v int }
	mt := New(keys.Func("rec", func(a, b rec) int { return a.k - b.k }))

	mt.Insert(rec{1, 10}, nil)
	mt.Insert(rec{1, 20}, nil)
	got, _ := mt.Get(rec{k: 1})
	assert.Equal(t, 20, got.v)

	keepLarger := func(existing, candidate rec) bool { return candidate.v > existing.v }
	assert.False(t, mt.Insert(rec{1, 5}, keepLarger))
	got, _ = mt.Get(rec{k: 1})
	assert.Equal(t, 20, got.v)
	assert.Equal(t, 1, mt.Len())
}

func TestMemTableNavigation(t *testing.T) {
	mt := New(keys.Natural[int]())
	for _, v := range []int{10, 20, 30} {
		mt.Insert(v, nil)
	}
	tests := []struct {
		name      string
		higher    bool
		pos       int
		inclusive bool
		want      int
		ok        bool
	}{
		{"higher inclusive hit", true, 20, true, 20, true},
		{"higher exclusive hit", true, 20, false, 30, true},
		{"higher between", true, 15, false, 20, true},
		{"higher past end", true, 30, false, 0, false},
		{"higher before start", true, 1, false, 10, true},
		{"lower inclusive hit", false, 20, true, 20, true},
		{"lower exclusive hit", false, 20, false, 10, true},
		{"lower between", false, 25, true, 20, true},
		{"lower before start", false, 10, false, 0, false},
		{"lower past end", false, 99, false, 30, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got int
			var ok bool
			if tt.higher {
				got, ok = mt.Higher(tt.pos, tt.inclusive)
			} else {
				got, ok = mt.Lower(tt.pos, tt.inclusive)
			}
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMemTableDelete(t *testing.T) {
	mt := New(keys.Natural[int]())
	for v := range 10 {
		mt.Insert(v, nil)
	}
	got, ok := mt.Delete(4)
	require.True(t, ok)
	assert.Equal(t, 4, got)
	_, ok = mt.Delete(4)
	assert.False(t, ok)
	_, ok = mt.Get(4)
	assert.False(t, ok)

	next, _ := mt.Higher(3, false)
	assert.Equal(t, 5, next)
	prev, _ := mt.Lower(5, false)
	assert.Equal(t, 3, prev)

	mt.Delete(0)
	mt.Delete(9)
	min, _ := mt.Min()
	max, _ := mt.Max()
	assert.Equal(t, 1, min)
	assert.Equal(t, 8, max)
	assert.Equal(t, []int{1, 2, 3, 5, 6, 7, 8}, collect(mt))
	assert.Equal(t, 7, mt.Len())
}

func TestMemTableCompaction(t *testing.T) {
	mt := New(keys.Natural[int]())
	const n = 4000
	for v := range n {
		mt.Insert(v, nil)
	}
	before := mt.MemoryUsage()
	for v := range n {
		if v%4 != 3 {
			mt.Delete(v)
		}
	}
	assert.Less(t, mt.MemoryUsage(), before)
	assert.Equal(t, n/4, mt.Len())

	got := collect(mt)
	require.Len(t, got, n/4)
	for i, v := range got {
		assert.Equal(t, i*4+3, v)
	}
}

func TestMemTableRandomized(t *testing.T) {
	mt := New(keys.Natural[int]())
	rnd := rand.New(rand.NewPCG(1, 2))
	ref := map[int]bool{}
	for range 20000 {
		v := rnd.IntN(2000)
		if rnd.IntN(3) == 0 {
			_, ok := mt.Delete(v)
			assert.Equal(t, ref[v], ok, "delete %d", v)
			delete(ref, v)
			continue
		}
		grew := mt.Insert(v, nil)
		assert.Equal(t, !ref[v], grew, "insert %d", v)
		ref[v] = true
	}
	want := make([]int, 0, len(ref))
	for v := range ref {
		want = append(want, v)
	}
	slices.Sort(want)
	assert.Equal(t, want, collect(mt))
	assert.Equal(t, len(want), mt.Len())
}

func TestMemTableClear(t *testing.T) {
	mt := New(keys.Natural[string]())
	for i := range 100 {
		mt.Insert(fmt.Sprintf("key-%03d", i), nil)
	}
	mt.Clear()
	assert.Equal(t, 0, mt.Len())
	assert.Empty(t, collect(mt))
	mt.Insert("again", nil)
	assert.Equal(t, []string{"again"}, collect(mt))
}

func BenchmarkMemTableInsert(b *testing.B) {
	mt := New(keys.Natural[int]())
	rnd := rand.New(rand.NewPCG(4, 8))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		mt.Insert(rnd.Int(), nil)
	}
}
