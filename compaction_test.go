package spillmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twlk9/spillmap/codec"
	"github.com/twlk9/spillmap/handler"
)

func int64Codec() codec.Codec[int64] { return codec.Int64() }

func TestCompactionTarget(t *testing.T) {
	tests := []struct {
		maxOpenFiles int
		expected     int
	}{
		{1, 1},
		{2, 1},
		{3, 1},
		{7, 3},
		{100, 50},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, CompactionTarget(tt.maxOpenFiles), "maxOpenFiles %d", tt.maxOpenFiles)
	}
}

func TestPlanCompaction(t *testing.T) {
	tests := []struct {
		name      string
		sizes     []int
		persisted []bool
		target    int
		expected  [][]int
	}{
		{
			name:      "already at target",
			sizes:     []int{5, 5},
			persisted: []bool{true, true},
			target:    2,
			expected:  [][]int{{0}, {1}},
		},
		{
			name:      "equal sizes",
			sizes:     []int{1, 1, 1, 1, 1, 1, 1, 1},
			persisted: []bool{true, true, true, true, true, true, true, true},
			target:    3,
			expected:  [][]int{{0, 1, 2, 3}, {4, 5}, {6, 7}},
		},
		{
			name:      "smallest pair first",
			sizes:     []int{100, 1, 2, 50},
			persisted: []bool{true, true, true, true},
			target:    3,
			expected:  [][]int{{0}, {1, 2}, {3}},
		},
		{
			name:      "down to one",
			sizes:     []int{3, 1, 4},
			persisted: []bool{true, true, true},
			target:    1,
			expected:  [][]int{{0, 1, 2}},
		},
		{
			name:      "unpersisted run stays alone",
			sizes:     []int{1, 1, 1, 1},
			persisted: []bool{true, true, true, false},
			target:    1,
			expected:  [][]int{{0, 1, 2}, {3}},
		},
		{
			name:      "unpersisted run splits groups",
			sizes:     []int{1, 1, 1, 1, 1},
			persisted: []bool{true, true, false, true, true},
			target:    1,
			expected:  [][]int{{0, 1}, {2}, {3, 4}},
		},
		{
			name:      "zero target treated as one",
			sizes:     []int{1, 1},
			persisted: []bool{true, true},
			target:    0,
			expected:  [][]int{{0, 1}},
		},
		{
			name:      "empty",
			sizes:     nil,
			persisted: nil,
			target:    1,
			expected:  [][]int{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, PlanCompaction(tt.sizes, tt.persisted, tt.target))
		})
	}
}

func TestCompactionInvariant(t *testing.T) {
	s := newInt64Set(t, 3, 4)
	for round := range 5 {
		for i := range 10 {
			require.NoError(t, s.Put(int64(i*5+round)))
		}
	}
	before := elements(t, s)
	require.NoError(t, s.Persist())
	assert.LessOrEqual(t, len(s.Runs()), 4)
	assert.Equal(t, before, elements(t, s))

	require.NoError(t, s.Compact())
	assert.LessOrEqual(t, len(s.Runs()), CompactionTarget(4))
	assert.Equal(t, before, elements(t, s))
	assert.Equal(t, 50, s.Len())
}

func TestCompactionKeepsBuffer(t *testing.T) {
	s := newInt64Set(t, 2, 2)
	putAll(t, s, 4, 3, 2, 1, 0)
	require.Len(t, s.Runs(), 3)

	require.NoError(t, s.Compact())
	runs := s.Runs()
	require.Len(t, runs, 2)
	assert.True(t, runs[0].IsPersisted())
	assert.False(t, runs[1].IsPersisted())
	assert.Equal(t, []int64{0, 1, 2, 3, 4}, elements(t, s))

	// The buffer is still the buffer.
	ok, err := s.Remove(0)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCompactionCollapsesDuplicates(t *testing.T) {
	s := newInt64Set(t, 2, 2)
	putAll(t, s, 1, 2, 2, 3, 1, 3)
	require.Len(t, s.Runs(), 3)
	assert.Equal(t, 6, s.Len())
	assert.Equal(t, []int64{1, 1, 2, 2, 3, 3}, elements(t, s))

	require.NoError(t, s.Persist())
	assert.Len(t, s.Runs(), 1)
	assert.Equal(t, []int64{1, 2, 3}, elements(t, s))
	assert.Equal(t, 3, s.Len())
}

// toggleFactory fails its writes while fail is set.
type toggleFactory struct {
	*handler.MemFactory
	fail bool
}

func (f *toggleFactory) NewHandler() (handler.Handler, error) {
	h, err := f.MemFactory.NewHandler()
	if err != nil || !f.fail {
		return h, err
	}
	return &failingHandler{Handler: h}, nil
}

func TestFailedCompactionKeepsRuns(t *testing.T) {
	f := &toggleFactory{MemFactory: handler.NewMemFactory(t.Name())}
	s := newInt64Set(t, 1, 2, f)
	putAll(t, s, 1, 2, 3, 4)
	before := s.Runs()

	f.fail = true
	err := s.Persist()
	require.ErrorIs(t, err, ErrRetriesExhausted)

	after := s.Runs()
	require.Len(t, after, len(before))
	for i := range before {
		assert.Same(t, before[i], after[i])
		assert.True(t, after[i].IsPersisted())
	}
	assert.Equal(t, []int64{1, 2, 3, 4}, elements(t, s))

	f.fail = false
	require.NoError(t, s.Compact())
	assert.Len(t, s.Runs(), 1)
	assert.Equal(t, []int64{1, 2, 3, 4}, elements(t, s))
}

func TestCompactionDeletesInputs(t *testing.T) {
	s := newInt64Set(t, 2, 2)
	putAll(t, s, 1, 2, 3, 4, 5)
	require.Len(t, s.Runs(), 3)

	var inputs []*handler.MemHandler
	for _, r := range s.Runs() {
		inputs = append(inputs, r.Handler().(*handler.MemHandler))
	}
	require.NoError(t, s.Persist())
	require.Len(t, s.Runs(), 1)
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, elements(t, s))

	for _, h := range inputs {
		assert.False(t, h.IsValid())
		_, err := h.Open()
		assert.ErrorIs(t, err, ErrHandlerInvalid)
	}
}
