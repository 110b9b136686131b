package spillmap

import (
	"fmt"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twlk9/spillmap/handler"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"io", fmt.Errorf("%w: broken pipe", ErrIO), true},
		{"invalid handler", ErrHandlerInvalid, true},
		{"corruption", fmt.Errorf("read: %w", ErrCorruption), false},
		{"incompatible", ErrIncompatibleRun, false},
		{"persisted", ErrPersisted, false},
		{"configuration", ErrInvalidMaxOpenFiles, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestSkipsInvalidFactory(t *testing.T) {
	primary := handler.NewMemFactory("primary")
	secondary := handler.NewMemFactory("secondary")
	primary.Invalidate()

	s := newInt64Set(t, 2, 100, primary, secondary)
	putAll(t, s, 1, 2, 3)

	for _, r := range s.Runs() {
		assert.True(t, strings.HasPrefix(r.Handler().Name(), "secondary-"), r.Handler().Name())
	}
	assert.Equal(t, []int64{1, 2, 3}, elements(t, s))
}

func TestFailoverDuringPersist(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "failover")
	broken := newFailingFactory("broken")
	healthy := handler.NewMemFactory("healthy")

	opts := NewSetOptions(int64Codec(), broken, healthy)
	opts.BufferPersistThreshold = 5
	opts.Logger = quietLogger()
	opts.Metrics = metrics
	s, err := New(opts)
	require.NoError(t, err)
	defer s.Close()

	putAll(t, s, 3, 1, 2)
	require.Equal(t, 1, broken.handed)

	require.NoError(t, s.Persist())
	runs := s.Runs()
	require.Len(t, runs, 1)
	assert.True(t, runs[0].IsPersisted())
	assert.True(t, strings.HasPrefix(runs[0].Handler().Name(), "healthy-"))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.HandlerRetries))
	assert.Equal(t, []int64{1, 2, 3}, elements(t, s))
}

func TestRetriesExhausted(t *testing.T) {
	broken := newFailingFactory("broken")
	s := newInt64Set(t, 3, 100, broken)
	putAll(t, s, 1, 2)

	// The third element fills the buffer and the spill fails everywhere.
	err := s.Put(3)
	require.ErrorIs(t, err, ErrRetriesExhausted)
	assert.ErrorIs(t, err, ErrIO)
	assert.Equal(t, 1+DefaultNumRetries, broken.handed)

	runs := s.Runs()
	require.Len(t, runs, 1)
	assert.False(t, runs[0].IsPersisted())
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, []int64{1, 2}, elements(t, s))

	// A put that replaces an element does not fill the buffer.
	require.NoError(t, s.Put(2))
	assert.Equal(t, 2, s.Len())

	err = s.Persist()
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.Equal(t, []int64{1, 2}, elements(t, s))
}

func TestNoValidFactory(t *testing.T) {
	f := handler.NewMemFactory("gone")
	f.Invalidate()
	s := newInt64Set(t, 2, 100, f)

	err := s.Put(1)
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.ErrorIs(t, err, ErrHandlerInvalid)
	assert.True(t, s.IsEmpty())
	assert.Empty(t, s.Runs())
}

func TestZeroRetries(t *testing.T) {
	broken := newFailingFactory("broken")
	opts := NewSetOptions(int64Codec(), broken)
	opts.BufferPersistThreshold = 1
	opts.NumRetries = 0
	opts.Logger = quietLogger()
	s, err := New(opts)
	require.NoError(t, err)
	defer s.Close()

	err = s.Put(1)
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.Equal(t, 1, broken.handed)
	assert.True(t, s.IsEmpty())
	assert.Empty(t, s.Runs())
}
