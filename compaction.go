package spillmap

import (
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/twlk9/spillmap/filemap"
	"github.com/twlk9/spillmap/handler"
	"github.com/twlk9/spillmap/keys"
	"github.com/twlk9/spillmap/merge"
)

// CompactionTarget is the number of runs a compaction aims for. Half of
// maxOpenFiles leaves room for further spills before the next one.
func CompactionTarget(maxOpenFiles int) int {
	return max(1, maxOpenFiles/2)
}

// PlanCompaction groups runs for merging. sizes and persisted describe the
// runs oldest first. The result covers every run index exactly once, in
// order, as contiguous groups; a group of one is left as it is.
//
// Starting from one group per run, the adjacent pair of groups with the
// smallest combined size is merged until target groups remain. Only
// groups made entirely of persisted runs are merged, so an unpersisted run
// always stays on its own and the plan can end above target.
func PlanCompaction(sizes []int, persisted []bool, target int) [][]int {
	type group struct {
		runs      []int
		size      int
		persisted bool
	}
	groups := make([]group, len(sizes))
	for i, n := range sizes {
		groups[i] = group{runs: []int{i}, size: n, persisted: persisted[i]}
	}
	target = max(1, target)
	for len(groups) > target {
		best := -1
		for i := 0; i+1 < len(groups); i++ {
			a, b := groups[i], groups[i+1]
			if !a.persisted || !b.persisted {
				continue
			}
			if best < 0 || a.size+b.size < groups[best].size+groups[best+1].size {
				best = i
			}
		}
		if best < 0 {
			break
		}
		a, b := groups[best], groups[best+1]
		groups[best] = group{
			runs:      append(append([]int(nil), a.runs...), b.runs...),
			size:      a.size + b.size,
			persisted: true,
		}
		groups = append(groups[:best+1], groups[best+2:]...)
	}
	out := make([][]int, len(groups))
	for i, g := range groups {
		out[i] = g.runs
	}
	return out
}

// Compact merges adjacent persisted runs until at most
// CompactionTarget(MaxOpenFiles) runs remain or only unpersisted runs are
// left in the way. Equal elements from merged runs are resolved with
// Rewrite, the older run's element being the existing one.
//
// The run list is only replaced once every group has been merged. On
// failure it is left untouched and the partial outputs are deleted.
func (s *SortedSet[E]) Compact() error {
	if s.closed {
		return ErrClosed
	}
	start := time.Now()
	sizes := make([]int, len(s.runs))
	persisted := make([]bool, len(s.runs))
	for i, run := range s.runs {
		sizes[i] = run.Len()
		persisted[i] = run.IsPersisted()
	}
	target := CompactionTarget(s.opts.MaxOpenFiles)
	plan := PlanCompaction(sizes, persisted, target)
	if len(plan) == len(s.runs) {
		return nil
	}
	s.logger.Info("Starting compaction", "runs", len(s.runs), "target", target, "groups", len(plan))

	var (
		next    []*filemap.Set[E]
		outputs []*filemap.Set[E]
		inputs  []*filemap.Set[E]
	)
	written := 0
	for _, g := range plan {
		if len(g) == 1 {
			next = append(next, s.runs[g[0]])
			continue
		}
		group := make([]*filemap.Set[E], len(g))
		for i, idx := range g {
			group[i] = s.runs[idx]
		}
		out, err := s.mergeRuns(group)
		if err != nil {
			s.logger.Error("Compaction failed", "error", err, "runs", len(s.runs))
			s.deleteRuns(outputs)
			return err
		}
		outputs = append(outputs, out)
		inputs = append(inputs, group...)
		next = append(next, out)
		written += out.Len()
	}

	s.runs = next
	s.deleteRuns(inputs)
	s.metrics.setRuns(len(s.runs))
	s.metrics.compacted(len(inputs), written, time.Since(start).Seconds())
	s.logger.Info("Compaction completed", "inputs", len(inputs), "outputs", len(outputs), "runs", len(s.runs),
		"elements", written, "duration", time.Since(start))
	return nil
}

// mergeRuns stream-merges a group of persisted runs into one new run.
// Each attempt opens fresh cursors, so a failed write can be redone on
// another handler.
func (s *SortedSet[E]) mergeRuns(group []*filemap.Set[E]) (*filemap.Set[E], error) {
	var out *filemap.Set[E]
	err := s.withRetries("compact runs", func() error {
		h, err := s.nextHandler()
		if err != nil {
			return err
		}
		cursors := make([]merge.Cursor[E], len(group))
		for i, run := range group {
			cursors[i] = run.Cursor(keys.All[E]())
		}
		it := merge.New(s.opts.Comparator, cursors...)
		merged := merge.Dedup(it.All(), s.opts.Comparator, s.opts.Rewrite)
		out, err = filemap.WriteSet(s.compactCfg, h, merged, it.Err)
		if cerr := it.Close(); err == nil && cerr != nil {
			err = cerr
		}
		if err != nil {
			s.discard(h)
			return err
		}
		return nil
	})
	return out, err
}

// discard releases a resource that never became a listed run.
func (s *SortedSet[E]) discard(h handler.Handler) {
	if err := h.Delete(); err != nil {
		s.logger.Warn("Failed to delete run resource", "run", h.Name(), "error", err)
	}
}

// deleteRuns releases the resources of runs that are no longer listed.
func (s *SortedSet[E]) deleteRuns(runs []*filemap.Set[E]) {
	var result *multierror.Error
	for _, run := range runs {
		if err := run.Delete(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		s.logger.Error("Failed to delete run resources", "error", err)
	}
}
