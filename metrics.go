package spillmap

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts container activity. A nil *Metrics records nothing, so
// containers can call it unconditionally.
type Metrics struct {
	Spills          prometheus.Counter
	Persists        prometheus.Counter
	Loads           prometheus.Counter
	Compactions     prometheus.Counter
	RunsMerged      prometheus.Counter
	ElementsWritten prometheus.Counter
	HandlerRetries  prometheus.Counter
	Runs            prometheus.Gauge

	CompactionDuration prometheus.Histogram
}

// NewMetrics registers the metrics with reg under namespace.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	const subsystem = "spillmap"
	counter := func(name, help string) prometheus.Counter {
		return promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		})
	}
	return &Metrics{
		Spills:          counter("spills_total", "Buffers spilled into a persisted run because they reached the threshold."),
		Persists:        counter("persists_total", "Runs written by an explicit Persist."),
		Loads:           counter("loads_total", "Runs read back into memory."),
		Compactions:     counter("compactions_total", "Completed compactions."),
		RunsMerged:      counter("runs_merged_total", "Input runs consumed by compactions."),
		ElementsWritten: counter("elements_written_total", "Elements written to run files."),
		HandlerRetries:  counter("handler_retries_total", "I/O failures that were retried on another handler."),
		Runs: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "runs",
			Help:      "Current number of runs, buffer included.",
		}),
		CompactionDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "compaction_duration_seconds",
			Help:      "Duration of compactions.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) spilled(elements int) {
	if m == nil {
		return
	}
	m.Spills.Inc()
	m.ElementsWritten.Add(float64(elements))
}

func (m *Metrics) persisted(elements int) {
	if m == nil {
		return
	}
	m.Persists.Inc()
	m.ElementsWritten.Add(float64(elements))
}

func (m *Metrics) loaded() {
	if m == nil {
		return
	}
	m.Loads.Inc()
}

func (m *Metrics) compacted(inputs, elements int, seconds float64) {
	if m == nil {
		return
	}
	m.Compactions.Inc()
	m.RunsMerged.Add(float64(inputs))
	m.ElementsWritten.Add(float64(elements))
	m.CompactionDuration.Observe(seconds)
}

func (m *Metrics) retried() {
	if m == nil {
		return
	}
	m.HandlerRetries.Inc()
}

func (m *Metrics) setRuns(n int) {
	if m == nil {
		return
	}
	m.Runs.Set(float64(n))
}
