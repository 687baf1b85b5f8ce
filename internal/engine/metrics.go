package engine

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// metrics instruments the engine on its own prometheus registry, so tests can
// build engines freely without tripping duplicate-registration panics on the
// default one. Atomic mirrors back the Snapshot() numbers; prometheus counters
// are write-only from the engine's point of view.
type metrics struct {
	reg *prometheus.Registry

	published prometheus.Counter
	failed    prometheus.Counter
	guards    prometheus.Counter
	results   *prometheus.CounterVec
	sweeps    prometheus.Counter
	recovered prometheus.Counter
	cycles    prometheus.Counter
	appended  *prometheus.CounterVec

	nPublished  atomic.Uint64
	nFailed     atomic.Uint64
	nGuardExits atomic.Uint64
	nSweeps     atomic.Uint64
	nRecovered  atomic.Uint64
	nCycles     atomic.Uint64
	nAppended   atomic.Uint64
}

func newMetrics(jobs *Registry) *metrics {
	m := &metrics{reg: prometheus.NewRegistry()}

	opts := func(name, help string) prometheus.CounterOpts {
		return prometheus.CounterOpts{
			Namespace: "crosspost",
			Subsystem: "engine",
			Name:      name,
			Help:      help,
		}
	}

	m.published = prometheus.NewCounter(opts("posts_published_total", "Posts that reached published status."))
	m.failed = prometheus.NewCounter(opts("posts_failed_total", "Posts that reached failed status."))
	m.guards = prometheus.NewCounter(opts("guard_exits_total", "Publish jobs that exited because the post was no longer scheduled."))
	m.results = prometheus.NewCounterVec(opts("publish_results_total", "Per-platform publish outcomes."), []string{"platform", "outcome"})
	m.sweeps = prometheus.NewCounter(opts("sweeps_total", "Recovery sweep iterations."))
	m.recovered = prometheus.NewCounter(opts("sweep_recovered_total", "Posts re-armed by reconciliation or a sweep."))
	m.cycles = prometheus.NewCounter(opts("tracking_cycles_total", "Completed tracking cycles."))
	m.appended = prometheus.NewCounterVec(opts("tracking_snapshots_total", "Metric snapshots appended per platform."), []string{"platform"})

	m.reg.MustRegister(m.published, m.failed, m.guards, m.results, m.sweeps, m.recovered, m.cycles, m.appended)

	for _, kind := range []JobKind{JobPublish, JobTracking} {
		kind := kind
		m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   "crosspost",
			Subsystem:   "engine",
			Name:        "jobs",
			Help:        "Live jobs in the registry.",
			ConstLabels: prometheus.Labels{"kind": string(kind)},
		}, func() float64 {
			return float64(jobs.CountByKind()[kind])
		}))
	}

	return m
}

func (m *metrics) postPublished() { m.published.Inc(); m.nPublished.Add(1) }
func (m *metrics) postFailed()    { m.failed.Inc(); m.nFailed.Add(1) }
func (m *metrics) guardExit()     { m.guards.Inc(); m.nGuardExits.Add(1) }

func (m *metrics) platformResult(platform string, ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "fail"
	}
	m.results.WithLabelValues(platform, outcome).Inc()
}

func (m *metrics) sweep() { m.sweeps.Inc(); m.nSweeps.Add(1) }

func (m *metrics) sweepRecovered(n int) {
	if n <= 0 {
		return
	}
	m.recovered.Add(float64(n))
	m.nRecovered.Add(uint64(n))
}

func (m *metrics) trackingCycle() { m.cycles.Inc(); m.nCycles.Add(1) }

func (m *metrics) snapshotAppended(platform string) {
	m.appended.WithLabelValues(platform).Inc()
	m.nAppended.Add(1)
}
