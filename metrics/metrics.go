// Package metrics wires the side-collaborator Prometheus instrumentation
// named in §9: a latency histogram per updater phase and counters for
// reorgs, flushes and dropped events. The metrics HTTP server itself
// (exposing /metrics) is out of scope (§1); this package only owns the
// collectors and the Recorder the core calls into, following the
// teacher's own `prometheus/client_golang` usage for its node metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "indexer"

// Recorder is the side-collaborator interface the core calls through;
// Prometheus is the only real implementation, and a no-op Recorder is
// used by tests/embedders that don't want a metrics registry in scope.
type Recorder interface {
	ObserveLatency(method string, d time.Duration)
	IncReorgs()
	IncFlushes()
	IncEventsDropped(kind string)
	SetMempoolSize(n int)
}

// Prometheus is the concrete Recorder backed by client_golang
// collectors, registered against the supplied registerer (typically
// prometheus.DefaultRegisterer, but tests pass a fresh
// prometheus.NewRegistry() to avoid cross-test collisions on the global
// default).
type Prometheus struct {
	latency       *prometheus.HistogramVec
	reorgs        prometheus.Counter
	flushes       prometheus.Counter
	eventsDropped *prometheus.CounterVec
	mempoolSize   prometheus.Gauge
}

// New constructs and registers every collector against reg.
func New(reg prometheus.Registerer) *Prometheus {
	p := &Prometheus{
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "latency_seconds",
			Help:      "Latency of indexer update-loop phases, by method.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		reorgs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reorgs_total",
			Help:      "Number of chain reorganizations handled.",
		}),
		flushes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_flushes_total",
			Help:      "Number of UpdaterCache flushes committed to the store.",
		}),
		eventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Number of events dropped at the EventBus boundary, by kind.",
		}, []string{"kind"}),
		mempoolSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mempool_tracked_txids",
			Help:      "Number of txids currently tracked in the mempool shadow.",
		}),
	}
	reg.MustRegister(p.latency, p.reorgs, p.flushes, p.eventsDropped, p.mempoolSize)
	return p
}

func (p *Prometheus) ObserveLatency(method string, d time.Duration) {
	p.latency.WithLabelValues(method).Observe(d.Seconds())
}

func (p *Prometheus) IncReorgs() { p.reorgs.Inc() }

func (p *Prometheus) IncFlushes() { p.flushes.Inc() }

func (p *Prometheus) IncEventsDropped(kind string) { p.eventsDropped.WithLabelValues(kind).Inc() }

func (p *Prometheus) SetMempoolSize(n int) { p.mempoolSize.Set(float64(n)) }

// Noop discards every observation; embedders that don't want a metrics
// registry in scope pass this to the Updater instead of a Prometheus
// Recorder.
type Noop struct{}

func (Noop) ObserveLatency(string, time.Duration) {}
func (Noop) IncReorgs()                           {}
func (Noop) IncFlushes()                          {}
func (Noop) IncEventsDropped(string)              {}
func (Noop) SetMempoolSize(int)                   {}

// Timer returns a function that, when called, observes the elapsed time
// under method. Use as: defer metrics.Timer(rec, "index_block")().
func Timer(rec Recorder, method string) func() {
	start := time.Now()
	return func() {
		rec.ObserveLatency(method, time.Since(start))
	}
}

var _ Recorder = (*Prometheus)(nil)
var _ Recorder = Noop{}
