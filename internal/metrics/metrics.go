// Package metrics exposes Prometheus collectors fed from the event bus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/heyglassy/flyspace/internal/bus"
	"github.com/heyglassy/flyspace/internal/domain"
)

const namespace = "flyspace"

// Metrics holds the engine's collectors.
type Metrics struct {
	registry *prometheus.Registry

	mutations     *prometheus.CounterVec
	runsSettled   *prometheus.CounterVec
	runDuration   prometheus.Histogram
	runsActive    prometheus.Gauge
	framesRelayed prometheus.Counter
	busDropped    prometheus.CounterFunc
}

// New creates the collectors on a fresh registry. b may be nil.
func New(b *bus.Bus) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registry_mutations_total",
			Help:      "Registry mutations by type.",
		}, []string{"type"}),
		runsSettled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_settled_total",
			Help:      "Runs that reached a final status.",
		}, []string{"status"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of settled runs, including time waiting for the operator.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),
		runsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runs_active",
			Help:      "Runs currently executing.",
		}),
		framesRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_relayed_total",
			Help:      "Screencast frames published to subscribers.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.mutations,
		m.runsSettled,
		m.runDuration,
		m.runsActive,
		m.framesRelayed,
	)

	if b != nil {
		m.busDropped = prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_dropped_events_total",
			Help:      "Events discarded for slow subscribers.",
		}, func() float64 { return float64(b.Dropped()) })
		m.registry.MustRegister(m.busDropped)
	}
	return m
}

// Attach feeds the collectors from b until the returned function is called.
func (m *Metrics) Attach(b *bus.Bus) (cancel func()) {
	cancels := []func(){
		b.Handle(bus.KindStateChanged, m.onStateChanged),
		b.Handle(bus.KindFrameRelayed, func(bus.Event) { m.framesRelayed.Inc() }),
		b.Handle(bus.KindTriggered, func(bus.Event) { m.runsActive.Inc() }),
		b.Handle(bus.KindRunSettled, m.onRunSettled),
	}
	return func() {
		for _, c := range cancels {
			c()
		}
	}
}

func (m *Metrics) onStateChanged(ev bus.Event) {
	sc := ev.(bus.StateChanged)
	m.mutations.WithLabelValues(string(sc.Mutation.Type)).Inc()

	if sc.Mutation.Type != domain.EventTypeRunCompleted {
		return
	}
	run, ok := sc.Snapshot.Runs[sc.Mutation.RunID]
	if ok && run.CompletedAt != nil {
		m.runDuration.Observe(run.CompletedAt.Sub(run.StartedAt).Seconds())
	}
}

func (m *Metrics) onRunSettled(ev bus.Event) {
	rs := ev.(bus.RunSettled)
	m.runsSettled.WithLabelValues(string(rs.Status)).Inc()
	m.runsActive.Dec()
}

// Handler serves the collectors in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
