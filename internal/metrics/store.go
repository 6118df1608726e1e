package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pingsantohq/pathprobe/pkg/types"
)

const namespace = "pathprobe"

// latencyBuckets spans LAN to intercontinental round trips, in milliseconds.
var latencyBuckets = []float64{1, 2, 5, 10, 20, 50, 100, 200, 500, 1000}

// Store owns a private Prometheus registry plus the few values other
// components read back directly.
type Store struct {
	registry *prometheus.Registry

	probes           *prometheus.CounterVec
	latency          *prometheus.HistogramVec
	lastLatency      *prometheus.GaugeVec
	sinkErrors       prometheus.Counter
	runActive        prometheus.Gauge
	ready            prometheus.Gauge
	readyTransitions *prometheus.CounterVec

	probesTotal    atomic.Uint64
	sinkErrorTotal atomic.Uint64
	running        atomic.Bool
	readiness      atomic.Int64
	lastDispatch   sync.Map // stream ID -> time.Time
}

// NewStore constructs a Store with zeroed metrics.
func NewStore() *Store {
	s := &Store{
		registry: prometheus.NewRegistry(),
		probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probes_total",
			Help:      "Probe outcomes persisted to the result log, by label and status.",
		}, []string{"label", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "probe_latency_ms",
			Help:      "Round-trip latency of successful probes in milliseconds.",
			Buckets:   latencyBuckets,
		}, []string{"label"}),
		lastLatency: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_latency_ms",
			Help:      "Latency of the most recent successful probe in milliseconds.",
		}, []string{"label"}),
		sinkErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_errors_total",
			Help:      "Failed attempts to persist a probe result.",
		}),
		runActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_active",
			Help:      "Whether a measurement run is in progress (1=running).",
		}),
		ready: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ready",
			Help:      "Whether the engine considers itself ready (1=ready).",
		}),
		readyTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ready_transitions_total",
			Help:      "Count of readiness state transitions by resulting state.",
		}, []string{"state"}),
	}
	s.registry.MustRegister(
		s.probes,
		s.latency,
		s.lastLatency,
		s.sinkErrors,
		s.runActive,
		s.ready,
		s.readyTransitions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return s
}

// Snapshot captures the values read back by health checks and tests.
type Snapshot struct {
	ProbesTotal  uint64
	SinkErrors   uint64
	RunActive    bool
	Ready        bool
	LastDispatch map[string]time.Time
}

func (s *Store) Snapshot() Snapshot {
	last := make(map[string]time.Time)
	s.lastDispatch.Range(func(key, value any) bool {
		id, ok := key.(string)
		if !ok {
			return true
		}
		if ts, ok := value.(time.Time); ok {
			last[id] = ts
		}
		return true
	})
	return Snapshot{
		ProbesTotal:  s.probesTotal.Load(),
		SinkErrors:   s.sinkErrorTotal.Load(),
		RunActive:    s.running.Load(),
		Ready:        s.readiness.Load() == 1,
		LastDispatch: last,
	}
}

func (s *Store) ObserveProbe(streamID string, result types.ProbeResult) {
	s.probesTotal.Add(1)
	s.probes.WithLabelValues(result.Label, string(result.Status)).Inc()
	if result.Succeeded() {
		s.latency.WithLabelValues(result.Label).Observe(result.LatencyMs)
		s.lastLatency.WithLabelValues(result.Label).Set(result.LatencyMs)
	}
	if streamID != "" {
		s.lastDispatch.Store(streamID, result.Timestamp)
	}
}

func (s *Store) IncSinkErrors() {
	s.sinkErrorTotal.Add(1)
	s.sinkErrors.Inc()
}

// SetRunActive flips the run gauge and forgets dispatch times of the
// previous run when a new one starts.
func (s *Store) SetRunActive(active bool) {
	if active && !s.running.Load() {
		s.lastDispatch.Range(func(key, _ any) bool {
			s.lastDispatch.Delete(key)
			return true
		})
	}
	s.running.Store(active)
	if active {
		s.runActive.Set(1)
	} else {
		s.runActive.Set(0)
	}
}

func (s *Store) ObserveReadiness(ready bool) {
	var next int64
	if ready {
		next = 1
	}
	prev := s.readiness.Swap(next)
	if prev == next {
		return
	}
	if ready {
		s.readyTransitions.WithLabelValues("ready").Inc()
		s.ready.Set(1)
		return
	}
	s.readyTransitions.WithLabelValues("not_ready").Inc()
	s.ready.Set(0)
}

// NewHTTPHandler returns an http.Handler that serves Prometheus formatted metrics.
func NewHTTPHandler(store *Store) http.Handler {
	return promhttp.HandlerFor(store.registry, promhttp.HandlerOpts{})
}
