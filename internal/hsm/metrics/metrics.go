// Package metrics keeps per-backend rolling aggregates and exports them to
// Prometheus. Entries are created lazily on the first recorded operation, so
// a backend that never ran anything is absent from snapshots.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ProviderMetrics is a point-in-time snapshot of one backend's counters.
type ProviderMetrics struct {
	Provider             string
	TotalOperations      uint64
	SuccessfulOperations uint64
	FailedOperations     uint64
	AverageLatencyMs     float64
	PeakLatencyMs        int64
	CurrentConnections   int
	MaxConnections       int
}

// Stats holds the mutable aggregates for one backend. Each Stats carries its
// own lock so concurrent completions on different backends never contend.
// Backends embed one to serve their Metrics() capability.
type Stats struct {
	mu sync.Mutex
	m  ProviderMetrics
}

// NewStats creates empty aggregates for the named backend.
func NewStats(provider string) *Stats {
	return &Stats{m: ProviderMetrics{Provider: provider}}
}

// Record folds one completed operation into the aggregates.
func (s *Stats) Record(d time.Duration, success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.m.TotalOperations++
	if success {
		s.m.SuccessfulOperations++
	} else {
		s.m.FailedOperations++
	}

	latencyMs := d.Milliseconds()
	if latencyMs > s.m.PeakLatencyMs {
		s.m.PeakLatencyMs = latencyMs
	}
	n := float64(s.m.TotalOperations)
	s.m.AverageLatencyMs = (s.m.AverageLatencyMs*(n-1) + float64(latencyMs)) / n
}

// SetConnections records pool occupancy.
func (s *Stats) SetConnections(current, max int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m.CurrentConnections = current
	s.m.MaxConnections = max
}

// Snapshot copies the current aggregates.
func (s *Stats) Snapshot() ProviderMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m
}

// Registry aggregates operation outcomes per backend.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Stats

	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	conns      *prometheus.GaugeVec
}

// New creates a Registry with its Prometheus collectors registered on reg.
// Tests pass a private prometheus.NewRegistry to avoid global collisions.
func New(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)
	return &Registry{
		entries: make(map[string]*Stats),
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pqkms_hsm_operations_total",
			Help: "Total HSM operations by backend and outcome",
		}, []string{"provider", "outcome"}),
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pqkms_hsm_operation_duration_seconds",
			Help:    "Duration of HSM operations by backend",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"provider"}),
		conns: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pqkms_hsm_connections",
			Help: "Live pooled connections by backend",
		}, []string{"provider"}),
	}
}

func (r *Registry) entryFor(provider string) *Stats {
	r.mu.RLock()
	e, ok := r.entries[provider]
	r.mu.RUnlock()
	if ok {
		return e
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok = r.entries[provider]; ok {
		return e
	}
	e = NewStats(provider)
	r.entries[provider] = e
	return e
}

// Record folds one completed operation into the backend's aggregates:
// total count, success/failure split, rolling average and peak latency.
func (r *Registry) Record(provider string, d time.Duration, success bool) {
	if r == nil {
		return
	}

	outcome := "success"
	if !success {
		outcome = "failure"
	}
	r.operations.WithLabelValues(provider, outcome).Inc()
	r.latency.WithLabelValues(provider).Observe(d.Seconds())

	r.entryFor(provider).Record(d, success)
}

// SetConnections records pool occupancy for the backend.
func (r *Registry) SetConnections(provider string, current, max int) {
	if r == nil {
		return
	}
	r.conns.WithLabelValues(provider).Set(float64(current))
	r.entryFor(provider).SetConnections(current, max)
}

// Snapshot returns a copy of every backend's aggregates. Backends with zero
// recorded operations have no entry and are absent from the result.
func (r *Registry) Snapshot() map[string]ProviderMetrics {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]ProviderMetrics, len(r.entries))
	for name, e := range r.entries {
		out[name] = e.Snapshot()
	}
	return out
}
