// Package metrics provides Prometheus instrumentation for memory-mcp.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Manager holds all collectors. A disabled Manager accepts every call and
// records nothing.
type Manager struct {
	registry *prometheus.Registry
	enabled  bool

	recalls         *prometheus.CounterVec
	recallDuration  prometheus.Histogram
	recallResults   prometheus.Histogram
	memorizes       *prometheus.CounterVec
	memorizeLatency prometheus.Histogram
	verdicts        *prometheus.CounterVec
	opErrors        *prometheus.CounterVec
	transitions     *prometheus.CounterVec
	projects        prometheus.Gauge
	reloads         *prometheus.CounterVec
}

// Config holds metrics configuration.
type Config struct {
	Enabled bool
	Addr    string
	Path    string
}

// NewManager creates a metrics manager.
func NewManager(cfg Config) *Manager {
	if !cfg.Enabled {
		return &Manager{enabled: false}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Manager{registry: registry, enabled: true}

	m.recalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "memory_recall_total",
		Help: "Recall calls by outcome",
	}, []string{"status"})
	m.recallDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "memory_recall_duration_seconds",
		Help:    "Recall latency",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	})
	m.recallResults = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "memory_recall_results",
		Help:    "Number of records returned per recall",
		Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
	})
	m.memorizes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "memory_memorize_total",
		Help: "Memorize calls by action",
	}, []string{"action"})
	m.memorizeLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "memory_memorize_duration_seconds",
		Help:    "Memorize latency including the oracle round-trip",
		Buckets: []float64{0.005, 0.05, 0.1, 0.5, 1, 5, 10, 30},
	})
	m.verdicts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "memory_oracle_verdicts_total",
		Help: "Oracle verdicts by kind",
	}, []string{"verdict"})
	m.opErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "memory_operation_errors_total",
		Help: "Failed operations by operation and error kind",
	}, []string{"op", "kind"})
	m.transitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "memory_lifecycle_transitions_total",
		Help: "Project instance state transitions by target state",
	}, []string{"state"})
	m.projects = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "memory_projects_running",
		Help: "Project instances currently started",
	})
	m.reloads = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "memory_reloads_total",
		Help: "Full store rescans by trigger",
	}, []string{"trigger"})

	registry.MustRegister(m.recalls, m.recallDuration, m.recallResults, m.memorizes,
		m.memorizeLatency, m.verdicts, m.opErrors, m.transitions, m.projects, m.reloads)
	return m
}

// NoOpManager returns a disabled manager.
func NoOpManager() *Manager {
	return &Manager{enabled: false}
}

// Enabled returns whether metrics collection is enabled.
func (m *Manager) Enabled() bool {
	return m != nil && m.enabled
}

// RecordRecall records a recall call.
func (m *Manager) RecordRecall(status string, results int, d time.Duration) {
	if !m.Enabled() {
		return
	}
	m.recalls.WithLabelValues(status).Inc()
	m.recallDuration.Observe(d.Seconds())
	if status == "ok" {
		m.recallResults.Observe(float64(results))
	}
}

// RecordMemorize records a memorize outcome and, when the oracle was
// consulted, its verdict.
func (m *Manager) RecordMemorize(action, verdict string, d time.Duration) {
	if !m.Enabled() {
		return
	}
	m.memorizes.WithLabelValues(action).Inc()
	m.memorizeLatency.Observe(d.Seconds())
	if verdict != "" {
		m.verdicts.WithLabelValues(verdict).Inc()
	}
}

// RecordError records a failed operation.
func (m *Manager) RecordError(op, kind string) {
	if !m.Enabled() {
		return
	}
	m.opErrors.WithLabelValues(op, kind).Inc()
}

// RecordTransition records a lifecycle state change.
func (m *Manager) RecordTransition(state string) {
	if !m.Enabled() {
		return
	}
	m.transitions.WithLabelValues(state).Inc()
}

// ProjectStarted increments the running project gauge.
func (m *Manager) ProjectStarted() {
	if !m.Enabled() {
		return
	}
	m.projects.Inc()
}

// ProjectStopped decrements the running project gauge.
func (m *Manager) ProjectStopped() {
	if !m.Enabled() {
		return
	}
	m.projects.Dec()
}

// RecordReload records a full rescan.
func (m *Manager) RecordReload(trigger string) {
	if !m.Enabled() {
		return
	}
	m.reloads.WithLabelValues(trigger).Inc()
}

// Handler returns the HTTP handler for the metrics endpoint.
func (m *Manager) Handler() http.Handler {
	if !m.Enabled() {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer serves the metrics endpoint until ctx is cancelled.
func (m *Manager) StartServer(ctx context.Context, addr, path string) error {
	if !m.Enabled() {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
