// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package stats

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/grimm-is/xdpfw/internal/logging"
	"github.com/grimm-is/xdpfw/internal/xdp/types"
)

// Metrics is the Prometheus surface for the global pass/drop/allow
// counters, implementing prometheus.Collector directly against
// Collector.Sample instead of caching values a background goroutine would
// otherwise have to keep in sync.
type Metrics struct {
	collector *Collector

	passed  *prometheus.Desc
	dropped *prometheus.Desc
	allowed *prometheus.Desc
}

// NewMetrics wraps a Collector in a prometheus.Collector.
func NewMetrics(collector *Collector) *Metrics {
	return &Metrics{
		collector: collector,
		passed:    prometheus.NewDesc("xdpfw_packets_passed_total", "Total packets that reached the end of the filter table with no match", nil, nil),
		dropped:   prometheus.NewDesc("xdpfw_packets_dropped_total", "Total packets dropped by a block entry, range-drop, or a drop-action filter", nil, nil),
		allowed:   prometheus.NewDesc("xdpfw_packets_allowed_total", "Total packets explicitly allowed by a pass-action filter", nil, nil),
	}
}

func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.passed
	ch <- m.dropped
	ch <- m.allowed
}

func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	snap, err := m.collector.Sample(time.Now())
	if err != nil {
		return
	}
	ch <- prometheus.MustNewConstMetric(m.passed, prometheus.CounterValue, float64(snap.Passed))
	ch <- prometheus.MustNewConstMetric(m.dropped, prometheus.CounterValue, float64(snap.Dropped))
	ch <- prometheus.MustNewConstMetric(m.allowed, prometheus.CounterValue, float64(snap.Allowed))
}

// FilterInspector is the subset of the sync package's state a debug
// handler needs to describe the currently active filter table, kept as an
// interface so this package doesn't depend on internal/xdp/sync.
type FilterInspector interface {
	ActiveFilters() []types.Filter
}

// Server is the optional loopback debug/metrics HTTP surface described in
// SPEC_FULL.md §B: read-only introspection next to the core loop, the
// same "small HTTP surface next to the core loop" shape as the donor's
// control-plane API server, trimmed down since the poll loop (not HTTP)
// owns every mutation here.
type Server struct {
	router    *mux.Router
	collector *Collector
	inspector FilterInspector
	log       *logging.Logger
}

// NewServer builds the router. inspector may be nil if the caller doesn't
// want /debug/filters exposed.
func NewServer(collector *Collector, inspector FilterInspector, log *logging.Logger) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		collector: collector,
		inspector: inspector,
		log:       log,
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(NewMetrics(collector))

	s.router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	s.router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	s.router.HandleFunc("/debug/filters", s.handleDebugFilters).Methods(http.MethodGet)

	return s
}

func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe starts the debug surface on addr, blocking until the
// listener fails; it offers no way to stop it from outside. Callers
// needing graceful shutdown should use Handler() with their own
// *http.Server instead.
func (s *Server) ListenAndServe(addr string) error {
	if s.log != nil {
		s.log.Info("debug HTTP surface listening", "addr", addr)
	}
	return http.ListenAndServe(addr, s.router)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleDebugFilters(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if s.inspector == nil {
		w.WriteHeader(http.StatusNotImplemented)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "filter inspection not wired"})
		return
	}

	filters := s.inspector.ActiveFilters()
	_ = json.NewEncoder(w).Encode(map[string]any{
		"count":   len(filters),
		"filters": filters,
	})
}
