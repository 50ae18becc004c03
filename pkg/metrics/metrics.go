// Package metrics exports engine activity to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/codeGROOVE-dev/nitzTZ/pkg/filter"
	"github.com/codeGROOVE-dev/nitzTZ/pkg/nitz"
	"github.com/codeGROOVE-dev/nitzTZ/pkg/suggest"
)

// Metrics observes state machines and HTTP handlers. A nil *Metrics is a
// valid no-op observer.
type Metrics struct {
	registry          *prometheus.Registry
	signals           *prometheus.CounterVec
	timeSuggestions   *prometheus.CounterVec
	zoneSuggestions   *prometheus.CounterVec
	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

// New creates metrics on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nitztz_signals_total",
			Help: "NITZ signals evaluated by the acceptance filter, by deciding rule.",
		}, []string{"slot", "rule", "decision"}),
		timeSuggestions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nitztz_time_suggestions_total",
			Help: "Time suggestions emitted; empty ones withdraw the previous opinion.",
		}, []string{"slot", "empty"}),
		zoneSuggestions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nitztz_time_zone_suggestions_total",
			Help: "Time zone suggestions emitted, by match type and quality.",
		}, []string{"slot", "match_type", "quality"}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}

	m.registry.MustRegister(
		m.signals,
		m.timeSuggestions,
		m.zoneSuggestions,
		m.httpRequestsTotal,
		m.httpDuration,
	)
	return m
}

// SignalEvaluated counts a filter decision.
func (m *Metrics) SignalEvaluated(slot int, _ nitz.Signal, d filter.Decision) {
	if m == nil {
		return
	}
	decision := "rejected"
	if d.Accept {
		decision = "accepted"
	}
	m.signals.WithLabelValues(strconv.Itoa(slot), d.Rule, decision).Inc()
}

// TimeSuggested counts a time suggestion.
func (m *Metrics) TimeSuggested(s suggest.TimeSuggestion) {
	if m == nil {
		return
	}
	m.timeSuggestions.WithLabelValues(strconv.Itoa(s.SlotIndex), strconv.FormatBool(s.IsEmpty())).Inc()
}

// TimeZoneSuggested counts a time zone suggestion.
func (m *Metrics) TimeZoneSuggested(s suggest.TimeZoneSuggestion) {
	if m == nil {
		return
	}
	m.zoneSuggestions.WithLabelValues(strconv.Itoa(s.SlotIndex), s.MatchType.String(), s.Quality.String()).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// WrapHandler records request counts and durations under route.
func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		if m != nil {
			m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
			m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		}
	})
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
