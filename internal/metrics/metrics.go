// Package metrics holds the Prometheus instrumentation of the scan pipeline
// and the local API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Scan outcomes.
const (
	OutcomeComplete   = "complete"
	OutcomeFailed     = "failed"
	OutcomeSuperseded = "superseded"
	OutcomeEmpty      = "empty"
)

// Metrics owns a private registry so tests and multiple servers never
// collide on the global one. All methods are safe on a nil receiver.
type Metrics struct {
	registry       *prometheus.Registry
	handler        http.Handler
	frames         prometheus.Counter
	decodeErrors   prometheus.Counter
	eventsIngested *prometheus.CounterVec
	scans          *prometheus.CounterVec
	scanDuration   prometheus.Histogram
	sessionEvents  prometheus.Gauge
	directoryLoads *prometheus.CounterVec
	requestTotal   *prometheus.CounterVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()

	frames := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scancal_stream_frames_total",
		Help: "Frames decoded from parse streams",
	})

	decodeErrors := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scancal_stream_decode_errors_total",
		Help: "Malformed frames skipped",
	})

	eventsIngested := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scancal_events_ingested_total",
		Help: "Events added to a session",
	}, []string{"source"})

	scans := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scancal_scans_total",
		Help: "Finished scans by outcome",
	}, []string{"outcome"})

	scanDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "scancal_scan_duration_seconds",
		Help:    "Wall time of a scan from scrape to end of stream",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80},
	})

	sessionEvents := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "scancal_session_events",
		Help: "Events held by the active session",
	})

	directoryLoads := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scancal_directory_loads_total",
		Help: "Contact directory loads by result",
	}, []string{"result"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scancal_http_requests_total",
		Help: "Local API requests",
	}, []string{"method", "path", "status"})

	registry.MustRegister(frames, decodeErrors, eventsIngested, scans, scanDuration, sessionEvents, directoryLoads, requestTotal)

	return &Metrics{
		registry:       registry,
		handler:        promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		frames:         frames,
		decodeErrors:   decodeErrors,
		eventsIngested: eventsIngested,
		scans:          scans,
		scanDuration:   scanDuration,
		sessionEvents:  sessionEvents,
		directoryLoads: directoryLoads,
		requestTotal:   requestTotal,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

func (m *Metrics) ObserveFrames(frames, decodeErrors int) {
	if m == nil {
		return
	}
	m.frames.Add(float64(frames))
	m.decodeErrors.Add(float64(decodeErrors))
}

// ObserveEvents counts events added from source ("stream" or "text").
func (m *Metrics) ObserveEvents(source string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.eventsIngested.WithLabelValues(source).Add(float64(n))
}

func (m *Metrics) ObserveScan(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.scans.WithLabelValues(outcome).Inc()
	m.scanDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) SetSessionEvents(n int) {
	if m == nil {
		return
	}
	m.sessionEvents.Set(float64(n))
}

func (m *Metrics) ObserveDirectoryLoad(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.directoryLoads.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveHTTPRequest(method, path string, status int) {
	if m == nil {
		return
	}
	m.requestTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
}
