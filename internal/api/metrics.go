package api

import (
	"context"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/marcus/fieldsync/internal/engine"
)

// Metrics collects server metrics: atomic counters for /metricz and a
// private Prometheus registry for /metrics. It also listens to run events.
type Metrics struct {
	startTime    time.Time
	requests     atomic.Int64
	serverErrors atomic.Int64
	clientErrors atomic.Int64
	runsStarted  atomic.Int64
	runConflicts atomic.Int64
	runsFailed   atomic.Int64
	acksSynced   atomic.Int64
	acksFailed   atomic.Int64
	sweptRows    atomic.Int64

	registry       *prometheus.Registry
	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
	runDuration    *prometheus.HistogramVec
	projectedTotal *prometheus.CounterVec
	acksTotal      *prometheus.CounterVec
	sweptTotal     prometheus.Counter
}

// MetricsSnapshot is a point-in-time view of server metrics.
type MetricsSnapshot struct {
	UptimeSeconds float64 `json:"uptime_seconds"`
	Requests      int64   `json:"requests"`
	ServerErrors  int64   `json:"server_errors"`
	ClientErrors  int64   `json:"client_errors"`
	RunsStarted   int64   `json:"runs_started"`
	RunConflicts  int64   `json:"run_conflicts"`
	RunsFailed    int64   `json:"runs_failed"`
	AcksSynced    int64   `json:"acks_synced"`
	AcksFailed    int64   `json:"acks_failed"`
	SweptRows     int64   `json:"swept_rows"`
	EventClients  int     `json:"event_clients"`
}

// NewMetrics creates a new Metrics instance with the current time as start.
func NewMetrics() *Metrics {
	m := &Metrics{
		startTime: time.Now(),
		registry:  prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldsync_http_requests_total",
			Help: "HTTP requests by route pattern and status code.",
		}, []string{"route", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fieldsync_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fieldsync_run_duration_seconds",
			Help:    "Duration of completed bulk sync runs.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
		}, []string{"mode"}),
		projectedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldsync_projected_records_total",
			Help: "Records projected by bulk runs, per entity type.",
		}, []string{"entity_type"}),
		acksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldsync_acks_total",
			Help: "Device acknowledgements by outcome.",
		}, []string{"outcome"}),
		sweptTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fieldsync_swept_rows_total",
			Help: "Synced ledger rows removed by the retention sweeper.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests, m.httpDuration, m.runDuration,
		m.projectedTotal, m.acksTotal, m.sweptTotal,
	)
	return m
}

// Handler serves the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordRequest counts one HTTP request.
func (m *Metrics) RecordRequest(route string, code int, dur time.Duration) {
	m.requests.Add(1)
	switch {
	case code >= 500:
		m.serverErrors.Add(1)
	case code >= 400:
		m.clientErrors.Add(1)
	}
	if route == "" {
		route = "unmatched"
	}
	m.httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(dur.Seconds())
}

// RecordConflict counts a bulk run refused because another was running.
func (m *Metrics) RecordConflict() {
	m.runConflicts.Add(1)
}

// RecordAck counts an acknowledgement outcome ("synced" or "failed").
func (m *Metrics) RecordAck(outcome string) {
	if outcome == engine.OutcomeFailed {
		m.acksFailed.Add(1)
	} else {
		m.acksSynced.Add(1)
	}
	m.acksTotal.WithLabelValues(outcome).Inc()
}

// Notify implements engine.Notifier.
func (m *Metrics) Notify(_ context.Context, ev engine.Event) {
	switch ev.Type {
	case engine.EventRunStarted:
		m.runsStarted.Add(1)
	case engine.EventRunFailed:
		m.runsFailed.Add(1)
	case engine.EventRunCompleted:
		if ev.Summary == nil {
			return
		}
		m.runDuration.WithLabelValues(string(ev.Mode)).Observe(float64(ev.Summary.TotalDurationMs) / 1000)
		for _, r := range ev.Summary.Results {
			m.projectedTotal.WithLabelValues(r.EntityType).Add(float64(r.Count))
		}
	case engine.EventSweepCompleted:
		m.sweptRows.Add(ev.Swept)
		m.sweptTotal.Add(float64(ev.Swept))
	}
}

// Snapshot returns a point-in-time copy of the counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		UptimeSeconds: time.Since(m.startTime).Seconds(),
		Requests:      m.requests.Load(),
		ServerErrors:  m.serverErrors.Load(),
		ClientErrors:  m.clientErrors.Load(),
		RunsStarted:   m.runsStarted.Load(),
		RunConflicts:  m.runConflicts.Load(),
		RunsFailed:    m.runsFailed.Load(),
		AcksSynced:    m.acksSynced.Load(),
		AcksFailed:    m.acksFailed.Load(),
		SweptRows:     m.sweptRows.Load(),
	}
}
