// Package metrics provides Prometheus metrics for cfgstore
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for cfgstore
type Metrics struct {
	// gRPC request metrics
	GrpcRequestsTotal    *prometheus.CounterVec
	GrpcRequestDuration  *prometheus.HistogramVec
	GrpcRequestsInFlight prometheus.Gauge

	// REST request metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Store metrics
	StoreOperationsTotal *prometheus.CounterVec
	SettingsTotal        prometheus.Gauge
	RevisionsTotal       prometheus.Gauge
	SnapshotsByStatus    *prometheus.GaugeVec
	PagesTotal           *prometheus.CounterVec
	EventsPublishedTotal *prometheus.CounterVec

	// Server metrics
	ServerUptimeSeconds prometheus.Gauge
	ServerStartTime     time.Time
}

// New creates all metrics and registers them with reg. A nil reg uses the
// default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	m := &Metrics{
		ServerStartTime: time.Now(),
	}

	m.GrpcRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cfgstore_grpc_requests_total",
			Help: "Total number of gRPC requests",
		},
		[]string{"method", "status"},
	)

	m.GrpcRequestDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cfgstore_grpc_request_duration_seconds",
			Help:    "Duration of gRPC requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	m.GrpcRequestsInFlight = f.NewGauge(
		prometheus.GaugeOpts{
			Name: "cfgstore_grpc_requests_in_flight",
			Help: "Number of gRPC requests currently being processed",
		},
	)

	m.HTTPRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cfgstore_http_requests_total",
			Help: "Total number of REST requests",
		},
		[]string{"method", "route", "code"},
	)

	m.HTTPRequestDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cfgstore_http_request_duration_seconds",
			Help:    "Duration of REST requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	m.StoreOperationsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cfgstore_store_operations_total",
			Help: "Total number of store operations by outcome",
		},
		[]string{"operation", "outcome"},
	)

	m.SettingsTotal = f.NewGauge(
		prometheus.GaugeOpts{
			Name: "cfgstore_settings",
			Help: "Current number of settings",
		},
	)

	m.RevisionsTotal = f.NewGauge(
		prometheus.GaugeOpts{
			Name: "cfgstore_revisions",
			Help: "Current number of recorded revisions",
		},
	)

	m.SnapshotsByStatus = f.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cfgstore_snapshots",
			Help: "Current number of snapshots by status",
		},
		[]string{"status"},
	)

	m.PagesTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cfgstore_pages_total",
			Help: "Pages served by listing operation, split by whether the page was not modified",
		},
		[]string{"operation", "not_modified"},
	)

	m.EventsPublishedTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cfgstore_events_published_total",
			Help: "Change events handed to the event sink by outcome",
		},
		[]string{"sink", "outcome"},
	)

	m.ServerUptimeSeconds = f.NewGauge(
		prometheus.GaugeOpts{
			Name: "cfgstore_server_uptime_seconds",
			Help: "Server uptime in seconds",
		},
	)

	return m
}

// RunUptime updates the uptime gauge every interval until ctx ends.
func (m *Metrics) RunUptime(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		m.ServerUptimeSeconds.Set(time.Since(m.ServerStartTime).Seconds())
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RecordGrpcRequest records a gRPC request with its status
func (m *Metrics) RecordGrpcRequest(method string, status string, duration time.Duration) {
	m.GrpcRequestsTotal.WithLabelValues(method, status).Inc()
	m.GrpcRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordHTTPRequest records a REST request
func (m *Metrics) RecordHTTPRequest(method, route, code string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, route, code).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordStoreOperation records a store operation. outcome is the error kind,
// or "ok".
func (m *Metrics) RecordStoreOperation(operation, outcome string) {
	m.StoreOperationsTotal.WithLabelValues(operation, outcome).Inc()
}

// RecordPage counts a served page.
func (m *Metrics) RecordPage(operation string, notModified bool) {
	label := "false"
	if notModified {
		label = "true"
	}
	m.PagesTotal.WithLabelValues(operation, label).Inc()
}

// RecordEvent counts a published change event.
func (m *Metrics) RecordEvent(sink string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.EventsPublishedTotal.WithLabelValues(sink, outcome).Inc()
}

// UpdateStoreStats updates the size gauges
func (m *Metrics) UpdateStoreStats(settings, revisions int, snapshots map[string]int) {
	m.SettingsTotal.Set(float64(settings))
	m.RevisionsTotal.Set(float64(revisions))
	for status, n := range snapshots {
		m.SnapshotsByStatus.WithLabelValues(status).Set(float64(n))
	}
}
