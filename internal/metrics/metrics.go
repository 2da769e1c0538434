package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ── HTTP request metrics (RED method) ──────────────────────────────────

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "yield_hub",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"method", "path", "status_code"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "yield_hub",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})

	HTTPRequestsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "yield_hub",
		Subsystem: "http",
		Name:      "requests_in_flight",
		Help:      "Number of HTTP requests currently being processed.",
	})
)

// ── Yield cache metrics ────────────────────────────────────────────────

var (
	LocalRefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "yield_hub",
		Subsystem: "local",
		Name:      "refresh_total",
		Help:      "Local yield refresh attempts by outcome.",
	}, []string{"status"})

	LocalAPYBps = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "yield_hub",
		Subsystem: "local",
		Name:      "apy_bps",
		Help:      "Last cached local supply APY in basis points.",
	}, []string{"token"})

	RemoteAPYBps = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "yield_hub",
		Subsystem: "remote",
		Name:      "apy_bps",
		Help:      "Last cached remote supply APY in basis points.",
	}, []string{"token"})

	ReadingAge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "yield_hub",
		Subsystem: "cache",
		Name:      "reading_age_seconds",
		Help:      "Age of the cached reading per token and side.",
	}, []string{"token", "side"})
)

// ── Request lifecycle metrics ──────────────────────────────────────────

var (
	RemoteRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "yield_hub",
		Subsystem: "requests",
		Name:      "total",
		Help:      "Cross-chain request lifecycle events (issued, completed, failed, expired, send_failed).",
	}, []string{"outcome"})

	ReceiveRejectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "yield_hub",
		Subsystem: "receive",
		Name:      "rejects_total",
		Help:      "Inbound messages rejected before applying, by reason.",
	}, []string{"reason"})
)

// ── Scout metrics ──────────────────────────────────────────────────────

var (
	ScoutRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "yield_hub",
		Subsystem: "scout",
		Name:      "requests_total",
		Help:      "Requests handled by the scout, by outcome.",
	}, []string{"outcome"})
)
