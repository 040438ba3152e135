package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "oft"

var (
	// HTTP
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, route and status",
	}, []string{"method", "route", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	// Transfers
	TransfersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transfers_total",
		Help:      "Transfers by direction, endpoint and outcome",
	}, []string{"direction", "eid", "outcome"})

	TransferFailuresByReason = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transfer_failures_total",
		Help:      "Failed transfers by reason",
	}, []string{"direction", "reason"})

	SendDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "send_duration_seconds",
		Help:      "Time spent executing a send",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	}, []string{"eid"})

	// Rate limiting
	RateLimitRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limit_rejections_total",
		Help:      "Sends rejected by the per-destination rate limit",
	}, []string{"eid"})

	RateLimitAvailable = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "rate_limit_available",
		Help:      "Amount that can still be sent in the current window (local decimals, float approximation)",
	}, []string{"eid"})

	RateLimitInFlight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "rate_limit_in_flight",
		Help:      "Amount consumed in the current window (local decimals, float approximation)",
	}, []string{"eid"})

	// Custody and replay
	CustodyInvariantViolations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "custody_invariant_violations_total",
		Help:      "Unlocks that found less custody than required",
	})

	DuplicateMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "duplicate_messages_total",
		Help:      "Inbound deliveries rejected as replays",
	}, []string{"src_eid"})

	DispatchUnknown = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dispatch_unknown_total",
		Help:      "Sends committed with an unconfirmed channel dispatch, by resolution",
	}, []string{"stage"})

	// Relay client
	RelayRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "relay_requests_total",
		Help:      "Requests to the relay API by operation and outcome",
	}, []string{"operation", "outcome"})

	// Database
	DatabaseConnectionsGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "database_connections",
		Help:      "Database connection pool stats",
	}, []string{"state"})
)

// RecordTransfer counts a transfer outcome for an endpoint
func RecordTransfer(direction string, eid uint32, outcome string) {
	TransfersTotal.WithLabelValues(direction, EidLabel(eid), outcome).Inc()
}

// EidLabel formats an endpoint id for use as a label value
func EidLabel(eid uint32) string {
	return strconv.FormatUint(uint64(eid), 10)
}
