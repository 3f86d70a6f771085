// Package metrics holds the Prometheus collectors for wishlist domain events.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Reservation write results.
const (
	ResultApplied  = "applied"
	ResultConflict = "conflict"
	ResultFailed   = "failed"
)

var (
	// WriteFailures counts fire-and-forget writes that failed in the background.
	WriteFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wishlist_write_failures_total",
			Help: "Total number of background writes that failed",
		},
		[]string{"op"},
	)

	// WritesQueued counts writes accepted by the background writer.
	WritesQueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wishlist_writes_queued_total",
			Help: "Total number of writes queued for background execution",
		},
		[]string{"op"},
	)

	// ReservationWrites counts reservation patches by mode and result.
	ReservationWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wishlist_reservation_writes_total",
			Help: "Total number of reservation writes by mode and result",
		},
		[]string{"mode", "result"},
	)

	// SubscriptionErrors counts live-query refreshes that failed and emitted nothing.
	SubscriptionErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wishlist_subscription_errors_total",
			Help: "Total number of failed subscription refreshes",
		},
		[]string{"subscription"},
	)

	// ActiveSubscriptions tracks live subscriptions.
	ActiveSubscriptions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "wishlist_active_subscriptions",
			Help: "Number of live subscriptions",
		},
		[]string{"subscription"},
	)

	// ChangeEvents counts document changes published by the store.
	ChangeEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wishlist_change_events_total",
			Help: "Total number of document change events",
		},
		[]string{"collection", "op"},
	)

	// FeedClients tracks connected change-feed WebSocket clients.
	FeedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wishlist_feed_clients",
			Help: "Number of connected change-feed clients",
		},
	)
)

// HTTP collectors, labelled by route template rather than raw path.
var (
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wishlist_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wishlist_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	HTTPInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wishlist_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	// HTTPPanics counts handler panics turned into 500 responses.
	HTTPPanics = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wishlist_http_panics_total",
			Help: "Total number of recovered handler panics",
		},
	)

	// IdentityRejections counts requests refused for a malformed identity header.
	IdentityRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wishlist_identity_rejections_total",
			Help: "Total number of requests with a malformed identity header",
		},
	)
)
