// Package metrics defines all custom Prometheus metrics for the storefront
// client core. It is the single source of truth for metric names, labels, and
// help strings; metrics register themselves with the default registry on
// import via promauto.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "storefront"

// ── Tracking channel metrics ──────────────────────────────────────────────────

// FramesForwardedTotal counts validated position events delivered to sinks.
var FramesForwardedTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tracking_frames_forwarded_total",
		Help:      "Total number of position frames forwarded to registered sinks.",
	},
)

// FramesDroppedTotal counts inbound frames discarded before reaching a sink.
// Label:
//   - reason: "parse_error" (not valid JSON) or "missing_coords" (partial event)
var FramesDroppedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tracking_frames_dropped_total",
		Help:      "Total number of inbound frames dropped, labelled by reason.",
	},
	[]string{"reason"},
)

// ReconnectsTotal counts reconnect attempts made by tracking sessions.
// Label:
//   - result: "ok" or "failed"
var ReconnectsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tracking_reconnects_total",
		Help:      "Total number of tracking channel reconnect attempts, by result.",
	},
	[]string{"result"},
)

// SessionsOpen tracks the number of live tracking sessions.
var SessionsOpen = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "tracking_sessions_open",
		Help:      "Current number of open tracking sessions.",
	},
)

// ── Location resolver metrics ─────────────────────────────────────────────────

// GeocodeRequestsTotal counts geocode/serviceability round-trips.
// Label:
//   - result: "serviceable", "not_serviceable", or "error"
var GeocodeRequestsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "geocode_requests_total",
		Help:      "Total number of geocode/serviceability requests, by outcome.",
	},
	[]string{"result"},
)

// GeocodeSupersededTotal counts in-flight geocode requests aborted because a
// newer settle event replaced them.
var GeocodeSupersededTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "geocode_superseded_total",
		Help:      "Total number of geocode requests cancelled by a newer settle event.",
	},
)

// BindingsCommittedTotal counts serviceability bindings written to the store.
var BindingsCommittedTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bindings_committed_total",
		Help:      "Total number of serviceability bindings committed.",
	},
)

// BindingsClearedTotal counts bindings removed after a not-serviceable verdict
// or an explicit logout.
var BindingsClearedTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bindings_cleared_total",
		Help:      "Total number of serviceability bindings cleared.",
	},
)
