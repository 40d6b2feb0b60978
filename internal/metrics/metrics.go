// Package metrics holds the Prometheus instrumentation shared by the API
// client and the update coordinator.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// APIRequests counts logical API calls by final outcome. A call that
	// retried internally still counts once.
	APIRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tdp_api_requests_total",
		Help: "Logical data API requests by outcome",
	}, []string{"outcome"})

	// APIRetries counts individual transient attempts that were retried.
	APIRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tdp_api_retries_total",
		Help: "Transient API attempts that triggered a retry",
	})

	// TokenRefreshes counts token refresh attempts by result.
	TokenRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tdp_token_refreshes_total",
		Help: "OAuth token refresh attempts by result",
	}, []string{"result"})

	// PollCycles counts coordinator poll cycles by result.
	PollCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tdp_poll_cycles_total",
		Help: "Update coordinator poll cycles by result",
	}, []string{"result"})

	// CycleDuration observes wall-clock duration of poll cycles.
	CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tdp_poll_cycle_duration_seconds",
		Help:    "Duration of one full poll cycle",
		Buckets: prometheus.DefBuckets,
	})

	// SnapshotHomes and SnapshotDevices track the size of the last
	// published snapshot.
	SnapshotHomes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tdp_snapshot_homes",
		Help: "Homes in the last published snapshot",
	})
	SnapshotDevices = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tdp_snapshot_devices",
		Help: "Devices in the last published snapshot",
	})

	// DevicesSkipped counts devices dropped from a cycle because their
	// payload failed to map.
	DevicesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tdp_devices_skipped_total",
		Help: "Devices skipped due to malformed payloads",
	})

	// TokenValid reports whether the current access token is believed
	// valid (1) or expired/unusable (0).
	TokenValid = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tdp_token_valid",
		Help: "Whether the current access token is valid",
	})
)

const (
	OutcomeSuccess   = "success"
	OutcomePermanent = "permanent"
	OutcomeExhausted = "exhausted"

	ResultSuccess = "success"
	ResultFailure = "failure"
)
