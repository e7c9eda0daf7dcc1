package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Sync metrics
	SyncRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reclaimarr_sync_runs_total",
			Help: "Library sync runs by terminal status",
		},
		[]string{"status"},
	)

	SyncItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reclaimarr_sync_items_total",
			Help: "Catalog items upserted by the library sync",
		},
		[]string{"server", "result"}, // "created", "updated", "failed"
	)

	SyncOrphansRemoved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reclaimarr_sync_orphans_removed_total",
			Help: "Catalog items removed because they vanished from the media server",
		},
	)

	SyncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reclaimarr_sync_duration_seconds",
			Help:    "Duration of library sync runs",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
	)

	// Endpoint resolution metrics
	EndpointResolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reclaimarr_endpoint_resolutions_total",
			Help: "Media server endpoint resolutions by outcome",
		},
		[]string{"server", "result"}, // "cached", "discovered", "offline"
	)

	EndpointLatency = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "reclaimarr_endpoint_latency_ms",
			Help: "Latency of the last successful connection to a media server",
		},
		[]string{"server"},
	)

	// Deletion metrics
	Deletions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reclaimarr_deletions_total",
			Help: "Cascade deletions by overall status",
		},
		[]string{"status", "dry_run"},
	)

	DeletionTargets = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reclaimarr_deletion_targets_total",
			Help: "Cascade deletion steps by target and outcome",
		},
		[]string{"target", "outcome"}, // "success", "skipped", "failed"
	)

	ReclaimedBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reclaimarr_reclaimed_bytes_total",
			Help: "Bytes freed by executed deletions",
		},
	)

	// Watch history metrics
	WatchHistoryRecords = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reclaimarr_watch_history_records_total",
			Help: "Watch history records processed",
		},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "reclaimarr_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)
)
