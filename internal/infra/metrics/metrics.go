// Package metrics provides the Prometheus metrics the viewer's optional
// /metrics endpoint exposes: visit throughput, persistence outcomes,
// queue depths, and worker/proxy health counters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Visits ─────────────────────────────────────────────────────────────

// VisitsCompleted tracks successful visits by kind (spawn, mystery,
// bootstrap).
var VisitsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "overwatch",
	Name:      "visits_completed_total",
	Help:      "Total completed scan visits.",
}, []string{"kind"})

// VisitsFailed tracks failed visits by error code (C/I/L/T/K).
var VisitsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "overwatch",
	Name:      "visits_failed_total",
	Help:      "Total failed scan visits, by error code.",
}, []string{"code"})

// VisitLatency tracks per-visit duration in seconds.
var VisitLatency = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "overwatch",
	Name:      "visit_latency_seconds",
	Help:      "Scan visit duration in seconds.",
	Buckets:   prometheus.DefBuckets,
})

// ─── Persistence ────────────────────────────────────────────────────────

// SightingsInserted tracks newly inserted sightings.
var SightingsInserted = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "overwatch",
	Name:      "sightings_inserted_total",
	Help:      "Total sightings inserted into storage.",
})

// SightingsRedundant tracks sightings skipped as already-known.
var SightingsRedundant = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "overwatch",
	Name:      "sightings_redundant_total",
	Help:      "Total sighting inserts skipped as duplicates.",
})

// LongSpawnsUpserted tracks long-spawn upserts.
var LongSpawnsUpserted = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "overwatch",
	Name:      "longspawns_upserted_total",
	Help:      "Total long-spawn rows upserted.",
})

// FortsUpserted tracks landmark upserts.
var FortsUpserted = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "overwatch",
	Name:      "forts_upserted_total",
	Help:      "Total landmark rows upserted.",
})

// PipelineQueueDepth tracks the persistence pipeline's pending item count.
var PipelineQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "overwatch",
	Name:      "pipeline_queue_depth",
	Help:      "Pending items in the persistence pipeline queue.",
})

// ─── Pools ──────────────────────────────────────────────────────────────

// CaptchaQueueSize tracks accounts pending captcha resolution.
var CaptchaQueueSize = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "overwatch",
	Name:      "captcha_queue_size",
	Help:      "Accounts currently pending captcha resolution.",
})

// ExtraQueueSize tracks accounts ready for assignment.
var ExtraQueueSize = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "overwatch",
	Name:      "extra_queue_size",
	Help:      "Accounts currently ready for assignment.",
})

// ProxyRotations tracks circuit-rotation requests.
var ProxyRotations = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "overwatch",
	Name:      "proxy_rotations_total",
	Help:      "Total proxy circuit rotations requested.",
})

// AccountSwaps tracks account swap events by reason.
var AccountSwaps = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "overwatch",
	Name:      "account_swaps_total",
	Help:      "Total worker account swaps, by reason.",
}, []string{"reason"})

// WorkersBusy tracks the number of workers currently visiting a point.
var WorkersBusy = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "overwatch",
	Name:      "workers_busy",
	Help:      "Number of workers currently holding the busy lock.",
})

// ─── Notifications ──────────────────────────────────────────────────────

// NotificationsSent tracks successfully dispatched notifications.
var NotificationsSent = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "overwatch",
	Name:      "notifications_sent_total",
	Help:      "Total notifications successfully dispatched.",
})

// NotificationsSuppressed tracks dedup/eligibility suppressions.
var NotificationsSuppressed = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "overwatch",
	Name:      "notifications_suppressed_total",
	Help:      "Total notifications suppressed, by reason.",
}, []string{"reason"})

// ─── Health ─────────────────────────────────────────────────────────────

// HealthCheckStatus tracks health check results (1=healthy, 0=unhealthy).
var HealthCheckStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "overwatch",
	Name:      "health_check_status",
	Help:      "Health check result per component (1=healthy, 0=unhealthy).",
}, []string{"check"})

// HealthRecoveries tracks auto-recovery attempts.
var HealthRecoveries = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "overwatch",
	Name:      "health_recoveries_total",
	Help:      "Total auto-recovery attempts per check.",
}, []string{"check"})
