package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Task metrics
	TasksTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "taskcore_tasks_total",
			Help: "Total number of tasks by status",
		},
		[]string{"status"},
	)

	TaskListsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "taskcore_task_lists_total",
			Help: "Total number of task lists by status",
		},
		[]string{"status"},
	)

	TasksEscalatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "taskcore_tasks_escalated_total",
			Help: "Total number of tasks that reached the consecutive failure escalation threshold",
		},
	)

	TasksBlockedTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "taskcore_tasks_blocked_total",
			Help: "Total number of tasks currently blocked transitively by an escalated dependency",
		},
	)

	// Worker / supervisor metrics
	WorkersActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "taskcore_workers_active",
			Help: "Number of currently running worker processes",
		},
	)

	WorkersSpawnedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "taskcore_workers_spawned_total",
			Help: "Total number of worker processes spawned",
		},
	)

	WorkersSpawnFailedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "taskcore_workers_spawn_failed_total",
			Help: "Total number of worker spawn attempts that failed",
		},
	)

	WorkersTerminatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskcore_workers_terminated_total",
			Help: "Total number of worker processes terminated by reason",
		},
		[]string{"reason"},
	)

	HeartbeatsReceivedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "taskcore_heartbeats_received_total",
			Help: "Total number of heartbeats received from workers",
		},
	)

	MissedHeartbeatsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "taskcore_missed_heartbeats_total",
			Help: "Total number of missed heartbeat checks across all workers",
		},
	)

	// Planner metrics
	SchedulingLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "taskcore_scheduling_latency_seconds",
			Help:    "Time taken to plan a wave in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	WaveWidth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "taskcore_wave_width",
			Help: "Number of tasks in the most recently planned wave",
		},
	)

	CyclesDetectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "taskcore_cycles_detected_total",
			Help: "Total number of dependency cycles detected during planning",
		},
	)

	// Gatekeeper metrics
	ReadinessScoreDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "taskcore_readiness_score_duration_seconds",
			Help:    "Time taken to compute a readiness score in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ConflictsDetectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "taskcore_conflicts_detected_total",
			Help: "Total number of blocking file conflicts detected between candidate tasks",
		},
	)

	// Cascade metrics
	CascadesAppliedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskcore_cascades_applied_total",
			Help: "Total number of cascade effects applied by trigger kind",
		},
		[]string{"trigger"},
	)

	CascadesQueuedForReviewTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "taskcore_cascades_queued_for_review_total",
			Help: "Total number of cascade effects queued for manual review instead of auto-applied",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskcore_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "taskcore_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Failure engine metrics
	InspectionAgentCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskcore_inspection_agent_calls_total",
			Help: "Total number of external inspection agent calls by outcome",
		},
		[]string{"outcome"},
	)

	InspectionAgentDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "taskcore_inspection_agent_duration_seconds",
			Help:    "Time taken by external inspection agent calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(TasksTotal)
	prometheus.MustRegister(TaskListsTotal)
	prometheus.MustRegister(TasksEscalatedTotal)
	prometheus.MustRegister(TasksBlockedTotal)

	prometheus.MustRegister(WorkersActive)
	prometheus.MustRegister(WorkersSpawnedTotal)
	prometheus.MustRegister(WorkersSpawnFailedTotal)
	prometheus.MustRegister(WorkersTerminatedTotal)
	prometheus.MustRegister(HeartbeatsReceivedTotal)
	prometheus.MustRegister(MissedHeartbeatsTotal)

	prometheus.MustRegister(SchedulingLatency)
	prometheus.MustRegister(WaveWidth)
	prometheus.MustRegister(CyclesDetectedTotal)

	prometheus.MustRegister(ReadinessScoreDuration)
	prometheus.MustRegister(ConflictsDetectedTotal)

	prometheus.MustRegister(CascadesAppliedTotal)
	prometheus.MustRegister(CascadesQueuedForReviewTotal)

	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)

	prometheus.MustRegister(InspectionAgentCallsTotal)
	prometheus.MustRegister(InspectionAgentDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
