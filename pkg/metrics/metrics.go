package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Submission metrics
	BenchmarksSubmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xbatctld_benchmarks_submitted_total",
			Help: "Total number of benchmarks submitted by status",
		},
		[]string{"status"},
	)

	JobsSubmittedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "xbatctld_jobs_submitted_total",
			Help: "Total number of scheduler jobs submitted across all benchmarks",
		},
	)

	SubmissionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "xbatctld_submission_duration_seconds",
			Help:    "Time taken to expand and submit a benchmark",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Job lifecycle metrics
	JobStateTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xbatctld_job_state_transitions_total",
			Help: "Total number of job state transitions observed by the processing loop",
		},
		[]string{"state"},
	)

	JobsInFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "xbatctld_jobs_in_flight",
			Help: "Number of benchmarks dispatched to a processing loop since startup",
		},
		[]string{"benchmark_state"},
	)

	ProcessingCycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "xbatctld_processing_cycle_duration_seconds",
			Help:    "Time taken for one processing-loop iteration",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Registration loop metrics
	RegistrationCycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "xbatctld_registration_cycle_duration_seconds",
			Help:    "Time taken for one registration-loop iteration",
			Buckets: prometheus.DefBuckets,
		},
	)

	RegistrationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "xbatctld_registration_cycles_total",
			Help: "Total number of registration-loop iterations completed",
		},
	)

	WatchersSpawnedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "xbatctld_watchers_spawned_total",
			Help: "Total number of processing-loop watchers spawned",
		},
	)

	// Host bridge metrics
	HostBridgePoolSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "xbatctld_hostbridge_pool_size",
			Help: "Number of FIFO pipes discovered by the host bridge",
		},
	)

	HostBridgeInUse = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "xbatctld_hostbridge_in_use",
			Help: "Number of FIFO pipes currently checked out",
		},
	)

	HostBridgeCommandDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "xbatctld_hostbridge_command_duration_seconds",
			Help:    "Time taken to execute a command through the host bridge",
			Buckets: prometheus.DefBuckets,
		},
	)

	HostBridgeCommandsFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "xbatctld_hostbridge_commands_failed_total",
			Help: "Total number of host bridge command executions that failed",
		},
	)

	// Scheduler adapter metrics
	SchedulerRefreshDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "xbatctld_scheduler_refresh_duration_seconds",
			Help:    "Time taken to refresh scheduler state by resource kind",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"resource"},
	)

	SchedulerCacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xbatctld_scheduler_cache_hits_total",
			Help: "Total cache hits/misses against the scheduler adapter cache",
		},
		[]string{"resource", "result"},
	)

	// RPC surface metrics
	RPCRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xbatctld_rpc_requests_total",
			Help: "Total number of RPC requests by method and status",
		},
		[]string{"method", "status"},
	)

	RPCRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "xbatctld_rpc_request_duration_seconds",
			Help:    "RPC request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Document store metrics
	RunNumberAllocations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "xbatctld_run_number_allocations_total",
			Help: "Total number of run numbers allocated",
		},
	)

	JobIDAllocations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "xbatctld_job_id_allocations_total",
			Help: "Total number of job ids allocated by the gap-filling allocator",
		},
	)

	ReservedJobIDsSweptTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "xbatctld_reserved_job_ids_swept_total",
			Help: "Total number of expired job id reservations released",
		},
	)

	// Time-series gateway metrics
	MetricsQueryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "xbatctld_metricsdb_query_duration_seconds",
			Help:    "Time taken to execute a batch of time-series queries",
			Buckets: prometheus.DefBuckets,
		},
	)

	MetricsPurgeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "xbatctld_metricsdb_purge_duration_seconds",
			Help:    "Time taken for a time-series purge cycle",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
	)

	MetricsMaintenanceDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "xbatctld_metricsdb_maintenance_duration_seconds",
			Help:    "Time taken for a time-series maintenance cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	MetricsTablesPurgedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "xbatctld_metricsdb_tables_purged_total",
			Help: "Total number of time-series tables purged",
		},
	)
)

func init() {
	prometheus.MustRegister(BenchmarksSubmittedTotal)
	prometheus.MustRegister(JobsSubmittedTotal)
	prometheus.MustRegister(SubmissionDuration)
	prometheus.MustRegister(JobStateTransitionsTotal)
	prometheus.MustRegister(JobsInFlight)
	prometheus.MustRegister(ProcessingCycleDuration)
	prometheus.MustRegister(RegistrationCycleDuration)
	prometheus.MustRegister(RegistrationCyclesTotal)
	prometheus.MustRegister(WatchersSpawnedTotal)
	prometheus.MustRegister(HostBridgePoolSize)
	prometheus.MustRegister(HostBridgeInUse)
	prometheus.MustRegister(HostBridgeCommandDuration)
	prometheus.MustRegister(HostBridgeCommandsFailed)
	prometheus.MustRegister(SchedulerRefreshDuration)
	prometheus.MustRegister(SchedulerCacheHitsTotal)
	prometheus.MustRegister(RPCRequestsTotal)
	prometheus.MustRegister(RPCRequestDuration)
	prometheus.MustRegister(RunNumberAllocations)
	prometheus.MustRegister(JobIDAllocations)
	prometheus.MustRegister(ReservedJobIDsSweptTotal)
	prometheus.MustRegister(MetricsQueryDuration)
	prometheus.MustRegister(MetricsPurgeDuration)
	prometheus.MustRegister(MetricsMaintenanceDuration)
	prometheus.MustRegister(MetricsTablesPurgedTotal)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
