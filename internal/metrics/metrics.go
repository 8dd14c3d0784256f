package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_compressor_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_compressor_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPResponseBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_compressor_http_response_bytes_total",
			Help: "Response body bytes written, before transport compression",
		},
		[]string{"path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_compressor_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	HTTPRateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_compressor_http_rate_limited_total",
			Help: "Requests rejected by the upload rate limiter",
		},
		[]string{"path"},
	)
)

// Compression job metrics
var (
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_compressor_jobs_total",
			Help: "Total number of compression jobs by kind and outcome",
		},
		[]string{"kind", "status"}, // status: success, missing_input, engine_error, resource_error, unexpected_fault
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_compressor_job_duration_seconds",
			Help:    "End-to-end compression job duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"kind"},
	)

	JobsInProgress = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "media_compressor_jobs_in_progress",
			Help: "Number of compression jobs currently invoking an engine",
		},
		[]string{"kind"},
	)

	JobAdmissionWait = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_compressor_job_admission_wait_seconds",
			Help:    "Time a job waited for a concurrency slot",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 15, 60},
		},
		[]string{"kind"},
	)

	JobBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_compressor_job_bytes_total",
			Help: "Bytes received and produced by successful jobs",
		},
		[]string{"kind", "direction"}, // direction: in, out
	)
)

// Engine metrics
var (
	EngineInvocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_compressor_engine_invocations_total",
			Help: "Total number of codec engine invocations",
		},
		[]string{"engine", "status"},
	)

	EngineDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_compressor_engine_duration_seconds",
			Help:    "Codec engine invocation duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
		},
		[]string{"engine"},
	)

	EngineEncoder = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "media_compressor_engine_video_encoder",
			Help: "Video encoder selected at startup (1 = active)",
		},
		[]string{"encoder"},
	)
)

// Scratch storage metrics
var (
	ScratchFilesCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_compressor_scratch_paths_issued_total",
			Help: "Total number of scratch paths issued to jobs",
		},
	)

	ScratchFilesRemoved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_compressor_scratch_files_removed_total",
			Help: "Total number of scratch files deleted on scope release",
		},
	)

	ScratchReleaseErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_compressor_scratch_release_errors_total",
			Help: "Scratch files that could not be deleted on scope release",
		},
	)

	ScratchScopesActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_compressor_scratch_scopes_active",
			Help: "Number of scratch scopes currently held by jobs",
		},
	)

	ScratchSweptBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_compressor_scratch_swept_bytes_total",
			Help: "Bytes reclaimed by sweeping orphaned scratch files",
		},
	)

	ScratchDirBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_compressor_scratch_dir_bytes",
			Help: "Current size of the scratch directory in bytes",
		},
	)
)

// Memory metrics
var (
	MemoryUsageRatio = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_compressor_memory_usage_ratio",
			Help: "Heap in use as a fraction of the memory limit",
		},
	)

	MemoryPaused = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_compressor_memory_admission_paused",
			Help: "1 while job admission is paused for memory pressure",
		},
	)

	MemoryPauses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_compressor_memory_admission_pauses_total",
			Help: "Times job admission was paused for memory pressure",
		},
	)
)

// Filesystem retry metrics
var (
	FilesystemRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_compressor_filesystem_retries_total",
			Help: "Filesystem operations retried after a transient error",
		},
		[]string{"operation", "outcome"},
	)
)

// Progress metrics
var (
	ProgressChannelsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_compressor_progress_channels_active",
			Help: "Number of progress channels that have not reached their terminal event",
		},
	)

	ProgressEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_compressor_progress_events_total",
			Help: "Total number of progress events published",
		},
		[]string{"terminal"},
	)
)

// Job history database metrics
var (
	DBQueryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_compressor_db_queries_total",
			Help: "Total number of job history queries",
		},
		[]string{"operation", "status"},
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_compressor_db_query_duration_seconds",
			Help:    "Job history query duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)

	HistoryJobsRecorded = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "media_compressor_history_jobs",
			Help: "Jobs recorded in the history ledger by status",
		},
		[]string{"status"},
	)

	HistoryBytesSaved = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_compressor_history_bytes_saved",
			Help: "Total input minus output bytes across recorded successful jobs",
		},
	)
)

// Application info metric
var (
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "media_compressor_app_info",
			Help: "Application information",
		},
		[]string{"version", "commit", "go_version"},
	)
)

// SetAppInfo sets the application info metric
func SetAppInfo(version, commit, goVersion string) {
	AppInfo.WithLabelValues(version, commit, goVersion).Set(1)
}
