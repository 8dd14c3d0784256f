// Package metrics provides Prometheus instrumentation for the media compressor.
//
// All metrics are prefixed with "media_compressor_" and registered with the
// default registry through promauto.
//
// # Metric Categories
//
// ## HTTP Metrics
//
//   - HTTPRequestsTotal: Counter of requests by method, path, and status
//   - HTTPRequestDuration: Histogram of request duration by method and path
//   - HTTPRequestsInFlight: Gauge of currently processing requests
//   - HTTPRateLimited: Counter of uploads rejected by the rate limiter
//
// ## Job Metrics
//
//   - JobsTotal: Counter by kind (image/video) and outcome
//   - JobDuration: Histogram of end-to-end job time by kind
//   - JobsInProgress: Gauge of jobs currently inside an engine
//   - JobAdmissionWait: Histogram of time spent waiting for a concurrency slot
//   - JobBytes: Counter of bytes in and out of successful jobs
//
// ## Engine Metrics
//
//   - EngineInvocationsTotal: Counter by engine (vips/imaging/ffmpeg) and status
//   - EngineDuration: Histogram of engine call duration
//   - EngineEncoder: Gauge naming the video encoder chosen at startup
//
// ## Scratch Metrics
//
//   - ScratchFilesCreated / ScratchFilesRemoved: paths issued and deleted
//   - ScratchReleaseErrors: deletions that failed during scope release
//   - ScratchScopesActive: scopes currently held
//   - ScratchSweptBytes: bytes reclaimed from orphaned files
//   - ScratchDirBytes: sampled scratch directory size
//
// ## Progress and History Metrics
//
//   - ProgressChannelsActive, ProgressEventsTotal
//   - DBQueryTotal, DBQueryDuration, HistoryJobsRecorded, HistoryBytesSaved
//
// # Collector
//
// [Collector] periodically samples the job history ledger and the scratch
// directory size:
//
//	collector := metrics.NewCollector(db, scratchManager, time.Minute)
//	collector.Start()
//	defer collector.Stop()
//
// # Prometheus Queries
//
// Video failure ratio:
//
//	sum(rate(media_compressor_jobs_total{kind="video",status!="success"}[5m])) /
//	sum(rate(media_compressor_jobs_total{kind="video"}[5m]))
//
// Scratch files that survived release (should stay at zero):
//
//	increase(media_compressor_scratch_release_errors_total[1h])
package metrics
