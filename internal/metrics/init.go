package metrics

// InitializeMetrics pre-populates all expected label combinations so that
// every metric is exported from the first Prometheus scrape.
// Call this once at startup after metric registration.
func InitializeMetrics() {
	kinds := []string{"image", "video"}
	statuses := []string{"success", "missing_input", "invalid_parameter", "input_too_large", "engine_error", "resource_error", "unexpected_fault"}

	for _, k := range kinds {
		for _, s := range statuses {
			JobsTotal.WithLabelValues(k, s)
		}
		JobDuration.WithLabelValues(k)
		JobsInProgress.WithLabelValues(k)
		JobAdmissionWait.WithLabelValues(k)
		JobBytes.WithLabelValues(k, "in")
		JobBytes.WithLabelValues(k, "out")
	}

	for _, engine := range []string{"vips", "imaging", "ffmpeg"} {
		EngineInvocationsTotal.WithLabelValues(engine, "success")
		EngineInvocationsTotal.WithLabelValues(engine, "error")
		EngineDuration.WithLabelValues(engine)
	}

	for _, terminal := range []string{"true", "false"} {
		ProgressEventsTotal.WithLabelValues(terminal)
	}

	for _, op := range []string{"record_job", "get_job", "recent_jobs", "calculate_stats", "prune_jobs", "vacuum"} {
		DBQueryTotal.WithLabelValues(op, "success")
		DBQueryTotal.WithLabelValues(op, "error")
		DBQueryDuration.WithLabelValues(op)
	}

	for _, s := range []string{"succeeded", "failed"} {
		HistoryJobsRecorded.WithLabelValues(s)
	}

	for _, op := range []string{"remove", "read"} {
		FilesystemRetries.WithLabelValues(op, "success")
		FilesystemRetries.WithLabelValues(op, "failure")
	}
}
