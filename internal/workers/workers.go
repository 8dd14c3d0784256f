package workers

import (
	"os"
	"runtime"
	"strconv"
)

// Environment variables that override the derived job concurrency.
const (
	EnvImageJobs = "MAX_IMAGE_JOBS"
	EnvVideoJobs = "MAX_VIDEO_JOBS"
)

// Count returns the number of concurrent jobs for a workload, derived from
// GOMAXPROCS so container CPU limits are respected.
//
// The multiplier adjusts for the workload:
//   - 1.0 for in-process CPU work (image codecs)
//   - 0.5 for external processes that are themselves multi-threaded (ffmpeg)
//
// A positive integer in envKey overrides the calculation. limit caps the
// result; 0 means no cap.
func Count(envKey string, multiplier float64, limit int) int {
	if envKey != "" {
		if override := os.Getenv(envKey); override != "" {
			if count, err := strconv.Atoi(override); err == nil && count > 0 {
				if limit > 0 && count > limit {
					return limit
				}
				return count
			}
		}
	}

	// GOMAXPROCS is automatically set to container CPU limit in Go 1.19+
	available := runtime.GOMAXPROCS(0)

	workers := int(float64(available) * multiplier)

	if workers < 1 {
		workers = 1
	}
	if limit > 0 && workers > limit {
		workers = limit
	}

	return workers
}

// ForImages returns how many image jobs may encode at once (1 per CPU).
func ForImages(limit int) int {
	return Count(EnvImageJobs, 1.0, limit)
}

// ForVideos returns how many ffmpeg processes may run at once. Each one
// already uses several threads, so the default is one per two CPUs.
func ForVideos(limit int) int {
	return Count(EnvVideoJobs, 0.5, limit)
}
