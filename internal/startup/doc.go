// Package startup handles application initialization, configuration loading,
// and startup/shutdown logging.
//
// # Configuration
//
// [LoadConfig] reads an optional .env file (path in ENV_FILE) and then the
// environment:
//
//   - PORT: HTTP server port (default: 8080)
//   - METRICS_PORT / METRICS_ENABLED: Prometheus server (default: 9090, true)
//   - SCRATCH_DIR: per-job temporary files (default: ./temp)
//   - DATABASE_DIR / HISTORY_ENABLED: job history ledger (default: ./data, true)
//   - MAX_UPLOAD_BYTES: request body limit, e.g. 512MiB (default: 512MiB)
//   - ENGINE_TIMEOUT: limit for one engine call (default: 10m)
//   - GPU_ACCEL: auto, nvidia, vaapi, videotoolbox or none (default: auto)
//   - IMAGE_ENGINE: vips or imaging (default: vips)
//   - MAX_IMAGE_JOBS / MAX_VIDEO_JOBS: concurrency overrides
//   - RATE_LIMIT_RPS / RATE_LIMIT_BURST: upload rate limit (default: 5, 10)
//   - PROGRESS_INTERVAL: simulated progress cadence (default: 500ms)
//   - LOG_STATIC_FILES / LOG_HEALTH_CHECKS: access log filters
//   - FFMPEG_PATH / FFPROBE_PATH: explicit engine locations
//
// # Engine Discovery
//
// ffmpeg and ffprobe are resolved once with [ResolveEngine]: the override
// variable, then PATH, then [DefaultEngineDirs]. The result is an immutable
// [EnginePath]; a missing engine does not stop the server, and its error is
// returned by the first video job instead.
//
// # Directory Setup
//
// The scratch directory is required and must be writable. The database
// directory is optional; when it cannot be written job history is disabled.
package startup
