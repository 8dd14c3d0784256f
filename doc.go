/*
Media-compressor is an HTTP service that re-encodes uploaded images and
videos and streams the smaller result back to the client.

Images are decoded and encoded in memory by libvips, or by the portable
imaging codec when IMAGE_ENGINE=imaging. Videos are written to a scratch
file, transcoded to H.264/AAC MP4 by ffmpeg (hardware encoders are used when
GPU_ACCEL finds one) and read back. Every job reports progress on a channel
that clients can follow over Server-Sent Events.

Usage:

	media-compressor

The server takes no flags. Configuration comes from the environment, and a
.env file (or ENV_FILE) is loaded first when present.

Routes:

	POST /api/compress-image        multipart image upload, returns the image
	POST /api/compress              alias of /api/compress-image
	POST /api/compress-video        multipart video upload, returns the MP4
	GET  /api/compress-progress     simulated progress stream (SSE)
	GET  /api/progress/{jobId}      progress of a running job (SSE)
	GET  /api/jobs, /api/jobs/{id}  job history
	GET  /api/stats                 aggregate history
	GET  /health, /livez, /readyz   probes

The environment variables are:

	PORT                  - HTTP port (default: 8080)
	METRICS_PORT          - Prometheus port (default: 9090)
	METRICS_ENABLED       - serve /metrics (default: true)
	SCRATCH_DIR           - temporary video files (default: ./temp)
	DATABASE_DIR          - job history database (default: ./data)
	HISTORY_ENABLED       - record finished jobs (default: true)
	MAX_UPLOAD_BYTES      - upload limit (default: 512MiB)
	ENGINE_TIMEOUT        - limit for one engine run (default: 10m)
	FFMPEG_PATH           - ffmpeg executable
	FFPROBE_PATH          - ffprobe executable
	GPU_ACCEL             - auto, none, nvidia, vaapi or videotoolbox
	IMAGE_ENGINE          - vips or imaging
	MAX_IMAGE_JOBS        - concurrent image jobs (default: CPU count)
	MAX_VIDEO_JOBS        - concurrent video jobs (default: half the CPUs, at most 8)
	RATE_LIMIT_RPS        - uploads per second per client
	RATE_LIMIT_BURST      - upload burst per client
	PROGRESS_INTERVAL     - simulated progress tick
	MEMORY_LIMIT          - container memory limit when no cgroup is visible
	MEMORY_RATIO          - share of the limit given to the Go heap (default: 0.75)
	LOG_LEVEL, LOG_FORMAT - logging

On startup the heap limit is set, orphaned scratch files older than a minute
are removed, and the engines are probed. New jobs wait while heap usage is
above the high water mark.

SIGINT or SIGTERM stops accepting requests, lets running jobs finish for up
to 30 seconds, kills any engine process still running and closes the
database.
*/
package main
