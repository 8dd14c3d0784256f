// Command compress runs the media compression pipeline on local files.
//
// It drives the same job controller as the HTTP service, so option
// normalization, scratch handling, engine selection and error messages are
// identical. Progress events from the job are rendered as they arrive.
//
// Usage:
//
//	compress <command> [flags]
//
// Commands:
//
//	image <file>   Re-encode an image (jpeg, png, webp or avif) and
//	               optionally fit it inside --max-width x --max-height.
//
//	video <file>   Re-encode a video to H.264/AAC MP4 with ffmpeg.
//	               Progress follows the encoder's position in the input.
//
//	batch <dir>    Compress every image and video in a directory on a
//	               pool of workers. --recursive descends into
//	               subdirectories; --output-dir mirrors the layout
//	               elsewhere. Earlier results are skipped.
//
//	progress       Run the simulated progress stream. --sse prints the
//	               frames exactly as /api/compress-progress sends them.
//
// Results are written next to the input as compressed-<name>.<ext> unless
// -o is given; -o - writes the artifact to stdout and suppresses progress.
//
// Environment:
//
//	FFMPEG_PATH, FFPROBE_PATH - engine executables (default: PATH, then
//	                            /opt/homebrew/bin, /usr/local/bin, /usr/bin)
//	SCRATCH_DIR               - default for --scratch-dir
//	IMAGE_ENGINE, GPU_ACCEL   - defaults for --image-engine and --gpu-accel
//	BATCH_WORKERS             - default for batch --workers
//	MAX_VIDEO_JOBS            - ffmpeg processes a batch may run at once
//	LOG_LEVEL, LOG_FORMAT     - logging, as for the server
package main
