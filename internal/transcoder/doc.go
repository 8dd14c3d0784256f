// Package transcoder drives the external codec engines.
//
// [Transcoder] runs ffmpeg against a file: it probes the input with
// ffprobe, picks a hardware H.264 encoder when one works (NVENC, VA-API or
// VideoToolbox, see GPU_ACCEL) and falls back to libx264, and writes a
// faststart MP4 with yuv420p pixels. [Transcoder.Start] returns a [Handle]
// that resolves exactly once after the process exits. Progress is read
// from ffmpeg's -progress stream and the last stderr lines are kept so a
// failure carries the engine's own diagnostic in its [EngineError].
//
// [Invoker] puts the image codec and the video engine behind one
// capability used by the job controller.
package transcoder
