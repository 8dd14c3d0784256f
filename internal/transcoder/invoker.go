package transcoder

import (
	"context"
	"errors"
	"time"

	"media-compressor/internal/media"
	"media-compressor/internal/metrics"
	"media-compressor/internal/options"
	"media-compressor/internal/progress"
)

// errNoVideoEngine is returned when no Transcoder was configured.
var errNoVideoEngine = errors.New("video engine not configured")

// Invoker is the single capability the job controller talks to: an
// in-memory image codec plus the file-based video engine. Every failure
// it returns is an *EngineError. It never retries.
type Invoker struct {
	images media.Codec
	video  *Transcoder
}

// NewInvoker combines an image codec and a video engine.
func NewInvoker(images media.Codec, video *Transcoder) *Invoker {
	return &Invoker{images: images, video: video}
}

// ImageEngine returns the image codec name.
func (i *Invoker) ImageEngine() string {
	if i.images == nil {
		return ""
	}
	return i.images.Name()
}

// TranscodeImage re-encodes input in memory.
func (i *Invoker) TranscodeImage(ctx context.Context, input []byte, cfg options.ImageConfig, _ progress.Reporter) (*media.Output, error) {
	if i.images == nil {
		return nil, errorf("image", nil, "image engine not configured")
	}

	engine := i.images.Name()
	start := time.Now()
	out, err := i.images.Encode(ctx, input, cfg)
	observe(engine, start, err)

	if err != nil {
		return nil, wrapEngineError(engine, err)
	}
	return out, nil
}

// TranscodeVideo encodes inputPath into outputPath and returns once the
// engine process has exited, even when ctx is cancelled, so the caller
// can safely delete both paths afterwards.
func (i *Invoker) TranscodeVideo(ctx context.Context, inputPath, outputPath string, cfg options.VideoConfig, reporter progress.Reporter) error {
	if i.video == nil {
		return errorf(EngineFFmpeg, errNoVideoEngine, "%v", errNoVideoEngine)
	}

	start := time.Now()
	h, err := i.video.Start(ctx, Job{
		ID:       outputPath,
		Input:    inputPath,
		Output:   outputPath,
		Config:   cfg,
		Progress: reporter,
	})
	if err == nil {
		err = h.Wait()
	}
	observe(EngineFFmpeg, start, err)

	return wrapEngineError(EngineFFmpeg, err)
}

// VideoAvailable returns why video jobs cannot run, or nil.
func (i *Invoker) VideoAvailable() error {
	if i.video == nil {
		return errNoVideoEngine
	}
	return i.video.Available()
}

// VideoEncoder returns the encoder video jobs use, or "" when there is no
// video engine.
func (i *Invoker) VideoEncoder() string {
	if i.video == nil {
		return ""
	}
	return i.video.Encoder()
}

func observe(engine string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.EngineInvocationsTotal.WithLabelValues(engine, status).Inc()
	metrics.EngineDuration.WithLabelValues(engine).Observe(time.Since(start).Seconds())
}
