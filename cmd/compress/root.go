package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"media-compressor/internal/compression"
	"media-compressor/internal/logging"
	"media-compressor/internal/media"
	"media-compressor/internal/scratch"
	"media-compressor/internal/startup"
	"media-compressor/internal/transcoder"
	"media-compressor/internal/workers"
)

// globalOptions are the persistent flags shared by every subcommand.
type globalOptions struct {
	scratchDir  string
	imageEngine string
	gpuAccel    string
	timeout     time.Duration
	logFile     string
	quiet       bool
}

func newRootCmd() *cobra.Command {
	g := &globalOptions{}

	root := &cobra.Command{
		Use:   "compress",
		Short: "Compress images and videos from the command line",
		Long: `compress runs the media compression pipeline on local files.

Images are re-encoded in memory with libvips (or the portable imaging codec);
videos are re-encoded to H.264/AAC MP4 by ffmpeg. Progress is drawn in place
when stdout is a terminal and printed one event per line otherwise.

Example usage:
  compress image photo.jpg --format webp --quality 70
  compress image scan.png --max-width 1600 -o small.png
  compress video clip.mov --video-bitrate 800k --max-height 720
  compress batch ~/Pictures --recursive --quality 70 --output-dir out
  compress progress --interval 200ms`,
		Version:       startup.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return g.setupLogging()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&g.scratchDir, "scratch-dir", defaultScratchDir(), "directory for temporary video files")
	flags.StringVar(&g.imageEngine, "image-engine", envOr("IMAGE_ENGINE", media.EngineVips), "image engine: vips or imaging")
	flags.StringVar(&g.gpuAccel, "gpu-accel", envOr("GPU_ACCEL", string(transcoder.GPUAccelAuto)), "hardware encoding: auto, none, nvidia, vaapi or videotoolbox")
	flags.DurationVar(&g.timeout, "timeout", startup.DefaultEngineTimeout, "limit for one engine run (0 disables)")
	flags.StringVar(&g.logFile, "log-file", "", "append logs to this file instead of stderr")
	flags.BoolVarP(&g.quiet, "quiet", "q", false, "do not render progress")

	root.AddCommand(
		newImageCmd(g),
		newVideoCmd(g),
		newBatchCmd(g),
		newProgressCmd(g),
	)

	return root
}

func defaultScratchDir() string {
	return envOr("SCRATCH_DIR", filepath.Join(os.TempDir(), "media-compressor"))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (g *globalOptions) setupLogging() error {
	if g.logFile == "" {
		return nil
	}
	f, err := os.OpenFile(g.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	logging.SetOutput(f)
	return nil
}

// pipeline is a controller wired to local engines.
type pipeline struct {
	controller *compression.Controller
	trans      *transcoder.Transcoder
	vips       bool
}

// newPipeline builds the engines the way the server does, admitting up to
// jobs concurrent jobs. Close must be called when the command is done.
func (g *globalOptions) newPipeline(jobs int) (*pipeline, error) {
	if err := os.MkdirAll(g.scratchDir, 0o755); err != nil {
		return nil, fmt.Errorf("scratch directory: %w", err)
	}
	if err := startup.CheckWritable(g.scratchDir); err != nil {
		return nil, fmt.Errorf("scratch directory is not writable: %w", err)
	}

	p := &pipeline{}

	if !strings.EqualFold(g.imageEngine, media.EngineImaging) {
		if err := media.InitVips(0); err != nil {
			logging.Warn("Failed to initialize libvips: %v", err)
		} else {
			p.vips = true
		}
	}

	p.trans = transcoder.New(transcoder.Options{
		FFmpeg:   startup.ResolveEngine("ffmpeg", "FFMPEG_PATH", startup.DefaultEngineDirs),
		FFprobe:  startup.ResolveEngine("ffprobe", "FFPROBE_PATH", startup.DefaultEngineDirs),
		GPUAccel: g.gpuAccel,
		Timeout:  g.timeout,
	})
	invoker := transcoder.NewInvoker(media.NewCodec(g.imageEngine), p.trans)
	logging.Debug("Image engine: %s, video encoder: %s", invoker.ImageEngine(), invoker.VideoEncoder())

	limiter := compression.NewLimiter(max(jobs, 1), workers.ForVideos(max(jobs, 1)))
	p.controller = compression.NewController(invoker, scratch.NewManager(g.scratchDir), limiter, nil)
	return p, nil
}

// Close stops any engine process still running.
func (p *pipeline) Close() {
	p.trans.Cleanup()
	if p.vips {
		media.ShutdownVips()
	}
}
