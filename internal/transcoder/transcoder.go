package transcoder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"media-compressor/internal/logging"
	"media-compressor/internal/media"
	"media-compressor/internal/metrics"
	"media-compressor/internal/options"
	"media-compressor/internal/progress"
	"media-compressor/internal/startup"
)

// GPUAccel selects hardware encoding.
type GPUAccel string

// Hardware acceleration modes.
const (
	GPUAccelAuto         GPUAccel = "auto"
	GPUAccelNone         GPUAccel = "none"
	GPUAccelNVIDIA       GPUAccel = "nvidia"
	GPUAccelVAAPI        GPUAccel = "vaapi"
	GPUAccelVideoToolbox GPUAccel = "videotoolbox"
)

// EngineFFmpeg names the video engine in errors and metrics.
const EngineFFmpeg = "ffmpeg"

const (
	cpuEncoder     = "libx264"
	audioCodec     = "aac"
	pixelFormat    = "yuv420p"
	vaapiDevice    = "/dev/dri/renderD128"
	vaapiInit      = "format=nv12,hwupload"
	detectTimeout  = 15 * time.Second
	waitDelay      = 5 * time.Second
	diagnosticTail = 20
)

var gpuEncoders = map[GPUAccel]string{
	GPUAccelNVIDIA:       "h264_nvenc",
	GPUAccelVAAPI:        "h264_vaapi",
	GPUAccelVideoToolbox: "h264_videotoolbox",
}

// Options configures a Transcoder.
type Options struct {
	FFmpeg   startup.EnginePath
	FFprobe  startup.EnginePath
	GPUAccel string
	// Timeout bounds one engine run including probing; 0 disables it.
	Timeout time.Duration
}

// Transcoder runs ffmpeg to re-encode videos into streaming-friendly MP4.
type Transcoder struct {
	ffmpeg  startup.EnginePath
	ffprobe startup.EnginePath
	timeout time.Duration

	gpuAccel         GPUAccel
	gpuAvailable     bool
	gpuEncoder       string
	gpuInitFilter    string
	gpuDetectionDone bool

	processes map[string]*exec.Cmd
	processMu sync.Mutex
}

// VideoInfo contains information about a video file.
type VideoInfo struct {
	Duration float64 `json:"duration"`
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	Codec    string  `json:"codec"`
	Rotation int     `json:"rotation"`
}

// DisplaySize returns the frame size after rotation metadata is applied.
func (v *VideoInfo) DisplaySize() (int, int) {
	if v.Rotation%180 != 0 {
		return v.Height, v.Width
	}
	return v.Width, v.Height
}

// New creates a Transcoder and, unless GPU acceleration is disabled,
// probes ffmpeg for a usable hardware encoder.
func New(opts Options) *Transcoder {
	mode := GPUAccel(strings.ToLower(opts.GPUAccel))
	if mode == "" {
		mode = GPUAccelAuto
	}

	t := &Transcoder{
		ffmpeg:    opts.FFmpeg,
		ffprobe:   opts.FFprobe,
		timeout:   opts.Timeout,
		gpuAccel:  mode,
		processes: make(map[string]*exec.Cmd),
	}

	if mode != GPUAccelNone && t.ffmpeg.Available() {
		t.detectGPU()
	}

	logging.Info("Video encoder: %s", t.Encoder())
	metrics.EngineEncoder.WithLabelValues(t.Encoder()).Set(1)
	return t
}

// Available returns the engine resolution error, if any.
func (t *Transcoder) Available() error {
	_, err := t.ffmpeg.Command()
	return err
}

// Encoder returns the video encoder used for new jobs.
func (t *Transcoder) Encoder() string {
	if t.gpuAvailable {
		return t.gpuEncoder
	}
	return cpuEncoder
}

// gpuCandidates lists the accelerators to try for mode, in order.
func gpuCandidates(mode GPUAccel, goos string) []GPUAccel {
	switch mode {
	case GPUAccelAuto:
		if goos == "darwin" {
			return []GPUAccel{GPUAccelVideoToolbox}
		}
		return []GPUAccel{GPUAccelNVIDIA, GPUAccelVAAPI}
	case GPUAccelNVIDIA, GPUAccelVAAPI, GPUAccelVideoToolbox:
		return []GPUAccel{mode}
	default:
		return nil
	}
}

func (t *Transcoder) detectGPU() {
	t.gpuDetectionDone = true

	candidates := gpuCandidates(t.gpuAccel, runtime.GOOS)
	if len(candidates) == 0 {
		logging.Warn("Unknown GPU_ACCEL mode %q, using software encoding", t.gpuAccel)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), detectTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, t.ffmpeg.Path, "-hide_banner", "-encoders").Output()
	if err != nil {
		logging.Warn("Failed to list ffmpeg encoders: %v", err)
		return
	}
	compiled := parseEncoders(string(out))

	for _, accel := range candidates {
		encoder := gpuEncoders[accel]
		if !compiled[encoder] {
			logging.Debug("Encoder %s not compiled into ffmpeg", encoder)
			continue
		}
		if accel == GPUAccelVAAPI {
			if _, err := os.Stat(vaapiDevice); err != nil {
				logging.Debug("VA-API device %s not present", vaapiDevice)
				continue
			}
		}
		if err := t.testEncoder(ctx, accel, encoder); err != nil {
			logging.Debug("Encoder %s failed test encode: %v", encoder, err)
			continue
		}

		t.gpuAvailable = true
		t.gpuAccel = accel
		t.gpuEncoder = encoder
		if accel == GPUAccelVAAPI {
			t.gpuInitFilter = vaapiInit
		}
		logging.Info("GPU encoder available: %s", encoder)
		return
	}

	logging.Info("No usable GPU encoder for mode %s, using %s", t.gpuAccel, cpuEncoder)
}

// parseEncoders extracts encoder names from `ffmpeg -encoders` output,
// whose rows look like " V....D h264_nvenc  NVIDIA NVENC H.264 encoder".
func parseEncoders(out string) map[string]bool {
	encoders := make(map[string]bool)
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 || len(fields[0]) != 6 {
			continue
		}
		encoders[fields[1]] = true
	}
	return encoders
}

// testEncoder encodes a few blank frames to confirm the device works;
// a compiled-in encoder says nothing about the hardware.
func (t *Transcoder) testEncoder(ctx context.Context, accel GPUAccel, encoder string) error {
	args := []string{"-hide_banner", "-loglevel", "error"}
	if accel == GPUAccelVAAPI {
		args = append(args, "-vaapi_device", vaapiDevice)
	}
	args = append(args, "-f", "lavfi", "-i", "color=black:s=256x256:d=0.2")
	if accel == GPUAccelVAAPI {
		args = append(args, "-vf", vaapiInit)
	}
	args = append(args, "-c:v", encoder, "-f", "null", "-")

	out, err := exec.CommandContext(ctx, t.ffmpeg.Path, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

type ffprobeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
		Tags      struct {
			Rotate string `json:"rotate"`
		} `json:"tags"`
		SideDataList []struct {
			Rotation float64 `json:"rotation"`
		} `json:"side_data_list"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe reads duration, size and rotation of the first video stream.
func (t *Transcoder) Probe(ctx context.Context, filePath string) (*VideoInfo, error) {
	path, err := t.ffprobe.Command()
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, path,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		filePath,
	)

	var stderr strings.Builder
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe error: %w - %s", err, strings.TrimSpace(stderr.String()))
	}

	return parseProbe(out)
}

func parseProbe(data []byte) (*VideoInfo, error) {
	var probe ffprobeOutput
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("invalid ffprobe output: %w", err)
	}

	info := &VideoInfo{}
	info.Duration, _ = strconv.ParseFloat(probe.Format.Duration, 64)

	for _, s := range probe.Streams {
		if s.CodecType != "" && s.CodecType != "video" {
			continue
		}
		info.Codec = s.CodecName
		info.Width = s.Width
		info.Height = s.Height
		if r, err := strconv.Atoi(s.Tags.Rotate); err == nil {
			info.Rotation = r
		}
		for _, sd := range s.SideDataList {
			if sd.Rotation != 0 {
				info.Rotation = int(math.Round(sd.Rotation))
			}
		}
		break
	}

	return info, nil
}

// addCPUEncoderArgs appends software encoder settings.
func (t *Transcoder) addCPUEncoderArgs(args []string, cfg options.VideoConfig) []string {
	return append(args,
		"-c:v", cpuEncoder,
		"-preset", "fast",
		"-b:v", cfg.VideoBitrate,
	)
}

// addGPUEncoderArgs appends hardware encoder settings.
func (t *Transcoder) addGPUEncoderArgs(args []string, cfg options.VideoConfig) []string {
	args = append(args, "-c:v", t.gpuEncoder)
	if t.gpuAccel == GPUAccelNVIDIA {
		args = append(args, "-preset", "p4")
	}
	return append(args, "-b:v", cfg.VideoBitrate)
}

func (t *Transcoder) usesVAAPI() bool {
	return t.gpuAvailable && t.gpuAccel == GPUAccelVAAPI
}

// videoFilter builds the -vf chain. MaxWidth and MaxHeight bound the
// output: the video is fitted inside the box keeping its aspect ratio and
// is never enlarged. With a probed size the target is computed exactly;
// otherwise ffmpeg expressions keep the free axis on auto.
func (t *Transcoder) videoFilter(cfg options.VideoConfig, info *VideoInfo) string {
	var filters []string
	vaapi := t.usesVAAPI()
	if vaapi {
		filters = append(filters, t.gpuInitFilter)
	}

	if cfg.HasBounds() {
		if info != nil && info.Width > 0 && info.Height > 0 {
			srcW, srcH := info.DisplaySize()
			w, h := media.FitInside(srcW, srcH, cfg.MaxWidth, cfg.MaxHeight)
			if w != srcW || h != srcH {
				w, h = even(w), even(h)
				if vaapi {
					filters = append(filters, fmt.Sprintf("scale_vaapi=w=%d:h=%d", w, h))
				} else {
					filters = append(filters, fmt.Sprintf("scale=%d:%d", w, h))
				}
			}
		} else if !vaapi {
			filters = append(filters, scaleExpression(cfg.MaxWidth, cfg.MaxHeight))
		}
	}

	return strings.Join(filters, ",")
}

// scaleExpression bounds the output without knowing the input size.
func scaleExpression(maxW, maxH int) string {
	switch {
	case maxW > 0 && maxH > 0:
		return fmt.Sprintf("scale='min(%d,iw)':'min(%d,ih)':force_original_aspect_ratio=decrease:force_divisible_by=2", maxW, maxH)
	case maxW > 0:
		return fmt.Sprintf("scale='min(%d,iw)':-2", maxW)
	default:
		return fmt.Sprintf("scale=-2:'min(%d,ih)'", maxH)
	}
}

// even rounds down to an even size; yuv420p needs both axes even.
func even(n int) int {
	n -= n % 2
	if n < 2 {
		return 2
	}
	return n
}

// buildFFmpegArgs assembles the full command line for one job. Progress is
// written as key=value records to stdout and errors to stderr.
func (t *Transcoder) buildFFmpegArgs(input, output string, cfg options.VideoConfig, info *VideoInfo) []string {
	args := []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-loglevel", "error",
		"-progress", "pipe:1",
		"-nostats",
	}

	vaapi := t.usesVAAPI()
	if vaapi {
		args = append(args, "-vaapi_device", vaapiDevice)
	}

	args = append(args, "-i", input)

	if t.gpuAvailable {
		args = t.addGPUEncoderArgs(args, cfg)
	} else {
		args = t.addCPUEncoderArgs(args, cfg)
	}

	if vf := t.videoFilter(cfg, info); vf != "" {
		args = append(args, "-vf", vf)
	}
	if !vaapi {
		args = append(args, "-pix_fmt", pixelFormat)
	}

	return append(args,
		"-c:a", audioCodec,
		"-b:a", cfg.AudioBitrate,
		"-movflags", "+faststart",
		"-f", "mp4",
		output,
	)
}

// Job describes one video encode.
type Job struct {
	ID     string
	Input  string
	Output string
	Config options.VideoConfig
	// Progress receives 0-100 as the encode advances; may be nil.
	Progress progress.Reporter
}

// Handle is the single-shot result of a started encode. It resolves exactly
// once, after the ffmpeg process has exited.
type Handle struct {
	done chan struct{}
	err  error
	info *VideoInfo
}

func newHandle(info *VideoInfo) *Handle {
	return &Handle{done: make(chan struct{}), info: info}
}

func (h *Handle) resolve(err error) {
	h.err = err
	close(h.done)
}

// Done is closed when the encode has finished.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the encode has finished and returns its error.
func (h *Handle) Wait() error {
	<-h.done
	return h.err
}

// Info returns the probed input metadata, or nil when probing failed.
func (h *Handle) Info() *VideoInfo {
	return h.info
}

// Start launches ffmpeg for job and returns immediately. Cancelling ctx or
// exceeding the configured timeout kills the process; the handle still
// resolves only once the process is gone.
func (t *Transcoder) Start(ctx context.Context, job Job) (*Handle, error) {
	path, err := t.ffmpeg.Command()
	if err != nil {
		return nil, errorf(EngineFFmpeg, err, "engine unavailable")
	}

	reporter := job.Progress
	if reporter == nil {
		reporter = progress.Discard
	}

	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if t.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, t.timeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}

	info, err := t.Probe(runCtx, job.Input)
	if err != nil {
		if runCtx.Err() != nil {
			cancel()
			return nil, t.contextError(runCtx, "")
		}
		logging.Debug("Probe failed for %s, continuing without duration: %v", job.Input, err)
		info = nil
	}

	args := t.buildFFmpegArgs(job.Input, job.Output, job.Config, info)
	logging.Debug("Running ffmpeg %s", strings.Join(args, " "))

	cmd := exec.CommandContext(runCtx, path, args...)
	cmd.WaitDelay = waitDelay

	// Wait closes these; WaitDelay bounds children that keep them open.
	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		cancel()
		_ = stdoutW.Close()
		_ = stderrW.Close()
		return nil, errorf(EngineFFmpeg, err, "failed to start")
	}

	key := job.ID
	if key == "" {
		key = job.Output
	}
	t.processMu.Lock()
	t.processes[key] = cmd
	t.processMu.Unlock()

	var duration float64
	if info != nil {
		duration = info.Duration
	}

	h := newHandle(info)
	go func() {
		defer cancel()
		defer func() {
			t.processMu.Lock()
			delete(t.processes, key)
			t.processMu.Unlock()
		}()

		tail := newDiagnosticTail(diagnosticTail)
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			readProgress(stdoutR, duration, reporter)
		}()
		go func() {
			defer wg.Done()
			tail.consume(stderrR)
		}()

		waitErr := cmd.Wait()
		_ = stdoutW.Close()
		_ = stderrW.Close()
		wg.Wait()

		h.resolve(t.result(runCtx, waitErr, tail))
	}()

	return h, nil
}

// result maps the process outcome to nil or an *EngineError.
func (t *Transcoder) result(ctx context.Context, waitErr error, tail *diagnosticTail) error {
	if waitErr == nil {
		return nil
	}

	for _, line := range tail.Lines() {
		logging.Debug("ffmpeg: %s", line)
	}

	if ctx.Err() != nil {
		return t.contextError(ctx, tail.Last())
	}

	msg := waitErr.Error()
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		msg = fmt.Sprintf("exited with code %d", exitErr.ExitCode())
	}
	return &EngineError{
		Engine:     EngineFFmpeg,
		Message:    msg,
		Diagnostic: tail.Last(),
		Err:        waitErr,
	}
}

func (t *Transcoder) contextError(ctx context.Context, diagnostic string) error {
	err := ctx.Err()
	msg := "cancelled"
	if errors.Is(err, context.DeadlineExceeded) {
		msg = fmt.Sprintf("timed out after %v", t.timeout)
	}
	return &EngineError{Engine: EngineFFmpeg, Message: msg, Diagnostic: diagnostic, Err: err}
}

// Cleanup stops all active encodes.
func (t *Transcoder) Cleanup() {
	t.processMu.Lock()
	defer t.processMu.Unlock()

	for key, cmd := range t.processes {
		if cmd.Process != nil {
			logging.Info("Killing ffmpeg process for job %s", key)
			if err := cmd.Process.Kill(); err != nil {
				logging.Warn("failed to kill ffmpeg process for %s: %v", key, err)
			}
		}
	}
}

// Active returns the number of running encodes.
func (t *Transcoder) Active() int {
	t.processMu.Lock()
	defer t.processMu.Unlock()
	return len(t.processes)
}
