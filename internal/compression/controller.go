package compression

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"media-compressor/internal/database"
	"media-compressor/internal/filesystem"
	"media-compressor/internal/logging"
	"media-compressor/internal/media"
	"media-compressor/internal/mediatypes"
	"media-compressor/internal/metrics"
	"media-compressor/internal/options"
	"media-compressor/internal/progress"
	"media-compressor/internal/scratch"
)

// Progress milestones on a job channel. The engine phase of a video job is
// mapped onto [progressInputStored, progressEncoded].
const (
	progressInputStored = 5
	progressEncoded     = 90
)

const recordTimeout = 5 * time.Second

// Invoker runs the codec engines.
type Invoker interface {
	TranscodeImage(ctx context.Context, input []byte, cfg options.ImageConfig, r progress.Reporter) (*media.Output, error)
	TranscodeVideo(ctx context.Context, inputPath, outputPath string, cfg options.VideoConfig, r progress.Reporter) error
}

// Recorder stores finished jobs.
type Recorder interface {
	RecordJob(ctx context.Context, job database.JobRecord) error
}

// Request is one submitted file.
type Request struct {
	// JobID identifies the job; a UUID is generated when empty.
	JobID string
	Kind  mediatypes.Kind
	// Name is the client's file name, used for the result name only.
	Name string
	// Input is nil when no file was submitted.
	Input   io.Reader
	Options options.Raw
	// Progress, when set, receives the job's events. On failure the
	// controller publishes the terminal event; on success the channel is
	// left at 90% for the caller to finish after delivery.
	Progress *progress.Channel
}

// Result is a compressed artifact.
type Result struct {
	JobID       string
	Kind        mediatypes.Kind
	Data        []byte
	ContentType string
	Filename    string
	InputSize   int64
	Width       int
	Height      int
}

// Size returns the artifact length in bytes.
func (r *Result) Size() int64 {
	return int64(len(r.Data))
}

// Controller runs compression jobs.
type Controller struct {
	invoker  Invoker
	scratch  *scratch.Manager
	limiter  *Limiter
	recorder Recorder

	// OnTransition, when set, observes every state change.
	OnTransition func(jobID string, from, to State)
}

// NewController wires a controller. limiter and recorder may be nil.
func NewController(invoker Invoker, scratchMgr *scratch.Manager, limiter *Limiter, recorder Recorder) *Controller {
	return &Controller{
		invoker:  invoker,
		scratch:  scratchMgr,
		limiter:  limiter,
		recorder: recorder,
	}
}

// job is the per-request state. Nothing in it is shared across requests.
type job struct {
	id     string
	kind   mediatypes.Kind
	name   string
	format string
	state  State
	log    zerolog.Logger
	ch     *progress.Channel

	inputSize int64
	onChange  func(jobID string, from, to State)
}

func (j *job) transition(to State) {
	from := j.state
	if !from.CanTransition(to) {
		j.log.Error().Str("from", from.String()).Str("to", to.String()).Msg("invalid job state transition")
	}
	j.state = to
	j.log.Debug().Str("state", to.String()).Msg("job state")
	if j.onChange != nil {
		j.onChange(j.id, from, to)
	}
}

func (j *job) report(pct int, status string) {
	if j.ch != nil {
		j.ch.Report(pct, status)
	}
}

func (j *job) reporter() progress.Reporter {
	if j.ch == nil {
		return progress.Discard
	}
	return j.ch
}

// Compress runs one job to completion. Every scratch file the job creates
// is deleted before Compress returns, whatever the outcome. Failures are
// returned as *Error.
func (c *Controller) Compress(ctx context.Context, req Request) (res *Result, err error) {
	start := time.Now()

	j := &job{
		id:       req.JobID,
		kind:     req.Kind,
		name:     req.Name,
		state:    StateReceived,
		ch:       req.Progress,
		onChange: c.OnTransition,
	}
	if j.id == "" {
		j.id = uuid.NewString()
	}
	j.log = logging.With(j.id).With().Str("kind", string(j.kind)).Logger()
	j.log.Debug().Str("name", req.Name).Msg("job received")

	defer func() {
		if r := recover(); r != nil {
			j.log.Error().Interface("panic", r).Str("stack", string(debug.Stack())).Msg("job panicked")
			res = nil
			err = newError(KindUnexpectedFault, "invoke", MessageFailed, fmt.Errorf("panic: %v", r))
		}
		c.finish(ctx, j, start, res, err)
	}()

	if req.Input == nil {
		return nil, newError(KindMissingInput, "read input", MessageMissingInput, nil)
	}

	switch req.Kind {
	case mediatypes.KindImage:
		return c.compressImage(ctx, j, req)
	case mediatypes.KindVideo:
		return c.compressVideo(ctx, j, req)
	default:
		return nil, newError(KindUnexpectedFault, "dispatch", MessageFailed, fmt.Errorf("unknown media kind %q", req.Kind))
	}
}

func (c *Controller) compressImage(ctx context.Context, j *job, req Request) (*Result, error) {
	cfg := options.NormalizeImageConfig(req.Options)
	j.format = string(cfg.Format)
	j.transition(StateValidated)
	j.report(0, progress.StatusStarting)

	input, err := io.ReadAll(req.Input)
	j.inputSize = int64(len(input))
	if err != nil {
		return nil, readError(err)
	}

	release, err := c.limiter.Acquire(ctx, j.kind)
	if err != nil {
		return nil, newError(KindUnexpectedFault, "admit", MessageFailed, err)
	}
	defer release()

	j.transition(StateInvoking)
	j.report(10, progress.StatusEncoding)
	var out *media.Output
	err = invoke(j, func() (err error) {
		out, err = c.invoker.TranscodeImage(ctx, input, cfg, j.reporter())
		return err
	})
	if err != nil {
		e := newError(KindEngineError, "invoke", MessageFailed, err)
		var fe *media.FormatError
		if errors.As(err, &fe) {
			e.Message = fmt.Sprintf("Format %s is not supported by the %s image engine", fe.Format, fe.Engine)
		}
		return nil, e
	}

	contentType := out.ContentType
	if contentType == "" {
		contentType = cfg.Format.ContentType()
	}

	return &Result{
		JobID:       j.id,
		Kind:        j.kind,
		Data:        out.Data,
		ContentType: contentType,
		Filename:    Filename(req.Name, cfg.Format.Extension()),
		InputSize:   j.inputSize,
		Width:       out.Width,
		Height:      out.Height,
	}, nil
}

func (c *Controller) compressVideo(ctx context.Context, j *job, req Request) (*Result, error) {
	cfg := options.NormalizeVideoConfig(req.Options)
	j.format = mediatypes.VideoExtension
	j.transition(StateValidated)
	j.report(0, progress.StatusStarting)

	release, err := c.limiter.Acquire(ctx, j.kind)
	if err != nil {
		return nil, newError(KindUnexpectedFault, "admit", MessageFailed, err)
	}
	defer release()

	scope, err := c.scratch.Acquire(j.id)
	if err != nil {
		return nil, newError(KindResourceError, "acquire scope", MessageVideoFailed, err)
	}
	// Deferred so it also runs while a panic unwinds, and always before the
	// error reaches the caller.
	defer func() {
		if relErr := scope.Release(); relErr != nil {
			j.log.Warn().Err(relErr).Msg("failed to release scratch files")
		}
	}()
	j.transition(StateScopeAcquired)

	inPath, err := scope.NewPath(scratch.PurposeInput, inputExtension(req.Name))
	if err != nil {
		return nil, newError(KindResourceError, "allocate input", MessageVideoFailed, err)
	}
	outPath, err := scope.NewPath(scratch.PurposeOutput, "."+mediatypes.VideoExtension)
	if err != nil {
		return nil, newError(KindResourceError, "allocate output", MessageVideoFailed, err)
	}

	j.inputSize, err = writeFile(inPath, req.Input)
	if err != nil {
		var rerr readErr
		if errors.As(err, &rerr) {
			return nil, readError(rerr.err)
		}
		return nil, newError(KindResourceError, "write input", MessageVideoFailed, err)
	}
	j.report(progressInputStored, progress.StatusProcessing)

	j.transition(StateInvoking)
	err = invoke(j, func() error {
		return c.invoker.TranscodeVideo(ctx, inPath, outPath, cfg, progress.Span{
			Reporter: j.reporter(),
			From:     progressInputStored,
			To:       progressEncoded,
		})
	})
	if err != nil {
		e := newError(KindEngineError, "invoke", MessageVideoFailed, err)
		e.Detailed = true
		return nil, e
	}

	data, err := filesystem.ReadFileWithRetry(outPath, filesystem.DefaultRetryConfig())
	if err != nil {
		e := newError(KindEngineError, "read output", MessageVideoFailed, fmt.Errorf("engine produced no output: %w", err))
		e.Detailed = true
		return nil, e
	}

	return &Result{
		JobID:       j.id,
		Kind:        j.kind,
		Data:        data,
		ContentType: mediatypes.VideoContentType,
		Filename:    Filename(req.Name, mediatypes.VideoExtension),
		InputSize:   j.inputSize,
	}, nil
}

// invoke runs the engine step with the in-progress gauge held.
func invoke(j *job, fn func() error) error {
	gauge := metrics.JobsInProgress.WithLabelValues(string(j.kind))
	gauge.Inc()
	defer gauge.Dec()
	return fn()
}

// finish records the outcome: state, progress, metrics, log and history.
func (c *Controller) finish(ctx context.Context, j *job, start time.Time, res *Result, err error) {
	elapsed := time.Since(start)
	kind := string(j.kind)
	metrics.JobDuration.WithLabelValues(kind).Observe(elapsed.Seconds())

	record := database.JobRecord{
		ID:         j.id,
		Kind:       kind,
		InputName:  j.name,
		Format:     j.format,
		InputBytes: j.inputSize,
		DurationMs: elapsed.Milliseconds(),
		CreatedAt:  start,
	}

	if err != nil {
		j.transition(StateFailed)
		errKind := KindOf(err)
		metrics.JobsTotal.WithLabelValues(kind, errKind.MetricLabel()).Inc()

		ev := j.log.Warn()
		if errKind.HTTPStatus() >= 500 {
			ev = j.log.Error()
		}
		ev.Err(err).Str("error_kind", string(errKind)).Dur("duration", elapsed).Msg("job failed")

		if j.ch != nil {
			j.ch.Fail(publicError(err))
		}

		record.Status = database.JobStatusFailed
		record.ErrorKind = string(errKind)
		record.Error = err.Error()
	} else {
		j.transition(StateSucceeded)
		metrics.JobsTotal.WithLabelValues(kind, "success").Inc()
		metrics.JobBytes.WithLabelValues(kind, "in").Add(float64(res.InputSize))
		metrics.JobBytes.WithLabelValues(kind, "out").Add(float64(res.Size()))

		j.log.Info().
			Str("file", res.Filename).
			Int64("input_bytes", res.InputSize).
			Int64("output_bytes", res.Size()).
			Dur("duration", elapsed).
			Msg("job succeeded")

		j.report(progressEncoded, progress.StatusDelivering)

		record.Status = database.JobStatusSucceeded
		record.OutputBytes = res.Size()
	}

	if c.recorder == nil {
		return
	}
	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if recErr := c.recorder.RecordJob(recCtx, record); recErr != nil {
		j.log.Warn().Err(recErr).Msg("failed to record job history")
	}
}

// readErr marks a failure reading the client's upload, as opposed to
// writing the scratch copy.
type readErr struct{ err error }

func (r readErr) Error() string { return r.err.Error() }

func (r readErr) Unwrap() error { return r.err }

type errReader struct{ r io.Reader }

func (e errReader) Read(p []byte) (int, error) {
	n, err := e.r.Read(p)
	if err != nil && err != io.EOF {
		err = readErr{err}
	}
	return n, err
}

// readError classifies a failed upload read. An upload over the size limit
// is the client's fault.
func readError(err error) *Error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return newError(KindInputTooLarge, "read input", MessageTooLarge, err)
	}
	return newError(KindUnexpectedFault, "read input", MessageFailed, err)
}

func writeFile(path string, r io.Reader) (int64, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, errReader{r})
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	return n, err
}

// inputExtension keeps the client's extension so the engine can use it as
// a format hint. Anything unusual is dropped.
func inputExtension(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if len(ext) < 2 || len(ext) > 8 {
		return ""
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}

// publicError is what a progress subscriber sees for a failed job.
func publicError(err error) error {
	var e *Error
	if errors.As(err, &e) {
		return errors.New(e.UserMessage())
	}
	return errors.New(MessageFailed)
}
