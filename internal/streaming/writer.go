package streaming

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"media-compressor/internal/logging"
	"media-compressor/internal/progress"
)

// Sentinel errors for result delivery.
var (
	// ErrWriteTimeout indicates a single write or the whole delivery ran
	// past its deadline, usually because the client reads too slowly.
	ErrWriteTimeout = errors.New("write timeout exceeded")

	// ErrClientGone indicates the request context ended before delivery
	// finished.
	ErrClientGone = errors.New("client disconnected")

	// ErrStreamCanceled indicates the writer was closed or timed out while
	// idle.
	ErrStreamCanceled = errors.New("stream canceled")
)

// Config controls how a result is written to the client.
type Config struct {
	// WriteTimeout bounds a single chunk write.
	WriteTimeout time.Duration
	// IdleTimeout bounds the gap between successful writes.
	IdleTimeout time.Duration
	// MaxDuration bounds the whole delivery (0 = unlimited).
	MaxDuration time.Duration
	// ChunkSize splits large writes so progress advances (0 = as received).
	ChunkSize int
	// OnProgress receives the running byte total after every chunk.
	OnProgress func(written int64, elapsed time.Duration)
}

// DefaultConfig returns the delivery settings used by the HTTP handlers.
func DefaultConfig() Config {
	return Config{
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
		ChunkSize:    64 * 1024,
	}
}

// Writer wraps an http.ResponseWriter with per-write and idle deadlines.
// Writes happen on the caller's goroutine; a stalled write is ended by the
// connection's write deadline, so nothing touches the response after Write
// returns.
type Writer struct {
	w      http.ResponseWriter
	rc     *http.ResponseController
	ctx    context.Context
	cancel context.CancelFunc
	config Config
	start  time.Time

	// deadlines is false when the response cannot carry a write deadline.
	deadlines bool

	mu        sync.Mutex
	lastWrite time.Time
	written   int64
	closed    bool
	timedOut  bool
}

// NewWriter returns a Writer bound to ctx. Close must be called.
func NewWriter(ctx context.Context, w http.ResponseWriter, config Config) *Writer {
	wctx, cancel := context.WithCancel(ctx)
	now := time.Now()

	tw := &Writer{
		w:         w,
		rc:        http.NewResponseController(w),
		ctx:       wctx,
		cancel:    cancel,
		config:    config,
		start:     now,
		lastWrite: now,
		deadlines: config.WriteTimeout > 0,
	}

	go tw.idleChecker()
	return tw
}

// Write implements io.Writer.
func (tw *Writer) Write(p []byte) (int, error) {
	tw.mu.Lock()
	closed := tw.closed
	tw.mu.Unlock()
	if closed {
		return 0, ErrStreamCanceled
	}

	if err := tw.check(); err != nil {
		return 0, err
	}

	if tw.config.ChunkSize > 0 && len(p) > tw.config.ChunkSize {
		return tw.writeChunked(p)
	}
	return tw.writeOnce(p)
}

func (tw *Writer) check() error {
	select {
	case <-tw.ctx.Done():
		return tw.contextError()
	default:
	}
	if tw.config.MaxDuration > 0 && time.Since(tw.start) > tw.config.MaxDuration {
		return ErrWriteTimeout
	}
	return nil
}

func (tw *Writer) writeChunked(p []byte) (int, error) {
	total := 0
	for len(p) > 0 {
		if err := tw.check(); err != nil {
			return total, err
		}

		size := min(tw.config.ChunkSize, len(p))
		n, err := tw.writeOnce(p[:size])
		total += n
		if err != nil {
			return total, err
		}
		p = p[size:]

		if err := tw.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
			return total, err
		}
	}
	return total, nil
}

func (tw *Writer) writeOnce(p []byte) (int, error) {
	if tw.deadlines {
		err := tw.rc.SetWriteDeadline(time.Now().Add(tw.config.WriteTimeout))
		if errors.Is(err, http.ErrNotSupported) {
			logging.Debug("Response does not support write deadlines")
			tw.deadlines = false
		} else if err != nil {
			return 0, err
		}
	}

	n, err := tw.w.Write(p)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			tw.cancel()
			return n, ErrWriteTimeout
		}
		if tw.ctx.Err() != nil {
			return n, tw.contextError()
		}
		return n, err
	}

	tw.mu.Lock()
	tw.lastWrite = time.Now()
	tw.written += int64(n)
	written := tw.written
	tw.mu.Unlock()

	if tw.config.OnProgress != nil {
		tw.config.OnProgress(written, time.Since(tw.start))
	}
	return n, nil
}

func (tw *Writer) idleChecker() {
	if tw.config.IdleTimeout <= 0 {
		return
	}

	ticker := time.NewTicker(tw.config.IdleTimeout / 4)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			tw.mu.Lock()
			idle := time.Since(tw.lastWrite)
			closed := tw.closed
			if !closed && idle > tw.config.IdleTimeout {
				tw.timedOut = true
			}
			timedOut := tw.timedOut
			tw.mu.Unlock()

			if closed {
				return
			}
			if timedOut {
				logging.Warn("Result delivery idle for %v, aborting", idle)
				tw.cancel()
				return
			}

		case <-tw.ctx.Done():
			return
		}
	}
}

func (tw *Writer) contextError() error {
	tw.mu.Lock()
	closed, timedOut := tw.closed, tw.timedOut
	tw.mu.Unlock()

	if closed || timedOut {
		return ErrStreamCanceled
	}
	return ErrClientGone
}

// Close stops the idle checker and clears the write deadline. It is safe
// to call more than once.
func (tw *Writer) Close() error {
	tw.mu.Lock()
	if tw.closed {
		tw.mu.Unlock()
		return nil
	}
	tw.closed = true
	tw.mu.Unlock()

	tw.cancel()
	if tw.deadlines {
		if err := tw.rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
			return err
		}
	}
	return nil
}

// Stats returns the bytes written and time since the writer was created.
func (tw *Writer) Stats() (int64, time.Duration) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	return tw.written, time.Since(tw.start)
}

// Deliver writes data as the response body and drives r from the bytes
// actually written. On success r is finished; on failure it is left for
// the caller to fail. Headers other than Content-Length must already be
// set.
func Deliver(ctx context.Context, w http.ResponseWriter, data []byte, r progress.Reporter, config Config) error {
	driver := progress.NewTransferDriver(r, int64(len(data)))

	prev := config.OnProgress
	config.OnProgress = func(written int64, elapsed time.Duration) {
		driver.OnProgress(written, elapsed)
		if prev != nil {
			prev(written, elapsed)
		}
	}

	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)

	tw := NewWriter(ctx, w, config)
	defer func() {
		if err := tw.Close(); err != nil {
			logging.Warn("Failed to close result writer: %v", err)
		}
	}()

	_, err := io.Copy(tw, bytes.NewReader(data))

	written, elapsed := tw.Stats()
	logging.Debug("Delivered %d/%d bytes in %v", written, len(data), elapsed)

	if err != nil {
		return err
	}
	driver.Finish()
	return nil
}
