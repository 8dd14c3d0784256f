package compression

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"

	"media-compressor/internal/mediatypes"
	"media-compressor/internal/metrics"
)

// Gate can hold admission, e.g. under memory pressure.
type Gate interface {
	Wait(ctx context.Context) error
}

// Limiter bounds how many jobs of each kind run an engine at once.
type Limiter struct {
	images *semaphore.Weighted
	videos *semaphore.Weighted
	gate   Gate
}

// NewLimiter allows images and videos concurrent jobs; values below 1
// become 1.
func NewLimiter(images, videos int) *Limiter {
	return &Limiter{
		images: semaphore.NewWeighted(int64(max(images, 1))),
		videos: semaphore.NewWeighted(int64(max(videos, 1))),
	}
}

// SetGate makes Acquire wait on g before taking a slot. Call it before the
// limiter is shared.
func (l *Limiter) SetGate(g Gate) {
	l.gate = g
}

// Acquire waits for the gate, if any, then for a slot for kind, and
// returns the slot's release function. A nil Limiter admits everything.
func (l *Limiter) Acquire(ctx context.Context, kind mediatypes.Kind) (func(), error) {
	if l == nil {
		return func() {}, nil
	}

	sem := l.images
	if kind == mediatypes.KindVideo {
		sem = l.videos
	}

	start := time.Now()
	var err error
	if l.gate != nil {
		err = l.gate.Wait(ctx)
	}
	if err == nil {
		err = sem.Acquire(ctx, 1)
	}
	metrics.JobAdmissionWait.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	return func() { sem.Release(1) }, nil
}
