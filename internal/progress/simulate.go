package progress

import (
	"context"
	"math/rand/v2"
	"time"
)

// DefaultInterval is the cadence of the simulated driver.
const DefaultInterval = 500 * time.Millisecond

// maxStep is the largest simulated increment.
const maxStep = 15

// Simulate drives ch with approximate progress: an initial 0% event, then
// every interval a random step in [0,15] until 100 is reached, at which
// point the channel is completed. It is decorative and does not reflect
// engine state. If ctx ends first the channel is failed with ctx.Err().
// A nil rng uses the global source.
func Simulate(ctx context.Context, ch *Channel, interval time.Duration, rng *rand.Rand) error {
	if interval <= 0 {
		interval = DefaultInterval
	}
	step := rand.IntN
	if rng != nil {
		step = rng.IntN
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	progress := 0
	ch.Report(progress, StatusStarting)

	for {
		select {
		case <-ctx.Done():
			ch.Fail(ctx.Err())
			return ctx.Err()
		case <-ticker.C:
		}

		progress = min(progress+step(maxStep+1), 100)
		if progress >= 100 {
			ch.Complete()
			return nil
		}
		ch.Report(progress, StatusProcessing)
	}
}
