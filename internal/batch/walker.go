package batch

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"media-compressor/internal/logging"
	"media-compressor/internal/mediatypes"
	"media-compressor/internal/workers"
)

// EnvWorkers overrides the derived worker count.
const EnvWorkers = "BATCH_WORKERS"

// Config configures a Walker.
type Config struct {
	// NumWorkers is the number of files processed at once (0 = auto).
	NumWorkers int
	// ChannelBuffer is the size of the work channel buffer.
	ChannelBuffer int
	// Recursive descends into subdirectories.
	Recursive bool
	// SkipHidden skips files and directories starting with ".".
	SkipHidden bool
	// SkipPrefix skips files whose name starts with it, so earlier
	// results are not compressed again.
	SkipPrefix string
}

// DefaultConfig returns defaults sized for the machine.
func DefaultConfig() Config {
	return Config{
		NumWorkers:    workers.Count(EnvWorkers, 0.5, 0),
		ChannelBuffer: 64,
		SkipHidden:    true,
	}
}

// File is one media file found by a walk.
type File struct {
	Path    string
	RelPath string
	Kind    mediatypes.Kind
	Size    int64
}

// Result is the outcome of processing one File.
type Result struct {
	File     File
	Output   string
	Err      error
	Duration time.Duration
}

// Summary counts what a Run did.
type Summary struct {
	Processed int64
	Failed    int64
	Skipped   int64
	Duration  time.Duration
}

// ProcessFunc handles one file and returns where its result went.
type ProcessFunc func(ctx context.Context, f File) (output string, err error)

// Walker feeds the media files under a directory to a pool of workers.
type Walker struct {
	config Config
	root   string

	processed atomic.Int64
	failed    atomic.Int64
	skipped   atomic.Int64
}

// NewWalker creates a walker over root.
func NewWalker(root string, config Config) *Walker {
	if config.NumWorkers <= 0 {
		config.NumWorkers = DefaultConfig().NumWorkers
	}
	if config.ChannelBuffer < 0 {
		config.ChannelBuffer = 0
	}
	return &Walker{config: config, root: root}
}

// Run walks the tree and calls process for every media file on
// NumWorkers goroutines. onResult, when set, is called for each result
// from a single goroutine. Canceling ctx stops the walk; queued files that
// had not started are reported with ctx.Err().
func (w *Walker) Run(ctx context.Context, process ProcessFunc, onResult func(Result)) (Summary, error) {
	logging.Info("Starting batch over %s with %d workers", w.root, w.config.NumWorkers)
	start := time.Now()

	jobs := make(chan File, w.config.ChannelBuffer)
	results := make(chan Result, w.config.ChannelBuffer)

	var wg sync.WaitGroup
	for i := 0; i < w.config.NumWorkers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			w.worker(ctx, id, jobs, results, process)
		}(i)
	}

	collected := make(chan struct{})
	go func() {
		defer close(collected)
		for result := range results {
			if result.Err != nil {
				w.failed.Add(1)
			} else {
				w.processed.Add(1)
			}
			if onResult != nil {
				onResult(result)
			}
		}
	}()

	err := w.walk(ctx, jobs)
	close(jobs)
	wg.Wait()
	close(results)
	<-collected

	summary := Summary{
		Processed: w.processed.Load(),
		Failed:    w.failed.Load(),
		Skipped:   w.skipped.Load(),
		Duration:  time.Since(start),
	}
	logging.Info("Batch complete: %d processed, %d failed, %d skipped in %v",
		summary.Processed, summary.Failed, summary.Skipped, summary.Duration.Round(time.Millisecond))

	if err == nil {
		err = ctx.Err()
	}
	return summary, err
}

// walk sends every eligible file under root to jobs.
func (w *Walker) walk(ctx context.Context, jobs chan<- File) error {
	err := filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return fs.SkipAll
		}
		if err != nil {
			if path == w.root {
				return err
			}
			logging.Warn("Error accessing path %s: %v", path, err)
			return nil // Continue walking
		}

		if path == w.root {
			return nil
		}

		name := d.Name()
		if w.config.SkipHidden && strings.HasPrefix(name, ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if !w.config.Recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		kind, ok := mediatypes.KindForFile(name)
		if !ok || (w.config.SkipPrefix != "" && strings.HasPrefix(name, w.config.SkipPrefix)) {
			w.skipped.Add(1)
			return nil
		}

		info, err := d.Info()
		if err != nil {
			logging.Warn("Error getting info for %s: %v", path, err)
			return nil
		}
		relPath, err := filepath.Rel(w.root, path)
		if err != nil {
			relPath = name
		}

		select {
		case jobs <- File{Path: path, RelPath: relPath, Kind: kind, Size: info.Size()}:
		case <-ctx.Done():
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("walk %s: %w", w.root, err)
	}
	return nil
}

// worker processes files until jobs is closed.
func (w *Walker) worker(ctx context.Context, id int, jobs <-chan File, results chan<- Result, process ProcessFunc) {
	logging.Debug("Batch worker %d started", id)

	for f := range jobs {
		start := time.Now()
		var output string
		err := ctx.Err()
		if err == nil {
			output, err = process(ctx, f)
		}
		results <- Result{File: f, Output: output, Err: err, Duration: time.Since(start)}
	}

	logging.Debug("Batch worker %d finished", id)
}
