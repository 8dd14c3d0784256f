package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"media-compressor/internal/batch"
	"media-compressor/internal/compression"
	"media-compressor/internal/mediatypes"
	"media-compressor/internal/options"
	"media-compressor/internal/progress"
)

type batchFlags struct {
	recursive bool
	workers   int
	outputDir string
}

func newBatchCmd(g *globalOptions) *cobra.Command {
	f := &batchFlags{}

	cmd := &cobra.Command{
		Use:   "batch <dir>",
		Short: "Compress every image and video in a directory",
		Long: `Compress all media files in a directory on a pool of workers.

Files are classified by extension. Results are written next to each input as
compressed-<name>.<ext>, or under --output-dir with the same relative layout.
Earlier results and hidden files are skipped. Image flags apply to images and
video flags to videos.

Examples:
  compress batch ~/Pictures
  compress batch ./footage --recursive --max-height 720 --workers 2
  compress batch ./scans --format webp --quality 60 --output-dir ./web`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := map[mediatypes.Kind]options.Raw{
				mediatypes.KindImage: rawOptions(cmd, mediatypes.KindImage),
				mediatypes.KindVideo: rawOptions(cmd, mediatypes.KindVideo),
			}
			return runBatch(cmd, g, f, args[0], raw)
		},
	}

	cmd.Flags().BoolVarP(&f.recursive, "recursive", "r", false, "descend into subdirectories")
	cmd.Flags().IntVarP(&f.workers, "workers", "w", 0, "files compressed at once (default from BATCH_WORKERS or CPU count)")
	cmd.Flags().StringVar(&f.outputDir, "output-dir", "", "write results here instead of next to the inputs")
	addOptionFlags(cmd, mediatypes.KindImage, mediatypes.KindVideo)
	return cmd
}

func runBatch(cmd *cobra.Command, g *globalOptions, f *batchFlags, root string, raw map[mediatypes.Kind]options.Raw) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	info, err := os.Stat(root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", root)
	}

	cfg := batch.DefaultConfig()
	cfg.Recursive = f.recursive
	cfg.SkipPrefix = compression.FilenamePrefix
	if f.workers > 0 {
		cfg.NumWorkers = f.workers
	}

	p, err := g.newPipeline(cfg.NumWorkers)
	if err != nil {
		return err
	}
	defer p.Close()

	process := func(ctx context.Context, file batch.File) (string, error) {
		return compressFile(ctx, p.controller, file, raw[file.Kind], f.outputDir)
	}

	out := cmd.OutOrStdout()
	var mu sync.Mutex
	report := func(r batch.Result) {
		mu.Lock()
		defer mu.Unlock()
		if r.Err != nil {
			fmt.Fprintf(out, "FAIL %s: %s\n", r.File.RelPath, batchMessage(r.Err))
			return
		}
		fmt.Fprintf(out, "ok   %s -> %s\n", r.File.RelPath, r.Output)
	}

	summary, err := batch.NewWalker(root, cfg).Run(ctx, process, report)
	if err != nil {
		return err
	}

	total := summary.Processed + summary.Failed
	if !g.quiet {
		fmt.Fprintf(out, "%d compressed, %d failed, %d skipped\n", summary.Processed, summary.Failed, summary.Skipped)
	}
	if summary.Failed > 0 {
		return fmt.Errorf("%d of %d files failed", summary.Failed, total)
	}
	return nil
}

// compressFile runs one batch file through the controller and writes the
// result. It returns a description of where the result went.
func compressFile(ctx context.Context, c *compression.Controller, file batch.File, raw options.Raw, outputDir string) (string, error) {
	in, err := os.Open(file.Path)
	if err != nil {
		return "", err
	}
	defer in.Close()

	res, err := c.Compress(ctx, compression.Request{
		JobID:   uuid.NewString(),
		Kind:    file.Kind,
		Name:    filepath.Base(file.Path),
		Input:   in,
		Options: raw,
	})
	if err != nil {
		return "", err
	}

	dir := filepath.Dir(file.Path)
	if outputDir != "" {
		dir = filepath.Join(outputDir, filepath.Dir(file.RelPath))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create output directory: %w", err)
		}
	}
	outputPath := filepath.Join(dir, res.Filename)

	if err := writeResult(nil, outputPath, res, progress.Discard); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s (%s)", outputPath, summarize(res.InputSize, res.Size())), nil
}

// batchMessage returns the user-facing text for a failed file.
func batchMessage(err error) string {
	var ce *compression.Error
	if errors.As(err, &ce) {
		return ce.UserMessage()
	}
	return err.Error()
}
