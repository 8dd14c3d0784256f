// Package batch walks a directory and compresses every media file in it on
// a pool of workers.
//
// Files are classified by extension with [mediatypes.KindForFile]; anything
// else is counted as skipped. Hidden entries and, when SkipPrefix is set,
// earlier results are skipped too, so a directory can be processed again
// without compressing its own output. Subdirectories are only entered
// when Recursive is set.
//
//	w := batch.NewWalker(dir, batch.DefaultConfig())
//	summary, err := w.Run(ctx, func(ctx context.Context, f batch.File) (string, error) {
//	    return compressFile(ctx, f)
//	}, printResult)
//
// The worker count defaults to one per two CPUs and can be overridden with
// BATCH_WORKERS. It bounds how many files are in flight; the compression
// controller's own admission limits still apply inside each call.
package batch
