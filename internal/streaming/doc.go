// Package streaming writes finished compression results to HTTP clients.
//
// A Writer wraps an http.ResponseWriter with a per-write deadline, an idle
// deadline and an optional cap on total duration, so a stalled client
// cannot pin a job's memory indefinitely. Large writes are split into
// chunks and flushed; the running byte count after every chunk is passed to
// Config.OnProgress.
//
// Deliver is the entry point used by the handlers. It sets Content-Length,
// streams the result through a Writer and feeds the byte count into a
// progress.TransferDriver, so subscribers of the job's progress channel see
// the delivery phase advance and then complete:
//
//	err := streaming.Deliver(ctx, w, result.Data, job, streaming.DefaultConfig())
//	if err != nil {
//		job.Fail(err)
//	}
//
// Errors are ErrWriteTimeout, ErrClientGone or ErrStreamCanceled, or
// whatever the underlying ResponseWriter returned.
package streaming
