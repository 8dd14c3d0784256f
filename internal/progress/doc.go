// Package progress publishes ordered progress events for compression jobs.
//
// A [Channel] belongs to one job. Events are appended, progress never goes
// down, and exactly one terminal event (progress 100, status "Complete" or
// "Failed") ends the stream:
//
//	ch := progress.NewChannel(jobID)
//	ch.Report(0, progress.StatusStarting)
//	ch.Report(40, "Encoding…")
//	ch.Complete()
//
// Drivers feed a channel through the [Reporter] interface:
//
//   - [Simulate] advances by random steps on a fixed cadence and exists only
//     to give a client continuous feedback when the engine is silent.
//   - [TransferDriver] reports bytes delivered over a known total.
//   - [Span] maps one driver's 0-100 onto a slice of the job's range, e.g.
//     engine progress onto 10-90.
//
// [Hub] keys channels by job ID in an expiring LRU so a client can open
// GET /api/progress/{jobId} before or after submitting the upload.
// [ServeSSE] renders a channel as text/event-stream.
package progress
