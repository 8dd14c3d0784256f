// Package compression orchestrates one compression job per request.
//
// [Controller.Compress] normalises the options, admits the job through a
// per-kind [Limiter], and hands the input to an [Invoker]. Images are
// processed in memory. Videos are written to a scratch scope, encoded from
// file to file, and read back; the scope is released before Compress
// returns on every path, including engine failures and panics.
//
// Failures are returned as [*Error] whose [Kind] maps to an HTTP status:
// MissingInput → 400, InputTooLarge → 413, everything else → 500.
// InvalidParameter exists for completeness but is never produced since
// options never fail to normalise.
//
// When a request carries a progress channel, the controller reports
// phases on it and publishes the terminal event for failed jobs. Successful
// jobs leave the channel at 90% so the caller can report delivery and then
// complete it.
package compression
