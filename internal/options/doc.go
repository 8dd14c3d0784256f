// Package options is the single boundary where untyped client input becomes
// typed compression configuration.
//
// NormalizeImageConfig and NormalizeVideoConfig are pure functions that
// never fail. Every missing or malformed field falls back to a default so a
// partially filled form still produces a usable job:
//
//   - format: exactly one of jpeg, png, webp, avif; otherwise jpeg
//   - quality: finite number rounded and clamped to [1,100]; otherwise 80
//   - maxWidth/maxHeight: finite and > 0; otherwise unconstrained
//   - videoBitrate/audioBitrate: any non-empty string; otherwise 1000k/128k
//
// Because nothing is ever rejected, an InvalidParameter error is never
// raised for options.
package options
