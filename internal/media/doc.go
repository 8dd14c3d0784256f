// Package media re-encodes images in memory.
//
// Two [Codec] implementations share one contract: decode permissively,
// shrink to fit inside the requested box without enlarging ([FitInside]),
// and encode to the requested format and quality.
//
//   - [VipsCodec] uses libvips and supports jpeg, png, webp and avif. Call
//     [InitVips] once at startup.
//   - [ImagingCodec] is pure Go and supports jpeg and png output only.
//
// [NewCodec] picks one from the IMAGE_ENGINE setting, falling back to the
// portable codec when libvips did not start.
package media
