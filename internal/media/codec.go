package media

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"media-compressor/internal/logging"
	"media-compressor/internal/mediatypes"
	"media-compressor/internal/options"
)

// Engine names reported in errors and metrics.
const (
	EngineVips    = "vips"
	EngineImaging = "imaging"
)

var (
	// ErrUnsupportedFormat is returned when a codec cannot encode the
	// requested output format.
	ErrUnsupportedFormat = errors.New("output format not supported by this image engine")

	// ErrEmptyInput is returned for zero-length input.
	ErrEmptyInput = errors.New("empty image input")
)

// FormatError reports an output format the engine cannot write. It
// matches ErrUnsupportedFormat.
type FormatError struct {
	Engine string
	Format mediatypes.Format
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("output format %s is not supported by the %s image engine (supported: %s)",
		e.Format, e.Engine, strings.Join(OutputFormats(e.Engine), ", "))
}

func (e *FormatError) Is(target error) bool {
	return target == ErrUnsupportedFormat
}

// OutputFormats lists the formats engine can encode.
func OutputFormats(engine string) []string {
	formats := mediatypes.ImageFormats
	if engine == EngineImaging {
		formats = []mediatypes.Format{mediatypes.FormatJPEG, mediatypes.FormatPNG}
	}
	names := make([]string, len(formats))
	for i, f := range formats {
		names[i] = string(f)
	}
	return names
}

// Output is an encoded image.
type Output struct {
	Data        []byte
	ContentType string
	Width       int
	Height      int
}

// Codec decodes, resizes and re-encodes an image held in memory.
type Codec interface {
	Name() string
	Encode(ctx context.Context, input []byte, cfg options.ImageConfig) (*Output, error)
}

// NewCodec returns the codec for engine ("vips" or "imaging"). When libvips
// is requested but not initialized the portable codec is used instead.
func NewCodec(engine string) Codec {
	switch strings.ToLower(engine) {
	case EngineImaging:
		return ImagingCodec{}
	default:
		if IsVipsAvailable() {
			return VipsCodec{}
		}
		logging.Warn("libvips not available, falling back to the imaging codec (webp/avif output disabled)")
		return ImagingCodec{}
	}
}

// FitInside returns the largest size with the aspect ratio of w x h that
// fits inside maxW x maxH without enlarging. A bound of 0 leaves that axis
// unconstrained.
func FitInside(w, h, maxW, maxH int) (int, int) {
	if w <= 0 || h <= 0 {
		return w, h
	}

	scale := 1.0
	if maxW > 0 && w > maxW {
		scale = math.Min(scale, float64(maxW)/float64(w))
	}
	if maxH > 0 && h > maxH {
		scale = math.Min(scale, float64(maxH)/float64(h))
	}
	if scale >= 1 {
		return w, h
	}

	fw := max(1, int(math.Round(float64(w)*scale)))
	fh := max(1, int(math.Round(float64(h)*scale)))
	if maxW > 0 {
		fw = min(fw, maxW)
	}
	if maxH > 0 {
		fh = min(fh, maxH)
	}
	return fw, fh
}
