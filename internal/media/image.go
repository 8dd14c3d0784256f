package media

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"

	"media-compressor/internal/mediatypes"
	"media-compressor/internal/options"

	// Extra decoders for the portable codec
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/disintegration/imaging"
)

// ImagingCodec is the pure-Go fallback. It decodes jpeg, png, gif, bmp,
// tiff and webp but only encodes jpeg and png.
type ImagingCodec struct{}

// Name implements Codec.
func (ImagingCodec) Name() string { return EngineImaging }

// Encode implements Codec.
func (ImagingCodec) Encode(ctx context.Context, input []byte, cfg options.ImageConfig) (*Output, error) {
	if len(input) == 0 {
		return nil, ErrEmptyInput
	}

	var format imaging.Format
	var encodeOpts []imaging.EncodeOption
	switch cfg.Format {
	case mediatypes.FormatJPEG:
		format = imaging.JPEG
		encodeOpts = append(encodeOpts, imaging.JPEGQuality(cfg.Quality))
	case mediatypes.FormatPNG:
		format = imaging.PNG
		encodeOpts = append(encodeOpts, imaging.PNGCompressionLevel(png.BestCompression))
	default:
		return nil, &FormatError{Engine: EngineImaging, Format: cfg.Format}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img, err := imaging.Decode(bytes.NewReader(input), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	img = resizeToFit(img, cfg.MaxWidth, cfg.MaxHeight)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, format, encodeOpts...); err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", cfg.Format, err)
	}

	bounds := img.Bounds()
	return &Output{
		Data:        buf.Bytes(),
		ContentType: cfg.Format.ContentType(),
		Width:       bounds.Dx(),
		Height:      bounds.Dy(),
	}, nil
}

// resizeToFit shrinks img to fit the box; it never enlarges.
func resizeToFit(img image.Image, maxW, maxH int) image.Image {
	bounds := img.Bounds()
	w, h := FitInside(bounds.Dx(), bounds.Dy(), maxW, maxH)
	if w == bounds.Dx() && h == bounds.Dy() {
		return img
	}
	return imaging.Resize(img, w, h, imaging.Lanczos)
}
