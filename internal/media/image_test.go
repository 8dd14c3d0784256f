package media

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"strings"
	"testing"

	"media-compressor/internal/mediatypes"
	"media-compressor/internal/options"
)

// testImage returns a gradient image encoded as format.
func testImage(t *testing.T, width, height int, format string) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8((x * 255) / width),
				G: uint8((y * 255) / height),
				B: 128,
				A: 255,
			})
		}
	}

	var buf bytes.Buffer
	var err error
	switch format {
	case "jpeg":
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90})
	case "png":
		err = png.Encode(&buf, img)
	default:
		t.Fatalf("Unsupported test image format: %s", format)
	}
	if err != nil {
		t.Fatalf("Failed to encode test image: %v", err)
	}
	return buf.Bytes()
}

func decodedSize(t *testing.T, data []byte) (int, int) {
	t.Helper()
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("output is not a decodable image: %v", err)
	}
	return cfg.Width, cfg.Height
}

func TestFitInside(t *testing.T) {
	tests := []struct {
		name         string
		w, h         int
		maxW, maxH   int
		wantW, wantH int
	}{
		{"unconstrained", 4000, 2000, 0, 0, 4000, 2000},
		{"width bound only", 4000, 2000, 1000, 0, 1000, 500},
		{"height bound only", 4000, 2000, 0, 500, 1000, 500},
		{"both bounds, width limits", 4000, 2000, 1000, 1000, 1000, 500},
		{"both bounds, height limits", 2000, 4000, 1000, 1000, 500, 1000},
		{"never enlarges", 100, 50, 1000, 1000, 100, 50},
		{"exact fit", 1000, 500, 1000, 500, 1000, 500},
		{"rounding", 1001, 333, 500, 0, 500, 166},
		{"extreme aspect keeps one pixel", 10000, 1, 100, 0, 100, 1},
		{"zero source", 0, 0, 10, 10, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h := FitInside(tt.w, tt.h, tt.maxW, tt.maxH)
			if w != tt.wantW || h != tt.wantH {
				t.Errorf("FitInside(%d,%d,%d,%d) = %dx%d, want %dx%d",
					tt.w, tt.h, tt.maxW, tt.maxH, w, h, tt.wantW, tt.wantH)
			}
		})
	}
}

func TestFitInsideContainment(t *testing.T) {
	for _, src := range [][2]int{{4000, 2000}, {1920, 1080}, {333, 777}, {1, 5000}} {
		for _, box := range [][2]int{{1000, 0}, {0, 300}, {640, 480}, {7, 7}} {
			w, h := FitInside(src[0], src[1], box[0], box[1])
			if box[0] > 0 && w > box[0] || box[1] > 0 && h > box[1] {
				t.Errorf("%v in %v = %dx%d escapes box", src, box, w, h)
			}
			if w > src[0] || h > src[1] {
				t.Errorf("%v in %v = %dx%d enlarges", src, box, w, h)
			}
		}
	}
}

func TestImagingCodecResizeContainment(t *testing.T) {
	input := testImage(t, 4000, 2000, "jpeg")

	out, err := ImagingCodec{}.Encode(context.Background(), input, options.ImageConfig{
		Format:   mediatypes.FormatJPEG,
		Quality:  80,
		MaxWidth: 1000,
	})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	w, h := decodedSize(t, out.Data)
	if w > 1000 {
		t.Errorf("width %d exceeds bound", w)
	}
	if ratio := float64(w) / float64(h); ratio < 1.99 || ratio > 2.01 {
		t.Errorf("aspect ratio %.3f not preserved", ratio)
	}
	if out.Width != w || out.Height != h {
		t.Errorf("reported %dx%d, decoded %dx%d", out.Width, out.Height, w, h)
	}
	if out.ContentType != "image/jpeg" {
		t.Errorf("ContentType = %q", out.ContentType)
	}
}

func TestImagingCodecNoUpscale(t *testing.T) {
	input := testImage(t, 120, 80, "png")

	out, err := ImagingCodec{}.Encode(context.Background(), input, options.ImageConfig{
		Format:    mediatypes.FormatPNG,
		Quality:   80,
		MaxWidth:  4000,
		MaxHeight: 4000,
	})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if w, h := decodedSize(t, out.Data); w != 120 || h != 80 {
		t.Errorf("got %dx%d, want original 120x80", w, h)
	}
	if out.ContentType != "image/png" {
		t.Errorf("ContentType = %q", out.ContentType)
	}
}

func TestImagingCodecQualityAffectsSize(t *testing.T) {
	input := testImage(t, 400, 400, "png")

	low, err := ImagingCodec{}.Encode(context.Background(), input, options.ImageConfig{Format: mediatypes.FormatJPEG, Quality: 5})
	if err != nil {
		t.Fatal(err)
	}
	high, err := ImagingCodec{}.Encode(context.Background(), input, options.ImageConfig{Format: mediatypes.FormatJPEG, Quality: 100})
	if err != nil {
		t.Fatal(err)
	}
	if len(low.Data) >= len(high.Data) {
		t.Errorf("quality 5 (%d bytes) should be smaller than quality 100 (%d bytes)", len(low.Data), len(high.Data))
	}
}

func TestImagingCodecErrors(t *testing.T) {
	jpegInput := testImage(t, 10, 10, "jpeg")

	tests := []struct {
		name    string
		input   []byte
		format  mediatypes.Format
		wantErr error
	}{
		{"empty input", nil, mediatypes.FormatJPEG, ErrEmptyInput},
		{"webp output", jpegInput, mediatypes.FormatWebP, ErrUnsupportedFormat},
		{"avif output", jpegInput, mediatypes.FormatAVIF, ErrUnsupportedFormat},
		{"garbage input", []byte("definitely not an image"), mediatypes.FormatJPEG, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ImagingCodec{}.Encode(context.Background(), tt.input, options.ImageConfig{Format: tt.format, Quality: 80})
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestFormatErrorNamesEngineAndFormats(t *testing.T) {
	_, err := ImagingCodec{}.Encode(context.Background(), testImage(t, 4, 4, "jpeg"), options.ImageConfig{Format: mediatypes.FormatWebP, Quality: 80})

	var fe *FormatError
	if !errors.As(err, &fe) {
		t.Fatalf("expected *FormatError, got %v", err)
	}
	if fe.Engine != EngineImaging || fe.Format != mediatypes.FormatWebP {
		t.Errorf("unexpected error fields %+v", fe)
	}
	want := "output format webp is not supported by the imaging image engine (supported: jpeg, png)"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestOutputFormats(t *testing.T) {
	tests := []struct {
		engine string
		want   string
	}{
		{EngineImaging, "jpeg,png"},
		{EngineVips, "jpeg,png,webp,avif"},
	}
	for _, tt := range tests {
		t.Run(tt.engine, func(t *testing.T) {
			if got := strings.Join(OutputFormats(tt.engine), ","); got != tt.want {
				t.Errorf("OutputFormats(%s) = %s, want %s", tt.engine, got, tt.want)
			}
		})
	}
}

func TestImagingCodecHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ImagingCodec{}.Encode(ctx, testImage(t, 10, 10, "jpeg"), options.ImageConfig{Format: mediatypes.FormatJPEG, Quality: 80})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestNewCodecImaging(t *testing.T) {
	if got := NewCodec("imaging").Name(); got != EngineImaging {
		t.Errorf("NewCodec(imaging) = %s", got)
	}
	if got := NewCodec("IMAGING").Name(); got != EngineImaging {
		t.Errorf("NewCodec(IMAGING) = %s", got)
	}
}
