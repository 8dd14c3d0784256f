package media

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"media-compressor/internal/logging"
	"media-compressor/internal/mediatypes"
	"media-compressor/internal/options"

	"github.com/davidbyttow/govips/v2/vips"
)

// pngCompression is the zlib effort used for PNG output.
const pngCompression = 9

var (
	vipsInitialized bool
	vipsInitMutex   sync.Mutex
	vipsAvailable   bool
)

// ErrVipsUnavailable is returned by VipsCodec before InitVips has run.
var ErrVipsUnavailable = errors.New("libvips not available")

// vipsLogLevel maps the application level to the minimum libvips level
// that is forwarded.
func vipsLogLevel(level logging.LogLevel) vips.LogLevel {
	switch level {
	case logging.LevelDebug:
		return vips.LogLevelInfo
	case logging.LevelWarn, logging.LevelError:
		return vips.LogLevelError
	default:
		return vips.LogLevelWarning
	}
}

func vipsLogHandler(domain string, level vips.LogLevel, msg string) {
	switch level {
	case vips.LogLevelError, vips.LogLevelCritical:
		logging.Error("[%s] %s", domain, msg)
	case vips.LogLevelWarning:
		logging.Warn("[%s] %s", domain, msg)
	default:
		logging.Debug("[%s] %s", domain, msg)
	}
}

// InitVips starts libvips. concurrency is the number of libvips worker
// threads per operation; 0 lets libvips decide. Safe to call repeatedly.
func InitVips(concurrency int) error {
	vipsInitMutex.Lock()
	defer vipsInitMutex.Unlock()

	if vipsInitialized {
		return nil
	}

	// Logging must be configured before Startup.
	vips.LoggingSettings(vipsLogHandler, vipsLogLevel(logging.GetLevel()))

	vips.Startup(&vips.Config{
		ConcurrencyLevel: concurrency,
		MaxCacheMem:      50 * 1024 * 1024,
		MaxCacheSize:     100,
		ReportLeaks:      false,
		CacheTrace:       false,
		CollectStats:     false,
	})

	vipsInitialized = true
	vipsAvailable = true
	logging.Info("libvips initialized successfully (version: %s)", vips.Version)
	return nil
}

// ShutdownVips releases libvips. libvips cannot be restarted afterwards.
func ShutdownVips() {
	vipsInitMutex.Lock()
	defer vipsInitMutex.Unlock()

	if vipsInitialized {
		vips.Shutdown()
		vipsInitialized = false
		vipsAvailable = false
		logging.Info("libvips shutdown complete")
	}
}

// IsVipsAvailable returns whether libvips is initialized and available
func IsVipsAvailable() bool {
	vipsInitMutex.Lock()
	defer vipsInitMutex.Unlock()
	return vipsAvailable
}

// VipsCodec encodes through libvips and supports every output format.
// Decoding ignores recoverable format errors so images with damaged
// metadata or truncated scans still load.
type VipsCodec struct{}

// Name implements Codec.
func (VipsCodec) Name() string { return EngineVips }

// Encode implements Codec.
func (VipsCodec) Encode(ctx context.Context, input []byte, cfg options.ImageConfig) (*Output, error) {
	if len(input) == 0 {
		return nil, ErrEmptyInput
	}
	if !IsVipsAvailable() {
		return nil, ErrVipsUnavailable
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	params := vips.NewImportParams()
	params.FailOnError.Set(false)
	params.AutoRotate.Set(true)

	ref, err := vips.LoadImageFromBuffer(input, params)
	if err != nil {
		return nil, fmt.Errorf("vips failed to load image: %w", err)
	}
	defer ref.Close()

	origWidth, origHeight := ref.Width(), ref.Height()
	width, height := FitInside(origWidth, origHeight, cfg.MaxWidth, cfg.MaxHeight)
	if width != origWidth || height != origHeight {
		logging.Debug("Vips resizing %dx%d to fit %dx%d", origWidth, origHeight, width, height)
		if err := ref.Thumbnail(width, height, vips.InterestingNone); err != nil {
			return nil, fmt.Errorf("vips resize failed: %w", err)
		}
	}

	data, err := vipsExport(ref, cfg)
	if err != nil {
		return nil, fmt.Errorf("vips %s export failed: %w", cfg.Format, err)
	}

	return &Output{
		Data:        data,
		ContentType: cfg.Format.ContentType(),
		Width:       ref.Width(),
		Height:      ref.Height(),
	}, nil
}

func vipsExport(ref *vips.ImageRef, cfg options.ImageConfig) ([]byte, error) {
	var (
		data []byte
		err  error
	)

	switch cfg.Format {
	case mediatypes.FormatPNG:
		p := vips.NewPngExportParams()
		p.Compression = pngCompression
		p.Quality = cfg.Quality
		data, _, err = ref.ExportPng(p)
	case mediatypes.FormatWebP:
		p := vips.NewWebpExportParams()
		p.Quality = cfg.Quality
		data, _, err = ref.ExportWebp(p)
	case mediatypes.FormatAVIF:
		p := vips.NewAvifExportParams()
		p.Quality = cfg.Quality
		data, _, err = ref.ExportAvif(p)
	default:
		p := vips.NewJpegExportParams()
		p.Quality = cfg.Quality
		p.OptimizeCoding = true
		data, _, err = ref.ExportJpeg(p)
	}
	return data, err
}
