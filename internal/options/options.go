package options

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"media-compressor/internal/mediatypes"
)

// Form field names shared by the HTTP handlers and the CLI.
const (
	FieldFormat       = "format"
	FieldQuality      = "quality"
	FieldMaxWidth     = "maxWidth"
	FieldMaxHeight    = "maxHeight"
	FieldVideoBitrate = "videoBitrate"
	FieldAudioBitrate = "audioBitrate"
)

// Defaults applied when a field is missing or unusable.
const (
	DefaultQuality      = 80
	MinQuality          = 1
	MaxQuality          = 100
	DefaultVideoBitrate = "1000k"
	DefaultAudioBitrate = "128k"

	// maxDimension caps absurd box sizes so they stay representable.
	maxDimension = math.MaxInt32
)

// Raw is the untrusted option mapping submitted alongside a file. Values
// are strings from multipart forms or numbers from programmatic callers.
type Raw map[string]any

// FromValues builds a Raw from form values, keeping the first value of
// each key.
func FromValues(values map[string][]string) Raw {
	raw := make(Raw, len(values))
	for k, v := range values {
		if len(v) > 0 {
			raw[k] = v[0]
		}
	}
	return raw
}

// ImageConfig is the normalised configuration for an image job.
type ImageConfig struct {
	Format  mediatypes.Format
	Quality int
	// MaxWidth and MaxHeight are 0 when the axis is unconstrained.
	MaxWidth  int
	MaxHeight int
}

// HasBounds reports whether a resize box was requested.
func (c ImageConfig) HasBounds() bool {
	return c.MaxWidth > 0 || c.MaxHeight > 0
}

// Raw converts the configuration back to its option mapping.
func (c ImageConfig) Raw() Raw {
	raw := Raw{
		FieldFormat:  string(c.Format),
		FieldQuality: c.Quality,
	}
	if c.MaxWidth > 0 {
		raw[FieldMaxWidth] = c.MaxWidth
	}
	if c.MaxHeight > 0 {
		raw[FieldMaxHeight] = c.MaxHeight
	}
	return raw
}

// VideoConfig is the normalised configuration for a video job.
type VideoConfig struct {
	// Bitrates are passed to the engine verbatim, e.g. "1000k".
	VideoBitrate string
	AudioBitrate string
	MaxWidth     int
	MaxHeight    int
}

// HasBounds reports whether an output size was requested.
func (c VideoConfig) HasBounds() bool {
	return c.MaxWidth > 0 || c.MaxHeight > 0
}

// Raw converts the configuration back to its option mapping.
func (c VideoConfig) Raw() Raw {
	raw := Raw{
		FieldVideoBitrate: c.VideoBitrate,
		FieldAudioBitrate: c.AudioBitrate,
	}
	if c.MaxWidth > 0 {
		raw[FieldMaxWidth] = c.MaxWidth
	}
	if c.MaxHeight > 0 {
		raw[FieldMaxHeight] = c.MaxHeight
	}
	return raw
}

// NormalizeImageConfig turns raw options into a safe image configuration.
// It never fails: unusable fields fall back to their defaults.
func NormalizeImageConfig(raw Raw) ImageConfig {
	cfg := ImageConfig{
		Format:  mediatypes.DefaultFormat,
		Quality: DefaultQuality,
	}

	if f, ok := mediatypes.ParseFormat(raw.str(FieldFormat)); ok {
		cfg.Format = f
	}

	if q, ok := raw.number(FieldQuality); ok {
		cfg.Quality = clampQuality(q)
	}

	cfg.MaxWidth = raw.dimension(FieldMaxWidth)
	cfg.MaxHeight = raw.dimension(FieldMaxHeight)
	return cfg
}

// NormalizeVideoConfig turns raw options into a safe video configuration.
// Bitrates are not validated beyond substituting defaults for empty values.
func NormalizeVideoConfig(raw Raw) VideoConfig {
	cfg := VideoConfig{
		VideoBitrate: raw.str(FieldVideoBitrate),
		AudioBitrate: raw.str(FieldAudioBitrate),
		MaxWidth:     raw.dimension(FieldMaxWidth),
		MaxHeight:    raw.dimension(FieldMaxHeight),
	}
	if cfg.VideoBitrate == "" {
		cfg.VideoBitrate = DefaultVideoBitrate
	}
	if cfg.AudioBitrate == "" {
		cfg.AudioBitrate = DefaultAudioBitrate
	}
	return cfg
}

func clampQuality(q float64) int {
	q = math.Round(q)
	if q < MinQuality {
		return MinQuality
	}
	if q > MaxQuality {
		return MaxQuality
	}
	return int(q)
}

// str returns the value as a string; numbers are formatted, anything else
// is treated as absent.
func (r Raw) str(key string) string {
	switch v := r[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		if isFinite(v) {
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

// number parses the value as a finite number. Blank strings are absent.
func (r Raw) number(key string) (float64, bool) {
	var f float64
	switch v := r[key].(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0, false
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	return f, isFinite(f)
}

// dimension returns a positive box size or 0 for "unconstrained".
func (r Raw) dimension(key string) int {
	v, ok := r.number(key)
	if !ok || v <= 0 {
		return 0
	}
	if v > maxDimension {
		return maxDimension
	}
	n := int(math.Round(v))
	if n < 1 {
		n = 1
	}
	return n
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
