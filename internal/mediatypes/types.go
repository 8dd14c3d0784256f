package mediatypes

import (
	"path/filepath"
	"strings"
)

// Kind distinguishes the two compression pipelines.
type Kind string

const (
	// KindImage is processed in memory by an image codec.
	KindImage Kind = "image"
	// KindVideo is processed through scratch files by the video engine.
	KindVideo Kind = "video"
)

// Format is an output image format.
type Format string

const (
	// FormatJPEG is the default output format.
	FormatJPEG Format = "jpeg"
	// FormatPNG is lossless; quality only affects palette quantisation.
	FormatPNG Format = "png"
	// FormatWebP output.
	FormatWebP Format = "webp"
	// FormatAVIF output.
	FormatAVIF Format = "avif"

	// DefaultFormat is used whenever the requested format is not recognised.
	DefaultFormat = FormatJPEG
)

// ImageFormats lists the accepted output formats in a stable order.
var ImageFormats = []Format{FormatJPEG, FormatPNG, FormatWebP, FormatAVIF}

// VideoContentType is the content type of every video result.
const VideoContentType = "video/mp4"

// VideoExtension is the extension of every video result.
const VideoExtension = "mp4"

// ParseFormat returns the format named by s. Matching is exact: "JPEG" or
// "jpg" are not accepted.
func ParseFormat(s string) (Format, bool) {
	for _, f := range ImageFormats {
		if string(f) == s {
			return f, true
		}
	}
	return "", false
}

// ContentType returns the HTTP content type for the format.
func (f Format) ContentType() string {
	if f == FormatJPEG {
		return "image/jpeg"
	}
	return "image/" + string(f)
}

// Extension returns the conventional file extension, without the dot.
func (f Format) Extension() string {
	if f == FormatJPEG {
		return "jpg"
	}
	return string(f)
}

// VideoExtensions maps file extensions to whether they are accepted video inputs.
var VideoExtensions = map[string]bool{
	".mp4":  true,
	".mkv":  true,
	".avi":  true,
	".mov":  true,
	".wmv":  true,
	".flv":  true,
	".webm": true,
	".m4v":  true,
	".mpeg": true,
	".mpg":  true,
	".3gp":  true,
	".ts":   true,
}

// ImageExtensions maps file extensions to whether they are accepted image
// inputs when scanning a directory.
var ImageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".bmp":  true,
	".webp": true,
	".tif":  true,
	".tiff": true,
	".heic": true,
	".heif": true,
	".avif": true,
}

// KindForFile classifies a local file by extension. ok is false for files
// that are neither a known image nor a known video.
func KindForFile(name string) (kind Kind, ok bool) {
	ext := strings.ToLower(filepath.Ext(name))
	switch {
	case VideoExtensions[ext]:
		return KindVideo, true
	case ImageExtensions[ext]:
		return KindImage, true
	default:
		return "", false
	}
}

// KindForName guesses the pipeline for a local file name. Anything that is
// not a known video container is treated as an image.
func KindForName(name string) Kind {
	if VideoExtensions[strings.ToLower(filepath.Ext(name))] {
		return KindVideo
	}
	return KindImage
}

// BaseName strips directories and the final extension from name, whatever
// its case. A name that is only an extension (".jpg") keeps it.
func BaseName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	ext := filepath.Ext(name)
	if ext == "" || ext == name {
		return name
	}
	return strings.TrimSuffix(name, ext)
}
