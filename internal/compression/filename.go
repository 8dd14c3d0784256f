package compression

import "media-compressor/internal/mediatypes"

// FilenamePrefix starts every suggested result name.
const FilenamePrefix = "compressed-"

// Filename derives the suggested download name: the original base name with
// its extension (any case) replaced by ext, prefixed with FilenamePrefix.
// An empty name becomes "file".
func Filename(inputName, ext string) string {
	base := mediatypes.BaseName(inputName)
	if base == "" || base == "." || base == "/" {
		base = "file"
	}
	return FilenamePrefix + base + "." + ext
}
