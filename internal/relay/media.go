package relay

import (
	"net/url"
	"path"
	"strings"

	"github.com/h2non/filetype"
)

const fallbackMediaType = "video/mp4"

// Common types first; filetype covers the rest by extension.
var mediaTypes = map[string]string{
	".mp4":  "video/mp4",
	".m4v":  "video/mp4",
	".mkv":  "video/x-matroska",
	".webm": "video/webm",
	".avi":  "video/x-msvideo",
	".mov":  "video/quicktime",
	".ts":   "video/mp2t",
	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
	".aac":  "audio/aac",
	".flac": "audio/flac",
	".ogg":  "audio/ogg",
	".wav":  "audio/wav",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
}

// mediaType guesses the content type of a media URL from its extension.
func mediaType(uri string) string {
	if isHLS(uri) {
		return "application/x-mpegURL"
	}
	ext := mediaExt(uri)
	if ext == "" {
		return fallbackMediaType
	}
	if known, ok := mediaTypes[ext]; ok {
		return known
	}
	guessed := filetype.GetType(ext[1:])
	if guessed == filetype.Unknown || guessed.MIME.Value == "" {
		return fallbackMediaType
	}
	return guessed.MIME.Value
}

func isHLS(uri string) bool {
	return mediaExt(uri) == ".m3u8"
}

func mediaExt(uri string) string {
	parsed, err := url.Parse(uri)
	if err != nil || parsed.Path == "" {
		return ""
	}
	ext := strings.ToLower(path.Ext(parsed.Path))
	if len(ext) < 2 || len(ext) > 16 {
		return ""
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}
