package upload

import (
	"fmt"
	"mime"
	"path/filepath"
	"slices"
	"strings"

	"maichart/internal/services"
)

var mimeExtensions = map[string]string{
	"audio/webm":      "webm",
	"video/webm":      "webm",
	"audio/wav":       "wav",
	"audio/x-wav":     "wav",
	"audio/wave":      "wav",
	"audio/vnd.wave":  "wav",
	"audio/mpeg":      "mp3",
	"audio/mp3":       "mp3",
	"audio/ogg":       "ogg",
	"application/ogg": "ogg",
	"audio/mp4":       "m4a",
	"audio/m4a":       "m4a",
	"audio/x-m4a":     "m4a",
}

// Validate checks size and type of an upload and returns the extension the
// file is stored under. size < 0 means unknown and is checked while copying.
func Validate(filename, contentType string, size, maxBytes int64, allowed []string) (string, error) {
	if size == 0 {
		return "", services.Wrap(services.ErrValidation, "", "", "No audio file provided", nil)
	}
	if maxBytes > 0 && size > maxBytes {
		return "", tooLarge(maxBytes)
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(strings.TrimSpace(filename)), "."))
	if slices.Contains(allowed, ext) {
		return ext, nil
	}
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		if mapped, ok := mimeExtensions[strings.ToLower(mediaType)]; ok && slices.Contains(allowed, mapped) {
			return mapped, nil
		}
	}
	return "", services.Wrap(services.ErrValidation, "", "", fmt.Sprintf("Invalid file type. Allowed types: %s", strings.Join(allowed, ", ")), nil)
}

func tooLarge(maxBytes int64) error {
	return services.Wrap(services.ErrTooLarge, "", "", fmt.Sprintf("File too large. Maximum size: %dMB", maxBytes/(1024*1024)), nil)
}

// ValidSessionID reports whether id is safe to use as a session key and a
// directory name.
func ValidSessionID(id string) bool {
	if id == "" || len(id) > 128 {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}
