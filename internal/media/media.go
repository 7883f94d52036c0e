// Package media holds the naming and typing rules shared by ingestion,
// processing and delivery: which uploads are accepted, how blob keys are
// derived and which content type a stored artifact is served with.
package media

import (
	"path/filepath"
	"strings"
	"unicode"
)

type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

func (k Kind) String() string {
	return string(k)
}

func (k Kind) Valid() bool {
	return k == KindImage || k == KindVideo
}

// OutputPrefix is prepended to an input key to form the processed artifact key.
const OutputPrefix = "processed_"

const (
	ContentTypeVideo = "video/mp4"
	ContentTypeImage = "image/jpeg"
)

const maxFilenameLen = 255

var allowedExtensions = map[string]Kind{
	".png":  KindImage,
	".jpg":  KindImage,
	".jpeg": KindImage,
	".mp4":  KindVideo,
	".avi":  KindVideo,
	".mov":  KindVideo,
}

// AllowedExtensions lists accepted extensions without the leading dot.
func AllowedExtensions() []string {
	return []string{"png", "jpg", "jpeg", "mp4", "avi", "mov"}
}

func ext(name string) string {
	return strings.ToLower(filepath.Ext(name))
}

func IsAllowed(filename string) bool {
	_, ok := allowedExtensions[ext(filename)]
	return ok
}

// KindFromFilename reports the media kind implied by the extension. The
// second return is false for extensions outside the accepted set.
func KindFromFilename(filename string) (Kind, bool) {
	k, ok := allowedExtensions[ext(filename)]
	return k, ok
}

func IsVideo(key string) bool {
	k, ok := KindFromFilename(key)
	return ok && k == KindVideo
}

// ContentTypeFor returns video/mp4 for video keys and image/jpeg for anything else.
func ContentTypeFor(key string) string {
	if IsVideo(key) {
		return ContentTypeVideo
	}
	return ContentTypeImage
}

func OutputKey(inputKey string) string {
	return OutputPrefix + inputKey
}

func IsOutputKey(key string) bool {
	return strings.HasPrefix(key, OutputPrefix)
}

// SanitizeFilename reduces a client supplied name to a flat ASCII key that is
// safe to use as a blob key and a temp file suffix. Whitespace becomes '_';
// anything outside [A-Za-z0-9._-] is dropped.
func SanitizeFilename(filename string) string {
	filename = strings.ReplaceAll(filename, "\\", "/")
	filename = filepath.Base(filename)

	var b strings.Builder
	for _, r := range filename {
		switch {
		case r > unicode.MaxASCII:
		case unicode.IsSpace(r):
			b.WriteByte('_')
		case r == '.' || r == '_' || r == '-':
			b.WriteRune(r)
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		}
	}

	result := strings.Trim(b.String(), "._")
	if len(result) > maxFilenameLen {
		e := filepath.Ext(result)
		name := strings.TrimSuffix(result, e)
		if keep := maxFilenameLen - len(e); keep > 0 && len(name) > keep {
			name = name[:keep]
		}
		result = name + e
	}

	if result == "" {
		return "unnamed_file"
	}
	return result
}
