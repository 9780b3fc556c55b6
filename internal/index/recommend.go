package index

import (
	"strings"
	"unicode/utf8"

	"github.com/Franck-BRT/BlackIA-sub003/internal/search"
)

// DefaultTextThreshold is the extracted-text length above which a PDF is
// treated as text-only.
const DefaultTextThreshold = 500

// codeMimeTypes are treated as text.
var codeMimeTypes = []string{
	"text/javascript", "text/typescript", "text/python",
	"text/java", "text/c", "text/cpp", "text/go", "text/rust",
}

// visionMimeTypes can be embedded as page images.
var visionMimeTypes = map[string]bool{
	"application/pdf": true,
	"image/jpeg":      true,
	"image/jpg":       true,
	"image/png":       true,
	"image/gif":       true,
	"image/webp":      true,
}

// SupportsVision reports whether mime can take the vision path.
func SupportsVision(mime string) bool {
	return visionMimeTypes[normalizeMime(mime)]
}

// RecommendMode picks the representations to index for a document:
// images are vision; code, plain text and markdown are text; a PDF with no
// extracted text is vision, one with more than threshold characters is
// text, anything in between is hybrid. Everything else is text.
// threshold <= 0 means DefaultTextThreshold.
func RecommendMode(mime, text string, threshold int) search.Mode {
	if threshold <= 0 {
		threshold = DefaultTextThreshold
	}
	mime = normalizeMime(mime)

	if strings.HasPrefix(mime, "image/") {
		return search.ModeVision
	}
	for _, code := range codeMimeTypes {
		if strings.Contains(mime, code) {
			return search.ModeText
		}
	}
	if mime == "text/plain" || mime == "text/markdown" {
		return search.ModeText
	}
	if mime == "application/pdf" {
		n := utf8.RuneCountInString(text)
		switch {
		case n == 0:
			return search.ModeVision
		case n > threshold:
			return search.ModeText
		default:
			return search.ModeHybrid
		}
	}
	return search.ModeText
}

// normalizeMime lowercases mime and drops parameters such as charset.
func normalizeMime(mime string) string {
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	return strings.ToLower(strings.TrimSpace(mime))
}
