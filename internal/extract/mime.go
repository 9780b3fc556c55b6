package extract

import (
	"path/filepath"
	"strings"
)

// mimeTypes maps file extensions to MIME types.
var mimeTypes = map[string]string{
	// Documents
	".pdf": "application/pdf",

	// Images
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",

	// Documentation
	".md":  "text/markdown",
	".mdx": "text/markdown",
	".txt": "text/plain",
	".rst": "text/x-rst",

	// Code
	".go":   "text/go",
	".ts":   "text/typescript",
	".tsx":  "text/typescript",
	".js":   "text/javascript",
	".jsx":  "text/javascript",
	".mjs":  "text/javascript",
	".py":   "text/python",
	".java": "text/java",
	".c":    "text/c",
	".h":    "text/c",
	".cpp":  "text/cpp",
	".hpp":  "text/cpp",
	".rs":   "text/rust",

	// Data
	".json": "application/json",
	".yaml": "text/x-yaml",
	".yml":  "text/x-yaml",
	".xml":  "text/xml",
	".toml": "text/x-toml",
	".csv":  "text/csv",
	".html": "text/html",
	".htm":  "text/html",
}

// MimeTypeForPath returns the MIME type for a file path from its extension.
// Unknown extensions are text/plain.
func MimeTypeForPath(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if mime, ok := mimeTypes[ext]; ok {
		return mime
	}
	return "text/plain"
}

// IsImage reports whether mime is an image type.
func IsImage(mime string) bool {
	return strings.HasPrefix(mime, "image/")
}
