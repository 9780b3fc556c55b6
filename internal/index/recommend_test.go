package index

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Franck-BRT/BlackIA-sub003/internal/search"
)

func TestRecommendMode(t *testing.T) {
	long := strings.Repeat("x", 501)
	exact := strings.Repeat("é", 500)

	tests := []struct {
		name string
		mime string
		text string
		want search.Mode
	}{
		{"png", "image/png", "", search.ModeVision},
		{"jpeg with text", "image/jpeg", "caption", search.ModeVision},
		{"go code", "text/go", "package main", search.ModeText},
		{"javascript with charset", "text/javascript; charset=utf-8", "", search.ModeText},
		{"plain", "text/plain", "", search.ModeText},
		{"markdown", "TEXT/MARKDOWN", "# x", search.ModeText},
		{"pdf without text", "application/pdf", "", search.ModeVision},
		{"pdf short text", "application/pdf", "a few words", search.ModeHybrid},
		{"pdf exactly at threshold", "application/pdf", exact, search.ModeHybrid},
		{"pdf long text", "application/pdf", long, search.ModeText},
		{"unknown", "application/zip", "", search.ModeText},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RecommendMode(tt.mime, tt.text, 0))
		})
	}
}

func TestRecommendMode_CustomThreshold(t *testing.T) {
	assert.Equal(t, search.ModeText, RecommendMode("application/pdf", "abcdef", 5))
	assert.Equal(t, search.ModeHybrid, RecommendMode("application/pdf", "abcde", 5))
}

func TestSupportsVision(t *testing.T) {
	for _, mime := range []string{"application/pdf", "image/jpeg", "image/png", "image/gif", "image/webp", "IMAGE/PNG"} {
		assert.True(t, SupportsVision(mime), mime)
	}
	for _, mime := range []string{"image/tiff", "text/plain", "image/svg+xml", ""} {
		assert.False(t, SupportsVision(mime), mime)
	}
}
