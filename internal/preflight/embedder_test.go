package preflight

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Franck-BRT/BlackIA-sub003/internal/embed"
)

type downText struct{ *embed.StaticEmbedder }

func (downText) Available(context.Context) bool { return false }

type downVision struct{ *embed.StaticVisionEmbedder }

func (downVision) Available(context.Context) bool { return false }

func TestCheckTextEmbedder(t *testing.T) {
	ctx := context.Background()

	t.Run("available", func(t *testing.T) {
		r := New(WithEmbedders(embed.NewStaticEmbedder(16), nil)).CheckTextEmbedder(ctx)
		assert.Equal(t, StatusPass, r.Status)
		assert.Contains(t, r.Message, "16 dims")
	})
	t.Run("unreachable is critical", func(t *testing.T) {
		r := New(WithEmbedders(downText{embed.NewStaticEmbedder(16)}, nil)).CheckTextEmbedder(ctx)
		assert.True(t, r.IsCritical())
		assert.Contains(t, r.Message, "not reachable")
	})
	t.Run("missing is critical", func(t *testing.T) {
		assert.True(t, New().CheckTextEmbedder(ctx).IsCritical())
	})
}

func TestCheckVisionEmbedder(t *testing.T) {
	ctx := context.Background()

	t.Run("available", func(t *testing.T) {
		r := New(WithEmbedders(nil, embed.NewStaticVisionEmbedder(8))).CheckVisionEmbedder(ctx)
		assert.Equal(t, StatusPass, r.Status)
	})
	t.Run("unreachable only warns", func(t *testing.T) {
		r := New(WithEmbedders(nil, downVision{embed.NewStaticVisionEmbedder(8)})).CheckVisionEmbedder(ctx)
		assert.Equal(t, StatusWarn, r.Status)
		assert.False(t, r.IsCritical())
		assert.Contains(t, r.Message, "text-only")
	})
	t.Run("disabled only warns", func(t *testing.T) {
		r := New().CheckVisionEmbedder(ctx)
		assert.Equal(t, StatusWarn, r.Status)
		assert.False(t, r.Required)
	})
}
