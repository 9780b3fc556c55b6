package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Franck-BRT/BlackIA-sub003/internal/logging"
)

func newTestStore(t *testing.T, opts Options) *Store {
	t.Helper()
	if opts.DataDir == "" {
		opts.DataDir = t.TempDir()
	}
	opts.Logger = logging.Discard()
	s, err := OpenStore(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// unit returns the i-th standard basis vector of dimension d.
func unit(d, i int) []float32 {
	v := make([]float32, d)
	v[i] = 1
	return v
}

func textChunk(attachmentID string, index int, vec []float32) TextChunk {
	return TextChunk{
		ID:           ChunkID(attachmentID, index),
		AttachmentID: attachmentID,
		ChunkIndex:   index,
		Text:         attachmentID + " chunk",
		Vector:       vec,
	}
}

func visionPage(attachmentID string, pageIndex int, patches ...[]float32) VisionPage {
	return VisionPage{
		AttachmentID: attachmentID,
		PageIndex:    pageIndex,
		Patches:      patches,
	}
}
