package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	raerrors "github.com/Franck-BRT/BlackIA-sub003/internal/errors"
)

func TestTextIndex_SearchOrthonormal(t *testing.T) {
	// Given: three chunks with orthonormal vectors
	s := newTestStore(t, Options{})
	ctx := context.Background()
	require.NoError(t, s.Text.IndexChunks(ctx, []TextChunk{
		textChunk("doc", 0, unit(3, 0)),
		textChunk("doc", 1, unit(3, 1)),
		textChunk("doc", 2, unit(3, 2)),
	}))

	// When: querying with the second basis vector
	hits, err := s.Text.Search(ctx, unit(3, 1), 3, TextFilter{})

	// Then: the matching chunk scores 1, the rest tie at 0 in chunk order
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, "doc-chunk-1", hits[0].ID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
	assert.Equal(t, "doc-chunk-0", hits[1].ID)
	assert.Equal(t, "doc-chunk-2", hits[2].ID)
	assert.InDelta(t, 0.0, hits[1].Score, 1e-6)
	assert.Nil(t, hits[0].Vector)
}

func TestTextIndex_SearchEmptyIndex(t *testing.T) {
	s := newTestStore(t, Options{})

	hits, err := s.Text.Search(context.Background(), unit(3, 0), 5, TextFilter{})

	require.NoError(t, err)
	assert.NotNil(t, hits)
	assert.Empty(t, hits)
}

func TestTextIndex_SearchTopKAndFilters(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()

	a := textChunk("a", 0, []float32{1, 0})
	a.EntityType, a.EntityID = "conversation", "c1"
	b := textChunk("b", 0, []float32{0.9, 0.1})
	b.EntityType, b.EntityID = "project", "p1"
	c := textChunk("c", 0, []float32{0.5, 0.5})
	c.EntityType, c.EntityID = "conversation", "c2"
	require.NoError(t, s.Text.IndexChunks(ctx, []TextChunk{a, b, c}))

	tests := []struct {
		name   string
		filter TextFilter
		topK   int
		want   []string
	}{
		{"no filter", TextFilter{}, 10, []string{"a-chunk-0", "b-chunk-0", "c-chunk-0"}},
		{"top k", TextFilter{}, 1, []string{"a-chunk-0"}},
		{"entity type", TextFilter{EntityType: "conversation"}, 10, []string{"a-chunk-0", "c-chunk-0"}},
		{"entity id", TextFilter{EntityType: "conversation", EntityID: "c2"}, 10, []string{"c-chunk-0"}},
		{"attachments", TextFilter{AttachmentIDs: []string{"b", "c"}}, 10, []string{"b-chunk-0", "c-chunk-0"}},
		{"unknown attachment", TextFilter{AttachmentIDs: []string{"zzz"}}, 10, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hits, err := s.Text.Search(ctx, []float32{1, 0}, tt.topK, tt.filter)
			require.NoError(t, err)
			ids := make([]string, 0, len(hits))
			for _, h := range hits {
				ids = append(ids, h.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestTextIndex_DimensionMismatchRowsSkipped(t *testing.T) {
	// Given: rows of two different dimensions
	s := newTestStore(t, Options{})
	ctx := context.Background()
	require.NoError(t, s.Text.IndexChunks(ctx, []TextChunk{textChunk("old", 0, []float32{1, 0, 0})}))
	require.NoError(t, s.Text.IndexChunks(ctx, []TextChunk{textChunk("new", 0, []float32{1, 0})}))

	// When: searching with a 2-dim query
	hits, err := s.Text.Search(ctx, []float32{1, 0}, 10, TextFilter{})

	// Then: only the compatible row is returned
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "new", hits[0].AttachmentID)
}

func TestTextIndex_IndexChunksRejectsMixedDimensions(t *testing.T) {
	s := newTestStore(t, Options{})

	err := s.Text.IndexChunks(context.Background(), []TextChunk{
		textChunk("doc", 0, []float32{1, 0}),
		textChunk("doc", 1, []float32{1, 0, 0}),
	})

	assert.ErrorIs(t, err, raerrors.ErrEmbeddingDimensionMismatch)
}

func TestTextIndex_UpsertIsIdempotent(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()
	chunks := []TextChunk{textChunk("doc", 0, unit(2, 0)), textChunk("doc", 1, unit(2, 1))}

	require.NoError(t, s.Text.IndexChunks(ctx, chunks))
	require.NoError(t, s.Text.IndexChunks(ctx, chunks))

	n, err := s.Text.Count(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestTextIndex_ReplaceAttachment(t *testing.T) {
	// Given: an attachment with three chunks
	s := newTestStore(t, Options{})
	ctx := context.Background()
	require.NoError(t, s.Text.ReplaceAttachment(ctx, "doc", []TextChunk{
		textChunk("doc", 0, unit(2, 0)),
		textChunk("doc", 1, unit(2, 1)),
		textChunk("doc", 2, unit(2, 0)),
	}))

	// When: replacing it with a single chunk
	require.NoError(t, s.Text.ReplaceAttachment(ctx, "doc", []TextChunk{textChunk("doc", 0, unit(2, 1))}))

	// Then: only the new chunk remains
	hits, err := s.Text.GetAllByFilter(ctx, TextFilter{AttachmentIDs: []string{"doc"}}, 0)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "doc-chunk-0", hits[0].ID)

	// And: chunks of another attachment are refused
	err = s.Text.ReplaceAttachment(ctx, "doc", []TextChunk{textChunk("other", 0, unit(2, 0))})
	assert.Error(t, err)
}

func TestTextIndex_DeleteByAttachmentID(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()
	require.NoError(t, s.Text.IndexChunks(ctx, []TextChunk{
		textChunk("keep", 0, unit(2, 0)),
		textChunk("drop", 0, unit(2, 0)),
		textChunk("drop", 1, unit(2, 1)),
	}))

	n, err := s.Text.DeleteByAttachmentID(ctx, "drop")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.Text.DeleteByAttachmentID(ctx, "never-indexed")
	require.NoError(t, err)
	assert.Zero(t, n)

	hits, err := s.Text.Search(ctx, unit(2, 0), 10, TextFilter{})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "keep", hits[0].AttachmentID)
}

func TestTextIndex_GetAllByFilter(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()
	chunk := textChunk("b", 1, unit(2, 0))
	chunk.Metadata = ChunkMetadata{LineStart: 3, LineEnd: 7, TokenStart: 10, TokenEnd: 20, Model: "m"}
	require.NoError(t, s.Text.IndexChunks(ctx, []TextChunk{
		chunk,
		textChunk("b", 0, unit(2, 1)),
		textChunk("a", 0, unit(2, 1)),
	}))

	hits, err := s.Text.GetAllByFilter(ctx, TextFilter{}, 0)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, []string{"a-chunk-0", "b-chunk-0", "b-chunk-1"}, []string{hits[0].ID, hits[1].ID, hits[2].ID})
	for _, h := range hits {
		assert.Equal(t, 1.0, h.Score)
	}
	assert.Equal(t, chunk.Metadata, hits[2].Metadata)

	limited, err := s.Text.GetAllByFilter(ctx, TextFilter{}, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestTextIndex_ANNCandidatesRescoredExactly(t *testing.T) {
	// Given: an ANN-enabled store above the minimum row count
	s := newTestStore(t, Options{ANNEnabled: true, ANNMinRows: 4, ANNOversample: 4})
	ctx := context.Background()

	var chunks []TextChunk
	for i := 0; i < 16; i++ {
		chunks = append(chunks, textChunk(fmt.Sprintf("doc%02d", i), 0, unit(16, i)))
	}
	require.NoError(t, s.Text.IndexChunks(ctx, chunks))
	require.NotNil(t, s.Text.ANN())
	assert.Equal(t, 16, s.Text.ANN().Len())

	// When: searching unfiltered
	hits, err := s.Text.Search(ctx, unit(16, 5), 2, TextFilter{})

	// Then: the exact match is first with an exact cosine score
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "doc05", hits[0].AttachmentID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
}

func TestTextIndex_ANNPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s := newTestStore(t, Options{DataDir: dir, ANNEnabled: true, ANNMinRows: 1})
	require.NoError(t, s.Text.IndexChunks(ctx, []TextChunk{
		textChunk("a", 0, unit(4, 0)),
		textChunk("b", 0, unit(4, 1)),
	}))
	_, err := s.Text.DeleteByAttachmentID(ctx, "a")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened := newTestStore(t, Options{DataDir: dir, ANNEnabled: true, ANNMinRows: 1})
	assert.Equal(t, 1, reopened.Text.ANN().Len())

	hits, err := reopened.Text.Search(ctx, unit(4, 1), 1, TextFilter{})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "b", hits[0].AttachmentID)
}
