package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultEmbeddingCacheSize is the default number of embeddings to cache.
const DefaultEmbeddingCacheSize = 1000

// CachedEmbedder wraps a TextEmbedder with an LRU cache keyed by text and
// model. Repeated queries skip the backend round trip.
type CachedEmbedder struct {
	inner TextEmbedder
	cache *lru.Cache[string, []float32]
}

var _ TextEmbedder = (*CachedEmbedder)(nil)

// NewCachedEmbedder creates a cached embedder wrapping the given embedder.
func NewCachedEmbedder(inner TextEmbedder, cacheSize int) *CachedEmbedder {
	if cacheSize <= 0 {
		cacheSize = DefaultEmbeddingCacheSize
	}
	cache, _ := lru.New[string, []float32](cacheSize)
	return &CachedEmbedder{inner: inner, cache: cache}
}

func cacheKey(text, model string) string {
	hash := sha256.Sum256([]byte(text + "\x00" + model))
	return hex.EncodeToString(hash[:])
}

// Embed returns the cached embedding if present, otherwise computes and caches it.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := cacheKey(text, c.inner.ModelName())
	if vec, ok := c.cache.Get(key); ok {
		return vec, nil
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, vec)
	return vec, nil
}

// EmbedBatch embeds only the texts missing from the cache, in one batch.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	model := c.inner.ModelName()
	results := make([][]float32, len(texts))
	missIdx := make([]int, 0, len(texts))
	missTexts := make([]string, 0, len(texts))

	for i, text := range texts {
		if vec, ok := c.cache.Get(cacheKey(text, model)); ok {
			results[i] = vec
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}

	if len(missTexts) == 0 {
		return results, nil
	}

	fresh, err := c.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}

	for j, idx := range missIdx {
		results[idx] = fresh[j]
		c.cache.Add(cacheKey(texts[idx], model), fresh[j])
	}
	return results, nil
}

// Dimensions returns the embedding dimension.
func (c *CachedEmbedder) Dimensions() int { return c.inner.Dimensions() }

// ModelName returns the model identifier.
func (c *CachedEmbedder) ModelName() string { return c.inner.ModelName() }

// Available checks if the inner embedder is ready.
func (c *CachedEmbedder) Available(ctx context.Context) bool { return c.inner.Available(ctx) }

// Close closes the inner embedder.
func (c *CachedEmbedder) Close() error { return c.inner.Close() }

// Inner returns the wrapped embedder.
func (c *CachedEmbedder) Inner() TextEmbedder { return c.inner }

// Len reports the number of cached entries.
func (c *CachedEmbedder) Len() int { return c.cache.Len() }

// CachedVisionEmbedder caches query patch sets. Page embeddings are never
// cached since each page is embedded once per indexing run.
type CachedVisionEmbedder struct {
	inner VisionEmbedder
	cache *lru.Cache[string, [][]float32]
}

var _ VisionEmbedder = (*CachedVisionEmbedder)(nil)

// NewCachedVisionEmbedder wraps inner with a query cache.
func NewCachedVisionEmbedder(inner VisionEmbedder, cacheSize int) *CachedVisionEmbedder {
	if cacheSize <= 0 {
		cacheSize = DefaultEmbeddingCacheSize
	}
	cache, _ := lru.New[string, [][]float32](cacheSize)
	return &CachedVisionEmbedder{inner: inner, cache: cache}
}

// EmbedPages passes through to the inner embedder.
func (c *CachedVisionEmbedder) EmbedPages(ctx context.Context, imagePaths []string) ([][][]float32, error) {
	return c.inner.EmbedPages(ctx, imagePaths)
}

// EmbedQuery returns cached query patches when available.
func (c *CachedVisionEmbedder) EmbedQuery(ctx context.Context, query string) ([][]float32, error) {
	key := cacheKey(query, c.inner.ModelName())
	if patches, ok := c.cache.Get(key); ok {
		return patches, nil
	}
	patches, err := c.inner.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, patches)
	return patches, nil
}

// ModelName returns the model identifier.
func (c *CachedVisionEmbedder) ModelName() string { return c.inner.ModelName() }

// Available checks if the inner embedder is ready.
func (c *CachedVisionEmbedder) Available(ctx context.Context) bool { return c.inner.Available(ctx) }

// Close closes the inner embedder.
func (c *CachedVisionEmbedder) Close() error { return c.inner.Close() }
