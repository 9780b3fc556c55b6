// Package embed provides text and vision embedding backends.
//
// Backends are reached over HTTP (Ollama, OpenAI-compatible APIs, a vision
// sidecar) or computed locally (static hash embedders for offline use and
// tests). HTTP backends share rate limiting, retry with backoff and a
// circuit breaker.
package embed

import (
	"context"
	"math"
	"time"
)

// Common embedding constants
const (
	// MaxBatchSize is the maximum allowed batch size (prevents memory exhaustion)
	MaxBatchSize = 256

	// DefaultBatchSize is the default batch size for embedding requests
	DefaultBatchSize = 32

	// DefaultRequestTimeout bounds a single HTTP attempt when the caller
	// gives no deadline.
	DefaultRequestTimeout = 120 * time.Second

	// DefaultMaxRetries is the default number of retry attempts
	DefaultMaxRetries = 3

	// DefaultPoolSize is the HTTP connection pool size per backend
	DefaultPoolSize = 4
)

// Default models
const (
	DefaultTextModel   = "nomic-embed-text"
	DefaultVisionModel = "vidore/colpali-v1.2"
)

// TextEmbedder generates one dense vector per text.
type TextEmbedder interface {
	// Embed generates embedding for a single text
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts, in order
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension, 0 if not yet known
	Dimensions() int

	// ModelName returns the model identifier
	ModelName() string

	// Available checks if the backend is ready
	Available(ctx context.Context) bool

	// Close releases resources
	Close() error
}

// VisionEmbedder generates patch-level multi-vector embeddings.
type VisionEmbedder interface {
	// EmbedPages returns one patch set per page image, in order.
	EmbedPages(ctx context.Context, imagePaths []string) ([][][]float32, error)

	// EmbedQuery returns the query's token-level patch vectors.
	EmbedQuery(ctx context.Context, query string) ([][]float32, error)

	// ModelName returns the model identifier
	ModelName() string

	// Available checks if the backend is ready
	Available(ctx context.Context) bool

	// Close releases resources
	Close() error
}

// normalizeVector normalizes a vector to unit length.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v // Return as-is if zero vector
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}
