package embed

import (
	"context"
	"fmt"
	"hash/fnv"
	"os"
	"regexp"
	"strings"
	"sync"
	"unicode"
)

// Static embedder constants
const (
	// StaticDimensions is the embedding dimension for static embedders
	StaticDimensions = 256

	// StaticMaxPatches caps the patches produced per page
	StaticMaxPatches = 64
)

// Weights for vector generation
const (
	tokenWeight = 0.7
	ngramWeight = 0.3
	ngramSize   = 3
)

// tokenRegex matches alphanumeric sequences
var tokenRegex = regexp.MustCompile(`[\p{L}\p{N}]+`)

// englishStopWords are dropped before hashing.
var englishStopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "by": true, "for": true, "from": true, "in": true, "is": true,
	"it": true, "of": true, "on": true, "or": true, "that": true, "the": true,
	"this": true, "to": true, "was": true, "with": true,
}

// StaticEmbedder generates embeddings using a hash-based approach.
// Works without external dependencies (no network, no model download).
// Provides deterministic, fast embeddings with reduced semantic quality.
type StaticEmbedder struct {
	dims   int
	mu     sync.RWMutex
	closed bool
}

var _ TextEmbedder = (*StaticEmbedder)(nil)

// NewStaticEmbedder creates a static embedder. dims <= 0 means StaticDimensions.
func NewStaticEmbedder(dims int) *StaticEmbedder {
	if dims <= 0 {
		dims = StaticDimensions
	}
	return &StaticEmbedder{dims: dims}
}

// Embed generates embedding for a single text.
func (e *StaticEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, fmt.Errorf("embedder is closed")
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return make([]float32, e.dims), nil
	}
	return normalizeVector(hashVector(trimmed, e.dims)), nil
}

// EmbedBatch generates embeddings for multiple texts.
func (e *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, classifyError("static", err)
		}
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("failed to embed text %d: %w", i, err)
		}
		results[i] = emb
	}
	return results, nil
}

// Dimensions returns the embedding dimension.
func (e *StaticEmbedder) Dimensions() int { return e.dims }

// ModelName returns the model identifier.
func (e *StaticEmbedder) ModelName() string { return "static" }

// Available checks if the embedder is ready (always true until closed).
func (e *StaticEmbedder) Available(_ context.Context) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.closed
}

// Close releases resources.
func (e *StaticEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

// StaticVisionEmbedder produces deterministic patch sets without a model.
// A page's patches are the hashed vectors of the words found in the image
// file (at most StaticMaxPatches); a query yields one patch per word. Pages
// sharing words with a query therefore score higher under MaxSim.
type StaticVisionEmbedder struct {
	dims   int
	mu     sync.RWMutex
	closed bool
}

var _ VisionEmbedder = (*StaticVisionEmbedder)(nil)

// NewStaticVisionEmbedder creates a static vision embedder.
func NewStaticVisionEmbedder(dims int) *StaticVisionEmbedder {
	if dims <= 0 {
		dims = StaticDimensions
	}
	return &StaticVisionEmbedder{dims: dims}
}

// EmbedPages reads each image and turns its words into patches.
// A file with no words yields a single zero patch.
func (e *StaticVisionEmbedder) EmbedPages(ctx context.Context, imagePaths []string) ([][][]float32, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, fmt.Errorf("embedder is closed")
	}

	out := make([][][]float32, len(imagePaths))
	for i, p := range imagePaths {
		if err := ctx.Err(); err != nil {
			return nil, classifyError("static", err)
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("failed to read page image %s: %w", p, err)
		}
		patches := e.wordPatches(string(data))
		if len(patches) == 0 {
			patches = [][]float32{make([]float32, e.dims)}
		}
		out[i] = patches
	}
	return out, nil
}

// EmbedQuery returns one patch per query word.
func (e *StaticVisionEmbedder) EmbedQuery(_ context.Context, query string) ([][]float32, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, fmt.Errorf("embedder is closed")
	}
	return e.wordPatches(query), nil
}

func (e *StaticVisionEmbedder) wordPatches(text string) [][]float32 {
	words := filterStopWords(tokenize(text))
	if len(words) > StaticMaxPatches {
		words = words[:StaticMaxPatches]
	}
	patches := make([][]float32, 0, len(words))
	for _, w := range words {
		patches = append(patches, normalizeVector(hashVector(w, e.dims)))
	}
	return patches
}

// ModelName returns the model identifier.
func (e *StaticVisionEmbedder) ModelName() string { return "static-vision" }

// Available reports whether the embedder is open.
func (e *StaticVisionEmbedder) Available(_ context.Context) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.closed
}

// Close releases resources.
func (e *StaticVisionEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

// hashVector creates a hash-based vector from text.
func hashVector(text string, dims int) []float32 {
	vector := make([]float32, dims)

	for _, token := range filterStopWords(tokenize(text)) {
		vector[hashToIndex(token, dims)] += tokenWeight
	}

	for _, ngram := range extractNgrams(normalizeForNgrams(text), ngramSize) {
		vector[hashToIndex(ngram, dims)] += ngramWeight
	}

	return vector
}

// tokenize splits text into lowercase word tokens.
func tokenize(text string) []string {
	words := tokenRegex.FindAllString(text, -1)
	tokens := make([]string, 0, len(words))
	for _, w := range words {
		tokens = append(tokens, strings.ToLower(w))
	}
	return tokens
}

// filterStopWords removes English stop words.
func filterStopWords(tokens []string) []string {
	filtered := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if !englishStopWords[t] {
			filtered = append(filtered, t)
		}
	}
	return filtered
}

// normalizeForNgrams prepares text for n-gram extraction.
func normalizeForNgrams(text string) string {
	var result strings.Builder
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// extractNgrams extracts n-rune sliding windows.
func extractNgrams(text string, n int) []string {
	runes := []rune(text)
	if len(runes) < n {
		return []string{}
	}
	ngrams := make([]string, 0, len(runes)-n+1)
	for i := 0; i <= len(runes)-n; i++ {
		ngrams = append(ngrams, string(runes[i:i+n]))
	}
	return ngrams
}

// hashToIndex uses FNV-64 to map a string to an index.
func hashToIndex(s string, size int) int {
	h := fnv.New64()
	_, _ = h.Write([]byte(s))
	return int(h.Sum64() % uint64(size))
}
