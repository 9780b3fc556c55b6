package embed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	raerrors "github.com/Franck-BRT/BlackIA-sub003/internal/errors"
)

// OllamaEmbedder generates text embeddings using Ollama's HTTP API
type OllamaEmbedder struct {
	http   *httpClient
	config OllamaConfig
	logger *slog.Logger

	mu     sync.RWMutex
	dims   int
	closed bool
}

// Verify interface implementation at compile time
var _ TextEmbedder = (*OllamaEmbedder)(nil)

// NewOllamaEmbedder creates a new Ollama embedder. Unless SkipHealthCheck is
// set, it verifies the model is installed and probes its dimension.
func NewOllamaEmbedder(ctx context.Context, cfg OllamaConfig) (*OllamaEmbedder, error) {
	if cfg.Host == "" {
		cfg.Host = DefaultOllamaHost
	}
	cfg.Host = strings.TrimRight(cfg.Host, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultTextModel
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchSize > MaxBatchSize {
		cfg.BatchSize = MaxBatchSize
	}
	logger := cfg.Client.Logger
	if logger == nil {
		logger = slog.Default()
	}

	e := &OllamaEmbedder{
		http:   newHTTPClient("ollama", cfg.Client),
		config: cfg,
		logger: logger,
		dims:   cfg.Dimensions,
	}

	if !cfg.SkipHealthCheck {
		checkCtx, cancel := context.WithTimeout(ctx, OllamaConnectTimeout)
		defer cancel()
		if !e.hasModel(checkCtx) {
			e.http.close()
			return nil, raerrors.BackendUnavailable(
				fmt.Sprintf("ollama at %s does not serve model %q", cfg.Host, cfg.Model), nil).
				WithSuggestion("Run: ollama pull " + cfg.Model)
		}
		if e.dims == 0 {
			vec, err := e.Embed(ctx, "dimension detection")
			if err != nil {
				e.http.close()
				return nil, fmt.Errorf("failed to detect embedding dimensions: %w", err)
			}
			e.dims = len(vec)
		}
	}

	logger.Debug("ollama_embedder_created",
		slog.String("host", cfg.Host),
		slog.String("model", cfg.Model),
		slog.Int("dimensions", e.dims))
	return e, nil
}

// hasModel reports whether the configured model is installed, ignoring tags.
func (e *OllamaEmbedder) hasModel(ctx context.Context) bool {
	var result OllamaModelListResponse
	if err := e.http.getJSON(ctx, e.config.Host+"/api/tags", &result); err != nil {
		return false
	}
	want := strings.ToLower(e.config.Model)
	wantBase := strings.Split(want, ":")[0]
	for _, m := range result.Models {
		name := strings.ToLower(m.Name)
		if name == want || strings.Split(name, ":")[0] == wantBase {
			return true
		}
	}
	return false
}

// Embed generates embedding for a single text
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for multiple texts using Ollama's batch API.
// Empty texts yield zero vectors without a request.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("embedder is closed")
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	type indexedText struct {
		idx  int
		text string
	}
	var nonEmpty []indexedText
	results := make([][]float32, len(texts))
	for i, text := range texts {
		if strings.TrimSpace(text) != "" {
			nonEmpty = append(nonEmpty, indexedText{i, text})
		}
	}

	for start := 0; start < len(nonEmpty); start += e.config.BatchSize {
		if err := ctx.Err(); err != nil {
			return nil, classifyError("ollama", err)
		}
		end := min(start+e.config.BatchSize, len(nonEmpty))
		batch := nonEmpty[start:end]

		input := make([]string, len(batch))
		for i, it := range batch {
			input[i] = it.text
		}

		var resp OllamaEmbedResponse
		if err := e.http.postJSON(ctx, e.config.Host+"/api/embed",
			OllamaEmbedRequest{Model: e.config.Model, Input: input}, &resp); err != nil {
			return nil, err
		}
		if len(resp.Embeddings) != len(batch) {
			return nil, raerrors.New(raerrors.ErrCodeBackendResponse,
				fmt.Sprintf("ollama returned %d embeddings for %d texts", len(resp.Embeddings), len(batch)), nil)
		}
		for i, emb := range resp.Embeddings {
			results[batch[i].idx] = normalizeVector(toFloat32(emb))
		}
		e.learnDims(len(resp.Embeddings[0]))

		if e.config.ProgressFunc != nil {
			e.config.ProgressFunc(end, len(nonEmpty))
		}
	}

	dims := e.Dimensions()
	for i := range results {
		if results[i] == nil {
			results[i] = make([]float32, dims)
		}
	}
	return results, nil
}

func (e *OllamaEmbedder) learnDims(d int) {
	e.mu.Lock()
	if e.dims == 0 {
		e.dims = d
	}
	e.mu.Unlock()
}

// Dimensions returns the embedding dimension
func (e *OllamaEmbedder) Dimensions() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dims
}

// ModelName returns the model identifier
func (e *OllamaEmbedder) ModelName() string {
	return e.config.Model
}

// Available checks if Ollama is running and the model is installed
func (e *OllamaEmbedder) Available(ctx context.Context) bool {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return false
	}
	return e.hasModel(ctx)
}

// Close releases resources
func (e *OllamaEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.http.close()
	return nil
}
