package embed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	raerrors "github.com/Franck-BRT/BlackIA-sub003/internal/errors"
)

// DefaultOpenAIModel is used when no model is configured for the openai provider.
const DefaultOpenAIModel = "text-embedding-3-small"

// OpenAIConfig configures an OpenAI-compatible embeddings endpoint.
type OpenAIConfig struct {
	// BaseURL overrides the API endpoint (LM Studio, vLLM, proxies)
	BaseURL string

	// APIKey authenticates requests
	APIKey string

	// Model is the embedding model name
	Model string

	// Dimensions requests shortened embeddings when > 0
	Dimensions int

	// BatchSize for batch embedding requests (default: 32)
	BatchSize int

	Client ClientConfig
}

// OpenAIEmbedder generates text embeddings through the OpenAI embeddings API.
type OpenAIEmbedder struct {
	client openai.Client
	guard  *httpClient
	config OpenAIConfig
	logger *slog.Logger

	mu     sync.RWMutex
	dims   int
	closed bool
}

var _ TextEmbedder = (*OpenAIEmbedder)(nil)

// NewOpenAIEmbedder creates an embedder. No request is made until first use.
func NewOpenAIEmbedder(cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.APIKey == "" && cfg.BaseURL == "" {
		return nil, raerrors.ConfigError("openai provider needs an API key or a base URL", nil).
			WithSuggestion("Set OPENAI_API_KEY or embeddings.openai_base_url")
	}
	logger := cfg.Client.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// Retries are handled by the shared guard, not the SDK.
	opts := []option.RequestOption{option.WithMaxRetries(0)}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(cfg.BaseURL, "/")+"/"))
	}

	return &OpenAIEmbedder{
		client: openai.NewClient(opts...),
		guard:  newHTTPClient("openai", cfg.Client),
		config: cfg,
		logger: logger,
		dims:   cfg.Dimensions,
	}, nil
}

// Embed generates embedding for a single text
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in request-sized batches. Empty texts yield zero vectors.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("embedder is closed")
	}

	results := make([][]float32, len(texts))
	var (
		idx   []int
		input []string
	)
	for i, t := range texts {
		if strings.TrimSpace(t) != "" {
			idx = append(idx, i)
			input = append(input, t)
		}
	}

	for start := 0; start < len(input); start += e.config.BatchSize {
		end := min(start+e.config.BatchSize, len(input))
		vecs, err := e.embedOnce(ctx, input[start:end])
		if err != nil {
			return nil, err
		}
		for j, v := range vecs {
			results[idx[start+j]] = v
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

func (e *OpenAIEmbedder) embedOnce(ctx context.Context, batch []string) ([][]float32, error) {
	params := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: batch},
		Model: openai.EmbeddingModel(e.config.Model),
	}
	if e.config.Dimensions > 0 {
		params.Dimensions = openai.Int(int64(e.config.Dimensions))
	}

	var resp *openai.CreateEmbeddingResponse
	err := e.guard.guard(ctx, func() error {
		var err error
		resp, err = e.client.Embeddings.New(ctx, params)
		return classifyOpenAIError(err)
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) != len(batch) {
		return nil, raerrors.New(raerrors.ErrCodeBackendResponse,
			fmt.Sprintf("openai returned %d embeddings for %d texts", len(resp.Data), len(batch)), nil)
	}

	out := make([][]float32, len(batch))
	for _, d := range resp.Data {
		i := int(d.Index)
		if i < 0 || i >= len(out) {
			return nil, raerrors.New(raerrors.ErrCodeBackendResponse,
				fmt.Sprintf("openai returned out-of-range index %d", i), nil)
		}
		out[i] = normalizeVector(toFloat32(d.Embedding))
	}
	e.mu.Lock()
	if e.dims == 0 && len(out) > 0 {
		e.dims = len(out[0])
	}
	e.mu.Unlock()
	return out, nil
}

// classifyOpenAIError maps SDK errors onto the error taxonomy.
func classifyOpenAIError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return statusError("openai", apiErr.StatusCode, err.Error())
	}
	return classifyError("openai", err)
}

// Dimensions returns the embedding dimension, 0 until the first response
// unless configured.
func (e *OpenAIEmbedder) Dimensions() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dims
}

// ModelName returns the model identifier
func (e *OpenAIEmbedder) ModelName() string {
	return e.config.Model
}

// Available embeds a probe string.
func (e *OpenAIEmbedder) Available(ctx context.Context) bool {
	_, err := e.embedOnce(ctx, []string{"ping"})
	return err == nil
}

// Close releases resources
func (e *OpenAIEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.guard.close()
	return nil
}
