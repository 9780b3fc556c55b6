package embed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	raerrors "github.com/Franck-BRT/BlackIA-sub003/internal/errors"
)

// Vision sidecar defaults
const (
	DefaultVisionEndpoint  = "http://localhost:8765"
	DefaultVisionBatchSize = 4 // Pages per request; patch sets are large
)

// VisionHTTPConfig configures the vision embedding sidecar client.
type VisionHTTPConfig struct {
	// Endpoint is the sidecar URL (default: http://localhost:8765)
	Endpoint string

	// Model is the late-interaction model (default: vidore/colpali-v1.2)
	Model string

	// BatchSize is the number of page images per request
	BatchSize int

	// SkipHealthCheck skips the /health probe during creation (for testing)
	SkipHealthCheck bool

	Client ClientConfig
}

// visionEmbedRequest is the /embed_images request.
type visionEmbedRequest struct {
	ImagePaths []string `json:"image_paths"`
	Model      string   `json:"model"`
}

// visionEmbedResponse is the /embed_images response: one patch set per image.
type visionEmbedResponse struct {
	Success    bool           `json:"success"`
	Embeddings [][][]float64  `json:"embeddings"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// visionQueryRequest is the /encode_query request.
type visionQueryRequest struct {
	Query string `json:"query"`
	Model string `json:"model"`
}

// visionQueryResponse is the /encode_query response.
type visionQueryResponse struct {
	Success        bool        `json:"success"`
	QueryEmbedding [][]float64 `json:"query_embedding"`
	EmbeddingDim   int         `json:"embedding_dim"`
	Error          string      `json:"error,omitempty"`
}

type visionHealthResponse struct {
	Status string `json:"status"`
	Model  string `json:"model,omitempty"`
}

// HTTPVisionEmbedder talks to a late-interaction embedding sidecar
// (ColPali-family models) over HTTP.
type HTTPVisionEmbedder struct {
	http   *httpClient
	config VisionHTTPConfig
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

var _ VisionEmbedder = (*HTTPVisionEmbedder)(nil)

// NewHTTPVisionEmbedder creates a sidecar client and checks its health.
func NewHTTPVisionEmbedder(ctx context.Context, cfg VisionHTTPConfig) (*HTTPVisionEmbedder, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultVisionEndpoint
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultVisionModel
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultVisionBatchSize
	}
	logger := cfg.Client.Logger
	if logger == nil {
		logger = slog.Default()
	}

	e := &HTTPVisionEmbedder{
		http:   newHTTPClient("vision", cfg.Client),
		config: cfg,
		logger: logger,
	}

	if !cfg.SkipHealthCheck {
		checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := e.healthCheck(checkCtx); err != nil {
			e.http.close()
			return nil, fmt.Errorf("vision sidecar health check failed: %w", err)
		}
	}

	logger.Debug("vision_embedder_created",
		slog.String("endpoint", cfg.Endpoint),
		slog.String("model", cfg.Model))
	return e, nil
}

func (e *HTTPVisionEmbedder) healthCheck(ctx context.Context) error {
	var health visionHealthResponse
	if err := e.http.getJSON(ctx, e.config.Endpoint+"/health", &health); err != nil {
		return err
	}
	if health.Status != "ok" && health.Status != "healthy" {
		return raerrors.BackendUnavailable(fmt.Sprintf("vision sidecar status %q", health.Status), nil)
	}
	return nil
}

// EmbedPages embeds page images in batches.
func (e *HTTPVisionEmbedder) EmbedPages(ctx context.Context, imagePaths []string) ([][][]float32, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}

	out := make([][][]float32, 0, len(imagePaths))
	for start := 0; start < len(imagePaths); start += e.config.BatchSize {
		end := min(start+e.config.BatchSize, len(imagePaths))
		batch := imagePaths[start:end]

		var resp visionEmbedResponse
		if err := e.http.postJSON(ctx, e.config.Endpoint+"/embed_images",
			visionEmbedRequest{ImagePaths: batch, Model: e.config.Model}, &resp); err != nil {
			return nil, err
		}
		if !resp.Success {
			return nil, raerrors.New(raerrors.ErrCodeBackendResponse, "vision sidecar: "+resp.Error, nil)
		}
		if len(resp.Embeddings) != len(batch) {
			return nil, raerrors.New(raerrors.ErrCodeBackendResponse,
				fmt.Sprintf("vision sidecar returned %d pages for %d images", len(resp.Embeddings), len(batch)), nil)
		}
		for _, page := range resp.Embeddings {
			patches := make([][]float32, len(page))
			for j, p := range page {
				patches[j] = toFloat32(p)
			}
			out = append(out, patches)
		}
	}
	return out, nil
}

// EmbedQuery returns the query's patch vectors.
func (e *HTTPVisionEmbedder) EmbedQuery(ctx context.Context, query string) ([][]float32, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(query) == "" {
		return [][]float32{}, nil
	}

	var resp visionQueryResponse
	if err := e.http.postJSON(ctx, e.config.Endpoint+"/encode_query",
		visionQueryRequest{Query: query, Model: e.config.Model}, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, raerrors.New(raerrors.ErrCodeBackendResponse, "vision sidecar: "+resp.Error, nil)
	}
	patches := make([][]float32, len(resp.QueryEmbedding))
	for i, p := range resp.QueryEmbedding {
		patches[i] = toFloat32(p)
	}
	return patches, nil
}

func (e *HTTPVisionEmbedder) checkOpen() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return fmt.Errorf("embedder is closed")
	}
	return nil
}

// ModelName returns the model identifier
func (e *HTTPVisionEmbedder) ModelName() string {
	return e.config.Model
}

// Available checks the sidecar's health endpoint
func (e *HTTPVisionEmbedder) Available(ctx context.Context) bool {
	if e.checkOpen() != nil {
		return false
	}
	return e.healthCheck(ctx) == nil
}

// Close releases resources
func (e *HTTPVisionEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.http.close()
	return nil
}
