package embed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Franck-BRT/BlackIA-sub003/internal/config"
	raerrors "github.com/Franck-BRT/BlackIA-sub003/internal/errors"
)

// ProviderType names an embedding backend.
type ProviderType string

const (
	// ProviderOllama uses the Ollama /api/embed endpoint
	ProviderOllama ProviderType = "ollama"

	// ProviderOpenAI uses an OpenAI-compatible embeddings API
	ProviderOpenAI ProviderType = "openai"

	// ProviderStatic uses hash-based embeddings (offline, deterministic)
	ProviderStatic ProviderType = "static"

	// ProviderHTTP uses the vision sidecar service
	ProviderHTTP ProviderType = "http"

	// ProviderNone disables the vision backend
	ProviderNone ProviderType = "none"
)

// FactoryOptions adjusts embedder construction.
type FactoryOptions struct {
	Logger *slog.Logger

	// RequestTimeout bounds a single backend attempt
	RequestTimeout time.Duration

	// SkipHealthCheck skips startup probes (offline commands, tests)
	SkipHealthCheck bool
}

func clientConfig(cfg config.EmbeddingsConfig, opts FactoryOptions) ClientConfig {
	return ClientConfig{
		MaxRetries:        cfg.MaxRetries,
		RequestsPerSecond: cfg.RequestsPerSecond,
		RequestTimeout:    opts.RequestTimeout,
		Logger:            opts.Logger,
	}
}

// NewTextEmbedder creates the configured text embedder wrapped in a query
// cache. An unavailable backend is an error; there is no silent fallback to
// the static embedder.
func NewTextEmbedder(ctx context.Context, cfg config.EmbeddingsConfig, opts FactoryOptions) (TextEmbedder, error) {
	var (
		embedder TextEmbedder
		err      error
	)

	switch ProviderType(strings.ToLower(cfg.Provider)) {
	case ProviderOllama, "":
		oc := DefaultOllamaConfig()
		if cfg.OllamaHost != "" {
			oc.Host = cfg.OllamaHost
		}
		if cfg.Model != "" {
			oc.Model = cfg.Model
		}
		if cfg.BatchSize > 0 {
			oc.BatchSize = cfg.BatchSize
		}
		oc.Dimensions = cfg.Dimensions
		oc.SkipHealthCheck = opts.SkipHealthCheck
		oc.Client = clientConfig(cfg, opts)
		embedder, err = NewOllamaEmbedder(ctx, oc)
		if err != nil {
			return nil, fmt.Errorf("ollama unavailable: %w\n\nTo fix:\n  1. Start Ollama: ollama serve\n  2. Pull the model: ollama pull %s\n  3. Or use embeddings.provider: static", err, oc.Model)
		}

	case ProviderOpenAI:
		model := cfg.Model
		if model == "" || model == DefaultTextModel {
			model = DefaultOpenAIModel
		}
		embedder, err = NewOpenAIEmbedder(OpenAIConfig{
			BaseURL:    cfg.OpenAIBaseURL,
			APIKey:     cfg.OpenAIAPIKey,
			Model:      model,
			Dimensions: cfg.Dimensions,
			BatchSize:  cfg.BatchSize,
			Client:     clientConfig(cfg, opts),
		})
		if err != nil {
			return nil, err
		}

	case ProviderStatic:
		embedder = NewStaticEmbedder(cfg.Dimensions)

	default:
		return nil, raerrors.ConfigError(fmt.Sprintf("unknown embeddings provider %q", cfg.Provider), nil)
	}

	return NewCachedEmbedder(embedder, cfg.CacheSize), nil
}

// NewVisionEmbedder creates the configured vision embedder. It returns
// (nil, nil) when the vision provider is "none".
func NewVisionEmbedder(ctx context.Context, cfg config.EmbeddingsConfig, opts FactoryOptions) (VisionEmbedder, error) {
	var (
		embedder VisionEmbedder
		err      error
	)

	switch ProviderType(strings.ToLower(cfg.VisionProvider)) {
	case ProviderNone:
		return nil, nil

	case ProviderHTTP, "":
		vc := VisionHTTPConfig{
			Endpoint:        cfg.VisionEndpoint,
			Model:           cfg.VisionModel,
			SkipHealthCheck: opts.SkipHealthCheck,
			Client:          clientConfig(cfg, opts),
		}
		embedder, err = NewHTTPVisionEmbedder(ctx, vc)
		if err != nil {
			return nil, fmt.Errorf("vision service unavailable: %w\n\nTo fix:\n  1. Start the patch embedding service on %s\n  2. Or set embeddings.vision_provider: none", err, cfg.VisionEndpoint)
		}

	case ProviderStatic:
		embedder = NewStaticVisionEmbedder(cfg.Dimensions)

	default:
		return nil, raerrors.ConfigError(fmt.Sprintf("unknown vision provider %q", cfg.VisionProvider), nil)
	}

	return NewCachedVisionEmbedder(embedder, cfg.CacheSize), nil
}
