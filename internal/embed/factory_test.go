package embed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Franck-BRT/BlackIA-sub003/internal/config"
	raerrors "github.com/Franck-BRT/BlackIA-sub003/internal/errors"
	"github.com/Franck-BRT/BlackIA-sub003/internal/logging"
)

func TestNewTextEmbedder_Static(t *testing.T) {
	cfg := config.NewConfig().Embeddings
	cfg.Provider = "static"

	e, err := NewTextEmbedder(context.Background(), cfg, FactoryOptions{Logger: logging.Discard()})
	require.NoError(t, err)

	cached, ok := e.(*CachedEmbedder)
	require.True(t, ok)
	assert.IsType(t, &StaticEmbedder{}, cached.Inner())
	assert.Equal(t, StaticDimensions, e.Dimensions())
}

func TestNewTextEmbedder_Ollama(t *testing.T) {
	srv := fakeOllama(t, nil)
	cfg := config.NewConfig().Embeddings
	cfg.OllamaHost = srv.URL
	cfg.MaxRetries = -1

	e, err := NewTextEmbedder(context.Background(), cfg, FactoryOptions{Logger: logging.Discard()})
	require.NoError(t, err)
	assert.Equal(t, "nomic-embed-text", e.ModelName())
	assert.Equal(t, 3, e.Dimensions())
}

func TestNewTextEmbedder_OpenAIDefaultsModel(t *testing.T) {
	cfg := config.NewConfig().Embeddings
	cfg.Provider = "openai"
	cfg.OpenAIAPIKey = "sk-test"

	e, err := NewTextEmbedder(context.Background(), cfg, FactoryOptions{SkipHealthCheck: true})
	require.NoError(t, err)
	assert.Equal(t, DefaultOpenAIModel, e.ModelName())
}

func TestNewTextEmbedder_UnknownProvider(t *testing.T) {
	cfg := config.NewConfig().Embeddings
	cfg.Provider = "mystery"

	_, err := NewTextEmbedder(context.Background(), cfg, FactoryOptions{})
	require.Error(t, err)
	assert.Equal(t, raerrors.ErrCodeConfigInvalid, raerrors.GetCode(err))
}

func TestNewVisionEmbedder_Providers(t *testing.T) {
	cfg := config.NewConfig().Embeddings

	cfg.VisionProvider = "none"
	e, err := NewVisionEmbedder(context.Background(), cfg, FactoryOptions{})
	require.NoError(t, err)
	assert.Nil(t, e)

	cfg.VisionProvider = "static"
	e, err = NewVisionEmbedder(context.Background(), cfg, FactoryOptions{})
	require.NoError(t, err)
	assert.Equal(t, "static-vision", e.ModelName())

	srv := fakeVisionSidecar(t, "ok")
	cfg.VisionProvider = "http"
	cfg.VisionEndpoint = srv.URL
	e, err = NewVisionEmbedder(context.Background(), cfg, FactoryOptions{Logger: logging.Discard()})
	require.NoError(t, err)
	assert.Equal(t, "vidore/colpali-v1.2", e.ModelName())
}
