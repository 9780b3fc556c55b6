package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Franck-BRT/BlackIA-sub003/internal/logging"
)

// testClient disables retries and keeps attempts short.
func testClient() ClientConfig {
	return ClientConfig{
		MaxRetries:     -1,
		RequestTimeout: 2 * time.Second,
		Logger:         logging.Discard(),
	}
}

// writeJSON encodes v as the response body.
func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

// fakeOllama serves /api/tags and /api/embed with 3-dim vectors derived
// from the input length.
func fakeOllama(t *testing.T, calls *atomic.Int64) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, OllamaModelListResponse{Models: []OllamaModelInfo{{Name: "nomic-embed-text:latest"}}})
	})
	mux.HandleFunc("/api/embed", func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			calls.Add(1)
		}
		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		resp := OllamaEmbedResponse{Model: req.Model}
		for _, in := range req.Input {
			resp.Embeddings = append(resp.Embeddings, []float64{float64(len(in)), 0, 0})
		}
		writeJSON(t, w, resp)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// countingEmbedder is a TextEmbedder test double that counts calls.
type countingEmbedder struct {
	embedCalls atomic.Int64
	batchCalls atomic.Int64
	texts      atomic.Int64
	model      string
}

func (m *countingEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	m.embedCalls.Add(1)
	return []float32{float32(len(text)), 1}, nil
}

func (m *countingEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	m.batchCalls.Add(1)
	m.texts.Add(int64(len(texts)))
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1}
	}
	return out, nil
}

func (m *countingEmbedder) Dimensions() int                { return 2 }
func (m *countingEmbedder) ModelName() string              { return m.model }
func (m *countingEmbedder) Available(context.Context) bool { return true }
func (m *countingEmbedder) Close() error                   { return nil }
