package preflight

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Franck-BRT/BlackIA-sub003/pkg/version"
)

// MarkerFile records in the data directory that the checks passed.
const MarkerFile = ".preflight-passed"

// Marker is the content of MarkerFile. A marker only vouches for the binary
// version and embedding backend it was written with.
type Marker struct {
	Version  string    `json:"version"`
	Embedder string    `json:"embedder"`
	PassedAt time.Time `json:"passed_at"`
}

// EmbedderKey identifies an embedding backend in a marker.
func EmbedderKey(provider, model string) string {
	return provider + "/" + model
}

// ReadMarker loads the marker of dataDir.
func ReadMarker(dataDir string) (Marker, error) {
	var m Marker
	data, err := os.ReadFile(filepath.Join(dataDir, MarkerFile))
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("parse marker file: %w", err)
	}
	return m, nil
}

// NeedsCheck reports whether the checks must run again: no readable marker,
// or one written by another version or for another embedder.
func NeedsCheck(dataDir, embedder string) bool {
	m, err := ReadMarker(dataDir)
	if err != nil {
		return true
	}
	return m.Version != version.Version || m.Embedder != embedder
}

// MarkPassed writes the marker for embedder.
func MarkPassed(dataDir, embedder string) error {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create marker directory: %w", err)
	}
	data, err := json.Marshal(Marker{
		Version:  version.Version,
		Embedder: embedder,
		PassedAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dataDir, MarkerFile), data, 0o644)
}

// ClearMarker removes the marker so the next serve checks again.
func ClearMarker(dataDir string) error {
	err := os.Remove(filepath.Join(dataDir, MarkerFile))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove marker file: %w", err)
	}
	return nil
}
