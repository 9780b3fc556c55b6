package store

import (
	"bufio"
	"encoding/gob"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"

	raerrors "github.com/Franck-BRT/BlackIA-sub003/internal/errors"
)

// DefaultANNFile is the graph file name inside the data directory.
const DefaultANNFile = "text.hnsw"

// ANNConfig configures the approximate text candidate generator.
type ANNConfig struct {
	// Path is where the graph is persisted. Empty keeps it in memory only.
	Path     string
	M        int
	EfSearch int
}

// ANNIndex proposes text chunk candidates with an HNSW graph.
// Results are approximate; callers rescore them exactly.
type ANNIndex struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	cfg    ANNConfig
	dims   int
	logger *slog.Logger

	// ID mapping (string <-> uint64)
	idMap   map[string]uint64
	keyMap  map[uint64]string
	nextKey uint64
}

// annMetadata stores ID mappings next to the exported graph.
type annMetadata struct {
	IDMap   map[string]uint64
	NextKey uint64
	Dims    int
}

// ANNStats reports live and lazily deleted graph nodes.
type ANNStats struct {
	ValidIDs   int
	GraphNodes int
	Orphans    int
}

// NewANNIndex creates an empty graph.
func NewANNIndex(cfg ANNConfig, logger *slog.Logger) *ANNIndex {
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	a := &ANNIndex{cfg: cfg, logger: logger}
	a.resetLocked()
	return a
}

func (a *ANNIndex) resetLocked() {
	g := hnsw.NewGraph[uint64]()
	g.Distance = hnsw.CosineDistance
	g.M = a.cfg.M
	g.EfSearch = a.cfg.EfSearch
	g.Ml = 0.25
	a.graph = g
	a.idMap = make(map[string]uint64)
	a.keyMap = make(map[uint64]string)
	a.nextKey = 0
	a.dims = 0
}

// Reset drops every node.
func (a *ANNIndex) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resetLocked()
}

// Add inserts or replaces vectors. A vector whose dimension differs from the
// graph's is rejected with EmbeddingDimensionMismatch.
func (a *ANNIndex) Add(ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for i, id := range ids {
		vec := vectors[i]
		if a.dims == 0 {
			a.dims = len(vec)
		}
		if len(vec) != a.dims {
			return raerrors.DimensionMismatch(a.dims, len(vec)).WithDetail("id", id)
		}

		// Deleting nodes from coder/hnsw can break the graph when the last
		// node goes; orphan the old key instead.
		if existing, ok := a.idMap[id]; ok {
			delete(a.keyMap, existing)
			delete(a.idMap, id)
		}

		key := a.nextKey
		a.nextKey++

		normalized := make([]float32, len(vec))
		copy(normalized, vec)
		normalizeInPlace(normalized)

		a.graph.Add(hnsw.MakeNode(key, normalized))
		a.idMap[id] = key
		a.keyMap[key] = id
	}
	return nil
}

// Remove lazily deletes ids.
func (a *ANNIndex) Remove(ids ...string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, id := range ids {
		if key, ok := a.idMap[id]; ok {
			delete(a.keyMap, key)
			delete(a.idMap, id)
		}
	}
}

// Search returns up to k candidate IDs nearest to query.
func (a *ANNIndex) Search(query []float32, k int) ([]string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if len(a.idMap) == 0 || k <= 0 {
		return nil, nil
	}
	if len(query) != a.dims {
		return nil, raerrors.DimensionMismatch(a.dims, len(query))
	}

	q := make([]float32, len(query))
	copy(q, query)
	normalizeInPlace(q)

	// Ask for extra nodes to make up for orphans.
	want := k + (a.graph.Len() - len(a.idMap))
	nodes := a.graph.Search(q, want)

	ids := make([]string, 0, k)
	for _, n := range nodes {
		if id, ok := a.keyMap[n.Key]; ok {
			ids = append(ids, id)
			if len(ids) == k {
				break
			}
		}
	}
	return ids, nil
}

// Len returns the number of live vectors.
func (a *ANNIndex) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.idMap)
}

// Stats returns node counts for compaction decisions.
func (a *ANNIndex) Stats() ANNStats {
	a.mu.RLock()
	defer a.mu.RUnlock()
	nodes := a.graph.Len()
	return ANNStats{
		ValidIDs:   len(a.idMap),
		GraphNodes: nodes,
		Orphans:    nodes - len(a.idMap),
	}
}

// Save persists the graph and its ID mapping (temp file + rename).
func (a *ANNIndex) Save() error {
	if a.cfg.Path == "" {
		return nil
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(a.cfg.Path), 0o755); err != nil {
		return raerrors.StoreIOError("create ann directory", err)
	}

	tmp := a.cfg.Path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return raerrors.StoreIOError("create ann file", err)
	}
	if err := a.graph.Export(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return raerrors.StoreIOError("export ann graph", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return raerrors.StoreIOError("close ann file", err)
	}
	if err := os.Rename(tmp, a.cfg.Path); err != nil {
		os.Remove(tmp)
		return raerrors.StoreIOError("rename ann file", err)
	}

	return a.saveMetadata(a.cfg.Path + ".meta")
}

func (a *ANNIndex) saveMetadata(path string) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return raerrors.StoreIOError("create ann metadata", err)
	}
	meta := annMetadata{IDMap: a.idMap, NextKey: a.nextKey, Dims: a.dims}
	if err := gob.NewEncoder(f).Encode(meta); err != nil {
		if closeErr := f.Close(); closeErr != nil {
			a.logger.Warn("failed to close temp file during cleanup", slog.String("error", closeErr.Error()))
		}
		os.Remove(tmp)
		return raerrors.StoreIOError("encode ann metadata", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return raerrors.StoreIOError("close ann metadata", err)
	}
	return os.Rename(tmp, path)
}

// Load reads a persisted graph. It returns false when nothing was saved yet.
func (a *ANNIndex) Load() (bool, error) {
	if a.cfg.Path == "" {
		return false, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	mf, err := os.Open(a.cfg.Path + ".meta")
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, raerrors.StoreIOError("open ann metadata", err)
	}
	defer mf.Close()

	var meta annMetadata
	if err := gob.NewDecoder(mf).Decode(&meta); err != nil {
		return false, raerrors.New(raerrors.ErrCodeCorruptIndex, "decode ann metadata", err)
	}

	gf, err := os.Open(a.cfg.Path)
	if err != nil {
		return false, raerrors.StoreIOError("open ann file", err)
	}
	defer gf.Close()

	a.resetLocked()
	// coder/hnsw Import needs an io.ByteReader.
	if err := a.graph.Import(bufio.NewReader(gf)); err != nil {
		a.resetLocked()
		return false, raerrors.New(raerrors.ErrCodeCorruptIndex, "import ann graph", err)
	}

	a.idMap = meta.IDMap
	if a.idMap == nil {
		a.idMap = make(map[string]uint64)
	}
	a.nextKey = meta.NextKey
	a.dims = meta.Dims
	for id, key := range a.idMap {
		a.keyMap[key] = id
	}
	return true, nil
}

// removeFiles deletes the persisted graph.
func (a *ANNIndex) removeFiles() {
	if a.cfg.Path == "" {
		return
	}
	_ = os.Remove(a.cfg.Path)
	_ = os.Remove(a.cfg.Path + ".meta")
}

// normalizeInPlace scales v to unit length. Zero vectors are left unchanged.
func normalizeInPlace(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}
