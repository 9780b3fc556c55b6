// Package index keeps each document's text and vision index rows
// consistent with its source: add, reindex, delete and repair.
package index

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Franck-BRT/BlackIA-sub003/internal/store"
)

// Status is a document's lifecycle status.
type Status string

const (
	StatusUnindexed Status = "unindexed"
	StatusIndexing  Status = "indexing"
	StatusIndexed   Status = "indexed"
	StatusFailed    Status = "failed"
)

// State is the indexing state of one document. Only the Manager mutates it.
type State struct {
	AttachmentID string `json:"attachment_id"`
	Status       Status `json:"status"`

	TextIndexed    bool `json:"text_indexed"`
	TextChunkCount int  `json:"text_chunk_count"`

	VisionIndexed    bool `json:"vision_indexed"`
	VisionSkipped    bool `json:"vision_skipped,omitempty"`
	VisionPatchCount int  `json:"vision_patch_count"`
	PageCount        int  `json:"page_count"`

	Mode          string        `json:"mode,omitempty"`
	JobID         string        `json:"job_id,omitempty"`
	LastIndexedAt time.Time     `json:"last_indexed_at,omitzero"`
	LastDuration  time.Duration `json:"last_duration"`
	LastError     string        `json:"last_error,omitempty"`
}

// StateStore persists lifecycle states across process restarts.
type StateStore interface {
	SaveState(ctx context.Context, s State) error
	DeleteState(ctx context.Context, attachmentID string) error
	LoadStates(ctx context.Context) ([]State, error)
}

// DBStateStore keeps states as JSON in the index database.
type DBStateStore struct {
	db *store.DB
}

// NewDBStateStore creates a StateStore over db.
func NewDBStateStore(db *store.DB) *DBStateStore {
	return &DBStateStore{db: db}
}

// SaveState upserts s.
func (d *DBStateStore) SaveState(ctx context.Context, s State) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	return d.db.PutIndexingState(ctx, s.AttachmentID, string(data))
}

// DeleteState removes the state of attachmentID.
func (d *DBStateStore) DeleteState(ctx context.Context, attachmentID string) error {
	return d.db.DeleteIndexingState(ctx, attachmentID)
}

// LoadStates returns every stored state. Undecodable records are skipped.
func (d *DBStateStore) LoadStates(ctx context.Context) ([]State, error) {
	raw, err := d.db.IndexingStates(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]State, 0, len(raw))
	for id, data := range raw {
		var s State
		if err := json.Unmarshal([]byte(data), &s); err != nil {
			continue
		}
		s.AttachmentID = id
		out = append(out, s)
	}
	return out, nil
}

// stateTable is the in-memory state map.
type stateTable struct {
	mu     sync.RWMutex
	states map[string]State
}

func newStateTable() *stateTable {
	return &stateTable{states: make(map[string]State)}
}

func (t *stateTable) get(id string) (State, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.states[id]
	return s, ok
}

func (t *stateTable) put(s State) {
	t.mu.Lock()
	t.states[s.AttachmentID] = s
	t.mu.Unlock()
}

func (t *stateTable) remove(id string) {
	t.mu.Lock()
	delete(t.states, id)
	t.mu.Unlock()
}

// snapshot returns all states sorted by attachment id.
func (t *stateTable) snapshot() []State {
	t.mu.RLock()
	out := make([]State, 0, len(t.states))
	for _, s := range t.states {
		out = append(out, s)
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].AttachmentID < out[j].AttachmentID })
	return out
}
