// Package snapshot keeps named copies of an index outside its project so
// a known-good state can be restored after a bad reindex, or an index can
// be carried between machines.
package snapshot

import (
	"time"

	"github.com/Franck-BRT/BlackIA-sub003/pkg/version"
)

// Snapshot describes one saved index.
type Snapshot struct {
	Name        string    `json:"name"`
	ProjectPath string    `json:"project_path"`
	CreatedAt   time.Time `json:"created_at"`
	// Version is the blackia-rag version that wrote the copy.
	Version string `json:"version"`
	Stats   Stats  `json:"stats"`

	// Dir is where the snapshot lives; computed, not persisted.
	Dir string `json:"-"`
}

// Stats records what the index held when it was saved.
type Stats struct {
	Attachments   int `json:"attachments"`
	TextChunks    int `json:"text_chunks"`
	VisionPages   int `json:"vision_pages"`
	VisionPatches int `json:"vision_patches"`
}

// Info summarizes a snapshot for listings.
type Info struct {
	Name        string    `json:"name"`
	ProjectPath string    `json:"project_path"`
	CreatedAt   time.Time `json:"created_at"`
	Stats       Stats     `json:"stats"`
	Size        int64     `json:"size_bytes"`
	// Valid reports whether the project path still exists.
	Valid bool `json:"valid"`
}

func newSnapshot(name, projectPath, dir string, stats Stats) *Snapshot {
	return &Snapshot{
		Name:        name,
		ProjectPath: projectPath,
		CreatedAt:   time.Now().UTC(),
		Version:     version.Version,
		Stats:       stats,
		Dir:         dir,
	}
}

// Age is how long ago the snapshot was taken.
func (s *Snapshot) Age() time.Duration {
	return time.Since(s.CreatedAt)
}

func (s *Snapshot) toInfo(size int64, valid bool) Info {
	return Info{
		Name:        s.Name,
		ProjectPath: s.ProjectPath,
		CreatedAt:   s.CreatedAt,
		Stats:       s.Stats,
		Size:        size,
		Valid:       valid,
	}
}
