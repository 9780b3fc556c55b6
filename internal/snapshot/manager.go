package snapshot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	raerrors "github.com/Franck-BRT/BlackIA-sub003/internal/errors"
	"github.com/Franck-BRT/BlackIA-sub003/internal/store"
)

// DefaultMaxSnapshots caps how many snapshots a storage directory holds.
const DefaultMaxSnapshots = 20

// ErrNotFound is returned for an unknown snapshot name.
var ErrNotFound = errors.New("snapshot not found")

// Source is an open index that can be copied while in use.
type Source interface {
	BackupTo(ctx context.Context, path string) error
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// StoragePath holds one directory per snapshot (default
	// ~/.blackia/snapshots).
	StoragePath string
	// MaxSnapshots defaults to DefaultMaxSnapshots.
	MaxSnapshots int
}

// Manager saves, lists, restores and prunes snapshots.
type Manager struct {
	storagePath  string
	maxSnapshots int
}

// DefaultStoragePath is ~/.blackia/snapshots.
func DefaultStoragePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, ".blackia", "snapshots"), nil
}

// NewManager creates the storage directory if needed.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.StoragePath == "" {
		return nil, errors.New("storage path is required")
	}
	if err := os.MkdirAll(cfg.StoragePath, 0o755); err != nil {
		return nil, raerrors.StoreIOError("create snapshot storage", err)
	}
	maxSnapshots := cfg.MaxSnapshots
	if maxSnapshots <= 0 {
		maxSnapshots = DefaultMaxSnapshots
	}
	return &Manager{storagePath: cfg.StoragePath, maxSnapshots: maxSnapshots}, nil
}

// Dir returns where name is stored.
func (m *Manager) Dir(name string) string {
	return filepath.Join(m.storagePath, name)
}

// Exists reports whether name holds a complete snapshot.
func (m *Manager) Exists(name string) bool {
	_, err := os.Stat(filepath.Join(m.Dir(name), metaFileName))
	return err == nil
}

// Save copies src into a new snapshot called name. With replace, an
// existing snapshot of that name is overwritten once the copy succeeded.
func (m *Manager) Save(ctx context.Context, name, projectPath string, src Source, stats Stats, replace bool) (*Snapshot, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	exists := m.Exists(name)
	if exists && !replace {
		return nil, raerrors.ValidationError(fmt.Sprintf("snapshot %q already exists", name), nil).
			WithSuggestion("Pick another name or pass --force to replace it.")
	}
	if !exists {
		count, err := m.count()
		if err != nil {
			return nil, err
		}
		if count >= m.maxSnapshots {
			return nil, raerrors.ValidationError(fmt.Sprintf("maximum %d snapshots reached", m.maxSnapshots), nil).
				WithSuggestion("Delete or prune old snapshots first.")
		}
	}

	// Build in a sibling directory so a failed copy never leaves a partial
	// snapshot under name.
	tmpDir, err := os.MkdirTemp(m.storagePath, "."+name+"-")
	if err != nil {
		return nil, raerrors.StoreIOError("create snapshot directory", err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	if err := src.BackupTo(ctx, filepath.Join(tmpDir, store.DefaultDBName)); err != nil {
		return nil, err
	}
	snap := newSnapshot(name, projectPath, tmpDir, stats)
	if err := saveMeta(snap); err != nil {
		return nil, err
	}

	dir := m.Dir(name)
	if err := os.RemoveAll(dir); err != nil {
		return nil, raerrors.StoreIOError("replace snapshot", err)
	}
	if err := os.Rename(tmpDir, dir); err != nil {
		return nil, raerrors.StoreIOError("move snapshot into place", err)
	}
	snap.Dir = dir
	return snap, nil
}

// Get loads the metadata of name.
func (m *Manager) Get(name string) (*Snapshot, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	s, err := loadMeta(m.Dir(name))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return s, err
}

// List returns every readable snapshot, newest first.
func (m *Manager) List() ([]Info, error) {
	entries, err := os.ReadDir(m.storagePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, raerrors.StoreIOError("read snapshot storage", err)
	}

	var infos []Info
	for _, e := range entries {
		if !e.IsDir() || ValidateName(e.Name()) != nil {
			continue
		}
		dir := filepath.Join(m.storagePath, e.Name())
		s, err := loadMeta(dir)
		if err != nil {
			continue
		}
		_, statErr := os.Stat(s.ProjectPath)
		infos = append(infos, s.toInfo(dirSize(dir), statErr == nil))
	}
	slices.SortFunc(infos, func(a, b Info) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return infos, nil
}

// Restore replaces the database in dataDir with the snapshot's copy. The
// caller holds the data directory lock and has closed the store. The
// persisted ANN graph is dropped so the next open rebuilds it.
func (m *Manager) Restore(name, dataDir string) (*Snapshot, error) {
	s, err := m.Get(name)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, raerrors.StoreIOError("create data directory", err)
	}

	dbPath := filepath.Join(dataDir, store.DefaultDBName)
	if err := replaceFile(filepath.Join(s.Dir, store.DefaultDBName), dbPath); err != nil {
		return nil, raerrors.StoreIOError("restore database", err)
	}
	for _, stale := range []string{
		dbPath + "-wal",
		dbPath + "-shm",
		filepath.Join(dataDir, store.DefaultANNFile),
		filepath.Join(dataDir, store.DefaultANNFile+".meta"),
	} {
		if err := os.Remove(stale); err != nil && !os.IsNotExist(err) {
			return nil, raerrors.StoreIOError("remove stale index file", err)
		}
	}
	return s, nil
}

// Delete removes name and its data.
func (m *Manager) Delete(name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if !m.Exists(name) {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err := os.RemoveAll(m.Dir(name)); err != nil {
		return raerrors.StoreIOError("delete snapshot", err)
	}
	return nil
}

// Prune deletes snapshots taken more than olderThan ago and returns their
// names.
func (m *Manager) Prune(olderThan time.Duration) ([]string, error) {
	infos, err := m.List()
	if err != nil {
		return nil, err
	}
	var deleted []string
	for _, info := range infos {
		if time.Since(info.CreatedAt) <= olderThan {
			continue
		}
		if err := m.Delete(info.Name); err != nil {
			return deleted, err
		}
		deleted = append(deleted, info.Name)
	}
	return deleted, nil
}

func (m *Manager) count() (int, error) {
	infos, err := m.List()
	return len(infos), err
}
