package snapshot

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"

	"github.com/google/renameio"

	raerrors "github.com/Franck-BRT/BlackIA-sub003/internal/errors"
)

const (
	metaFileName  = "snapshot.json"
	maxNameLength = 64
)

var validName = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidateName accepts letters, digits, hyphens and underscores.
func ValidateName(name string) error {
	switch {
	case name == "":
		return raerrors.ValidationError("snapshot name cannot be empty", nil)
	case len(name) > maxNameLength:
		return raerrors.ValidationError(fmt.Sprintf("snapshot name too long (max %d chars)", maxNameLength), nil)
	case !validName.MatchString(name):
		return raerrors.ValidationError("snapshot name can only contain letters, numbers, hyphens and underscores", nil)
	}
	return nil
}

func saveMeta(s *Snapshot) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := renameio.WriteFile(filepath.Join(s.Dir, metaFileName), data, 0o644); err != nil {
		return raerrors.StoreIOError("write snapshot metadata", err)
	}
	return nil
}

func loadMeta(dir string) (*Snapshot, error) {
	data, err := os.ReadFile(filepath.Join(dir, metaFileName))
	if err != nil {
		return nil, err
	}
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", metaFileName, err)
	}
	s.Dir = dir
	return &s, nil
}

// dirSize sums the regular files under dir; a missing dir is empty.
func dirSize(dir string) int64 {
	var size int64
	_ = filepath.WalkDir(dir, func(_ string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			size += info.Size()
		}
		return nil
	})
	return size
}

// replaceFile copies src over dst atomically.
func replaceFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	pending, err := renameio.TempFile("", dst)
	if err != nil {
		return err
	}
	defer func() { _ = pending.Cleanup() }()
	if _, err := io.Copy(pending, in); err != nil {
		return err
	}
	return pending.CloseAtomicallyReplace()
}
