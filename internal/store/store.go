package store

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
)

// Options configures OpenStore.
type Options struct {
	// DataDir holds index.db and text.hnsw. Empty opens an in-memory store.
	DataDir string

	ANNEnabled    bool
	ANNMinRows    int
	ANNOversample int

	MaxCandidates int
	Workers       int

	Logger *slog.Logger
}

// Store bundles the database with both indexes and maintenance.
type Store struct {
	DB          *DB
	Text        *TextIndex
	Vision      *VisionIndex
	Maintenance *Maintenance
}

// OpenStore opens the database in opts.DataDir and wires both indexes.
func OpenStore(ctx context.Context, opts Options) (*Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	dbPath := ""
	annPath := ""
	if opts.DataDir != "" {
		dbPath = filepath.Join(opts.DataDir, DefaultDBName)
		annPath = filepath.Join(opts.DataDir, DefaultANNFile)
	}

	db, err := Open(ctx, dbPath, WithLogger(logger))
	if err != nil {
		return nil, err
	}

	textOpts := TextOptions{ANNMinRows: opts.ANNMinRows, ANNOversample: opts.ANNOversample}
	if opts.ANNEnabled {
		textOpts.ANN = NewANNIndex(ANNConfig{Path: annPath}, logger)
	}
	text, err := OpenTextIndex(ctx, db, textOpts)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	vis := NewVisionIndex(db, VisionOptions{MaxCandidates: opts.MaxCandidates, Workers: opts.Workers})

	return &Store{
		DB:          db,
		Text:        text,
		Vision:      vis,
		Maintenance: NewMaintenance(db, text, vis),
	}, nil
}

// Close persists the ANN graph and closes the database.
func (s *Store) Close() error {
	return errors.Join(s.Text.Close(), s.DB.Close())
}
