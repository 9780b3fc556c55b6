package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
	sqlite3 "modernc.org/sqlite/lib"

	raerrors "github.com/Franck-BRT/BlackIA-sub003/internal/errors"
)

// SchemaVersion is the current database schema version.
const SchemaVersion = 1

// DefaultDBName is the database file name inside the data directory.
const DefaultDBName = "index.db"

const schema = `
CREATE TABLE IF NOT EXISTS text_chunks (
	id            TEXT PRIMARY KEY,
	attachment_id TEXT NOT NULL,
	chunk_index   INTEGER NOT NULL,
	text          TEXT NOT NULL,
	vector        BLOB NOT NULL,
	dims          INTEGER NOT NULL,
	entity_type   TEXT NOT NULL DEFAULT '',
	entity_id     TEXT NOT NULL DEFAULT '',
	metadata      TEXT NOT NULL DEFAULT '{}',
	created_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_text_chunks_attachment ON text_chunks(attachment_id, chunk_index);
CREATE INDEX IF NOT EXISTS idx_text_chunks_entity ON text_chunks(entity_type, entity_id);

CREATE TABLE IF NOT EXISTS vision_pages (
	id            TEXT PRIMARY KEY,
	attachment_id TEXT NOT NULL,
	page_index    INTEGER NOT NULL,
	patches       BLOB NOT NULL,
	num_patches   INTEGER NOT NULL,
	dims          INTEGER NOT NULL,
	entity_type   TEXT NOT NULL DEFAULT '',
	entity_id     TEXT NOT NULL DEFAULT '',
	metadata      TEXT NOT NULL DEFAULT '{}',
	created_at    INTEGER NOT NULL,
	UNIQUE(attachment_id, page_index)
);
CREATE INDEX IF NOT EXISTS idx_vision_pages_entity ON vision_pages(entity_type, entity_id);
CREATE INDEX IF NOT EXISTS idx_vision_pages_created ON vision_pages(created_at DESC);

CREATE TABLE IF NOT EXISTS indexing_states (
	attachment_id TEXT PRIMARY KEY,
	state         TEXT NOT NULL,
	updated_at    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS store_state (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// DB is the shared SQLite handle for the text and vision indexes.
// It is safe for concurrent use; WAL mode lets readers proceed during writes.
type DB struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// DBOption configures Open.
type DBOption func(*dbOptions)

type dbOptions struct {
	logger   *slog.Logger
	maxConns int
}

// WithLogger sets the logger used by the store.
func WithLogger(l *slog.Logger) DBOption {
	return func(o *dbOptions) { o.logger = l }
}

// WithMaxConns caps the connection pool. File databases default to 4.
func WithMaxConns(n int) DBOption {
	return func(o *dbOptions) { o.maxConns = n }
}

// Open opens (creating if needed) the database at path. An empty path opens
// a private in-memory database, used by tests.
// A file SQLite reports as corrupted is removed and recreated; the caller
// must reindex. Any other failure of the check leaves the file alone.
func Open(ctx context.Context, path string, opts ...DBOption) (*DB, error) {
	o := dbOptions{logger: slog.Default(), maxConns: 4}
	for _, opt := range opts {
		opt(&o)
	}

	var dsn string
	if path == "" {
		dsn = "file::memory:?" + pragmaQuery()
		o.maxConns = 1
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, raerrors.StoreIOError("create data directory", err)
		}
		corrupt, detail, err := checkIntegrity(ctx, path)
		if err != nil {
			return nil, raerrors.StoreIOError("check database integrity", err)
		}
		if corrupt {
			o.logger.Warn("sqlite_index_corrupted",
				slog.String("path", path),
				slog.String("detail", detail))
			if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
				return nil, raerrors.New(raerrors.ErrCodeCorruptIndex,
					fmt.Sprintf("index at %s is corrupted and cannot be removed", path), rmErr)
			}
			_ = os.Remove(path + "-wal")
			_ = os.Remove(path + "-shm")
			o.logger.Info("sqlite_index_cleared",
				slog.String("path", path),
				slog.String("reason", "corruption detected, please reindex"))
		}
		dsn = "file:" + path + "?" + pragmaQuery()
	}

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, raerrors.StoreIOError("open database", err)
	}
	sqlDB.SetMaxOpenConns(o.maxConns)
	sqlDB.SetMaxIdleConns(o.maxConns)
	sqlDB.SetConnMaxLifetime(0)

	if _, err := sqlDB.ExecContext(ctx, schema); err != nil {
		_ = sqlDB.Close()
		return nil, raerrors.StoreIOError("create schema", err)
	}
	if _, err := sqlDB.ExecContext(ctx,
		`INSERT INTO store_state(key, value) VALUES('schema_version', ?)
		 ON CONFLICT(key) DO NOTHING`, strconv.Itoa(SchemaVersion)); err != nil {
		_ = sqlDB.Close()
		return nil, raerrors.StoreIOError("record schema version", err)
	}

	return &DB{db: sqlDB, path: path, logger: o.logger}, nil
}

// pragmaQuery returns DSN parameters applied to every pooled connection.
// modernc.org/sqlite ignores mattn-style _journal_mode keys; it reads _pragma.
func pragmaQuery() string {
	v := url.Values{}
	for _, p := range []string{
		"journal_mode(WAL)",
		"busy_timeout(5000)",
		"synchronous(NORMAL)",
		"cache_size(-65536)",
		"temp_store(MEMORY)",
	} {
		v.Add("_pragma", p)
	}
	v.Set("_txlock", "immediate")
	return v.Encode()
}

// checkIntegrity runs quick_check on an existing database before it is
// opened for writing. corrupt is set only when SQLite reports the file damaged.
// A missing file is valid.
func checkIntegrity(ctx context.Context, path string) (corrupt bool, detail string, err error) {
	if err := ctx.Err(); err != nil {
		return false, "", err
	}
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false, "", nil
	}
	if err != nil {
		return false, "", err
	}
	if info.Size() == 0 {
		return false, "", nil
	}

	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro&_pragma=busy_timeout(5000)")
	if err != nil {
		return false, "", fmt.Errorf("open for validation: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRowContext(ctx, "PRAGMA quick_check").Scan(&result); err != nil {
		if isCorruption(err) {
			return true, err.Error(), nil
		}
		return false, "", fmt.Errorf("quick_check: %w", err)
	}
	if result != "ok" {
		return true, result, nil
	}
	return false, "", nil
}

// isCorruption reports whether SQLite refused the file as damaged or not a
// database at all.
func isCorruption(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() & 0xff {
	case sqlite3.SQLITE_CORRUPT, sqlite3.SQLITE_NOTADB:
		return true
	}
	return false
}

// Path returns the database file path, empty for in-memory databases.
func (d *DB) Path() string { return d.path }

// SQL returns the underlying handle for auxiliary tables.
func (d *DB) SQL() *sql.DB { return d.db }

// Logger returns the store logger.
func (d *DB) Logger() *slog.Logger { return d.logger }

// State reads a key from the store_state table. Missing keys return "".
func (d *DB) State(ctx context.Context, key string) (string, error) {
	var value string
	err := d.db.QueryRowContext(ctx, `SELECT value FROM store_state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", raerrors.StoreIOError("read state", err)
	}
	return value, nil
}

// SetState writes a key to the store_state table.
func (d *DB) SetState(ctx context.Context, key, value string) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO store_state(key, value) VALUES(?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return raerrors.StoreIOError("write state", err)
	}
	return nil
}

// FileSize returns the size of the database and its WAL on disk.
func (d *DB) FileSize() int64 {
	if d.path == "" {
		return 0
	}
	var total int64
	for _, p := range []string{d.path, d.path + "-wal"} {
		if info, err := os.Stat(p); err == nil {
			total += info.Size()
		}
	}
	return total
}

// Checkpoint flushes the WAL into the main database file.
func (d *DB) Checkpoint(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return raerrors.StoreIOError("wal checkpoint", err)
	}
	return nil
}

// BackupTo writes a consistent copy of the database to path, which must
// not exist. Readers and writers may keep using the database meanwhile.
func (d *DB) BackupTo(ctx context.Context, path string) error {
	if _, err := d.db.ExecContext(ctx, "VACUUM INTO ?", path); err != nil {
		return raerrors.StoreIOError("backup database", err)
	}
	return nil
}

// Close checkpoints the WAL and closes the database.
func (d *DB) Close() error {
	if d.path != "" {
		_, _ = d.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	}
	return d.db.Close()
}

// withTx runs fn in a transaction, rolling back on error.
func (d *DB) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return raerrors.StoreIOError("begin transaction", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return raerrors.StoreIOError("commit transaction", err)
	}
	return nil
}

// whereClause renders filter as a SQL condition over the given table alias-free columns.
func whereClause(f Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.EntityType != "" {
		conds = append(conds, "entity_type = ?")
		args = append(args, f.EntityType)
	}
	if f.EntityID != "" {
		conds = append(conds, "entity_id = ?")
		args = append(args, f.EntityID)
	}
	if len(f.AttachmentIDs) > 0 {
		conds = append(conds, "attachment_id IN ("+placeholders(len(f.AttachmentIDs))+")")
		for _, id := range f.AttachmentIDs {
			args = append(args, id)
		}
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}
