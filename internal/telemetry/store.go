package telemetry

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	raerrors "github.com/Franck-BRT/BlackIA-sub003/internal/errors"
	"github.com/Franck-BRT/BlackIA-sub003/internal/search"
)

const schema = `
CREATE TABLE IF NOT EXISTS query_mode_stats (
	date  TEXT NOT NULL,
	mode  TEXT NOT NULL,
	count INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (date, mode)
);

CREATE TABLE IF NOT EXISTS query_latency_stats (
	date   TEXT NOT NULL,
	bucket TEXT NOT NULL,
	count  INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (date, bucket)
);

CREATE TABLE IF NOT EXISTS query_terms (
	term      TEXT PRIMARY KEY,
	count     INTEGER NOT NULL DEFAULT 0,
	last_seen INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_query_terms_count ON query_terms(count DESC);

CREATE TABLE IF NOT EXISTS zero_result_queries (
	id    INTEGER PRIMARY KEY AUTOINCREMENT,
	query TEXT NOT NULL,
	ts    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS query_totals (
	key   TEXT PRIMARY KEY,
	value INTEGER NOT NULL DEFAULT 0
);
`

// MaxZeroResultRows bounds the persisted zero-result queries.
const MaxZeroResultRows = 100

// SQLiteStore keeps query metrics in the index database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates the metrics tables in db if needed.
func NewSQLiteStore(ctx context.Context, db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, raerrors.StoreIOError("create query metrics schema", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Save adds b to the persisted counters in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, b Batch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return raerrors.StoreIOError("begin query metrics flush", err)
	}
	defer func() { _ = tx.Rollback() }()

	date := b.At.Format("2006-01-02")
	for mode, n := range b.Modes {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO query_mode_stats (date, mode, count) VALUES (?, ?, ?)
			ON CONFLICT(date, mode) DO UPDATE SET count = count + excluded.count`,
			date, string(mode), n); err != nil {
			return raerrors.StoreIOError("save mode counts", err)
		}
	}
	for bucket, n := range b.Latencies {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO query_latency_stats (date, bucket, count) VALUES (?, ?, ?)
			ON CONFLICT(date, bucket) DO UPDATE SET count = count + excluded.count`,
			date, string(bucket), n); err != nil {
			return raerrors.StoreIOError("save latency counts", err)
		}
	}
	for term, n := range b.Terms {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO query_terms (term, count, last_seen) VALUES (?, ?, ?)
			ON CONFLICT(term) DO UPDATE SET count = count + excluded.count, last_seen = excluded.last_seen`,
			term, n, b.At.Unix()); err != nil {
			return raerrors.StoreIOError("save term counts", err)
		}
	}
	for _, q := range b.ZeroResults {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO zero_result_queries (query, ts) VALUES (?, ?)`, q, b.At.Unix()); err != nil {
			return raerrors.StoreIOError("save zero-result query", err)
		}
	}
	if len(b.ZeroResults) > 0 {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM zero_result_queries WHERE id NOT IN (
				SELECT id FROM zero_result_queries ORDER BY id DESC LIMIT ?)`, MaxZeroResultRows); err != nil {
			return raerrors.StoreIOError("trim zero-result queries", err)
		}
	}

	var total int64
	for _, n := range b.Modes {
		total += n
	}
	for key, n := range map[string]int64{
		"total":       total,
		"zero_result": int64(len(b.ZeroResults)),
		"degraded":    b.Degraded,
	} {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO query_totals (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = value + excluded.value`, key, n); err != nil {
			return raerrors.StoreIOError("save query totals", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return raerrors.StoreIOError("commit query metrics", err)
	}
	return nil
}

// Load returns the persisted counters with the topTerms most frequent terms
// and the zeroResults most recent zero-result queries.
func (s *SQLiteStore) Load(ctx context.Context, topTerms, zeroResults int) (Snapshot, error) {
	snap := Snapshot{
		ModeCounts:          make(map[search.Mode]int64),
		LatencyDistribution: make(map[LatencyBucket]int64),
	}

	if err := s.scanPairs(ctx, `SELECT mode, SUM(count) FROM query_mode_stats GROUP BY mode`,
		func(k string, n int64) { snap.ModeCounts[search.Mode(k)] = n }); err != nil {
		return snap, err
	}
	if err := s.scanPairs(ctx, `SELECT bucket, SUM(count) FROM query_latency_stats GROUP BY bucket`,
		func(k string, n int64) { snap.LatencyDistribution[LatencyBucket(k)] = n }); err != nil {
		return snap, err
	}
	if err := s.scanPairs(ctx, `SELECT key, value FROM query_totals`, func(k string, n int64) {
		switch k {
		case "total":
			snap.TotalQueries = n
		case "zero_result":
			snap.ZeroResultCount = n
		case "degraded":
			snap.DegradedCount = n
		}
	}); err != nil {
		return snap, err
	}
	if err := s.scanPairs(ctx, fmt.Sprintf(
		`SELECT term, count FROM query_terms ORDER BY count DESC, term LIMIT %d`, topTerms),
		func(k string, n int64) { snap.TopTerms = append(snap.TopTerms, TermCount{Term: k, Count: n}) }); err != nil {
		return snap, err
	}
	if err := s.scanPairs(ctx, fmt.Sprintf(
		`SELECT query, ts FROM zero_result_queries ORDER BY id DESC LIMIT %d`, zeroResults),
		func(k string, _ int64) { snap.ZeroResultQueries = append(snap.ZeroResultQueries, k) }); err != nil {
		return snap, err
	}

	var first sql.NullString
	if err := s.db.QueryRowContext(ctx, `SELECT MIN(date) FROM query_mode_stats`).Scan(&first); err != nil {
		return snap, raerrors.StoreIOError("load query metrics", err)
	}
	if first.Valid {
		snap.Since, _ = time.Parse("2006-01-02", first.String)
	}
	return snap, nil
}

func (s *SQLiteStore) scanPairs(ctx context.Context, query string, fn func(string, int64)) error {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return raerrors.StoreIOError("load query metrics", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			k string
			n int64
		)
		if err := rows.Scan(&k, &n); err != nil {
			return raerrors.StoreIOError("load query metrics", err)
		}
		fn(k, n)
	}
	if err := rows.Err(); err != nil {
		return raerrors.StoreIOError("load query metrics", err)
	}
	return nil
}
