package store

import (
	"cmp"
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	raerrors "github.com/Franck-BRT/BlackIA-sub003/internal/errors"
	"github.com/Franck-BRT/BlackIA-sub003/internal/vision"
)

// TextOptions configures a TextIndex.
type TextOptions struct {
	// ANN enables the approximate candidate generator. Nil means exact scans only.
	ANN *ANNIndex
	// ANNMinRows is the corpus size below which exact scans are always used.
	ANNMinRows int
	// ANNOversample multiplies topK when asking the graph for candidates.
	ANNOversample int
}

// TextIndex stores chunk vectors and ranks them by cosine similarity.
type TextIndex struct {
	db         *DB
	ann        *ANNIndex
	annStale   atomic.Bool
	minRows    int
	oversample int
	logger     *slog.Logger
}

const textColumns = `id, attachment_id, chunk_index, text, vector, dims, entity_type, entity_id, metadata, created_at`

// OpenTextIndex creates a text index over db. When an ANN graph is configured
// it is loaded from disk, or rebuilt from the table if missing or stale.
func OpenTextIndex(ctx context.Context, db *DB, opts TextOptions) (*TextIndex, error) {
	if opts.ANNMinRows <= 0 {
		opts.ANNMinRows = 5000
	}
	if opts.ANNOversample <= 0 {
		opts.ANNOversample = 4
	}
	t := &TextIndex{
		db:         db,
		ann:        opts.ANN,
		minRows:    opts.ANNMinRows,
		oversample: opts.ANNOversample,
		logger:     db.logger,
	}
	if t.ann == nil {
		return t, nil
	}

	loaded, err := t.ann.Load()
	if err != nil {
		t.logger.Warn("ann_load_failed", slog.String("error", err.Error()))
	}
	count, err := t.Count(ctx, Filter{})
	if err != nil {
		return nil, err
	}
	if !loaded || t.ann.Len() != count {
		if err := t.RebuildANN(ctx); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// ANN returns the candidate generator, nil when disabled.
func (t *TextIndex) ANN() *ANNIndex { return t.ann }

// IndexChunks upserts chunks by ID.
func (t *TextIndex) IndexChunks(ctx context.Context, chunks []TextChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if err := validateChunks(chunks); err != nil {
		return err
	}
	err := t.db.withTx(ctx, func(tx *sql.Tx) error {
		return insertChunks(ctx, tx, chunks)
	})
	if err != nil {
		return err
	}
	t.annAdd(chunks)
	return nil
}

// ReplaceAttachment swaps all chunks of attachmentID for chunks in one
// transaction. Readers see either the old or the new set.
func (t *TextIndex) ReplaceAttachment(ctx context.Context, attachmentID string, chunks []TextChunk) error {
	for i := range chunks {
		if chunks[i].AttachmentID != attachmentID {
			return raerrors.ValidationError(
				fmt.Sprintf("chunk %q belongs to %q, not %q", chunks[i].ID, chunks[i].AttachmentID, attachmentID), nil)
		}
	}
	if err := validateChunks(chunks); err != nil {
		return err
	}

	var removed []string
	err := t.db.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		removed, err = deleteReturningIDs(ctx, tx, "text_chunks", attachmentID)
		if err != nil {
			return err
		}
		return insertChunks(ctx, tx, chunks)
	})
	if err != nil {
		return err
	}
	if t.ann != nil {
		t.ann.Remove(removed...)
	}
	t.annAdd(chunks)
	return nil
}

// DeleteByAttachmentID removes every chunk of an attachment.
// Deleting an unknown attachment is a no-op.
func (t *TextIndex) DeleteByAttachmentID(ctx context.Context, attachmentID string) (int, error) {
	var removed []string
	err := t.db.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		removed, err = deleteReturningIDs(ctx, tx, "text_chunks", attachmentID)
		return err
	})
	if err != nil {
		return 0, err
	}
	if t.ann != nil {
		t.ann.Remove(removed...)
	}
	return len(removed), nil
}

// Search returns the topK chunks most similar to query by cosine, sorted by
// score descending, then ChunkIndex and ID ascending. An empty index yields
// an empty result. Rows whose dimension differs from the query are skipped.
func (t *TextIndex) Search(ctx context.Context, query []float32, topK int, f TextFilter) ([]TextHit, error) {
	if topK <= 0 || len(query) == 0 {
		return []TextHit{}, nil
	}

	if ids, ok := t.annCandidates(ctx, query, topK, f); ok {
		hits, err := t.scoreRows(ctx, query, Filter{}, ids)
		if err != nil {
			return nil, err
		}
		if len(hits) >= topK {
			return topHits(hits, topK), nil
		}
	}

	hits, err := t.scoreRows(ctx, query, f, nil)
	if err != nil {
		return nil, err
	}
	return topHits(hits, topK), nil
}

// annCandidates asks the graph for candidates when it can serve the query.
func (t *TextIndex) annCandidates(ctx context.Context, query []float32, topK int, f TextFilter) ([]string, bool) {
	if t.ann == nil || t.annStale.Load() || !f.IsEmpty() || t.ann.Len() < t.minRows {
		return nil, false
	}
	ids, err := t.ann.Search(query, topK*t.oversample)
	if err != nil {
		t.logger.Debug("ann_search_fallback", slog.String("error", err.Error()))
		return nil, false
	}
	return ids, len(ids) >= topK
}

// scoreRows scores every row matching f, or only the rows in ids when set.
func (t *TextIndex) scoreRows(ctx context.Context, query []float32, f Filter, ids []string) ([]TextHit, error) {
	where, args := whereClause(f)
	if ids != nil {
		where = " WHERE id IN (" + placeholders(len(ids)) + ")"
		args = args[:0]
		for _, id := range ids {
			args = append(args, id)
		}
	}

	rows, err := t.db.db.QueryContext(ctx, `SELECT `+textColumns+` FROM text_chunks`+where, args...)
	if err != nil {
		return nil, raerrors.StoreIOError("query text chunks", err)
	}
	defer rows.Close()

	var (
		hits       []TextHit
		mismatched int
	)
	for rows.Next() {
		chunk, blob, dims, err := scanTextRow(rows)
		if err != nil {
			return nil, err
		}
		if dims != len(query) {
			mismatched++
			t.logger.Debug("text chunk skipped",
				slog.String("id", chunk.ID),
				slog.Int("dims", dims),
				slog.Int("query_dims", len(query)))
			continue
		}
		vec, err := decodeVector(blob)
		if err != nil {
			return nil, raerrors.New(raerrors.ErrCodeCorruptIndex, "decode vector of "+chunk.ID, err)
		}
		hits = append(hits, TextHit{TextChunk: chunk, Score: vision.Cosine(query, vec)})
	}
	if err := rows.Err(); err != nil {
		return nil, raerrors.StoreIOError("iterate text chunks", err)
	}

	if mismatched > 0 {
		t.logger.Warn("text chunks skipped for dimension mismatch",
			slog.Int("count", mismatched),
			slog.Int("query_dims", len(query)))
	}
	return hits, nil
}

// GetAllByFilter lists chunks without ranking, ordered by attachment then
// chunk index. Every hit has score 1.0. limit <= 0 means no limit.
func (t *TextIndex) GetAllByFilter(ctx context.Context, f TextFilter, limit int) ([]TextHit, error) {
	where, args := whereClause(f)
	if limit <= 0 {
		limit = -1
	}
	args = append(args, limit)

	rows, err := t.db.db.QueryContext(ctx,
		`SELECT `+textColumns+` FROM text_chunks`+where+` ORDER BY attachment_id, chunk_index LIMIT ?`, args...)
	if err != nil {
		return nil, raerrors.StoreIOError("list text chunks", err)
	}
	defer rows.Close()

	hits := []TextHit{}
	for rows.Next() {
		chunk, _, _, err := scanTextRow(rows)
		if err != nil {
			return nil, err
		}
		hits = append(hits, TextHit{TextChunk: chunk, Score: 1.0})
	}
	if err := rows.Err(); err != nil {
		return nil, raerrors.StoreIOError("iterate text chunks", err)
	}
	return hits, nil
}

// Count returns the number of chunks matching f.
func (t *TextIndex) Count(ctx context.Context, f Filter) (int, error) {
	where, args := whereClause(f)
	var n int
	if err := t.db.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM text_chunks`+where, args...).Scan(&n); err != nil {
		return 0, raerrors.StoreIOError("count text chunks", err)
	}
	return n, nil
}

// RebuildANN recreates the graph from the table, dropping orphaned nodes.
func (t *TextIndex) RebuildANN(ctx context.Context) error {
	if t.ann == nil {
		return nil
	}
	rows, err := t.db.db.QueryContext(ctx, `SELECT id, vector FROM text_chunks ORDER BY created_at, id`)
	if err != nil {
		return raerrors.StoreIOError("load vectors for ann", err)
	}
	defer rows.Close()

	t.ann.Reset()
	var (
		ids     []string
		vectors [][]float32
	)
	flush := func() error {
		if len(ids) == 0 {
			return nil
		}
		err := t.ann.Add(ids, vectors)
		ids, vectors = ids[:0], vectors[:0]
		return err
	}
	for rows.Next() {
		var (
			id   string
			blob []byte
		)
		if err := rows.Scan(&id, &blob); err != nil {
			return raerrors.StoreIOError("scan vector", err)
		}
		vec, err := decodeVector(blob)
		if err != nil {
			return raerrors.New(raerrors.ErrCodeCorruptIndex, "decode vector of "+id, err)
		}
		ids = append(ids, id)
		vectors = append(vectors, vec)
		if len(ids) == 256 {
			if err := flush(); err != nil {
				return t.markANNStale(err)
			}
		}
	}
	if err := rows.Err(); err != nil {
		return raerrors.StoreIOError("iterate vectors", err)
	}
	if err := flush(); err != nil {
		return t.markANNStale(err)
	}

	t.annStale.Store(false)
	if err := t.ann.Save(); err != nil {
		t.logger.Warn("ann_save_failed", slog.String("error", err.Error()))
	}
	t.logger.Debug("ann_rebuilt", slog.Int("nodes", t.ann.Len()))
	return nil
}

// markANNStale disables the graph until the next successful rebuild.
// Searches fall back to exact scans, so the error is logged, not returned.
func (t *TextIndex) markANNStale(err error) error {
	t.ann.Reset()
	t.annStale.Store(true)
	t.logger.Warn("ann disabled until rebuild", slog.String("error", err.Error()))
	return nil
}

func (t *TextIndex) annAdd(chunks []TextChunk) {
	if t.ann == nil || t.annStale.Load() {
		return
	}
	ids := make([]string, len(chunks))
	vectors := make([][]float32, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
		vectors[i] = c.Vector
	}
	if err := t.ann.Add(ids, vectors); err != nil {
		_ = t.markANNStale(err)
	}
}

// Close persists the ANN graph.
func (t *TextIndex) Close() error {
	if t.ann == nil || t.annStale.Load() {
		return nil
	}
	return t.ann.Save()
}

func validateChunks(chunks []TextChunk) error {
	dims := -1
	for i := range chunks {
		c := &chunks[i]
		if c.AttachmentID == "" {
			return raerrors.ValidationError("text chunk has no attachment id", nil)
		}
		if c.ID == "" {
			c.ID = ChunkID(c.AttachmentID, c.ChunkIndex)
		}
		if len(c.Vector) == 0 {
			return raerrors.ValidationError("text chunk "+c.ID+" has no vector", nil)
		}
		if dims >= 0 && len(c.Vector) != dims {
			return raerrors.DimensionMismatch(dims, len(c.Vector)).WithDetail("id", c.ID)
		}
		dims = len(c.Vector)
	}
	return nil
}

func insertChunks(ctx context.Context, tx *sql.Tx, chunks []TextChunk) error {
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO text_chunks (`+textColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			attachment_id = excluded.attachment_id,
			chunk_index   = excluded.chunk_index,
			text          = excluded.text,
			vector        = excluded.vector,
			dims          = excluded.dims,
			entity_type   = excluded.entity_type,
			entity_id     = excluded.entity_id,
			metadata      = excluded.metadata,
			created_at    = excluded.created_at`)
	if err != nil {
		return raerrors.StoreIOError("prepare chunk insert", err)
	}
	defer stmt.Close()

	now := time.Now()
	for i := range chunks {
		c := &chunks[i]
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now
		}
		meta, err := encodeMetadata(c.Metadata)
		if err != nil {
			return raerrors.ValidationError("chunk "+c.ID, err)
		}
		if _, err := stmt.ExecContext(ctx,
			c.ID, c.AttachmentID, c.ChunkIndex, c.Text, encodeVector(c.Vector), len(c.Vector),
			c.EntityType, c.EntityID, meta, c.CreatedAt.UnixNano()); err != nil {
			return raerrors.StoreIOError("insert chunk "+c.ID, err)
		}
	}
	return nil
}

// deleteReturningIDs removes an attachment's rows from table and returns their IDs.
func deleteReturningIDs(ctx context.Context, tx *sql.Tx, table, attachmentID string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `DELETE FROM `+table+` WHERE attachment_id = ? RETURNING id`, attachmentID)
	if err != nil {
		return nil, raerrors.StoreIOError("delete from "+table, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, raerrors.StoreIOError("scan deleted id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, raerrors.StoreIOError("delete from "+table, err)
	}
	return ids, nil
}

func scanTextRow(rows *sql.Rows) (TextChunk, []byte, int, error) {
	var (
		c       TextChunk
		blob    []byte
		dims    int
		meta    string
		created int64
	)
	if err := rows.Scan(&c.ID, &c.AttachmentID, &c.ChunkIndex, &c.Text, &blob, &dims,
		&c.EntityType, &c.EntityID, &meta, &created); err != nil {
		return c, nil, 0, raerrors.StoreIOError("scan text chunk", err)
	}
	if err := decodeMetadata(meta, &c.Metadata); err != nil {
		return c, nil, 0, raerrors.New(raerrors.ErrCodeCorruptIndex, "chunk "+c.ID, err)
	}
	c.CreatedAt = time.Unix(0, created)
	return c, blob, dims, nil
}

// topHits sorts by score descending, then ChunkIndex and ID ascending, and truncates.
func topHits(hits []TextHit, k int) []TextHit {
	slices.SortFunc(hits, func(a, b TextHit) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		if c := cmp.Compare(a.ChunkIndex, b.ChunkIndex); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	if hits == nil {
		hits = []TextHit{}
	}
	return hits
}
