package store

import (
	"cmp"
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"time"

	raerrors "github.com/Franck-BRT/BlackIA-sub003/internal/errors"
	"github.com/Franck-BRT/BlackIA-sub003/internal/vision"
)

// DefaultMaxCandidates caps the pages scored by one MaxSim search.
const DefaultMaxCandidates = 2000

// VisionOptions configures a VisionIndex.
type VisionOptions struct {
	// MaxCandidates caps scored pages, most recently indexed first.
	MaxCandidates int
	// Workers bounds parallel scoring. Zero means runtime.NumCPU().
	Workers int
}

// VisionIndex stores page patch embeddings and ranks them by MaxSim.
type VisionIndex struct {
	db            *DB
	maxCandidates int
	workers       int
	logger        *slog.Logger
}

const visionColumns = `id, attachment_id, page_index, patches, num_patches, dims, entity_type, entity_id, metadata, created_at`

// NewVisionIndex creates a vision index over db.
func NewVisionIndex(db *DB, opts VisionOptions) *VisionIndex {
	if opts.MaxCandidates <= 0 {
		opts.MaxCandidates = DefaultMaxCandidates
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	return &VisionIndex{
		db:            db,
		maxCandidates: opts.MaxCandidates,
		workers:       opts.Workers,
		logger:        db.logger,
	}
}

// IndexPages upserts pages by (attachment, page index).
func (v *VisionIndex) IndexPages(ctx context.Context, pages []VisionPage) error {
	if len(pages) == 0 {
		return nil
	}
	if err := preparePages(pages); err != nil {
		return err
	}
	return v.db.withTx(ctx, func(tx *sql.Tx) error {
		return insertPages(ctx, tx, pages)
	})
}

// ReplaceAttachment swaps all pages of attachmentID for pages in one transaction.
func (v *VisionIndex) ReplaceAttachment(ctx context.Context, attachmentID string, pages []VisionPage) error {
	for i := range pages {
		if pages[i].AttachmentID != attachmentID {
			return raerrors.ValidationError(
				fmt.Sprintf("page %d belongs to %q, not %q", pages[i].PageIndex, pages[i].AttachmentID, attachmentID), nil)
		}
	}
	if err := preparePages(pages); err != nil {
		return err
	}
	return v.db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM vision_pages WHERE attachment_id = ?`, attachmentID); err != nil {
			return raerrors.StoreIOError("delete vision pages", err)
		}
		return insertPages(ctx, tx, pages)
	})
}

// DeleteByAttachmentID removes every page of an attachment.
// Deleting an unknown attachment is a no-op.
func (v *VisionIndex) DeleteByAttachmentID(ctx context.Context, attachmentID string) (int, error) {
	res, err := v.db.db.ExecContext(ctx, `DELETE FROM vision_pages WHERE attachment_id = ?`, attachmentID)
	if err != nil {
		return 0, raerrors.StoreIOError("delete vision pages", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// SearchMaxSim ranks pages matching f by Σ_i max_j cos(q_i, d_j).
// At most MaxCandidates pages are scored, newest first; Truncated reports
// when older pages were left out. Pages whose patch dimension differs from
// the query are skipped and logged.
func (v *VisionIndex) SearchMaxSim(ctx context.Context, query [][]float32, topK int, f VisionFilter) (VisionResults, error) {
	res := VisionResults{Hits: []VisionHit{}}
	if topK <= 0 || len(query) == 0 {
		return res, nil
	}
	q, err := vision.NewQuery(query)
	if err != nil {
		return res, err
	}

	where, args := whereClause(f)
	args = append(args, v.maxCandidates+1)
	rows, err := v.db.db.QueryContext(ctx,
		`SELECT `+visionColumns+` FROM vision_pages`+where+` ORDER BY created_at DESC, rowid DESC LIMIT ?`, args...)
	if err != nil {
		return res, raerrors.StoreIOError("query vision pages", err)
	}
	defer rows.Close()

	scorer := vision.NewScorer(ctx, q, v.workers, v.logger)
	pages := make(map[string]VisionPage)
	for rows.Next() {
		if res.Candidates == v.maxCandidates {
			res.Truncated = true
			break
		}
		page, blob, dims, err := scanVisionRow(rows)
		if err != nil {
			scorer.Wait()
			return res, err
		}
		res.Candidates++

		if page.Metadata.NumPatches > 0 && dims != q.Dim() {
			res.Skipped++
			v.logger.Warn("vision candidate skipped",
				slog.String("id", page.ID),
				slog.String("error", raerrors.DimensionMismatch(q.Dim(), dims).Error()))
			continue
		}

		pages[page.ID] = page
		n := page.Metadata.NumPatches
		scorer.Add(page.ID, func() ([][]float32, error) {
			patches, err := decodePatches(blob, n, dims)
			if err != nil {
				return nil, raerrors.New(raerrors.ErrCodeCorruptIndex, "decode patches of "+page.ID, err)
			}
			return patches, nil
		})
	}
	if err := rows.Err(); err != nil {
		scorer.Wait()
		return res, raerrors.StoreIOError("iterate vision pages", err)
	}

	scored, skipped, err := scorer.Wait()
	if err != nil {
		return res, err
	}
	res.Skipped += skipped

	hits := make([]VisionHit, 0, len(scored))
	for _, s := range scored {
		hits = append(hits, VisionHit{VisionPage: pages[s.Key], Score: s.Score})
	}
	slices.SortFunc(hits, func(a, b VisionHit) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		if c := cmp.Compare(a.PageIndex, b.PageIndex); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	res.Hits = hits

	if res.Truncated {
		v.logger.Debug("vision candidates truncated", slog.Int("cap", v.maxCandidates))
	}
	return res, nil
}

// GetAllByFilter lists pages without ranking, ordered by attachment then page.
// Every hit has score 1.0. limit <= 0 means no limit.
func (v *VisionIndex) GetAllByFilter(ctx context.Context, f VisionFilter, limit int) ([]VisionHit, error) {
	where, args := whereClause(f)
	if limit <= 0 {
		limit = -1
	}
	args = append(args, limit)

	rows, err := v.db.db.QueryContext(ctx,
		`SELECT `+visionColumns+` FROM vision_pages`+where+` ORDER BY attachment_id, page_index LIMIT ?`, args...)
	if err != nil {
		return nil, raerrors.StoreIOError("list vision pages", err)
	}
	defer rows.Close()

	hits := []VisionHit{}
	for rows.Next() {
		page, _, _, err := scanVisionRow(rows)
		if err != nil {
			return nil, err
		}
		hits = append(hits, VisionHit{VisionPage: page, Score: 1.0})
	}
	if err := rows.Err(); err != nil {
		return nil, raerrors.StoreIOError("iterate vision pages", err)
	}
	return hits, nil
}

// Count returns the number of pages matching f.
func (v *VisionIndex) Count(ctx context.Context, f Filter) (int, error) {
	where, args := whereClause(f)
	var n int
	if err := v.db.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vision_pages`+where, args...).Scan(&n); err != nil {
		return 0, raerrors.StoreIOError("count vision pages", err)
	}
	return n, nil
}

// preparePages fills IDs and derived metadata and validates patch shapes.
func preparePages(pages []VisionPage) error {
	for i := range pages {
		p := &pages[i]
		if p.AttachmentID == "" {
			return raerrors.ValidationError("vision page has no attachment id", nil)
		}
		if p.PageIndex < 0 {
			return raerrors.ValidationError(fmt.Sprintf("negative page index %d", p.PageIndex), nil)
		}
		if len(p.Patches) == 0 {
			return raerrors.ValidationError(fmt.Sprintf("page %d of %s has no patches", p.PageIndex, p.AttachmentID), nil)
		}
		p.ID = PageID(p.AttachmentID, p.PageIndex)
		p.Metadata.PageNumber = p.PageIndex + 1
		p.Metadata.NumPatches = len(p.Patches)
		p.Metadata.EmbeddingDim = len(p.Patches[0])
	}
	return nil
}

func insertPages(ctx context.Context, tx *sql.Tx, pages []VisionPage) error {
	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO vision_pages (`+visionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return raerrors.StoreIOError("prepare page insert", err)
	}
	defer stmt.Close()

	now := time.Now()
	for i := range pages {
		p := &pages[i]
		if p.CreatedAt.IsZero() {
			p.CreatedAt = now
		}
		blob, dims, err := encodePatches(p.Patches)
		if err != nil {
			return raerrors.ValidationError("page "+p.ID, err)
		}
		meta, err := encodeMetadata(p.Metadata)
		if err != nil {
			return raerrors.ValidationError("page "+p.ID, err)
		}
		if _, err := stmt.ExecContext(ctx,
			p.ID, p.AttachmentID, p.PageIndex, blob, len(p.Patches), dims,
			p.EntityType, p.EntityID, meta, p.CreatedAt.UnixNano()); err != nil {
			return raerrors.StoreIOError("insert page "+p.ID, err)
		}
	}
	return nil
}

func scanVisionRow(rows *sql.Rows) (VisionPage, []byte, int, error) {
	var (
		p          VisionPage
		blob       []byte
		numPatches int
		dims       int
		meta       string
		created    int64
	)
	if err := rows.Scan(&p.ID, &p.AttachmentID, &p.PageIndex, &blob, &numPatches, &dims,
		&p.EntityType, &p.EntityID, &meta, &created); err != nil {
		return p, nil, 0, raerrors.StoreIOError("scan vision page", err)
	}
	if err := decodeMetadata(meta, &p.Metadata); err != nil {
		return p, nil, 0, raerrors.New(raerrors.ErrCodeCorruptIndex, "page "+p.ID, err)
	}
	p.Metadata.NumPatches = numPatches
	p.CreatedAt = time.Unix(0, created)
	return p, blob, dims, nil
}
