package store

import (
	"context"
	"database/sql"
	"log/slog"
	"slices"

	raerrors "github.com/Franck-BRT/BlackIA-sub003/internal/errors"
)

// Maintenance performs housekeeping across both indexes.
type Maintenance struct {
	db     *DB
	text   *TextIndex
	vision *VisionIndex
	logger *slog.Logger
}

// NewMaintenance creates a maintenance helper.
func NewMaintenance(db *DB, text *TextIndex, vision *VisionIndex) *Maintenance {
	return &Maintenance{db: db, text: text, vision: vision, logger: db.logger}
}

// OrphanReport lists what CleanOrphans removed.
type OrphanReport struct {
	Attachments   []string
	TextDeleted   int
	VisionDeleted int
}

// Total returns the number of deleted rows.
func (r OrphanReport) Total() int { return r.TextDeleted + r.VisionDeleted }

// CleanOrphans deletes rows whose attachment is not in validIDs.
// An empty validIDs deletes nothing unless force is set.
func (m *Maintenance) CleanOrphans(ctx context.Context, validIDs []string, force bool) (OrphanReport, error) {
	var report OrphanReport
	if len(validIDs) == 0 && !force {
		m.logger.Warn("orphan cleanup skipped: empty valid id set")
		return report, nil
	}

	valid := make(map[string]struct{}, len(validIDs))
	for _, id := range validIDs {
		valid[id] = struct{}{}
	}

	present, err := m.AttachmentIDs(ctx)
	if err != nil {
		return report, err
	}
	for _, id := range present {
		if _, ok := valid[id]; !ok {
			report.Attachments = append(report.Attachments, id)
		}
	}

	for _, id := range report.Attachments {
		textDeleted, visionDeleted, err := m.DeleteAttachment(ctx, id)
		if err != nil {
			return report, err
		}
		report.TextDeleted += textDeleted
		report.VisionDeleted += visionDeleted
	}

	if len(report.Attachments) > 0 {
		m.logger.Info("orphans cleaned",
			slog.Int("attachments", len(report.Attachments)),
			slog.Int("text_deleted", report.TextDeleted),
			slog.Int("vision_deleted", report.VisionDeleted))
	}
	return report, nil
}

// DeleteAttachment removes the text chunks and vision pages of attachmentID
// in one transaction. Deleting an unknown attachment is a no-op.
func (m *Maintenance) DeleteAttachment(ctx context.Context, attachmentID string) (textDeleted, visionDeleted int, err error) {
	var removed []string
	err = m.db.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		removed, err = deleteReturningIDs(ctx, tx, "text_chunks", attachmentID)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM vision_pages WHERE attachment_id = ?`, attachmentID)
		if err != nil {
			return raerrors.StoreIOError("delete vision pages", err)
		}
		n, _ := res.RowsAffected()
		visionDeleted = int(n)
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	if m.text.ann != nil {
		m.text.ann.Remove(removed...)
	}
	return len(removed), visionDeleted, nil
}

// DeleteByEntity removes every row linked to an entity from both indexes.
func (m *Maintenance) DeleteByEntity(ctx context.Context, entityType, entityID string) (textDeleted, visionDeleted int, err error) {
	if entityType == "" && entityID == "" {
		return 0, 0, raerrors.ValidationError("entity type or id is required", nil)
	}
	f := Filter{EntityType: entityType, EntityID: entityID}
	where, args := whereClause(f)

	var removed []string
	err = m.db.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `DELETE FROM text_chunks`+where+` RETURNING id`, args...)
		if err != nil {
			return raerrors.StoreIOError("delete text chunks by entity", err)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return raerrors.StoreIOError("scan deleted id", err)
			}
			removed = append(removed, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return raerrors.StoreIOError("delete text chunks by entity", err)
		}

		res, err := tx.ExecContext(ctx, `DELETE FROM vision_pages`+where, args...)
		if err != nil {
			return raerrors.StoreIOError("delete vision pages by entity", err)
		}
		n, _ := res.RowsAffected()
		visionDeleted = int(n)
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	if m.text.ann != nil {
		m.text.ann.Remove(removed...)
	}
	return len(removed), visionDeleted, nil
}

// Compact rebuilds the ANN graph, then reclaims space and refreshes planner statistics.
func (m *Maintenance) Compact(ctx context.Context) error {
	if err := m.text.RebuildANN(ctx); err != nil {
		return err
	}
	if err := m.db.Checkpoint(ctx); err != nil {
		return err
	}
	if _, err := m.db.db.ExecContext(ctx, "VACUUM"); err != nil {
		return raerrors.StoreIOError("vacuum", err)
	}
	if _, err := m.db.db.ExecContext(ctx, "PRAGMA optimize"); err != nil {
		return raerrors.StoreIOError("optimize", err)
	}
	m.logger.Info("store compacted", slog.Int64("file_size", m.db.FileSize()))
	return nil
}

// Stats returns row counts and storage estimates.
func (m *Maintenance) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	q := m.db.db

	if err := q.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT attachment_id), COALESCE(SUM(LENGTH(vector)), 0) FROM text_chunks`).
		Scan(&s.TextChunks, &s.TextAttachments, &s.TextVectorBytes); err != nil {
		return s, raerrors.StoreIOError("text stats", err)
	}
	if err := q.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT attachment_id), COALESCE(SUM(num_patches), 0), COALESCE(SUM(LENGTH(patches)), 0) FROM vision_pages`).
		Scan(&s.VisionPages, &s.VisionAttachments, &s.VisionPatches, &s.VisionPatchBytes); err != nil {
		return s, raerrors.StoreIOError("vision stats", err)
	}
	if err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM (SELECT attachment_id FROM text_chunks UNION SELECT attachment_id FROM vision_pages)`).
		Scan(&s.DistinctAttachments); err != nil {
		return s, raerrors.StoreIOError("attachment stats", err)
	}

	var err error
	if s.TextDimensions, err = m.distinctDims(ctx, "text_chunks"); err != nil {
		return s, err
	}
	if s.VisionDimensions, err = m.distinctDims(ctx, "vision_pages"); err != nil {
		return s, err
	}

	s.FileSizeBytes = m.db.FileSize()
	if m.text.ann != nil {
		st := m.text.ann.Stats()
		s.ANNNodes = st.GraphNodes
		s.ANNOrphans = st.Orphans
	}
	return s, nil
}

func (m *Maintenance) distinctDims(ctx context.Context, table string) ([]int, error) {
	rows, err := m.db.db.QueryContext(ctx, `SELECT DISTINCT dims FROM `+table+` ORDER BY dims`)
	if err != nil {
		return nil, raerrors.StoreIOError("dimension stats", err)
	}
	defer rows.Close()

	var dims []int
	for rows.Next() {
		var d int
		if err := rows.Scan(&d); err != nil {
			return nil, raerrors.StoreIOError("dimension stats", err)
		}
		dims = append(dims, d)
	}
	return dims, rows.Err()
}

// AttachmentIDs returns every attachment present in either index, sorted.
func (m *Maintenance) AttachmentIDs(ctx context.Context) ([]string, error) {
	rows, err := m.db.db.QueryContext(ctx,
		`SELECT attachment_id FROM text_chunks UNION SELECT attachment_id FROM vision_pages`)
	if err != nil {
		return nil, raerrors.StoreIOError("list attachments", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, raerrors.StoreIOError("list attachments", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, raerrors.StoreIOError("list attachments", err)
	}
	slices.Sort(ids)
	return ids, nil
}

// AttachmentCounts returns per-attachment row counts across both indexes.
func (m *Maintenance) AttachmentCounts(ctx context.Context) (map[string]AttachmentCounts, error) {
	counts := make(map[string]AttachmentCounts)

	rows, err := m.db.db.QueryContext(ctx, `SELECT attachment_id, COUNT(*) FROM text_chunks GROUP BY attachment_id`)
	if err != nil {
		return nil, raerrors.StoreIOError("count chunks per attachment", err)
	}
	for rows.Next() {
		var (
			id string
			n  int
		)
		if err := rows.Scan(&id, &n); err != nil {
			rows.Close()
			return nil, raerrors.StoreIOError("count chunks per attachment", err)
		}
		c := counts[id]
		c.Chunks = n
		counts[id] = c
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, raerrors.StoreIOError("count chunks per attachment", err)
	}

	rows, err = m.db.db.QueryContext(ctx,
		`SELECT attachment_id, COUNT(*), COALESCE(SUM(num_patches), 0) FROM vision_pages GROUP BY attachment_id`)
	if err != nil {
		return nil, raerrors.StoreIOError("count pages per attachment", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id             string
			pages, patches int
		)
		if err := rows.Scan(&id, &pages, &patches); err != nil {
			return nil, raerrors.StoreIOError("count pages per attachment", err)
		}
		c := counts[id]
		c.Pages = pages
		c.Patches = patches
		counts[id] = c
	}
	if err := rows.Err(); err != nil {
		return nil, raerrors.StoreIOError("count pages per attachment", err)
	}
	return counts, nil
}
