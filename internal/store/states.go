package store

import (
	"context"
	"time"

	raerrors "github.com/Franck-BRT/BlackIA-sub003/internal/errors"
)

// PutIndexingState stores an opaque per-attachment lifecycle record.
func (d *DB) PutIndexingState(ctx context.Context, attachmentID, state string) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO indexing_states(attachment_id, state, updated_at) VALUES(?, ?, ?)
		 ON CONFLICT(attachment_id) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`,
		attachmentID, state, time.Now().UnixNano())
	if err != nil {
		return raerrors.StoreIOError("write indexing state", err)
	}
	return nil
}

// DeleteIndexingState removes the record for attachmentID. Missing records are fine.
func (d *DB) DeleteIndexingState(ctx context.Context, attachmentID string) error {
	if _, err := d.db.ExecContext(ctx,
		`DELETE FROM indexing_states WHERE attachment_id = ?`, attachmentID); err != nil {
		return raerrors.StoreIOError("delete indexing state", err)
	}
	return nil
}

// IndexingStates returns every stored record keyed by attachment id.
func (d *DB) IndexingStates(ctx context.Context) (map[string]string, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT attachment_id, state FROM indexing_states`)
	if err != nil {
		return nil, raerrors.StoreIOError("read indexing states", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var id, state string
		if err := rows.Scan(&id, &state); err != nil {
			return nil, raerrors.StoreIOError("scan indexing state", err)
		}
		out[id] = state
	}
	if err := rows.Err(); err != nil {
		return nil, raerrors.StoreIOError("read indexing states", err)
	}
	return out, nil
}
