package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/good-yellow-bee/teamsync/internal/apperr"
	"github.com/good-yellow-bee/teamsync/internal/models"
)

// CursorRecord is a persisted sync cursor.
type CursorRecord struct {
	Collection models.Collection
	Scope      string
	Cursor     models.Cursor
	SyncedAt   time.Time
}

func saveCursor(ctx context.Context, tx *sql.Tx, cu CursorUpdate) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO sync_cursors (collection, scope, cursor_ts, cursor_id, synced_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(collection, scope) DO UPDATE SET
			cursor_ts = excluded.cursor_ts,
			cursor_id = excluded.cursor_id,
			synced_at = excluded.synced_at`,
		cu.Collection, cu.Scope, sortNanos(cu.Cursor.Time), cu.Cursor.ID, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save cursor %s:%s: %w", cu.Collection, cu.Scope, err)
	}
	return nil
}

// Cursor returns the last synced cursor for a collection scope.
func (s *SQLiteCache) Cursor(ctx context.Context, collection models.Collection, scope string) (models.Cursor, bool, error) {
	var (
		ts int64
		id string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT cursor_ts, cursor_id FROM sync_cursors WHERE collection = ? AND scope = ?",
		collection, scope,
	).Scan(&ts, &id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Cursor{}, false, nil
	}
	if err != nil {
		return models.Cursor{}, false, fmt.Errorf("get cursor %s:%s: %w", collection, scope, err)
	}
	return models.Cursor{Time: fromNanos(ts), ID: id}, true, nil
}

// ResetCursor forgets the synced cursor so the next fetch is a full one.
func (s *SQLiteCache) ResetCursor(ctx context.Context, collection models.Collection, scope string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"DELETE FROM sync_cursors WHERE collection = ? AND scope = ?",
		collection, scope,
	)
	if err != nil {
		return apperr.Cache("reset cursor", err)
	}
	s.logf("reset cursor %s:%s", collection, scope)
	return nil
}

// ListCursors returns every persisted sync cursor.
func (s *SQLiteCache) ListCursors(ctx context.Context) ([]CursorRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT collection, scope, cursor_ts, cursor_id, synced_at
		FROM sync_cursors ORDER BY collection, scope`)
	if err != nil {
		return nil, fmt.Errorf("list cursors: %w", err)
	}
	defer rows.Close()

	var records []CursorRecord
	for rows.Next() {
		var (
			r  CursorRecord
			ts int64
		)
		if err := rows.Scan(&r.Collection, &r.Scope, &ts, &r.Cursor.ID, &r.SyncedAt); err != nil {
			return nil, fmt.Errorf("scan cursor: %w", err)
		}
		r.Cursor.Time = fromNanos(ts)
		records = append(records, r)
	}
	return records, rows.Err()
}

func fromNanos(ts int64) time.Time {
	if ts == 0 {
		return time.Time{}
	}
	return time.Unix(0, ts).UTC()
}
