package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/good-yellow-bee/teamsync/internal/models"
)

const upsertEntitySQL = `
	INSERT INTO entities (collection, id, scope, natural_key, sort_ts, payload, pending, deleted)
	VALUES (?, ?, ?, ?, ?, ?, ?, 0)
	ON CONFLICT(collection, id) DO UPDATE SET
		scope = excluded.scope,
		natural_key = excluded.natural_key,
		sort_ts = excluded.sort_ts,
		payload = excluded.payload,
		pending = excluded.pending,
		deleted = 0`

// A local delete awaiting confirmation wins over remote data.
const remoteUpsertGuard = `
	WHERE NOT (entities.deleted = 1 AND entities.pending = 1)`

func upsertRow(ctx context.Context, tx *sql.Tx, row Row, remote bool, touched *keySet) error {
	if row.ID == "" {
		return fmt.Errorf("upsert %s: empty id", row.Collection)
	}

	oldScope, found, err := rowScope(ctx, tx, row.Collection, row.ID)
	if err != nil {
		return err
	}
	if found && oldScope != row.Scope {
		touched.add(row.Collection, oldScope)
	}

	var naturalKey interface{}
	if row.NaturalKey != "" {
		naturalKey = row.NaturalKey
		_, err := tx.ExecContext(ctx,
			"DELETE FROM entities WHERE collection = ? AND natural_key = ? AND id <> ?",
			row.Collection, row.NaturalKey, row.ID,
		)
		if err != nil {
			return fmt.Errorf("dedupe %s %s: %w", row.Collection, row.NaturalKey, err)
		}
	}

	query := upsertEntitySQL
	if remote {
		query += remoteUpsertGuard
	}
	_, err = tx.ExecContext(ctx, query,
		row.Collection, row.ID, row.Scope, naturalKey, sortNanos(row.SortTime), row.Payload, boolToInt(row.Pending),
	)
	if err != nil {
		return fmt.Errorf("upsert %s %s: %w", row.Collection, row.ID, err)
	}
	touched.add(row.Collection, row.Scope)
	return nil
}

func tombstoneRow(ctx context.Context, tx *sql.Tx, key RowKey, touched *keySet) error {
	scope, found, err := rowScope(ctx, tx, key.Collection, key.ID)
	if err != nil || !found {
		return err
	}
	_, err = tx.ExecContext(ctx,
		"UPDATE entities SET deleted = 1, pending = 1 WHERE collection = ? AND id = ?",
		key.Collection, key.ID,
	)
	if err != nil {
		return fmt.Errorf("delete %s %s: %w", key.Collection, key.ID, err)
	}
	touched.add(key.Collection, scope)
	return nil
}

func purgeRow(ctx context.Context, tx *sql.Tx, key RowKey, touched *keySet) error {
	scope, found, err := rowScope(ctx, tx, key.Collection, key.ID)
	if err != nil || !found {
		return err
	}
	_, err = tx.ExecContext(ctx,
		"DELETE FROM entities WHERE collection = ? AND id = ?",
		key.Collection, key.ID,
	)
	if err != nil {
		return fmt.Errorf("purge %s %s: %w", key.Collection, key.ID, err)
	}
	touched.add(key.Collection, scope)
	return nil
}

func restoreRow(ctx context.Context, tx *sql.Tx, key RowKey) error {
	_, err := tx.ExecContext(ctx,
		"UPDATE entities SET pending = 0 WHERE collection = ? AND id = ? AND deleted = 1",
		key.Collection, key.ID,
	)
	if err != nil {
		return fmt.Errorf("restore %s %s: %w", key.Collection, key.ID, err)
	}
	return nil
}

func confirmRow(ctx context.Context, tx *sql.Tx, key RowKey, touched *keySet) error {
	scope, found, err := rowScope(ctx, tx, key.Collection, key.ID)
	if err != nil || !found {
		return err
	}
	res, err := tx.ExecContext(ctx,
		"UPDATE entities SET pending = 0 WHERE collection = ? AND id = ? AND deleted = 0 AND pending = 1",
		key.Collection, key.ID,
	)
	if err != nil {
		return fmt.Errorf("confirm %s %s: %w", key.Collection, key.ID, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		touched.add(key.Collection, scope)
	}
	return nil
}

func rowScope(ctx context.Context, tx *sql.Tx, collection models.Collection, id string) (string, bool, error) {
	var scope string
	err := tx.QueryRowContext(ctx,
		"SELECT scope FROM entities WHERE collection = ? AND id = ?",
		collection, id,
	).Scan(&scope)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup %s %s: %w", collection, id, err)
	}
	return scope, true, nil
}

// Get returns a live row by id.
func (s *SQLiteCache) Get(ctx context.Context, collection models.Collection, id string) (RawRow, bool, error) {
	var (
		row     RawRow
		pending int
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, payload, pending FROM entities WHERE collection = ? AND id = ? AND deleted = 0",
		collection, id,
	).Scan(&row.ID, &row.Payload, &pending)
	if errors.Is(err, sql.ErrNoRows) {
		return RawRow{}, false, nil
	}
	if err != nil {
		return RawRow{}, false, fmt.Errorf("get %s %s: %w", collection, id, err)
	}
	row.Pending = pending == 1
	return row, true, nil
}

// Query returns live rows of one scope ordered by sort time, then id.
func (s *SQLiteCache) Query(ctx context.Context, q Query) ([]RawRow, error) {
	var (
		sb   strings.Builder
		args []interface{}
	)
	sb.WriteString("SELECT id, payload, pending FROM entities WHERE collection = ? AND scope = ? AND deleted = 0")
	args = append(args, q.Collection, q.Scope)

	op, dir := "<", "DESC"
	if q.Ascending {
		op, dir = ">", "ASC"
	}

	if q.Before != nil {
		ts := sortNanos(q.Before.Time)
		sb.WriteString(fmt.Sprintf(" AND (sort_ts %s ? OR (sort_ts = ? AND id %s ?))", op, op))
		args = append(args, ts, ts, q.Before.ID)
	}

	sb.WriteString(fmt.Sprintf(" ORDER BY sort_ts %s, id %s", dir, dir))
	if q.Limit > 0 {
		sb.WriteString(" LIMIT ?")
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", q.Collection, err)
	}
	defer rows.Close()

	var result []RawRow
	for rows.Next() {
		var (
			row     RawRow
			pending int
		)
		if err := rows.Scan(&row.ID, &row.Payload, &pending); err != nil {
			return nil, fmt.Errorf("scan %s: %w", q.Collection, err)
		}
		row.Pending = pending == 1
		result = append(result, row)
	}
	return result, rows.Err()
}

// Scopes lists the scopes holding live rows of a collection.
func (s *SQLiteCache) Scopes(ctx context.Context, collection models.Collection) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT DISTINCT scope FROM entities WHERE collection = ? AND deleted = 0 ORDER BY scope",
		collection,
	)
	if err != nil {
		return nil, fmt.Errorf("list scopes: %w", err)
	}
	defer rows.Close()

	var scopes []string
	for rows.Next() {
		var scope string
		if err := rows.Scan(&scope); err != nil {
			return nil, fmt.Errorf("scan scope: %w", err)
		}
		scopes = append(scopes, scope)
	}
	return scopes, rows.Err()
}

// PendingCount returns the number of rows with unconfirmed local writes.
func (s *SQLiteCache) PendingCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM entities WHERE pending = 1").Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending: %w", err)
	}
	return n, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
