// Package sqlite contains the desktop Local Store: typed repositories over the
// embedded SQLite store. Every local mutation marks its row dirty and enqueues a
// sync marker in the same transaction.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/and161185/caseflow/internal/errs"
	"github.com/and161185/caseflow/internal/model"
	"github.com/and161185/caseflow/internal/store"
)

type scanner interface {
	Scan(dest ...any) error
}

// byPriority orders the work queue: high, medium, low, then oldest first.
const byPriority = `
ORDER BY CASE priority WHEN 'high' THEN 0 WHEN 'medium' THEN 1 ELSE 2 END, created_at ASC, id ASC`

// notDue excludes records whose queue entry is dead or backing off.
// Callers bind the table name and now.
const notDue = `
NOT EXISTS (
  SELECT 1 FROM sync_queue q
  WHERE q.table_name = ? AND q.record_id = %s.id AND (q.dead = 1 OR q.next_attempt_at > ?)
)`

func enqueue(ctx context.Context, q store.Querier, table model.Table, id int64, op string, now time.Time) error {
	const ins = `
INSERT INTO sync_queue (table_name, record_id, operation, retry_count, last_error, next_attempt_at, dead, created_at, updated_at)
VALUES (?, ?, ?, 0, NULL, '', 0, ?, ?)
ON CONFLICT (table_name, record_id) DO UPDATE SET
  operation = CASE WHEN sync_queue.operation = 'create' THEN 'create' ELSE excluded.operation END,
  retry_count = 0,
  last_error = NULL,
  next_attempt_at = '',
  dead = 0,
  updated_at = excluded.updated_at`
	ts := store.FormatTime(now)
	_, err := q.Execute(ctx, ins, string(table), id, op, ts, ts)
	return err
}

func dequeue(ctx context.Context, q store.Querier, table model.Table, id int64) error {
	const del = `DELETE FROM sync_queue WHERE table_name = ? AND record_id = ?`
	_, err := q.Execute(ctx, del, string(table), id)
	return err
}

func appendHistory(ctx context.Context, q store.Querier, caseID int64, userID *int64, action, notes string, now time.Time) error {
	const ins = `
INSERT INTO case_history (case_id, user_id, action, notes, synced, created_at)
VALUES (?, ?, ?, ?, 0, ?)`
	res, err := q.Execute(ctx, ins, caseID, store.NullInt(userID), action, nullString(notes), store.FormatTime(now))
	if err != nil {
		return err
	}
	hid, err := res.LastInsertId()
	if err != nil {
		return err
	}
	return enqueue(ctx, q, model.TableCaseHistory, hid, model.OpCreate, now)
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return errs.ErrNotFound
	}
	return err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return store.ParseTime(s)
}
