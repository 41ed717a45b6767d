package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/and161185/caseflow/internal/model"
	"github.com/and161185/caseflow/internal/repository"
	"github.com/and161185/caseflow/internal/store"
)

// QueueRepo manages retry state in sync_queue.
type QueueRepo struct {
	s   store.Store
	now func() time.Time
}

var _ repository.QueueRepository = (*QueueRepo)(nil)

// NewQueueRepo constructs a queue repository.
func NewQueueRepo(s store.Store) *QueueRepo { return &QueueRepo{s: s, now: time.Now} }

const queueCols = `
id, table_name, record_id, operation, retry_count, last_error, next_attempt_at, dead, created_at, updated_at`

func scanQueue(row scanner) (model.QueueEntry, error) {
	var (
		e                      model.QueueEntry
		table                  string
		lastErr                sql.NullString
		next, created, updated string
		dead                   int
	)
	err := row.Scan(&e.ID, &table, &e.RecordID, &e.Operation, &e.RetryCount, &lastErr, &next, &dead, &created, &updated)
	if err != nil {
		return model.QueueEntry{}, err
	}
	e.Table, e.LastError, e.Dead = model.Table(table), lastErr.String, dead == 1
	if e.NextAttemptAt, err = parseTime(next); err != nil {
		return model.QueueEntry{}, err
	}
	if e.CreatedAt, err = parseTime(created); err != nil {
		return model.QueueEntry{}, err
	}
	if e.UpdatedAt, err = parseTime(updated); err != nil {
		return model.QueueEntry{}, err
	}
	return e, nil
}

// Fail bumps retry_count, stores reason and asks schedule for the next attempt
// time and whether the record is now dead-lettered.
func (r *QueueRepo) Fail(
	ctx context.Context, table model.Table, recordID int64, reason string, schedule repository.Schedule,
) (model.QueueEntry, error) {
	const (
		sel = `SELECT retry_count FROM sync_queue WHERE table_name = ? AND record_id = ?`
		ups = `
INSERT INTO sync_queue (table_name, record_id, operation, retry_count, last_error, next_attempt_at, dead, created_at, updated_at)
VALUES (?, ?, 'update', ?, ?, ?, ?, ?, ?)
ON CONFLICT (table_name, record_id) DO UPDATE SET
  retry_count = excluded.retry_count,
  last_error = excluded.last_error,
  next_attempt_at = excluded.next_attempt_at,
  dead = excluded.dead,
  updated_at = excluded.updated_at`
		get = `SELECT ` + queueCols + ` FROM sync_queue WHERE table_name = ? AND record_id = ?`
	)
	now := r.now()
	ts := store.FormatTime(now)

	var out model.QueueEntry
	err := r.s.Transaction(ctx, func(tx store.Querier) error {
		var retries int
		if err := tx.QueryRow(ctx, sel, string(table), recordID).Scan(&retries); err != nil && err != sql.ErrNoRows {
			return err
		}
		retries++
		next, dead := schedule(retries, now)
		deadFlag := 0
		if dead {
			deadFlag = 1
		}
		if _, err := tx.Execute(ctx, ups, string(table), recordID, retries, nullString(reason),
			store.FormatTime(next), deadFlag, ts, ts); err != nil {
			return err
		}
		var err error
		out, err = scanQueue(tx.QueryRow(ctx, get, string(table), recordID))
		return err
	})
	return out, err
}

// Pending counts dirty rows across the synchronized tables and dead letters.
func (r *QueueRepo) Pending(ctx context.Context) (pending, dead int, err error) {
	const q = `
SELECT
  (SELECT COUNT(*) FROM cases WHERE synced = 0) +
  (SELECT COUNT(*) FROM attendance WHERE synced = 0) +
  (SELECT COUNT(*) FROM case_history WHERE synced = 0),
  (SELECT COUNT(*) FROM sync_queue WHERE dead = 1)`
	err = r.s.QueryRow(ctx, q).Scan(&pending, &dead)
	return pending, dead, err
}

// List returns queue entries, most recently touched first.
func (r *QueueRepo) List(ctx context.Context, limit int) ([]model.QueueEntry, error) {
	const q = `SELECT ` + queueCols + ` FROM sync_queue ORDER BY updated_at DESC, id DESC LIMIT ?`
	rows, err := r.s.Query(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.QueueEntry
	for rows.Next() {
		e, err := scanQueue(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
