package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/and161185/caseflow/internal/errs"
	"github.com/and161185/caseflow/internal/model"
	"github.com/and161185/caseflow/internal/repository"
	"github.com/and161185/caseflow/internal/store"
)

// HistoryRepo exposes the history log to the sync engine.
type HistoryRepo struct{ s store.Store }

var _ repository.HistorySync = (*HistoryRepo)(nil)

// NewHistoryRepo constructs a history repository.
func NewHistoryRepo(s store.Store) *HistoryRepo { return &HistoryRepo{s: s} }

const historyCols = `id, case_id, user_id, action, notes, created_at, server_id, synced`

func scanHistory(row scanner) (model.CaseHistory, error) {
	var (
		h                model.CaseHistory
		userID, serverID sql.NullInt64
		notes            sql.NullString
		created          string
		synced           int
	)
	if err := row.Scan(&h.ID, &h.CaseID, &userID, &h.Action, &notes, &created, &serverID, &synced); err != nil {
		return model.CaseHistory{}, err
	}
	h.UserID, h.ServerID = store.IntPtr(userID), store.IntPtr(serverID)
	h.Notes, h.Synced = notes.String, synced == 1
	var err error
	h.CreatedAt, err = parseTime(created)
	return h, err
}

// Unsynced returns dirty entries due for a push, each with its parent's server id.
func (r *HistoryRepo) Unsynced(ctx context.Context, limit int, now time.Time) ([]repository.PendingHistory, error) {
	q := `
SELECT h.id, h.case_id, h.user_id, h.action, h.notes, h.created_at, h.server_id, h.synced, c.server_id
FROM case_history h
JOIN cases c ON c.id = h.case_id
WHERE h.synced = 0 AND ` + fmt.Sprintf(notDue, "h") + `
ORDER BY h.id ASC
LIMIT ?`
	rows, err := r.s.Query(ctx, q, string(model.TableCaseHistory), store.FormatTime(now), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []repository.PendingHistory
	for rows.Next() {
		var (
			p                model.CaseHistory
			userID, serverID sql.NullInt64
			parent           sql.NullInt64
			notes            sql.NullString
			created          string
			synced           int
		)
		if err := rows.Scan(&p.ID, &p.CaseID, &userID, &p.Action, &notes, &created, &serverID, &synced, &parent); err != nil {
			return nil, err
		}
		p.UserID, p.ServerID, p.Notes = store.IntPtr(userID), store.IntPtr(serverID), notes.String
		if p.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, repository.PendingHistory{Entry: p, CaseServerID: store.IntPtr(parent)})
	}
	return out, rows.Err()
}

// MarkSynced records the server id of a pushed entry. Entries never change
// after creation, so there is no revision guard.
func (r *HistoryRepo) MarkSynced(ctx context.Context, id, serverID int64) error {
	const upd = `UPDATE case_history SET server_id = ?, synced = 1 WHERE id = ?`
	return r.s.Transaction(ctx, func(tx store.Querier) error {
		res, err := tx.Execute(ctx, upd, serverID, id)
		if err != nil {
			return err
		}
		ok, err := affected(res)
		if err != nil {
			return err
		}
		if !ok {
			return errs.ErrNotFound
		}
		return dequeue(ctx, tx, model.TableCaseHistory, id)
	})
}
