package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/and161185/caseflow/internal/errs"
	"github.com/and161185/caseflow/internal/model"
	"github.com/and161185/caseflow/internal/repository"
	"github.com/and161185/caseflow/internal/store"
)

// CaseRepo implements the desktop case store.
type CaseRepo struct {
	s   store.Store
	now func() time.Time
}

var (
	_ repository.CaseRepository = (*CaseRepo)(nil)
	_ repository.CaseSync       = (*CaseRepo)(nil)
)

// NewCaseRepo constructs a case repository.
func NewCaseRepo(s store.Store) *CaseRepo { return &CaseRepo{s: s, now: time.Now} }

const caseCols = `
id, case_number, customer_name, customer_email, customer_phone, case_type, priority, status,
description, assigned_to, booked_out_at, booked_out_by, resolution, created_at, updated_at,
resolved_at, server_id, synced, local_rev`

func scanCase(row scanner) (model.Case, error) {
	var (
		c                              model.Case
		email, phone, desc, resolution sql.NullString
		bookedAt, resolvedAt           sql.NullString
		created, updated               string
		assigned, bookedBy, serverID   sql.NullInt64
		priority, status               string
		synced                         int
	)
	err := row.Scan(&c.ID, &c.CaseNumber, &c.CustomerName, &email, &phone, &c.CaseType, &priority, &status,
		&desc, &assigned, &bookedAt, &bookedBy, &resolution, &created, &updated,
		&resolvedAt, &serverID, &synced, &c.Rev)
	if err != nil {
		return model.Case{}, err
	}
	c.CustomerEmail, c.CustomerPhone = email.String, phone.String
	c.Description, c.Resolution = desc.String, resolution.String
	c.Priority, c.Status = model.Priority(priority), model.CaseStatus(status)
	c.AssignedTo, c.BookedOutBy, c.ServerID = store.IntPtr(assigned), store.IntPtr(bookedBy), store.IntPtr(serverID)
	c.Synced = synced == 1
	if c.CreatedAt, err = parseTime(created); err != nil {
		return model.Case{}, err
	}
	if c.UpdatedAt, err = parseTime(updated); err != nil {
		return model.Case{}, err
	}
	if c.BookedOutAt, err = store.TimePtr(bookedAt); err != nil {
		return model.Case{}, err
	}
	if c.ResolvedAt, err = store.TimePtr(resolvedAt); err != nil {
		return model.Case{}, err
	}
	return c, nil
}

func collectCases(rows *sql.Rows) ([]model.Case, error) {
	defer rows.Close()
	var out []model.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func getCase(ctx context.Context, q store.Querier, id int64) (*model.Case, error) {
	c, err := scanCase(q.QueryRow(ctx, `SELECT `+caseCols+` FROM cases WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

// Get returns a case by local id.
func (r *CaseRepo) Get(ctx context.Context, id int64) (*model.Case, error) {
	return getCase(ctx, r.s, id)
}

// GetByNumber returns a case by its business key.
func (r *CaseRepo) GetByNumber(ctx context.Context, number string) (*model.Case, error) {
	c, err := scanCase(r.s.QueryRow(ctx, `SELECT `+caseCols+` FROM cases WHERE case_number = ?`, number))
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

// Create inserts a new open case.
func (r *CaseRepo) Create(ctx context.Context, in model.NewCase, by int64) (*model.Case, error) {
	const ins = `
INSERT INTO cases (case_number, customer_name, customer_email, customer_phone, case_type, priority,
  status, description, assigned_to, synced, local_rev, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, 'open', ?, ?, 0, 1, ?, ?)`
	now := r.now()
	ts := store.FormatTime(now)

	var id int64
	err := r.s.Transaction(ctx, func(tx store.Querier) error {
		res, err := tx.Execute(ctx, ins, in.CaseNumber, in.CustomerName, nullString(in.CustomerEmail),
			nullString(in.CustomerPhone), in.CaseType, string(in.Priority), nullString(in.Description),
			store.NullInt(in.AssignedTo), ts, ts)
		if err != nil {
			if store.IsUniqueViolation(err) {
				return fmt.Errorf("case number %q: %w", in.CaseNumber, errs.ErrConstraintViolation)
			}
			return err
		}
		if id, err = res.LastInsertId(); err != nil {
			return err
		}
		if err := appendHistory(ctx, tx, id, &by, model.ActionCreated, in.Description, now); err != nil {
			return err
		}
		return enqueue(ctx, tx, model.TableCases, id, model.OpCreate, now)
	})
	if err != nil {
		return nil, err
	}
	return r.Get(ctx, id)
}

// Update applies the provided fields. A status other than in_progress drops the
// lock pair; a terminal status stamps resolved_at.
func (r *CaseRepo) Update(ctx context.Context, id int64, p model.CasePatch, by int64) (*model.Case, error) {
	now := r.now()
	ts := store.FormatTime(now)

	var (
		sets []string
		args []any
	)
	set := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	if p.CustomerName != nil {
		set("customer_name", *p.CustomerName)
	}
	if p.CustomerEmail != nil {
		set("customer_email", nullString(*p.CustomerEmail))
	}
	if p.CustomerPhone != nil {
		set("customer_phone", nullString(*p.CustomerPhone))
	}
	if p.CaseType != nil {
		set("case_type", *p.CaseType)
	}
	if p.Priority != nil {
		set("priority", string(*p.Priority))
	}
	if p.Description != nil {
		set("description", nullString(*p.Description))
	}
	if p.AssignedTo != nil {
		set("assigned_to", *p.AssignedTo)
	}
	if p.Resolution != nil {
		set("resolution", nullString(*p.Resolution))
	}
	if p.Status != nil {
		set("status", string(*p.Status))
		if *p.Status != model.StatusInProgress {
			sets = append(sets, "booked_out_at = NULL", "booked_out_by = NULL")
		}
		if p.Status.Terminal() {
			set("resolved_at", ts)
		}
	}
	set("updated_at", ts)
	sets = append(sets, "synced = 0", "local_rev = local_rev + 1")
	args = append(args, id)

	notes, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	q := `UPDATE cases SET ` + strings.Join(sets, ", ") + ` WHERE id = ?`

	err = r.s.Transaction(ctx, func(tx store.Querier) error {
		res, err := tx.Execute(ctx, q, args...)
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
		if err := appendHistory(ctx, tx, id, &by, model.ActionUpdated, string(notes), now); err != nil {
			return err
		}
		return enqueue(ctx, tx, model.TableCases, id, model.OpUpdate, now)
	})
	if err != nil {
		return nil, err
	}
	return r.Get(ctx, id)
}

// Close marks the case closed and releases any lock. Closing twice re-stamps
// resolved_at and appends another entry.
func (r *CaseRepo) Close(ctx context.Context, id int64, by *int64) (*model.Case, error) {
	const upd = `
UPDATE cases
SET status = 'closed', resolved_at = ?, booked_out_at = NULL, booked_out_by = NULL,
    updated_at = ?, synced = 0, local_rev = local_rev + 1
WHERE id = ?`
	now := r.now()
	ts := store.FormatTime(now)

	err := r.s.Transaction(ctx, func(tx store.Querier) error {
		res, err := tx.Execute(ctx, upd, ts, ts, id)
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
		if err := appendHistory(ctx, tx, id, by, model.ActionClosed, "", now); err != nil {
			return err
		}
		return enqueue(ctx, tx, model.TableCases, id, model.OpUpdate, now)
	})
	if err != nil {
		return nil, err
	}
	return r.Get(ctx, id)
}

// BookOut takes the lock with a single guarded update.
func (r *CaseRepo) BookOut(ctx context.Context, id, userID int64, at time.Time) (bool, error) {
	const upd = `
UPDATE cases
SET booked_out_by = ?, booked_out_at = ?, status = 'in_progress',
    updated_at = ?, synced = 0, local_rev = local_rev + 1
WHERE id = ? AND booked_out_by IS NULL AND status NOT IN ('closed', 'resolved')`
	ts := store.FormatTime(at)

	var ok bool
	err := r.s.Transaction(ctx, func(tx store.Querier) error {
		res, err := tx.Execute(ctx, upd, userID, ts, ts, id)
		if err != nil {
			return err
		}
		if ok, err = affected(res); err != nil || !ok {
			return err
		}
		if err := appendHistory(ctx, tx, id, &userID, model.ActionBookedOut, "", at); err != nil {
			return err
		}
		return enqueue(ctx, tx, model.TableCases, id, model.OpUpdate, at)
	})
	return ok, err
}

// MirrorLock copies the server's lock state onto the local row. It writes no
// history and leaves the dirty flag alone: the server already holds this state.
func (r *CaseRepo) MirrorLock(ctx context.Context, id int64, holder *int64, at *time.Time, status model.CaseStatus) error {
	const upd = `UPDATE cases SET booked_out_by = ?, booked_out_at = ?, status = ? WHERE id = ?`
	res, err := r.s.Execute(ctx, upd, store.NullInt(holder), store.NullTime(at), string(status), id)
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
	return nil
}

// Release drops the lock held by userID (any holder when elevated).
func (r *CaseRepo) Release(ctx context.Context, id, userID int64, elevated bool, at time.Time) (bool, error) {
	const upd = `
UPDATE cases
SET booked_out_by = NULL, booked_out_at = NULL, status = 'open',
    updated_at = ?, synced = 0, local_rev = local_rev + 1
WHERE id = ? AND booked_out_by IS NOT NULL AND (booked_out_by = ? OR ? = 1)`
	ts := store.FormatTime(at)
	force := 0
	if elevated {
		force = 1
	}

	var ok bool
	err := r.s.Transaction(ctx, func(tx store.Querier) error {
		res, err := tx.Execute(ctx, upd, ts, id, userID, force)
		if err != nil {
			return err
		}
		if ok, err = affected(res); err != nil || !ok {
			return err
		}
		if err := appendHistory(ctx, tx, id, &userID, model.ActionReleased, "", at); err != nil {
			return err
		}
		return enqueue(ctx, tx, model.TableCases, id, model.OpUpdate, at)
	})
	return ok, err
}

// Allocated returns the user's active cases in work-queue order.
func (r *CaseRepo) Allocated(ctx context.Context, userID int64) ([]model.Case, error) {
	q := `SELECT ` + caseCols + ` FROM cases
WHERE assigned_to = ? AND status NOT IN ('closed', 'resolved')` + byPriority
	rows, err := r.s.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	return collectCases(rows)
}

// Current returns the case the user holds, else their newest active assignment.
func (r *CaseRepo) Current(ctx context.Context, userID int64) (*model.Case, error) {
	const q = `SELECT ` + caseCols + ` FROM cases
WHERE status IN ('open', 'in_progress')
  AND (booked_out_by = ? OR (booked_out_by IS NULL AND assigned_to = ?))
ORDER BY CASE WHEN booked_out_by = ? THEN 0 ELSE 1 END, created_at DESC, id DESC
LIMIT 1`
	c, err := scanCase(r.s.QueryRow(ctx, q, userID, userID, userID))
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

// History lists a case's audit trail, oldest first.
func (r *CaseRepo) History(ctx context.Context, caseID int64) ([]model.CaseHistory, error) {
	const q = `SELECT ` + historyCols + ` FROM case_history WHERE case_id = ? ORDER BY id ASC`
	rows, err := r.s.Query(ctx, q, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.CaseHistory
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// Unsynced returns dirty cases that are due for a push, oldest first.
func (r *CaseRepo) Unsynced(ctx context.Context, limit int, now time.Time) ([]model.Case, error) {
	q := `SELECT ` + caseCols + ` FROM cases WHERE synced = 0 AND ` +
		fmt.Sprintf(notDue, "cases") + ` ORDER BY id ASC LIMIT ?`
	rows, err := r.s.Query(ctx, q, string(model.TableCases), store.FormatTime(now), limit)
	if err != nil {
		return nil, err
	}
	return collectCases(rows)
}

// MarkSynced stores the server id; the row is clean only if not edited since rev.
func (r *CaseRepo) MarkSynced(ctx context.Context, id, serverID, rev int64) error {
	const upd = `
UPDATE cases SET server_id = ?, synced = CASE WHEN local_rev = ? THEN 1 ELSE 0 END WHERE id = ?`
	return r.s.Transaction(ctx, func(tx store.Querier) error {
		res, err := tx.Execute(ctx, upd, serverID, rev, id)
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
		var synced int
		if err := tx.QueryRow(ctx, `SELECT synced FROM cases WHERE id = ?`, id).Scan(&synced); err != nil {
			return err
		}
		if synced == 1 {
			return dequeue(ctx, tx, model.TableCases, id)
		}
		return nil
	})
}

// ApplyRemote reconciles a pulled case: match by server_id, else link an
// unsynced local row with the same case_number, else insert. Remote state wins.
func (r *CaseRepo) ApplyRemote(ctx context.Context, rc model.Case) (model.MergeOutcome, error) {
	if rc.ServerID == nil {
		return 0, fmt.Errorf("remote case %q without id", rc.CaseNumber)
	}
	const (
		byServer = `SELECT id FROM cases WHERE server_id = ?`
		byNumber = `SELECT id FROM cases WHERE case_number = ? AND server_id IS NULL`
		upd      = `
UPDATE cases
SET server_id = ?, customer_name = ?, customer_email = ?, customer_phone = ?, case_type = ?,
    priority = ?, status = ?, description = ?, assigned_to = ?, booked_out_at = ?, booked_out_by = ?,
    resolution = ?, updated_at = ?, resolved_at = ?, synced = 1, local_rev = local_rev + 1
WHERE id = ?`
		ins = `
INSERT INTO cases (case_number, customer_name, customer_email, customer_phone, case_type, priority,
  status, description, assigned_to, booked_out_at, booked_out_by, resolution, server_id, synced,
  local_rev, created_at, updated_at, resolved_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, 0, ?, ?, ?)`
	)
	updated := rc.UpdatedAt
	if updated.IsZero() {
		updated = r.now()
	}
	created := rc.CreatedAt
	if created.IsZero() {
		created = updated
	}

	var outcome model.MergeOutcome
	err := r.s.Transaction(ctx, func(tx store.Querier) error {
		var localID int64
		err := tx.QueryRow(ctx, byServer, *rc.ServerID).Scan(&localID)
		switch {
		case err == nil:
			outcome = model.MergeUpdated
		case err == sql.ErrNoRows:
			err = tx.QueryRow(ctx, byNumber, rc.CaseNumber).Scan(&localID)
			switch {
			case err == nil:
				outcome = model.MergeLinked
			case err == sql.ErrNoRows:
				outcome = model.MergeInserted
			default:
				return err
			}
		default:
			return err
		}

		if outcome == model.MergeInserted {
			_, err := tx.Execute(ctx, ins, rc.CaseNumber, rc.CustomerName, nullString(rc.CustomerEmail),
				nullString(rc.CustomerPhone), rc.CaseType, string(rc.Priority), string(rc.Status),
				nullString(rc.Description), store.NullInt(rc.AssignedTo), store.NullTime(rc.BookedOutAt),
				store.NullInt(rc.BookedOutBy), nullString(rc.Resolution), *rc.ServerID,
				store.FormatTime(created), store.FormatTime(updated), store.NullTime(rc.ResolvedAt))
			if store.IsUniqueViolation(err) {
				return fmt.Errorf("case number %q: %w", rc.CaseNumber, errs.ErrConstraintViolation)
			}
			return err
		}

		if _, err := tx.Execute(ctx, upd, *rc.ServerID, rc.CustomerName, nullString(rc.CustomerEmail),
			nullString(rc.CustomerPhone), rc.CaseType, string(rc.Priority), string(rc.Status),
			nullString(rc.Description), store.NullInt(rc.AssignedTo), store.NullTime(rc.BookedOutAt),
			store.NullInt(rc.BookedOutBy), nullString(rc.Resolution), store.FormatTime(updated),
			store.NullTime(rc.ResolvedAt), localID); err != nil {
			return err
		}
		return dequeue(ctx, tx, model.TableCases, localID)
	})
	return outcome, err
}
