package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/and161185/caseflow/internal/errs"
	"github.com/and161185/caseflow/internal/model"
	"github.com/and161185/caseflow/internal/repository"
)

// CaseRepo is the authoritative case store.
type CaseRepo struct{ db *DB }

var _ repository.CaseReplicaRepository = (*CaseRepo)(nil)

// NewCaseRepo constructs a case repository.
func NewCaseRepo(db *DB) *CaseRepo { return &CaseRepo{db: db} }

const caseCols = `
id, case_number, customer_name, COALESCE(customer_email, ''), COALESCE(customer_phone, ''), case_type,
priority, status, COALESCE(description, ''), assigned_to, booked_out_at, booked_out_by,
COALESCE(resolution, ''), created_at, updated_at, resolved_at`

const byPriority = `
ORDER BY CASE priority WHEN 'high' THEN 0 WHEN 'medium' THEN 1 ELSE 2 END, created_at ASC, id ASC`

func scanCase(row pgx.Row) (model.Case, error) {
	var (
		c                model.Case
		priority, status string
	)
	err := row.Scan(&c.ID, &c.CaseNumber, &c.CustomerName, &c.CustomerEmail, &c.CustomerPhone, &c.CaseType,
		&priority, &status, &c.Description, &c.AssignedTo, &c.BookedOutAt, &c.BookedOutBy,
		&c.Resolution, &c.CreatedAt, &c.UpdatedAt, &c.ResolvedAt)
	if err != nil {
		return model.Case{}, err
	}
	c.Priority, c.Status = model.Priority(priority), model.CaseStatus(status)
	// the server's own id is the remote identity
	id := c.ID
	c.ServerID, c.Synced = &id, true
	return c, nil
}

func collectCases(rows pgx.Rows) ([]model.Case, error) {
	defer rows.Close()
	out := []model.Case{}
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func oneCase(row pgx.Row) (*model.Case, error) {
	c, err := scanCase(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// Get returns a case by id.
func (r *CaseRepo) Get(ctx context.Context, id int64) (*model.Case, error) {
	return oneCase(r.db.Pool.QueryRow(ctx, `SELECT `+caseCols+` FROM cases WHERE id=$1`, id))
}

const appendHistorySQL = `
INSERT INTO case_history (case_id, user_id, action, notes, created_at)
VALUES ($1, $2, $3, $4, $5)
RETURNING id`

// BookOut takes the lock with one conditional UPDATE; no row is read first.
func (r *CaseRepo) BookOut(ctx context.Context, id, userID int64, at time.Time) (ok bool, err error) {
	const upd = `
UPDATE cases
SET booked_out_by=$2, booked_out_at=$3, status='in_progress', updated_at=$3
WHERE id=$1 AND booked_out_by IS NULL AND status NOT IN ('closed', 'resolved')`
	err = r.db.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, upd, id, userID, at)
		if err != nil {
			return err
		}
		if ok = tag.RowsAffected() == 1; !ok {
			return nil
		}
		var hid int64
		return tx.QueryRow(ctx, appendHistorySQL, id, userID, model.ActionBookedOut, nil, at).Scan(&hid)
	})
	return ok, err
}

// Release clears the lock held by userID, or any holder when elevated.
func (r *CaseRepo) Release(ctx context.Context, id, userID int64, elevated bool, at time.Time) (ok bool, err error) {
	const upd = `
UPDATE cases
SET booked_out_by=NULL, booked_out_at=NULL, status='open', updated_at=$4
WHERE id=$1 AND booked_out_by IS NOT NULL AND (booked_out_by=$2 OR $3)`
	err = r.db.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, upd, id, userID, elevated, at)
		if err != nil {
			return err
		}
		if ok = tag.RowsAffected() == 1; !ok {
			return nil
		}
		var hid int64
		return tx.QueryRow(ctx, appendHistorySQL, id, userID, model.ActionReleased, nil, at).Scan(&hid)
	})
	return ok, err
}

// Allocated returns the user's non-terminal cases in work-queue order.
func (r *CaseRepo) Allocated(ctx context.Context, userID int64) ([]model.Case, error) {
	q := `SELECT ` + caseCols + ` FROM cases WHERE assigned_to=$1 AND status NOT IN ('closed', 'resolved')` + byPriority
	rows, err := r.db.Pool.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	return collectCases(rows)
}

// Insert stores a pushed case as sent.
func (r *CaseRepo) Insert(ctx context.Context, c model.Case) (*model.Case, error) {
	const q = `
INSERT INTO cases (case_number, customer_name, customer_email, customer_phone, case_type, priority, status,
  description, assigned_to, booked_out_at, booked_out_by, resolution, created_at, updated_at, resolved_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
RETURNING ` + caseCols
	created, updated := stamps(c.CreatedAt, c.UpdatedAt)
	out, err := oneCase(r.db.Pool.QueryRow(ctx, q, c.CaseNumber, c.CustomerName, nullable(c.CustomerEmail),
		nullable(c.CustomerPhone), c.CaseType, string(c.Priority), string(c.Status), nullable(c.Description),
		c.AssignedTo, c.BookedOutAt, c.BookedOutBy, nullable(c.Resolution), created, updated, c.ResolvedAt))
	switch {
	case isUniqueViolation(err):
		return nil, fmt.Errorf("case number %q: %w", c.CaseNumber, errs.ErrConstraintViolation)
	case isForeignKeyViolation(err):
		return nil, fmt.Errorf("case %q references unknown user: %w", c.CaseNumber, errs.ErrConstraintViolation)
	}
	return out, err
}

// Replace overwrites the mutable fields of a case.
func (r *CaseRepo) Replace(ctx context.Context, id int64, c model.Case) (*model.Case, error) {
	const q = `
UPDATE cases
SET case_number=$2, customer_name=$3, customer_email=$4, customer_phone=$5, case_type=$6, priority=$7,
    status=$8, description=$9, assigned_to=$10, booked_out_at=$11, booked_out_by=$12, resolution=$13,
    updated_at=$14, resolved_at=$15
WHERE id=$1
RETURNING ` + caseCols
	_, updated := stamps(c.CreatedAt, c.UpdatedAt)
	out, err := oneCase(r.db.Pool.QueryRow(ctx, q, id, c.CaseNumber, c.CustomerName, nullable(c.CustomerEmail),
		nullable(c.CustomerPhone), c.CaseType, string(c.Priority), string(c.Status), nullable(c.Description),
		c.AssignedTo, c.BookedOutAt, c.BookedOutBy, nullable(c.Resolution), updated, c.ResolvedAt))
	switch {
	case isUniqueViolation(err):
		return nil, fmt.Errorf("case number %q: %w", c.CaseNumber, errs.ErrConstraintViolation)
	case isForeignKeyViolation(err):
		return nil, fmt.Errorf("case %d references unknown user: %w", id, errs.ErrConstraintViolation)
	}
	return out, err
}

// List returns cases matching f in work-queue order.
func (r *CaseRepo) List(ctx context.Context, f model.CaseFilter) ([]model.Case, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, strings.ReplaceAll(cond, "?", "$"+strconv.Itoa(len(args))))
	}
	if f.AssignedTo != nil {
		add("assigned_to=?", *f.AssignedTo)
	}
	if f.Status != "" {
		add("status=?", string(f.Status))
	}
	if f.Priority != "" {
		add("priority=?", string(f.Priority))
	}
	if f.Search != "" {
		add("(case_number ILIKE ? OR customer_name ILIKE ? OR customer_email ILIKE ?)", "%"+f.Search+"%")
	}
	q := `SELECT ` + caseCols + ` FROM cases`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	rows, err := r.db.Pool.Query(ctx, q+byPriority, args...)
	if err != nil {
		return nil, err
	}
	return collectCases(rows)
}

// History lists a case's audit trail, newest first.
func (r *CaseRepo) History(ctx context.Context, caseID int64) ([]model.CaseHistory, error) {
	const q = `
SELECT id, case_id, user_id, action, COALESCE(notes, ''), created_at
FROM case_history WHERE case_id=$1
ORDER BY created_at DESC, id DESC`
	rows, err := r.db.Pool.Query(ctx, q, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.CaseHistory{}
	for rows.Next() {
		var h model.CaseHistory
		if err := rows.Scan(&h.ID, &h.CaseID, &h.UserID, &h.Action, &h.Notes, &h.CreatedAt); err != nil {
			return nil, err
		}
		id := h.ID
		h.ServerID, h.Synced = &id, true
		out = append(out, h)
	}
	return out, rows.Err()
}

// AppendHistory stores a pushed history entry for an existing case.
func (r *CaseRepo) AppendHistory(ctx context.Context, h model.CaseHistory) (*model.CaseHistory, error) {
	at := h.CreatedAt
	if at.IsZero() {
		at = time.Now()
	}
	err := r.db.Pool.QueryRow(ctx, appendHistorySQL, h.CaseID, h.UserID, h.Action, nullable(h.Notes), at).Scan(&h.ID)
	if isForeignKeyViolation(err) {
		return nil, fmt.Errorf("case %d: %w", h.CaseID, errs.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	h.CreatedAt = at
	id := h.ID
	h.ServerID, h.Synced = &id, true
	return &h, nil
}

// stamps fills missing timestamps with now.
func stamps(created, updated time.Time) (time.Time, time.Time) {
	now := time.Now()
	if updated.IsZero() {
		updated = now
	}
	if created.IsZero() {
		created = updated
	}
	return created, updated
}
