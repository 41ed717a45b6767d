package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/and161185/caseflow/internal/errs"
	"github.com/and161185/caseflow/internal/model"
	"github.com/and161185/caseflow/internal/repository"
)

// AttendanceRepo is the authoritative attendance store.
type AttendanceRepo struct{ db *DB }

var _ repository.AttendanceReplicaRepository = (*AttendanceRepo)(nil)

// NewAttendanceRepo constructs an attendance repository.
func NewAttendanceRepo(db *DB) *AttendanceRepo { return &AttendanceRepo{db: db} }

const attendanceCols = `
id, user_id, check_in, check_out, break_start, break_end, total_break_minutes, status,
to_char(date, 'YYYY-MM-DD'), created_at, updated_at`

func scanAttendance(row pgx.Row) (*model.Attendance, error) {
	var (
		a      model.Attendance
		status string
	)
	err := row.Scan(&a.ID, &a.UserID, &a.CheckIn, &a.CheckOut, &a.BreakStart, &a.BreakEnd,
		&a.TotalBreakMinutes, &status, &a.Date, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	a.Status = model.AttendanceStatus(status)
	id := a.ID
	a.ServerID, a.Synced = &id, true
	return &a, nil
}

// Insert stores a pushed record.
func (r *AttendanceRepo) Insert(ctx context.Context, a model.Attendance) (*model.Attendance, error) {
	const q = `
INSERT INTO attendance (user_id, check_in, check_out, break_start, break_end, total_break_minutes,
  status, date, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8::date, $9, $10)
RETURNING ` + attendanceCols
	created, updated := stamps(a.CreatedAt, a.UpdatedAt)
	out, err := scanAttendance(r.db.Pool.QueryRow(ctx, q, a.UserID, a.CheckIn, a.CheckOut, a.BreakStart,
		a.BreakEnd, a.TotalBreakMinutes, string(a.Status), a.Date, created, updated))
	switch {
	case isUniqueViolation(err):
		return nil, fmt.Errorf("already checked in on %s: %w", a.Date, errs.ErrConstraintViolation)
	case isForeignKeyViolation(err):
		return nil, fmt.Errorf("unknown user %d: %w", a.UserID, errs.ErrConstraintViolation)
	}
	return out, err
}

// Replace overwrites a record owned by a.UserID.
func (r *AttendanceRepo) Replace(ctx context.Context, id int64, a model.Attendance) (*model.Attendance, error) {
	const q = `
UPDATE attendance
SET check_in=$3, check_out=$4, break_start=$5, break_end=$6, total_break_minutes=$7, status=$8,
    date=$9::date, updated_at=$10
WHERE id=$1 AND user_id=$2
RETURNING ` + attendanceCols
	_, updated := stamps(a.CreatedAt, a.UpdatedAt)
	out, err := scanAttendance(r.db.Pool.QueryRow(ctx, q, id, a.UserID, a.CheckIn, a.CheckOut, a.BreakStart,
		a.BreakEnd, a.TotalBreakMinutes, string(a.Status), a.Date, updated))
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("already checked in on %s: %w", a.Date, errs.ErrConstraintViolation)
	}
	return out, err
}

// List returns the user's records with from <= date <= to, newest first.
func (r *AttendanceRepo) List(ctx context.Context, userID int64, from, to string) ([]model.Attendance, error) {
	const q = `
SELECT ` + attendanceCols + `
FROM attendance
WHERE user_id=$1
  AND (NULLIF($2::text, '') IS NULL OR date >= NULLIF($2::text, '')::date)
  AND (NULLIF($3::text, '') IS NULL OR date <= NULLIF($3::text, '')::date)
ORDER BY date DESC, id DESC`
	rows, err := r.db.Pool.Query(ctx, q, userID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Attendance{}
	for rows.Next() {
		a, err := scanAttendance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}
