package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/and161185/caseflow/internal/errs"
	"github.com/and161185/caseflow/internal/model"
	"github.com/and161185/caseflow/internal/repository"
	"github.com/and161185/caseflow/internal/store"
)

// AttendanceRepo implements the desktop attendance store.
type AttendanceRepo struct {
	s   store.Store
	loc *time.Location // calendar day boundaries
}

var (
	_ repository.AttendanceRepository = (*AttendanceRepo)(nil)
	_ repository.AttendanceSync       = (*AttendanceRepo)(nil)
)

// NewAttendanceRepo constructs an attendance repository; days follow loc
// (time.Local when nil).
func NewAttendanceRepo(s store.Store, loc *time.Location) *AttendanceRepo {
	if loc == nil {
		loc = time.Local
	}
	return &AttendanceRepo{s: s, loc: loc}
}

const attendanceCols = `
id, user_id, check_in, check_out, break_start, break_end, total_break_minutes, status, date,
created_at, updated_at, server_id, synced, local_rev`

func scanAttendance(row scanner) (model.Attendance, error) {
	var (
		a                                 model.Attendance
		checkIn, created, updated, status string
		checkOut, breakStart, breakEnd    sql.NullString
		serverID                          sql.NullInt64
		synced                            int
	)
	err := row.Scan(&a.ID, &a.UserID, &checkIn, &checkOut, &breakStart, &breakEnd, &a.TotalBreakMinutes,
		&status, &a.Date, &created, &updated, &serverID, &synced, &a.Rev)
	if err != nil {
		return model.Attendance{}, err
	}
	a.Status, a.ServerID, a.Synced = model.AttendanceStatus(status), store.IntPtr(serverID), synced == 1
	if a.CheckIn, err = parseTime(checkIn); err != nil {
		return model.Attendance{}, err
	}
	if a.CreatedAt, err = parseTime(created); err != nil {
		return model.Attendance{}, err
	}
	if a.UpdatedAt, err = parseTime(updated); err != nil {
		return model.Attendance{}, err
	}
	if a.CheckOut, err = store.TimePtr(checkOut); err != nil {
		return model.Attendance{}, err
	}
	if a.BreakStart, err = store.TimePtr(breakStart); err != nil {
		return model.Attendance{}, err
	}
	if a.BreakEnd, err = store.TimePtr(breakEnd); err != nil {
		return model.Attendance{}, err
	}
	return a, nil
}

func collectAttendance(rows *sql.Rows) ([]model.Attendance, error) {
	defer rows.Close()
	var out []model.Attendance
	for rows.Next() {
		a, err := scanAttendance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func getAttendance(ctx context.Context, q store.Querier, id int64) (*model.Attendance, error) {
	a, err := scanAttendance(q.QueryRow(ctx, `SELECT `+attendanceCols+` FROM attendance WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

func openAttendance(ctx context.Context, q store.Querier, userID int64) (*model.Attendance, error) {
	const sel = `SELECT ` + attendanceCols + ` FROM attendance
WHERE user_id = ? AND status <> 'completed' ORDER BY id DESC LIMIT 1`
	a, err := scanAttendance(q.QueryRow(ctx, sel, userID))
	if err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

// Open returns the user's running record or errs.ErrNotFound.
func (r *AttendanceRepo) Open(ctx context.Context, userID int64) (*model.Attendance, error) {
	return openAttendance(ctx, r.s, userID)
}

// CheckIn opens a record for the calendar day of at.
func (r *AttendanceRepo) CheckIn(ctx context.Context, userID int64, at time.Time) (*model.Attendance, error) {
	const ins = `
INSERT INTO attendance (user_id, check_in, status, date, synced, local_rev, created_at, updated_at)
VALUES (?, ?, 'active', ?, 0, 1, ?, ?)`
	ts := store.FormatTime(at)
	day := at.In(r.loc).Format(model.DateLayout)

	var id int64
	err := r.s.Transaction(ctx, func(tx store.Querier) error {
		res, err := tx.Execute(ctx, ins, userID, ts, day, ts, ts)
		if err != nil {
			if store.IsUniqueViolation(err) {
				return fmt.Errorf("already checked in: %w", errs.ErrInvalidState)
			}
			return err
		}
		if id, err = res.LastInsertId(); err != nil {
			return err
		}
		return enqueue(ctx, tx, model.TableAttendance, id, model.OpCreate, at)
	})
	if err != nil {
		return nil, err
	}
	return getAttendance(ctx, r.s, id)
}

// StartBreak moves an active record to on_break.
func (r *AttendanceRepo) StartBreak(ctx context.Context, userID int64, at time.Time) (*model.Attendance, error) {
	const upd = `
UPDATE attendance
SET break_start = ?, break_end = NULL, status = 'on_break',
    updated_at = ?, synced = 0, local_rev = local_rev + 1
WHERE id = ? AND status = 'active'`
	return r.transition(ctx, userID, at, func(tx store.Querier, a *model.Attendance) error {
		if a.Status != model.AttendanceActive {
			return fmt.Errorf("break already started: %w", errs.ErrInvalidState)
		}
		ts := store.FormatTime(at)
		return guarded(tx.Execute(ctx, upd, ts, ts, a.ID))
	})
}

// EndBreak closes the running break and adds its whole minutes to the total.
func (r *AttendanceRepo) EndBreak(ctx context.Context, userID int64, at time.Time) (*model.Attendance, error) {
	const upd = `
UPDATE attendance
SET break_end = ?, total_break_minutes = total_break_minutes + ?, status = 'active',
    updated_at = ?, synced = 0, local_rev = local_rev + 1
WHERE id = ? AND status = 'on_break'`
	return r.transition(ctx, userID, at, func(tx store.Querier, a *model.Attendance) error {
		if a.Status != model.AttendanceOnBreak || a.BreakStart == nil {
			return fmt.Errorf("no break in progress: %w", errs.ErrInvalidState)
		}
		ts := store.FormatTime(at)
		return guarded(tx.Execute(ctx, upd, ts, model.BreakMinutes(*a.BreakStart, at), ts, a.ID))
	})
}

// CheckOut completes the running record, ending a running break first.
func (r *AttendanceRepo) CheckOut(ctx context.Context, userID int64, at time.Time) (*model.Attendance, error) {
	const upd = `
UPDATE attendance
SET check_out = ?, break_end = ?, total_break_minutes = total_break_minutes + ?, status = 'completed',
    updated_at = ?, synced = 0, local_rev = local_rev + 1
WHERE id = ? AND status <> 'completed'`
	return r.transition(ctx, userID, at, func(tx store.Querier, a *model.Attendance) error {
		breakEnd, minutes := a.BreakEnd, 0
		if a.Status == model.AttendanceOnBreak && a.BreakStart != nil {
			breakEnd, minutes = &at, model.BreakMinutes(*a.BreakStart, at)
		}
		ts := store.FormatTime(at)
		return guarded(tx.Execute(ctx, upd, ts, store.NullTime(breakEnd), minutes, ts, a.ID))
	})
}

// transition loads the open record, applies step and re-reads it in one transaction.
func (r *AttendanceRepo) transition(
	ctx context.Context, userID int64, at time.Time, step func(tx store.Querier, a *model.Attendance) error,
) (out *model.Attendance, err error) {
	err = r.s.Transaction(ctx, func(tx store.Querier) error {
		a, err := openAttendance(ctx, tx, userID)
		if err != nil {
			if errors.Is(err, errs.ErrNotFound) {
				return fmt.Errorf("not checked in: %w", errs.ErrInvalidState)
			}
			return err
		}
		if err := step(tx, a); err != nil {
			return err
		}
		if err := enqueue(ctx, tx, model.TableAttendance, a.ID, model.OpUpdate, at); err != nil {
			return err
		}
		out, err = getAttendance(ctx, tx, a.ID)
		return err
	})
	return out, err
}

func guarded(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	ok, err := affected(res)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("record changed concurrently: %w", errs.ErrInvalidState)
	}
	return nil
}

// List returns the user's records with from <= date <= to, newest first.
func (r *AttendanceRepo) List(ctx context.Context, userID int64, from, to string) ([]model.Attendance, error) {
	const q = `SELECT ` + attendanceCols + ` FROM attendance
WHERE user_id = ? AND (? = '' OR date >= ?) AND (? = '' OR date <= ?)
ORDER BY date DESC, id DESC`
	rows, err := r.s.Query(ctx, q, userID, from, from, to, to)
	if err != nil {
		return nil, err
	}
	return collectAttendance(rows)
}

// Unsynced returns dirty records due for a push, oldest first.
func (r *AttendanceRepo) Unsynced(ctx context.Context, limit int, now time.Time) ([]model.Attendance, error) {
	q := `SELECT ` + attendanceCols + ` FROM attendance WHERE synced = 0 AND ` +
		fmt.Sprintf(notDue, "attendance") + ` ORDER BY id ASC LIMIT ?`
	rows, err := r.s.Query(ctx, q, string(model.TableAttendance), store.FormatTime(now), limit)
	if err != nil {
		return nil, err
	}
	return collectAttendance(rows)
}

// MarkSynced stores the server id; the row is clean only if not edited since rev.
func (r *AttendanceRepo) MarkSynced(ctx context.Context, id, serverID, rev int64) error {
	const upd = `
UPDATE attendance SET server_id = ?, synced = CASE WHEN local_rev = ? THEN 1 ELSE 0 END WHERE id = ?`
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
		if err := tx.QueryRow(ctx, `SELECT synced FROM attendance WHERE id = ?`, id).Scan(&synced); err != nil {
			return err
		}
		if synced == 1 {
			return dequeue(ctx, tx, model.TableAttendance, id)
		}
		return nil
	})
}

// ApplyRemote updates the local record with the same server id or inserts it.
// A matched record with unpushed changes keeps its own lifecycle fields and
// stays dirty; the next push carries them to the server.
func (r *AttendanceRepo) ApplyRemote(ctx context.Context, ra model.Attendance) (model.MergeOutcome, error) {
	if ra.ServerID == nil {
		return 0, errors.New("remote attendance without id")
	}
	const (
		sel = `SELECT id, synced FROM attendance WHERE server_id = ?`
		upd = `
UPDATE attendance
SET check_in = ?, check_out = ?, break_start = ?, break_end = ?, total_break_minutes = ?,
    status = ?, date = ?, updated_at = ?, synced = 1, local_rev = local_rev + 1
WHERE id = ?`
		ins = `
INSERT INTO attendance (user_id, check_in, check_out, break_start, break_end, total_break_minutes,
  status, date, server_id, synced, local_rev, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1, 0, ?, ?)`
	)
	updated := ra.UpdatedAt
	if updated.IsZero() {
		updated = ra.CheckIn
	}
	created := ra.CreatedAt
	if created.IsZero() {
		created = ra.CheckIn
	}

	var outcome model.MergeOutcome
	err := r.s.Transaction(ctx, func(tx store.Querier) error {
		var localID, synced int64
		err := tx.QueryRow(ctx, sel, *ra.ServerID).Scan(&localID, &synced)
		switch {
		case err == sql.ErrNoRows:
			outcome = model.MergeInserted
			_, err = tx.Execute(ctx, ins, ra.UserID, store.FormatTime(ra.CheckIn), store.NullTime(ra.CheckOut),
				store.NullTime(ra.BreakStart), store.NullTime(ra.BreakEnd), ra.TotalBreakMinutes,
				string(ra.Status), ra.Date, *ra.ServerID, store.FormatTime(created), store.FormatTime(updated))
			if store.IsUniqueViolation(err) {
				return fmt.Errorf("attendance %s: %w", ra.Date, errs.ErrConstraintViolation)
			}
			return err
		case err != nil:
			return err
		}
		if synced == 0 {
			outcome = model.MergeKept
			return nil
		}
		outcome = model.MergeUpdated
		if _, err := tx.Execute(ctx, upd, store.FormatTime(ra.CheckIn), store.NullTime(ra.CheckOut),
			store.NullTime(ra.BreakStart), store.NullTime(ra.BreakEnd), ra.TotalBreakMinutes,
			string(ra.Status), ra.Date, store.FormatTime(updated), localID); err != nil {
			return err
		}
		return dequeue(ctx, tx, model.TableAttendance, localID)
	})
	return outcome, err
}
