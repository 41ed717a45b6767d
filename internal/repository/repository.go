// Package repository defines storage interfaces implemented by concrete backends:
// sqlite for the desktop local store and postgres for the remote store.
package repository

import (
	"context"
	"time"

	"github.com/and161185/caseflow/internal/model"
)

// CaseLocker is the storage half of the book-out rule. Both backends implement
// it so that the same coordinator runs on either side.
type CaseLocker interface {
	// Get loads a case by id.
	Get(ctx context.Context, id int64) (*model.Case, error)
	// BookOut sets the lock pair and status in_progress only if the case is
	// unheld and not terminal, appending history in the same transaction.
	// It reports false, without mutating, when the guard does not hold.
	BookOut(ctx context.Context, id, userID int64, at time.Time) (bool, error)
	// Release clears the lock pair and reopens the case only if it is held by
	// userID, or held by anyone when elevated is set.
	Release(ctx context.Context, id, userID int64, elevated bool, at time.Time) (bool, error)
	// Allocated returns the non-terminal cases assigned to userID,
	// high priority first, oldest first within a tier.
	Allocated(ctx context.Context, userID int64) ([]model.Case, error)
}

// CaseRepository is the desktop case store.
type CaseRepository interface {
	CaseLocker
	// Create inserts an open, unlocked, dirty case and its "Case created" entry.
	Create(ctx context.Context, in model.NewCase, by int64) (*model.Case, error)
	// Update applies the non-nil patch fields and appends "Case updated".
	Update(ctx context.Context, id int64, p model.CasePatch, by int64) (*model.Case, error)
	// Close marks the case closed, clears any lock and appends "Case closed".
	Close(ctx context.Context, id int64, by *int64) (*model.Case, error)
	// Current returns the case the user is working on.
	Current(ctx context.Context, userID int64) (*model.Case, error)
	// History lists the audit trail of a case, oldest first.
	History(ctx context.Context, caseID int64) ([]model.CaseHistory, error)
}

// AttendanceRepository is the desktop attendance store.
type AttendanceRepository interface {
	// CheckIn opens today's record.
	CheckIn(ctx context.Context, userID int64, at time.Time) (*model.Attendance, error)
	// StartBreak moves the open record to on_break.
	StartBreak(ctx context.Context, userID int64, at time.Time) (*model.Attendance, error)
	// EndBreak closes the running break and accumulates its minutes.
	EndBreak(ctx context.Context, userID int64, at time.Time) (*model.Attendance, error)
	// CheckOut completes the open record.
	CheckOut(ctx context.Context, userID int64, at time.Time) (*model.Attendance, error)
	// Open returns the user's non-completed record.
	Open(ctx context.Context, userID int64) (*model.Attendance, error)
	// List returns records with from <= date <= to (YYYY-MM-DD, empty = unbounded).
	List(ctx context.Context, userID int64, from, to string) ([]model.Attendance, error)
}

// UserCache keeps the identities seen at login on the desktop.
type UserCache interface {
	// Upsert stores or refreshes a user.
	Upsert(ctx context.Context, u model.User) error
	// Get loads a cached user.
	Get(ctx context.Context, id int64) (*model.User, error)
}
