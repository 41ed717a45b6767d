package repository

import (
	"context"
	"time"

	"github.com/and161185/caseflow/internal/model"
)

// CaseSync is the sync-facing side of the desktop case store.
type CaseSync interface {
	// Unsynced returns up to limit dirty cases oldest-first, skipping records
	// whose queue entry is dead or not due at now.
	Unsynced(ctx context.Context, limit int, now time.Time) ([]model.Case, error)
	// MarkSynced records serverID; the row turns clean only if its rev is unchanged.
	MarkSynced(ctx context.Context, id, serverID, rev int64) error
	// ApplyRemote reconciles a pulled case by server_id, then case_number.
	ApplyRemote(ctx context.Context, remote model.Case) (model.MergeOutcome, error)
}

// AttendanceSync is the sync-facing side of the desktop attendance store.
type AttendanceSync interface {
	Unsynced(ctx context.Context, limit int, now time.Time) ([]model.Attendance, error)
	MarkSynced(ctx context.Context, id, serverID, rev int64) error
	ApplyRemote(ctx context.Context, remote model.Attendance) (model.MergeOutcome, error)
}

// HistorySync is the sync-facing side of the append-only history log.
type HistorySync interface {
	// Unsynced returns dirty entries with the parent case's server id (nil if
	// the parent has not been pushed yet).
	Unsynced(ctx context.Context, limit int, now time.Time) ([]PendingHistory, error)
	MarkSynced(ctx context.Context, id, serverID int64) error
}

// PendingHistory is a dirty history entry plus its parent's remote identity.
type PendingHistory struct {
	Entry        model.CaseHistory
	CaseServerID *int64
}

// Schedule maps the attempt number of a failure to the earliest next attempt
// and whether the record should stop being retried.
type Schedule func(attempt int, now time.Time) (next time.Time, dead bool)

// QueueRepository tracks retry state for dirty records.
type QueueRepository interface {
	// Fail records a failed push and schedules the next attempt.
	Fail(ctx context.Context, table model.Table, recordID int64, reason string, schedule Schedule) (model.QueueEntry, error)
	// Pending counts dirty records across all tables and dead letters among them.
	Pending(ctx context.Context) (pending, dead int, err error)
	// List returns queue entries, most recently touched first.
	List(ctx context.Context, limit int) ([]model.QueueEntry, error)
}

// RunRepository persists sync cycle history.
type RunRepository interface {
	Save(ctx context.Context, r model.SyncRun) error
	Recent(ctx context.Context, limit int) ([]model.SyncRun, error)
	// Last returns the latest run of direction, or errs.ErrNotFound.
	Last(ctx context.Context, direction string) (*model.SyncRun, error)
}
