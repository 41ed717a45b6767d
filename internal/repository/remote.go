package repository

import (
	"context"

	"github.com/and161185/caseflow/internal/model"
)

// CaseReplicaRepository is the authoritative server case store.
type CaseReplicaRepository interface {
	CaseLocker
	// Insert stores a pushed case as sent (status and lock pair included).
	Insert(ctx context.Context, c model.Case) (*model.Case, error)
	// Replace overwrites the mutable fields of a case with a pushed version.
	Replace(ctx context.Context, id int64, c model.Case) (*model.Case, error)
	// List returns cases matching f ordered like Allocated.
	List(ctx context.Context, f model.CaseFilter) ([]model.Case, error)
	// History lists the audit trail of a case, newest first.
	History(ctx context.Context, caseID int64) ([]model.CaseHistory, error)
	// AppendHistory stores a pushed history entry.
	AppendHistory(ctx context.Context, h model.CaseHistory) (*model.CaseHistory, error)
}

// AttendanceReplicaRepository is the authoritative server attendance store.
type AttendanceReplicaRepository interface {
	// Insert stores a pushed record; a second open record for the day is a
	// constraint violation.
	Insert(ctx context.Context, a model.Attendance) (*model.Attendance, error)
	// Replace overwrites a record owned by a.UserID.
	Replace(ctx context.Context, id int64, a model.Attendance) (*model.Attendance, error)
	// List returns the user's records with from <= date <= to.
	List(ctx context.Context, userID int64, from, to string) ([]model.Attendance, error)
}

// UserRepository provides server access to accounts.
type UserRepository interface {
	// Create inserts a new user and fills its id.
	Create(ctx context.Context, u *model.User) error
	// GetByID loads a user by ID.
	GetByID(ctx context.Context, id int64) (*model.User, error)
	// GetByUsername loads a user by username.
	GetByUsername(ctx context.Context, username string) (*model.User, error)
}
