package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// Table names a synchronized entity. The set is closed.
type Table string

const (
	TableCases       Table = "cases"
	TableAttendance  Table = "attendance"
	TableCaseHistory Table = "case_history"
)

// PushOrder is the fixed order tables are pushed in; parents before history.
var PushOrder = []Table{TableCases, TableAttendance, TableCaseHistory}

// Queue operations.
const (
	OpCreate = "create"
	OpUpdate = "update"
)

// QueueEntry is the retry state of one dirty record.
type QueueEntry struct {
	ID            int64
	Table         Table
	RecordID      int64
	Operation     string
	RetryCount    int
	LastError     string
	NextAttemptAt time.Time
	Dead          bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Sync directions and outcomes.
const (
	DirectionPush = "push"
	DirectionPull = "pull"

	SyncSuccess = "success"
	SyncFailed  = "failed"
	SyncPending = "pending"
	SyncNever   = "never"
)

// RecordError describes one record that failed or was skipped during a cycle.
type RecordError struct {
	Table      Table  `json:"table"`
	RecordID   int64  `json:"record_id,omitempty"`
	CaseNumber string `json:"case_number,omitempty"`
	Error      string `json:"error"`
}

// SyncSummary is the result of one push cycle.
type SyncSummary struct {
	RunID     uuid.UUID     `json:"run_id"`
	Synced    int           `json:"synced"`
	Failed    int           `json:"failed"`
	Deferred  int           `json:"deferred"`
	Status    string        `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
	Errors    []RecordError `json:"errors,omitempty"`
}

// ImportSummary is the result of one pull cycle.
type ImportSummary struct {
	RunID              uuid.UUID     `json:"run_id"`
	Imported           int           `json:"imported"`
	Updated            int           `json:"updated"`
	Skipped            int           `json:"skipped"`
	AttendanceImported int           `json:"attendance_imported"`
	AttendanceUpdated  int           `json:"attendance_updated"`
	AttendanceKept     int           `json:"attendance_kept"`
	Status             string        `json:"status"`
	Timestamp          time.Time     `json:"timestamp"`
	SkippedRecords     []RecordError `json:"skipped_records,omitempty"`
}

// MergeOutcome reports how a pulled record was reconciled.
type MergeOutcome int

const (
	MergeInserted MergeOutcome = iota // no local counterpart
	MergeUpdated                      // matched by server_id
	MergeLinked                       // matched by case_number, server_id adopted
	MergeKept                         // matched a dirty local row, local changes kept
)

// SyncRun is a persisted record of a push or pull cycle.
type SyncRun struct {
	ID         uuid.UUID     `json:"id"`
	Direction  string        `json:"direction"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Synced     int           `json:"synced"`
	Failed     int           `json:"failed"`
	Deferred   int           `json:"deferred"`
	Imported   int           `json:"imported"`
	Updated    int           `json:"updated"`
	Skipped    int           `json:"skipped"`
	Status     string        `json:"status"`
	Errors     []RecordError `json:"errors,omitempty"`
}

// SyncStatus is the engine state exposed to the UI.
type SyncStatus struct {
	LastSyncTime *time.Time `json:"last_sync_time"`
	Status       string     `json:"status"`
	IsSyncing    bool       `json:"is_syncing"`
	QueueSize    int        `json:"queue_size"`
	DeadLetters  int        `json:"dead_letters"`
}
