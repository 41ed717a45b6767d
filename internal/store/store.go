// Package store provides the embedded local datastore used by the desktop agent.
//
// Repositories talk to the store through Store, a small interface with query,
// execute and transaction primitives. The backend is chosen once at startup.
package store

import (
	"context"
	"database/sql"
	"time"
)

// Querier executes statements either directly or inside a transaction.
type Querier interface {
	// Query executes a SELECT and returns a rows iterator.
	Query(ctx context.Context, q string, args ...any) (*sql.Rows, error)
	// QueryRow executes a query expected to return at most one row.
	QueryRow(ctx context.Context, q string, args ...any) *sql.Row
	// Execute runs a statement that does not return rows.
	Execute(ctx context.Context, q string, args ...any) (sql.Result, error)
}

// Store is the embedded-store abstraction.
type Store interface {
	Querier
	// Transaction runs fn in a write transaction. fn's error rolls it back.
	Transaction(ctx context.Context, fn func(tx Querier) error) error
	// Close releases the underlying handle.
	Close() error
}

// TimeLayout is the fixed-width UTC layout timestamps are stored in, so that
// string comparison matches time order.
const TimeLayout = "2006-01-02 15:04:05.000000"

// FormatTime renders t for storage.
func FormatTime(t time.Time) string { return t.UTC().Format(TimeLayout) }

// ParseTime parses a stored timestamp.
func ParseTime(s string) (time.Time, error) {
	return time.ParseInLocation(TimeLayout, s, time.UTC)
}

// NullTime renders an optional time as a nullable column value.
func NullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: FormatTime(*t), Valid: true}
}

// TimePtr parses a nullable column value.
func TimePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := ParseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// NullInt renders an optional id.
func NullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

// IntPtr parses a nullable id.
func IntPtr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}
