package model

import "time"

// Priority orders the work queue: high first.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	return p == PriorityLow || p == PriorityMedium || p == PriorityHigh
}

// Rank returns the queue position of the tier (lower is served first).
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	default:
		return 2
	}
}

// CaseStatus is the lifecycle state of a case.
type CaseStatus string

const (
	StatusOpen       CaseStatus = "open"
	StatusInProgress CaseStatus = "in_progress"
	StatusResolved   CaseStatus = "resolved"
	StatusClosed     CaseStatus = "closed"
)

// Valid reports whether s is a known status.
func (s CaseStatus) Valid() bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusResolved, StatusClosed:
		return true
	}
	return false
}

// Terminal reports whether no further work (and no book-out) is possible.
func (s CaseStatus) Terminal() bool { return s == StatusResolved || s == StatusClosed }

// Case is a shared work item. ServerID, Synced and Rev are local-only.
type Case struct {
	ID            int64
	CaseNumber    string // natural key, unique across stores
	CustomerName  string
	CustomerEmail string
	CustomerPhone string
	CaseType      string
	Priority      Priority
	Status        CaseStatus
	Description   string
	AssignedTo    *int64
	BookedOutAt   *time.Time
	BookedOutBy   *int64
	Resolution    string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	ResolvedAt    *time.Time

	ServerID *int64
	Synced   bool
	Rev      int64 // bumped on each local mutation
}

// NewCase is the input for creating a case.
type NewCase struct {
	CaseNumber    string
	CustomerName  string
	CustomerEmail string
	CustomerPhone string
	CaseType      string
	Priority      Priority
	Description   string
	AssignedTo    *int64
}

// CasePatch lists the fields an update may touch; nil fields are left as is.
// The JSON form is recorded verbatim in the "Case updated" history row.
type CasePatch struct {
	CustomerName  *string     `json:"customer_name,omitempty"`
	CustomerEmail *string     `json:"customer_email,omitempty"`
	CustomerPhone *string     `json:"customer_phone,omitempty"`
	CaseType      *string     `json:"case_type,omitempty"`
	Priority      *Priority   `json:"priority,omitempty"`
	Status        *CaseStatus `json:"status,omitempty"`
	Description   *string     `json:"description,omitempty"`
	AssignedTo    *int64      `json:"assigned_to,omitempty"`
	Resolution    *string     `json:"resolution,omitempty"`
}

// Empty reports whether the patch carries no fields.
func (p CasePatch) Empty() bool {
	return p.CustomerName == nil && p.CustomerEmail == nil && p.CustomerPhone == nil &&
		p.CaseType == nil && p.Priority == nil && p.Status == nil &&
		p.Description == nil && p.AssignedTo == nil && p.Resolution == nil
}

// CaseHistory is an append-only audit entry. UserID is nil for system actions.
type CaseHistory struct {
	ID        int64
	CaseID    int64
	UserID    *int64
	Action    string
	Notes     string
	CreatedAt time.Time

	ServerID *int64
	Synced   bool
}

// History actions.
const (
	ActionCreated   = "Case created"
	ActionUpdated   = "Case updated"
	ActionBookedOut = "Case booked out"
	ActionReleased  = "Case released"
	ActionClosed    = "Case closed"
)

// CaseFilter narrows server-side case listings.
type CaseFilter struct {
	AssignedTo *int64
	Status     CaseStatus
	Priority   Priority
	Search     string
}

// BookOutResult is the outcome of a book-out attempt. Conflict results carry
// either the current holder or the terminal status, never both.
type BookOutResult struct {
	Case     *Case      `json:"case,omitempty"`
	Conflict bool       `json:"conflict"`
	HeldBy   *int64     `json:"held_by,omitempty"`
	Status   CaseStatus `json:"status,omitempty"`
	Hint     string     `json:"hint,omitempty"`
}

// Allocation partitions an agent's active cases by lock state.
type Allocation struct {
	Available []Case `json:"available"`
	BookedOut []Case `json:"booked_out"`
}
