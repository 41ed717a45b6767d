// Package wire defines the JSON bodies of the remote REST contract and the
// desktop IPC surface.
package wire

import "time"

// Case is a case as sent to and returned by the remote store. ID is the
// server id and is omitted on push.
type Case struct {
	ID            int64      `json:"id,omitempty"`
	CaseNumber    string     `json:"case_number"`
	CustomerName  string     `json:"customer_name"`
	CustomerEmail string     `json:"customer_email,omitempty"`
	CustomerPhone string     `json:"customer_phone,omitempty"`
	CaseType      string     `json:"case_type"`
	Priority      string     `json:"priority"`
	Status        string     `json:"status"`
	Description   string     `json:"description,omitempty"`
	AssignedTo    *int64     `json:"assigned_to"`
	BookedOutAt   *time.Time `json:"booked_out_at"`
	BookedOutBy   *int64     `json:"booked_out_by"`
	Resolution    string     `json:"resolution,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	ResolvedAt    *time.Time `json:"resolved_at"`
}

// Attendance is an attendance record on the wire.
type Attendance struct {
	ID                int64      `json:"id,omitempty"`
	UserID            int64      `json:"user_id,omitempty"`
	CheckIn           time.Time  `json:"check_in"`
	CheckOut          *time.Time `json:"check_out"`
	BreakStart        *time.Time `json:"break_start"`
	BreakEnd          *time.Time `json:"break_end"`
	TotalBreakMinutes int        `json:"total_break_minutes"`
	Status            string     `json:"status"`
	Date              string     `json:"date"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// History is a case history entry. CaseID is the server case id.
type History struct {
	ID        int64     `json:"id,omitempty"`
	CaseID    int64     `json:"case_id,omitempty"`
	UserID    *int64    `json:"user_id"`
	Action    string    `json:"action"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Created is the part of a create response the client needs. Some servers
// wrap the attendance record, so both shapes are accepted.
type Created struct {
	ID         int64 `json:"id"`
	Attendance *struct {
		ID int64 `json:"id"`
	} `json:"attendance,omitempty"`
}

// ServerID returns the id of the created record.
func (c Created) ServerID() int64 {
	if c.ID == 0 && c.Attendance != nil {
		return c.Attendance.ID
	}
	return c.ID
}

// User is the public part of an account.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	Team     string `json:"team,omitempty"`
}

// RegisterRequest creates an account.
type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role,omitempty"`
	Team     string `json:"team,omitempty"`
}

// LoginRequest carries credentials.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse carries the issued token.
type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      User      `json:"user"`
}

// BookOutResponse is the result of a book-out; on conflict it carries either
// the holder or the terminal status.
type BookOutResponse struct {
	Case     *Case  `json:"case,omitempty"`
	Conflict bool   `json:"conflict"`
	HeldBy   *int64 `json:"held_by,omitempty"`
	Status   string `json:"status,omitempty"`
	Hint     string `json:"hint,omitempty"`
}

// ErrorBody is the error shape of every non-2xx response.
type ErrorBody struct {
	Error string `json:"error"`
}

// Health is the /health response.
type Health struct {
	Status string `json:"status"`
}

// Allocation is an agent's active cases split by lock state.
type Allocation struct {
	Available []Case `json:"available"`
	BookedOut []Case `json:"booked_out"`
}

// NewCase is the IPC body that creates a local case.
type NewCase struct {
	CaseNumber    string `json:"case_number"`
	CustomerName  string `json:"customer_name"`
	CustomerEmail string `json:"customer_email,omitempty"`
	CustomerPhone string `json:"customer_phone,omitempty"`
	CaseType      string `json:"case_type"`
	Priority      string `json:"priority,omitempty"`
	Description   string `json:"description,omitempty"`
	AssignedTo    *int64 `json:"assigned_to,omitempty"`
}

// LocalCase is a case as the desktop sees it: ID is the local id.
type LocalCase struct {
	Case
	ServerID *int64 `json:"server_id"`
	Synced   bool   `json:"synced"`
}

// LocalAllocation is Allocation over local cases.
type LocalAllocation struct {
	Available []LocalCase `json:"available"`
	BookedOut []LocalCase `json:"booked_out"`
}

// LocalBookOut is a book-out result over a local case.
type LocalBookOut struct {
	Case     *LocalCase `json:"case,omitempty"`
	Conflict bool       `json:"conflict"`
	HeldBy   *int64     `json:"held_by,omitempty"`
	Status   string     `json:"status,omitempty"`
	Hint     string     `json:"hint,omitempty"`
}
