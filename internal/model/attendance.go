package model

import "time"

// AttendanceStatus tracks a work day.
type AttendanceStatus string

const (
	AttendanceActive    AttendanceStatus = "active"
	AttendanceOnBreak   AttendanceStatus = "on_break"
	AttendanceCompleted AttendanceStatus = "completed"
)

// DateLayout is the calendar-day format of Attendance.Date.
const DateLayout = "2006-01-02"

// Attendance is one check-in/check-out span for a user and day.
type Attendance struct {
	ID                int64
	UserID            int64
	CheckIn           time.Time
	CheckOut          *time.Time
	BreakStart        *time.Time
	BreakEnd          *time.Time
	TotalBreakMinutes int // only grows
	Status            AttendanceStatus
	Date              string
	CreatedAt         time.Time
	UpdatedAt         time.Time

	ServerID *int64
	Synced   bool
	Rev      int64
}

// BreakMinutes returns the whole minutes between start and end.
func BreakMinutes(start, end time.Time) int {
	if end.Before(start) {
		return 0
	}
	return int(end.Sub(start) / time.Minute)
}
