// Package convert maps domain models to the JSON wire shapes and back.
package convert

import (
	"github.com/and161185/caseflow/internal/model"
	"github.com/and161185/caseflow/internal/wire"
)

// --- helpers ---

func serverRef(id int64) *int64 {
	if id == 0 {
		return nil
	}
	return &id
}

// --- Case ---

// ToWireCase converts a domain case; ID carries c.ID.
func ToWireCase(c model.Case) wire.Case {
	return wire.Case{
		ID:            c.ID,
		CaseNumber:    c.CaseNumber,
		CustomerName:  c.CustomerName,
		CustomerEmail: c.CustomerEmail,
		CustomerPhone: c.CustomerPhone,
		CaseType:      c.CaseType,
		Priority:      string(c.Priority),
		Status:        string(c.Status),
		Description:   c.Description,
		AssignedTo:    c.AssignedTo,
		BookedOutAt:   c.BookedOutAt,
		BookedOutBy:   c.BookedOutBy,
		Resolution:    c.Resolution,
		CreatedAt:     c.CreatedAt,
		UpdatedAt:     c.UpdatedAt,
		ResolvedAt:    c.ResolvedAt,
	}
}

// ToWireCases converts a slice of cases; the result is never nil.
func ToWireCases(cs []model.Case) []wire.Case {
	out := make([]wire.Case, 0, len(cs))
	for _, c := range cs {
		out = append(out, ToWireCase(c))
	}
	return out
}

// PushCase is the push body of a local case: the record without its local id.
func PushCase(c model.Case) wire.Case {
	w := ToWireCase(c)
	w.ID = 0
	return w
}

// FromWireCase converts a case received from the remote store. The wire id
// becomes both ID and ServerID.
func FromWireCase(w wire.Case) model.Case {
	return model.Case{
		ID:            w.ID,
		CaseNumber:    w.CaseNumber,
		CustomerName:  w.CustomerName,
		CustomerEmail: w.CustomerEmail,
		CustomerPhone: w.CustomerPhone,
		CaseType:      w.CaseType,
		Priority:      model.Priority(w.Priority),
		Status:        model.CaseStatus(w.Status),
		Description:   w.Description,
		AssignedTo:    w.AssignedTo,
		BookedOutAt:   w.BookedOutAt,
		BookedOutBy:   w.BookedOutBy,
		Resolution:    w.Resolution,
		CreatedAt:     w.CreatedAt,
		UpdatedAt:     w.UpdatedAt,
		ResolvedAt:    w.ResolvedAt,
		ServerID:      serverRef(w.ID),
		Synced:        true,
	}
}

// FromWireCases converts pulled cases.
func FromWireCases(ws []wire.Case) []model.Case {
	out := make([]model.Case, 0, len(ws))
	for _, w := range ws {
		out = append(out, FromWireCase(w))
	}
	return out
}

// --- Attendance ---

// ToWireAttendance converts a domain attendance record.
func ToWireAttendance(a model.Attendance) wire.Attendance {
	return wire.Attendance{
		ID:                a.ID,
		UserID:            a.UserID,
		CheckIn:           a.CheckIn,
		CheckOut:          a.CheckOut,
		BreakStart:        a.BreakStart,
		BreakEnd:          a.BreakEnd,
		TotalBreakMinutes: a.TotalBreakMinutes,
		Status:            string(a.Status),
		Date:              a.Date,
		CreatedAt:         a.CreatedAt,
		UpdatedAt:         a.UpdatedAt,
	}
}

// ToWireAttendances converts a slice; the result is never nil.
func ToWireAttendances(as []model.Attendance) []wire.Attendance {
	out := make([]wire.Attendance, 0, len(as))
	for _, a := range as {
		out = append(out, ToWireAttendance(a))
	}
	return out
}

// PushAttendance is the push body of a local record.
func PushAttendance(a model.Attendance) wire.Attendance {
	w := ToWireAttendance(a)
	w.ID = 0
	return w
}

// FromWireAttendance converts a record received from the remote store.
func FromWireAttendance(w wire.Attendance) model.Attendance {
	return model.Attendance{
		ID:                w.ID,
		UserID:            w.UserID,
		CheckIn:           w.CheckIn,
		CheckOut:          w.CheckOut,
		BreakStart:        w.BreakStart,
		BreakEnd:          w.BreakEnd,
		TotalBreakMinutes: w.TotalBreakMinutes,
		Status:            model.AttendanceStatus(w.Status),
		Date:              w.Date,
		CreatedAt:         w.CreatedAt,
		UpdatedAt:         w.UpdatedAt,
		ServerID:          serverRef(w.ID),
		Synced:            true,
	}
}

// FromWireAttendances converts pulled records.
func FromWireAttendances(ws []wire.Attendance) []model.Attendance {
	out := make([]model.Attendance, 0, len(ws))
	for _, w := range ws {
		out = append(out, FromWireAttendance(w))
	}
	return out
}

// --- History ---

// ToWireHistory converts a history entry; caseID is the id the receiver knows
// the parent case by.
func ToWireHistory(h model.CaseHistory, caseID int64) wire.History {
	return wire.History{
		ID:        h.ID,
		CaseID:    caseID,
		UserID:    h.UserID,
		Action:    h.Action,
		Notes:     h.Notes,
		CreatedAt: h.CreatedAt,
	}
}

// ToWireHistories converts entries of one case.
func ToWireHistories(hs []model.CaseHistory) []wire.History {
	out := make([]wire.History, 0, len(hs))
	for _, h := range hs {
		out = append(out, ToWireHistory(h, h.CaseID))
	}
	return out
}

// FromWireHistory converts an entry received over the wire.
func FromWireHistory(w wire.History) model.CaseHistory {
	return model.CaseHistory{
		ID:        w.ID,
		CaseID:    w.CaseID,
		UserID:    w.UserID,
		Action:    w.Action,
		Notes:     w.Notes,
		CreatedAt: w.CreatedAt,
		ServerID:  serverRef(w.ID),
	}
}

// --- Users / lock results ---

// ToWireUser strips the credential hash.
func ToWireUser(u model.User) wire.User {
	return wire.User{ID: u.ID, Username: u.Username, Email: u.Email, Role: string(u.Role), Team: u.Team}
}

// FromWireUser converts a user returned at login into a cache entry.
func FromWireUser(w wire.User) model.User {
	return model.User{
		ID:       w.ID,
		Username: w.Username,
		Email:    w.Email,
		Role:     model.Role(w.Role),
		Team:     w.Team,
		ServerID: serverRef(w.ID),
		Synced:   true,
	}
}

// ToWireBookOut converts a book-out result.
func ToWireBookOut(r model.BookOutResult) wire.BookOutResponse {
	out := wire.BookOutResponse{
		Conflict: r.Conflict,
		HeldBy:   r.HeldBy,
		Status:   string(r.Status),
		Hint:     r.Hint,
	}
	if r.Case != nil {
		c := ToWireCase(*r.Case)
		out.Case = &c
	}
	return out
}

// FromWireBookOut converts a remote book-out response.
func FromWireBookOut(w wire.BookOutResponse) model.BookOutResult {
	out := model.BookOutResult{
		Conflict: w.Conflict,
		HeldBy:   w.HeldBy,
		Status:   model.CaseStatus(w.Status),
		Hint:     w.Hint,
	}
	if w.Case != nil {
		c := FromWireCase(*w.Case)
		out.Case = &c
	}
	return out
}

// ToWireAllocation converts an allocation; both lists are never nil.
func ToWireAllocation(a model.Allocation) wire.Allocation {
	return wire.Allocation{Available: ToWireCases(a.Available), BookedOut: ToWireCases(a.BookedOut)}
}

// --- Desktop IPC ---

// FromWireNewCase converts an IPC create body.
func FromWireNewCase(w wire.NewCase) model.NewCase {
	return model.NewCase{
		CaseNumber:    w.CaseNumber,
		CustomerName:  w.CustomerName,
		CustomerEmail: w.CustomerEmail,
		CustomerPhone: w.CustomerPhone,
		CaseType:      w.CaseType,
		Priority:      model.Priority(w.Priority),
		Description:   w.Description,
		AssignedTo:    w.AssignedTo,
	}
}

// ToLocalCase keeps the local sync columns next to the record.
func ToLocalCase(c model.Case) wire.LocalCase {
	return wire.LocalCase{Case: ToWireCase(c), ServerID: c.ServerID, Synced: c.Synced}
}

// ToLocalCases converts a slice; the result is never nil.
func ToLocalCases(cs []model.Case) []wire.LocalCase {
	out := make([]wire.LocalCase, 0, len(cs))
	for _, c := range cs {
		out = append(out, ToLocalCase(c))
	}
	return out
}

// ToLocalAllocation converts a local allocation.
func ToLocalAllocation(a model.Allocation) wire.LocalAllocation {
	return wire.LocalAllocation{Available: ToLocalCases(a.Available), BookedOut: ToLocalCases(a.BookedOut)}
}

// ToLocalBookOut converts a local book-out result.
func ToLocalBookOut(r model.BookOutResult) wire.LocalBookOut {
	out := wire.LocalBookOut{Conflict: r.Conflict, HeldBy: r.HeldBy, Status: string(r.Status), Hint: r.Hint}
	if r.Case != nil {
		c := ToLocalCase(*r.Case)
		out.Case = &c
	}
	return out
}
