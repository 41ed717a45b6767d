package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/and161185/caseflow/internal/errs"
	"github.com/and161185/caseflow/internal/model"
	"github.com/and161185/caseflow/internal/repository"
)

// ReplicaService defines the server side of the sync contract: records pushed
// by desktop agents and the listings they pull.
type ReplicaService interface {
	CreateCase(ctx context.Context, actor model.Actor, c model.Case) (*model.Case, error)
	UpdateCase(ctx context.Context, actor model.Actor, id int64, c model.Case) (*model.Case, error)
	GetCase(ctx context.Context, id int64) (*model.Case, error)
	ListCases(ctx context.Context, f model.CaseFilter) ([]model.Case, error)
	History(ctx context.Context, caseID int64) ([]model.CaseHistory, error)
	AppendHistory(ctx context.Context, actor model.Actor, caseID int64, h model.CaseHistory) (*model.CaseHistory, error)

	CheckIn(ctx context.Context, actor model.Actor, a model.Attendance) (*model.Attendance, error)
	UpdateAttendance(ctx context.Context, actor model.Actor, id int64, a model.Attendance) (*model.Attendance, error)
	MyAttendance(ctx context.Context, actor model.Actor, from, to string) ([]model.Attendance, error)
}

type ReplicaServiceImpl struct {
	cases      repository.CaseReplicaRepository
	attendance repository.AttendanceReplicaRepository
	now        func() time.Time
}

var _ ReplicaService = (*ReplicaServiceImpl)(nil)

// NewReplicaService constructs ReplicaService over the server repositories.
func NewReplicaService(cases repository.CaseReplicaRepository, attendance repository.AttendanceReplicaRepository) *ReplicaServiceImpl {
	return &ReplicaServiceImpl{cases: cases, attendance: attendance, now: time.Now}
}

// normalizeCase validates a pushed case and fills defaults. The lock pair is
// kept only on an in_progress case.
func (s *ReplicaServiceImpl) normalizeCase(actor model.Actor, c *model.Case) error {
	c.CaseNumber = strings.TrimSpace(c.CaseNumber)
	if c.CaseNumber == "" || strings.TrimSpace(c.CustomerName) == "" || strings.TrimSpace(c.CaseType) == "" {
		return fmt.Errorf("missing required fields: %w", errs.ErrValidation)
	}
	if c.Priority == "" {
		c.Priority = model.PriorityMedium
	}
	if !c.Priority.Valid() {
		return fmt.Errorf("unknown priority %q: %w", c.Priority, errs.ErrValidation)
	}
	if c.Status == "" {
		c.Status = model.StatusOpen
	}
	if !c.Status.Valid() {
		return fmt.Errorf("unknown status %q: %w", c.Status, errs.ErrValidation)
	}
	if c.AssignedTo == nil {
		uid := actor.UserID
		c.AssignedTo = &uid
	}
	if c.Status != model.StatusInProgress || c.BookedOutBy == nil {
		c.BookedOutBy, c.BookedOutAt = nil, nil
	}
	if c.BookedOutBy != nil && c.BookedOutAt == nil {
		at := s.now()
		c.BookedOutAt = &at
	}
	return nil
}

func (s *ReplicaServiceImpl) CreateCase(ctx context.Context, actor model.Actor, c model.Case) (*model.Case, error) {
	if err := s.normalizeCase(actor, &c); err != nil {
		return nil, err
	}
	return s.cases.Insert(ctx, c)
}

func (s *ReplicaServiceImpl) UpdateCase(ctx context.Context, actor model.Actor, id int64, c model.Case) (*model.Case, error) {
	if id <= 0 {
		return nil, fmt.Errorf("bad case id %d: %w", id, errs.ErrValidation)
	}
	if err := s.normalizeCase(actor, &c); err != nil {
		return nil, err
	}
	return s.cases.Replace(ctx, id, c)
}

func (s *ReplicaServiceImpl) GetCase(ctx context.Context, id int64) (*model.Case, error) {
	return s.cases.Get(ctx, id)
}

func (s *ReplicaServiceImpl) ListCases(ctx context.Context, f model.CaseFilter) ([]model.Case, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, fmt.Errorf("unknown status %q: %w", f.Status, errs.ErrValidation)
	}
	if f.Priority != "" && !f.Priority.Valid() {
		return nil, fmt.Errorf("unknown priority %q: %w", f.Priority, errs.ErrValidation)
	}
	return s.cases.List(ctx, f)
}

func (s *ReplicaServiceImpl) History(ctx context.Context, caseID int64) ([]model.CaseHistory, error) {
	return s.cases.History(ctx, caseID)
}

// AppendHistory stores a pushed entry under caseID. A missing author means the
// entry was written by the pushing user.
func (s *ReplicaServiceImpl) AppendHistory(ctx context.Context, actor model.Actor, caseID int64, h model.CaseHistory) (*model.CaseHistory, error) {
	if caseID <= 0 {
		return nil, fmt.Errorf("bad case id %d: %w", caseID, errs.ErrValidation)
	}
	if strings.TrimSpace(h.Action) == "" {
		return nil, fmt.Errorf("empty action: %w", errs.ErrValidation)
	}
	h.CaseID = caseID
	if h.UserID == nil {
		uid := actor.UserID
		h.UserID = &uid
	}
	if h.CreatedAt.IsZero() {
		h.CreatedAt = s.now()
	}
	return s.cases.AppendHistory(ctx, h)
}

// normalizeAttendance pins the record to the caller and checks its lifecycle fields.
func (s *ReplicaServiceImpl) normalizeAttendance(actor model.Actor, a *model.Attendance) error {
	a.UserID = actor.UserID
	if a.CheckIn.IsZero() {
		a.CheckIn = s.now()
	}
	if a.Date == "" {
		a.Date = a.CheckIn.Format(model.DateLayout)
	}
	if _, err := time.Parse(model.DateLayout, a.Date); err != nil {
		return fmt.Errorf("bad date %q: %w", a.Date, errs.ErrValidation)
	}
	if a.Status == "" {
		a.Status = model.AttendanceActive
	}
	switch a.Status {
	case model.AttendanceActive, model.AttendanceOnBreak, model.AttendanceCompleted:
	default:
		return fmt.Errorf("unknown attendance status %q: %w", a.Status, errs.ErrValidation)
	}
	if a.Status == model.AttendanceCompleted && a.CheckOut == nil {
		return fmt.Errorf("completed record without check_out: %w", errs.ErrValidation)
	}
	if a.TotalBreakMinutes < 0 {
		return fmt.Errorf("negative break minutes: %w", errs.ErrValidation)
	}
	return nil
}

func (s *ReplicaServiceImpl) CheckIn(ctx context.Context, actor model.Actor, a model.Attendance) (*model.Attendance, error) {
	if err := s.normalizeAttendance(actor, &a); err != nil {
		return nil, err
	}
	return s.attendance.Insert(ctx, a)
}

func (s *ReplicaServiceImpl) UpdateAttendance(ctx context.Context, actor model.Actor, id int64, a model.Attendance) (*model.Attendance, error) {
	if id <= 0 {
		return nil, fmt.Errorf("bad attendance id %d: %w", id, errs.ErrValidation)
	}
	if err := s.normalizeAttendance(actor, &a); err != nil {
		return nil, err
	}
	return s.attendance.Replace(ctx, id, a)
}

func (s *ReplicaServiceImpl) MyAttendance(ctx context.Context, actor model.Actor, from, to string) ([]model.Attendance, error) {
	if err := validDateRange(from, to); err != nil {
		return nil, err
	}
	return s.attendance.List(ctx, actor.UserID, from, to)
}
