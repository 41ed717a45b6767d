package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/and161185/caseflow/internal/errs"
	"github.com/and161185/caseflow/internal/model"
	"github.com/and161185/caseflow/internal/repository"
)

// AttendanceService defines the desktop attendance lifecycle. All transitions
// are stamped with the service clock.
type AttendanceService interface {
	CheckIn(ctx context.Context, userID int64) (*model.Attendance, error)
	StartBreak(ctx context.Context, userID int64) (*model.Attendance, error)
	EndBreak(ctx context.Context, userID int64) (*model.Attendance, error)
	CheckOut(ctx context.Context, userID int64) (*model.Attendance, error)
	// Today returns the open record, or nil when the user is not checked in.
	Today(ctx context.Context, userID int64) (*model.Attendance, error)
	// List returns records in [from, to]; both bounds are optional YYYY-MM-DD.
	List(ctx context.Context, userID int64, from, to string) ([]model.Attendance, error)
}

type AttendanceServiceImpl struct {
	repo repository.AttendanceRepository
	now  func() time.Time
}

var _ AttendanceService = (*AttendanceServiceImpl)(nil)

// NewAttendanceService constructs AttendanceService over the local store.
func NewAttendanceService(repo repository.AttendanceRepository) *AttendanceServiceImpl {
	return &AttendanceServiceImpl{repo: repo, now: time.Now}
}

func (s *AttendanceServiceImpl) CheckIn(ctx context.Context, userID int64) (*model.Attendance, error) {
	if err := checkUser(userID); err != nil {
		return nil, err
	}
	return s.repo.CheckIn(ctx, userID, s.now())
}

func (s *AttendanceServiceImpl) StartBreak(ctx context.Context, userID int64) (*model.Attendance, error) {
	if err := checkUser(userID); err != nil {
		return nil, err
	}
	return s.repo.StartBreak(ctx, userID, s.now())
}

func (s *AttendanceServiceImpl) EndBreak(ctx context.Context, userID int64) (*model.Attendance, error) {
	if err := checkUser(userID); err != nil {
		return nil, err
	}
	return s.repo.EndBreak(ctx, userID, s.now())
}

func (s *AttendanceServiceImpl) CheckOut(ctx context.Context, userID int64) (*model.Attendance, error) {
	if err := checkUser(userID); err != nil {
		return nil, err
	}
	return s.repo.CheckOut(ctx, userID, s.now())
}

func (s *AttendanceServiceImpl) Today(ctx context.Context, userID int64) (*model.Attendance, error) {
	if err := checkUser(userID); err != nil {
		return nil, err
	}
	a, err := s.repo.Open(ctx, userID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return a, nil
}

func (s *AttendanceServiceImpl) List(ctx context.Context, userID int64, from, to string) ([]model.Attendance, error) {
	if err := checkUser(userID); err != nil {
		return nil, err
	}
	if err := validDateRange(from, to); err != nil {
		return nil, err
	}
	return s.repo.List(ctx, userID, from, to)
}

func checkUser(userID int64) error {
	if userID <= 0 {
		return fmt.Errorf("empty user: %w", errs.ErrUnauthenticated)
	}
	return nil
}

// validDateRange checks optional YYYY-MM-DD bounds and their order.
func validDateRange(from, to string) error {
	var f, t time.Time
	var err error
	if from != "" {
		if f, err = time.Parse(model.DateLayout, from); err != nil {
			return fmt.Errorf("bad from date %q: %w", from, errs.ErrValidation)
		}
	}
	if to != "" {
		if t, err = time.Parse(model.DateLayout, to); err != nil {
			return fmt.Errorf("bad to date %q: %w", to, errs.ErrValidation)
		}
	}
	if from != "" && to != "" && t.Before(f) {
		return fmt.Errorf("date range %s..%s is reversed: %w", from, to, errs.ErrValidation)
	}
	return nil
}
