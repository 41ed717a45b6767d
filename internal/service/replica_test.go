package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/and161185/caseflow/internal/errs"
	"github.com/and161185/caseflow/internal/model"
	"github.com/and161185/caseflow/internal/repository"
)

type fakeReplicaCases struct {
	inserted   model.Case
	replacedID int64
	replaced   model.Case
	history    model.CaseHistory
	filter     model.CaseFilter
}

var _ repository.CaseReplicaRepository = (*fakeReplicaCases)(nil)

func (f *fakeReplicaCases) Get(context.Context, int64) (*model.Case, error) { return nil, errs.ErrNotFound }
func (f *fakeReplicaCases) BookOut(context.Context, int64, int64, time.Time) (bool, error) {
	return false, nil
}
func (f *fakeReplicaCases) Release(context.Context, int64, int64, bool, time.Time) (bool, error) {
	return false, nil
}
func (f *fakeReplicaCases) Allocated(context.Context, int64) ([]model.Case, error) { return nil, nil }
func (f *fakeReplicaCases) Insert(_ context.Context, c model.Case) (*model.Case, error) {
	f.inserted = c
	c.ID = 100
	return &c, nil
}
func (f *fakeReplicaCases) Replace(_ context.Context, id int64, c model.Case) (*model.Case, error) {
	f.replacedID, f.replaced = id, c
	c.ID = id
	return &c, nil
}
func (f *fakeReplicaCases) List(_ context.Context, fl model.CaseFilter) ([]model.Case, error) {
	f.filter = fl
	return []model.Case{}, nil
}
func (f *fakeReplicaCases) History(context.Context, int64) ([]model.CaseHistory, error) {
	return nil, nil
}
func (f *fakeReplicaCases) AppendHistory(_ context.Context, h model.CaseHistory) (*model.CaseHistory, error) {
	f.history = h
	h.ID = 55
	return &h, nil
}

type fakeReplicaAttendance struct {
	inserted   model.Attendance
	replacedID int64
	replaced   model.Attendance
	listUser   int64
}

var _ repository.AttendanceReplicaRepository = (*fakeReplicaAttendance)(nil)

func (f *fakeReplicaAttendance) Insert(_ context.Context, a model.Attendance) (*model.Attendance, error) {
	f.inserted = a
	a.ID = 7
	return &a, nil
}
func (f *fakeReplicaAttendance) Replace(_ context.Context, id int64, a model.Attendance) (*model.Attendance, error) {
	f.replacedID, f.replaced = id, a
	return &a, nil
}
func (f *fakeReplicaAttendance) List(_ context.Context, userID int64, _, _ string) ([]model.Attendance, error) {
	f.listUser = userID
	return []model.Attendance{}, nil
}

func newReplica(t *testing.T) (*ReplicaServiceImpl, *fakeReplicaCases, *fakeReplicaAttendance) {
	t.Helper()
	cases, att := &fakeReplicaCases{}, &fakeReplicaAttendance{}
	s := NewReplicaService(cases, att)
	s.now = func() time.Time { return time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC) }
	return s, cases, att
}

func TestReplica_CreateCase_DefaultsAndLockPair(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, cases, _ := newReplica(t)
	agent := model.Actor{UserID: 4, Role: model.RoleAgent}

	_, err := s.CreateCase(ctx, agent, model.Case{CustomerName: "A", CaseType: "x"})
	require.ErrorIs(t, err, errs.ErrValidation)
	_, err = s.CreateCase(ctx, agent, model.Case{CaseNumber: "C-1", CustomerName: "A", CaseType: "x", Status: "done"})
	require.ErrorIs(t, err, errs.ErrValidation)

	holder := int64(4)
	out, err := s.CreateCase(ctx, agent, model.Case{CaseNumber: "C-1", CustomerName: "A", CaseType: "x",
		Status: model.StatusClosed, BookedOutBy: &holder})
	require.NoError(t, err)
	require.EqualValues(t, 100, out.ID)
	require.Nil(t, cases.inserted.BookedOutBy)
	require.Nil(t, cases.inserted.BookedOutAt)
	require.Equal(t, model.PriorityMedium, cases.inserted.Priority)
	require.EqualValues(t, 4, *cases.inserted.AssignedTo)

	_, err = s.CreateCase(ctx, agent, model.Case{CaseNumber: "C-2", CustomerName: "A", CaseType: "x",
		Status: model.StatusInProgress, BookedOutBy: &holder})
	require.NoError(t, err)
	require.EqualValues(t, 4, *cases.inserted.BookedOutBy)
	require.NotNil(t, cases.inserted.BookedOutAt)
}

func TestReplica_UpdateCaseAndHistory(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, cases, _ := newReplica(t)
	me := model.Actor{UserID: 4}

	_, err := s.UpdateCase(ctx, me, 0, model.Case{CaseNumber: "C-1", CustomerName: "A", CaseType: "x"})
	require.ErrorIs(t, err, errs.ErrValidation)

	_, err = s.UpdateCase(ctx, me, 12, model.Case{CaseNumber: "C-1", CustomerName: "A", CaseType: "x", Status: model.StatusOpen})
	require.NoError(t, err)
	require.EqualValues(t, 12, cases.replacedID)

	_, err = s.AppendHistory(ctx, me, 12, model.CaseHistory{})
	require.ErrorIs(t, err, errs.ErrValidation)

	h, err := s.AppendHistory(ctx, me, 12, model.CaseHistory{CaseID: 999, Action: model.ActionClosed})
	require.NoError(t, err)
	require.EqualValues(t, 55, h.ID)
	require.EqualValues(t, 12, cases.history.CaseID)
	require.EqualValues(t, 4, *cases.history.UserID)
	require.False(t, cases.history.CreatedAt.IsZero())

	_, err = s.ListCases(ctx, model.CaseFilter{Status: "done"})
	require.ErrorIs(t, err, errs.ErrValidation)
	_, err = s.ListCases(ctx, model.CaseFilter{Status: model.StatusOpen, Search: "acme"})
	require.NoError(t, err)
	require.Equal(t, "acme", cases.filter.Search)
}

func TestReplica_Attendance(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _, att := newReplica(t)
	me := model.Actor{UserID: 4}

	a, err := s.CheckIn(ctx, me, model.Attendance{UserID: 99})
	require.NoError(t, err)
	require.EqualValues(t, 7, a.ID)
	require.EqualValues(t, 4, att.inserted.UserID)
	require.Equal(t, "2026-03-02", att.inserted.Date)
	require.Equal(t, model.AttendanceActive, att.inserted.Status)

	_, err = s.CheckIn(ctx, me, model.Attendance{Date: "2026/03/02"})
	require.ErrorIs(t, err, errs.ErrValidation)
	_, err = s.CheckIn(ctx, me, model.Attendance{Status: model.AttendanceCompleted})
	require.ErrorIs(t, err, errs.ErrValidation)
	_, err = s.CheckIn(ctx, me, model.Attendance{Status: "away"})
	require.ErrorIs(t, err, errs.ErrValidation)

	out := time.Date(2026, 3, 2, 17, 0, 0, 0, time.UTC)
	_, err = s.UpdateAttendance(ctx, me, 7, model.Attendance{
		CheckIn: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC), CheckOut: &out,
		Status: model.AttendanceCompleted, Date: "2026-03-02", TotalBreakMinutes: 30,
	})
	require.NoError(t, err)
	require.EqualValues(t, 7, att.replacedID)
	require.EqualValues(t, 4, att.replaced.UserID)

	_, err = s.MyAttendance(ctx, me, "2026-03-01", "2026-03-31")
	require.NoError(t, err)
	require.EqualValues(t, 4, att.listUser)
}
