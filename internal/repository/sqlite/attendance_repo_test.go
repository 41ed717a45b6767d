package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/and161185/caseflow/internal/errs"
	"github.com/and161185/caseflow/internal/model"
)

func TestAttendanceRepo_BreakScenario(t *testing.T) {
	r := NewAttendanceRepo(newStore(t), time.UTC)
	ctx := context.Background()
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	a, err := r.CheckIn(ctx, 1, day.Add(9*time.Hour))
	require.NoError(t, err)
	require.Equal(t, model.AttendanceActive, a.Status)
	require.Equal(t, "2026-03-02", a.Date)

	a, err = r.StartBreak(ctx, 1, day.Add(12*time.Hour))
	require.NoError(t, err)
	require.Equal(t, model.AttendanceOnBreak, a.Status)

	_, err = r.StartBreak(ctx, 1, day.Add(12*time.Hour+time.Minute))
	require.ErrorIs(t, err, errs.ErrInvalidState)

	a, err = r.EndBreak(ctx, 1, day.Add(12*time.Hour+15*time.Minute+30*time.Second))
	require.NoError(t, err)
	require.Equal(t, model.AttendanceActive, a.Status)
	require.Equal(t, 15, a.TotalBreakMinutes)

	a, err = r.CheckOut(ctx, 1, day.Add(17*time.Hour))
	require.NoError(t, err)
	require.Equal(t, model.AttendanceCompleted, a.Status)
	require.NotNil(t, a.CheckOut)
	require.Equal(t, 15, a.TotalBreakMinutes)
	require.False(t, a.Synced)

	_, err = r.Open(ctx, 1)
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestAttendanceRepo_CheckOutEndsRunningBreak(t *testing.T) {
	r := NewAttendanceRepo(newStore(t), time.UTC)
	ctx := context.Background()

	_, err := r.CheckIn(ctx, 1, t0)
	require.NoError(t, err)
	_, err = r.StartBreak(ctx, 1, t0.Add(time.Hour))
	require.NoError(t, err)

	a, err := r.CheckOut(ctx, 1, t0.Add(time.Hour+20*time.Minute))
	require.NoError(t, err)
	require.Equal(t, 20, a.TotalBreakMinutes)
	require.NotNil(t, a.BreakEnd)
}

func TestAttendanceRepo_InvalidTransitions(t *testing.T) {
	r := NewAttendanceRepo(newStore(t), time.UTC)
	ctx := context.Background()

	_, err := r.StartBreak(ctx, 1, t0)
	require.ErrorIs(t, err, errs.ErrInvalidState)
	_, err = r.CheckOut(ctx, 1, t0)
	require.ErrorIs(t, err, errs.ErrInvalidState)

	_, err = r.CheckIn(ctx, 1, t0)
	require.NoError(t, err)
	_, err = r.CheckIn(ctx, 1, t0.Add(time.Minute))
	require.ErrorIs(t, err, errs.ErrInvalidState)
	_, err = r.EndBreak(ctx, 1, t0)
	require.ErrorIs(t, err, errs.ErrInvalidState)

	// Another user is unaffected.
	_, err = r.CheckIn(ctx, 2, t0)
	require.NoError(t, err)
}

func TestAttendanceRepo_ListRange(t *testing.T) {
	r := NewAttendanceRepo(newStore(t), time.UTC)
	ctx := context.Background()

	for d := 0; d < 3; d++ {
		at := t0.AddDate(0, 0, d)
		_, err := r.CheckIn(ctx, 1, at)
		require.NoError(t, err)
		_, err = r.CheckOut(ctx, 1, at.Add(8*time.Hour))
		require.NoError(t, err)
	}

	all, err := r.List(ctx, 1, "", "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "2026-03-04", all[0].Date)

	some, err := r.List(ctx, 1, "2026-03-03", "2026-03-03")
	require.NoError(t, err)
	require.Len(t, some, 1)
}

func TestAttendanceRepo_SyncRoundTrip(t *testing.T) {
	s := newStore(t)
	r := NewAttendanceRepo(s, time.UTC)
	ctx := context.Background()

	a, err := r.CheckIn(ctx, 1, t0)
	require.NoError(t, err)

	dirty, err := r.Unsynced(ctx, 50, t0)
	require.NoError(t, err)
	require.Len(t, dirty, 1)

	require.NoError(t, r.MarkSynced(ctx, a.ID, 900, dirty[0].Rev))
	require.Zero(t, queueLen(t, s, model.TableAttendance))

	remote := *a
	remote.ServerID = ptr(int64(900))
	remote.Status = model.AttendanceCompleted
	remote.CheckOut = ptr(t0.Add(8 * time.Hour))
	out, err := r.ApplyRemote(ctx, remote)
	require.NoError(t, err)
	require.Equal(t, model.MergeUpdated, out)

	remote.ServerID = ptr(int64(901))
	remote.Date = "2026-03-01"
	out, err = r.ApplyRemote(ctx, remote)
	require.NoError(t, err)
	require.Equal(t, model.MergeInserted, out)

	all, err := r.List(ctx, 1, "", "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	for _, x := range all {
		require.True(t, x.Synced)
		require.Equal(t, model.AttendanceCompleted, x.Status)
	}
}

func TestAttendanceRepo_ApplyRemoteKeepsDirtyRow(t *testing.T) {
	s := newStore(t)
	r := NewAttendanceRepo(s, time.UTC)
	ctx := context.Background()

	a, err := r.CheckIn(ctx, 1, t0)
	require.NoError(t, err)
	dirty, err := r.Unsynced(ctx, 50, t0)
	require.NoError(t, err)
	require.NoError(t, r.MarkSynced(ctx, a.ID, 77, dirty[0].Rev))

	_, err = r.StartBreak(ctx, 1, t0.Add(time.Hour))
	require.NoError(t, err)
	local, err := r.EndBreak(ctx, 1, t0.Add(time.Hour+15*time.Minute))
	require.NoError(t, err)
	require.Equal(t, 15, local.TotalBreakMinutes)
	require.False(t, local.Synced)

	stale := *a
	stale.ServerID = ptr(int64(77))
	stale.TotalBreakMinutes = 0
	out, err := r.ApplyRemote(ctx, stale)
	require.NoError(t, err)
	require.Equal(t, model.MergeKept, out)

	got, err := r.Open(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 15, got.TotalBreakMinutes)
	require.Equal(t, model.AttendanceActive, got.Status)
	require.False(t, got.Synced)
	require.Equal(t, 1, queueLen(t, s, model.TableAttendance))

	dirty, err = r.Unsynced(ctx, 50, t0.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, dirty, 1)
	require.Equal(t, 15, dirty[0].TotalBreakMinutes)
}
