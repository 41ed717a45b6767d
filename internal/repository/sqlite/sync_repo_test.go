package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"

	"github.com/and161185/caseflow/internal/errs"
	"github.com/and161185/caseflow/internal/model"
)

func TestHistoryRepo_ParentServerID(t *testing.T) {
	cases, s := newCaseRepo(t)
	h := NewHistoryRepo(s)
	ctx := context.Background()
	c := mustCreate(t, cases, "C-1", model.PriorityLow, 1)

	pending, err := h.Unsynced(ctx, 50, t0.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Nil(t, pending[0].CaseServerID)
	require.Equal(t, model.ActionCreated, pending[0].Entry.Action)

	require.NoError(t, cases.MarkSynced(ctx, c.ID, 10, c.Rev))
	pending, err = h.Unsynced(ctx, 50, t0.Add(time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 10, *pending[0].CaseServerID)

	require.NoError(t, h.MarkSynced(ctx, pending[0].Entry.ID, 20))
	pending, err = h.Unsynced(ctx, 50, t0.Add(time.Hour))
	require.NoError(t, err)
	require.Empty(t, pending)
	require.Zero(t, queueLen(t, s, model.TableCaseHistory))

	require.ErrorIs(t, h.MarkSynced(ctx, 999, 1), errs.ErrNotFound)
}

func TestQueueRepo_FailCountsRetries(t *testing.T) {
	cases, s := newCaseRepo(t)
	q := NewQueueRepo(s)
	ctx := context.Background()
	c := mustCreate(t, cases, "C-1", model.PriorityLow, 1)

	var attempts []int
	sched := func(n int, now time.Time) (time.Time, bool) {
		attempts = append(attempts, n)
		return now.Add(time.Minute), n >= 3
	}
	for i := 0; i < 3; i++ {
		e, err := q.Fail(ctx, model.TableCases, c.ID, "Server error: 500 - boom", sched)
		require.NoError(t, err)
		require.Equal(t, i+1, e.RetryCount)
		require.Equal(t, "Server error: 500 - boom", e.LastError)
		require.Equal(t, i == 2, e.Dead)
		require.Equal(t, model.OpCreate, e.Operation)
	}
	require.Equal(t, []int{1, 2, 3}, attempts)

	pending, dead, err := q.Pending(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, pending, "case plus its history entry")
	require.Equal(t, 1, dead)

	list, err := q.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, model.TableCases, list[0].Table)
}

func TestRunRepo_SaveAndLast(t *testing.T) {
	r := NewRunRepo(newStore(t))
	ctx := context.Background()

	_, err := r.Last(ctx, model.DirectionPush)
	require.ErrorIs(t, err, errs.ErrNotFound)

	first := model.SyncRun{
		ID: uuid.Must(uuid.NewV4()), Direction: model.DirectionPush,
		StartedAt: t0, FinishedAt: t0.Add(time.Second), Synced: 4, Failed: 1, Status: model.SyncFailed,
		Errors: []model.RecordError{{Table: model.TableCases, RecordID: 3, Error: "boom"}},
	}
	second := model.SyncRun{
		ID: uuid.Must(uuid.NewV4()), Direction: model.DirectionPush,
		StartedAt: t0.Add(time.Minute), FinishedAt: t0.Add(time.Minute), Status: model.SyncSuccess,
	}
	pull := model.SyncRun{
		ID: uuid.Must(uuid.NewV4()), Direction: model.DirectionPull,
		StartedAt: t0.Add(time.Hour), FinishedAt: t0.Add(time.Hour), Imported: 2, Status: model.SyncSuccess,
	}
	for _, run := range []model.SyncRun{first, second, pull} {
		require.NoError(t, r.Save(ctx, run))
	}

	last, err := r.Last(ctx, model.DirectionPush)
	require.NoError(t, err)
	require.Equal(t, second.ID, last.ID)

	recent, err := r.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	require.Equal(t, pull.ID, recent[0].ID)
	require.Equal(t, first.Errors, recent[2].Errors)
	require.True(t, recent[2].StartedAt.Equal(t0))
}

func TestUserRepo_Upsert(t *testing.T) {
	r := NewUserRepo(newStore(t))
	ctx := context.Background()

	_, err := r.Get(ctx, 5)
	require.ErrorIs(t, err, errs.ErrNotFound)

	u := model.User{ID: 5, Username: "sam", Email: "sam@example.com", Role: model.RoleAgent}
	require.NoError(t, r.Upsert(ctx, u))
	u.Role, u.Team = model.RoleManager, "north"
	require.NoError(t, r.Upsert(ctx, u))

	got, err := r.Get(ctx, 5)
	require.NoError(t, err)
	require.Equal(t, model.RoleManager, got.Role)
	require.Equal(t, "north", got.Team)
	require.EqualValues(t, 5, *got.ServerID)
	require.True(t, got.Synced)
}
