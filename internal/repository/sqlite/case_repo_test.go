package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/and161185/caseflow/internal/errs"
	"github.com/and161185/caseflow/internal/model"
	"github.com/and161185/caseflow/internal/store"
)

func newStore(t *testing.T) *store.SQLite {
	t.Helper()
	s, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "local.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

// clock returns a func yielding t0, t0+1s, t0+2s...
func clock(t0 time.Time) func() time.Time {
	n := 0
	return func() time.Time {
		n++
		return t0.Add(time.Duration(n-1) * time.Second)
	}
}

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func newCaseRepo(t *testing.T) (*CaseRepo, *store.SQLite) {
	s := newStore(t)
	r := NewCaseRepo(s)
	r.now = clock(t0)
	return r, s
}

func mustCreate(t *testing.T, r *CaseRepo, number string, prio model.Priority, assigned int64) *model.Case {
	t.Helper()
	c, err := r.Create(context.Background(), model.NewCase{
		CaseNumber:   number,
		CustomerName: "Jo Bloggs",
		CaseType:     "billing",
		Priority:     prio,
		AssignedTo:   &assigned,
	}, assigned)
	require.NoError(t, err)
	return c
}

func queueLen(t *testing.T, s *store.SQLite, table model.Table) int {
	t.Helper()
	var n int
	require.NoError(t, s.QueryRow(context.Background(),
		`SELECT COUNT(*) FROM sync_queue WHERE table_name = ?`, string(table)).Scan(&n))
	return n
}

func TestCaseRepo_CreateDefaults(t *testing.T) {
	r, s := newCaseRepo(t)
	ctx := context.Background()

	c, err := r.Create(ctx, model.NewCase{
		CaseNumber: "C-1", CustomerName: "Acme", CaseType: "support",
		Priority: model.PriorityHigh, Description: "printer on fire",
	}, 7)
	require.NoError(t, err)
	require.Equal(t, model.StatusOpen, c.Status)
	require.Nil(t, c.BookedOutBy)
	require.Nil(t, c.BookedOutAt)
	require.False(t, c.Synced)
	require.Nil(t, c.ServerID)
	require.EqualValues(t, 1, c.Rev)

	h, err := r.History(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, h, 1)
	require.Equal(t, model.ActionCreated, h[0].Action)
	require.Equal(t, "printer on fire", h[0].Notes)
	require.EqualValues(t, 7, *h[0].UserID)

	require.Equal(t, 1, queueLen(t, s, model.TableCases))
	require.Equal(t, 1, queueLen(t, s, model.TableCaseHistory))
}

func TestCaseRepo_CreateDuplicateNumber(t *testing.T) {
	r, _ := newCaseRepo(t)
	mustCreate(t, r, "C-1", model.PriorityLow, 1)

	_, err := r.Create(context.Background(), model.NewCase{CaseNumber: "C-1", CustomerName: "x", CaseType: "y", Priority: model.PriorityLow}, 1)
	require.ErrorIs(t, err, errs.ErrConstraintViolation)
}

func TestCaseRepo_UpdateAndClose(t *testing.T) {
	r, _ := newCaseRepo(t)
	ctx := context.Background()
	c := mustCreate(t, r, "C-1", model.PriorityLow, 1)

	up, err := r.Update(ctx, c.ID, model.CasePatch{Priority: ptr(model.PriorityHigh)}, 1)
	require.NoError(t, err)
	require.Equal(t, model.PriorityHigh, up.Priority)
	require.EqualValues(t, 2, up.Rev)

	closed, err := r.Close(ctx, c.ID, ptr(int64(1)))
	require.NoError(t, err)
	require.Equal(t, model.StatusClosed, closed.Status)
	require.NotNil(t, closed.ResolvedAt)

	again, err := r.Close(ctx, c.ID, ptr(int64(1)))
	require.NoError(t, err)
	require.True(t, again.ResolvedAt.After(*closed.ResolvedAt))

	h, err := r.History(ctx, c.ID)
	require.NoError(t, err)
	actions := make([]string, 0, len(h))
	for _, e := range h {
		actions = append(actions, e.Action)
	}
	require.Equal(t, []string{model.ActionCreated, model.ActionUpdated, model.ActionClosed, model.ActionClosed}, actions)
	require.JSONEq(t, `{"priority":"high"}`, h[1].Notes)
}

func TestCaseRepo_UpdateMissing(t *testing.T) {
	r, _ := newCaseRepo(t)
	_, err := r.Update(context.Background(), 42, model.CasePatch{CaseType: ptr("x")}, 1)
	require.ErrorIs(t, err, errs.ErrNotFound)
	_, err = r.Close(context.Background(), 42, nil)
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestCaseRepo_UpdateStatusClearsLock(t *testing.T) {
	r, _ := newCaseRepo(t)
	ctx := context.Background()
	c := mustCreate(t, r, "C-1", model.PriorityLow, 1)

	ok, err := r.BookOut(ctx, c.ID, 1, t0)
	require.NoError(t, err)
	require.True(t, ok)

	up, err := r.Update(ctx, c.ID, model.CasePatch{Status: ptr(model.StatusResolved)}, 1)
	require.NoError(t, err)
	require.Nil(t, up.BookedOutBy)
	require.Nil(t, up.BookedOutAt)
	require.NotNil(t, up.ResolvedAt)
}

func TestCaseRepo_BookOutGuard(t *testing.T) {
	r, _ := newCaseRepo(t)
	ctx := context.Background()
	c := mustCreate(t, r, "C-1", model.PriorityLow, 1)

	ok, err := r.BookOut(ctx, c.ID, 1, t0)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := r.Get(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusInProgress, got.Status)
	require.EqualValues(t, 1, *got.BookedOutBy)
	require.True(t, got.BookedOutAt.Equal(t0))

	ok, err = r.BookOut(ctx, c.ID, 2, t0)
	require.NoError(t, err)
	require.False(t, ok)

	after, err := r.Get(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, got.Rev, after.Rev)
	require.EqualValues(t, 1, *after.BookedOutBy)

	h, err := r.History(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, h, 2)
}

func TestCaseRepo_BookOutTerminal(t *testing.T) {
	r, _ := newCaseRepo(t)
	ctx := context.Background()
	c := mustCreate(t, r, "C-1", model.PriorityLow, 1)
	_, err := r.Close(ctx, c.ID, nil)
	require.NoError(t, err)

	ok, err := r.BookOut(ctx, c.ID, 1, t0)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCaseRepo_Release(t *testing.T) {
	r, _ := newCaseRepo(t)
	ctx := context.Background()
	c := mustCreate(t, r, "C-1", model.PriorityLow, 1)

	ok, err := r.Release(ctx, c.ID, 1, false, t0)
	require.NoError(t, err)
	require.False(t, ok, "unheld case")

	ok, err = r.BookOut(ctx, c.ID, 1, t0)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = r.Release(ctx, c.ID, 2, false, t0)
	require.NoError(t, err)
	require.False(t, ok, "not the holder")

	ok, err = r.Release(ctx, c.ID, 3, true, t0)
	require.NoError(t, err)
	require.True(t, ok, "elevated override")

	got, err := r.Get(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusOpen, got.Status)
	require.Nil(t, got.BookedOutBy)

	h, err := r.History(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, model.ActionReleased, h[len(h)-1].Action)
}

func TestCaseRepo_AllocatedOrder(t *testing.T) {
	r, _ := newCaseRepo(t)
	ctx := context.Background()
	low := mustCreate(t, r, "L", model.PriorityLow, 1)
	high1 := mustCreate(t, r, "H1", model.PriorityHigh, 1)
	med := mustCreate(t, r, "M", model.PriorityMedium, 1)
	high2 := mustCreate(t, r, "H2", model.PriorityHigh, 1)
	mustCreate(t, r, "OTHER", model.PriorityHigh, 2)
	done := mustCreate(t, r, "DONE", model.PriorityHigh, 1)
	_, err := r.Close(ctx, done.ID, nil)
	require.NoError(t, err)

	got, err := r.Allocated(ctx, 1)
	require.NoError(t, err)
	ids := make([]int64, 0, len(got))
	for _, c := range got {
		ids = append(ids, c.ID)
	}
	require.Equal(t, []int64{high1.ID, high2.ID, med.ID, low.ID}, ids)
}

func TestCaseRepo_Current(t *testing.T) {
	r, _ := newCaseRepo(t)
	ctx := context.Background()

	_, err := r.Current(ctx, 1)
	require.ErrorIs(t, err, errs.ErrNotFound)

	first := mustCreate(t, r, "A", model.PriorityLow, 1)
	second := mustCreate(t, r, "B", model.PriorityLow, 1)

	cur, err := r.Current(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, second.ID, cur.ID, "newest assignment")

	ok, err := r.BookOut(ctx, first.ID, 1, t0)
	require.NoError(t, err)
	require.True(t, ok)

	cur, err = r.Current(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, first.ID, cur.ID, "held case wins")
}

func TestCaseRepo_UnsyncedAndMarkSynced(t *testing.T) {
	r, s := newCaseRepo(t)
	ctx := context.Background()
	a := mustCreate(t, r, "A", model.PriorityLow, 1)
	b := mustCreate(t, r, "B", model.PriorityLow, 1)

	dirty, err := r.Unsynced(ctx, 50, t0.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, dirty, 2)
	require.Equal(t, a.ID, dirty[0].ID)

	require.NoError(t, r.MarkSynced(ctx, a.ID, 100, dirty[0].Rev))
	got, err := r.Get(ctx, a.ID)
	require.NoError(t, err)
	require.True(t, got.Synced)
	require.EqualValues(t, 100, *got.ServerID)

	// b is edited after it was read for the push.
	_, err = r.Update(ctx, b.ID, model.CasePatch{CaseType: ptr("refund")}, 1)
	require.NoError(t, err)
	require.NoError(t, r.MarkSynced(ctx, b.ID, 101, dirty[1].Rev))
	got, err = r.Get(ctx, b.ID)
	require.NoError(t, err)
	require.False(t, got.Synced)
	require.EqualValues(t, 101, *got.ServerID)

	require.Equal(t, 1, queueLen(t, s, model.TableCases))
	require.ErrorIs(t, r.MarkSynced(ctx, 999, 1, 1), errs.ErrNotFound)
}

func TestCaseRepo_UnsyncedSkipsBackoffAndDead(t *testing.T) {
	r, s := newCaseRepo(t)
	q := NewQueueRepo(s)
	ctx := context.Background()
	a := mustCreate(t, r, "A", model.PriorityLow, 1)
	b := mustCreate(t, r, "B", model.PriorityLow, 1)

	later := func(int, time.Time) (time.Time, bool) { return t0.Add(time.Hour), false }
	dead := func(int, time.Time) (time.Time, bool) { return t0, true }
	_, err := q.Fail(ctx, model.TableCases, a.ID, "boom", later)
	require.NoError(t, err)
	_, err = q.Fail(ctx, model.TableCases, b.ID, "boom", dead)
	require.NoError(t, err)

	dirty, err := r.Unsynced(ctx, 50, t0.Add(time.Minute))
	require.NoError(t, err)
	require.Empty(t, dirty)

	dirty, err = r.Unsynced(ctx, 50, t0.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, dirty, 1)
	require.Equal(t, a.ID, dirty[0].ID)

	// A local edit resets the retry state.
	_, err = r.Update(ctx, b.ID, model.CasePatch{CaseType: ptr("x")}, 1)
	require.NoError(t, err)
	dirty, err = r.Unsynced(ctx, 50, t0.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, dirty, 1)
	require.Equal(t, b.ID, dirty[0].ID)
}

func TestCaseRepo_ApplyRemote(t *testing.T) {
	r, s := newCaseRepo(t)
	ctx := context.Background()

	remote := model.Case{
		CaseNumber: "R-1", CustomerName: "Remote", CaseType: "support",
		Priority: model.PriorityMedium, Status: model.StatusOpen,
		ServerID: ptr(int64(500)), CreatedAt: t0, UpdatedAt: t0,
	}
	out, err := r.ApplyRemote(ctx, remote)
	require.NoError(t, err)
	require.Equal(t, model.MergeInserted, out)

	remote.CustomerName = "Renamed"
	out, err = r.ApplyRemote(ctx, remote)
	require.NoError(t, err)
	require.Equal(t, model.MergeUpdated, out)

	got, err := r.GetByNumber(ctx, "R-1")
	require.NoError(t, err)
	require.Equal(t, "Renamed", got.CustomerName)
	require.True(t, got.Synced)

	var n int
	require.NoError(t, s.QueryRow(ctx, `SELECT COUNT(*) FROM cases`).Scan(&n))
	require.Equal(t, 1, n)

	_, err = r.ApplyRemote(ctx, model.Case{CaseNumber: "X"})
	require.Error(t, err)
}

func TestCaseRepo_ApplyRemoteLinksByNumber(t *testing.T) {
	r, s := newCaseRepo(t)
	ctx := context.Background()
	local := mustCreate(t, r, "C-9", model.PriorityLow, 1)

	out, err := r.ApplyRemote(ctx, model.Case{
		CaseNumber: "C-9", CustomerName: "Server", CaseType: "billing",
		Priority: model.PriorityHigh, Status: model.StatusOpen, ServerID: ptr(int64(77)),
	})
	require.NoError(t, err)
	require.Equal(t, model.MergeLinked, out)

	got, err := r.Get(ctx, local.ID)
	require.NoError(t, err)
	require.EqualValues(t, 77, *got.ServerID)
	require.Equal(t, "Server", got.CustomerName)
	require.True(t, got.Synced)
	require.Zero(t, queueLen(t, s, model.TableCases))
}
