package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/caseflow/internal/errs"
	"github.com/and161185/caseflow/internal/model"
	"github.com/and161185/caseflow/internal/remote"
	"github.com/and161185/caseflow/internal/service"
	"github.com/and161185/caseflow/internal/wire"
)

type fakeAuth struct{}

var _ service.AuthService = fakeAuth{}

func (fakeAuth) Register(_ context.Context, in service.RegisterInput) (*model.User, error) {
	if in.Username == "taken" {
		return nil, fmt.Errorf("username taken: %w", errs.ErrConstraintViolation)
	}
	return &model.User{ID: 3, Username: in.Username, Email: in.Email, Role: model.RoleAgent, PasswordHash: "hash"}, nil
}

func (fakeAuth) LoginWithIP(_ context.Context, username, password, _ string) (model.Tokens, model.User, error) {
	switch {
	case username == "locked":
		return model.Tokens{}, model.User{}, errs.ErrRateLimited
	case password != "pw":
		return model.Tokens{}, model.User{}, errs.ErrUnauthenticated
	}
	return model.Tokens{AccessToken: "agent-token", ExpiresAt: time.Now().Add(time.Hour)},
		model.User{ID: 7, Username: username, Role: model.RoleAgent}, nil
}

func (fakeAuth) Authenticate(token string) (model.Actor, error) {
	switch token {
	case "agent-token":
		return model.Actor{UserID: 7, Role: model.RoleAgent}, nil
	case "manager-token":
		return model.Actor{UserID: 9, Role: model.RoleManager}, nil
	}
	return model.Actor{}, errs.ErrUnauthenticated
}

type fakeReplica struct {
	mu      sync.Mutex
	cases   map[int64]model.Case
	nextID  int64
	history []model.CaseHistory
	checked map[int64]bool
	filter  model.CaseFilter
	actor   model.Actor
}

var _ service.ReplicaService = (*fakeReplica)(nil)

func newFakeReplica() *fakeReplica {
	return &fakeReplica{cases: map[int64]model.Case{}, nextID: 40, checked: map[int64]bool{}}
}

func (f *fakeReplica) CreateCase(_ context.Context, a model.Actor, c model.Case) (*model.Case, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c.CaseNumber == "" {
		return nil, fmt.Errorf("case_number required: %w", errs.ErrValidation)
	}
	for _, x := range f.cases {
		if x.CaseNumber == c.CaseNumber {
			return nil, fmt.Errorf("case number %q: %w", c.CaseNumber, errs.ErrConstraintViolation)
		}
	}
	f.nextID++
	c.ID, f.actor = f.nextID, a
	f.cases[c.ID] = c
	return &c, nil
}

func (f *fakeReplica) UpdateCase(_ context.Context, _ model.Actor, id int64, c model.Case) (*model.Case, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.cases[id]; !ok {
		return nil, errs.ErrNotFound
	}
	c.ID = id
	f.cases[id] = c
	return &c, nil
}

func (f *fakeReplica) GetCase(_ context.Context, id int64) (*model.Case, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.cases[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &c, nil
}

func (f *fakeReplica) ListCases(_ context.Context, fl model.CaseFilter) ([]model.Case, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filter = fl
	out := []model.Case{}
	for _, c := range f.cases {
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeReplica) History(_ context.Context, caseID int64) ([]model.CaseHistory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.CaseHistory
	for _, h := range f.history {
		if h.CaseID == caseID {
			out = append(out, h)
		}
	}
	return out, nil
}

func (f *fakeReplica) AppendHistory(_ context.Context, a model.Actor, caseID int64, h model.CaseHistory) (*model.CaseHistory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h.ID, h.CaseID, h.UserID = int64(len(f.history)+500), caseID, &a.UserID
	f.history = append(f.history, h)
	return &h, nil
}

func (f *fakeReplica) CheckIn(_ context.Context, a model.Actor, at model.Attendance) (*model.Attendance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.checked[a.UserID] {
		return nil, fmt.Errorf("already checked in: %w", errs.ErrInvalidState)
	}
	f.checked[a.UserID] = true
	at.ID, at.UserID = 12, a.UserID
	return &at, nil
}

func (f *fakeReplica) UpdateAttendance(_ context.Context, a model.Actor, id int64, at model.Attendance) (*model.Attendance, error) {
	at.ID, at.UserID = id, a.UserID
	return &at, nil
}

func (f *fakeReplica) MyAttendance(_ context.Context, a model.Actor, _, _ string) ([]model.Attendance, error) {
	return []model.Attendance{{ID: 12, UserID: a.UserID, Status: model.AttendanceActive, Date: "2026-03-02"}}, nil
}

type fakeLocks struct{}

var _ Locks = fakeLocks{}

func (fakeLocks) BookOut(_ context.Context, caseID, userID int64) (model.BookOutResult, error) {
	switch caseID {
	case 404:
		return model.BookOutResult{}, errs.ErrNotFound
	case 5:
		held := int64(9)
		return model.BookOutResult{Conflict: true, HeldBy: &held, Hint: "pick a different case"}, nil
	}
	return model.BookOutResult{Case: &model.Case{ID: caseID, Status: model.StatusInProgress, BookedOutBy: &userID}}, nil
}

func (fakeLocks) Release(_ context.Context, caseID int64, a model.Actor) (*model.Case, error) {
	if !a.Role.Elevated() {
		return nil, fmt.Errorf("case %d is held by 9: %w", caseID, errs.ErrUnauthorized)
	}
	return &model.Case{ID: caseID, Status: model.StatusOpen}, nil
}

func (fakeLocks) Allocated(context.Context, int64) (model.Allocation, error) {
	return model.Allocation{Available: []model.Case{{ID: 1}}}, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *fakeReplica) {
	t.Helper()
	rep := newFakeReplica()
	srv := httptest.NewServer(New(fakeAuth{}, rep, fakeLocks{}, zaptest.NewLogger(t)).Routes())
	t.Cleanup(srv.Close)
	return srv, rep
}

func call(t *testing.T, srv *httptest.Server, method, path, token, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestRoutes_AuthRequired(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	resp, body := call(t, srv, http.MethodGet, "/api/cases", "", "")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, "Access token required", body["error"])

	resp, _ = call(t, srv, http.MethodGet, "/api/cases", "forged", "")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body = call(t, srv, http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", body["status"])
	require.NotEmpty(t, resp.Header.Get(RequestIDHeader))
}

func TestRegisterAndLogin(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	resp, body := call(t, srv, http.MethodPost, "/api/auth/register", "", `{"username":"bob","email":"b@x.io","password":"pw"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, "bob", body["username"])
	require.NotContains(t, body, "password_hash")

	resp, _ = call(t, srv, http.MethodPost, "/api/auth/register", "", `{"username":"taken","email":"t@x.io","password":"pw"}`)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = call(t, srv, http.MethodPost, "/api/auth/register", "", `{not json`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = call(t, srv, http.MethodPost, "/api/auth/login", "", `{"username":"bob","password":"nope"}`)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp, _ = call(t, srv, http.MethodPost, "/api/auth/login", "", `{"username":"locked","password":"pw"}`)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	resp, _ = call(t, srv, http.MethodPost, "/api/auth/login", "", `{"username":"bob"}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCases_ErrorMapping(t *testing.T) {
	t.Parallel()
	srv, rep := newTestServer(t)

	resp, _ := call(t, srv, http.MethodGet, "/api/cases/77", "agent-token", "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = call(t, srv, http.MethodGet, "/api/cases/abc", "agent-token", "")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = call(t, srv, http.MethodPost, "/api/cases", "agent-token", `{"customer_name":"A"}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = call(t, srv, http.MethodGet, "/api/cases?status=open&assigned_to=7&search=acme", "agent-token", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, model.StatusOpen, rep.filter.Status)
	require.EqualValues(t, 7, *rep.filter.AssignedTo)
	resp, _ = call(t, srv, http.MethodGet, "/api/cases?assigned_to=me", "agent-token", "")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := call(t, srv, http.MethodPost, "/api/cases/3/release", "agent-token", "")
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.Contains(t, body["error"], "held by 9")
	resp, _ = call(t, srv, http.MethodPost, "/api/cases/3/release", "manager-token", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = call(t, srv, http.MethodGet, "/api/cases/allocated", "agent-token", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, body["available"], 1)
	require.NotNil(t, body["booked_out"])

	resp, _ = call(t, srv, http.MethodPost, "/api/cases/404/book-out", "agent-token", "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCheckIn_Twice(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	resp, body := call(t, srv, http.MethodPost, "/api/attendance/check-in", "agent-token", `{"status":"active","date":"2026-03-02"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.EqualValues(t, 12, body["id"])
	require.EqualValues(t, 7, body["user_id"])

	resp, body = call(t, srv, http.MethodPost, "/api/attendance/check-in", "agent-token", `{"status":"active","date":"2026-03-02"}`)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.Contains(t, body["error"], "already checked in")
}

func TestRecover_Panics(t *testing.T) {
	t.Parallel()
	h := Recover(zaptest.NewLogger(t))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("oh no")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var eb wire.ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &eb))
	require.Equal(t, "internal", eb.Error)
}

func TestBearerToken(t *testing.T) {
	t.Parallel()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	_, ok := bearerToken(r)
	require.False(t, ok)

	r.Header.Set("Authorization", "Basic foo")
	_, ok = bearerToken(r)
	require.False(t, ok)

	r.Header.Set("Authorization", "Bearer   ")
	_, ok = bearerToken(r)
	require.False(t, ok)

	r.Header.Set("Authorization", "bearer abc.def.ghi")
	tok, ok := bearerToken(r)
	require.True(t, ok)
	require.Equal(t, "abc.def.ghi", tok)
}

// The desktop client and the server agree on the REST contract.
func TestContract_RemoteClient(t *testing.T) {
	t.Parallel()
	srv, rep := newTestServer(t)
	ctx := context.Background()
	c, err := remote.New(srv.URL+"/api", time.Second, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, c.Health(ctx))

	lr, err := c.Login(ctx, "bob", "pw")
	require.NoError(t, err)
	tok := lr.Token

	localID := int64(3)
	id, err := c.CreateCase(ctx, tok, model.Case{ID: localID, CaseNumber: "C-1", CustomerName: "Acme",
		CaseType: "support", Priority: model.PriorityHigh, Status: model.StatusOpen})
	require.NoError(t, err)
	require.EqualValues(t, 41, id)
	require.EqualValues(t, 7, rep.actor.UserID)

	_, err = c.CreateCase(ctx, tok, model.Case{CaseNumber: "C-1"})
	require.ErrorIs(t, err, errs.ErrConstraintViolation)

	require.NoError(t, c.UpdateCase(ctx, tok, id, model.Case{CaseNumber: "C-1", CustomerName: "Acme Ltd"}))
	require.ErrorIs(t, c.UpdateCase(ctx, tok, 999, model.Case{CaseNumber: "C-9"}), errs.ErrNotFound)

	hid, err := c.AppendHistory(ctx, tok, id, model.CaseHistory{CaseID: localID, Action: model.ActionCreated})
	require.NoError(t, err)
	require.EqualValues(t, 500, hid)

	aid, err := c.CreateAttendance(ctx, tok, model.Attendance{Status: model.AttendanceActive, Date: "2026-03-02"})
	require.NoError(t, err)
	require.EqualValues(t, 12, aid)

	cases, err := c.ListCases(ctx, tok)
	require.NoError(t, err)
	require.Len(t, cases, 1)
	require.Equal(t, "Acme Ltd", cases[0].CustomerName)
	require.EqualValues(t, id, *cases[0].ServerID)

	att, err := c.MyAttendance(ctx, tok)
	require.NoError(t, err)
	require.Len(t, att, 1)

	res, err := c.BookOut(ctx, tok, 5)
	require.NoError(t, err)
	require.True(t, res.Conflict)
	require.EqualValues(t, 9, *res.HeldBy)

	res, err = c.BookOut(ctx, tok, 6)
	require.NoError(t, err)
	require.False(t, res.Conflict)
	require.Equal(t, model.StatusInProgress, res.Case.Status)

	_, err = c.ListCases(ctx, "forged")
	require.ErrorIs(t, err, errs.ErrUnauthenticated)
}
