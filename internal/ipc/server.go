// Package ipc is the desktop daemon's localhost API. The UI and the CLI use it
// to reach the local store, the book-out coordinator and the sync engine of
// the one process that owns them.
package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/and161185/caseflow/internal/convert"
	"github.com/and161185/caseflow/internal/errs"
	"github.com/and161185/caseflow/internal/model"
	"github.com/and161185/caseflow/internal/remote"
	"github.com/and161185/caseflow/internal/repository/sqlite"
	"github.com/and161185/caseflow/internal/server/httpapi"
	"github.com/and161185/caseflow/internal/service"
	"github.com/and161185/caseflow/internal/session"
	"github.com/and161185/caseflow/internal/syncer"
	"github.com/and161185/caseflow/internal/wire"
)

const maxBody = 1 << 20

// Engine is the sync surface the daemon exposes.
type Engine interface {
	SyncNow(ctx context.Context, sess *session.Session) (model.SyncSummary, error)
	DownloadFromServer(ctx context.Context, sess *session.Session) (model.ImportSummary, error)
	Status(ctx context.Context) (model.SyncStatus, error)
	History(ctx context.Context, limit int) ([]model.SyncRun, error)
}

var _ Engine = (*syncer.Engine)(nil)

// RemoteLocks books a case out on the server, the authoritative store.
type RemoteLocks interface {
	BookOut(ctx context.Context, token string, serverID int64) (model.BookOutResult, error)
}

// LockMirror stores the server's lock state on the local row.
type LockMirror interface {
	MirrorLock(ctx context.Context, id int64, holder *int64, at *time.Time, status model.CaseStatus) error
}

var (
	_ RemoteLocks = (*remote.Client)(nil)
	_ LockMirror  = (*sqlite.CaseRepo)(nil)
)

// Deps are the daemon components behind the API. With Remote and Mirror set,
// book-out of a case known to the server is decided there; the local
// coordinator decides when the server is unreachable or the case is new.
type Deps struct {
	Cases      service.CaseService
	Attendance service.AttendanceService
	Locks      httpapi.Locks
	Remote     RemoteLocks
	Mirror     LockMirror
	Engine     Engine
	Session    syncer.SessionFunc
	Hub        *Hub
}

// Server serves the IPC routes.
type Server struct {
	d   Deps
	log *zap.Logger
}

// New constructs the IPC API.
func New(d Deps, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{d: d, log: log}
}

// Routes mounts every IPC operation.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(httpapi.RequestID)
	r.Use(httpapi.Recover(s.log))
	r.Use(httpapi.Logging(s.log))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, wire.Health{Status: "ok"})
	})
	if s.d.Hub != nil {
		r.Handle("/events", s.d.Hub)
	}

	r.Route("/sync", func(r chi.Router) {
		r.Get("/status", s.syncStatus)
		r.Get("/history", s.syncHistory)
		r.Post("/now", s.syncNow)
		r.Post("/import", s.importFromServer)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.requireSession)

		r.Route("/cases", func(r chi.Router) {
			r.Post("/", s.createCase)
			r.Get("/allocated", s.allocated)
			r.Get("/current", s.currentCase)
			r.Get("/{id}", s.getCase)
			r.Put("/{id}", s.updateCase)
			r.Post("/{id}/close", s.closeCase)
			r.Get("/{id}/history", s.caseHistory)
			r.Post("/{id}/book-out", s.bookOut)
			r.Post("/{id}/release", s.release)
		})
		r.Route("/attendance", func(r chi.Router) {
			r.Get("/", s.listAttendance)
			r.Get("/today", s.today)
			r.Post("/check-in", s.attendance(s.d.Attendance.CheckIn))
			r.Post("/check-out", s.attendance(s.d.Attendance.CheckOut))
			r.Post("/break/start", s.attendance(s.d.Attendance.StartBreak))
			r.Post("/break/end", s.attendance(s.d.Attendance.EndBreak))
		})
	})
	return r
}

type ctxKey struct{}

// requireSession loads the saved login for every request so that a login made
// after the daemon started is picked up.
func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := s.session()
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, sess)))
	})
}

func (s *Server) session() (*session.Session, error) {
	if s.d.Session == nil {
		return nil, errs.ErrUnauthenticated
	}
	sess, err := s.d.Session()
	if err != nil {
		return nil, err
	}
	if err := sess.Valid(); err != nil {
		return nil, err
	}
	return sess, nil
}

// rawSession returns the saved login, nil when there is none.
func (s *Server) rawSession() *session.Session {
	if s.d.Session == nil {
		return nil
	}
	sess, _ := s.d.Session()
	return sess
}

func sessionFrom(r *http.Request) *session.Session {
	sess, _ := r.Context().Value(ctxKey{}).(*session.Session)
	return sess
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, errs.ErrValidation):
		code = http.StatusBadRequest
	case errors.Is(err, errs.ErrUnauthenticated):
		code = http.StatusUnauthorized
	case errors.Is(err, errs.ErrUnauthorized):
		code = http.StatusForbidden
	case errors.Is(err, errs.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, errs.ErrConstraintViolation), errors.Is(err, errs.ErrInvalidState),
		errors.Is(err, errs.ErrSyncInProgress):
		code = http.StatusConflict
	default:
		s.log.Error("ipc request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeJSON(w, code, wire.ErrorBody{Error: err.Error()})
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Join(errs.ErrValidation, err)
	}
	return nil
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.Join(errs.ErrValidation, errors.New("bad id"))
	}
	return id, nil
}

// --- cases ---

func (s *Server) createCase(w http.ResponseWriter, r *http.Request) {
	var body wire.NewCase
	if err := decode(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.d.Cases.Create(r.Context(), sessionFrom(r).Actor(), convert.FromWireNewCase(body))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, convert.ToLocalCase(*c))
}

func (s *Server) getCase(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.d.Cases.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, convert.ToLocalCase(*c))
}

func (s *Server) currentCase(w http.ResponseWriter, r *http.Request) {
	c, err := s.d.Cases.Current(r.Context(), sessionFrom(r).Actor())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, convert.ToLocalCase(*c))
}

func (s *Server) updateCase(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var p model.CasePatch
	if err := decode(w, r, &p); err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.d.Cases.Update(r.Context(), sessionFrom(r).Actor(), id, p)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.announceClose(c)
	writeJSON(w, http.StatusOK, convert.ToLocalCase(*c))
}

func (s *Server) closeCase(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.d.Cases.Close(r.Context(), sessionFrom(r).Actor(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.announceClose(c)
	writeJSON(w, http.StatusOK, convert.ToLocalCase(*c))
}

func (s *Server) announceClose(c *model.Case) {
	if s.d.Hub == nil || !c.Status.Terminal() {
		return
	}
	s.d.Hub.Broadcast(Message{Type: EventCaseClosed, Data: convert.ToLocalCase(*c)})
}

func (s *Server) caseHistory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	hs, err := s.d.Cases.History(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, convert.ToWireHistories(hs))
}

// bookOut reports a lost race as a 200 result with conflict set.
func (s *Server) bookOut(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sess := sessionFrom(r)
	res, decided, err := s.bookOutRemote(r.Context(), id, sess)
	if err == nil && !decided {
		res, err = s.d.Locks.BookOut(r.Context(), id, sess.UserID)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, convert.ToLocalBookOut(res))
}

// bookOutRemote runs the book-out on the server and mirrors the outcome
// locally. decided is false when the server was not asked or did not answer.
func (s *Server) bookOutRemote(ctx context.Context, id int64, sess *session.Session) (model.BookOutResult, bool, error) {
	if s.d.Remote == nil || s.d.Mirror == nil {
		return model.BookOutResult{}, false, nil
	}
	c, err := s.d.Cases.Get(ctx, id)
	if err != nil {
		return model.BookOutResult{}, false, err
	}
	if c.ServerID == nil {
		return model.BookOutResult{}, false, nil
	}
	res, err := s.d.Remote.BookOut(ctx, sess.Token, *c.ServerID)
	if err != nil {
		if offline(err) {
			s.log.Info("server unavailable, booking out locally", zap.Int64("case_id", id), zap.Error(err))
			return model.BookOutResult{}, false, nil
		}
		return model.BookOutResult{}, false, err
	}

	holder, at, status, ok := serverLock(res, time.Now().UTC())
	if ok {
		if err := s.d.Mirror.MirrorLock(ctx, id, holder, at, status); err != nil {
			return model.BookOutResult{}, false, err
		}
	}
	if res.Case, err = s.d.Cases.Get(ctx, id); err != nil {
		return model.BookOutResult{}, false, err
	}
	return res, true, nil
}

// offline reports a network failure or a server-side error, as opposed to
// the server refusing the request.
func offline(err error) bool {
	if !errors.Is(err, errs.ErrTransport) {
		return false
	}
	var se *remote.StatusError
	return !errors.As(err, &se) || se.Code >= http.StatusInternalServerError
}

// serverLock derives the lock state a server book-out result implies.
func serverLock(res model.BookOutResult, now time.Time) (holder *int64, at *time.Time, status model.CaseStatus, ok bool) {
	switch {
	case !res.Conflict && res.Case != nil:
		return res.Case.BookedOutBy, res.Case.BookedOutAt, res.Case.Status, true
	case res.Conflict && res.HeldBy != nil:
		return res.HeldBy, &now, model.StatusInProgress, true
	case res.Conflict && res.Status.Terminal():
		return nil, nil, res.Status, true
	}
	return nil, nil, "", false
}

func (s *Server) release(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.d.Locks.Release(r.Context(), id, sessionFrom(r).Actor())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, convert.ToLocalCase(*c))
}

func (s *Server) allocated(w http.ResponseWriter, r *http.Request) {
	a, err := s.d.Locks.Allocated(r.Context(), sessionFrom(r).UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, convert.ToLocalAllocation(a))
}

// --- attendance ---

func (s *Server) attendance(op func(context.Context, int64) (*model.Attendance, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := op(r.Context(), sessionFrom(r).UserID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, convert.ToWireAttendance(*a))
	}
}

// today answers 204 when the user is not checked in.
func (s *Server) today(w http.ResponseWriter, r *http.Request) {
	a, err := s.d.Attendance.Today(r.Context(), sessionFrom(r).UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if a == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, convert.ToWireAttendance(*a))
}

func (s *Server) listAttendance(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	as, err := s.d.Attendance.List(r.Context(), sessionFrom(r).UserID, q.Get("from"), q.Get("to"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, convert.ToWireAttendances(as))
}

// --- sync ---

// syncNow and importFromServer pass the session through as is; the engine
// reports a missing login.
func (s *Server) syncNow(w http.ResponseWriter, r *http.Request) {
	sum, err := s.d.Engine.SyncNow(r.Context(), s.rawSession())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) importFromServer(w http.ResponseWriter, r *http.Request) {
	sum, err := s.d.Engine.DownloadFromServer(r.Context(), s.rawSession())
	if err != nil && sum.RunID.IsNil() {
		s.writeError(w, r, err)
		return
	}
	code := http.StatusOK
	if err != nil {
		code = http.StatusBadGateway
	}
	writeJSON(w, code, sum)
}

func (s *Server) syncStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.d.Engine.Status(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) syncHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, wire.ErrorBody{Error: "bad limit"})
			return
		}
		limit = n
	}
	runs, err := s.d.Engine.History(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if runs == nil {
		runs = []model.SyncRun{}
	}
	writeJSON(w, http.StatusOK, runs)
}
