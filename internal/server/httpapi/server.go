// Package httpapi exposes the remote store REST API.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/and161185/caseflow/internal/convert"
	"github.com/and161185/caseflow/internal/errs"
	"github.com/and161185/caseflow/internal/model"
	"github.com/and161185/caseflow/internal/service"
	"github.com/and161185/caseflow/internal/wire"
)

// maxBody bounds request bodies.
const maxBody = 1 << 20

// Locks is the book-out surface the API needs.
type Locks interface {
	BookOut(ctx context.Context, caseID, userID int64) (model.BookOutResult, error)
	Release(ctx context.Context, caseID int64, actor model.Actor) (*model.Case, error)
	Allocated(ctx context.Context, userID int64) (model.Allocation, error)
}

// Server wires services into HTTP handlers.
type Server struct {
	auth    service.AuthService
	replica service.ReplicaService
	locks   Locks
	log     *zap.Logger
}

// New constructs the API with injected services.
func New(auth service.AuthService, replica service.ReplicaService, locks Locks, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{auth: auth, replica: replica, locks: locks, log: log}
}

// Routes mounts the API under /api.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Recover(s.log))
	r.Use(Logging(s.log))

	r.Get("/health", s.Health)
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.Health)
		r.Post("/auth/register", s.Register)
		r.Post("/auth/login", s.Login)

		r.Group(func(r chi.Router) {
			r.Use(Authenticate(s.auth))

			r.Route("/cases", func(r chi.Router) {
				r.Get("/", s.ListCases)
				r.Post("/", s.CreateCase)
				r.Get("/allocated", s.Allocated)
				r.Get("/{id}", s.GetCase)
				r.Put("/{id}", s.UpdateCase)
				r.Get("/{id}/history", s.History)
				r.Post("/{id}/history", s.AppendHistory)
				r.Post("/{id}/book-out", s.BookOut)
				r.Post("/{id}/release", s.Release)
			})
			r.Route("/attendance", func(r chi.Router) {
				r.Post("/check-in", s.CheckIn)
				r.Put("/{id}", s.UpdateAttendance)
				r.Get("/my-attendance", s.MyAttendance)
			})
		})
	})
	return r
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, wire.ErrorBody{Error: msg})
}

// writeError maps a service error onto a status code. Unknown errors are
// logged and reported as 500 without details.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, errs.ErrValidation):
		writeJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, errs.ErrUnauthenticated):
		writeJSONError(w, http.StatusUnauthorized, "Invalid credentials")
	case errors.Is(err, errs.ErrUnauthorized):
		writeJSONError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, errs.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, "Not found")
	case errors.Is(err, errs.ErrConstraintViolation), errors.Is(err, errs.ErrInvalidState):
		writeJSONError(w, http.StatusConflict, err.Error())
	case errors.Is(err, errs.ErrRateLimited):
		writeJSONError(w, http.StatusTooManyRequests, "Too many attempts, try again later")
	default:
		s.log.Error("request failed",
			zap.String("path", r.URL.Path), zap.String("request_id", r.Header.Get(RequestIDHeader)), zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "internal")
	}
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

func actor(r *http.Request) model.Actor {
	a, _ := ActorFromCtx(r.Context())
	return a
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// --- Auth ---

// Health reports liveness.
func (s *Server) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, wire.Health{Status: "ok"})
}

// Register creates a new account.
func (s *Server) Register(w http.ResponseWriter, r *http.Request) {
	var req wire.RegisterRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	u, err := s.auth.Register(r.Context(), service.RegisterInput{
		Username: req.Username, Email: req.Email, Password: req.Password,
		Role: model.Role(req.Role), Team: req.Team,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, convert.ToWireUser(*u))
}

// Login authenticates a user and returns an access token.
func (s *Server) Login(w http.ResponseWriter, r *http.Request) {
	var req wire.LoginRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Username == "" || req.Password == "" {
		writeJSONError(w, http.StatusBadRequest, "Username and password are required")
		return
	}
	tok, u, err := s.auth.LoginWithIP(r.Context(), req.Username, req.Password, remoteIP(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wire.LoginResponse{Token: tok.AccessToken, ExpiresAt: tok.ExpiresAt, User: convert.ToWireUser(u)})
}

// --- Cases ---

// ListCases returns cases filtered by status, priority, assigned_to and search.
func (s *Server) ListCases(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := model.CaseFilter{
		Status:   model.CaseStatus(q.Get("status")),
		Priority: model.Priority(q.Get("priority")),
		Search:   q.Get("search"),
	}
	if v := q.Get("assigned_to"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "bad assigned_to")
			return
		}
		f.AssignedTo = &id
	}
	cases, err := s.replica.ListCases(r.Context(), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, convert.ToWireCases(cases))
}

// CreateCase stores a pushed case.
func (s *Server) CreateCase(w http.ResponseWriter, r *http.Request) {
	var body wire.Case
	if err := decode(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.replica.CreateCase(r.Context(), actor(r), convert.FromWireCase(body))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, convert.ToWireCase(*c))
}

// GetCase returns one case.
func (s *Server) GetCase(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.replica.GetCase(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, convert.ToWireCase(*c))
}

// UpdateCase overwrites a case with a pushed version.
func (s *Server) UpdateCase(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var body wire.Case
	if err := decode(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.replica.UpdateCase(r.Context(), actor(r), id, convert.FromWireCase(body))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, convert.ToWireCase(*c))
}

// History lists the audit trail of a case.
func (s *Server) History(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	hs, err := s.replica.History(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, convert.ToWireHistories(hs))
}

// AppendHistory stores a pushed history entry under the case in the path.
func (s *Server) AppendHistory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var body wire.History
	if err := decode(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	h, err := s.replica.AppendHistory(r.Context(), actor(r), id, convert.FromWireHistory(body))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, convert.ToWireHistory(*h, h.CaseID))
}

// BookOut locks a case for the caller. A lost race is 409 with the holder.
func (s *Server) BookOut(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.locks.BookOut(r.Context(), id, actor(r).UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	code := http.StatusOK
	if res.Conflict {
		code = http.StatusConflict
	}
	writeJSON(w, code, convert.ToWireBookOut(res))
}

// Release drops the caller's lock; managers may release any holder.
func (s *Server) Release(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.locks.Release(r.Context(), id, actor(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, convert.ToWireCase(*c))
}

// Allocated returns the caller's active cases split by lock state.
func (s *Server) Allocated(w http.ResponseWriter, r *http.Request) {
	a, err := s.locks.Allocated(r.Context(), actor(r).UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, convert.ToWireAllocation(a))
}

// --- Attendance ---

// CheckIn stores a pushed attendance record for the caller.
func (s *Server) CheckIn(w http.ResponseWriter, r *http.Request) {
	var body wire.Attendance
	if err := decode(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	a, err := s.replica.CheckIn(r.Context(), actor(r), convert.FromWireAttendance(body))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, convert.ToWireAttendance(*a))
}

// UpdateAttendance overwrites one of the caller's records.
func (s *Server) UpdateAttendance(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var body wire.Attendance
	if err := decode(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	a, err := s.replica.UpdateAttendance(r.Context(), actor(r), id, convert.FromWireAttendance(body))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, convert.ToWireAttendance(*a))
}

// MyAttendance lists the caller's records, optionally bounded by from/to.
func (s *Server) MyAttendance(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	as, err := s.replica.MyAttendance(r.Context(), actor(r), q.Get("from"), q.Get("to"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, convert.ToWireAttendances(as))
}
