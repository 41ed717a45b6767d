// Package remote is the desktop client of the remote store REST contract.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/caseflow/internal/convert"
	"github.com/and161185/caseflow/internal/errs"
	"github.com/and161185/caseflow/internal/model"
	"github.com/and161185/caseflow/internal/wire"
)

// DefaultTimeout bounds every call when none is configured.
const DefaultTimeout = 10 * time.Second

// Client calls the remote store. Every call carries the bearer token it is
// given and runs under its own timeout.
type Client struct {
	base    *url.URL
	http    *http.Client
	timeout time.Duration
	log     *zap.Logger
}

// New constructs a client for baseURL (e.g. http://host:8080/api).
func New(baseURL string, timeout time.Duration, log *zap.Logger) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("remote url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("remote url %q: unsupported scheme", baseURL)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{base: u, http: &http.Client{}, timeout: timeout, log: log}, nil
}

// StatusError is a non-2xx response.
type StatusError struct {
	Code    int
	Message string
	Body    []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("Server error: %d - %s", e.Code, e.Message)
}

// Unwrap maps the status onto the error sentinels; every status error is
// also a transport error for sync accounting.
func (e *StatusError) Unwrap() []error {
	out := []error{errs.ErrTransport}
	switch e.Code {
	case http.StatusUnauthorized:
		out = append(out, errs.ErrUnauthenticated)
	case http.StatusForbidden:
		out = append(out, errs.ErrUnauthorized)
	case http.StatusNotFound:
		out = append(out, errs.ErrNotFound)
	case http.StatusConflict:
		out = append(out, errs.ErrConstraintViolation)
	case http.StatusTooManyRequests:
		out = append(out, errs.ErrRateLimited)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		out = append(out, errs.ErrValidation)
	}
	return out
}

func (c *Client) endpoint(path string, q url.Values) string {
	u := *c.base
	u.Path = c.base.Path + path
	if len(q) > 0 {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// do sends one request and decodes a 2xx body into out (when non-nil).
func (c *Client) do(ctx context.Context, token, method, path string, q url.Values, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, q), body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w: %w", method, path, errs.ErrTransport, err)
	}
	defer resp.Body.Close()
	c.log.Debug("remote call",
		zap.String("method", method), zap.String("path", path),
		zap.Int("status", resp.StatusCode), zap.Duration("took", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decode: %w: %w", method, path, errs.ErrTransport, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	msg := strings.TrimSpace(string(b))
	var eb wire.ErrorBody
	if json.Unmarshal(b, &eb) == nil && eb.Error != "" {
		msg = eb.Error
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &StatusError{Code: resp.StatusCode, Message: msg, Body: b}
}

// Health checks the server is reachable.
func (c *Client) Health(ctx context.Context) error {
	var h wire.Health
	return c.do(ctx, "", http.MethodGet, "/health", nil, nil, &h)
}

// Login exchanges credentials for a token.
func (c *Client) Login(ctx context.Context, username, password string) (wire.LoginResponse, error) {
	var out wire.LoginResponse
	err := c.do(ctx, "", http.MethodPost, "/auth/login", nil, wire.LoginRequest{Username: username, Password: password}, &out)
	if err != nil {
		return wire.LoginResponse{}, err
	}
	if out.Token == "" {
		return wire.LoginResponse{}, fmt.Errorf("login: empty token: %w", errs.ErrTransport)
	}
	return out, nil
}

// CreateCase pushes a new case and returns its server id.
func (c *Client) CreateCase(ctx context.Context, token string, cs model.Case) (int64, error) {
	return c.create(ctx, token, "/cases", convert.PushCase(cs))
}

// UpdateCase pushes a case that already has a server id.
func (c *Client) UpdateCase(ctx context.Context, token string, serverID int64, cs model.Case) error {
	return c.do(ctx, token, http.MethodPut, "/cases/"+strconv.FormatInt(serverID, 10), nil, convert.PushCase(cs), nil)
}

// CreateAttendance pushes a new attendance record and returns its server id.
func (c *Client) CreateAttendance(ctx context.Context, token string, a model.Attendance) (int64, error) {
	return c.create(ctx, token, "/attendance/check-in", convert.PushAttendance(a))
}

// UpdateAttendance pushes an attendance record that already has a server id.
func (c *Client) UpdateAttendance(ctx context.Context, token string, serverID int64, a model.Attendance) error {
	return c.do(ctx, token, http.MethodPut, "/attendance/"+strconv.FormatInt(serverID, 10), nil, convert.PushAttendance(a), nil)
}

// AppendHistory pushes a history entry under the parent's server id.
func (c *Client) AppendHistory(ctx context.Context, token string, caseServerID int64, h model.CaseHistory) (int64, error) {
	w := convert.ToWireHistory(h, caseServerID)
	w.ID = 0
	return c.create(ctx, token, "/cases/"+strconv.FormatInt(caseServerID, 10)+"/history", w)
}

func (c *Client) create(ctx context.Context, token, path string, body any) (int64, error) {
	var out wire.Created
	if err := c.do(ctx, token, http.MethodPost, path, nil, body, &out); err != nil {
		return 0, err
	}
	id := out.ServerID()
	if id <= 0 {
		return 0, fmt.Errorf("POST %s: response without id: %w", path, errs.ErrTransport)
	}
	return id, nil
}

// ListCases pulls all cases visible to the caller.
func (c *Client) ListCases(ctx context.Context, token string) ([]model.Case, error) {
	var out []wire.Case
	if err := c.do(ctx, token, http.MethodGet, "/cases", nil, nil, &out); err != nil {
		return nil, err
	}
	return convert.FromWireCases(out), nil
}

// MyAttendance pulls the caller's attendance records.
func (c *Client) MyAttendance(ctx context.Context, token string) ([]model.Attendance, error) {
	var out []wire.Attendance
	if err := c.do(ctx, token, http.MethodGet, "/attendance/my-attendance", nil, nil, &out); err != nil {
		return nil, err
	}
	return convert.FromWireAttendances(out), nil
}

// BookOut asks the remote store to book a case out directly.
func (c *Client) BookOut(ctx context.Context, token string, serverID int64) (model.BookOutResult, error) {
	var out wire.BookOutResponse
	err := c.do(ctx, token, http.MethodPost, "/cases/"+strconv.FormatInt(serverID, 10)+"/book-out", nil, nil, &out)
	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusConflict {
		// the conflict body is a result, not a failure
		if json.Unmarshal(se.Body, &out) != nil || !out.Conflict {
			return model.BookOutResult{Conflict: true, Hint: se.Message}, nil
		}
		return convert.FromWireBookOut(out), nil
	}
	if err != nil {
		return model.BookOutResult{}, err
	}
	return convert.FromWireBookOut(out), nil
}
