package ipc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/and161185/caseflow/internal/errs"
	"github.com/and161185/caseflow/internal/model"
	"github.com/and161185/caseflow/internal/wire"
)

// ErrDaemonDown means nothing answers on the IPC address.
var ErrDaemonDown = errors.New("caseflow daemon is not running")

// Client talks to a running daemon.
type Client struct {
	base string
	http *http.Client
}

// NewClient targets the daemon at addr (host:port).
func NewClient(addr string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = time.Minute
	}
	base := strings.TrimRight(addr, "/")
	if !strings.HasPrefix(base, "http://") {
		base = "http://" + base
	}
	return &Client{base: base, http: &http.Client{Timeout: timeout}}
}

// Call sends one request and decodes a 2xx JSON body into out (when non-nil).
// Error bodies are mapped back onto the error sentinels.
func (c *Client) Call(ctx context.Context, method, path string, q url.Values, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	u := c.base + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDaemonDown, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var eb wire.ErrorBody
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&eb)
		if eb.Error == "" {
			eb.Error = http.StatusText(resp.StatusCode)
		}
		return fmt.Errorf("%s: %w", eb.Error, statusSentinel(resp.StatusCode))
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func statusSentinel(code int) error {
	switch code {
	case http.StatusBadRequest:
		return errs.ErrValidation
	case http.StatusUnauthorized:
		return errs.ErrUnauthenticated
	case http.StatusForbidden:
		return errs.ErrUnauthorized
	case http.StatusNotFound:
		return errs.ErrNotFound
	case http.StatusConflict:
		return errs.ErrInvalidState
	}
	return errs.ErrTransport
}

// SyncNow runs a push cycle in the daemon.
func (c *Client) SyncNow(ctx context.Context) (model.SyncSummary, error) {
	var out model.SyncSummary
	err := c.Call(ctx, http.MethodPost, "/sync/now", nil, nil, &out)
	return out, err
}

// Import runs a pull cycle in the daemon.
func (c *Client) Import(ctx context.Context) (model.ImportSummary, error) {
	var out model.ImportSummary
	err := c.Call(ctx, http.MethodPost, "/sync/import", nil, nil, &out)
	return out, err
}

// Status reads the engine state.
func (c *Client) Status(ctx context.Context) (model.SyncStatus, error) {
	var out model.SyncStatus
	err := c.Call(ctx, http.MethodGet, "/sync/status", nil, nil, &out)
	return out, err
}

// History lists recent sync runs.
func (c *Client) History(ctx context.Context, limit int) ([]model.SyncRun, error) {
	var out []model.SyncRun
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	err := c.Call(ctx, http.MethodGet, "/sync/history", q, nil, &out)
	return out, err
}
