// Package session holds the desktop user's remote credential. It is passed
// explicitly to the coordinator, services and sync engine.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/and161185/caseflow/internal/errs"
	"github.com/and161185/caseflow/internal/model"
)

// Session is the logged-in identity plus its bearer token.
type Session struct {
	UserID    int64      `json:"user_id"`
	Username  string     `json:"username"`
	Role      model.Role `json:"role"`
	Token     string     `json:"access_token"`
	ExpiresAt time.Time  `json:"expires_at"`
}

// Valid fails with errs.ErrUnauthenticated when the token is missing or expired.
func (s *Session) Valid() error {
	if s == nil || s.Token == "" {
		return fmt.Errorf("no session: %w", errs.ErrUnauthenticated)
	}
	if !s.ExpiresAt.IsZero() && time.Now().After(s.ExpiresAt) {
		return fmt.Errorf("session expired at %s: %w", s.ExpiresAt.Format(time.RFC3339), errs.ErrUnauthenticated)
	}
	return nil
}

// Actor returns the session user as an operation actor.
func (s *Session) Actor() model.Actor {
	return model.Actor{UserID: s.UserID, Role: s.Role}
}

type tokenClaims struct {
	Username string     `json:"username"`
	Role     model.Role `json:"role"`
	jwt.RegisteredClaims
}

// FromToken builds a session from an access token without verifying its
// signature; the server does that on every call. A token without exp gets a
// 15 minute lifetime.
func FromToken(token string) (Session, error) {
	var claims tokenClaims
	_, _, err := jwt.NewParser(jwt.WithoutClaimsValidation()).ParseUnverified(token, &claims)
	if err != nil {
		return Session{}, fmt.Errorf("parse token: %w", err)
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return Session{}, fmt.Errorf("token subject %q: %w", claims.Subject, errs.ErrUnauthenticated)
	}
	exp := time.Now().Add(15 * time.Minute)
	if claims.ExpiresAt != nil {
		exp = claims.ExpiresAt.Time
	}
	return Session{UserID: id, Username: claims.Username, Role: claims.Role, Token: token, ExpiresAt: exp}, nil
}

// DefaultDir returns $XDG_CONFIG_HOME/caseflow or ~/.config/caseflow.
func DefaultDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "caseflow")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "caseflow")
}

// FileStore persists the session as JSON in a 0600 file.
type FileStore struct {
	dir string
}

// NewFileStore stores the session under dir (DefaultDir when empty).
func NewFileStore(dir string) *FileStore {
	if dir == "" {
		dir = DefaultDir()
	}
	return &FileStore{dir: dir}
}

// Path returns the session file location.
func (f *FileStore) Path() string { return filepath.Join(f.dir, "session.json") }

// Save writes s, replacing any previous session.
func (f *FileStore) Save(s Session) error {
	if err := os.MkdirAll(f.dir, 0o700); err != nil {
		return err
	}
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(f.Path(), b, 0o600)
}

// Load reads the stored session. A missing file is errs.ErrUnauthenticated;
// an expired session is returned together with that error so callers can
// still show who was logged in.
func (f *FileStore) Load() (Session, error) {
	b, err := os.ReadFile(f.Path())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Session{}, fmt.Errorf("login required: %w", errs.ErrUnauthenticated)
		}
		return Session{}, err
	}
	var s Session
	if err := json.Unmarshal(b, &s); err != nil {
		return Session{}, fmt.Errorf("decode session: %w", err)
	}
	return s, s.Valid()
}

// Clear removes the stored session. Clearing twice is not an error.
func (f *FileStore) Clear() error {
	if err := os.Remove(f.Path()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
