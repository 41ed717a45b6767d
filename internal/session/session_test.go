package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/and161185/caseflow/internal/errs"
	"github.com/and161185/caseflow/internal/model"
)

func TestSession_Valid(t *testing.T) {
	var nilSess *Session
	require.ErrorIs(t, nilSess.Valid(), errs.ErrUnauthenticated)
	require.ErrorIs(t, (&Session{}).Valid(), errs.ErrUnauthenticated)
	require.ErrorIs(t, (&Session{Token: "t", ExpiresAt: time.Now().Add(-time.Second)}).Valid(), errs.ErrUnauthenticated)
	require.NoError(t, (&Session{Token: "t", ExpiresAt: time.Now().Add(time.Hour)}).Valid())
}

func TestFromToken(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	claims := tokenClaims{
		Username: "alice",
		Role:     model.RoleManager,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "42",
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("whatever"))
	require.NoError(t, err)

	s, err := FromToken(tok)
	require.NoError(t, err)
	require.EqualValues(t, 42, s.UserID)
	require.Equal(t, "alice", s.Username)
	require.Equal(t, model.RoleManager, s.Role)
	require.True(t, s.ExpiresAt.Equal(exp))
	require.Equal(t, model.Actor{UserID: 42, Role: model.RoleManager}, s.Actor())

	_, err = FromToken("garbage")
	require.Error(t, err)

	claims.Subject = "alice"
	tok, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("whatever"))
	require.NoError(t, err)
	_, err = FromToken(tok)
	require.ErrorIs(t, err, errs.ErrUnauthenticated)
}

func TestDefaultDir(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	require.Equal(t, filepath.Join(dir, "caseflow"), DefaultDir())
	require.Equal(t, filepath.Join(dir, "caseflow", "session.json"), NewFileStore("").Path())
}

func TestFileStore_SaveLoadClear(t *testing.T) {
	fs := NewFileStore(filepath.Join(t.TempDir(), "cfg"))

	_, err := fs.Load()
	require.ErrorIs(t, err, errs.ErrUnauthenticated)

	want := Session{UserID: 7, Username: "bob", Role: model.RoleAgent, Token: "tok", ExpiresAt: time.Now().Add(time.Hour).UTC()}
	require.NoError(t, fs.Save(want))

	st, err := os.Stat(fs.Path())
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), st.Mode().Perm())

	got, err := fs.Load()
	require.NoError(t, err)
	require.Equal(t, want.UserID, got.UserID)
	require.Equal(t, want.Token, got.Token)
	require.True(t, want.ExpiresAt.Equal(got.ExpiresAt))

	want.ExpiresAt = time.Now().Add(-time.Minute)
	require.NoError(t, fs.Save(want))
	got, err = fs.Load()
	require.ErrorIs(t, err, errs.ErrUnauthenticated)
	require.Equal(t, "bob", got.Username)

	require.NoError(t, fs.Clear())
	require.NoError(t, fs.Clear())
	_, err = fs.Load()
	require.ErrorIs(t, err, errs.ErrUnauthenticated)
}
