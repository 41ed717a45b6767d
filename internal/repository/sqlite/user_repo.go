package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/and161185/caseflow/internal/model"
	"github.com/and161185/caseflow/internal/repository"
	"github.com/and161185/caseflow/internal/store"
)

// UserRepo caches server identities seen at login.
type UserRepo struct{ s store.Store }

var _ repository.UserCache = (*UserRepo)(nil)

// NewUserRepo constructs a user cache.
func NewUserRepo(s store.Store) *UserRepo { return &UserRepo{s: s} }

// Upsert stores u under its server id.
func (r *UserRepo) Upsert(ctx context.Context, u model.User) error {
	const q = `
INSERT INTO users (id, username, email, role, team, server_id, synced, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?)
ON CONFLICT (id) DO UPDATE SET
  username = excluded.username,
  email = excluded.email,
  role = excluded.role,
  team = excluded.team,
  updated_at = excluded.updated_at`
	ts := store.FormatTime(time.Now())
	_, err := r.s.Execute(ctx, q, u.ID, u.Username, u.Email, string(u.Role), nullString(u.Team), u.ID, ts, ts)
	return err
}

// Get loads a cached user.
func (r *UserRepo) Get(ctx context.Context, id int64) (*model.User, error) {
	const q = `SELECT id, username, email, role, team, server_id, synced, created_at, updated_at FROM users WHERE id = ?`
	var (
		u                      model.User
		role, created, updated string
		team                   sql.NullString
		serverID               sql.NullInt64
		synced                 int
	)
	err := r.s.QueryRow(ctx, q, id).Scan(&u.ID, &u.Username, &u.Email, &role, &team, &serverID, &synced, &created, &updated)
	if err != nil {
		return nil, notFound(err)
	}
	u.Role, u.Team, u.ServerID, u.Synced = model.Role(role), team.String, store.IntPtr(serverID), synced == 1
	if u.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if u.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &u, nil
}
