// Package model defines domain entities used by services, repositories and the sync engine.
package model

import (
	"time"
)

// Role is a user's privilege level.
type Role string

const (
	RoleAgent   Role = "agent"
	RoleManager Role = "manager"
	RoleAdmin   Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleAgent, RoleManager, RoleAdmin:
		return true
	}
	return false
}

// Elevated reports whether the role may override another user's book-out.
func (r Role) Elevated() bool { return r == RoleManager || r == RoleAdmin }

// Tokens collects an issued access token.
type Tokens struct {
	AccessToken string
	ExpiresAt   time.Time // access token expiry (for diagnostics)
}

// User is an account. IDs are assigned by the server; the desktop keeps a cache.
type User struct {
	ID           int64
	Username     string // unique
	Email        string // unique
	PasswordHash string // encoded Argon2id hash, server only
	Role         Role
	Team         string
	ServerID     *int64 // desktop cache back-reference
	Synced       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Actor is the authenticated user performing an operation.
type Actor struct {
	UserID int64
	Role   Role
}
