// Package migrations embeds the goose SQL migrations for both stores.
package migrations

import (
	"embed"
	"io/fs"
)

//go:embed local/*.sql server/*.sql
var files embed.FS

// Local returns the desktop (SQLite) migrations.
func Local() fs.FS { return sub("local") }

// Server returns the remote store (PostgreSQL) migrations.
func Server() fs.FS { return sub("server") }

func sub(dir string) fs.FS {
	f, err := fs.Sub(files, dir)
	if err != nil {
		panic(err) // directories are embedded at build time
	}
	return f
}
