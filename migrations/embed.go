// Package migrations embeds SQL migration files for use at runtime.
// Migrations are embedded so they work regardless of working directory.
package migrations

import (
	"embed"
	"io/fs"
)

//go:embed postgres/*.sql sqlite/*.sql
var files embed.FS

// Postgres returns the PostgreSQL migrations (e.g. 001_initial.sql).
func Postgres() fs.FS {
	sub, _ := fs.Sub(files, "postgres")
	return sub
}

// SQLite returns the SQLite migrations.
func SQLite() fs.FS {
	sub, _ := fs.Sub(files, "sqlite")
	return sub
}
