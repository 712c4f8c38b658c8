// Package migrations embeds the schema migration files for each supported
// database driver. Both backends apply pending migrations on open via
// golang-migrate's iofs source.
package migrations

import "embed"

//go:embed sqlite/*.sql
var SQLite embed.FS

//go:embed postgres/*.sql
var Postgres embed.FS
