// Package migrations embeds the schema migration files for the cache
// database. The FTS index is created separately at open time so builds
// without FTS5 still migrate cleanly.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
