// Package migrations carries Conduit's SQL schema migrations, compiled
// into the binary so deployments never depend on loose .sql files.
package migrations

import "embed"

// Files holds every migration at the root of the embedded filesystem.
// Pass it to database.Migrate at startup.
//
//go:embed *.sql
var Files embed.FS
