// Package migrations embeds the SQL schema migrations so the server binary
// can apply them on startup without a separate migration artifact.
package migrations

import "embed"

// FS holds the goose SQL migrations.
//
//go:embed *.sql
var FS embed.FS
