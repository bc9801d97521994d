// Package migrations embeds the SQL schema for the postgres ledger backend.
package migrations

import "embed"

// FS holds every goose migration in this directory.
//
//go:embed *.sql
var FS embed.FS
