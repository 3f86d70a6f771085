// Package migrations embeds the PostgreSQL schema of the document store.
package migrations

import "embed"

// FS holds the goose migration files.
//
//go:embed *.sql
var FS embed.FS
