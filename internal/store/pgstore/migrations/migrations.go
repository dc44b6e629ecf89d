// Package migrations embeds the PostgreSQL schema.
package migrations

import "embed"

// FS holds the golang-migrate files; Dir is their directory inside FS.
//
//go:embed *.sql
var FS embed.FS

const Dir = "."
