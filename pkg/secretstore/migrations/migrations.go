// Package migrations embeds the SQLite schema for the secret store.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
