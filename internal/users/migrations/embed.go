// Package migrations embeds the goose migrations for the credential store.
package migrations

import "embed"

// Migrations holds the SQL files applied by users.Migrate.
//
//go:embed *.sql
var Migrations embed.FS
