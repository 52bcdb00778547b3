// Package db embeds the database migration files.
package db

import "embed"

// Migrations holds the goose migration scripts applied at startup.
//
//go:embed migrations/*.sql
var Migrations embed.FS
