package db

import "embed"

// MigrationFS embeds the SQL migrations applied by the migrate subcommand.
//
//go:embed migrations/*.sql
var MigrationFS embed.FS
