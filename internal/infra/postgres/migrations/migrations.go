package migrations

import "github.com/uptrace/bun/migrate"

// Migrations holds every schema change; each file registers one migration named after itself.
var Migrations = migrate.NewMigrations()
