// Package migrations embeds the SQL schema for the accessory cache and the
// state history, and registers it with the database package at init.
package migrations

import (
	"embed"

	"github.com/nerrad567/echonet-heatercooler/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
