// Package migrations embeds the SQLite schema for the sample log.
package migrations

import (
	"embed"

	"github.com/nerrad567/rtr-telemetry/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
