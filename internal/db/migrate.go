package db

import (
	"embed"

	"github.com/pressly/goose/v3"
	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver for goose

	"stockcast/internal/types"
)

//go:embed migrations/*.sql
var migrations embed.FS

// RunMigrations applies all pending schema migrations embedded in the
// binary. Called at startup when DB_MIGRATE_ON_START is set; goose's
// version table makes repeat runs a no-op.
func RunMigrations(dsn string) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "goose dialect setup failed", err)
	}

	sqlDB, err := goose.OpenDBWithDriver("pgx", dsn)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to open migration connection", err)
	}
	defer func() { _ = sqlDB.Close() }()

	if err := goose.Up(sqlDB, "migrations"); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "migrations failed", err)
	}
	return nil
}
