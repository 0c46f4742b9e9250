package database

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/jmoiron/sqlx"

	"github.com/Ramsey-B/clover/config"
)

// Setup opens the postgres pool, applies pending migrations from the
// configured folder, and returns the wrapped DB. Startup fails when the
// schema cannot be brought to the target version.
func Setup(ctx context.Context, cfg config.Config, logger ectologger.Logger) (DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.DatabaseHost, cfg.DatabasePort, cfg.DatabaseUserName,
		cfg.DatabasePassword, cfg.DatabaseName, cfg.DatabaseSSLMode,
	)

	pool, err := sqlx.ConnectContext(ctx, cfg.DatabaseDriver, dsn)
	if err != nil {
		return nil, err
	}
	pool.SetMaxOpenConns(cfg.DatabaseMaxOpenConns)
	pool.SetMaxIdleConns(cfg.DatabaseMaxIdleConns)
	pool.SetConnMaxLifetime(cfg.DatabaseConnMaxLifetime)

	driver, err := migratepg.WithInstance(pool.DB, &migratepg.Config{})
	if err != nil {
		return nil, err
	}

	migrations := NewMigrationService(logger, &MigrationConfig{
		MigrationFolderPath: cfg.DatabaseMigrationFolderPath,
		Version:             uint(cfg.DatabaseMigrationVersion),
		Force:               cfg.DatabaseMigrationForce,
		AutoRollback:        cfg.DatabaseMigrationAutoRollback,
	})
	if err := migrations.Migrate(cfg.DatabaseName, driver); err != nil {
		return nil, err
	}

	return NewDatabaseInstance(pool, logger), nil
}
