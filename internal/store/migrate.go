package store

import (
	"embed"
	"errors"
	"fmt"

	"pos-gateway/internal/util"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

type migrationLogger struct {
	logger *zap.Logger
}

func (l migrationLogger) Printf(format string, v ...any) {
	l.logger.Sugar().Infof(format, v...)
}

func (l migrationLogger) Verbose() bool {
	return false
}

// Migrate applies the embedded schema migrations
func (s *Store) Migrate() error {
	logger := util.GetLogger()

	source, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open migrations: %w", err)
	}

	driver, err := postgres.WithInstance(s.db.DB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = migrationLogger{logger: logger}

	previous, _, _ := m.Version()

	err = m.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		logger.Info("No new migrations to apply", zap.Uint("version", previous))
		return nil
	}
	if err != nil {
		version, dirty, _ := m.Version()
		logger.Error("Failed to apply migrations",
			zap.Uint("version", version),
			zap.Bool("dirty", dirty),
			zap.Error(err))
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, _, _ := m.Version()
	logger.Info("Successfully applied migrations",
		zap.Uint("from", previous),
		zap.Uint("to", version))
	return nil
}
