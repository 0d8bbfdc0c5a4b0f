// Package migration applies the SQL files under migrations/ with golang-migrate.
package migration

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// Status describes the schema version recorded in the database.
type Status struct {
	Version uint
	Dirty   bool
	Empty   bool
}

// Up applies every pending migration.
func Up(databaseURL, dir string, logger *slog.Logger) error {
	return run(databaseURL, dir, logger, func(m *migrate.Migrate) error {
		return m.Up()
	})
}

// Down rolls back the most recent migration.
func Down(databaseURL, dir string, logger *slog.Logger) error {
	return run(databaseURL, dir, logger, func(m *migrate.Migrate) error {
		return m.Steps(-1)
	})
}

// CurrentStatus reports the applied schema version.
func CurrentStatus(databaseURL, dir string, logger *slog.Logger) (Status, error) {
	var status Status
	err := withMigrator(databaseURL, dir, logger, func(m *migrate.Migrate) error {
		version, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			status.Empty = true
			return nil
		}
		if err != nil {
			return fmt.Errorf("read schema version: %w", err)
		}
		status.Version = version
		status.Dirty = dirty
		return nil
	})
	return status, err
}

func run(databaseURL, dir string, logger *slog.Logger, step func(*migrate.Migrate) error) error {
	return withMigrator(databaseURL, dir, logger, func(m *migrate.Migrate) error {
		from, dirty, err := m.Version()
		if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
			return fmt.Errorf("read schema version: %w", err)
		}
		if dirty {
			return fmt.Errorf("database is dirty at version %d", from)
		}

		if err := step(m); err != nil {
			if errors.Is(err, migrate.ErrNoChange) {
				logger.Info("schema already up to date", slog.Uint64("version", uint64(from)))
				return nil
			}
			return fmt.Errorf("apply migrations: %w", err)
		}

		to, _, _ := m.Version()
		logger.Info("schema migrated",
			slog.Uint64("from_version", uint64(from)),
			slog.Uint64("to_version", uint64(to)),
		)
		return nil
	})
}

func withMigrator(databaseURL, dir string, logger *slog.Logger, fn func(*migrate.Migrate) error) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolve migrations directory: %w", err)
	}

	m, err := migrate.New("file://"+filepath.ToSlash(abs), PgxURL(databaseURL))
	if err != nil {
		return fmt.Errorf("initialise migrator: %w", err)
	}
	defer func() {
		srcErr, dbErr := m.Close()
		if srcErr != nil {
			logger.Warn("close migration source", slog.Any("error", srcErr))
		}
		if dbErr != nil {
			logger.Warn("close migration database", slog.Any("error", dbErr))
		}
	}()
	m.Log = &migrateLogger{logger: logger}

	return fn(m)
}

// PgxURL rewrites a postgres:// URL into the pgx5:// scheme registered by the
// golang-migrate pgx driver.
func PgxURL(databaseURL string) string {
	for _, prefix := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(databaseURL, prefix) {
			return "pgx5://" + strings.TrimPrefix(databaseURL, prefix)
		}
	}
	return databaseURL
}

type migrateLogger struct {
	logger *slog.Logger
}

func (l *migrateLogger) Printf(format string, args ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *migrateLogger) Verbose() bool { return false }
