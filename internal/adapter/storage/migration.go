package storage

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	_ "github.com/golang-migrate/migrate/v4/database/mysql"   // register mysql migrations
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3" // register sqlite3 migrations
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrate runs every pending up migration against driver://dsn.
func Migrate(driver, dsn string, verbose bool, log *zap.Logger) error {
	log.Info("Running database migration", zap.String("driver", driver))

	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("open embedded migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, driver+"://"+dsn)
	if err != nil {
		return fmt.Errorf("init migrate: %w", err)
	}
	defer m.Close()
	m.Log = newMigrationLogger(log, verbose)

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Info("Database migration: no change needed")
			return nil
		}
		log.Error("Database migration failed", zap.Error(err))
		return err
	}
	return nil
}

// ApplySchema executes the embedded up migrations directly. It serves
// in-memory SQLite databases, which a separate migrate connection cannot reach.
func ApplySchema(ctx context.Context, db *sqlx.DB) error {
	names, err := fs.Glob(migrationFiles, "migrations/*.up.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)

	for _, name := range names {
		stmt, err := migrationFiles.ReadFile(name)
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		if _, err := db.ExecContext(ctx, strings.TrimSpace(string(stmt))); err != nil {
			return fmt.Errorf("apply %s: %w", name, err)
		}
	}
	return nil
}

type migrationLogger struct {
	logger  *zap.Logger
	verbose bool
}

func newMigrationLogger(logger *zap.Logger, verbose bool) *migrationLogger {
	return &migrationLogger{logger: logger, verbose: verbose}
}

func (l *migrationLogger) Printf(format string, v ...any) {
	l.logger.Sugar().Infof("DB Migration: "+format, v...)
}

func (l *migrationLogger) Verbose() bool {
	return l.verbose
}
