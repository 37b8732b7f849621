package db

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/sirupsen/logrus"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrator applies the embedded schema migrations.
type Migrator struct {
	m   *migrate.Migrate
	log *logrus.Logger
}

// NewMigrator opens a migrator for databaseURL, which must use the pgx5://
// scheme (see config.Config.MigrateURL).
func NewMigrator(databaseURL string, log *logrus.Logger) (*Migrator, error) {
	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return nil, fmt.Errorf("open embedded migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("init migrate: %w", err)
	}
	return &Migrator{m: m, log: log}, nil
}

// Up applies all pending migrations.
func (mg *Migrator) Up() error {
	return mg.done("up", mg.m.Up())
}

// Down rolls back every migration.
func (mg *Migrator) Down() error {
	return mg.done("down", mg.m.Down())
}

// Steps migrates n steps forward (n > 0) or back (n < 0).
func (mg *Migrator) Steps(n int) error {
	return mg.done(fmt.Sprintf("steps %d", n), mg.m.Steps(n))
}

func (mg *Migrator) done(op string, err error) error {
	if errors.Is(err, migrate.ErrNoChange) {
		mg.log.WithField("op", op).Info("schema already up to date")
		return nil
	}
	if err != nil {
		return fmt.Errorf("migrate %s: %w", op, err)
	}

	version, dirty, verr := mg.m.Version()
	if verr != nil && !errors.Is(verr, migrate.ErrNilVersion) {
		return fmt.Errorf("read schema version: %w", verr)
	}
	mg.log.WithFields(logrus.Fields{
		"op":      op,
		"version": version,
		"dirty":   dirty,
	}).Info("migration applied")
	return nil
}

func (mg *Migrator) Close() error {
	srcErr, dbErr := mg.m.Close()
	return errors.Join(srcErr, dbErr)
}
