// Package migrate creates the event tables the report reads from, for
// development and integration environments.
package migrate

import (
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/golang-migrate/migrate/v4"
	chmigrate "github.com/golang-migrate/migrate/v4/database/clickhouse"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/jazware/engagement-report/pkg/config"
	"github.com/jazware/engagement-report/pkg/store"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Source returns the embedded migrations.
func Source() (source.Driver, error) {
	return iofs.New(migrations, "migrations")
}

type Migrator struct {
	cfg    config.ClickHouse
	logger *slog.Logger
}

func NewMigrator(cfg config.ClickHouse, logger *slog.Logger) *Migrator {
	return &Migrator{cfg: cfg, logger: logger.With("component", "migrate")}
}

func (m *Migrator) open() (*migrate.Migrate, error) {
	src, err := Source()
	if err != nil {
		return nil, fmt.Errorf("failed to load migrations: %w", err)
	}

	db := clickhouse.OpenDB(store.Options(m.cfg))
	driver, err := chmigrate.WithInstance(db, &chmigrate.Config{
		DatabaseName:          m.cfg.Database,
		MultiStatementEnabled: true,
	})
	if err != nil {
		db.Close()
		return nil, &store.ConnectionError{Address: m.cfg.Address, Err: err}
	}

	mg, err := migrate.NewWithInstance("iofs", src, "clickhouse", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}
	mg.Log = migrateLogger{m.logger}
	return mg, nil
}

func closeMigrate(mg *migrate.Migrate) error {
	srcErr, dbErr := mg.Close()
	return errors.Join(srcErr, dbErr)
}

// Up applies every pending migration.
func (m *Migrator) Up() (err error) {
	mg, err := m.open()
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, closeMigrate(mg)) }()

	if err := mg.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			m.logger.Info("schema is up to date")
			return nil
		}
		return err
	}
	m.logger.Info("migrations applied")
	return nil
}

// Down rolls back the given number of migrations.
func (m *Migrator) Down(steps int) (err error) {
	if steps < 1 {
		return fmt.Errorf("steps must be positive, got %d", steps)
	}
	mg, err := m.open()
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, closeMigrate(mg)) }()

	if err := mg.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	m.logger.Info("migrations rolled back", "steps", steps)
	return nil
}

func (m *Migrator) Version() (version uint, dirty bool, err error) {
	mg, err := m.open()
	if err != nil {
		return 0, false, err
	}
	defer func() { err = errors.Join(err, closeMigrate(mg)) }()

	version, dirty, err = mg.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

// Force sets the recorded version without running migrations, to clear a dirty state.
func (m *Migrator) Force(version int) (err error) {
	mg, err := m.open()
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, closeMigrate(mg)) }()
	return mg.Force(version)
}

type migrateLogger struct {
	logger *slog.Logger
}

func (l migrateLogger) Printf(format string, v ...any) {
	l.logger.Info(fmt.Sprintf(format, v...))
}

func (l migrateLogger) Verbose() bool {
	return false
}
