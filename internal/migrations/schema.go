package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/sirupsen/logrus"
)

// sqlFS contains the embedded SQL migration files.
//
//go:embed sql/*.sql
var sqlFS embed.FS

func newMigrator(db *sql.DB) (*migrate.Migrate, error) {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("migrations: create postgres driver: %w", err)
	}

	sourceDriver, err := iofs.New(sqlFS, "sql")
	if err != nil {
		return nil, fmt.Errorf("migrations: open embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("migrations: init migrate instance: %w", err)
	}
	return m, nil
}

// Up applies all pending database migrations. It is safe to call multiple
// times; when the database schema is up to date, the function is a no-op.
func Up(db *sql.DB, log logrus.FieldLogger) error {
	m, err := newMigrator(db)
	if err != nil {
		return err
	}

	currentVersion := uint(0)
	if v, dirty, verr := m.Version(); verr == nil {
		currentVersion = v
		log.WithFields(logrus.Fields{"version": v, "dirty": dirty}).Info("migrations: current database schema version")
	} else if errors.Is(verr, migrate.ErrNilVersion) {
		log.Info("migrations: no existing migration version (fresh database)")
	} else {
		log.WithError(verr).Warn("migrations: unable to determine current version")
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.WithField("version", currentVersion).Info("migrations: database is up to date")
			return nil
		}
		return fmt.Errorf("migrations: apply: %w", err)
	}

	if v, _, err := m.Version(); err == nil {
		log.WithField("version", v).Info("migrations: applied; new schema version")
	} else {
		log.WithError(err).Warn("migrations: applied but failed to read new version")
	}
	return nil
}

// Version reports the current schema version. A fresh database reports 0.
func Version(db *sql.DB) (uint, bool, error) {
	m, err := newMigrator(db)
	if err != nil {
		return 0, false, err
	}
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("migrations: read version: %w", err)
	}
	return v, dirty, nil
}

// ForceVersion marks the schema as being at version v without running any
// migration and clears the dirty flag.
func ForceVersion(db *sql.DB, v uint) error {
	m, err := newMigrator(db)
	if err != nil {
		return err
	}
	if err := m.Force(int(v)); err != nil {
		return fmt.Errorf("migrations: force version %d: %w", v, err)
	}
	return nil
}

// FixDirtyDatabase rolls a dirty schema back to the last clean version and
// re-applies pending migrations. A clean database is left untouched apart
// from applying pending migrations.
func FixDirtyDatabase(db *sql.DB, log logrus.FieldLogger) error {
	m, err := newMigrator(db)
	if err != nil {
		return err
	}

	v, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		log.Info("migrations: fresh database, nothing to fix")
	case err != nil:
		return fmt.Errorf("migrations: read version: %w", err)
	case dirty:
		previous := int(v) - 1
		if previous < 1 {
			previous = -1
		}
		log.WithFields(logrus.Fields{"dirty_version": v, "forced_version": previous}).Warn("migrations: forcing dirty database back")
		if err := m.Force(previous); err != nil {
			return fmt.Errorf("migrations: force version %d: %w", previous, err)
		}
	default:
		log.WithField("version", v).Info("migrations: database is not dirty")
	}

	return Up(db, log)
}
