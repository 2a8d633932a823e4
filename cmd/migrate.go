package cmd

import (
	"errors"

	"github.com/golang-migrate/migrate/v4"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/vibast-solutions/ms-go-collections/migrations"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply or roll back database migrations",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	Run: func(_ *cobra.Command, _ []string) {
		runMigration(func(m *migrate.Migrate) error {
			if err := m.Up(); err != nil {
				if errors.Is(err, migrate.ErrNoChange) {
					logrus.Info("Database schema is up to date")
					return nil
				}
				return err
			}
			logrus.Info("Migrations applied")
			return nil
		})
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the latest migration",
	Run: func(_ *cobra.Command, _ []string) {
		runMigration(func(m *migrate.Migrate) error {
			if err := m.Steps(-1); err != nil {
				return err
			}
			logrus.Info("Latest migration rolled back")
			return nil
		})
	},
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the current schema version",
	Run: func(_ *cobra.Command, _ []string) {
		runMigration(func(m *migrate.Migrate) error {
			version, dirty, err := m.Version()
			if err != nil {
				if errors.Is(err, migrate.ErrNilVersion) {
					logrus.Info("No migrations applied yet")
					return nil
				}
				return err
			}
			logrus.WithFields(logrus.Fields{"version": version, "dirty": dirty}).Info("Current schema version")
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
	migrateCmd.AddCommand(migrateVersionCmd)
}

func runMigration(fn func(m *migrate.Migrate) error) {
	cfg := mustLoadConfig()
	db := mustOpenDatabase(cfg)

	source, err := iofs.New(migrations.Files, ".")
	if err != nil {
		logrus.WithError(err).Fatal("Failed to open migration files")
	}
	driver, err := migratemysql.WithInstance(db, &migratemysql.Config{})
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize migration driver")
	}
	m, err := migrate.NewWithInstance("iofs", source, "mysql", driver)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize migrations")
	}
	defer func() {
		if sourceErr, dbErr := m.Close(); sourceErr != nil || dbErr != nil {
			logrus.WithField("source_error", sourceErr).WithField("db_error", dbErr).Warn("Failed to close migration resources")
		}
	}()

	if err := fn(m); err != nil {
		logrus.WithError(err).Error("Migration failed")
	}
}
