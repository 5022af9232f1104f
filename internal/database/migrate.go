package database

import (
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/spf13/viper"
)

// RunMigrations applies pending schema migrations against the given
// connection. ErrNoChange is not an error.
func RunMigrations(db *sql.DB) error {
	viper.SetDefault("database.migrations_path", "file://migrations")

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("error creating migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		viper.GetString("database.migrations_path"), "postgres", driver)
	if err != nil {
		return fmt.Errorf("error creating migrator: %w", err)
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Println("Database schema up to date")
			return nil
		}
		return fmt.Errorf("error applying migrations: %w", err)
	}

	log.Println("Database migrations applied")
	return nil
}
