// Command booking-migrate applies the embedded booking-service schema.
//
//	booking-migrate            apply every pending migration
//	booking-migrate down       roll back one migration
//	booking-migrate force N    mark version N as applied after a failed run
package main

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/md-rashed-zaman/barberbook/libs/config"
	"github.com/md-rashed-zaman/barberbook/libs/runtime"
	"github.com/md-rashed-zaman/barberbook/services/booking-service/migrations"
)

func main() {
	logger := runtime.NewLogger("booking-migrate")
	if err := run(os.Args[1:]); err != nil {
		logger.Error("migration failed", "err", err)
		os.Exit(1)
	}
	logger.Info("migrations complete")
}

func run(args []string) error {
	if err := config.LoadDotenv(); err != nil {
		return err
	}
	databaseURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		return err
	}

	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer func() { _ = db.Close() }()
	if err := db.Ping(); err != nil {
		return fmt.Errorf("ping db: %w", err)
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: "booking_schema_migrations"})
	if err != nil {
		return fmt.Errorf("db driver: %w", err)
	}
	srcDriver, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("source driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", srcDriver, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	cmd := "up"
	if len(args) > 0 {
		cmd = args[0]
	}
	switch cmd {
	case "up":
		err = m.Up()
	case "down":
		err = m.Steps(-1)
	case "force":
		if len(args) < 2 {
			return errors.New("usage: booking-migrate force <version>")
		}
		version, convErr := strconv.Atoi(args[1])
		if convErr != nil {
			return fmt.Errorf("invalid version: %w", convErr)
		}
		err = m.Force(version)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate %s: %w", cmd, err)
	}
	return nil
}
