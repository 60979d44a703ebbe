package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/PortNumber53/dashmetrics/backend/internal/config"
	"github.com/PortNumber53/dashmetrics/backend/internal/migrations"
	"github.com/PortNumber53/dashmetrics/backend/internal/observability"
)

func main() {
	_ = godotenv.Load(
		"../.env",
		".env",
	)

	cfg, err := config.LoadDatabase()
	if err != nil {
		logrus.Fatalf("failed to load configuration: %v", err)
	}

	log, err := observability.NewLogger(cfg.LogLevel, "text", os.Stderr)
	if err != nil {
		logrus.Fatalf("failed to configure logging: %v", err)
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("failed to ping database: %v", err)
	}

	cmd := "up"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	switch cmd {
	case "up":
		log.Info("applying migrations")
		if err := migrations.Up(db, log); err != nil {
			log.Fatalf("failed to apply migrations: %v", err)
		}
		log.Info("migrations applied successfully")

	case "fix":
		log.Info("attempting to fix dirty database")
		if err := migrations.FixDirtyDatabase(db, log); err != nil {
			log.Fatalf("failed to fix dirty database: %v", err)
		}
		log.Info("database fixed successfully")

	case "force":
		if len(os.Args) < 3 {
			log.Fatalf("usage: %s force <version>", os.Args[0])
		}
		var v uint
		if _, err := fmt.Sscanf(os.Args[2], "%d", &v); err != nil {
			log.Fatalf("invalid version number: %s", os.Args[2])
		}

		log.WithField("version", v).Info("forcing database version")
		if err := migrations.ForceVersion(db, v); err != nil {
			log.Fatalf("failed to force version: %v", err)
		}
		log.WithField("version", v).Info("database version forced")

	case "version", "status":
		version, dirty, err := migrations.Version(db)
		if err != nil {
			log.Fatalf("failed to read migration version: %v", err)
		}
		log.WithFields(logrus.Fields{"version": version, "dirty": dirty}).Info("migration status")

	default:
		fmt.Fprintf(os.Stderr, "Usage: %s [up|fix|force <version>|version]\n", os.Args[0])
		os.Exit(1)
	}
}
