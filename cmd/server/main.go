package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/PortNumber53/dashmetrics/backend/internal/auth"
	"github.com/PortNumber53/dashmetrics/backend/internal/catalog"
	"github.com/PortNumber53/dashmetrics/backend/internal/checkout"
	"github.com/PortNumber53/dashmetrics/backend/internal/config"
	"github.com/PortNumber53/dashmetrics/backend/internal/handlers"
	"github.com/PortNumber53/dashmetrics/backend/internal/httpserver"
	"github.com/PortNumber53/dashmetrics/backend/internal/migrations"
	"github.com/PortNumber53/dashmetrics/backend/internal/observability"
	"github.com/PortNumber53/dashmetrics/backend/internal/ordercache"
	"github.com/PortNumber53/dashmetrics/backend/internal/payments"
	"github.com/PortNumber53/dashmetrics/backend/internal/razorpay"
	"github.com/PortNumber53/dashmetrics/backend/internal/store"
)

// repository is what both store adapters provide.
type repository interface {
	payments.UserRepository
	payments.PaymentRepository
	handlers.UserSyncer
}

func main() {
	// Best-effort: load environment variables from .env-style files in local
	// development. These calls are safe to ignore in production environments.
	_ = godotenv.Load(
		"../.env",
		".env",
	)

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("failed to load configuration: %v", err)
	}

	log, err := observability.NewLogger(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	if err != nil {
		logrus.Fatalf("failed to configure logging: %v", err)
	}

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelStartup()

	var (
		repo   repository
		pinger handlers.Pinger
	)
	if cfg.UsesDatabase() {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("failed to open database: %v", err)
		}
		defer db.Close()

		logDBTarget(log, "primary", cfg.DatabaseURL)
		configureDB(db)

		if err := db.PingContext(startupCtx); err != nil {
			log.Fatalf("failed to ping database: %v", err)
		}
		if err := runMigrationsWithDirtyFix(db, log); err != nil {
			log.Fatalf("failed to apply database migrations: %v", err)
		}

		pg, err := store.New(db)
		if err != nil {
			log.Fatalf("failed to create store: %v", err)
		}
		repo, pinger = pg, db
	} else {
		mem := store.NewMemory()
		if cfg.SeedDemoData {
			demo := mem.SeedDemo()
			log.WithField("email", demo.Email).Info("seeded demo user")
		}
		log.Warn("DATABASE_URL not set; using in-memory store")
		repo = mem
	}

	metrics := observability.NewMetrics()
	gateway := razorpay.NewClient(cfg.RazorpayKeyID, cfg.RazorpayKeySecret,
		razorpay.WithBaseURL(cfg.RazorpayBaseURL),
		razorpay.WithTimeout(cfg.GatewayTimeout),
	)

	var cache ordercache.Cache
	if cfg.RedisURL != "" {
		rc, err := ordercache.Connect(startupCtx, cfg.RedisURL, cfg.OrderCacheTTL)
		if err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		defer rc.Close()
		cache = rc
	} else {
		cache = ordercache.NewMemory(0, cfg.OrderCacheTTL)
	}

	var verifier auth.TokenVerifier
	if cfg.FirebaseProjectID != "" {
		fv, err := auth.NewFirebaseVerifier(startupCtx, cfg.FirebaseProjectID)
		if err != nil {
			log.Fatalf("failed to set up firebase token verification: %v", err)
		}
		verifier = fv
	} else {
		log.Warn("FIREBASE_PROJECT_ID not set; every request is anonymous")
	}

	svc, err := payments.NewService(payments.Deps{
		Catalog:   catalog.MustDefault(),
		Gateway:   gateway,
		Orders:    ordercache.NewFetcher(cache, gateway, log, metrics),
		Users:     repo,
		Payments:  repo,
		Checkouts: checkout.NewTracker(cfg.CheckoutTTL),
		Policy:    cfg.Policy(),
		KeyID:     gateway.KeyID(),
		KeySecret: cfg.RazorpayKeySecret,
		Metrics:   metrics,
		Log:       log,
	})
	if err != nil {
		log.Fatalf("failed to create payments service: %v", err)
	}

	srv, err := httpserver.New(cfg, httpserver.Deps{
		Payments: svc,
		Users:    repo,
		Verifier: verifier,
		Metrics:  metrics,
		DB:       pinger,
		Log:      log,
	})
	if err != nil {
		log.Fatalf("failed to create http server: %v", err)
	}

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-shutdownCtx.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.WithError(err).Error("graceful shutdown failed")
		}
	}()

	log.WithFields(logrus.Fields{
		"addr":   cfg.ServerAddress,
		"policy": cfg.EntitlementPolicy,
	}).Info("backend starting")
	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Error("server exited with error")
		os.Exit(1)
	}
}

func configureDB(db *sql.DB) {
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
}

func runMigrationsWithDirtyFix(db *sql.DB, log logrus.FieldLogger) error {
	if err := migrations.Up(db, log); err != nil {
		if strings.Contains(err.Error(), "Dirty database version") {
			log.WithError(err).Warn("migrations: dirty database detected, attempting to fix")
			if fixErr := migrations.FixDirtyDatabase(db, log); fixErr != nil {
				log.WithError(fixErr).Error("migrations: failed to fix dirty database")
				return err
			}
			return nil
		}
		return err
	}
	return nil
}

func logDBTarget(log logrus.FieldLogger, name, dsn string) {
	// Avoid logging secrets: only log hostname + database path.
	u, err := url.Parse(dsn)
	if err != nil {
		log.WithError(err).WithField("db", name).Info("db configured (dsn parse error)")
		return
	}
	log.WithFields(logrus.Fields{
		"db":       name,
		"host":     u.Hostname(),
		"database": strings.TrimPrefix(u.Path, "/"),
	}).Info("db configured")
}
