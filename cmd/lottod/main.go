// Package main runs the pooled lottery service daemon.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/R3E-Network/lotto_layer/internal/app"
	"github.com/R3E-Network/lotto_layer/internal/config"
	"github.com/R3E-Network/lotto_layer/internal/httpapi"
	"github.com/R3E-Network/lotto_layer/internal/metrics"
	"github.com/R3E-Network/lotto_layer/internal/middleware"
	"github.com/R3E-Network/lotto_layer/internal/storage/postgres"
	"github.com/R3E-Network/lotto_layer/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "lottod: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(logger.LoggingConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}).WithField("service", "lottod")

	stores := app.Stores{}
	if dsn := cfg.Database.DSN; dsn != "" {
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()
		db.SetMaxOpenConns(25)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.Ping(); err != nil {
			return fmt.Errorf("ping database: %w", err)
		}
		store := postgres.New(db)
		if err := store.EnsureSchema(context.Background()); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
		stores = app.Stores{Rounds: store, Randomness: store, Settlements: store}
		log.Info("using postgres storage")
	} else {
		log.Warn("no database dsn configured; using in-memory storage")
	}

	m := metrics.New()

	application, err := app.New(cfg, stores, app.Options{Metrics: m}, log)
	if err != nil {
		return fmt.Errorf("build application: %w", err)
	}

	router := mux.NewRouter()
	router.Use(middleware.NewCORSMiddleware(cfg.Server.AllowedOrigins).Handler)
	router.Use(middleware.MetricsMiddleware(m))
	router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	router.Handle("/metrics", m.Handler()).Methods(http.MethodGet)

	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth jwt_secret is required")
	}
	auth := middleware.NewAuthMiddleware([]byte(cfg.Auth.JWTSecret), log, []string{"/healthz", "/metrics"})
	router.Use(auth.Handler)

	httpapi.NewHandler(application.Lotto, application.Randomness, application.Settlement, log).Register(router)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", server.Addr).Info("http server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case sig := <-sigCh:
		log.WithField("signal", sig.String()).Info("shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http server shutdown")
	}
	if err := application.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("service shutdown")
	}
	return nil
}
