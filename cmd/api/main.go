package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/cors"

	"github.com/intervia/backend/internal/auth"
	"github.com/intervia/backend/internal/config"
	"github.com/intervia/backend/internal/handlers"
	"github.com/intervia/backend/internal/intake"
	"github.com/intervia/backend/internal/repository"
	"github.com/intervia/backend/internal/router"
	"github.com/intervia/backend/internal/services"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.New()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Unable to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		slog.Error("Cannot reach PostgreSQL. Ensure Postgres is running, e.g. docker-compose up -d", "error", err)
		os.Exit(1)
	}
	slog.Info("Connected to PostgreSQL")

	if err := repository.RunMigrations(ctx, cfg.DatabaseURL, "up"); err != nil {
		slog.Error("Schema migrations failed", "error", err)
		os.Exit(1)
	}

	// River migrations
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		slog.Error("Failed to create River migrator", "error", err)
		os.Exit(1)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		slog.Error("River migrate up failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Migrations applied")

	// Escrow engine over the ledger and projections
	accountRepo := repository.NewAccountRepo(pool)
	earningsRepo := repository.NewEarningsRepo(pool)
	ledgerRepo := repository.NewLedgerRepo(pool)
	engine := services.NewEscrowEngine(pool, accountRepo, earningsRepo, ledgerRepo, logger)

	// Optional short-TTL balance cache
	var cache *redis.Client
	if cfg.RedisAddr != "" {
		cache = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := cache.Ping(ctx).Err(); err != nil {
			slog.Warn("Redis unreachable, balance reads will skip the cache", "error", err)
		}
	}
	querySvc := services.NewQueryService(accountRepo, earningsRepo, ledgerRepo, cache, logger)

	// Durable event pipeline
	workers := river.NewWorkers()
	river.AddWorker(workers, intake.NewApplyCreditEventWorker(engine, logger))

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 10},
		},
		Workers: workers,
	})
	if err != nil {
		slog.Error("Failed to create River client", "error", err)
		os.Exit(1)
	}
	go func() {
		if err := riverClient.Start(ctx); err != nil && ctx.Err() == nil {
			slog.Error("River client stopped", "error", err)
		}
	}()

	if cfg.NatsURL != "" {
		nc, err := nats.Connect(cfg.NatsURL)
		if err != nil {
			slog.Error("Failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer nc.Close()

		listener := intake.NewListener(nc, riverClient, logger)
		go func() {
			if err := listener.Start(ctx); err != nil && ctx.Err() == nil {
				slog.Error("Event intake stopped", "error", err)
			}
		}()
	} else {
		slog.Warn("NATS_URL not set, event intake disabled")
	}

	// Auth + read API
	authRepo := auth.NewRepository(pool)
	authSvc := auth.NewService(authRepo, cfg.JWTSecret)
	authHandler := auth.NewHandler(authSvc, engine, cfg.InitialCredits, logger)

	creditHandler := &handlers.CreditHandler{Query: querySvc, Logger: logger}

	apiRouter := router.New(authHandler, creditHandler, authSvc)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}).Handler(apiRouter)

	srv := &http.Server{
		Addr:    "0.0.0.0:" + cfg.Port,
		Handler: corsHandler,
	}

	go func() {
		slog.Info("Starting HTTP server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown failed", "error", err)
	}
	if err := riverClient.Stop(shutdownCtx); err != nil {
		slog.Error("River shutdown failed", "error", err)
	}
}
