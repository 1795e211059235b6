package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ledger/internal/config"
	"ledger/internal/db"
	"ledger/internal/gateway"
	"ledger/internal/handlers"
	"ledger/internal/idempotency"
	"ledger/internal/services"
	"ledger/internal/store"
	"ledger/internal/webhook"
	"ledger/internal/websocket"
	"ledger/internal/worker"
)

func main() {
	cfg := config.Load()
	logger := newLogger(cfg.AppEnv)
	slog.SetDefault(logger)

	database, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		logger.Error("connect database", "err", err)
		os.Exit(1)
	}
	defer database.Close()

	users := store.NewUserStore(database)
	accounts := store.NewAccountStore(database)
	transactions := store.NewTransactionStore(database)
	sessions := store.NewSessionStore(database)
	leases := store.NewLeaseStore(database)
	audit := store.NewAuditStore(database)
	txRunner := db.NewTxRunner(database)

	hub := websocket.NewHub()
	jobs := worker.NewPool(4)
	defer jobs.Stop()

	guard := idempotency.NewGuard(transactions, leases, cfg.LeaseTTL)
	ledgerService := services.NewLedgerService(txRunner, accounts, transactions, guard, hub, audit, jobs, logger)

	payments := gateway.NewClient(cfg.PaymentAPIBase, cfg.PaymentAPIKey)
	topupService := services.NewTopUpService(payments, sessions, transactions, ledgerService, services.TopUpConfig{
		Currency:      cfg.Currency,
		MinTopUpMinor: cfg.MinTopUpMinor,
		PublicBaseURL: cfg.PublicBaseURL,
	}, logger)
	reconciler := webhook.NewReconciler(cfg.WebhookSecret, cfg.WebhookTolerance, ledgerService, sessions, audit, jobs, logger)

	handler := handlers.New(txRunner, cfg, users, accounts, ledgerService, topupService, reconciler, audit, hub)
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("ledger API listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	<-shutdown

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "err", err)
		os.Exit(1)
	}
}

func newLogger(appEnv string) *slog.Logger {
	if appEnv == "production" {
		return slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}
