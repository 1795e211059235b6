package handlers

import (
	"net/http"

	"ledger/internal/config"
	"ledger/internal/db"
	"ledger/internal/middleware"
	"ledger/internal/websocket"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Handler struct {
	txRunner db.TxRunner
	cfg      config.Config
	users    UserStore
	accounts AccountStore
	ledger   LedgerService
	topup    TopUpService
	webhooks WebhookProcessor
	audit    AuditStore
	hub      *websocket.Hub
}

func New(txRunner db.TxRunner, cfg config.Config, users UserStore, accounts AccountStore, ledger LedgerService, topup TopUpService, webhooks WebhookProcessor, audit AuditStore, hub *websocket.Hub) *Handler {
	return &Handler{
		txRunner: txRunner,
		cfg:      cfg,
		users:    users,
		accounts: accounts,
		ledger:   ledger,
		topup:    topup,
		webhooks: webhooks,
		audit:    audit,
		hub:      hub,
	}
}

func (h *Handler) Routes() http.Handler {
	router := chi.NewRouter()
	router.Use(chimiddleware.Logger)
	router.Use(middleware.HTTPMetrics)
	router.Use(middleware.RateLimit(h.cfg.RateLimitRPS))
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{h.cfg.AllowedOrigins},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	router.Route("/auth", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
		r.With(middleware.Auth(h.cfg.JWTSecret)).Get("/me", h.Me)
	})

	router.With(middleware.Auth(h.cfg.JWTSecret)).Get("/balance", h.GetBalance)
	router.With(middleware.Auth(h.cfg.JWTSecret)).Post("/balance/adjust", h.AdjustBalance)
	router.With(middleware.Auth(h.cfg.JWTSecret)).Get("/balance/self-check", h.SelfCheck)
	router.With(middleware.Auth(h.cfg.JWTSecret)).Get("/transactions", h.ListTransactions)
	router.With(middleware.Auth(h.cfg.JWTSecret)).Get("/transactions/{id}", h.GetTransaction)
	router.With(middleware.Auth(h.cfg.JWTSecret)).Post("/payment/session", h.CreateTopUpSession)
	router.With(middleware.Auth(h.cfg.JWTSecret)).Get("/payment/session/verify", h.VerifyTopUpSession)
	router.With(middleware.Auth(h.cfg.JWTSecret)).Get("/audit", h.ListAuditLogs)

	// The provider signs webhook deliveries; the signature replaces bearer
	// auth on this route.
	router.Post("/payment/webhook", h.PaymentWebhook)

	router.Get("/ws/balances", h.WSBalances)
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return router
}
