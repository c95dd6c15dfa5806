package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"paygate/internal/config"
	"paygate/internal/db"
	"paygate/internal/middleware"
	"paygate/internal/services"
	"paygate/internal/websocket"
)

type Handler struct {
	cfg          config.Config
	txRunner     db.TxRunner
	wallets      WalletStore
	transactions TransactionStore
	commission   CommissionStore
	audit        AuditStore
	events       WebhookEventStore
	ledger       LedgerService
	payments     PaymentService
	webhooks     WebhookService
	hub          *websocket.Hub
	rdb          *redis.Client
	log          *zap.Logger
}

func New(
	cfg config.Config,
	txRunner db.TxRunner,
	wallets WalletStore,
	transactions TransactionStore,
	commission CommissionStore,
	audit AuditStore,
	events WebhookEventStore,
	ledger LedgerService,
	payments PaymentService,
	webhooks WebhookService,
	hub *websocket.Hub,
	rdb *redis.Client,
	log *zap.Logger,
) *Handler {
	return &Handler{
		cfg:          cfg,
		txRunner:     txRunner,
		wallets:      wallets,
		transactions: transactions,
		commission:   commission,
		audit:        audit,
		events:       events,
		ledger:       ledger,
		payments:     payments,
		webhooks:     webhooks,
		hub:          hub,
		rdb:          rdb,
		log:          log,
	}
}

func (h *Handler) Routes() http.Handler {
	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{h.cfg.AllowedOrigins},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	auth := middleware.Auth(h.cfg.JWTSecret)
	moveLimit := middleware.RateLimit(h.rdb, h.cfg.RateLimitPerMinute, time.Minute, h.cfg.RateLimitBlock, "paygate:move", h.log)

	router.Route("/payment", func(r chi.Router) {
		r.Use(auth)
		r.Post("/initialize", h.InitializePayment)
		r.Get("/status/{reference}", h.PaymentStatus)
	})

	router.Route("/wallet", func(r chi.Router) {
		r.Use(auth)
		r.Post("/deposit/card", h.DepositCard)
		r.Post("/deposit/bank", h.DepositBank)
		r.Post("/deposit/crypto", h.DepositCrypto)
		r.With(moveLimit, middleware.RequireConsent("payouts")).Post("/withdraw", h.Withdraw)
		r.With(moveLimit).Post("/transfer/internal", h.Transfer)
		r.Post("/swap/preview", h.SwapPreview)
		r.With(moveLimit).Post("/swap/execute", h.SwapExecute)
	})

	router.With(auth).Get("/wallets", h.ListWallets)
	router.With(auth).Get("/wallets/{id}", h.GetWallet)
	router.With(auth).Get("/transactions", h.ListTransactions)
	router.Get("/ws/balances", h.WSBalances)

	router.Post("/webhooks/{provider}", h.Webhook)

	router.Route("/admin", func(r chi.Router) {
		r.Use(auth, middleware.RequireAdmin())
		r.Get("/commission-rules", h.ListCommissionRules)
		r.Post("/commission-rules", h.UpsertCommissionRule)
		r.Get("/webhooks/unresolved", h.ListUnresolvedWebhooks)
		r.Post("/deposits/{reference}/confirm", h.ConfirmDeposit)
		r.Post("/deposits/{reference}/fail", h.FailDeposit)
		r.Post("/deposits/{reference}/reconcile", h.ReconcileDeposit)
		r.Post("/wallets/{id}/freeze", h.FreezeWallet)
		r.Get("/audit", h.ListAuditLogs)
	})

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	router.Handle("/metrics", promhttp.Handler())
	return router
}

func actorFrom(r *http.Request) (services.Actor, bool) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		return services.Actor{}, false
	}
	return services.Actor{
		UserID:   principal.UserID,
		Plan:     principal.Plan,
		Verified: principal.Verified,
		Admin:    principal.Admin,
	}, true
}
