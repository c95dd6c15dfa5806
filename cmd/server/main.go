package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"paygate/internal/commission"
	"paygate/internal/config"
	"paygate/internal/db"
	"paygate/internal/fx"
	"paygate/internal/handlers"
	"paygate/internal/notify"
	"paygate/internal/provider"
	"paygate/internal/resilience"
	"paygate/internal/services"
	"paygate/internal/store"
	"paygate/internal/websocket"
)

func main() {
	cfg := config.Load()

	logger, err := buildLogger(cfg.AppEnv)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	database, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to connect database", zap.Error(err))
	}
	defer database.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	wallets := store.NewWalletStore(database)
	transactions := store.NewTransactionStore(database)
	deposits := store.NewDepositStore(database)
	webhookEvents := store.NewWebhookEventStore(database)
	idempotencyKeys := store.NewIdempotencyStore(database)
	commissionRules := store.NewCommissionStore(database)
	swapQuotes := store.NewSwapQuoteStore(database)
	fxRates := store.NewRateStore(database)
	audit := store.NewAuditStore(database)
	txRunner := db.NewTxRunner(database)

	caller := resilience.NewCaller()
	httpClient := &http.Client{Timeout: 15 * time.Second}
	registry := provider.NewRegistry(
		provider.NewCardgate(cfg.Cardgate.BaseURL, cfg.Cardgate.Secret, httpClient, caller, logger),
		provider.NewBankwire(cfg.Bankwire.BaseURL, cfg.Bankwire.Secret, httpClient, caller, logger),
		provider.NewCryptopay(cfg.Cryptopay.BaseURL, cfg.Cryptopay.Secret, httpClient, caller, logger),
	)

	rateSource := fx.NewHTTPSource(cfg.RateSourceURL, httpClient, caller)
	rateTable := fx.NewTable(rateSource, fx.NewStoreSnapshot(fxRates), cfg.RateMaxAge, logger)

	hub := websocket.NewHub()
	notifier := notify.New(cfg.NotifyURL, httpClient, caller, logger)

	feeEngine := commission.NewEngine(commissionAdapter{rules: commissionRules}, map[string]decimal.Decimal{
		"premium": decimal.RequireFromString("0.5"),
		"vip":     decimal.Zero,
	})
	idem := services.NewIdempotencyService(idempotencyKeys)

	slippage, err := decimal.NewFromString(cfg.SlippageTolerance)
	if err != nil {
		logger.Fatal("invalid slippage tolerance", zap.String("value", cfg.SlippageTolerance), zap.Error(err))
	}
	verifyOver, err := decimal.NewFromString(cfg.WithdrawVerifyOver)
	if err != nil {
		logger.Fatal("invalid withdraw verification threshold", zap.String("value", cfg.WithdrawVerifyOver), zap.Error(err))
	}

	ledger := services.NewLedgerService(txRunner, wallets, transactions, swapQuotes, feeEngine, rateTable, idem, hub, notifier, slippage, verifyOver, logger)
	payments := services.NewPaymentService(txRunner, wallets, transactions, deposits, registry, idem, hub, notifier, cfg.DepositTTL, logger)
	webhooks := services.NewWebhookService(txRunner, registry, webhookEvents, payments, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rateTable.Run(ctx, cfg.RateRefreshInterval, parsePairs(cfg.RatePairs))
	go payments.RunSweeper(ctx, cfg.SweepInterval)

	handler := handlers.New(cfg, txRunner, wallets, transactions, commissionRules, audit, webhookEvents, ledger, payments, webhooks, hub, rdb, logger)
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("payment API listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	<-shutdown
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("shutdown error", zap.Error(err))
	}
}

func buildLogger(appEnv string) (*zap.Logger, error) {
	if appEnv == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

// commissionAdapter bridges the commission_rules table rows to the engine's
// rule type.
type commissionAdapter struct {
	rules *store.CommissionStore
}

func (a commissionAdapter) Resolve(ctx context.Context, txType, currency string) ([]commission.Rule, error) {
	rows, err := a.rules.Resolve(ctx, txType, currency)
	if err != nil {
		return nil, err
	}
	resolved := make([]commission.Rule, 0, len(rows))
	for _, row := range rows {
		resolved = append(resolved, commission.Rule{
			TxType:    row.TxType,
			Currency:  row.Currency,
			Kind:      row.Kind,
			Value:     row.Value,
			MinFee:    row.MinFee,
			MaxFee:    row.MaxFee,
			PlanTiers: row.PlanTiers,
		})
	}
	return resolved, nil
}

func parsePairs(raw []string) [][2]string {
	pairs := make([][2]string, 0, len(raw))
	for _, pair := range raw {
		for i := 0; i < len(pair); i++ {
			if pair[i] == '/' {
				pairs = append(pairs, [2]string{pair[:i], pair[i+1:]})
				break
			}
		}
	}
	return pairs
}
