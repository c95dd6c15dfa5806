package services

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"paygate/internal/commission"
	"paygate/internal/provider"
	"paygate/internal/store"
	"paygate/internal/websocket"
)

type WalletStore interface {
	GetByID(ctx context.Context, walletID string) (store.Wallet, error)
	GetByUserAndCurrency(ctx context.Context, userID, currency string) (store.Wallet, error)
	GetForUpdate(ctx context.Context, tx store.Getter, walletID string) (store.Wallet, error)
	UpdateBalances(ctx context.Context, tx store.Execer, walletID string, balance, available int64) error
	GetPlatformWallet(ctx context.Context, currency string) (string, error)
}

type TransactionStore interface {
	Create(ctx context.Context, tx store.Execer, input store.TransactionInput) error
}

type DepositStore interface {
	Create(ctx context.Context, tx store.Execer, input store.DepositRequestInput) error
	GetByReference(ctx context.Context, reference string) (store.DepositRequest, error)
	GetForUpdate(ctx context.Context, tx store.Getter, reference string) (store.DepositRequest, error)
	Settle(ctx context.Context, tx store.Execer, reference, status string, externalHash *string) (int64, error)
	ExpirePastDue(ctx context.Context, tx store.Execer, now time.Time) (int64, error)
	ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]store.DepositRequest, error)
}

type WebhookEventStore interface {
	Reserve(ctx context.Context, tx store.Getter, provider, eventID string) (bool, error)
	RecordUnresolved(ctx context.Context, provider, eventID string) error
	ListUnresolved(ctx context.Context, limit int) ([]store.ProcessedWebhookEvent, error)
}

type IdempotencyStore interface {
	Reserve(ctx context.Context, key, userID, operation string) error
	Get(ctx context.Context, key string) (store.IdempotencyKey, error)
	Complete(ctx context.Context, tx store.Execer, key, response string) error
	Release(ctx context.Context, key string) error
}

type SwapQuoteStore interface {
	Create(ctx context.Context, input store.SwapQuoteInput) error
	GetByID(ctx context.Context, quoteID string) (store.SwapQuote, error)
	Consume(ctx context.Context, tx store.Execer, quoteID string) (int64, error)
}

type FeeEngine interface {
	Calculate(ctx context.Context, txType, currency, plan string, amountMinor int64) (commission.Fee, error)
}

type RateTable interface {
	Rate(ctx context.Context, base, quote string) (decimal.Decimal, time.Time, error)
}

type Adapters interface {
	Get(name string) (provider.Adapter, error)
}

type BalanceHub interface {
	BroadcastBalance(userID string, update websocket.BalanceUpdate)
}

type Notifier interface {
	Send(userID, event string, payload map[string]any)
}
