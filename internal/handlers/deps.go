package handlers

import (
	"context"
	"net/http"

	"paygate/internal/services"
	"paygate/internal/store"
)

type WalletStore interface {
	GetByID(ctx context.Context, walletID string) (store.Wallet, error)
	ListByUser(ctx context.Context, userID string) ([]store.Wallet, error)
	SetFrozen(ctx context.Context, tx store.Execer, walletID string, frozen bool) error
}

type TransactionStore interface {
	ListByUser(ctx context.Context, userID, txType string, limit, offset int) ([]store.Transaction, error)
}

type CommissionStore interface {
	Upsert(ctx context.Context, tx store.Tx, input store.CommissionRuleInput) error
	List(ctx context.Context) ([]store.CommissionRule, error)
}

type AuditStore interface {
	Log(ctx context.Context, tx store.Execer, actorID, action, entityType, entityID, data string) error
	List(ctx context.Context, limit, offset int) ([]store.AuditLog, error)
}

type WebhookEventStore interface {
	ListUnresolved(ctx context.Context, limit int) ([]store.ProcessedWebhookEvent, error)
}

type LedgerService interface {
	Transfer(ctx context.Context, actor services.Actor, input services.TransferInput) (services.TransferResult, error)
	Withdraw(ctx context.Context, actor services.Actor, input services.WithdrawInput) (services.WithdrawResult, error)
	PreviewSwap(ctx context.Context, actor services.Actor, input services.SwapPreviewInput) (services.SwapQuoteResult, error)
	ExecuteSwap(ctx context.Context, actor services.Actor, input services.SwapExecuteInput) (services.SwapResult, error)
}

type PaymentService interface {
	CreateDeposit(ctx context.Context, actor services.Actor, input services.CreateDepositInput) (services.DepositResult, error)
	GetStatus(ctx context.Context, actor services.Actor, reference string) (services.DepositStatus, error)
	Reconcile(ctx context.Context, reference string) (services.DepositStatus, error)
	ConfirmDeposit(ctx context.Context, reference, externalHash string) error
	FailDeposit(ctx context.Context, reference string) error
}

type WebhookService interface {
	Process(ctx context.Context, providerName string, header http.Header, rawBody []byte) (services.Receipt, error)
}
