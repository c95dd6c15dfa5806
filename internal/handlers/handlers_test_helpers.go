package handlers

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"paygate/internal/config"
	"paygate/internal/services"
	"paygate/internal/store"
	"paygate/internal/websocket"
)

const testJWTSecret = "test-secret"

type fakeTxRunner struct {
	withTxFn func(ctx context.Context, fn func(*sqlx.Tx) error) error
}

func (f fakeTxRunner) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	if f.withTxFn != nil {
		return f.withTxFn(ctx, fn)
	}
	return fn(nil)
}

type stubWalletStore struct {
	getByIDFn    func(ctx context.Context, walletID string) (store.Wallet, error)
	listByUserFn func(ctx context.Context, userID string) ([]store.Wallet, error)
	setFrozenFn  func(ctx context.Context, tx store.Execer, walletID string, frozen bool) error
}

func (s stubWalletStore) GetByID(ctx context.Context, walletID string) (store.Wallet, error) {
	if s.getByIDFn == nil {
		return store.Wallet{}, sql.ErrNoRows
	}
	return s.getByIDFn(ctx, walletID)
}

func (s stubWalletStore) ListByUser(ctx context.Context, userID string) ([]store.Wallet, error) {
	if s.listByUserFn == nil {
		return nil, nil
	}
	return s.listByUserFn(ctx, userID)
}

func (s stubWalletStore) SetFrozen(ctx context.Context, tx store.Execer, walletID string, frozen bool) error {
	if s.setFrozenFn == nil {
		return nil
	}
	return s.setFrozenFn(ctx, tx, walletID, frozen)
}

type stubTransactionStore struct {
	listByUserFn func(ctx context.Context, userID, txType string, limit, offset int) ([]store.Transaction, error)
}

func (s stubTransactionStore) ListByUser(ctx context.Context, userID, txType string, limit, offset int) ([]store.Transaction, error) {
	if s.listByUserFn == nil {
		return nil, nil
	}
	return s.listByUserFn(ctx, userID, txType, limit, offset)
}

type stubCommissionStore struct {
	upsertFn func(ctx context.Context, tx store.Tx, input store.CommissionRuleInput) error
	listFn   func(ctx context.Context) ([]store.CommissionRule, error)
}

func (s stubCommissionStore) Upsert(ctx context.Context, tx store.Tx, input store.CommissionRuleInput) error {
	if s.upsertFn == nil {
		return nil
	}
	return s.upsertFn(ctx, tx, input)
}

func (s stubCommissionStore) List(ctx context.Context) ([]store.CommissionRule, error) {
	if s.listFn == nil {
		return nil, nil
	}
	return s.listFn(ctx)
}

type stubAuditStore struct {
	logFn  func(ctx context.Context, tx store.Execer, actorID, action, entityType, entityID, data string) error
	listFn func(ctx context.Context, limit, offset int) ([]store.AuditLog, error)
}

func (s stubAuditStore) Log(ctx context.Context, tx store.Execer, actorID, action, entityType, entityID, data string) error {
	if s.logFn == nil {
		return nil
	}
	return s.logFn(ctx, tx, actorID, action, entityType, entityID, data)
}

func (s stubAuditStore) List(ctx context.Context, limit, offset int) ([]store.AuditLog, error) {
	if s.listFn == nil {
		return nil, nil
	}
	return s.listFn(ctx, limit, offset)
}

type stubWebhookEventStore struct {
	listUnresolvedFn func(ctx context.Context, limit int) ([]store.ProcessedWebhookEvent, error)
}

func (s stubWebhookEventStore) ListUnresolved(ctx context.Context, limit int) ([]store.ProcessedWebhookEvent, error) {
	if s.listUnresolvedFn == nil {
		return nil, nil
	}
	return s.listUnresolvedFn(ctx, limit)
}

type stubLedgerService struct {
	transferFn    func(ctx context.Context, actor services.Actor, input services.TransferInput) (services.TransferResult, error)
	withdrawFn    func(ctx context.Context, actor services.Actor, input services.WithdrawInput) (services.WithdrawResult, error)
	previewSwapFn func(ctx context.Context, actor services.Actor, input services.SwapPreviewInput) (services.SwapQuoteResult, error)
	executeSwapFn func(ctx context.Context, actor services.Actor, input services.SwapExecuteInput) (services.SwapResult, error)
}

func (s stubLedgerService) Transfer(ctx context.Context, actor services.Actor, input services.TransferInput) (services.TransferResult, error) {
	if s.transferFn == nil {
		return services.TransferResult{}, nil
	}
	return s.transferFn(ctx, actor, input)
}

func (s stubLedgerService) Withdraw(ctx context.Context, actor services.Actor, input services.WithdrawInput) (services.WithdrawResult, error) {
	if s.withdrawFn == nil {
		return services.WithdrawResult{}, nil
	}
	return s.withdrawFn(ctx, actor, input)
}

func (s stubLedgerService) PreviewSwap(ctx context.Context, actor services.Actor, input services.SwapPreviewInput) (services.SwapQuoteResult, error) {
	if s.previewSwapFn == nil {
		return services.SwapQuoteResult{}, nil
	}
	return s.previewSwapFn(ctx, actor, input)
}

func (s stubLedgerService) ExecuteSwap(ctx context.Context, actor services.Actor, input services.SwapExecuteInput) (services.SwapResult, error) {
	if s.executeSwapFn == nil {
		return services.SwapResult{}, nil
	}
	return s.executeSwapFn(ctx, actor, input)
}

type stubPaymentService struct {
	createDepositFn  func(ctx context.Context, actor services.Actor, input services.CreateDepositInput) (services.DepositResult, error)
	getStatusFn      func(ctx context.Context, actor services.Actor, reference string) (services.DepositStatus, error)
	reconcileFn      func(ctx context.Context, reference string) (services.DepositStatus, error)
	confirmDepositFn func(ctx context.Context, reference, externalHash string) error
	failDepositFn    func(ctx context.Context, reference string) error
}

func (s stubPaymentService) CreateDeposit(ctx context.Context, actor services.Actor, input services.CreateDepositInput) (services.DepositResult, error) {
	if s.createDepositFn == nil {
		return services.DepositResult{}, nil
	}
	return s.createDepositFn(ctx, actor, input)
}

func (s stubPaymentService) GetStatus(ctx context.Context, actor services.Actor, reference string) (services.DepositStatus, error) {
	if s.getStatusFn == nil {
		return services.DepositStatus{}, nil
	}
	return s.getStatusFn(ctx, actor, reference)
}

func (s stubPaymentService) Reconcile(ctx context.Context, reference string) (services.DepositStatus, error) {
	if s.reconcileFn == nil {
		return services.DepositStatus{}, nil
	}
	return s.reconcileFn(ctx, reference)
}

func (s stubPaymentService) ConfirmDeposit(ctx context.Context, reference, externalHash string) error {
	if s.confirmDepositFn == nil {
		return nil
	}
	return s.confirmDepositFn(ctx, reference, externalHash)
}

func (s stubPaymentService) FailDeposit(ctx context.Context, reference string) error {
	if s.failDepositFn == nil {
		return nil
	}
	return s.failDepositFn(ctx, reference)
}

type stubWebhookService struct {
	processFn func(ctx context.Context, providerName string, header http.Header, rawBody []byte) (services.Receipt, error)
}

func (s stubWebhookService) Process(ctx context.Context, providerName string, header http.Header, rawBody []byte) (services.Receipt, error) {
	if s.processFn == nil {
		return services.Receipt{Status: services.ReceiptApplied}, nil
	}
	return s.processFn(ctx, providerName, header, rawBody)
}

type testDeps struct {
	wallets      stubWalletStore
	transactions stubTransactionStore
	commission   stubCommissionStore
	audit        stubAuditStore
	events       stubWebhookEventStore
	ledger       stubLedgerService
	payments     stubPaymentService
	webhooks     stubWebhookService
}

// newTestRouter wires the full route tree over stubs. The redis client
// points at a closed port, so the rate limiter fails open.
func newTestRouter(deps testDeps) http.Handler {
	cfg := config.Config{
		JWTSecret:          testJWTSecret,
		AllowedOrigins:     "*",
		RateLimitPerMinute: 1000,
		RateLimitBlock:     time.Minute,
	}
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 10 * time.Millisecond})
	handler := New(
		cfg,
		fakeTxRunner{},
		deps.wallets,
		deps.transactions,
		deps.commission,
		deps.audit,
		deps.events,
		deps.ledger,
		deps.payments,
		deps.webhooks,
		websocket.NewHub(),
		rdb,
		zap.NewNop(),
	)
	return handler.Routes()
}

type tokenOpts struct {
	userID   string
	plan     string
	verified bool
	admin    bool
	consents []string
}

func signToken(opts tokenOpts) string {
	claims := jwt.MapClaims{
		"sub":      opts.userID,
		"verified": opts.verified,
		"admin":    opts.admin,
		"exp":      time.Now().Add(time.Hour).Unix(),
	}
	if opts.plan != "" {
		claims["plan"] = opts.plan
	}
	if len(opts.consents) > 0 {
		claims["consents"] = opts.consents
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testJWTSecret))
	if err != nil {
		panic(err)
	}
	return token
}
