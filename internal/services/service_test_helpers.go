package services

import (
	"context"
	"database/sql"
	"net/http"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"paygate/internal/commission"
	"paygate/internal/provider"
	"paygate/internal/store"
	"paygate/internal/websocket"
)

type fakeTxRunner struct {
	mu       sync.Mutex
	withTxFn func(ctx context.Context, fn func(*sqlx.Tx) error) error
}

// WithTx serializes callers, standing in for serializable isolation plus
// row locks.
func (f *fakeTxRunner) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.withTxFn != nil {
		return f.withTxFn(ctx, fn)
	}
	return fn(nil)
}

type fakeWallets struct {
	mu       sync.Mutex
	wallets  map[string]store.Wallet
	platform map[string]string
}

func newFakeWallets(wallets ...store.Wallet) *fakeWallets {
	f := &fakeWallets{
		wallets:  make(map[string]store.Wallet),
		platform: make(map[string]string),
	}
	for _, wallet := range wallets {
		f.wallets[wallet.ID] = wallet
		if wallet.IsPlatform {
			f.platform[wallet.Currency] = wallet.ID
		}
	}
	return f
}

func (f *fakeWallets) get(walletID string) (store.Wallet, error) {
	wallet, ok := f.wallets[walletID]
	if !ok {
		return store.Wallet{}, sql.ErrNoRows
	}
	return wallet, nil
}

func (f *fakeWallets) GetByID(ctx context.Context, walletID string) (store.Wallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.get(walletID)
}

func (f *fakeWallets) GetByUserAndCurrency(ctx context.Context, userID, currency string) (store.Wallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, wallet := range f.wallets {
		if wallet.UserID != nil && *wallet.UserID == userID && wallet.Currency == currency && !wallet.IsPlatform {
			return wallet, nil
		}
	}
	return store.Wallet{}, sql.ErrNoRows
}

func (f *fakeWallets) GetForUpdate(ctx context.Context, tx store.Getter, walletID string) (store.Wallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.get(walletID)
}

func (f *fakeWallets) UpdateBalances(ctx context.Context, tx store.Execer, walletID string, balance, available int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	wallet, ok := f.wallets[walletID]
	if !ok {
		return sql.ErrNoRows
	}
	wallet.Balance = balance
	wallet.Available = available
	f.wallets[walletID] = wallet
	return nil
}

func (f *fakeWallets) GetPlatformWallet(ctx context.Context, currency string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.platform[currency]
	if !ok {
		return "", sql.ErrNoRows
	}
	return id, nil
}

func (f *fakeWallets) balance(walletID string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.wallets[walletID].Balance
}

type fakeTransactions struct {
	mu      sync.Mutex
	created []store.TransactionInput
	createFn func(ctx context.Context, tx store.Execer, input store.TransactionInput) error
}

func (f *fakeTransactions) Create(ctx context.Context, tx store.Execer, input store.TransactionInput) error {
	if f.createFn != nil {
		return f.createFn(ctx, tx, input)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.created {
		if existing.IdempotencyKey != nil && input.IdempotencyKey != nil && *existing.IdempotencyKey == *input.IdempotencyKey {
			return &pq.Error{Code: "23505"}
		}
	}
	f.created = append(f.created, input)
	return nil
}

func (f *fakeTransactions) byType(txType string) []store.TransactionInput {
	f.mu.Lock()
	defer f.mu.Unlock()
	var matched []store.TransactionInput
	for _, input := range f.created {
		if input.Type == txType {
			matched = append(matched, input)
		}
	}
	return matched
}

type fakeKeys struct {
	mu   sync.Mutex
	keys map[string]store.IdempotencyKey
}

func newFakeKeys() *fakeKeys {
	return &fakeKeys{keys: make(map[string]store.IdempotencyKey)}
}

func (f *fakeKeys) Reserve(ctx context.Context, key, userID, operation string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.keys[key]; exists {
		return &pq.Error{Code: "23505"}
	}
	f.keys[key] = store.IdempotencyKey{Key: key, UserID: userID, Operation: operation, Status: store.IdempotencyPending}
	return nil
}

func (f *fakeKeys) Get(ctx context.Context, key string) (store.IdempotencyKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.keys[key]
	if !ok {
		return store.IdempotencyKey{}, sql.ErrNoRows
	}
	return row, nil
}

func (f *fakeKeys) Complete(ctx context.Context, tx store.Execer, key, response string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row := f.keys[key]
	row.Status = store.IdempotencyCompleted
	row.Response = response
	f.keys[key] = row
	return nil
}

func (f *fakeKeys) Release(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if row, ok := f.keys[key]; ok && row.Status == store.IdempotencyPending {
		delete(f.keys, key)
	}
	return nil
}

type fakeFees struct {
	calculateFn func(ctx context.Context, txType, currency, plan string, amountMinor int64) (commission.Fee, error)
}

func (f fakeFees) Calculate(ctx context.Context, txType, currency, plan string, amountMinor int64) (commission.Fee, error) {
	if f.calculateFn == nil {
		return commission.Fee{}, nil
	}
	return f.calculateFn(ctx, txType, currency, plan, amountMinor)
}

type fakeRates struct {
	rateFn func(ctx context.Context, base, quote string) (decimal.Decimal, time.Time, error)
}

func (f fakeRates) Rate(ctx context.Context, base, quote string) (decimal.Decimal, time.Time, error) {
	if f.rateFn == nil {
		return decimal.RequireFromString("1"), time.Now(), nil
	}
	return f.rateFn(ctx, base, quote)
}

type fakeQuotes struct {
	mu     sync.Mutex
	quotes map[string]store.SwapQuote
}

func newFakeQuotes() *fakeQuotes {
	return &fakeQuotes{quotes: make(map[string]store.SwapQuote)}
}

func (f *fakeQuotes) Create(ctx context.Context, input store.SwapQuoteInput) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quotes[input.ID] = store.SwapQuote{
		ID:             input.ID,
		UserID:         input.UserID,
		FromCurrency:   input.FromCurrency,
		ToCurrency:     input.ToCurrency,
		AmountMinor:    input.AmountMinor,
		FeeMinor:       input.FeeMinor,
		ConvertedMinor: input.ConvertedMinor,
		Rate:           input.Rate,
		ExpiresAt:      input.ExpiresAt,
	}
	return nil
}

func (f *fakeQuotes) GetByID(ctx context.Context, quoteID string) (store.SwapQuote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	quote, ok := f.quotes[quoteID]
	if !ok {
		return store.SwapQuote{}, sql.ErrNoRows
	}
	return quote, nil
}

func (f *fakeQuotes) Consume(ctx context.Context, tx store.Execer, quoteID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	quote, ok := f.quotes[quoteID]
	if !ok || quote.ConsumedAt != nil || time.Now().After(quote.ExpiresAt) {
		return 0, nil
	}
	now := time.Now()
	quote.ConsumedAt = &now
	f.quotes[quoteID] = quote
	return 1, nil
}

type fakeHub struct {
	mu      sync.Mutex
	updates []websocket.BalanceUpdate
}

func (f *fakeHub) BroadcastBalance(userID string, update websocket.BalanceUpdate) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, update)
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeNotifier) Send(userID, event string, payload map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

type fakeDeposits struct {
	mu       sync.Mutex
	deposits map[string]store.DepositRequest
}

func newFakeDeposits(deposits ...store.DepositRequest) *fakeDeposits {
	f := &fakeDeposits{deposits: make(map[string]store.DepositRequest)}
	for _, dep := range deposits {
		f.deposits[dep.Reference] = dep
	}
	return f
}

func (f *fakeDeposits) Create(ctx context.Context, tx store.Execer, input store.DepositRequestInput) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deposits[input.Reference] = store.DepositRequest{
		Reference:      input.Reference,
		UserID:         input.UserID,
		WalletID:       input.WalletID,
		Provider:       input.Provider,
		Amount:         input.Amount,
		Currency:       input.Currency,
		Status:         input.Status,
		RedirectURL:    input.RedirectURL,
		DepositAddress: input.DepositAddress,
		ExpiresAt:      input.ExpiresAt,
	}
	return nil
}

func (f *fakeDeposits) GetByReference(ctx context.Context, reference string) (store.DepositRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	dep, ok := f.deposits[reference]
	if !ok {
		return store.DepositRequest{}, sql.ErrNoRows
	}
	return dep, nil
}

func (f *fakeDeposits) GetForUpdate(ctx context.Context, tx store.Getter, reference string) (store.DepositRequest, error) {
	return f.GetByReference(ctx, reference)
}

func (f *fakeDeposits) Settle(ctx context.Context, tx store.Execer, reference, status string, externalHash *string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	dep, ok := f.deposits[reference]
	if !ok {
		return 0, nil
	}
	if dep.Status != "CREATED" && dep.Status != "PENDING_PROVIDER" {
		return 0, nil
	}
	dep.Status = status
	if externalHash != nil {
		dep.ExternalHash = externalHash
	}
	f.deposits[reference] = dep
	return 1, nil
}

func (f *fakeDeposits) ExpirePastDue(ctx context.Context, tx store.Execer, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var expired int64
	for reference, dep := range f.deposits {
		if (dep.Status == "CREATED" || dep.Status == "PENDING_PROVIDER") && dep.ExpiresAt.Before(now) {
			dep.Status = "EXPIRED"
			f.deposits[reference] = dep
			expired++
		}
	}
	return expired, nil
}

func (f *fakeDeposits) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]store.DepositRequest, error) {
	return nil, nil
}

func (f *fakeDeposits) status(reference string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deposits[reference].Status
}

type fakeEvents struct {
	mu         sync.Mutex
	applied    map[string]bool
	unresolved []string
}

func newFakeEvents() *fakeEvents {
	return &fakeEvents{applied: make(map[string]bool)}
}

func (f *fakeEvents) Reserve(ctx context.Context, tx store.Getter, provider, eventID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := provider + ":" + eventID
	if f.applied[key] {
		return false, nil
	}
	f.applied[key] = true
	return true, nil
}

func (f *fakeEvents) RecordUnresolved(ctx context.Context, provider, eventID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unresolved = append(f.unresolved, provider+":"+eventID)
	return nil
}

func (f *fakeEvents) ListUnresolved(ctx context.Context, limit int) ([]store.ProcessedWebhookEvent, error) {
	return nil, nil
}

type fakeAdapter struct {
	name     string
	initFn   func(ctx context.Context, req provider.InitRequest) (provider.InitResult, error)
	verified bool
	parseFn  func(rawBody []byte) (provider.Event, error)
	checkFn  func(ctx context.Context, reference string) (provider.Event, error)
}

func (f fakeAdapter) Name() string {
	if f.name == "" {
		return "fakepay"
	}
	return f.name
}

func (f fakeAdapter) InitializePayment(ctx context.Context, req provider.InitRequest) (provider.InitResult, error) {
	if f.initFn == nil {
		return provider.InitResult{Reference: req.Reference}, nil
	}
	return f.initFn(ctx, req)
}

func (f fakeAdapter) VerifyWebhookSignature(header http.Header, rawBody []byte) bool {
	return f.verified
}

func (f fakeAdapter) ParseWebhookEvent(rawBody []byte) (provider.Event, error) {
	if f.parseFn == nil {
		return provider.Event{}, provider.ErrBadEvent
	}
	return f.parseFn(rawBody)
}

func (f fakeAdapter) CheckStatus(ctx context.Context, reference string) (provider.Event, error) {
	if f.checkFn == nil {
		return provider.Event{}, provider.ErrBadEvent
	}
	return f.checkFn(ctx, reference)
}

type fakeAdapters struct {
	adapter provider.Adapter
	err     error
}

func (f fakeAdapters) Get(name string) (provider.Adapter, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.adapter, nil
}
