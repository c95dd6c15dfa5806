package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"paygate/internal/provider"
	"paygate/internal/store"
)

type paymentFixture struct {
	svc      *PaymentService
	wallets  *fakeWallets
	txs      *fakeTransactions
	deposits *fakeDeposits
	keys     *fakeKeys
	hub      *fakeHub
	notifier *fakeNotifier
}

func newPaymentFixture(wallets *fakeWallets, deposits *fakeDeposits, adapter fakeAdapter) *paymentFixture {
	f := &paymentFixture{
		wallets:  wallets,
		txs:      &fakeTransactions{},
		deposits: deposits,
		keys:     newFakeKeys(),
		hub:      &fakeHub{},
		notifier: &fakeNotifier{},
	}
	f.svc = NewPaymentService(
		&fakeTxRunner{},
		wallets,
		f.txs,
		deposits,
		fakeAdapters{adapter: adapter},
		NewIdempotencyService(f.keys),
		f.hub,
		f.notifier,
		30*time.Minute,
		zap.NewNop(),
	)
	return f
}

func pendingDeposit(reference, userID, walletID string, amount int64, currency string) store.DepositRequest {
	return store.DepositRequest{
		Reference: reference,
		UserID:    userID,
		WalletID:  walletID,
		Provider:  "fakepay",
		Amount:    amount,
		Currency:  currency,
		Status:    "PENDING_PROVIDER",
		ExpiresAt: time.Now().Add(30 * time.Minute),
		CreatedAt: time.Now(),
	}
}

func TestCreateDepositPersistsPendingRequest(t *testing.T) {
	wallets := newFakeWallets(userWallet("w1", "u1", "USD", 0))
	f := newPaymentFixture(wallets, newFakeDeposits(), fakeAdapter{
		initFn: func(ctx context.Context, req provider.InitRequest) (provider.InitResult, error) {
			return provider.InitResult{Reference: req.Reference, RedirectURL: "https://pay.example/" + req.Reference}, nil
		},
	})

	result, err := f.svc.CreateDeposit(context.Background(), Actor{UserID: "u1"}, CreateDepositInput{
		Provider: "fakepay", Amount: "250.00", Currency: "USD", IdempotencyKey: "deposit-key-0001",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != "PENDING_PROVIDER" || result.Amount != "250.00" || result.RedirectURL == "" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if got := f.deposits.status(result.Reference); got != "PENDING_PROVIDER" {
		t.Fatalf("expected persisted pending request, got %q", got)
	}
	// No credit before the provider settles.
	if got := wallets.balance("w1"); got != 0 {
		t.Fatalf("expected unchanged balance, got %d", got)
	}
}

func TestCreateDepositReplaysCompletedKey(t *testing.T) {
	wallets := newFakeWallets(userWallet("w1", "u1", "USD", 0))
	f := newPaymentFixture(wallets, newFakeDeposits(), fakeAdapter{
		initFn: func(ctx context.Context, req provider.InitRequest) (provider.InitResult, error) {
			return provider.InitResult{Reference: req.Reference}, nil
		},
	})

	input := CreateDepositInput{Provider: "fakepay", Amount: "10.00", Currency: "USD", IdempotencyKey: "deposit-key-0002"}
	first, err := f.svc.CreateDeposit(context.Background(), Actor{UserID: "u1"}, input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := f.svc.CreateDeposit(context.Background(), Actor{UserID: "u1"}, input)
	if err != nil {
		t.Fatalf("unexpected error on replay: %v", err)
	}
	if second.Reference != first.Reference {
		t.Fatalf("expected stored response replayed, got %+v", second)
	}
}

func TestCreateDepositReleasesKeyOnProviderFailure(t *testing.T) {
	wallets := newFakeWallets(userWallet("w1", "u1", "USD", 0))
	calls := 0
	f := newPaymentFixture(wallets, newFakeDeposits(), fakeAdapter{
		initFn: func(ctx context.Context, req provider.InitRequest) (provider.InitResult, error) {
			calls++
			if calls == 1 {
				return provider.InitResult{}, errors.New("provider down")
			}
			return provider.InitResult{Reference: req.Reference}, nil
		},
	})

	input := CreateDepositInput{Provider: "fakepay", Amount: "10.00", Currency: "USD", IdempotencyKey: "deposit-key-0003"}
	if _, err := f.svc.CreateDeposit(context.Background(), Actor{UserID: "u1"}, input); err == nil {
		t.Fatal("expected provider failure to surface")
	}
	if _, err := f.svc.CreateDeposit(context.Background(), Actor{UserID: "u1"}, input); err != nil {
		t.Fatalf("expected retry after release to succeed, got %v", err)
	}
}

func TestApplyEventCreditsExactlyOnce(t *testing.T) {
	wallets := newFakeWallets(userWallet("w-btc", "u1", "BTC", 0))
	deposits := newFakeDeposits(pendingDeposit("ref-1", "u1", "w-btc", 50000000, "BTC"))
	f := newPaymentFixture(wallets, deposits, fakeAdapter{})

	ev := provider.Event{ExternalReference: "ref-1", Outcome: provider.OutcomeSuccess, AmountMinor: 50000000, Currency: "BTC", ExternalHash: "tx-abc"}
	applied, err := f.svc.ApplyEvent(context.Background(), nil, "cryptopay", ev)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if applied == nil || applied.Status != "COMPLETED" || applied.BalanceMinor != 50000000 {
		t.Fatalf("unexpected application: %+v", applied)
	}
	if got := wallets.balance("w-btc"); got != 50000000 {
		t.Fatalf("expected credit of 0.5 BTC, got %d", got)
	}
	if got := deposits.status("ref-1"); got != "COMPLETED" {
		t.Fatalf("expected settled request, got %q", got)
	}
	rows := f.txs.byType("DEPOSIT")
	if len(rows) != 1 {
		t.Fatalf("expected one deposit row, got %d", len(rows))
	}
	if rows[0].IdempotencyKey == nil || *rows[0].IdempotencyKey != "cryptopay:ref-1" {
		t.Fatalf("expected provider-scoped dedup key, got %+v", rows[0].IdempotencyKey)
	}

	// A replayed success event against the settled request is a no-op.
	applied, err = f.svc.ApplyEvent(context.Background(), nil, "cryptopay", ev)
	if err != nil || applied != nil {
		t.Fatalf("expected terminal no-op, got %+v %v", applied, err)
	}
	if got := wallets.balance("w-btc"); got != 50000000 {
		t.Fatalf("expected no second credit, got %d", got)
	}
}

func TestApplyEventRejectsExpiredRequest(t *testing.T) {
	dep := pendingDeposit("ref-2", "u1", "w1", 1000, "USD")
	dep.Status = "EXPIRED"
	f := newPaymentFixture(newFakeWallets(userWallet("w1", "u1", "USD", 0)), newFakeDeposits(dep), fakeAdapter{})

	_, err := f.svc.ApplyEvent(context.Background(), nil, "fakepay", provider.Event{
		ExternalReference: "ref-2", Outcome: provider.OutcomeSuccess,
	})
	if !errors.Is(err, ErrDepositExpired) {
		t.Fatalf("expected ErrDepositExpired, got %v", err)
	}
}

func TestApplyEventFlagsAmountMismatch(t *testing.T) {
	wallets := newFakeWallets(userWallet("w1", "u1", "USD", 0))
	f := newPaymentFixture(wallets, newFakeDeposits(pendingDeposit("ref-3", "u1", "w1", 5000, "USD")), fakeAdapter{})

	_, err := f.svc.ApplyEvent(context.Background(), nil, "fakepay", provider.Event{
		ExternalReference: "ref-3", Outcome: provider.OutcomeSuccess, AmountMinor: 9999, Currency: "USD",
	})
	if !errors.Is(err, ErrReconciliationRequired) {
		t.Fatalf("expected ErrReconciliationRequired, got %v", err)
	}
	if got := wallets.balance("w1"); got != 0 {
		t.Fatalf("expected no credit on mismatch, got %d", got)
	}
}

func TestApplyEventFailureOutcome(t *testing.T) {
	wallets := newFakeWallets(userWallet("w1", "u1", "USD", 0))
	deposits := newFakeDeposits(pendingDeposit("ref-4", "u1", "w1", 5000, "USD"))
	f := newPaymentFixture(wallets, deposits, fakeAdapter{})

	applied, err := f.svc.ApplyEvent(context.Background(), nil, "fakepay", provider.Event{
		ExternalReference: "ref-4", Outcome: provider.OutcomeFailure,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if applied == nil || applied.Status != "FAILED" {
		t.Fatalf("unexpected application: %+v", applied)
	}
	if got := deposits.status("ref-4"); got != "FAILED" {
		t.Fatalf("expected failed request, got %q", got)
	}
	if got := wallets.balance("w1"); got != 0 {
		t.Fatalf("expected no credit, got %d", got)
	}
}

func TestApplyEventPendingIsNoOp(t *testing.T) {
	deposits := newFakeDeposits(pendingDeposit("ref-5", "u1", "w1", 5000, "USD"))
	f := newPaymentFixture(newFakeWallets(userWallet("w1", "u1", "USD", 0)), deposits, fakeAdapter{})

	applied, err := f.svc.ApplyEvent(context.Background(), nil, "fakepay", provider.Event{
		ExternalReference: "ref-5", Outcome: provider.OutcomePending,
	})
	if err != nil || applied != nil {
		t.Fatalf("expected pending no-op, got %+v %v", applied, err)
	}
	if got := deposits.status("ref-5"); got != "PENDING_PROVIDER" {
		t.Fatalf("expected unchanged status, got %q", got)
	}
}

func TestConfirmDepositSettlesAndNotifies(t *testing.T) {
	wallets := newFakeWallets(userWallet("w1", "u1", "USD", 0))
	deposits := newFakeDeposits(pendingDeposit("ref-6", "u1", "w1", 5000, "USD"))
	f := newPaymentFixture(wallets, deposits, fakeAdapter{})

	if err := f.svc.ConfirmDeposit(context.Background(), "ref-6", "hash-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := wallets.balance("w1"); got != 5000 {
		t.Fatalf("expected credit, got %d", got)
	}
	if len(f.hub.updates) != 1 {
		t.Fatalf("expected balance broadcast, got %d", len(f.hub.updates))
	}
	found := false
	for _, event := range f.notifier.events {
		if event == "deposit.completed" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected deposit.completed notification, got %v", f.notifier.events)
	}
}

func TestFailDepositNotifies(t *testing.T) {
	deposits := newFakeDeposits(pendingDeposit("ref-7", "u1", "w1", 5000, "USD"))
	f := newPaymentFixture(newFakeWallets(userWallet("w1", "u1", "USD", 0)), deposits, fakeAdapter{})

	if err := f.svc.FailDeposit(context.Background(), "ref-7"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := deposits.status("ref-7"); got != "FAILED" {
		t.Fatalf("expected failed request, got %q", got)
	}
	if len(f.notifier.events) != 1 || f.notifier.events[0] != "deposit.failed" {
		t.Fatalf("expected deposit.failed notification, got %v", f.notifier.events)
	}
}

func TestGetStatusHidesForeignDeposit(t *testing.T) {
	deposits := newFakeDeposits(pendingDeposit("ref-8", "u1", "w1", 5000, "USD"))
	f := newPaymentFixture(newFakeWallets(userWallet("w1", "u1", "USD", 0)), deposits, fakeAdapter{})

	if _, err := f.svc.GetStatus(context.Background(), Actor{UserID: "u2"}, "ref-8"); !errors.Is(err, ErrDepositNotFound) {
		t.Fatalf("expected ErrDepositNotFound for foreign caller, got %v", err)
	}
	if _, err := f.svc.GetStatus(context.Background(), Actor{UserID: "u2", Admin: true}, "ref-8"); err != nil {
		t.Fatalf("expected admin visibility, got %v", err)
	}
	if _, err := f.svc.GetStatus(context.Background(), Actor{UserID: "u1"}, "missing"); !errors.Is(err, ErrDepositNotFound) {
		t.Fatalf("expected ErrDepositNotFound for unknown reference, got %v", err)
	}
}

func TestGetStatusPollsProviderForStalePending(t *testing.T) {
	dep := pendingDeposit("ref-9", "u1", "w1", 5000, "USD")
	dep.CreatedAt = time.Now().Add(-time.Hour)
	wallets := newFakeWallets(userWallet("w1", "u1", "USD", 0))
	f := newPaymentFixture(wallets, newFakeDeposits(dep), fakeAdapter{
		checkFn: func(ctx context.Context, reference string) (provider.Event, error) {
			return provider.Event{ExternalReference: reference, Outcome: provider.OutcomeSuccess, AmountMinor: 5000, Currency: "USD"}, nil
		},
	})

	status, err := f.svc.GetStatus(context.Background(), Actor{UserID: "u1"}, "ref-9")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status.Status != "COMPLETED" {
		t.Fatalf("expected stale request settled via status poll, got %q", status.Status)
	}
	if got := wallets.balance("w1"); got != 5000 {
		t.Fatalf("expected credit from the poll, got %d", got)
	}
}

func TestSweepExpiresPastDueRequests(t *testing.T) {
	dep := pendingDeposit("ref-10", "u1", "w1", 5000, "USD")
	dep.ExpiresAt = time.Now().Add(-time.Minute)
	deposits := newFakeDeposits(dep)
	f := newPaymentFixture(newFakeWallets(userWallet("w1", "u1", "USD", 0)), deposits, fakeAdapter{})

	f.svc.Sweep(context.Background())
	if got := deposits.status("ref-10"); got != "EXPIRED" {
		t.Fatalf("expected expired request, got %q", got)
	}
}
