package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"paygate/internal/db"
	"paygate/internal/metrics"
	"paygate/internal/money"
	"paygate/internal/provider"
	"paygate/internal/store"
	"paygate/internal/websocket"
)

// stalePollAge is how long a request may sit in PENDING_PROVIDER before a
// status check queries the provider directly.
const stalePollAge = 10 * time.Minute

// PaymentService drives the deposit lifecycle: CREATED -> PENDING_PROVIDER
// -> {COMPLETED, FAILED, EXPIRED}. Credits land exactly once whether they
// arrive by webhook, status poll, or manual confirmation.
type PaymentService struct {
	runner   db.TxRunner
	wallets  WalletStore
	txs      TransactionStore
	deposits DepositStore
	adapters Adapters
	idem     *IdempotencyService
	hub      BalanceHub
	notifier Notifier
	log      *zap.Logger

	depositTTL time.Duration
}

func NewPaymentService(
	runner db.TxRunner,
	wallets WalletStore,
	txs TransactionStore,
	deposits DepositStore,
	adapters Adapters,
	idem *IdempotencyService,
	hub BalanceHub,
	notifier Notifier,
	depositTTL time.Duration,
	log *zap.Logger,
) *PaymentService {
	return &PaymentService{
		runner:     runner,
		wallets:    wallets,
		txs:        txs,
		deposits:   deposits,
		adapters:   adapters,
		idem:       idem,
		hub:        hub,
		notifier:   notifier,
		depositTTL: depositTTL,
		log:        log,
	}
}

type CreateDepositInput struct {
	Provider       string
	Amount         string
	Currency       string
	IdempotencyKey string
	Metadata       map[string]string
}

type DepositResult struct {
	Reference      string    `json:"reference"`
	Provider       string    `json:"provider"`
	Amount         string    `json:"amount"`
	Currency       string    `json:"currency"`
	Status         string    `json:"status"`
	RedirectURL    string    `json:"redirect_url,omitempty"`
	DepositAddress string    `json:"deposit_address,omitempty"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// CreateDeposit initializes a payment intent with the provider and persists
// the request. The provider call is keyed on the reference, so a retried
// initialization never creates a second intent upstream.
func (s *PaymentService) CreateDeposit(ctx context.Context, actor Actor, input CreateDepositInput) (DepositResult, error) {
	prior, replay, err := s.idem.Begin(ctx, input.IdempotencyKey, actor.UserID, "deposit")
	if err != nil {
		return DepositResult{}, err
	}
	if replay {
		var result DepositResult
		if err := json.Unmarshal(prior, &result); err != nil {
			return DepositResult{}, err
		}
		return result, nil
	}

	result, err := s.createDeposit(ctx, actor, input)
	if err != nil {
		if releaseErr := s.idem.Release(ctx, input.IdempotencyKey); releaseErr != nil {
			s.log.Error("idempotency key release failed", zap.String("key", input.IdempotencyKey), zap.Error(releaseErr))
		}
		return DepositResult{}, err
	}
	return result, nil
}

func (s *PaymentService) createDeposit(ctx context.Context, actor Actor, input CreateDepositInput) (DepositResult, error) {
	adapter, err := s.adapters.Get(input.Provider)
	if err != nil {
		return DepositResult{}, err
	}
	wallet, err := s.wallets.GetByUserAndCurrency(ctx, actor.UserID, input.Currency)
	if err != nil {
		return DepositResult{}, walletErr(err)
	}
	amount, err := parseAmount(input.Amount, wallet.Currency)
	if err != nil {
		return DepositResult{}, err
	}

	reference := uuid.NewString()
	init, err := adapter.InitializePayment(ctx, provider.InitRequest{
		UserID:      actor.UserID,
		Reference:   reference,
		AmountMinor: amount,
		Currency:    wallet.Currency,
		Metadata:    input.Metadata,
	})
	if err != nil {
		return DepositResult{}, err
	}
	expiresAt := init.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = time.Now().Add(s.depositTTL)
	}

	result := DepositResult{
		Reference:      reference,
		Provider:       adapter.Name(),
		Amount:         money.FormatMinor(amount, wallet.Currency),
		Currency:       wallet.Currency,
		Status:         "PENDING_PROVIDER",
		RedirectURL:    init.RedirectURL,
		DepositAddress: init.DepositAddress,
		ExpiresAt:      expiresAt.UTC(),
	}

	err = s.runner.WithTx(ctx, func(tx *sqlx.Tx) error {
		var redirect, address *string
		if init.RedirectURL != "" {
			redirect = &init.RedirectURL
		}
		if init.DepositAddress != "" {
			address = &init.DepositAddress
		}
		if err := s.deposits.Create(ctx, tx, store.DepositRequestInput{
			Reference:      reference,
			UserID:         actor.UserID,
			WalletID:       wallet.ID,
			Provider:       adapter.Name(),
			Amount:         amount,
			Currency:       wallet.Currency,
			Status:         "PENDING_PROVIDER",
			RedirectURL:    redirect,
			DepositAddress: address,
			ExpiresAt:      expiresAt,
		}); err != nil {
			return err
		}
		payload, err := json.Marshal(result)
		if err != nil {
			return err
		}
		return s.idem.Complete(ctx, tx, input.IdempotencyKey, string(payload))
	})
	if err != nil {
		return DepositResult{}, err
	}

	metrics.PaymentsInitialized.WithLabelValues(adapter.Name()).Inc()
	return result, nil
}

type DepositStatus struct {
	Reference string `json:"reference"`
	Provider  string `json:"provider"`
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
	Status    string `json:"status"`
}

// GetStatus reports the current state of a deposit request. A request stuck
// in PENDING_PROVIDER past the staleness window triggers a direct status
// check with the provider, so a lost webhook does not strand the deposit.
func (s *PaymentService) GetStatus(ctx context.Context, actor Actor, reference string) (DepositStatus, error) {
	dep, err := s.deposits.GetByReference(ctx, reference)
	if errors.Is(err, sql.ErrNoRows) {
		return DepositStatus{}, ErrDepositNotFound
	}
	if err != nil {
		return DepositStatus{}, err
	}
	if dep.UserID != actor.UserID && !actor.Admin {
		return DepositStatus{}, ErrDepositNotFound
	}

	if dep.Status == "PENDING_PROVIDER" && createdBefore(dep, time.Now().Add(-stalePollAge)) {
		if refreshed, err := s.Reconcile(ctx, reference); err == nil {
			dep.Status = refreshed.Status
		} else {
			s.log.Warn("proactive status check failed", zap.String("reference", reference), zap.Error(err))
		}
	}

	return DepositStatus{
		Reference: dep.Reference,
		Provider:  dep.Provider,
		Amount:    money.FormatMinor(dep.Amount, dep.Currency),
		Currency:  dep.Currency,
		Status:    dep.Status,
	}, nil
}

// Reconcile queries the provider for the request's real state and applies
// the answer through the same path a webhook would take.
func (s *PaymentService) Reconcile(ctx context.Context, reference string) (DepositStatus, error) {
	dep, err := s.deposits.GetByReference(ctx, reference)
	if errors.Is(err, sql.ErrNoRows) {
		return DepositStatus{}, ErrDepositNotFound
	}
	if err != nil {
		return DepositStatus{}, err
	}
	adapter, err := s.adapters.Get(dep.Provider)
	if err != nil {
		return DepositStatus{}, err
	}
	ev, err := adapter.CheckStatus(ctx, reference)
	if err != nil {
		return DepositStatus{}, err
	}

	applied, err := s.apply(ctx, dep.Provider, ev)
	if err != nil {
		return DepositStatus{}, err
	}
	status := dep.Status
	if applied != nil {
		status = applied.Status
	}
	return DepositStatus{
		Reference: dep.Reference,
		Provider:  dep.Provider,
		Amount:    money.FormatMinor(dep.Amount, dep.Currency),
		Currency:  dep.Currency,
		Status:    status,
	}, nil
}

// ConfirmDeposit settles the request as if a success event had arrived. A
// zero external hash is allowed. Idempotent: already-terminal requests are a
// no-op.
func (s *PaymentService) ConfirmDeposit(ctx context.Context, reference, externalHash string) error {
	dep, err := s.deposits.GetByReference(ctx, reference)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrDepositNotFound
	}
	if err != nil {
		return err
	}
	_, err = s.apply(ctx, dep.Provider, provider.Event{
		ExternalReference: reference,
		Outcome:           provider.OutcomeSuccess,
		ExternalHash:      externalHash,
	})
	return err
}

// FailDeposit marks the request FAILED unless it is already terminal.
func (s *PaymentService) FailDeposit(ctx context.Context, reference string) error {
	dep, err := s.deposits.GetByReference(ctx, reference)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrDepositNotFound
	}
	if err != nil {
		return err
	}
	_, err = s.apply(ctx, dep.Provider, provider.Event{
		ExternalReference: reference,
		Outcome:           provider.OutcomeFailure,
	})
	return err
}

func (s *PaymentService) apply(ctx context.Context, providerName string, ev provider.Event) (*DepositApplied, error) {
	var applied *DepositApplied
	err := s.runner.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		applied, err = s.ApplyEvent(ctx, tx, providerName, ev)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.Fanout(applied)
	return applied, nil
}

// DepositApplied describes a settlement committed by ApplyEvent, for
// post-commit fanout.
type DepositApplied struct {
	Reference    string
	UserID       string
	WalletID     string
	AmountMinor  int64
	Currency     string
	Status       string
	BalanceMinor int64
}

// ApplyEvent folds a canonical provider event into the ledger inside the
// caller's transaction. Terminal requests are a no-op; EXPIRED is never
// reopened; an amount or currency that disagrees with the request is flagged
// for manual reconciliation instead of credited.
func (s *PaymentService) ApplyEvent(ctx context.Context, tx *sqlx.Tx, providerName string, ev provider.Event) (*DepositApplied, error) {
	dep, err := s.deposits.GetForUpdate(ctx, tx, ev.ExternalReference)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDepositNotFound
	}
	if err != nil {
		return nil, err
	}

	switch dep.Status {
	case "COMPLETED", "FAILED":
		return nil, nil
	case "EXPIRED":
		return nil, ErrDepositExpired
	}

	switch ev.Outcome {
	case provider.OutcomePending:
		return nil, nil
	case provider.OutcomeFailure:
		if _, err := s.deposits.Settle(ctx, tx, dep.Reference, "FAILED", nil); err != nil {
			return nil, err
		}
		return &DepositApplied{
			Reference:   dep.Reference,
			UserID:      dep.UserID,
			WalletID:    dep.WalletID,
			AmountMinor: dep.Amount,
			Currency:    dep.Currency,
			Status:      "FAILED",
		}, nil
	case provider.OutcomeSuccess:
	default:
		return nil, provider.ErrBadEvent
	}

	// Credit the amount the request was created for. An event that names a
	// different amount or currency is evidence of drift between us and the
	// provider; it must be looked at, not applied.
	if ev.AmountMinor != 0 && ev.AmountMinor != dep.Amount {
		return nil, ErrReconciliationRequired
	}
	if ev.Currency != "" && ev.Currency != dep.Currency {
		return nil, ErrReconciliationRequired
	}

	wallet, err := s.wallets.GetForUpdate(ctx, tx, dep.WalletID)
	if err != nil {
		return nil, walletErr(err)
	}
	newBalance := wallet.Balance + dep.Amount
	newAvailable := wallet.Available + dep.Amount
	if err := s.wallets.UpdateBalances(ctx, tx, wallet.ID, newBalance, newAvailable); err != nil {
		return nil, err
	}

	var externalRef, externalHash *string
	if ev.ExternalHash != "" {
		externalRef = &ev.ExternalHash
		externalHash = &ev.ExternalHash
	}
	// One DEPOSIT row per reference, enforced by the unique idempotency_key.
	// A webhook and a concurrent status poll cannot both credit.
	dedupKey := providerName + ":" + dep.Reference
	providerCopy := providerName
	if err := s.txs.Create(ctx, tx, store.TransactionInput{
		ID:                uuid.NewString(),
		WalletID:          wallet.ID,
		UserID:            dep.UserID,
		Type:              "DEPOSIT",
		Status:            "COMPLETED",
		Amount:            dep.Amount,
		Currency:          dep.Currency,
		Provider:          &providerCopy,
		ExternalReference: externalRef,
		IdempotencyKey:    &dedupKey,
		Metadata:          "{}",
	}); err != nil {
		return nil, err
	}

	affected, err := s.deposits.Settle(ctx, tx, dep.Reference, "COMPLETED", externalHash)
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, ErrReconciliationRequired
	}

	return &DepositApplied{
		Reference:    dep.Reference,
		UserID:       dep.UserID,
		WalletID:     wallet.ID,
		AmountMinor:  dep.Amount,
		Currency:     dep.Currency,
		Status:       "COMPLETED",
		BalanceMinor: newBalance,
	}, nil
}

// Fanout pushes the post-commit side effects of a settlement: balance
// broadcast, user notification, metrics.
func (s *PaymentService) Fanout(applied *DepositApplied) {
	if applied == nil {
		return
	}
	switch applied.Status {
	case "COMPLETED":
		metrics.LedgerMutations.WithLabelValues("deposit").Inc()
		s.hub.BroadcastBalance(applied.UserID, websocket.BalanceUpdate{
			WalletID: applied.WalletID,
			Balance:  money.FormatMinor(applied.BalanceMinor, applied.Currency),
			Currency: applied.Currency,
		})
		s.notifier.Send(applied.UserID, "deposit.completed", map[string]any{
			"reference": applied.Reference,
			"amount":    money.FormatMinor(applied.AmountMinor, applied.Currency),
			"currency":  applied.Currency,
		})
	case "FAILED":
		s.notifier.Send(applied.UserID, "deposit.failed", map[string]any{
			"reference": applied.Reference,
		})
	}
}

// Sweep runs one maintenance pass: expire requests past their deadline and
// poll the provider for requests that have waited too long without a
// webhook.
func (s *PaymentService) Sweep(ctx context.Context) {
	var expired int64
	err := s.runner.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		expired, err = s.deposits.ExpirePastDue(ctx, tx, time.Now())
		return err
	})
	if err != nil {
		s.log.Error("deposit expiry sweep failed", zap.Error(err))
	} else if expired > 0 {
		metrics.DepositsExpired.Add(float64(expired))
		s.log.Info("expired stale deposit requests", zap.Int64("count", expired))
	}

	stale, err := s.deposits.ListStalePending(ctx, time.Now().Add(-stalePollAge), 50)
	if err != nil {
		s.log.Error("stale deposit listing failed", zap.Error(err))
		return
	}
	for _, dep := range stale {
		if _, err := s.Reconcile(ctx, dep.Reference); err != nil {
			s.log.Warn("stale deposit reconcile failed", zap.String("reference", dep.Reference), zap.Error(err))
		}
	}
}

// RunSweeper runs Sweep on the interval until ctx is done.
func (s *PaymentService) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Sweep(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func createdBefore(dep store.DepositRequest, cutoff time.Time) bool {
	created, ok := dep.CreatedAt.(time.Time)
	if !ok {
		return false
	}
	return created.Before(cutoff)
}
