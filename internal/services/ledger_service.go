package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"paygate/internal/db"
	"paygate/internal/metrics"
	"paygate/internal/money"
	"paygate/internal/store"
	"paygate/internal/websocket"
)

const quoteTTL = 2 * time.Minute

// Actor is the authenticated caller of a money movement: identity, plan tier
// for fee resolution, and the step-up verified flag.
type Actor struct {
	UserID   string
	Plan     string
	Verified bool
	Admin    bool
}

// LedgerService owns the wallet-to-wallet movements: internal transfers,
// withdrawals, and currency swaps. Every mutation runs inside one
// serializable transaction with wallet rows locked in ID order, so no
// interleaving can observe or produce a negative balance.
type LedgerService struct {
	runner   db.TxRunner
	wallets  WalletStore
	txs      TransactionStore
	quotes   SwapQuoteStore
	fees     FeeEngine
	rates    RateTable
	idem     *IdempotencyService
	hub      BalanceHub
	notifier Notifier
	log      *zap.Logger

	slippageTolerance  decimal.Decimal
	withdrawVerifyOver decimal.Decimal
}

func NewLedgerService(
	runner db.TxRunner,
	wallets WalletStore,
	txs TransactionStore,
	quotes SwapQuoteStore,
	fees FeeEngine,
	rates RateTable,
	idem *IdempotencyService,
	hub BalanceHub,
	notifier Notifier,
	slippageTolerance, withdrawVerifyOver decimal.Decimal,
	log *zap.Logger,
) *LedgerService {
	return &LedgerService{
		runner:             runner,
		wallets:            wallets,
		txs:                txs,
		quotes:             quotes,
		fees:               fees,
		rates:              rates,
		idem:               idem,
		hub:                hub,
		notifier:           notifier,
		log:                log,
		slippageTolerance:  slippageTolerance,
		withdrawVerifyOver: withdrawVerifyOver,
	}
}

type TransferInput struct {
	FromWalletID   string
	ToWalletID     string
	Amount         string
	IdempotencyKey string
}

type TransferResult struct {
	TransactionID string `json:"transaction_id"`
	FromWalletID  string `json:"from_wallet_id"`
	ToWalletID    string `json:"to_wallet_id"`
	Amount        string `json:"amount"`
	Fee           string `json:"fee"`
	Currency      string `json:"currency"`
	Status        string `json:"status"`
}

// Transfer moves amount between two wallets of the same currency. The sender
// is debited amount plus fee, the receiver credited amount, and the platform
// wallet credited the fee, all-or-nothing.
func (s *LedgerService) Transfer(ctx context.Context, actor Actor, input TransferInput) (TransferResult, error) {
	if input.FromWalletID == input.ToWalletID {
		return TransferResult{}, ErrSameWalletTransfer
	}
	prior, replay, err := s.idem.Begin(ctx, input.IdempotencyKey, actor.UserID, "transfer")
	if err != nil {
		return TransferResult{}, err
	}
	if replay {
		var result TransferResult
		if err := json.Unmarshal(prior, &result); err != nil {
			return TransferResult{}, err
		}
		return result, nil
	}

	result, err := s.transfer(ctx, actor, input)
	if err != nil {
		s.release(ctx, input.IdempotencyKey)
		return TransferResult{}, err
	}
	return result, nil
}

func (s *LedgerService) transfer(ctx context.Context, actor Actor, input TransferInput) (TransferResult, error) {
	from, err := s.wallets.GetByID(ctx, input.FromWalletID)
	if err != nil {
		return TransferResult{}, walletErr(err)
	}
	if from.UserID == nil || *from.UserID != actor.UserID {
		return TransferResult{}, ErrUnauthorizedWallet
	}
	amount, err := parseAmount(input.Amount, from.Currency)
	if err != nil {
		return TransferResult{}, err
	}
	fee, err := s.fees.Calculate(ctx, "TRANSFER", from.Currency, actor.Plan, amount)
	if err != nil {
		return TransferResult{}, err
	}
	platformID := ""
	if fee.Minor > 0 {
		platformID, err = s.wallets.GetPlatformWallet(ctx, from.Currency)
		if err != nil {
			return TransferResult{}, err
		}
	}

	result := TransferResult{
		TransactionID: uuid.NewString(),
		FromWalletID:  input.FromWalletID,
		ToWalletID:    input.ToWalletID,
		Amount:        money.FormatMinor(amount, from.Currency),
		Fee:           money.FormatMinor(fee.Minor, from.Currency),
		Currency:      from.Currency,
		Status:        "COMPLETED",
	}
	var fromBalance, toBalance int64
	var receiverUser string

	err = s.runner.WithTx(ctx, func(tx *sqlx.Tx) error {
		ids := []string{input.FromWalletID, input.ToWalletID}
		if platformID != "" {
			ids = append(ids, platformID)
		}
		locked, err := s.lockWallets(ctx, tx, ids)
		if err != nil {
			return err
		}
		sender := locked[input.FromWalletID]
		receiver := locked[input.ToWalletID]
		if sender.UserID == nil || *sender.UserID != actor.UserID {
			return ErrUnauthorizedWallet
		}
		if sender.Frozen {
			return ErrWalletFrozen
		}
		if receiver.Currency != sender.Currency {
			return ErrCurrencyMismatch
		}
		total := amount + fee.Minor
		if sender.Available < total {
			return ErrInsufficientFunds
		}

		if err := s.wallets.UpdateBalances(ctx, tx, sender.ID, sender.Balance-total, sender.Available-total); err != nil {
			return err
		}
		if err := s.wallets.UpdateBalances(ctx, tx, receiver.ID, receiver.Balance+amount, receiver.Available+amount); err != nil {
			return err
		}
		if platformID != "" {
			platform := locked[platformID]
			if err := s.wallets.UpdateBalances(ctx, tx, platform.ID, platform.Balance+fee.Minor, platform.Available+fee.Minor); err != nil {
				return err
			}
		}

		key := input.IdempotencyKey
		if err := s.txs.Create(ctx, tx, store.TransactionInput{
			ID:             result.TransactionID,
			WalletID:       sender.ID,
			UserID:         actor.UserID,
			Type:           "TRANSFER_OUT",
			Status:         "COMPLETED",
			Amount:         amount,
			Currency:       sender.Currency,
			Fee:            fee.Minor,
			IdempotencyKey: &key,
			Metadata:       "{}",
		}); err != nil {
			return err
		}
		counterpart := result.TransactionID
		if receiver.UserID != nil {
			receiverUser = *receiver.UserID
		}
		if err := s.txs.Create(ctx, tx, store.TransactionInput{
			ID:                uuid.NewString(),
			WalletID:          receiver.ID,
			UserID:            receiverUser,
			Type:              "TRANSFER_IN",
			Status:            "COMPLETED",
			Amount:            amount,
			Currency:          receiver.Currency,
			ExternalReference: &counterpart,
			Metadata:          "{}",
		}); err != nil {
			return err
		}

		fromBalance = sender.Balance - total
		toBalance = receiver.Balance + amount
		payload, err := json.Marshal(result)
		if err != nil {
			return err
		}
		return s.idem.Complete(ctx, tx, input.IdempotencyKey, string(payload))
	})
	if err != nil {
		return TransferResult{}, err
	}

	metrics.LedgerMutations.WithLabelValues("transfer").Inc()
	s.broadcast(actor.UserID, from.ID, fromBalance, from.Currency)
	if receiverUser != "" {
		s.broadcast(receiverUser, input.ToWalletID, toBalance, from.Currency)
		s.notifier.Send(receiverUser, "transfer.received", map[string]any{
			"amount":   result.Amount,
			"currency": result.Currency,
		})
	}
	s.notifier.Send(actor.UserID, "transfer.completed", map[string]any{
		"transaction_id": result.TransactionID,
		"amount":         result.Amount,
		"currency":       result.Currency,
	})
	return result, nil
}

type WithdrawInput struct {
	WalletID       string
	Amount         string
	Destination    string
	IdempotencyKey string
}

type WithdrawResult struct {
	TransactionID string `json:"transaction_id"`
	WalletID      string `json:"wallet_id"`
	Amount        string `json:"amount"`
	Fee           string `json:"fee"`
	Currency      string `json:"currency"`
	Status        string `json:"status"`
}

// Withdraw debits amount plus fee from the wallet. Withdrawals at or above
// the policy threshold require a step-up verified identity.
func (s *LedgerService) Withdraw(ctx context.Context, actor Actor, input WithdrawInput) (WithdrawResult, error) {
	prior, replay, err := s.idem.Begin(ctx, input.IdempotencyKey, actor.UserID, "withdraw")
	if err != nil {
		return WithdrawResult{}, err
	}
	if replay {
		var result WithdrawResult
		if err := json.Unmarshal(prior, &result); err != nil {
			return WithdrawResult{}, err
		}
		return result, nil
	}

	result, err := s.withdraw(ctx, actor, input)
	if err != nil {
		s.release(ctx, input.IdempotencyKey)
		return WithdrawResult{}, err
	}
	return result, nil
}

func (s *LedgerService) withdraw(ctx context.Context, actor Actor, input WithdrawInput) (WithdrawResult, error) {
	wallet, err := s.wallets.GetByID(ctx, input.WalletID)
	if err != nil {
		return WithdrawResult{}, walletErr(err)
	}
	if wallet.UserID == nil || *wallet.UserID != actor.UserID {
		return WithdrawResult{}, ErrUnauthorizedWallet
	}
	amount, err := parseAmount(input.Amount, wallet.Currency)
	if err != nil {
		return WithdrawResult{}, err
	}
	if money.FromMinor(amount, wallet.Currency).GreaterThanOrEqual(s.withdrawVerifyOver) && !actor.Verified {
		return WithdrawResult{}, ErrVerificationRequired
	}
	fee, err := s.fees.Calculate(ctx, "WITHDRAWAL", wallet.Currency, actor.Plan, amount)
	if err != nil {
		return WithdrawResult{}, err
	}
	platformID := ""
	if fee.Minor > 0 {
		platformID, err = s.wallets.GetPlatformWallet(ctx, wallet.Currency)
		if err != nil {
			return WithdrawResult{}, err
		}
	}

	result := WithdrawResult{
		TransactionID: uuid.NewString(),
		WalletID:      wallet.ID,
		Amount:        money.FormatMinor(amount, wallet.Currency),
		Fee:           money.FormatMinor(fee.Minor, wallet.Currency),
		Currency:      wallet.Currency,
		Status:        "COMPLETED",
	}
	var newBalance int64

	err = s.runner.WithTx(ctx, func(tx *sqlx.Tx) error {
		ids := []string{wallet.ID}
		if platformID != "" {
			ids = append(ids, platformID)
		}
		locked, err := s.lockWallets(ctx, tx, ids)
		if err != nil {
			return err
		}
		current := locked[wallet.ID]
		if current.Frozen {
			return ErrWalletFrozen
		}
		total := amount + fee.Minor
		if current.Available < total {
			return ErrInsufficientFunds
		}
		if err := s.wallets.UpdateBalances(ctx, tx, current.ID, current.Balance-total, current.Available-total); err != nil {
			return err
		}
		if platformID != "" {
			platform := locked[platformID]
			if err := s.wallets.UpdateBalances(ctx, tx, platform.ID, platform.Balance+fee.Minor, platform.Available+fee.Minor); err != nil {
				return err
			}
		}

		key := input.IdempotencyKey
		metadata := "{}"
		if input.Destination != "" {
			raw, err := json.Marshal(map[string]string{"destination": input.Destination})
			if err != nil {
				return err
			}
			metadata = string(raw)
		}
		if err := s.txs.Create(ctx, tx, store.TransactionInput{
			ID:             result.TransactionID,
			WalletID:       current.ID,
			UserID:         actor.UserID,
			Type:           "WITHDRAWAL",
			Status:         "COMPLETED",
			Amount:         amount,
			Currency:       current.Currency,
			Fee:            fee.Minor,
			IdempotencyKey: &key,
			Metadata:       metadata,
		}); err != nil {
			return err
		}

		newBalance = current.Balance - total
		payload, err := json.Marshal(result)
		if err != nil {
			return err
		}
		return s.idem.Complete(ctx, tx, input.IdempotencyKey, string(payload))
	})
	if err != nil {
		return WithdrawResult{}, err
	}

	metrics.LedgerMutations.WithLabelValues("withdraw").Inc()
	s.broadcast(actor.UserID, wallet.ID, newBalance, wallet.Currency)
	s.notifier.Send(actor.UserID, "withdrawal.completed", map[string]any{
		"transaction_id": result.TransactionID,
		"amount":         result.Amount,
		"currency":       result.Currency,
	})
	return result, nil
}

type SwapPreviewInput struct {
	FromCurrency string
	ToCurrency   string
	Amount       string
}

type SwapQuoteResult struct {
	QuoteID      string    `json:"quote_id"`
	FromCurrency string    `json:"from_currency"`
	ToCurrency   string    `json:"to_currency"`
	Amount       string    `json:"amount"`
	Fee          string    `json:"fee"`
	Converted    string    `json:"converted"`
	Rate         string    `json:"rate"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// PreviewSwap quotes a conversion and locks the price for a short window.
// The converted amount is (amount - fee) x rate, rounded at the target
// currency's exponent.
func (s *LedgerService) PreviewSwap(ctx context.Context, actor Actor, input SwapPreviewInput) (SwapQuoteResult, error) {
	terms, err := s.swapTerms(ctx, actor, input.FromCurrency, input.ToCurrency, input.Amount)
	if err != nil {
		return SwapQuoteResult{}, err
	}

	quote := SwapQuoteResult{
		QuoteID:      uuid.NewString(),
		FromCurrency: terms.fromCurrency,
		ToCurrency:   terms.toCurrency,
		Amount:       money.FormatMinor(terms.amount, terms.fromCurrency),
		Fee:          money.FormatMinor(terms.fee, terms.fromCurrency),
		Converted:    money.FormatMinor(terms.converted, terms.toCurrency),
		Rate:         terms.rate.String(),
		ExpiresAt:    time.Now().Add(quoteTTL).UTC(),
	}
	err = s.quotes.Create(ctx, store.SwapQuoteInput{
		ID:             quote.QuoteID,
		UserID:         actor.UserID,
		FromCurrency:   terms.fromCurrency,
		ToCurrency:     terms.toCurrency,
		AmountMinor:    terms.amount,
		FeeMinor:       terms.fee,
		ConvertedMinor: terms.converted,
		Rate:           terms.rate.String(),
		ExpiresAt:      quote.ExpiresAt,
	})
	if err != nil {
		return SwapQuoteResult{}, err
	}
	return quote, nil
}

type SwapExecuteInput struct {
	QuoteID        string
	FromCurrency   string
	ToCurrency     string
	Amount         string
	IdempotencyKey string
}

type SwapResult struct {
	TransactionID string `json:"transaction_id"`
	QuoteID       string `json:"quote_id,omitempty"`
	FromCurrency  string `json:"from_currency"`
	ToCurrency    string `json:"to_currency"`
	Amount        string `json:"amount"`
	Fee           string `json:"fee"`
	Converted     string `json:"converted"`
	Rate          string `json:"rate"`
	Status        string `json:"status"`
}

// ExecuteSwap converts between the caller's wallets. With a quote the locked
// price applies, guarded by the slippage tolerance against the live rate;
// without one the current rate is used. The four legs commit atomically: the
// source wallet pays amount, the platform source-currency wallet collects it,
// the platform target-currency wallet pays out, and the target wallet
// receives the converted amount.
func (s *LedgerService) ExecuteSwap(ctx context.Context, actor Actor, input SwapExecuteInput) (SwapResult, error) {
	prior, replay, err := s.idem.Begin(ctx, input.IdempotencyKey, actor.UserID, "swap")
	if err != nil {
		return SwapResult{}, err
	}
	if replay {
		var result SwapResult
		if err := json.Unmarshal(prior, &result); err != nil {
			return SwapResult{}, err
		}
		return result, nil
	}

	result, err := s.executeSwap(ctx, actor, input)
	if err != nil {
		s.release(ctx, input.IdempotencyKey)
		return SwapResult{}, err
	}
	return result, nil
}

type swapTerms struct {
	fromCurrency string
	toCurrency   string
	amount       int64
	fee          int64
	converted    int64
	rate         decimal.Decimal
	quoteID      string
}

func (s *LedgerService) swapTerms(ctx context.Context, actor Actor, fromCurrency, toCurrency, rawAmount string) (swapTerms, error) {
	if fromCurrency == toCurrency {
		return swapTerms{}, ErrInvalidSwap
	}
	if !money.Supported(fromCurrency) || !money.Supported(toCurrency) {
		return swapTerms{}, ErrUnsupportedCurrency
	}
	amount, err := parseAmount(rawAmount, fromCurrency)
	if err != nil {
		return swapTerms{}, err
	}
	fee, err := s.fees.Calculate(ctx, "SWAP", fromCurrency, actor.Plan, amount)
	if err != nil {
		return swapTerms{}, err
	}
	net := amount - fee.Minor
	if net <= 0 {
		return swapTerms{}, ErrInvalidAmount
	}
	rate, _, err := s.rates.Rate(ctx, fromCurrency, toCurrency)
	if err != nil {
		return swapTerms{}, err
	}
	converted := money.ToMinor(money.FromMinor(net, fromCurrency).Mul(rate), toCurrency)
	if converted <= 0 {
		return swapTerms{}, ErrInvalidAmount
	}
	return swapTerms{
		fromCurrency: fromCurrency,
		toCurrency:   toCurrency,
		amount:       amount,
		fee:          fee.Minor,
		converted:    converted,
		rate:         rate,
	}, nil
}

func (s *LedgerService) quotedTerms(ctx context.Context, actor Actor, quoteID string) (swapTerms, error) {
	quote, err := s.quotes.GetByID(ctx, quoteID)
	if errors.Is(err, sql.ErrNoRows) {
		return swapTerms{}, ErrQuoteNotFound
	}
	if err != nil {
		return swapTerms{}, err
	}
	if quote.UserID != actor.UserID {
		return swapTerms{}, ErrQuoteNotFound
	}
	if quote.ConsumedAt != nil {
		return swapTerms{}, ErrQuoteConsumed
	}
	if time.Now().After(quote.ExpiresAt) {
		return swapTerms{}, ErrQuoteExpired
	}
	quotedRate, err := decimal.NewFromString(quote.Rate)
	if err != nil {
		return swapTerms{}, err
	}
	current, _, err := s.rates.Rate(ctx, quote.FromCurrency, quote.ToCurrency)
	if err == nil && !quotedRate.IsZero() {
		drift := current.Sub(quotedRate).Abs().Div(quotedRate)
		if drift.GreaterThan(s.slippageTolerance) {
			return swapTerms{}, ErrSlippageExceeded
		}
	}
	return swapTerms{
		fromCurrency: quote.FromCurrency,
		toCurrency:   quote.ToCurrency,
		amount:       quote.AmountMinor,
		fee:          quote.FeeMinor,
		converted:    quote.ConvertedMinor,
		rate:         quotedRate,
		quoteID:      quote.ID,
	}, nil
}

func (s *LedgerService) executeSwap(ctx context.Context, actor Actor, input SwapExecuteInput) (SwapResult, error) {
	var terms swapTerms
	var err error
	if input.QuoteID != "" {
		terms, err = s.quotedTerms(ctx, actor, input.QuoteID)
	} else {
		terms, err = s.swapTerms(ctx, actor, input.FromCurrency, input.ToCurrency, input.Amount)
	}
	if err != nil {
		return SwapResult{}, err
	}

	fromWallet, err := s.wallets.GetByUserAndCurrency(ctx, actor.UserID, terms.fromCurrency)
	if err != nil {
		return SwapResult{}, walletErr(err)
	}
	toWallet, err := s.wallets.GetByUserAndCurrency(ctx, actor.UserID, terms.toCurrency)
	if err != nil {
		return SwapResult{}, walletErr(err)
	}
	platformFrom, err := s.wallets.GetPlatformWallet(ctx, terms.fromCurrency)
	if err != nil {
		return SwapResult{}, err
	}
	platformTo, err := s.wallets.GetPlatformWallet(ctx, terms.toCurrency)
	if err != nil {
		return SwapResult{}, err
	}

	rateStr := terms.rate.String()
	result := SwapResult{
		TransactionID: uuid.NewString(),
		QuoteID:       terms.quoteID,
		FromCurrency:  terms.fromCurrency,
		ToCurrency:    terms.toCurrency,
		Amount:        money.FormatMinor(terms.amount, terms.fromCurrency),
		Fee:           money.FormatMinor(terms.fee, terms.fromCurrency),
		Converted:     money.FormatMinor(terms.converted, terms.toCurrency),
		Rate:          rateStr,
		Status:        "COMPLETED",
	}
	var fromBalance, toBalance int64

	err = s.runner.WithTx(ctx, func(tx *sqlx.Tx) error {
		locked, err := s.lockWallets(ctx, tx, []string{fromWallet.ID, toWallet.ID, platformFrom, platformTo})
		if err != nil {
			return err
		}
		source := locked[fromWallet.ID]
		target := locked[toWallet.ID]
		poolFrom := locked[platformFrom]
		poolTo := locked[platformTo]

		if source.Frozen {
			return ErrWalletFrozen
		}
		if source.Available < terms.amount {
			return ErrInsufficientFunds
		}
		// The platform wallet in the target currency is the liquidity pool
		// for the payout leg.
		if poolTo.Available < terms.converted {
			return ErrInsufficientFunds
		}

		if err := s.wallets.UpdateBalances(ctx, tx, source.ID, source.Balance-terms.amount, source.Available-terms.amount); err != nil {
			return err
		}
		if err := s.wallets.UpdateBalances(ctx, tx, poolFrom.ID, poolFrom.Balance+terms.amount, poolFrom.Available+terms.amount); err != nil {
			return err
		}
		if err := s.wallets.UpdateBalances(ctx, tx, poolTo.ID, poolTo.Balance-terms.converted, poolTo.Available-terms.converted); err != nil {
			return err
		}
		if err := s.wallets.UpdateBalances(ctx, tx, target.ID, target.Balance+terms.converted, target.Available+terms.converted); err != nil {
			return err
		}

		if terms.quoteID != "" {
			affected, err := s.quotes.Consume(ctx, tx, terms.quoteID)
			if err != nil {
				return err
			}
			if affected == 0 {
				return ErrQuoteConsumed
			}
		}

		key := input.IdempotencyKey
		if err := s.txs.Create(ctx, tx, store.TransactionInput{
			ID:             result.TransactionID,
			WalletID:       source.ID,
			UserID:         actor.UserID,
			Type:           "SWAP_DEBIT",
			Status:         "COMPLETED",
			Amount:         terms.amount,
			Currency:       terms.fromCurrency,
			Fee:            terms.fee,
			Rate:           &rateStr,
			IdempotencyKey: &key,
			Metadata:       "{}",
		}); err != nil {
			return err
		}
		counterpart := result.TransactionID
		if err := s.txs.Create(ctx, tx, store.TransactionInput{
			ID:                uuid.NewString(),
			WalletID:          target.ID,
			UserID:            actor.UserID,
			Type:              "SWAP_CREDIT",
			Status:            "COMPLETED",
			Amount:            terms.converted,
			Currency:          terms.toCurrency,
			Rate:              &rateStr,
			ExternalReference: &counterpart,
			Metadata:          "{}",
		}); err != nil {
			return err
		}

		fromBalance = source.Balance - terms.amount
		toBalance = target.Balance + terms.converted
		payload, err := json.Marshal(result)
		if err != nil {
			return err
		}
		return s.idem.Complete(ctx, tx, input.IdempotencyKey, string(payload))
	})
	if err != nil {
		return SwapResult{}, err
	}

	metrics.LedgerMutations.WithLabelValues("swap").Inc()
	s.broadcast(actor.UserID, fromWallet.ID, fromBalance, terms.fromCurrency)
	s.broadcast(actor.UserID, toWallet.ID, toBalance, terms.toCurrency)
	s.notifier.Send(actor.UserID, "swap.completed", map[string]any{
		"transaction_id": result.TransactionID,
		"from":           terms.fromCurrency,
		"to":             terms.toCurrency,
		"converted":      result.Converted,
	})
	return result, nil
}

// lockWallets acquires FOR UPDATE locks in ascending wallet-ID order so
// concurrent movements over overlapping wallet sets cannot deadlock.
func (s *LedgerService) lockWallets(ctx context.Context, tx *sqlx.Tx, ids []string) (map[string]store.Wallet, error) {
	ordered := append([]string(nil), ids...)
	sort.Strings(ordered)
	locked := make(map[string]store.Wallet, len(ordered))
	for _, id := range ordered {
		if _, ok := locked[id]; ok {
			continue
		}
		wallet, err := s.wallets.GetForUpdate(ctx, tx, id)
		if err != nil {
			return nil, walletErr(err)
		}
		locked[id] = wallet
	}
	return locked, nil
}

func (s *LedgerService) broadcast(userID, walletID string, balance int64, currency string) {
	s.hub.BroadcastBalance(userID, websocket.BalanceUpdate{
		WalletID: walletID,
		Balance:  money.FormatMinor(balance, currency),
		Currency: currency,
	})
}

func (s *LedgerService) release(ctx context.Context, key string) {
	if err := s.idem.Release(ctx, key); err != nil {
		s.log.Error("idempotency key release failed", zap.String("key", key), zap.Error(err))
	}
}

func parseAmount(input, currency string) (int64, error) {
	minor, err := money.ParseMinor(input, currency)
	if err != nil {
		if errors.Is(err, money.ErrUnsupportedCurrency) {
			return 0, ErrUnsupportedCurrency
		}
		return 0, ErrInvalidAmount
	}
	if minor <= 0 {
		return 0, ErrInvalidAmount
	}
	return minor, nil
}

func walletErr(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrWalletNotFound
	}
	return err
}
