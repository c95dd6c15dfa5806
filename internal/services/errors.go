package services

import "errors"

var (
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrUnsupportedCurrency    = errors.New("unsupported currency")
	ErrMissingIdempotencyKey  = errors.New("idempotency key required")
	ErrSameWalletTransfer     = errors.New("cannot transfer to same wallet")
	ErrUnauthorizedWallet     = errors.New("wallet does not belong to user")
	ErrWalletNotFound         = errors.New("wallet not found")
	ErrWalletFrozen           = errors.New("wallet is frozen")
	ErrCurrencyMismatch       = errors.New("currency mismatch")
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrVerificationRequired   = errors.New("step-up verification required")
	ErrDuplicateInProgress    = errors.New("duplicate request in progress")
	ErrQuoteNotFound          = errors.New("quote not found")
	ErrQuoteExpired           = errors.New("quote expired")
	ErrQuoteConsumed          = errors.New("quote already used")
	ErrInvalidSwap            = errors.New("invalid swap request")
	ErrSlippageExceeded       = errors.New("rate moved beyond slippage tolerance")
	ErrDepositNotFound        = errors.New("deposit request not found")
	ErrDepositExpired         = errors.New("deposit request expired")
	ErrReconciliationRequired = errors.New("state mismatch requires manual reconciliation")
	ErrInvalidSignature       = errors.New("webhook signature verification failed")
)
