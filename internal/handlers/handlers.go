package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"paygate/internal/db"
	"paygate/internal/fx"
	"paygate/internal/provider"
	"paygate/internal/services"
)

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondServiceError maps the service error taxonomy to HTTP. Anything
// unmapped becomes a 500 with the handler's fallback code.
func respondServiceError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, services.ErrInvalidAmount):
		respondError(w, http.StatusBadRequest, "invalid_amount")
	case errors.Is(err, services.ErrUnsupportedCurrency):
		respondError(w, http.StatusBadRequest, "unsupported_currency")
	case errors.Is(err, services.ErrMissingIdempotencyKey):
		respondError(w, http.StatusBadRequest, "idempotency_key_required")
	case errors.Is(err, services.ErrSameWalletTransfer):
		respondError(w, http.StatusBadRequest, "same_wallet_transfer")
	case errors.Is(err, services.ErrCurrencyMismatch):
		respondError(w, http.StatusBadRequest, "currency_mismatch")
	case errors.Is(err, services.ErrInvalidSwap):
		respondError(w, http.StatusBadRequest, "invalid_swap_request")
	case errors.Is(err, services.ErrInsufficientFunds):
		respondError(w, http.StatusBadRequest, "insufficient_funds")
	case errors.Is(err, services.ErrQuoteNotFound):
		respondError(w, http.StatusBadRequest, "quote_not_found")
	case errors.Is(err, services.ErrQuoteExpired):
		respondError(w, http.StatusBadRequest, "quote_expired")
	case errors.Is(err, services.ErrQuoteConsumed):
		respondError(w, http.StatusBadRequest, "quote_consumed")
	case errors.Is(err, services.ErrSlippageExceeded):
		respondError(w, http.StatusBadRequest, "slippage_exceeded")
	case errors.Is(err, provider.ErrUnknownProvider):
		respondError(w, http.StatusBadRequest, "unknown_provider")
	case errors.Is(err, services.ErrUnauthorizedWallet):
		respondError(w, http.StatusForbidden, "wallet_access_denied")
	case errors.Is(err, services.ErrWalletFrozen):
		respondError(w, http.StatusForbidden, "wallet_frozen")
	case errors.Is(err, services.ErrVerificationRequired):
		respondError(w, http.StatusForbidden, "verification_required")
	case errors.Is(err, services.ErrWalletNotFound):
		respondError(w, http.StatusNotFound, "wallet_not_found")
	case errors.Is(err, services.ErrDepositNotFound):
		respondError(w, http.StatusNotFound, "deposit_not_found")
	case errors.Is(err, services.ErrDuplicateInProgress):
		respondError(w, http.StatusConflict, "duplicate_in_progress")
	case errors.Is(err, services.ErrDepositExpired):
		respondError(w, http.StatusConflict, "deposit_expired")
	case errors.Is(err, services.ErrReconciliationRequired):
		respondError(w, http.StatusConflict, "reconciliation_required")
	case errors.Is(err, fx.ErrRateUnavailable):
		respondError(w, http.StatusServiceUnavailable, "rate_unavailable")
	case db.IsUniqueViolation(err):
		respondError(w, http.StatusConflict, "duplicate_request")
	default:
		respondError(w, http.StatusInternalServerError, fallback)
	}
}
