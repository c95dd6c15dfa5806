package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"paygate/internal/middleware"
	"paygate/internal/money"
	"paygate/internal/services"
	"paygate/internal/validator"
	"paygate/internal/websocket"
)

func (h *Handler) ListWallets(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	wallets, err := h.wallets.ListByUser(r.Context(), actor.UserID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load wallets")
		return
	}
	normalized := make([]map[string]any, 0, len(wallets))
	for _, wallet := range wallets {
		normalized = append(normalized, map[string]any{
			"id":        wallet.ID,
			"currency":  wallet.Currency,
			"balance":   money.FormatMinor(wallet.Balance, wallet.Currency),
			"available": money.FormatMinor(wallet.Available, wallet.Currency),
			"frozen":    wallet.Frozen,
		})
	}
	respondJSON(w, http.StatusOK, normalized)
}

func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	walletID := chi.URLParam(r, "id")
	wallet, err := h.wallets.GetByID(r.Context(), walletID)
	if err != nil {
		respondError(w, http.StatusNotFound, "wallet not found")
		return
	}
	if wallet.UserID == nil || *wallet.UserID != actor.UserID {
		respondError(w, http.StatusForbidden, "wallet_access_denied")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"id":        wallet.ID,
		"currency":  wallet.Currency,
		"balance":   money.FormatMinor(wallet.Balance, wallet.Currency),
		"available": money.FormatMinor(wallet.Available, wallet.Currency),
		"frozen":    wallet.Frozen,
	})
}

type transferRequest struct {
	FromWalletID   string `json:"from_wallet_id"`
	ToWalletID     string `json:"to_wallet_id"`
	Amount         string `json:"amount"`
	IdempotencyKey string `json:"idempotencyKey"`
}

func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if req.FromWalletID == "" || req.ToWalletID == "" {
		respondError(w, http.StatusBadRequest, "wallet ids are required")
		return
	}
	key := idempotencyKey(r, req.IdempotencyKey)
	if err := validator.ValidateIdempotencyKey(key); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_idempotency_key")
		return
	}
	result, err := h.ledger.Transfer(r.Context(), actor, services.TransferInput{
		FromWalletID:   req.FromWalletID,
		ToWalletID:     req.ToWalletID,
		Amount:         req.Amount,
		IdempotencyKey: key,
	})
	if err != nil {
		respondServiceError(w, err, "transfer_failed")
		return
	}
	respondJSON(w, http.StatusCreated, result)
}

type withdrawRequest struct {
	WalletID       string `json:"wallet_id"`
	Amount         string `json:"amount"`
	Destination    string `json:"destination"`
	IdempotencyKey string `json:"idempotencyKey"`
}

func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req withdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if req.WalletID == "" {
		respondError(w, http.StatusBadRequest, "wallet_id is required")
		return
	}
	key := idempotencyKey(r, req.IdempotencyKey)
	if err := validator.ValidateIdempotencyKey(key); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_idempotency_key")
		return
	}
	result, err := h.ledger.Withdraw(r.Context(), actor, services.WithdrawInput{
		WalletID:       req.WalletID,
		Amount:         req.Amount,
		Destination:    req.Destination,
		IdempotencyKey: key,
	})
	if err != nil {
		respondServiceError(w, err, "withdrawal_failed")
		return
	}
	respondJSON(w, http.StatusCreated, result)
}

type swapPreviewRequest struct {
	FromCurrency string `json:"from_currency"`
	ToCurrency   string `json:"to_currency"`
	Amount       string `json:"amount"`
}

func (h *Handler) SwapPreview(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req swapPreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	quote, err := h.ledger.PreviewSwap(r.Context(), actor, services.SwapPreviewInput{
		FromCurrency: req.FromCurrency,
		ToCurrency:   req.ToCurrency,
		Amount:       req.Amount,
	})
	if err != nil {
		respondServiceError(w, err, "swap_preview_failed")
		return
	}
	respondJSON(w, http.StatusOK, quote)
}

type swapExecuteRequest struct {
	QuoteID        string `json:"quote_id"`
	FromCurrency   string `json:"from_currency"`
	ToCurrency     string `json:"to_currency"`
	Amount         string `json:"amount"`
	IdempotencyKey string `json:"idempotencyKey"`
}

func (h *Handler) SwapExecute(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req swapExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	key := idempotencyKey(r, req.IdempotencyKey)
	if err := validator.ValidateIdempotencyKey(key); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_idempotency_key")
		return
	}
	result, err := h.ledger.ExecuteSwap(r.Context(), actor, services.SwapExecuteInput{
		QuoteID:        req.QuoteID,
		FromCurrency:   req.FromCurrency,
		ToCurrency:     req.ToCurrency,
		Amount:         req.Amount,
		IdempotencyKey: key,
	})
	if err != nil {
		respondServiceError(w, err, "swap_failed")
		return
	}
	respondJSON(w, http.StatusCreated, result)
}

func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	query := r.URL.Query()
	txType := query.Get("type")
	page := parseInt(query.Get("page"), 1)
	limit := parseInt(query.Get("limit"), 20)
	offset := (page - 1) * limit
	transactions, err := h.transactions.ListByUser(r.Context(), actor.UserID, txType, limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load transactions")
		return
	}
	normalized := make([]map[string]any, 0, len(transactions))
	for _, row := range transactions {
		entry := map[string]any{
			"id":         row.ID,
			"wallet_id":  row.WalletID,
			"type":       row.Type,
			"status":     row.Status,
			"amount":     money.FormatMinor(row.Amount, row.Currency),
			"currency":   row.Currency,
			"fee":        money.FormatMinor(row.Fee, row.Currency),
			"created_at": row.CreatedAt,
		}
		if row.Rate != nil {
			entry["rate"] = *row.Rate
		}
		if row.Provider != nil {
			entry["provider"] = *row.Provider
		}
		if row.ExternalReference != nil {
			entry["external_reference"] = *row.ExternalReference
		}
		normalized = append(normalized, entry)
	}
	respondJSON(w, http.StatusOK, normalized)
}

func (h *Handler) WSBalances(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		authHeader := r.Header.Get("Authorization")
		if len(authHeader) > 7 && authHeader[:7] == "Bearer " {
			token = authHeader[7:]
		}
	}
	if token == "" {
		respondError(w, http.StatusUnauthorized, "missing token")
		return
	}
	principal, err := middleware.ParseToken(h.cfg.JWTSecret, token)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	websocket.ServeWS(w, r, h.hub, principal.UserID)
}

func parseInt(raw string, fallback int) int {
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}
