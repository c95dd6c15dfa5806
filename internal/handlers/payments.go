package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"paygate/internal/services"
	"paygate/internal/validator"
)

type depositRequest struct {
	Provider       string            `json:"provider"`
	Amount         string            `json:"amount"`
	Currency       string            `json:"currency"`
	IdempotencyKey string            `json:"idempotencyKey"`
	Metadata       map[string]string `json:"metadata"`
}

// InitializePayment creates a deposit with the provider named in the body.
func (h *Handler) InitializePayment(w http.ResponseWriter, r *http.Request) {
	h.createDeposit(w, r, "")
}

func (h *Handler) DepositCard(w http.ResponseWriter, r *http.Request) {
	h.createDeposit(w, r, "cardgate")
}

func (h *Handler) DepositBank(w http.ResponseWriter, r *http.Request) {
	h.createDeposit(w, r, "bankwire")
}

func (h *Handler) DepositCrypto(w http.ResponseWriter, r *http.Request) {
	h.createDeposit(w, r, "cryptopay")
}

func (h *Handler) createDeposit(w http.ResponseWriter, r *http.Request, providerName string) {
	actor, ok := actorFrom(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req depositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if providerName == "" {
		providerName = req.Provider
	}
	key := idempotencyKey(r, req.IdempotencyKey)
	if err := validator.ValidateIdempotencyKey(key); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_idempotency_key")
		return
	}
	result, err := h.payments.CreateDeposit(r.Context(), actor, services.CreateDepositInput{
		Provider:       providerName,
		Amount:         req.Amount,
		Currency:       req.Currency,
		IdempotencyKey: key,
		Metadata:       req.Metadata,
	})
	if err != nil {
		respondServiceError(w, err, "deposit_failed")
		return
	}
	respondJSON(w, http.StatusCreated, result)
}

func (h *Handler) PaymentStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	reference := chi.URLParam(r, "reference")
	if err := validator.ValidateReference(reference); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_reference")
		return
	}
	status, err := h.payments.GetStatus(r.Context(), actor, reference)
	if err != nil {
		respondServiceError(w, err, "status_lookup_failed")
		return
	}
	respondJSON(w, http.StatusOK, status)
}

// idempotencyKey prefers the Idempotency-Key header, falling back to the
// body field.
func idempotencyKey(r *http.Request, bodyKey string) string {
	if header := r.Header.Get("Idempotency-Key"); header != "" {
		return header
	}
	return bodyKey
}
