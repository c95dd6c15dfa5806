package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"paygate/internal/store"
	"paygate/internal/validator"
)

func (h *Handler) ListCommissionRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.commission.List(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load commission rules")
		return
	}
	normalized := make([]map[string]any, 0, len(rules))
	for _, rule := range rules {
		currency := ""
		if rule.Currency != nil {
			currency = *rule.Currency
		}
		normalized = append(normalized, map[string]any{
			"id":         rule.ID,
			"tx_type":    rule.TxType,
			"currency":   currency,
			"kind":       rule.Kind,
			"value":      rule.Value,
			"min_fee":    rule.MinFee,
			"max_fee":    rule.MaxFee,
			"plan_tiers": rule.PlanTiers,
			"created_at": rule.CreatedAt,
		})
	}
	respondJSON(w, http.StatusOK, normalized)
}

type commissionRuleRequest struct {
	TxType    string `json:"tx_type"`
	Currency  string `json:"currency"`
	Kind      string `json:"kind"`
	Value     string `json:"value"`
	MinFee    int64  `json:"min_fee"`
	MaxFee    *int64 `json:"max_fee"`
	PlanTiers string `json:"plan_tiers"`
}

// UpsertCommissionRule replaces the active rule for (tx_type, currency) and
// audits the change in the same transaction.
func (h *Handler) UpsertCommissionRule(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req commissionRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if req.TxType == "" || req.Kind == "" || req.Value == "" {
		respondError(w, http.StatusBadRequest, "tx_type, kind and value are required")
		return
	}
	if req.Currency != "" {
		if err := validator.ValidateCurrency(req.Currency); err != nil {
			respondError(w, http.StatusBadRequest, "invalid_currency")
			return
		}
	}

	var currency *string
	if req.Currency != "" {
		currency = &req.Currency
	}
	ruleID := uuid.NewString()
	payload, _ := json.Marshal(req)
	err := h.txRunner.WithTx(r.Context(), func(tx *sqlx.Tx) error {
		if err := h.commission.Upsert(r.Context(), tx, store.CommissionRuleInput{
			ID:        ruleID,
			TxType:    req.TxType,
			Currency:  currency,
			Kind:      req.Kind,
			Value:     req.Value,
			MinFee:    req.MinFee,
			MaxFee:    req.MaxFee,
			PlanTiers: req.PlanTiers,
		}); err != nil {
			return err
		}
		return h.audit.Log(r.Context(), tx, actor.UserID, "commission_rule.upsert", "commission_rule", ruleID, string(payload))
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to save commission rule")
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"id": ruleID})
}

func (h *Handler) ListUnresolvedWebhooks(w http.ResponseWriter, r *http.Request) {
	limit := parseInt(r.URL.Query().Get("limit"), 50)
	events, err := h.events.ListUnresolved(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load unresolved webhooks")
		return
	}
	normalized := make([]map[string]any, 0, len(events))
	for _, event := range events {
		normalized = append(normalized, map[string]any{
			"provider":          event.Provider,
			"provider_event_id": event.ProviderEventID,
			"outcome":           event.Outcome,
			"received_at":       event.ReceivedAt,
		})
	}
	respondJSON(w, http.StatusOK, normalized)
}

type confirmDepositRequest struct {
	ExternalHash string `json:"external_hash"`
}

func (h *Handler) ConfirmDeposit(w http.ResponseWriter, r *http.Request) {
	reference := chi.URLParam(r, "reference")
	var req confirmDepositRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if err := h.payments.ConfirmDeposit(r.Context(), reference, req.ExternalHash); err != nil {
		respondServiceError(w, err, "confirm_failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"reference": reference, "status": "COMPLETED"})
}

func (h *Handler) FailDeposit(w http.ResponseWriter, r *http.Request) {
	reference := chi.URLParam(r, "reference")
	if err := h.payments.FailDeposit(r.Context(), reference); err != nil {
		respondServiceError(w, err, "fail_failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"reference": reference, "status": "FAILED"})
}

func (h *Handler) ReconcileDeposit(w http.ResponseWriter, r *http.Request) {
	reference := chi.URLParam(r, "reference")
	status, err := h.payments.Reconcile(r.Context(), reference)
	if err != nil {
		respondServiceError(w, err, "reconcile_failed")
		return
	}
	respondJSON(w, http.StatusOK, status)
}

type freezeRequest struct {
	Frozen bool `json:"frozen"`
}

// FreezeWallet toggles the frozen flag. A frozen wallet still receives
// credits; only debits are blocked.
func (h *Handler) FreezeWallet(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	walletID := chi.URLParam(r, "id")
	var req freezeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if _, err := h.wallets.GetByID(r.Context(), walletID); err != nil {
		respondError(w, http.StatusNotFound, "wallet not found")
		return
	}
	payload, _ := json.Marshal(req)
	err := h.txRunner.WithTx(r.Context(), func(tx *sqlx.Tx) error {
		if err := h.wallets.SetFrozen(r.Context(), tx, walletID, req.Frozen); err != nil {
			return err
		}
		return h.audit.Log(r.Context(), tx, actor.UserID, "wallet.freeze", "wallet", walletID, string(payload))
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to update wallet")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"id": walletID, "frozen": req.Frozen})
}

func (h *Handler) ListAuditLogs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	page := parseInt(query.Get("page"), 1)
	limit := parseInt(query.Get("limit"), 50)
	offset := (page - 1) * limit
	logs, err := h.audit.List(r.Context(), limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load audit logs")
		return
	}
	normalized := make([]map[string]any, 0, len(logs))
	for _, entry := range logs {
		normalized = append(normalized, map[string]any{
			"id":          entry.ID,
			"actor_id":    entry.ActorID,
			"action":      entry.Action,
			"entity_type": entry.EntityType,
			"entity_id":   entry.EntityID,
			"data":        entry.Data,
			"created_at":  entry.CreatedAt,
		})
	}
	respondJSON(w, http.StatusOK, normalized)
}
