package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"paygate/internal/provider"
	"paygate/internal/services"
)

// Webhook receives a provider callback. Only a bad signature earns a
// non-2xx; any later failure is acknowledged and filed for reconciliation,
// because bouncing it would just trigger a provider retry storm over an
// event we already have.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	providerName := chi.URLParam(r, "provider")
	rawBody, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		respondError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	receipt, err := h.webhooks.Process(r.Context(), providerName, r.Header, rawBody)
	if err != nil {
		switch {
		case errors.Is(err, provider.ErrUnknownProvider):
			respondError(w, http.StatusNotFound, "unknown_provider")
		case errors.Is(err, services.ErrInvalidSignature):
			respondError(w, http.StatusUnauthorized, "invalid_signature")
		default:
			respondError(w, http.StatusInternalServerError, "webhook_failed")
		}
		return
	}
	respondJSON(w, http.StatusOK, receipt)
}
