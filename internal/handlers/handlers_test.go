package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"paygate/internal/provider"
	"paygate/internal/services"
	"paygate/internal/store"
)

func doRequest(t *testing.T, router http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(dest); err != nil {
		t.Fatalf("unexpected decode error: %v (body %q)", err, rec.Body.String())
	}
}

func TestTransferEndpoint(t *testing.T) {
	var captured services.TransferInput
	var capturedActor services.Actor
	router := newTestRouter(testDeps{ledger: stubLedgerService{
		transferFn: func(ctx context.Context, actor services.Actor, input services.TransferInput) (services.TransferResult, error) {
			captured = input
			capturedActor = actor
			return services.TransferResult{TransactionID: "tx-1", Status: "COMPLETED"}, nil
		},
	}})

	token := signToken(tokenOpts{userID: "u1", plan: "premium"})
	req := httptest.NewRequest(http.MethodPost, "/wallet/transfer/internal", bytes.NewBufferString(
		`{"from_wallet_id":"w1","to_wallet_id":"w2","amount":"25.00"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Idempotency-Key", "header-key-00001")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	if captured.IdempotencyKey != "header-key-00001" {
		t.Fatalf("expected header key to win, got %q", captured.IdempotencyKey)
	}
	if captured.FromWalletID != "w1" || captured.Amount != "25.00" {
		t.Fatalf("unexpected input: %+v", captured)
	}
	if capturedActor.UserID != "u1" || capturedActor.Plan != "premium" {
		t.Fatalf("unexpected actor: %+v", capturedActor)
	}
}

func TestTransferRequiresAuth(t *testing.T) {
	router := newTestRouter(testDeps{})
	rec := doRequest(t, router, http.MethodPost, "/wallet/transfer/internal", "", map[string]string{})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestTransferRejectsMissingIdempotencyKey(t *testing.T) {
	router := newTestRouter(testDeps{})
	token := signToken(tokenOpts{userID: "u1"})
	rec := doRequest(t, router, http.MethodPost, "/wallet/transfer/internal", token, map[string]string{
		"from_wallet_id": "w1", "to_wallet_id": "w2", "amount": "1.00",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var body map[string]string
	decodeBody(t, rec, &body)
	if body["error"] != "invalid_idempotency_key" {
		t.Fatalf("unexpected error code %q", body["error"])
	}
}

func TestTransferMapsServiceErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{services.ErrInsufficientFunds, http.StatusBadRequest, "insufficient_funds"},
		{services.ErrWalletFrozen, http.StatusForbidden, "wallet_frozen"},
		{services.ErrWalletNotFound, http.StatusNotFound, "wallet_not_found"},
		{services.ErrDuplicateInProgress, http.StatusConflict, "duplicate_in_progress"},
	}
	for _, tc := range cases {
		router := newTestRouter(testDeps{ledger: stubLedgerService{
			transferFn: func(ctx context.Context, actor services.Actor, input services.TransferInput) (services.TransferResult, error) {
				return services.TransferResult{}, tc.err
			},
		}})
		token := signToken(tokenOpts{userID: "u1"})
		rec := doRequest(t, router, http.MethodPost, "/wallet/transfer/internal", token, map[string]string{
			"from_wallet_id": "w1", "to_wallet_id": "w2", "amount": "1.00", "idempotencyKey": "mapped-error-key1",
		})
		if rec.Code != tc.status {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.status, rec.Code)
		}
		var body map[string]string
		decodeBody(t, rec, &body)
		if body["error"] != tc.code {
			t.Fatalf("%v: unexpected error code %q", tc.err, body["error"])
		}
	}
}

func TestWithdrawRequiresPayoutConsent(t *testing.T) {
	router := newTestRouter(testDeps{})
	payload := map[string]string{"wallet_id": "w1", "amount": "1.00", "idempotencyKey": "withdraw-key-001"}

	token := signToken(tokenOpts{userID: "u1"})
	rec := doRequest(t, router, http.MethodPost, "/wallet/withdraw", token, payload)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without consent, got %d", rec.Code)
	}

	token = signToken(tokenOpts{userID: "u1", consents: []string{"payouts"}})
	rec = doRequest(t, router, http.MethodPost, "/wallet/withdraw", token, payload)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 with consent, got %d (%s)", rec.Code, rec.Body.String())
	}
}

func TestDepositCardForcesProvider(t *testing.T) {
	var captured services.CreateDepositInput
	router := newTestRouter(testDeps{payments: stubPaymentService{
		createDepositFn: func(ctx context.Context, actor services.Actor, input services.CreateDepositInput) (services.DepositResult, error) {
			captured = input
			return services.DepositResult{Reference: "ref-1", Status: "PENDING_PROVIDER"}, nil
		},
	}})

	token := signToken(tokenOpts{userID: "u1"})
	rec := doRequest(t, router, http.MethodPost, "/wallet/deposit/card", token, map[string]string{
		"provider": "bankwire", "amount": "10.00", "currency": "USD", "idempotencyKey": "card-deposit-key1",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	// The route fixes the provider regardless of the body.
	if captured.Provider != "cardgate" {
		t.Fatalf("expected cardgate provider, got %q", captured.Provider)
	}
}

func TestInitializePaymentUsesBodyProvider(t *testing.T) {
	var captured services.CreateDepositInput
	router := newTestRouter(testDeps{payments: stubPaymentService{
		createDepositFn: func(ctx context.Context, actor services.Actor, input services.CreateDepositInput) (services.DepositResult, error) {
			captured = input
			return services.DepositResult{Reference: "ref-2"}, nil
		},
	}})

	token := signToken(tokenOpts{userID: "u1"})
	rec := doRequest(t, router, http.MethodPost, "/payment/initialize", token, map[string]string{
		"provider": "cryptopay", "amount": "0.5", "currency": "BTC", "idempotencyKey": "init-deposit-key1",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	if captured.Provider != "cryptopay" {
		t.Fatalf("expected cryptopay provider, got %q", captured.Provider)
	}
}

func TestPaymentStatusEndpoint(t *testing.T) {
	router := newTestRouter(testDeps{payments: stubPaymentService{
		getStatusFn: func(ctx context.Context, actor services.Actor, reference string) (services.DepositStatus, error) {
			return services.DepositStatus{Reference: reference, Status: "COMPLETED"}, nil
		},
	}})

	token := signToken(tokenOpts{userID: "u1"})
	rec := doRequest(t, router, http.MethodGet, "/payment/status/ref-1", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var status services.DepositStatus
	decodeBody(t, rec, &status)
	if status.Reference != "ref-1" || status.Status != "COMPLETED" {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestPaymentStatusRejectsBadReference(t *testing.T) {
	router := newTestRouter(testDeps{})
	token := signToken(tokenOpts{userID: "u1"})
	rec := doRequest(t, router, http.MethodGet, "/payment/status/bad%20ref!", token, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestWebhookEndpoint(t *testing.T) {
	router := newTestRouter(testDeps{webhooks: stubWebhookService{
		processFn: func(ctx context.Context, providerName string, header http.Header, rawBody []byte) (services.Receipt, error) {
			if providerName != "cardgate" {
				t.Errorf("unexpected provider %q", providerName)
			}
			return services.Receipt{Status: services.ReceiptApplied}, nil
		},
	}})

	rec := doRequest(t, router, http.MethodPost, "/webhooks/cardgate", "", map[string]string{"event": "charge.success"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var receipt services.Receipt
	decodeBody(t, rec, &receipt)
	if receipt.Status != services.ReceiptApplied {
		t.Fatalf("unexpected receipt: %+v", receipt)
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	router := newTestRouter(testDeps{webhooks: stubWebhookService{
		processFn: func(ctx context.Context, providerName string, header http.Header, rawBody []byte) (services.Receipt, error) {
			return services.Receipt{}, services.ErrInvalidSignature
		},
	}})
	rec := doRequest(t, router, http.MethodPost, "/webhooks/cardgate", "", map[string]string{})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestWebhookUnknownProvider(t *testing.T) {
	router := newTestRouter(testDeps{webhooks: stubWebhookService{
		processFn: func(ctx context.Context, providerName string, header http.Header, rawBody []byte) (services.Receipt, error) {
			return services.Receipt{}, provider.ErrUnknownProvider
		},
	}})
	rec := doRequest(t, router, http.MethodPost, "/webhooks/nope", "", map[string]string{})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestAdminRoutesRequireAdmin(t *testing.T) {
	router := newTestRouter(testDeps{})

	token := signToken(tokenOpts{userID: "u1"})
	rec := doRequest(t, router, http.MethodGet, "/admin/commission-rules", token, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin, got %d", rec.Code)
	}

	token = signToken(tokenOpts{userID: "admin-1", admin: true})
	rec = doRequest(t, router, http.MethodGet, "/admin/commission-rules", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin, got %d", rec.Code)
	}
}

func TestUpsertCommissionRuleAudits(t *testing.T) {
	var upserted store.CommissionRuleInput
	var auditedAction string
	router := newTestRouter(testDeps{
		commission: stubCommissionStore{upsertFn: func(ctx context.Context, tx store.Tx, input store.CommissionRuleInput) error {
			upserted = input
			return nil
		}},
		audit: stubAuditStore{logFn: func(ctx context.Context, tx store.Execer, actorID, action, entityType, entityID, data string) error {
			auditedAction = action
			return nil
		}},
	})

	token := signToken(tokenOpts{userID: "admin-1", admin: true})
	rec := doRequest(t, router, http.MethodPost, "/admin/commission-rules", token, map[string]any{
		"tx_type": "WITHDRAWAL", "currency": "BTC", "kind": "PERCENTAGE", "value": "0.01", "min_fee": 10000,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	if upserted.TxType != "WITHDRAWAL" || upserted.Currency == nil || *upserted.Currency != "BTC" {
		t.Fatalf("unexpected upsert input: %+v", upserted)
	}
	if auditedAction != "commission_rule.upsert" {
		t.Fatalf("expected audited change, got %q", auditedAction)
	}
}

func TestUpsertCommissionRuleRejectsBadCurrency(t *testing.T) {
	router := newTestRouter(testDeps{})
	token := signToken(tokenOpts{userID: "admin-1", admin: true})
	rec := doRequest(t, router, http.MethodPost, "/admin/commission-rules", token, map[string]any{
		"tx_type": "WITHDRAWAL", "currency": "btc!", "kind": "PERCENTAGE", "value": "0.01",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestFreezeWalletEndpoint(t *testing.T) {
	userID := "u1"
	var frozenSet *bool
	router := newTestRouter(testDeps{wallets: stubWalletStore{
		getByIDFn: func(ctx context.Context, walletID string) (store.Wallet, error) {
			return store.Wallet{ID: walletID, UserID: &userID, Currency: "USD"}, nil
		},
		setFrozenFn: func(ctx context.Context, tx store.Execer, walletID string, frozen bool) error {
			frozenSet = &frozen
			return nil
		},
	}})

	token := signToken(tokenOpts{userID: "admin-1", admin: true})
	rec := doRequest(t, router, http.MethodPost, "/admin/wallets/w1/freeze", token, map[string]bool{"frozen": true})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if frozenSet == nil || !*frozenSet {
		t.Fatal("expected frozen flag set")
	}
}

func TestListWalletsFormatsBalances(t *testing.T) {
	userID := "u1"
	router := newTestRouter(testDeps{wallets: stubWalletStore{
		listByUserFn: func(ctx context.Context, uid string) ([]store.Wallet, error) {
			return []store.Wallet{{ID: "w-btc", UserID: &userID, Currency: "BTC", Balance: 49500000, Available: 49500000}}, nil
		},
	}})

	token := signToken(tokenOpts{userID: "u1"})
	rec := doRequest(t, router, http.MethodGet, "/wallets", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var wallets []map[string]any
	decodeBody(t, rec, &wallets)
	if len(wallets) != 1 || wallets[0]["balance"] != "0.49500000" {
		t.Fatalf("unexpected wallets: %+v", wallets)
	}
}

func TestGetWalletHidesForeignWallet(t *testing.T) {
	owner := "u2"
	router := newTestRouter(testDeps{wallets: stubWalletStore{
		getByIDFn: func(ctx context.Context, walletID string) (store.Wallet, error) {
			return store.Wallet{ID: walletID, UserID: &owner, Currency: "USD"}, nil
		},
	}})

	token := signToken(tokenOpts{userID: "u1"})
	rec := doRequest(t, router, http.MethodGet, "/wallets/w1", token, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	router := newTestRouter(testDeps{})
	rec := doRequest(t, router, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
