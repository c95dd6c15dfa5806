package provider

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"paygate/internal/money"
	"paygate/internal/resilience"
)

const cryptopaySignatureHeader = "X-Cryptopay-Hmac"

// Cryptopay is the crypto gateway. Deposits go to a per-payment address;
// confirmation webhooks carry the on-chain transaction hash and quote the
// amount in currency units rather than minor units.
type Cryptopay struct {
	baseURL string
	secret  string
	client  *http.Client
	caller  *resilience.Caller
	log     *zap.Logger
}

func NewCryptopay(baseURL, secret string, client *http.Client, caller *resilience.Caller, log *zap.Logger) *Cryptopay {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Cryptopay{baseURL: baseURL, secret: secret, client: client, caller: caller, log: log}
}

func (c *Cryptopay) Name() string { return "cryptopay" }

type cryptopayAddressResponse struct {
	Reference string    `json:"reference"`
	Address   string    `json:"address"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (c *Cryptopay) InitializePayment(ctx context.Context, req InitRequest) (InitResult, error) {
	payload := map[string]any{
		"reference": req.Reference,
		"currency":  req.Currency,
		"amount":    money.FormatMinor(req.AmountMinor, req.Currency),
	}
	headers := map[string]string{"Idempotency-Key": req.Reference}
	result, err := resilience.Do(ctx, c.caller, "cryptopay:init:"+req.Reference, resilience.Options{
		Timeout:     10 * time.Second,
		MaxAttempts: 3,
		MinInterval: 200 * time.Millisecond,
	}, func(ctx context.Context) (cryptopayAddressResponse, error) {
		var resp cryptopayAddressResponse
		err := postJSON(ctx, c.client, c.baseURL+"/addresses", headers, payload, &resp)
		return resp, err
	})
	if err != nil {
		c.log.Warn("cryptopay address request failed", zap.String("reference", req.Reference), zap.Error(err))
		return InitResult{}, err
	}
	return InitResult{
		Reference:      result.Reference,
		DepositAddress: result.Address,
		ExpiresAt:      result.ExpiresAt,
	}, nil
}

func (c *Cryptopay) VerifyWebhookSignature(header http.Header, rawBody []byte) bool {
	return verifyHexHMAC(sha256.New, c.secret, rawBody, header.Get(cryptopaySignatureHeader))
}

type cryptopayWebhook struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	Reference string `json:"reference"`
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
	TxID      string `json:"txid"`
}

func (c *Cryptopay) ParseWebhookEvent(rawBody []byte) (Event, error) {
	var payload cryptopayWebhook
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		return Event{}, ErrBadEvent
	}
	if payload.ID == "" || payload.Reference == "" {
		return Event{}, ErrBadEvent
	}
	var outcome Outcome
	switch payload.Status {
	case "confirmed":
		outcome = OutcomeSuccess
	case "failed":
		outcome = OutcomeFailure
	case "pending":
		outcome = OutcomePending
	default:
		return Event{}, ErrBadEvent
	}
	amountMinor, err := money.ParseMinor(payload.Amount, payload.Currency)
	if err != nil {
		return Event{}, ErrBadEvent
	}
	return Event{
		ExternalReference: payload.Reference,
		ProviderEventID:   payload.ID,
		Outcome:           outcome,
		AmountMinor:       amountMinor,
		Currency:          payload.Currency,
		ExternalHash:      payload.TxID,
	}, nil
}

type cryptopayStatusResponse struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
	TxID      string `json:"txid"`
}

func (c *Cryptopay) CheckStatus(ctx context.Context, reference string) (Event, error) {
	result, err := resilience.Do(ctx, c.caller, "cryptopay:status:"+reference, resilience.Options{
		Timeout:     10 * time.Second,
		MaxAttempts: 3,
		MinInterval: time.Second,
	}, func(ctx context.Context) (cryptopayStatusResponse, error) {
		var resp cryptopayStatusResponse
		err := getJSON(ctx, c.client, c.baseURL+"/addresses/"+reference, nil, &resp)
		return resp, err
	})
	if err != nil {
		return Event{}, err
	}
	outcome := OutcomePending
	switch result.Status {
	case "confirmed":
		outcome = OutcomeSuccess
	case "failed":
		outcome = OutcomeFailure
	}
	amountMinor := int64(0)
	if result.Amount != "" {
		if parsed, err := money.ParseMinor(result.Amount, result.Currency); err == nil {
			amountMinor = parsed
		}
	}
	return Event{
		ExternalReference: result.Reference,
		Outcome:           outcome,
		AmountMinor:       amountMinor,
		Currency:          result.Currency,
		ExternalHash:      result.TxID,
	}, nil
}
