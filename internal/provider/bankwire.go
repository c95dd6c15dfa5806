package provider

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"paygate/internal/resilience"
)

const bankwireSignatureHeader = "X-Bankwire-Signature"

// Bankwire is the bank-transfer gateway. It hands back a hosted transfer
// page; settlement webhooks are HMAC-SHA256 signed.
type Bankwire struct {
	baseURL string
	secret  string
	client  *http.Client
	caller  *resilience.Caller
	log     *zap.Logger
}

func NewBankwire(baseURL, secret string, client *http.Client, caller *resilience.Caller, log *zap.Logger) *Bankwire {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Bankwire{baseURL: baseURL, secret: secret, client: client, caller: caller, log: log}
}

func (b *Bankwire) Name() string { return "bankwire" }

type bankwireTransferResponse struct {
	Reference  string    `json:"reference"`
	PaymentURL string    `json:"payment_url"`
	ExpiresAt  time.Time `json:"expires_at"`
}

func (b *Bankwire) InitializePayment(ctx context.Context, req InitRequest) (InitResult, error) {
	payload := map[string]any{
		"reference": req.Reference,
		"amount":    req.AmountMinor,
		"currency":  req.Currency,
		"narration": req.Metadata["narration"],
	}
	headers := map[string]string{"X-Request-Key": req.Reference}
	result, err := resilience.Do(ctx, b.caller, "bankwire:init:"+req.Reference, resilience.Options{
		Timeout:     10 * time.Second,
		MaxAttempts: 3,
		MinInterval: 200 * time.Millisecond,
	}, func(ctx context.Context) (bankwireTransferResponse, error) {
		var resp bankwireTransferResponse
		err := postJSON(ctx, b.client, b.baseURL+"/transfers", headers, payload, &resp)
		return resp, err
	})
	if err != nil {
		b.log.Warn("bankwire transfer failed", zap.String("reference", req.Reference), zap.Error(err))
		return InitResult{}, err
	}
	return InitResult{
		Reference:   result.Reference,
		RedirectURL: result.PaymentURL,
		ExpiresAt:   result.ExpiresAt,
	}, nil
}

func (b *Bankwire) VerifyWebhookSignature(header http.Header, rawBody []byte) bool {
	return verifyHexHMAC(sha256.New, b.secret, rawBody, header.Get(bankwireSignatureHeader))
}

type bankwireWebhook struct {
	EventID  string `json:"event_id"`
	Type     string `json:"type"`
	Transfer struct {
		Reference string `json:"reference"`
		Amount    int64  `json:"amount"`
		Currency  string `json:"currency"`
	} `json:"transfer"`
}

func (b *Bankwire) ParseWebhookEvent(rawBody []byte) (Event, error) {
	var payload bankwireWebhook
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		return Event{}, ErrBadEvent
	}
	if payload.EventID == "" || payload.Transfer.Reference == "" {
		return Event{}, ErrBadEvent
	}
	var outcome Outcome
	switch payload.Type {
	case "transfer.completed":
		outcome = OutcomeSuccess
	case "transfer.failed":
		outcome = OutcomeFailure
	case "transfer.pending":
		outcome = OutcomePending
	default:
		return Event{}, ErrBadEvent
	}
	return Event{
		ExternalReference: payload.Transfer.Reference,
		ProviderEventID:   payload.EventID,
		Outcome:           outcome,
		AmountMinor:       payload.Transfer.Amount,
		Currency:          payload.Transfer.Currency,
	}, nil
}

type bankwireStatusResponse struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
}

func (b *Bankwire) CheckStatus(ctx context.Context, reference string) (Event, error) {
	result, err := resilience.Do(ctx, b.caller, "bankwire:status:"+reference, resilience.Options{
		Timeout:     10 * time.Second,
		MaxAttempts: 3,
		MinInterval: time.Second,
	}, func(ctx context.Context) (bankwireStatusResponse, error) {
		var resp bankwireStatusResponse
		err := getJSON(ctx, b.client, b.baseURL+"/transfers/"+reference, nil, &resp)
		return resp, err
	})
	if err != nil {
		return Event{}, err
	}
	outcome := OutcomePending
	switch result.Status {
	case "completed":
		outcome = OutcomeSuccess
	case "failed":
		outcome = OutcomeFailure
	}
	return Event{
		ExternalReference: result.Reference,
		Outcome:           outcome,
		AmountMinor:       result.Amount,
		Currency:          result.Currency,
	}, nil
}
