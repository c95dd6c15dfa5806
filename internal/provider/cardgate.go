package provider

import (
	"context"
	"crypto/sha512"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"paygate/internal/resilience"
)

const cardgateSignatureHeader = "X-Cardgate-Signature"

// Cardgate is the card gateway. Charges redirect the user to a hosted
// payment page; webhooks are signed with HMAC-SHA512 over the raw body.
type Cardgate struct {
	baseURL string
	secret  string
	client  *http.Client
	caller  *resilience.Caller
	log     *zap.Logger
}

func NewCardgate(baseURL, secret string, client *http.Client, caller *resilience.Caller, log *zap.Logger) *Cardgate {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Cardgate{baseURL: baseURL, secret: secret, client: client, caller: caller, log: log}
}

func (c *Cardgate) Name() string { return "cardgate" }

type cardgateChargeResponse struct {
	Reference        string    `json:"reference"`
	AuthorizationURL string    `json:"authorization_url"`
	ExpiresAt        time.Time `json:"expires_at"`
}

func (c *Cardgate) InitializePayment(ctx context.Context, req InitRequest) (InitResult, error) {
	payload := map[string]any{
		"reference": req.Reference,
		"amount":    req.AmountMinor,
		"currency":  req.Currency,
		"metadata":  req.Metadata,
	}
	headers := map[string]string{"Idempotency-Key": req.Reference}
	result, err := resilience.Do(ctx, c.caller, "cardgate:init:"+req.Reference, resilience.Options{
		Timeout:     10 * time.Second,
		MaxAttempts: 3,
		MinInterval: 200 * time.Millisecond,
	}, func(ctx context.Context) (cardgateChargeResponse, error) {
		var resp cardgateChargeResponse
		err := postJSON(ctx, c.client, c.baseURL+"/charges", headers, payload, &resp)
		return resp, err
	})
	if err != nil {
		c.log.Warn("cardgate charge failed", zap.String("reference", req.Reference), zap.Error(err))
		return InitResult{}, err
	}
	return InitResult{
		Reference:   result.Reference,
		RedirectURL: result.AuthorizationURL,
		ExpiresAt:   result.ExpiresAt,
	}, nil
}

func (c *Cardgate) VerifyWebhookSignature(header http.Header, rawBody []byte) bool {
	return verifyHexHMAC(sha512.New, c.secret, rawBody, header.Get(cardgateSignatureHeader))
}

type cardgateWebhook struct {
	Event string `json:"event"`
	ID    string `json:"id"`
	Data  struct {
		Reference string `json:"reference"`
		Amount    int64  `json:"amount"`
		Currency  string `json:"currency"`
	} `json:"data"`
}

func (c *Cardgate) ParseWebhookEvent(rawBody []byte) (Event, error) {
	var payload cardgateWebhook
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		return Event{}, ErrBadEvent
	}
	if payload.ID == "" || payload.Data.Reference == "" {
		return Event{}, ErrBadEvent
	}
	var outcome Outcome
	switch payload.Event {
	case "charge.success":
		outcome = OutcomeSuccess
	case "charge.failed":
		outcome = OutcomeFailure
	case "charge.pending":
		outcome = OutcomePending
	default:
		return Event{}, ErrBadEvent
	}
	return Event{
		ExternalReference: payload.Data.Reference,
		ProviderEventID:   payload.ID,
		Outcome:           outcome,
		AmountMinor:       payload.Data.Amount,
		Currency:          payload.Data.Currency,
	}, nil
}

type cardgateStatusResponse struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
}

func (c *Cardgate) CheckStatus(ctx context.Context, reference string) (Event, error) {
	result, err := resilience.Do(ctx, c.caller, "cardgate:status:"+reference, resilience.Options{
		Timeout:     10 * time.Second,
		MaxAttempts: 3,
		MinInterval: time.Second,
	}, func(ctx context.Context) (cardgateStatusResponse, error) {
		var resp cardgateStatusResponse
		err := getJSON(ctx, c.client, c.baseURL+"/charges/"+reference, nil, &resp)
		return resp, err
	})
	if err != nil {
		return Event{}, err
	}
	outcome := OutcomePending
	switch result.Status {
	case "success":
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
