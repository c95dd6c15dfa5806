package provider

import (
	"bytes"
	"context"
	"crypto/hmac"
	"encoding/hex"
	"encoding/json"
	"errors"
	"hash"
	"io"
	"net/http"
	"time"
)

var (
	ErrUnknownProvider = errors.New("unknown payment provider")
	ErrBadEvent        = errors.New("unparseable webhook payload")
)

type Outcome string

const (
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomeFailure Outcome = "FAILURE"
	OutcomePending Outcome = "PENDING"
)

type InitRequest struct {
	UserID      string
	Reference   string
	AmountMinor int64
	Currency    string
	Metadata    map[string]string
}

type InitResult struct {
	Reference      string
	RedirectURL    string
	DepositAddress string
	ExpiresAt      time.Time
}

// Event is the canonical form every adapter reduces its webhook payloads
// and status responses to.
type Event struct {
	ExternalReference string
	ProviderEventID   string
	Outcome           Outcome
	AmountMinor       int64
	Currency          string
	ExternalHash      string
}

// Adapter is the closed capability set over one payment provider. Adding a
// provider means adding a variant, never sniffing payload shapes upstream.
type Adapter interface {
	Name() string
	// InitializePayment must be idempotent on req.Reference: replaying the
	// same reference may not create a second payment intent.
	InitializePayment(ctx context.Context, req InitRequest) (InitResult, error)
	// VerifyWebhookSignature fails closed: any payload it cannot verify is
	// rejected, never applied.
	VerifyWebhookSignature(header http.Header, rawBody []byte) bool
	ParseWebhookEvent(rawBody []byte) (Event, error)
	// CheckStatus supports proactive reconciliation when a webhook is late
	// or lost.
	CheckStatus(ctx context.Context, reference string) (Event, error)
}

type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	byName := make(map[string]Adapter, len(adapters))
	for _, adapter := range adapters {
		byName[adapter.Name()] = adapter
	}
	return &Registry{adapters: byName}
}

func (r *Registry) Get(name string) (Adapter, error) {
	adapter, ok := r.adapters[name]
	if !ok {
		return nil, ErrUnknownProvider
	}
	return adapter, nil
}

func verifyHexHMAC(newHash func() hash.Hash, secret string, body []byte, signature string) bool {
	if signature == "" {
		return false
	}
	provided, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(newHash, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), provided)
}

func signHexHMAC(newHash func() hash.Hash, secret string, body []byte) string {
	mac := hmac.New(newHash, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, payload, dest any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	return doJSON(client, req, dest)
}

func getJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	return doJSON(client, req, dest)
}

func doJSON(client *http.Client, req *http.Request, dest any) error {
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return upstreamError(resp.StatusCode, raw)
	}
	if dest == nil {
		return nil
	}
	return json.Unmarshal(raw, dest)
}
