package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"paygate/internal/resilience"
)

// Notifier delivers fire-and-forget user notifications to the external
// notification service. Delivery failure never fails the money movement
// that triggered it.
type Notifier struct {
	baseURL string
	client  *http.Client
	caller  *resilience.Caller
	log     *zap.Logger
}

func New(baseURL string, client *http.Client, caller *resilience.Caller, log *zap.Logger) *Notifier {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Notifier{baseURL: baseURL, client: client, caller: caller, log: log}
}

type message struct {
	UserID  string         `json:"user_id"`
	Event   string         `json:"event"`
	Payload map[string]any `json:"payload"`
}

// Send dispatches asynchronously. The empty struct fallback swallows
// transient delivery failures after retries; this path moves no money.
func (n *Notifier) Send(userID, event string, payload map[string]any) {
	if n == nil || n.baseURL == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		// Every message gets its own call key. Coalescing on the user would
		// merge distinct events onto one in-flight POST and drop all but the
		// first; retry and backoff still apply per message.
		key := "notify:" + userID + ":" + uuid.NewString()
		_, err := resilience.DoWithFallback(ctx, n.caller, key, resilience.Options{
			Timeout:     5 * time.Second,
			MaxAttempts: 3,
		}, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, n.post(ctx, message{UserID: userID, Event: event, Payload: payload})
		}, struct{}{})
		if err != nil {
			n.log.Warn("notification dropped", zap.String("user_id", userID), zap.String("event", event), zap.Error(err))
		}
	}()
}

func (n *Notifier) post(ctx context.Context, msg message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.baseURL+"/notifications", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &resilience.StatusError{Code: resp.StatusCode}
	}
	return nil
}
