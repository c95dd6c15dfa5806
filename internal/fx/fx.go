package fx

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"paygate/internal/resilience"
)

var ErrRateUnavailable = errors.New("exchange rate unavailable")

// Source fetches a fresh rate for a pair from the upstream rate feed.
type Source interface {
	FetchRate(ctx context.Context, base, quote string) (decimal.Decimal, error)
}

// Snapshot persistence, so quoting survives a rate-feed outage across
// restarts.
type SnapshotStore interface {
	Upsert(ctx context.Context, base, quote, rate string) error
	Get(ctx context.Context, base, quote string) (string, time.Time, error)
}

type entry struct {
	rate      decimal.Decimal
	fetchedAt time.Time
}

// Table is the periodically refreshed in-memory rate table. Reads are
// advisory and may go stale up to maxAge; past that, the snapshot store is
// the fallback before giving up.
type Table struct {
	mu     sync.RWMutex
	rates  map[string]entry
	source Source
	store  SnapshotStore
	maxAge time.Duration
	log    *zap.Logger
}

func NewTable(source Source, store SnapshotStore, maxAge time.Duration, log *zap.Logger) *Table {
	return &Table{
		rates:  make(map[string]entry),
		source: source,
		store:  store,
		maxAge: maxAge,
		log:    log,
	}
}

func pairKey(base, quote string) string {
	return base + "/" + quote
}

// Rate returns the current rate and when it was fetched.
func (t *Table) Rate(ctx context.Context, base, quote string) (decimal.Decimal, time.Time, error) {
	t.mu.RLock()
	cached, ok := t.rates[pairKey(base, quote)]
	t.mu.RUnlock()
	if ok && time.Since(cached.fetchedAt) <= t.maxAge {
		return cached.rate, cached.fetchedAt, nil
	}

	rate, err := t.source.FetchRate(ctx, base, quote)
	if err == nil {
		fetchedAt := time.Now()
		t.mu.Lock()
		t.rates[pairKey(base, quote)] = entry{rate: rate, fetchedAt: fetchedAt}
		t.mu.Unlock()
		if t.store != nil {
			if err := t.store.Upsert(ctx, base, quote, rate.String()); err != nil {
				t.log.Warn("fx snapshot persist failed", zap.String("pair", pairKey(base, quote)), zap.Error(err))
			}
		}
		return rate, fetchedAt, nil
	}
	t.log.Warn("fx rate fetch failed", zap.String("pair", pairKey(base, quote)), zap.Error(err))

	if ok {
		// Stale but present beats unavailable; callers see the fetch time
		// and can enforce their own freshness window.
		return cached.rate, cached.fetchedAt, nil
	}
	if t.store != nil {
		raw, fetchedAt, err := t.store.Get(ctx, base, quote)
		if err == nil {
			if parsed, perr := decimal.NewFromString(raw); perr == nil {
				return parsed, fetchedAt, nil
			}
		}
	}
	return decimal.Decimal{}, time.Time{}, ErrRateUnavailable
}

// Refresh pulls every configured pair once.
func (t *Table) Refresh(ctx context.Context, pairs [][2]string) {
	for _, pair := range pairs {
		if _, _, err := t.Rate(ctx, pair[0], pair[1]); err != nil {
			t.log.Warn("fx refresh failed", zap.String("pair", pairKey(pair[0], pair[1])))
		}
	}
}

// Run refreshes the table on the interval until ctx is done.
func (t *Table) Run(ctx context.Context, interval time.Duration, pairs [][2]string) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	t.Refresh(ctx, pairs)
	for {
		select {
		case <-ticker.C:
			t.Refresh(ctx, pairs)
		case <-ctx.Done():
			return
		}
	}
}

// HTTPSource fetches rates from a JSON feed through the resilient caller.
type HTTPSource struct {
	baseURL string
	client  *http.Client
	caller  *resilience.Caller
}

func NewHTTPSource(baseURL string, client *http.Client, caller *resilience.Caller) *HTTPSource {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPSource{baseURL: baseURL, client: client, caller: caller}
}

type rateResponse struct {
	Rate string `json:"rate"`
}

func (s *HTTPSource) FetchRate(ctx context.Context, base, quote string) (decimal.Decimal, error) {
	resp, err := resilience.Do(ctx, s.caller, "fx:"+pairKey(base, quote), resilience.Options{
		Timeout:     5 * time.Second,
		MaxAttempts: 3,
		MinInterval: time.Second,
	}, func(ctx context.Context) (rateResponse, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/rates?base="+base+"&quote="+quote, nil)
		if err != nil {
			return rateResponse{}, err
		}
		httpResp, err := s.client.Do(req)
		if err != nil {
			return rateResponse{}, err
		}
		defer httpResp.Body.Close()
		var parsed rateResponse
		if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
			return rateResponse{}, &resilience.StatusError{Code: httpResp.StatusCode}
		}
		if err := decodeJSON(httpResp, &parsed); err != nil {
			return rateResponse{}, err
		}
		return parsed, nil
	})
	if err != nil {
		return decimal.Decimal{}, err
	}
	rate, err := decimal.NewFromString(resp.Rate)
	if err != nil || !rate.IsPositive() {
		return decimal.Decimal{}, ErrRateUnavailable
	}
	return rate, nil
}
