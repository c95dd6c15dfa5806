package fx

import (
	"context"
	"time"

	"paygate/internal/store"
)

// StoreSnapshot adapts the fx_rates table to the SnapshotStore seam.
type StoreSnapshot struct {
	rates *store.RateStore
}

func NewStoreSnapshot(rates *store.RateStore) StoreSnapshot {
	return StoreSnapshot{rates: rates}
}

func (s StoreSnapshot) Upsert(ctx context.Context, base, quote, rate string) error {
	return s.rates.Upsert(ctx, base, quote, rate)
}

func (s StoreSnapshot) Get(ctx context.Context, base, quote string) (string, time.Time, error) {
	row, err := s.rates.Get(ctx, base, quote)
	if err != nil {
		return "", time.Time{}, err
	}
	return row.Rate, row.FetchedAt, nil
}
