package store

import (
	"context"
	"time"
)

// RateStore persists the last known FX rate per pair so the swap engine can
// keep quoting through a rate-source outage.
type RateStore struct {
	db DB
}

type FXRate struct {
	BaseCurrency  string    `db:"base_currency"`
	QuoteCurrency string    `db:"quote_currency"`
	Rate          string    `db:"rate"`
	FetchedAt     time.Time `db:"fetched_at"`
}

func NewRateStore(db DB) *RateStore {
	return &RateStore{db: db}
}

func (s *RateStore) Upsert(ctx context.Context, baseCurrency, quoteCurrency, rate string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fx_rates (base_currency, quote_currency, rate, fetched_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (base_currency, quote_currency) DO UPDATE
		SET rate = EXCLUDED.rate, fetched_at = NOW()
	`, baseCurrency, quoteCurrency, rate)
	return err
}

func (s *RateStore) Get(ctx context.Context, baseCurrency, quoteCurrency string) (FXRate, error) {
	var row FXRate
	err := s.db.GetContext(ctx, &row, `
		SELECT base_currency, quote_currency, rate, fetched_at
		FROM fx_rates
		WHERE base_currency = $1 AND quote_currency = $2
	`, baseCurrency, quoteCurrency)
	if err != nil {
		return FXRate{}, err
	}
	return row, nil
}
