package store

import (
	"context"
	"time"
)

type SwapQuoteStore struct {
	db DB
}

type SwapQuote struct {
	ID             string     `db:"id"`
	UserID         string     `db:"user_id"`
	FromCurrency   string     `db:"from_currency"`
	ToCurrency     string     `db:"to_currency"`
	AmountMinor    int64      `db:"amount_minor"`
	FeeMinor       int64      `db:"fee_minor"`
	ConvertedMinor int64      `db:"converted_minor"`
	Rate           string     `db:"rate"`
	ExpiresAt      time.Time  `db:"expires_at"`
	ConsumedAt     *time.Time `db:"consumed_at"`
}

type SwapQuoteInput struct {
	ID             string
	UserID         string
	FromCurrency   string
	ToCurrency     string
	AmountMinor    int64
	FeeMinor       int64
	ConvertedMinor int64
	Rate           string
	ExpiresAt      time.Time
}

func NewSwapQuoteStore(db DB) *SwapQuoteStore {
	return &SwapQuoteStore{db: db}
}

func (s *SwapQuoteStore) Create(ctx context.Context, input SwapQuoteInput) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO swap_quotes (id, user_id, from_currency, to_currency, amount_minor, fee_minor, converted_minor, rate, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, input.ID, input.UserID, input.FromCurrency, input.ToCurrency, input.AmountMinor, input.FeeMinor, input.ConvertedMinor, input.Rate, input.ExpiresAt)
	return err
}

func (s *SwapQuoteStore) GetByID(ctx context.Context, quoteID string) (SwapQuote, error) {
	var quote SwapQuote
	err := s.db.GetContext(ctx, &quote, `
		SELECT id, user_id, from_currency, to_currency, amount_minor, fee_minor, converted_minor, rate, expires_at, consumed_at
		FROM swap_quotes
		WHERE id = $1
	`, quoteID)
	return quote, err
}

// Consume marks the quote used. Zero rows affected means it was already
// consumed or expired; the swap must not proceed on it.
func (s *SwapQuoteStore) Consume(ctx context.Context, tx Execer, quoteID string) (int64, error) {
	result, err := tx.ExecContext(ctx, `
		UPDATE swap_quotes
		SET consumed_at = NOW()
		WHERE id = $1 AND consumed_at IS NULL AND expires_at > NOW()
	`, quoteID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
