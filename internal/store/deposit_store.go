package store

import (
	"context"
	"time"
)

type DepositStore struct {
	db DB
}

type DepositRequest struct {
	Reference      string    `db:"reference"`
	UserID         string    `db:"user_id"`
	WalletID       string    `db:"wallet_id"`
	Provider       string    `db:"provider"`
	Amount         int64     `db:"amount"`
	Currency       string    `db:"currency"`
	Status         string    `db:"status"`
	RedirectURL    *string   `db:"redirect_url"`
	DepositAddress *string   `db:"deposit_address"`
	ExternalHash   *string   `db:"external_hash"`
	ExpiresAt      time.Time `db:"expires_at"`
	CreatedAt      any       `db:"created_at"`
}

type DepositRequestInput struct {
	Reference      string
	UserID         string
	WalletID       string
	Provider       string
	Amount         int64
	Currency       string
	Status         string
	RedirectURL    *string
	DepositAddress *string
	ExpiresAt      time.Time
}

func NewDepositStore(db DB) *DepositStore {
	return &DepositStore{db: db}
}

func (s *DepositStore) Create(ctx context.Context, tx Execer, input DepositRequestInput) error {
	query := `
		INSERT INTO deposit_requests (reference, user_id, wallet_id, provider, amount, currency, status, redirect_url, deposit_address, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := tx.ExecContext(ctx, query,
		input.Reference, input.UserID, input.WalletID, input.Provider, input.Amount,
		input.Currency, input.Status, input.RedirectURL, input.DepositAddress, input.ExpiresAt,
	)
	return err
}

func (s *DepositStore) GetByReference(ctx context.Context, reference string) (DepositRequest, error) {
	var row DepositRequest
	err := s.db.GetContext(ctx, &row, `
		SELECT reference, user_id, wallet_id, provider, amount, currency, status, redirect_url, deposit_address, external_hash, expires_at, created_at
		FROM deposit_requests
		WHERE reference = $1
	`, reference)
	if err != nil {
		return DepositRequest{}, err
	}
	return row, nil
}

func (s *DepositStore) GetForUpdate(ctx context.Context, tx Getter, reference string) (DepositRequest, error) {
	var row DepositRequest
	err := tx.GetContext(ctx, &row, `
		SELECT reference, user_id, wallet_id, provider, amount, currency, status, redirect_url, deposit_address, external_hash, expires_at
		FROM deposit_requests
		WHERE reference = $1
		FOR UPDATE
	`, reference)
	if err != nil {
		return DepositRequest{}, err
	}
	return row, nil
}

// Settle transitions a non-terminal request to a terminal status. Terminal
// statuses are one-way; the affected count reports whether this call won.
func (s *DepositStore) Settle(ctx context.Context, tx Execer, reference, status string, externalHash *string) (int64, error) {
	result, err := tx.ExecContext(ctx, `
		UPDATE deposit_requests
		SET status = $1, external_hash = COALESCE($2, external_hash), updated_at = NOW()
		WHERE reference = $3 AND status IN ('CREATED', 'PENDING_PROVIDER')
	`, status, externalHash, reference)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (s *DepositStore) ExpirePastDue(ctx context.Context, tx Execer, now time.Time) (int64, error) {
	result, err := tx.ExecContext(ctx, `
		UPDATE deposit_requests
		SET status = 'EXPIRED', updated_at = NOW()
		WHERE status IN ('CREATED', 'PENDING_PROVIDER') AND expires_at < $1
	`, now)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// ListStalePending returns requests still waiting on the provider past the
// given age, candidates for a proactive status poll.
func (s *DepositStore) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]DepositRequest, error) {
	var rows []DepositRequest
	err := s.db.SelectContext(ctx, &rows, `
		SELECT reference, user_id, wallet_id, provider, amount, currency, status, redirect_url, deposit_address, external_hash, expires_at, created_at
		FROM deposit_requests
		WHERE status = 'PENDING_PROVIDER' AND created_at < $1
		ORDER BY created_at
		LIMIT $2
	`, olderThan, limit)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
