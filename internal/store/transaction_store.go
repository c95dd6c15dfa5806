package store

import "context"

type TransactionStore struct {
	db DB
}

type Transaction struct {
	ID                string  `db:"id"`
	WalletID          string  `db:"wallet_id"`
	UserID            string  `db:"user_id"`
	Type              string  `db:"type"`
	Status            string  `db:"status"`
	Amount            int64   `db:"amount"`
	Currency          string  `db:"currency"`
	Fee               int64   `db:"fee"`
	Rate              *string `db:"rate"`
	Provider          *string `db:"provider"`
	ExternalReference *string `db:"external_reference"`
	IdempotencyKey    *string `db:"idempotency_key"`
	Metadata          string  `db:"metadata"`
	CreatedAt         any     `db:"created_at"`
}

type TransactionInput struct {
	ID                string
	WalletID          string
	UserID            string
	Type              string
	Status            string
	Amount            int64
	Currency          string
	Fee               int64
	Rate              *string
	Provider          *string
	ExternalReference *string
	IdempotencyKey    *string
	Metadata          string
}

func NewTransactionStore(db DB) *TransactionStore {
	return &TransactionStore{db: db}
}

func (s *TransactionStore) Create(ctx context.Context, tx Execer, input TransactionInput) error {
	query := `
		INSERT INTO transactions (id, wallet_id, user_id, type, status, amount, currency, fee, rate, provider, external_reference, idempotency_key, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := tx.ExecContext(ctx, query,
		input.ID, input.WalletID, input.UserID, input.Type, input.Status, input.Amount,
		input.Currency, input.Fee, input.Rate, input.Provider, input.ExternalReference,
		input.IdempotencyKey, input.Metadata,
	)
	return err
}

func (s *TransactionStore) ListByUser(ctx context.Context, userID, txType string, limit, offset int) ([]Transaction, error) {
	var rows []Transaction
	query := `
		SELECT id, wallet_id, user_id, type, status, amount, currency, fee, rate, provider, external_reference, idempotency_key, metadata, created_at
		FROM transactions
		WHERE user_id = $1
	`
	args := []any{userID}
	if txType != "" {
		query += " AND type = $2 ORDER BY created_at DESC LIMIT $3 OFFSET $4"
		args = append(args, txType, limit, offset)
	} else {
		query += " ORDER BY created_at DESC LIMIT $2 OFFSET $3"
		args = append(args, limit, offset)
	}
	err := s.db.SelectContext(ctx, &rows, query, args...)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
