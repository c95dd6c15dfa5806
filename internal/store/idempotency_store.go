package store

import "context"

type IdempotencyStore struct {
	db DB
}

type IdempotencyKey struct {
	Key       string `db:"key"`
	UserID    string `db:"user_id"`
	Operation string `db:"operation"`
	Status    string `db:"status"`
	Response  string `db:"response"`
	CreatedAt any    `db:"created_at"`
}

const (
	IdempotencyPending   = "PENDING"
	IdempotencyCompleted = "COMPLETED"
)

func NewIdempotencyStore(db DB) *IdempotencyStore {
	return &IdempotencyStore{db: db}
}

// Reserve inserts the key as PENDING. A unique violation means the key
// already exists; the caller inspects the existing row.
func (s *IdempotencyStore) Reserve(ctx context.Context, key, userID, operation string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO idempotency_keys (key, user_id, operation, status, response)
		VALUES ($1, $2, $3, 'PENDING', '')
	`, key, userID, operation)
	return err
}

func (s *IdempotencyStore) Get(ctx context.Context, key string) (IdempotencyKey, error) {
	var row IdempotencyKey
	err := s.db.GetContext(ctx, &row, `
		SELECT key, user_id, operation, status, response, created_at
		FROM idempotency_keys
		WHERE key = $1
	`, key)
	if err != nil {
		return IdempotencyKey{}, err
	}
	return row, nil
}

// Complete records the outcome. Runs inside the same transaction as the
// ledger mutation so the response and the mutation commit together.
func (s *IdempotencyStore) Complete(ctx context.Context, tx Execer, key, response string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE idempotency_keys
		SET status = 'COMPLETED', response = $1, completed_at = NOW()
		WHERE key = $2
	`, response, key)
	return err
}

// Release drops a PENDING reservation after the operation failed, letting
// the client retry with the same key.
func (s *IdempotencyStore) Release(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM idempotency_keys
		WHERE key = $1 AND status = 'PENDING'
	`, key)
	return err
}
