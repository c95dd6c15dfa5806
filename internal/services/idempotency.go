package services

import (
	"context"

	"paygate/internal/db"
	"paygate/internal/store"
)

// IdempotencyService guards every client-initiated mutation. Begin reserves
// the key before the operation runs; Complete stores the response inside the
// same transaction as the ledger mutation; Release frees the key when the
// operation failed so the client may retry.
type IdempotencyService struct {
	keys IdempotencyStore
}

func NewIdempotencyService(keys IdempotencyStore) *IdempotencyService {
	return &IdempotencyService{keys: keys}
}

// Begin reserves key for the operation. When the key was already completed it
// returns the stored response with replay true; a key still pending means a
// concurrent request holds it and the caller must back off with
// ErrDuplicateInProgress.
func (s *IdempotencyService) Begin(ctx context.Context, key, userID, operation string) ([]byte, bool, error) {
	if key == "" {
		return nil, false, ErrMissingIdempotencyKey
	}
	err := s.keys.Reserve(ctx, key, userID, operation)
	if err == nil {
		return nil, false, nil
	}
	if !db.IsUniqueViolation(err) {
		return nil, false, err
	}
	existing, err := s.keys.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if existing.Status == store.IdempotencyCompleted {
		return []byte(existing.Response), true, nil
	}
	return nil, false, ErrDuplicateInProgress
}

func (s *IdempotencyService) Complete(ctx context.Context, tx store.Execer, key, response string) error {
	return s.keys.Complete(ctx, tx, key, response)
}

func (s *IdempotencyService) Release(ctx context.Context, key string) error {
	return s.keys.Release(ctx, key)
}
