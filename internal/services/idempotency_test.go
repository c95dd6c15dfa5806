package services

import (
	"context"
	"errors"
	"testing"
)

func TestBeginReservesFreshKey(t *testing.T) {
	svc := NewIdempotencyService(newFakeKeys())

	prior, replay, err := svc.Begin(context.Background(), "fresh-key-000001", "u1", "transfer")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if replay || prior != nil {
		t.Fatalf("expected fresh reservation, got replay=%v prior=%q", replay, prior)
	}
}

func TestBeginRejectsEmptyKey(t *testing.T) {
	svc := NewIdempotencyService(newFakeKeys())
	if _, _, err := svc.Begin(context.Background(), "", "u1", "transfer"); !errors.Is(err, ErrMissingIdempotencyKey) {
		t.Fatalf("expected ErrMissingIdempotencyKey, got %v", err)
	}
}

func TestBeginReplaysCompletedKey(t *testing.T) {
	keys := newFakeKeys()
	svc := NewIdempotencyService(keys)

	if _, _, err := svc.Begin(context.Background(), "done-key-0000001", "u1", "withdraw"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.Complete(context.Background(), nil, "done-key-0000001", `{"transaction_id":"tx-1"}`); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	prior, replay, err := svc.Begin(context.Background(), "done-key-0000001", "u1", "withdraw")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !replay {
		t.Fatal("expected completed key to replay")
	}
	if string(prior) != `{"transaction_id":"tx-1"}` {
		t.Fatalf("expected stored response, got %q", prior)
	}
}

func TestBeginBlocksPendingKey(t *testing.T) {
	svc := NewIdempotencyService(newFakeKeys())

	if _, _, err := svc.Begin(context.Background(), "pending-key-0001", "u1", "swap"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, _, err := svc.Begin(context.Background(), "pending-key-0001", "u1", "swap"); !errors.Is(err, ErrDuplicateInProgress) {
		t.Fatalf("expected ErrDuplicateInProgress, got %v", err)
	}
}

func TestReleaseFreesPendingKey(t *testing.T) {
	svc := NewIdempotencyService(newFakeKeys())

	if _, _, err := svc.Begin(context.Background(), "released-key-001", "u1", "swap"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.Release(context.Background(), "released-key-001"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, _, err := svc.Begin(context.Background(), "released-key-001", "u1", "swap"); err != nil {
		t.Fatalf("expected released key to be reusable, got %v", err)
	}
}
