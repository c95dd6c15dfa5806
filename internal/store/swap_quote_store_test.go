package store

import (
	"context"
	"database/sql"
	"testing"
)

func TestConsumeReportsAffectedRows(t *testing.T) {
	s := NewSwapQuoteStore(stubDB{})

	tx := stubExecer{execFn: func(ctx context.Context, query string, args ...any) (sql.Result, error) {
		if args[0] != "q-1" {
			t.Errorf("unexpected args %v", args)
		}
		return stubResult{rows: 1}, nil
	}}
	affected, err := s.Consume(context.Background(), tx, "q-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if affected != 1 {
		t.Fatalf("expected 1 affected row, got %d", affected)
	}

	// Consumed or expired quotes match nothing.
	tx = stubExecer{execFn: func(ctx context.Context, query string, args ...any) (sql.Result, error) {
		return stubResult{rows: 0}, nil
	}}
	affected, err = s.Consume(context.Background(), tx, "q-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if affected != 0 {
		t.Fatalf("expected 0 affected rows, got %d", affected)
	}
}
