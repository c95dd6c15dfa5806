package store

import (
	"context"
	"database/sql"
	"strings"
	"testing"
)

func TestReserveInsertsPending(t *testing.T) {
	var gotQuery string
	var gotArgs []any
	s := NewIdempotencyStore(stubDB{execFn: func(ctx context.Context, query string, args ...any) (sql.Result, error) {
		gotQuery = query
		gotArgs = args
		return stubResult{rows: 1}, nil
	}})

	if err := s.Reserve(context.Background(), "key-1", "u1", "transfer"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(gotQuery, "'PENDING'") {
		t.Fatalf("expected pending insert, query: %s", gotQuery)
	}
	if len(gotArgs) != 3 || gotArgs[0] != "key-1" || gotArgs[2] != "transfer" {
		t.Fatalf("unexpected args %v", gotArgs)
	}
}

func TestCompleteStoresResponse(t *testing.T) {
	var gotArgs []any
	s := NewIdempotencyStore(stubDB{})
	tx := stubExecer{execFn: func(ctx context.Context, query string, args ...any) (sql.Result, error) {
		gotArgs = args
		return stubResult{rows: 1}, nil
	}}

	if err := s.Complete(context.Background(), tx, "key-1", `{"ok":true}`); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	found := false
	for _, arg := range gotArgs {
		if arg == `{"ok":true}` {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected response among args, got %v", gotArgs)
	}
}

func TestReleaseOnlyDropsPendingKeys(t *testing.T) {
	var gotQuery string
	s := NewIdempotencyStore(stubDB{execFn: func(ctx context.Context, query string, args ...any) (sql.Result, error) {
		gotQuery = query
		return stubResult{rows: 1}, nil
	}})

	if err := s.Release(context.Background(), "key-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(gotQuery, "'PENDING'") {
		t.Fatalf("expected release scoped to pending keys, query: %s", gotQuery)
	}
}
