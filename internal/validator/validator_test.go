package validator

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateIdempotencyKey(t *testing.T) {
	valid := []string{"abcd1234", "key_with-dashes_0123", strings.Repeat("a", 128)}
	for _, key := range valid {
		if err := ValidateIdempotencyKey(key); err != nil {
			t.Errorf("expected %q to be valid, got %v", key, err)
		}
	}
	invalid := []string{"", "short", "has spaces here", "bad!chars#here", strings.Repeat("a", 129)}
	for _, key := range invalid {
		if err := ValidateIdempotencyKey(key); !errors.Is(err, ErrInvalidIdempotencyKey) {
			t.Errorf("expected %q to be rejected, got %v", key, err)
		}
	}
}

func TestValidateReference(t *testing.T) {
	if err := ValidateReference("ref_1-A"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, reference := range []string{"", "bad ref", strings.Repeat("r", 65)} {
		if err := ValidateReference(reference); !errors.Is(err, ErrInvalidReference) {
			t.Errorf("expected %q to be rejected, got %v", reference, err)
		}
	}
}

func TestValidateCurrency(t *testing.T) {
	for _, currency := range []string{"USD", "USDT", "BTC"} {
		if err := ValidateCurrency(currency); err != nil {
			t.Errorf("expected %q to be valid, got %v", currency, err)
		}
	}
	for _, currency := range []string{"", "usd", "US", "TOOLONG"} {
		if err := ValidateCurrency(currency); !errors.Is(err, ErrInvalidCurrency) {
			t.Errorf("expected %q to be rejected, got %v", currency, err)
		}
	}
}
