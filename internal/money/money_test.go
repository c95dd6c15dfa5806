package money

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseMinor(t *testing.T) {
	minor, err := ParseMinor("12.34", "USD")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if minor != 1234 {
		t.Fatalf("expected 1234, got %d", minor)
	}

	minor, err = ParseMinor("0.5", "BTC")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if minor != 50000000 {
		t.Fatalf("expected 50000000, got %d", minor)
	}

	minor, err = ParseMinor("1.000001", "USDT")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if minor != 1000001 {
		t.Fatalf("expected 1000001, got %d", minor)
	}
}

func TestParseMinorRejectsExcessPrecision(t *testing.T) {
	if _, err := ParseMinor("1.001", "USD"); err != ErrTooManyDecimals {
		t.Fatalf("expected ErrTooManyDecimals, got %v", err)
	}
	if _, err := ParseMinor("0.000000001", "BTC"); err != ErrTooManyDecimals {
		t.Fatalf("expected ErrTooManyDecimals, got %v", err)
	}
}

func TestParseMinorRejectsGarbage(t *testing.T) {
	if _, err := ParseMinor("", "USD"); err != ErrInvalidAmount {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := ParseMinor("abc", "USD"); err != ErrInvalidAmount {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := ParseMinor("1.00", "XYZ"); err != ErrUnsupportedCurrency {
		t.Fatalf("expected ErrUnsupportedCurrency, got %v", err)
	}
}

func TestParseMinorRejectsOverflow(t *testing.T) {
	if _, err := ParseMinor("1e30", "BTC"); err != ErrInvalidAmount {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := ParseMinor("-1e30", "BTC"); err != ErrInvalidAmount {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	minor, err := ParseMinor("92233720368547758.07", "USD")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if minor != math.MaxInt64 {
		t.Fatalf("expected MaxInt64, got %d", minor)
	}
}

func TestFormatMinor(t *testing.T) {
	if got := FormatMinor(1234, "USD"); got != "12.34" {
		t.Fatalf("expected 12.34, got %s", got)
	}
	if got := FormatMinor(49500000, "BTC"); got != "0.49500000" {
		t.Fatalf("expected 0.49500000, got %s", got)
	}
	if got := FormatMinor(0, "EUR"); got != "0.00" {
		t.Fatalf("expected 0.00, got %s", got)
	}
}

func TestToMinorRoundsBankers(t *testing.T) {
	value := decimal.RequireFromString("1.005")
	if got := ToMinor(value, "USD"); got != 100 {
		t.Fatalf("expected 100, got %d", got)
	}
	value = decimal.RequireFromString("1.015")
	if got := ToMinor(value, "USD"); got != 102 {
		t.Fatalf("expected 102, got %d", got)
	}
}

func TestSupported(t *testing.T) {
	for _, currency := range []string{"USD", "EUR", "GBP", "NGN", "USDT", "BTC"} {
		if !Supported(currency) {
			t.Fatalf("expected %s to be supported", currency)
		}
	}
	if Supported("DOGE") {
		t.Fatal("expected DOGE to be unsupported")
	}
}
