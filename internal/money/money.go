package money

import (
	"errors"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

var maxMinor = decimal.NewFromInt(math.MaxInt64)

var (
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrTooManyDecimals     = errors.New("amount has too many decimal places")
	ErrUnsupportedCurrency = errors.New("unsupported currency")
)

// Balances are stored as int64 minor units. The exponent is per currency:
// fiat uses 2, stablecoins 6, BTC 8.
var exponents = map[string]int32{
	"USD":  2,
	"EUR":  2,
	"GBP":  2,
	"NGN":  2,
	"USDT": 6,
	"BTC":  8,
}

func Supported(currency string) bool {
	_, ok := exponents[currency]
	return ok
}

func ParseMinor(input, currency string) (int64, error) {
	exp, ok := exponents[currency]
	if !ok {
		return 0, ErrUnsupportedCurrency
	}
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return 0, ErrInvalidAmount
	}
	value, err := decimal.NewFromString(trimmed)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	minor := value.Shift(exp)
	if !minor.IsInteger() {
		return 0, ErrTooManyDecimals
	}
	// IntPart silently truncates past int64, so bound the magnitude first.
	if minor.Abs().GreaterThan(maxMinor) {
		return 0, ErrInvalidAmount
	}
	return minor.IntPart(), nil
}

func FormatMinor(value int64, currency string) string {
	exp, ok := exponents[currency]
	if !ok {
		exp = 2
	}
	return decimal.New(value, -exp).StringFixed(exp)
}

func FromMinor(value int64, currency string) decimal.Decimal {
	exp, ok := exponents[currency]
	if !ok {
		exp = 2
	}
	return decimal.New(value, -exp)
}

// ToMinor converts a decimal amount in currency units to minor units,
// banker's rounding at the currency exponent.
func ToMinor(value decimal.Decimal, currency string) int64 {
	exp, ok := exponents[currency]
	if !ok {
		exp = 2
	}
	return value.Shift(exp).RoundBank(0).IntPart()
}
