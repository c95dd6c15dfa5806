package validator

import (
	"errors"
	"regexp"
)

var (
	ErrInvalidIdempotencyKey = errors.New("invalid idempotency key")
	ErrInvalidReference      = errors.New("invalid reference")
	ErrInvalidCurrency       = errors.New("invalid currency code")
)

var (
	idempotencyKeyRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]{8,128}$`)
	referenceRegex      = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)
	currencyRegex       = regexp.MustCompile(`^[A-Z]{3,5}$`)
)

func ValidateIdempotencyKey(key string) error {
	if !idempotencyKeyRegex.MatchString(key) {
		return ErrInvalidIdempotencyKey
	}
	return nil
}

func ValidateReference(reference string) error {
	if !referenceRegex.MatchString(reference) {
		return ErrInvalidReference
	}
	return nil
}

func ValidateCurrency(currency string) error {
	if !currencyRegex.MatchString(currency) {
		return ErrInvalidCurrency
	}
	return nil
}
