package provider

import "paygate/internal/resilience"

func upstreamError(code int, body []byte) error {
	return &resilience.StatusError{Code: code, Body: string(body)}
}
