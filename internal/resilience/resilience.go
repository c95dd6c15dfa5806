package resilience

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"
)

// Class separates failures that are worth retrying from those that are not.
type Class int

const (
	// ClassTerminal covers validation, permission and conflict failures.
	// Retrying them can only repeat the refusal.
	ClassTerminal Class = iota
	// ClassTransient covers timeouts, connection failures and provider 5xx.
	ClassTransient
)

type Classifier func(error) Class

// StatusError carries an upstream HTTP status so the classifier can tell a
// provider outage from a rejected request.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream status %d: %s", e.Code, e.Body)
}

// ClassifyDefault treats timeouts, network errors and 5xx as transient and
// everything else as terminal.
func ClassifyDefault(err error) Class {
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassTransient
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.Code >= 500 {
		return ClassTransient
	}
	return ClassTerminal
}

type Options struct {
	// Timeout bounds each individual attempt.
	Timeout time.Duration
	// MaxAttempts bounds the retry loop, first try included.
	MaxAttempts int
	// BaseBackoff scales the quadratic backoff between attempts.
	BaseBackoff time.Duration
	// MinInterval throttles calls sharing a key; a caller arriving early
	// waits out the remainder.
	MinInterval time.Duration
	Classify    Classifier
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = 100 * time.Millisecond
	}
	if o.Classify == nil {
		o.Classify = ClassifyDefault
	}
	return o
}

type inflightCall struct {
	done   chan struct{}
	result any
	err    error
}

// Caller owns the per-key throttle and in-flight state for a set of
// outbound calls. It has an explicit lifetime: construct one per upstream
// and drop it when the session that owns it ends.
type Caller struct {
	mu       sync.Mutex
	lastCall map[string]time.Time
	inflight map[string]*inflightCall
}

func NewCaller() *Caller {
	return &Caller{
		lastCall: make(map[string]time.Time),
		inflight: make(map[string]*inflightCall),
	}
}

// Do runs fn with throttling, per-attempt timeout and bounded retry.
// Concurrent calls sharing a key coalesce onto one in-flight attempt and all
// receive the same settled result. Failure always propagates; financial
// mutations must use this form.
func Do[T any](ctx context.Context, c *Caller, key string, opts Options, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	result, err := c.do(ctx, key, opts.withDefaults(), func(ctx context.Context) (any, error) {
		return fn(ctx)
	})
	if err != nil {
		return zero, err
	}
	value, ok := result.(T)
	if !ok {
		return zero, errors.New("resilience: coalesced result type mismatch")
	}
	return value, nil
}

// DoWithFallback behaves like Do but returns fallback once retries are
// exhausted on a transient failure. Never use it for a call that moves
// money.
func DoWithFallback[T any](ctx context.Context, c *Caller, key string, opts Options, fn func(context.Context) (T, error), fallback T) (T, error) {
	value, err := Do(ctx, c, key, opts, fn)
	if err != nil {
		opts = opts.withDefaults()
		if opts.Classify(err) == ClassTransient {
			return fallback, nil
		}
		return value, err
	}
	return value, nil
}

func (c *Caller) do(ctx context.Context, key string, opts Options, fn func(context.Context) (any, error)) (any, error) {
	for {
		c.mu.Lock()
		if call, ok := c.inflight[key]; ok {
			c.mu.Unlock()
			select {
			case <-call.done:
				return call.result, call.err
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		wait := c.throttleWaitLocked(key, opts.MinInterval)
		if wait <= 0 {
			call := &inflightCall{done: make(chan struct{})}
			c.inflight[key] = call
			c.lastCall[key] = time.Now()
			c.mu.Unlock()

			call.result, call.err = c.attempt(ctx, opts, fn)
			close(call.done)

			c.mu.Lock()
			delete(c.inflight, key)
			c.mu.Unlock()
			return call.result, call.err
		}
		c.mu.Unlock()
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}
}

func (c *Caller) throttleWaitLocked(key string, minInterval time.Duration) time.Duration {
	if minInterval <= 0 {
		return 0
	}
	last, ok := c.lastCall[key]
	if !ok {
		return 0
	}
	elapsed := time.Since(last)
	if elapsed >= minInterval {
		return 0
	}
	return minInterval - elapsed
}

func (c *Caller) attempt(ctx context.Context, opts Options, fn func(context.Context) (any, error)) (any, error) {
	var lastErr error
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
		result, err := fn(attemptCtx)
		cancel()
		if err == nil {
			return result, nil
		}
		lastErr = err
		if opts.Classify(err) == ClassTerminal {
			return nil, err
		}
		if attempt == opts.MaxAttempts {
			break
		}
		backoff := time.Duration(attempt*attempt) * opts.BaseBackoff
		jitter := time.Duration(rand.Int63n(int64(opts.BaseBackoff) + 1))
		timer := time.NewTimer(backoff + jitter)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}
