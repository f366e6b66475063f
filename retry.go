package netcopy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"strings"
	"syscall"
	"time"
)

// RetryConfig controls how often a failed dial is repeated. The zero value dials once.
type RetryConfig struct {
	// MaxRetries is the number of extra attempts after the first one.
	MaxRetries int

	// InitialDelay is the wait before the first retry. Each further wait is multiplied
	// by Multiplier and capped at MaxDelay.
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64

	// JitterFactor spreads each wait by +/- that fraction of it.
	JitterFactor float64

	// Logger receives a warning per failed attempt. Defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultRetryConfig retries a dial three times, starting at one second.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.25,
	}
}

// NoRetryConfig dials once.
func NoRetryConfig() RetryConfig {
	return RetryConfig{}
}

// RetryableFunc is one dial attempt.
type RetryableFunc func() error

// Retry calls fn until it succeeds, fails with an error IsRetryableError rejects, ctx
// ends, or the attempts in config are used up. Without retries the error of the single
// attempt is returned unwrapped.
func Retry(ctx context.Context, config RetryConfig, operation string, fn RetryableFunc) error {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attempts := config.MaxRetries + 1

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s cancelled: %w", operation, err)
		}

		err := fn()
		switch {
		case err == nil:
			return nil
		case !IsRetryableError(err), config.MaxRetries <= 0:
			return err
		case attempt >= attempts:
			return fmt.Errorf("%s failed after %d attempts: %w", operation, attempts, err)
		}

		delay := backoffDelay(config, attempt-1)
		logger.Warn("operation failed, retrying",
			"operation", operation,
			"attempt", attempt,
			"max_attempts", attempts,
			"delay", delay,
			"error", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%s cancelled during retry wait: %w", operation, ctx.Err())
		case <-timer.C:
		}
	}
}

// backoffDelay returns the wait after the given zero-based failed attempt.
func backoffDelay(config RetryConfig, attempt int) time.Duration {
	delay := float64(config.InitialDelay)
	for range attempt {
		delay *= config.Multiplier
	}

	if config.JitterFactor > 0 {
		spread := delay * config.JitterFactor
		delay += (rand.Float64()*2 - 1) * spread
	}

	if config.MaxDelay > 0 {
		return min(time.Duration(delay), config.MaxDelay)
	}
	return time.Duration(delay)
}

// dialErrnos are socket errors after which a new dial may succeed.
var dialErrnos = []error{
	syscall.ECONNREFUSED,
	syscall.ECONNRESET,
	syscall.EHOSTUNREACH,
	syscall.ENETUNREACH,
	syscall.ETIMEDOUT,
}

// IsRetryableError reports whether a failed dial is worth repeating: refused or reset
// connections, unreachable hosts, timeouts and temporary DNS failures. Cancellation,
// handshake and authentication failures are final.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	for _, errno := range dialErrnos {
		if errors.Is(err, errno) {
			return true
		}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTemporary || dnsErr.IsTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	// Some servers and proxies only surface the condition as text.
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") || strings.Contains(msg, "connection reset")
}
