package netcopy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"
)

func fastRetry(maxRetries int) RetryConfig {
	return RetryConfig{
		MaxRetries:   maxRetries,
		InitialDelay: 1 * time.Millisecond,
		MaxDelay:     10 * time.Millisecond,
		Multiplier:   2.0,
		Logger:       discardLogger(),
	}
}

func TestDefaultRetryConfig(t *testing.T) {
	config := DefaultRetryConfig()

	if config.MaxRetries != 3 {
		t.Errorf("expected MaxRetries=3, got %d", config.MaxRetries)
	}
	if config.InitialDelay != 1*time.Second {
		t.Errorf("expected InitialDelay=1s, got %v", config.InitialDelay)
	}
	if config.MaxDelay != 30*time.Second {
		t.Errorf("expected MaxDelay=30s, got %v", config.MaxDelay)
	}
	if config.Multiplier != 2.0 {
		t.Errorf("expected Multiplier=2.0, got %v", config.Multiplier)
	}
	if config.JitterFactor != 0.25 {
		t.Errorf("expected JitterFactor=0.25, got %v", config.JitterFactor)
	}
}

func TestNoRetryConfig(t *testing.T) {
	if config := NoRetryConfig(); config.MaxRetries != 0 {
		t.Errorf("expected MaxRetries=0, got %d", config.MaxRetries)
	}
}

func TestRetry_Success(t *testing.T) {
	callCount := 0
	err := Retry(context.Background(), fastRetry(3), "dial", func() error {
		callCount++
		return nil
	})

	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("expected 1 call, got %d", callCount)
	}
}

func TestRetry_SuccessAfterRetries(t *testing.T) {
	callCount := 0
	err := Retry(context.Background(), fastRetry(3), "dial", func() error {
		callCount++
		if callCount < 3 {
			return errors.New("connection refused")
		}
		return nil
	})

	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if callCount != 3 {
		t.Errorf("expected 3 calls, got %d", callCount)
	}
}

func TestRetry_MaxRetriesExceeded(t *testing.T) {
	callCount := 0
	dialErr := errors.New("connection refused")
	err := Retry(context.Background(), fastRetry(2), "dial", func() error {
		callCount++
		return dialErr
	})

	if callCount != 3 { // initial + 2 retries
		t.Errorf("expected 3 calls, got %d", callCount)
	}
	if !errors.Is(err, dialErr) {
		t.Errorf("expected wrapped dial error, got %v", err)
	}
	if err.Error() != "dial failed after 3 attempts: connection refused" {
		t.Errorf("unexpected error message: %v", err)
	}
}

func TestRetry_NonRetryableError(t *testing.T) {
	callCount := 0
	permanentErr := errors.New("permission denied")
	err := Retry(context.Background(), fastRetry(3), "dial", func() error {
		callCount++
		return permanentErr
	})

	if err != permanentErr {
		t.Errorf("expected permanentErr, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("expected 1 call, got %d", callCount)
	}
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := Retry(ctx, fastRetry(3), "dial", func() error {
		called = true
		return nil
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled error, got %v", err)
	}
	if called {
		t.Error("fn must not run with a cancelled context")
	}
}

func TestRetry_ContextCancelledDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	config := fastRetry(3)
	config.InitialDelay = 1 * time.Second
	config.MaxDelay = 10 * time.Second

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := Retry(ctx, config, "dial", func() error {
		return errors.New("connection refused")
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled error, got %v", err)
	}
	if time.Since(start) >= time.Second {
		t.Error("expected the backoff wait to be interrupted")
	}
}

func TestRetry_NoRetriesReturnsRawError(t *testing.T) {
	callCount := 0
	dialErr := errors.New("connection refused")
	err := Retry(context.Background(), NoRetryConfig(), "dial", func() error {
		callCount++
		return dialErr
	})

	if err != dialErr {
		t.Errorf("expected the unwrapped error, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("expected 1 call, got %d", callCount)
	}
}

func TestRetry_LogsEachRetry(t *testing.T) {
	var buf bytes.Buffer
	config := fastRetry(2)
	config.Logger = slog.New(slog.NewTextHandler(&buf, nil))

	_ = Retry(context.Background(), config, "dial host:22", func() error {
		return errors.New("connection refused")
	})

	out := buf.String()
	if got := strings.Count(out, "operation failed, retrying"); got != 2 {
		t.Errorf("expected 2 retry warnings, got %d:\n%s", got, out)
	}
	if !strings.Contains(out, `operation="dial host:22"`) {
		t.Errorf("expected operation attribute in log:\n%s", out)
	}
}

func TestBackoffDelay(t *testing.T) {
	tests := []struct {
		name      string
		config    RetryConfig
		attempt   int
		minDelay  time.Duration
		maxDelay  time.Duration
		exactTest bool
	}{
		{
			name: "first attempt no jitter",
			config: RetryConfig{
				InitialDelay: 100 * time.Millisecond,
				MaxDelay:     10 * time.Second,
				Multiplier:   2.0,
			},
			attempt:   0,
			minDelay:  100 * time.Millisecond,
			exactTest: true,
		},
		{
			name: "second attempt with multiplier no jitter",
			config: RetryConfig{
				InitialDelay: 100 * time.Millisecond,
				MaxDelay:     10 * time.Second,
				Multiplier:   2.0,
			},
			attempt:   1,
			minDelay:  200 * time.Millisecond,
			exactTest: true,
		},
		{
			name: "third attempt with multiplier no jitter",
			config: RetryConfig{
				InitialDelay: 100 * time.Millisecond,
				MaxDelay:     10 * time.Second,
				Multiplier:   2.0,
			},
			attempt:   2,
			minDelay:  400 * time.Millisecond,
			exactTest: true,
		},
		{
			name: "capped at max delay",
			config: RetryConfig{
				InitialDelay: 1 * time.Second,
				MaxDelay:     5 * time.Second,
				Multiplier:   10.0,
			},
			attempt:   2,
			minDelay:  5 * time.Second,
			exactTest: true,
		},
		{
			name: "with jitter",
			config: RetryConfig{
				InitialDelay: 100 * time.Millisecond,
				MaxDelay:     10 * time.Second,
				Multiplier:   2.0,
				JitterFactor: 0.5,
			},
			attempt:  0,
			minDelay: 50 * time.Millisecond,
			maxDelay: 150 * time.Millisecond,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			delay := backoffDelay(tt.config, tt.attempt)
			if tt.exactTest {
				if delay != tt.minDelay {
					t.Errorf("expected delay=%v, got %v", tt.minDelay, delay)
				}
				return
			}
			if delay < tt.minDelay || delay > tt.maxDelay {
				t.Errorf("expected delay between %v and %v, got %v", tt.minDelay, tt.maxDelay, delay)
			}
		})
	}
}

// mockNetError implements net.Error for testing.
type mockNetError struct {
	timeout bool
	msg     string
}

func (e *mockNetError) Error() string   { return e.msg }
func (e *mockNetError) Timeout() bool   { return e.timeout }
func (e *mockNetError) Temporary() bool { return false }

var _ net.Error = (*mockNetError)(nil)

func dialError(errno syscall.Errno) error {
	return fmt.Errorf("failed to connect to host:21: %w", &net.OpError{
		Op:  "dial",
		Net: "tcp",
		Err: os.NewSyscallError("connect", errno),
	})
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"context canceled", context.Canceled, false},
		{"context deadline exceeded", fmt.Errorf("dial: %w", context.DeadlineExceeded), false},
		{"timeout network error", &mockNetError{timeout: true, msg: "timeout"}, true},
		{"non-timeout network error", &mockNetError{msg: "some error"}, false},
		{"refused errno", dialError(syscall.ECONNREFUSED), true},
		{"reset errno", dialError(syscall.ECONNRESET), true},
		{"host unreachable errno", dialError(syscall.EHOSTUNREACH), true},
		{"network unreachable errno", dialError(syscall.ENETUNREACH), true},
		{"timed out errno", dialError(syscall.ETIMEDOUT), true},
		{"permission errno", dialError(syscall.EACCES), false},
		{"temporary dns failure", &net.DNSError{Err: "server misbehaving", Name: "example.com", IsTemporary: true}, true},
		{"unknown host", &net.DNSError{Err: "no such host", Name: "example.com", IsNotFound: true}, false},
		{"connection refused text", errors.New("connection refused"), true},
		{"connection reset text", errors.New("read: connection reset by peer"), true},
		{"case insensitive", errors.New("Connection Refused"), true},
		{"ssh handshake failed", errors.New("ssh: handshake failed: ssh: unable to authenticate"), false},
		{"ftp login rejected", errors.New("530 Login incorrect."), false},
		{"broken pipe text", errors.New("write: broken pipe"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := IsRetryableError(tt.err); result != tt.expected {
				t.Errorf("IsRetryableError(%v) = %v, expected %v", tt.err, result, tt.expected)
			}
		})
	}
}
