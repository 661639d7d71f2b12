// Package retry classifies transport failures and computes bounded
// exponential backoff for the operations that gepd retries: certificate
// fetches and store pushes.
package retry

import (
	"context"
	"errors"
	"io"
	"math"
	"math/rand"
	"net"
	"strings"
	"syscall"
	"time"
)

// Default retry configuration values
const (
	DEF_MAX_RETRIES    = 3
	DEF_BASE_DELAY     = 200 * time.Millisecond
	DEF_MAX_DELAY      = 5 * time.Second
	DEF_JITTER_FACTOR  = 0.5
	DEF_BACKOFF_FACTOR = 2.0
)

// ErrTimeout marks an operation that received no answer in time.
var ErrTimeout = errors.New("timed out")

// Config holds configuration for retry behavior.
type Config struct {
	MaxRetries    int           // Maximum retry attempts, 0 disables retrying
	BaseDelay     time.Duration // Delay before the first retry
	MaxDelay      time.Duration // Upper bound for a single delay
	JitterFactor  float64       // Random jitter factor (0-1)
	BackoffFactor float64       // Exponential multiplier
}

// DefaultConfig returns a Config with the package defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries:    DEF_MAX_RETRIES,
		BaseDelay:     DEF_BASE_DELAY,
		MaxDelay:      DEF_MAX_DELAY,
		JitterFactor:  DEF_JITTER_FACTOR,
		BackoffFactor: DEF_BACKOFF_FACTOR,
	}
}

// Disabled returns a Config that never retries.
func Disabled() Config {
	c := DefaultConfig()
	c.MaxRetries = 0
	return c
}

// State tracks attempts made for one operation.
type State struct {
	Attempts     int
	LastError    error
	LastAttempt  time.Time
	TotalDelayed time.Duration
}

// Record notes a failed attempt.
func (s *State) Record(err error) {
	s.Attempts++
	s.LastError = err
	s.LastAttempt = time.Now()
}

// Category classifies errors for retry decisions.
type Category int

const (
	CategoryFatal     Category = iota // closed transports, canceled contexts, bad input
	CategoryRetryable                 // timeouts and dropped connections
	CategoryThrottled                 // rate limiting
)

func (c Category) String() string {
	switch c {
	case CategoryRetryable:
		return "retryable"
	case CategoryThrottled:
		return "throttled"
	default:
		return "fatal"
	}
}

// Classify determines how err should be handled.
func Classify(err error) Category {
	if err == nil {
		return CategoryFatal
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, net.ErrClosed) {
		return CategoryFatal
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return CategoryRetryable
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return CategoryRetryable
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CategoryRetryable
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ECONNRESET, syscall.ECONNREFUSED, syscall.EPIPE, syscall.ETIMEDOUT:
			return CategoryRetryable
		}
	}

	msg := strings.ToLower(err.Error())
	for _, p := range []string{"connection reset", "connection refused", "broken pipe", "timeout", "put data into repo failed"} {
		if strings.Contains(msg, p) {
			return CategoryRetryable
		}
	}
	for _, p := range []string{"rate limit", "too many requests", "throttl"} {
		if strings.Contains(msg, p) {
			return CategoryThrottled
		}
	}
	return CategoryFatal
}

// Backoff computes the delay before retry number attempt (1-based).
func (c *Config) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(c.BaseDelay) * math.Pow(c.BackoffFactor, float64(attempt-1))
	if c.JitterFactor > 0 {
		delay *= 1 + c.JitterFactor*(2*rand.Float64()-1)
	}
	if delay > float64(c.MaxDelay) {
		delay = float64(c.MaxDelay)
	}
	if delay < 0 {
		delay = float64(c.BaseDelay)
	}
	return time.Duration(delay)
}

// ShouldRetry reports whether another attempt is allowed after err.
func (c *Config) ShouldRetry(s *State, err error) bool {
	if Classify(err) == CategoryFatal {
		return false
	}
	return s.Attempts <= c.MaxRetries && c.MaxRetries > 0
}

// Delay returns the wait before the next attempt, doubled for throttling.
func (c *Config) Delay(s *State) time.Duration {
	d := c.Backoff(s.Attempts)
	if Classify(s.LastError) == CategoryThrottled {
		d *= 2
		if d > c.MaxDelay {
			d = c.MaxDelay
		}
	}
	return d
}

// Wait blocks until the next attempt is due or ctx is done.
func (c *Config) Wait(ctx context.Context, s *State) error {
	d := c.Delay(s)
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		s.TotalDelayed += d
		return nil
	}
}
