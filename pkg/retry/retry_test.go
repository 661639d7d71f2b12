package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"testing"
	"time"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Category
	}{
		{"nil", nil, CategoryFatal},
		{"canceled", context.Canceled, CategoryFatal},
		{"closed", fmt.Errorf("write: %w", net.ErrClosed), CategoryFatal},
		{"timeout", fmt.Errorf("fetch /a: %w", ErrTimeout), CategoryRetryable},
		{"eof", io.EOF, CategoryRetryable},
		{"reset", syscall.ECONNRESET, CategoryRetryable},
		{"ack", errors.New("Put data into repo failed"), CategoryRetryable},
		{"throttled", errors.New("rate limit exceeded"), CategoryThrottled},
		{"unknown", errors.New("bad certificate"), CategoryFatal},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}

func TestShouldRetryBounded(t *testing.T) {
	c := DefaultConfig()
	c.MaxRetries = 2
	s := &State{}
	allowed := 0
	for i := 0; i < 10; i++ {
		s.Record(ErrTimeout)
		if !c.ShouldRetry(s, ErrTimeout) {
			break
		}
		allowed++
	}
	if allowed != 2 {
		t.Fatalf("expected 2 retries, got %d", allowed)
	}
	d := Disabled()
	if d.ShouldRetry(&State{Attempts: 1}, ErrTimeout) {
		t.Fatal("disabled config must never retry")
	}
	if c.ShouldRetry(&State{Attempts: 1}, errors.New("bad certificate")) {
		t.Fatal("fatal errors must not be retried")
	}
}

func TestBackoffBounds(t *testing.T) {
	c := Config{BaseDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond, BackoffFactor: 2}
	want := []time.Duration{10, 20, 40, 50, 50}
	for i, w := range want {
		if got := c.Backoff(i + 1); got != w*time.Millisecond {
			t.Errorf("Backoff(%d) = %v, want %v", i+1, got, w*time.Millisecond)
		}
	}
	c.JitterFactor = 0.5
	for i := 1; i < 20; i++ {
		if got := c.Backoff(1); got < 5*time.Millisecond || got > 15*time.Millisecond {
			t.Fatalf("jittered backoff out of range: %v", got)
		}
	}
}

func TestWaitHonoursContext(t *testing.T) {
	c := Config{BaseDelay: time.Hour, MaxDelay: time.Hour, BackoffFactor: 1}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := &State{Attempts: 1, LastError: ErrTimeout}
	if err := c.Wait(ctx, s); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	c = Config{BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 1}
	if err := c.Wait(context.Background(), s); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if s.TotalDelayed != time.Millisecond {
		t.Fatalf("TotalDelayed = %v", s.TotalDelayed)
	}
}
