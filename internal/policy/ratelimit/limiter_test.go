package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLimiter_Wait(t *testing.T) {
	// 10 RPS = 1 token every 100ms, starting with a single token.
	l := New(Config{
		DefaultRPS:   10,
		DefaultBurst: 1,
	})
	if !l.Enabled() {
		t.Fatal("expected limiter to be enabled")
	}

	ctx := context.Background()

	// Consume initial token
	if err := l.Wait(ctx, "https://test.com"); err != nil {
		t.Fatal(err)
	}

	// Next one should wait ~100ms
	start := time.Now()
	if err := l.Wait(ctx, "https://test.com/other"); err != nil {
		t.Fatal(err)
	}
	dur := time.Since(start)
	if dur < 80*time.Millisecond {
		t.Errorf("expected wait ~100ms, got %v", dur)
	}
}

func TestLimiter_DifferentDomains(t *testing.T) {
	l := New(Config{
		DefaultRPS:   1, // 1 RPS = 1s interval
		DefaultBurst: 1,
	})

	ctx := context.Background()

	// Domain A
	if err := l.Wait(ctx, "https://a.com/1"); err != nil {
		t.Fatal(err)
	}

	// Domain B should not be blocked by A
	start := time.Now()
	if err := l.Wait(ctx, "https://b.com/1"); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Errorf("domain B blocked unexpectedly")
	}
}

func TestLimiter_DisabledNeverBlocks(t *testing.T) {
	l := New(Config{})
	if l.Enabled() {
		t.Fatal("zero rps should disable limiting")
	}
	start := time.Now()
	for i := 0; i < 100; i++ {
		if err := l.Wait(context.Background(), "https://a.com/"); err != nil {
			t.Fatal(err)
		}
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Errorf("disabled limiter blocked")
	}
}

func TestLimiter_CanceledContext(t *testing.T) {
	l := New(Config{DefaultRPS: 0.01, DefaultBurst: 1})
	if err := l.Wait(context.Background(), "https://slow.test/"); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Wait(ctx, "https://slow.test/")
	if err == nil {
		t.Fatal("expected error when token is not available before deadline")
	}
	if errors.Is(err, context.Canceled) {
		t.Fatalf("unexpected cancellation error: %v", err)
	}
}
