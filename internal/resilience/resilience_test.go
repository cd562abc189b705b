package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetrySucceedsAfterFailures(t *testing.T) {
	attempts := 0
	v, err := Retry(context.Background(), 5, time.Millisecond, func() (string, error) {
		attempts++
		if attempts < 3 {
			return "", errors.New("transient")
		}
		return "done", nil
	})
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if v != "done" || attempts != 3 {
		t.Fatalf("expected success on 3rd attempt, got v=%q attempts=%d", v, attempts)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	attempts := 0
	_, err := Retry(context.Background(), 3, time.Millisecond, func() (string, error) {
		attempts++
		return "", errors.New("permanent")
	})
	if err == nil {
		t.Fatalf("expected error after exhausting attempts")
	}
	if attempts != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", attempts)
	}
}

func TestCircuitBreakerOpensAfterFailures(t *testing.T) {
	cb := NewCircuitBreaker(time.Second, 10, 5, 0.5, 50*time.Millisecond, 1)
	for i := 0; i < 5; i++ {
		if !cb.Allow() {
			t.Fatalf("expected breaker closed at iteration %d", i)
		}
		cb.RecordResult(false)
	}
	if cb.Allow() {
		t.Fatalf("expected breaker to be open after majority failures")
	}
}

func TestCircuitBreakerHalfOpensAfterCooldown(t *testing.T) {
	cb := NewCircuitBreaker(time.Second, 10, 2, 0.5, 10*time.Millisecond, 1)
	cb.Allow()
	cb.RecordResult(false)
	cb.Allow()
	cb.RecordResult(false)
	if cb.Allow() {
		t.Fatalf("expected breaker open immediately after tripping")
	}
	time.Sleep(20 * time.Millisecond)
	if !cb.Allow() {
		t.Fatalf("expected breaker to allow a half-open probe after cooldown")
	}
}
