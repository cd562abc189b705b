package sync

import (
	"context"
	"testing"
	"time"
)

func TestWaitForPendingReturnsImmediatelyWhenEmpty(t *testing.T) {
	s := New(time.Second)
	pending := s.WaitForPending(context.Background())
	if len(pending) != 0 {
		t.Fatalf("expected no pending tasks, got %v", pending)
	}
}

func TestWaitForPendingBlocksUntilComplete(t *testing.T) {
	s := New(time.Second)
	s.Register("task_001")

	go func() {
		time.Sleep(10 * time.Millisecond)
		s.Complete("task_001")
	}()

	start := time.Now()
	pending := s.WaitForPending(context.Background())
	if len(pending) != 0 {
		t.Fatalf("expected task_001 to clear, got %v", pending)
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Fatalf("expected wait to block until Complete")
	}
}

func TestWaitForPendingTimesOut(t *testing.T) {
	s := New(20 * time.Millisecond)
	s.Register("task_001")

	pending := s.WaitForPending(context.Background())
	if len(pending) != 1 || pending[0] != "task_001" {
		t.Fatalf("expected task_001 still pending after timeout, got %v", pending)
	}
	if s.Stats().TimedOut != 1 {
		t.Fatalf("expected TimedOut counter to increment")
	}
}

func TestCompleteUnknownTaskIsNoop(t *testing.T) {
	s := New(time.Second)
	s.Complete("task_999")
	if s.Stats().Completed != 0 {
		t.Fatalf("expected completing unknown task to be a no-op")
	}
}

func TestRegisterIsIdempotent(t *testing.T) {
	s := New(time.Second)
	s.Register("task_001")
	s.Register("task_001")
	if s.Stats().Registered != 1 {
		t.Fatalf("expected duplicate Register to not double-count, got %d", s.Stats().Registered)
	}
	s.Complete("task_001")
	if s.Stats().Completed != 1 {
		t.Fatalf("expected single Complete to clear the entry")
	}
}

func TestWaitForPendingIgnoresLateRegistrations(t *testing.T) {
	s := New(time.Second)
	s.Register("task_001")

	done := make(chan []string, 1)
	go func() {
		done <- s.WaitForPending(context.Background())
	}()

	time.Sleep(5 * time.Millisecond)
	s.Register("task_002")
	s.Complete("task_001")

	select {
	case pending := <-done:
		if len(pending) != 0 {
			t.Fatalf("expected wait to ignore task_002 registered after the call began, got %v", pending)
		}
	case <-time.After(time.Second):
		t.Fatalf("WaitForPending did not return")
	}
}
