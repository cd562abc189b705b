package eventbus

import (
	"sync"
	"testing"
	"time"
)

func TestPublishDeliversToAllSubscribers(t *testing.T) {
	b := New()
	var mu sync.Mutex
	var gotA, gotB []Type

	b.Subscribe(func(e Event) {
		mu.Lock()
		gotA = append(gotA, e.Type)
		mu.Unlock()
	})
	b.Subscribe(func(e Event) {
		mu.Lock()
		gotB = append(gotB, e.Type)
		mu.Unlock()
	})

	b.Publish(Event{Type: TaskReady, SourceID: "task_001"})
	b.Publish(Event{Type: TaskStarted, SourceID: "task_001"})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(gotA) == 2 && len(gotB) == 2
	})

	mu.Lock()
	defer mu.Unlock()
	if gotA[0] != TaskReady || gotA[1] != TaskStarted {
		t.Fatalf("subscriber A out of order: %v", gotA)
	}
	if gotB[0] != TaskReady || gotB[1] != TaskStarted {
		t.Fatalf("subscriber B out of order: %v", gotB)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	var mu sync.Mutex
	count := 0
	id := b.Subscribe(func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	b.Publish(Event{Type: TaskReady})
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	})

	b.Unsubscribe(id)
	b.Publish(Event{Type: TaskReady})
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Fatalf("expected no delivery after unsubscribe, got count=%d", count)
	}
}

func TestPanickingSubscriberDoesNotAffectOthers(t *testing.T) {
	b := New()
	var mu sync.Mutex
	otherDelivered := false

	b.Subscribe(func(Event) { panic("boom") })
	b.Subscribe(func(Event) {
		mu.Lock()
		otherDelivered = true
		mu.Unlock()
	})

	b.Publish(Event{Type: TaskFailed})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return otherDelivered
	})
}

func TestReentrantPublishFromHandler(t *testing.T) {
	b := New()
	var mu sync.Mutex
	seen := 0

	b.Subscribe(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		seen++
		if e.Type == TaskReady && seen == 1 {
			go b.Publish(Event{Type: TaskStarted})
		}
	})

	b.Publish(Event{Type: TaskReady})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen == 2
	})
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}
