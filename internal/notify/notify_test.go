package notify

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

// collector is an Observer that records events.
type collector struct {
	mu     sync.Mutex
	events []CommitEvent
}

func (c *collector) Notify(ev CommitEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *collector) snapshot() []CommitEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]CommitEvent, len(c.events))
	copy(out, c.events)
	return out
}

func TestPublishDeliversToSubscribers(t *testing.T) {
	hub := NewHub()

	c := &collector{}
	cancel := hub.Subscribe(c)
	defer cancel()

	hub.Publish(CommitEvent{Table: "games", UpdatedIDs: []string{"g-1"}})
	hub.Close()

	events := c.snapshot()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Table != "games" {
		t.Errorf("table = %q", events[0].Table)
	}
}

func TestPerTableOrderPreserved(t *testing.T) {
	hub := NewHub()

	c := &collector{}
	cancel := hub.Subscribe(c)
	defer cancel()

	const n = 50
	for i := 0; i < n; i++ {
		hub.Publish(CommitEvent{Table: "games", UpdatedIDs: []string{fmt.Sprintf("g-%d", i)}})
	}
	hub.Close()

	events := c.snapshot()
	if len(events) != n {
		t.Fatalf("expected %d events, got %d", n, len(events))
	}
	for i, ev := range events {
		want := fmt.Sprintf("g-%d", i)
		if ev.UpdatedIDs[0] != want {
			t.Fatalf("event %d out of order: got %s, want %s", i, ev.UpdatedIDs[0], want)
		}
	}
}

func TestLateSubscriberSeesNoReplay(t *testing.T) {
	hub := NewHub()

	early := &collector{}
	cancelEarly := hub.Subscribe(early)
	defer cancelEarly()

	hub.Publish(CommitEvent{Table: "games", UpdatedIDs: []string{"g-1"}})

	// Give the dispatcher a moment so the event is delivered before the
	// late subscriber appears
	time.Sleep(20 * time.Millisecond)

	late := &collector{}
	cancelLate := hub.Subscribe(late)
	defer cancelLate()

	hub.Publish(CommitEvent{Table: "games", UpdatedIDs: []string{"g-2"}})
	hub.Close()

	if got := len(early.snapshot()); got != 2 {
		t.Errorf("early subscriber expected 2 events, got %d", got)
	}
	if got := len(late.snapshot()); got != 1 {
		t.Errorf("late subscriber expected 1 event, got %d", got)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	hub := NewHub()

	c := &collector{}
	cancel := hub.Subscribe(c)

	hub.Publish(CommitEvent{Table: "games", UpdatedIDs: []string{"g-1"}})
	// Ensure the first event's observer snapshot is taken before we leave
	time.Sleep(20 * time.Millisecond)
	cancel()

	hub.Publish(CommitEvent{Table: "games", UpdatedIDs: []string{"g-2"}})
	hub.Close()

	if got := len(c.snapshot()); got != 1 {
		t.Errorf("expected 1 event after unsubscribe, got %d", got)
	}
}

func TestPublishDoesNotBlockOnSlowObservers(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	slow := ObserverFunc(func(CommitEvent) {
		time.Sleep(50 * time.Millisecond)
	})
	cancel := hub.Subscribe(slow)
	defer cancel()

	start := time.Now()
	for i := 0; i < 10; i++ {
		hub.Publish(CommitEvent{Table: "games"})
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("Publish blocked on observer work: %v for 10 publishes", elapsed)
	}
}

func TestCloseDrainsQueue(t *testing.T) {
	hub := NewHub()

	c := &collector{}
	cancel := hub.Subscribe(c)
	defer cancel()

	for i := 0; i < 20; i++ {
		hub.Publish(CommitEvent{Table: "games"})
	}
	hub.Close()

	if got := len(c.snapshot()); got != 20 {
		t.Errorf("Close should drain pending events, delivered %d of 20", got)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	hub := NewHub()
	hub.Close()
	hub.Close()

	// Publishing after close must not panic
	hub.Publish(CommitEvent{Table: "games"})
}
