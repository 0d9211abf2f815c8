package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func waitDelivery(t *testing.T, d *Delivery) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := d.Wait(ctx); err != nil {
		t.Fatalf("delivery did not complete: %v", err)
	}
}

// TestPublishSubscribe verifies basic publish/subscribe functionality.
func TestPublishSubscribe(t *testing.T) {
	bus := NewBus(BusConfig{})
	defer bus.Close()

	ch, _, err := bus.SubscribeChan("task.*.started", 10)
	if err != nil {
		t.Fatalf("SubscribeChan failed: %v", err)
	}

	bus.Publish(New(TaskType("task-1", ActionStarted), "test", "s1", TaskStartedData{TaskID: "task-1", Role: "coder"}))

	select {
	case received := <-ch:
		if received.Type != "task.task-1.started" {
			t.Errorf("expected type 'task.task-1.started', got '%s'", received.Type)
		}
		data, ok := received.Data.(TaskStartedData)
		if !ok || data.TaskID != "task-1" {
			t.Errorf("unexpected payload: %#v", received.Data)
		}
		if received.SessionID != "s1" {
			t.Errorf("expected session 's1', got '%s'", received.SessionID)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

// TestPatternRouting verifies only matching subscribers receive an event.
func TestPatternRouting(t *testing.T) {
	bus := NewBus(BusConfig{})
	defer bus.Close()

	var mu sync.Mutex
	got := map[string][]string{}
	record := func(pattern string) Handler {
		return func(_ context.Context, e Event) error {
			mu.Lock()
			got[pattern] = append(got[pattern], e.Type)
			mu.Unlock()
			return nil
		}
	}

	for _, p := range []string{"task.*.completed", "task.**", "session.7.completed", "**"} {
		if _, err := bus.Subscribe(p, record(p)); err != nil {
			t.Fatalf("Subscribe(%q) failed: %v", p, err)
		}
	}

	types := []string{"task.7.completed", "task.42.completed", "task.7.failed", "session.7.completed"}
	for _, typ := range types {
		waitDelivery(t, bus.Publish(Event{Type: typ}))
	}

	mu.Lock()
	defer mu.Unlock()

	want := map[string][]string{
		"task.*.completed":    {"task.7.completed", "task.42.completed"},
		"task.**":             {"task.7.completed", "task.42.completed", "task.7.failed"},
		"session.7.completed": {"session.7.completed"},
		"**":                  types,
	}
	for pattern, wantTypes := range want {
		if len(got[pattern]) != len(wantTypes) {
			t.Errorf("%s: expected %v, got %v", pattern, wantTypes, got[pattern])
			continue
		}
		for i := range wantTypes {
			if got[pattern][i] != wantTypes[i] {
				t.Errorf("%s: expected %v, got %v", pattern, wantTypes, got[pattern])
				break
			}
		}
	}
}

// TestPublishNonBlocking verifies a slow handler does not hold up the publisher.
func TestPublishNonBlocking(t *testing.T) {
	bus := NewBus(BusConfig{})
	defer bus.Close()

	release := make(chan struct{})
	_, err := bus.Subscribe("task.**", func(context.Context, Event) error {
		<-release
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	start := time.Now()
	var deliveries []*Delivery
	for i := 0; i < 100; i++ {
		deliveries = append(deliveries, bus.Publish(Event{Type: "task.x.started"}))
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Publish blocked for %v", elapsed)
	}

	select {
	case <-deliveries[0].Done():
		t.Fatal("delivery completed before handler returned")
	default:
	}

	close(release)
	for _, d := range deliveries {
		waitDelivery(t, d)
	}
}

// TestPerSubscriberOrdering verifies a subscriber sees one source's events in publication order.
func TestPerSubscriberOrdering(t *testing.T) {
	bus := NewBus(BusConfig{})
	defer bus.Close()

	var mu sync.Mutex
	var seen []int
	_, err := bus.Subscribe("task.*.progress", func(_ context.Context, e Event) error {
		time.Sleep(time.Millisecond)
		mu.Lock()
		seen = append(seen, e.Data.(int))
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	var last *Delivery
	for i := 0; i < 50; i++ {
		last = bus.Publish(Event{Type: "task.a.progress", Source: "a", Data: i})
	}
	waitDelivery(t, last)

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 50 {
		t.Fatalf("expected 50 events, got %d", len(seen))
	}
	for i, v := range seen {
		if v != i {
			t.Fatalf("event %d delivered out of order: got %d", i, v)
		}
	}
}

// TestHandlerErrorIsolated verifies a failing or panicking handler does not affect others.
func TestHandlerErrorIsolated(t *testing.T) {
	bus := NewBus(BusConfig{})
	defer bus.Close()

	var ok atomic.Int32
	_, _ = bus.Subscribe("task.**", func(context.Context, Event) error {
		return errors.New("boom")
	})
	_, _ = bus.Subscribe("task.**", func(context.Context, Event) error {
		panic("handler panic")
	})
	_, _ = bus.Subscribe("task.**", func(context.Context, Event) error {
		ok.Add(1)
		return nil
	})

	d := bus.Publish(Event{Type: "task.1.failed"})
	if d.Matched() != 3 {
		t.Errorf("expected 3 matched subscribers, got %d", d.Matched())
	}
	waitDelivery(t, d)
	waitDelivery(t, bus.Publish(Event{Type: "task.2.failed"}))

	if ok.Load() != 2 {
		t.Errorf("expected healthy handler to run twice, ran %d times", ok.Load())
	}
}

// TestUnsubscribe verifies an unsubscribed handler stops receiving events.
func TestUnsubscribe(t *testing.T) {
	bus := NewBus(BusConfig{})
	defer bus.Close()

	var count atomic.Int32
	sub, err := bus.Subscribe("agent.*.healthy", func(context.Context, Event) error {
		count.Add(1)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	waitDelivery(t, bus.Publish(Event{Type: "agent.a.healthy"}))
	sub.Unsubscribe()
	sub.Unsubscribe()

	d := bus.Publish(Event{Type: "agent.a.healthy"})
	if d.Matched() != 0 {
		t.Errorf("expected no matches after unsubscribe, got %d", d.Matched())
	}

	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("subscription goroutine did not exit")
	}

	if count.Load() != 1 {
		t.Errorf("expected 1 delivery, got %d", count.Load())
	}
	if bus.SubscriberCount() != 0 {
		t.Errorf("expected 0 subscribers, got %d", bus.SubscriberCount())
	}
}

// TestInvalidPattern verifies malformed patterns are rejected.
func TestInvalidPattern(t *testing.T) {
	bus := NewBus(BusConfig{})
	defer bus.Close()

	for _, p := range []string{"", "task..completed", "task.**.completed", "task.comp*"} {
		_, err := bus.Subscribe(p, func(context.Context, Event) error { return nil })
		if !errors.Is(err, ErrInvalidPattern) {
			t.Errorf("Subscribe(%q): expected ErrInvalidPattern, got %v", p, err)
		}
	}
}

// TestCloseDrainsAndClosesChannels verifies Close delivers queued events, then closes channels.
func TestCloseDrainsAndClosesChannels(t *testing.T) {
	bus := NewBus(BusConfig{})

	ch, _, err := bus.SubscribeChan("**", 10)
	if err != nil {
		t.Fatalf("SubscribeChan failed: %v", err)
	}

	bus.Publish(Event{Type: "session.s.started"})
	bus.Close()
	bus.Close() // idempotent

	var received int
	for range ch {
		received++
	}
	if received != 1 {
		t.Errorf("expected 1 drained event, got %d", received)
	}

	if _, err := bus.Subscribe("**", func(context.Context, Event) error { return nil }); !errors.Is(err, ErrBusClosed) {
		t.Errorf("expected ErrBusClosed, got %v", err)
	}

	d := bus.Publish(Event{Type: "session.s.completed"})
	select {
	case <-d.Done():
	default:
		t.Error("publish on closed bus should return a completed delivery")
	}
}

// TestChannelSubscriberDropsWhenFull verifies channel subscribers never block delivery.
func TestChannelSubscriberDropsWhenFull(t *testing.T) {
	bus := NewBus(BusConfig{})
	defer bus.Close()

	ch, _, err := bus.SubscribeChan("task.**", 2)
	if err != nil {
		t.Fatalf("SubscribeChan failed: %v", err)
	}

	var last *Delivery
	for i := 0; i < 5; i++ {
		last = bus.Publish(Event{Type: "task.x.started"})
	}
	waitDelivery(t, last)

	if len(ch) != 2 {
		t.Errorf("expected 2 buffered events, got %d", len(ch))
	}
}

// TestRecentHistory verifies the bus retains recent events.
func TestRecentHistory(t *testing.T) {
	bus := NewBus(BusConfig{HistorySize: 3})
	defer bus.Close()

	for _, typ := range []string{"a.1", "a.2", "a.3", "a.4"} {
		bus.Publish(Event{Type: typ})
	}

	recent := bus.Recent(10)
	if len(recent) != 3 {
		t.Fatalf("expected 3 events, got %d", len(recent))
	}
	if recent[0].Type != "a.2" || recent[2].Type != "a.4" {
		t.Errorf("unexpected history order: %s .. %s", recent[0].Type, recent[2].Type)
	}
	if recent[0].ID == "" || recent[0].Timestamp.IsZero() {
		t.Error("expected publish to fill in ID and timestamp")
	}
}
