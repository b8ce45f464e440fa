package streambus

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nodeai/nodeai/engine/model"
)

// collect drains a subscription until the channel closes or the
// timeout fires.
func collect(t *testing.T, sub *Subscription, timeout time.Duration) []Event {
	t.Helper()
	var events []Event
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-deadline:
			t.Fatalf("Timed out draining subscription after %d events", len(events))
			return events
		}
	}
}

// TestBus_DeliveryOrder tests that events arrive in emission order
func TestBus_DeliveryOrder(t *testing.T) {
	bus := New(MinBuffer)
	sub := bus.Subscribe("exec-1")
	defer sub.Close()

	bus.Publish(NewExecutionStarted("exec-1", "wf-1", model.Now(), 2))
	bus.Publish(NewNodeStarted("exec-1", "a", "work", model.Now(), "span-a"))
	bus.Publish(NewNodeCompleted("exec-1", "a", 5, decimal.Zero, 0, "{}"))
	bus.Publish(NewExecutionCompleted("exec-1", model.ExecutionCompleted, decimal.Zero, 10))
	bus.CloseExecution("exec-1")

	events := collect(t, sub, 2*time.Second)
	want := []EventType{
		EventExecutionStarted,
		EventNodeStarted,
		EventNodeCompleted,
		EventExecutionCompleted,
	}
	if len(events) != len(want) {
		t.Fatalf("Expected %d events, got %d", len(want), len(events))
	}
	for i, typ := range want {
		if events[i].Type != typ {
			t.Errorf("Position %d: expected %s, got %s", i, typ, events[i].Type)
		}
	}
}

// TestBus_MultipleSubscribers tests independent full delivery
func TestBus_MultipleSubscribers(t *testing.T) {
	bus := New(MinBuffer)
	first := bus.Subscribe("exec-1")
	second := bus.Subscribe("exec-1")
	defer first.Close()
	defer second.Close()

	if n := bus.SubscriberCount("exec-1"); n != 2 {
		t.Errorf("Expected 2 subscribers, got %d", n)
	}

	bus.Publish(NewNodeStarted("exec-1", "a", "work", model.Now(), "s"))
	bus.Publish(NewNodeCompleted("exec-1", "a", 1, decimal.Zero, 0, "{}"))
	bus.CloseExecution("exec-1")

	for name, sub := range map[string]*Subscription{"first": first, "second": second} {
		events := collect(t, sub, 2*time.Second)
		if len(events) != 2 {
			t.Errorf("Subscriber %s: expected 2 events, got %d", name, len(events))
		}
	}
}

// TestBus_ExecutionIsolation tests that executions do not cross
func TestBus_ExecutionIsolation(t *testing.T) {
	bus := New(MinBuffer)
	sub := bus.Subscribe("exec-1")
	defer sub.Close()

	bus.Publish(NewNodeStarted("exec-2", "a", "work", model.Now(), "s"))
	bus.Publish(NewNodeStarted("exec-1", "b", "work", model.Now(), "s"))
	bus.CloseExecution("exec-1")
	bus.CloseExecution("exec-2")

	events := collect(t, sub, 2*time.Second)
	if len(events) != 1 || events[0].NodeID != "b" {
		t.Errorf("Expected only exec-1 events, got %v", events)
	}
}

// TestBus_SubscribeAfterClose tests the immediately closed stream
func TestBus_SubscribeAfterClose(t *testing.T) {
	bus := New(MinBuffer)
	bus.Subscribe("exec-1").Close()
	bus.CloseExecution("exec-1")

	sub := bus.Subscribe("exec-1")
	defer sub.Close()

	select {
	case _, ok := <-sub.Events():
		if ok {
			t.Errorf("Expected closed channel, got an event")
		}
	case <-time.After(2 * time.Second):
		t.Errorf("Expected channel to close promptly")
	}
}

// TestBus_PublishAfterClose tests that late publishes are dropped
func TestBus_PublishAfterClose(t *testing.T) {
	bus := New(MinBuffer)
	sub := bus.Subscribe("exec-1")
	bus.CloseExecution("exec-1")

	bus.Publish(NewNodeStarted("exec-1", "late", "work", model.Now(), "s"))

	events := collect(t, sub, 2*time.Second)
	if len(events) != 0 {
		t.Errorf("Expected no events after close, got %v", events)
	}
}

// TestBus_PublishWithoutSubscribers tests the no-op path
func TestBus_PublishWithoutSubscribers(t *testing.T) {
	bus := New(MinBuffer)
	bus.Publish(NewNodeStarted("nobody", "a", "work", model.Now(), "s"))
	if n := bus.SubscriberCount("nobody"); n != 0 {
		t.Errorf("Expected no subscribers, got %d", n)
	}
}

// TestSubscription_DropsStaleProgress tests buffer pressure: progress
// events give way, lifecycle events never do.
func TestSubscription_DropsStaleProgress(t *testing.T) {
	bus := New(MinBuffer)
	sub := bus.Subscribe("exec-1")

	// The subscriber is not reading, so the queue backs up beyond the
	// buffer. One event may escape into the unbuffered out channel via
	// the pump before the backlog forms.
	const progressCount = 3 * MinBuffer
	for i := 0; i < progressCount; i++ {
		bus.Publish(NewNodeProgress("exec-1", "a", float64(i)/progressCount, "working", nil))
	}
	lifecycle := []Event{
		NewNodeStarted("exec-1", "b", "work", model.Now(), "s"),
		NewNodeCompleted("exec-1", "b", 1, decimal.Zero, 0, "{}"),
		NewExecutionCompleted("exec-1", model.ExecutionCompleted, decimal.Zero, 10),
	}
	for _, ev := range lifecycle {
		bus.Publish(ev)
	}
	bus.CloseExecution("exec-1")

	events := collect(t, sub, 5*time.Second)

	progressSeen := 0
	var lifecycleSeen []EventType
	for _, ev := range events {
		if ev.Type == EventNodeProgress {
			progressSeen++
			continue
		}
		lifecycleSeen = append(lifecycleSeen, ev.Type)
	}

	if progressSeen >= progressCount {
		t.Errorf("Expected stale progress to be dropped, got all %d", progressSeen)
	}
	if len(lifecycleSeen) != len(lifecycle) {
		t.Fatalf("Expected every lifecycle event delivered, got %v", lifecycleSeen)
	}
	if lifecycleSeen[0] != EventNodeStarted ||
		lifecycleSeen[1] != EventNodeCompleted ||
		lifecycleSeen[2] != EventExecutionCompleted {
		t.Errorf("Lifecycle order broken: %v", lifecycleSeen)
	}
}

// TestSubscription_Close tests detachment
func TestSubscription_Close(t *testing.T) {
	bus := New(MinBuffer)
	sub := bus.Subscribe("exec-1")

	sub.Close()
	sub.Close() // idempotent

	if n := bus.SubscriberCount("exec-1"); n != 0 {
		t.Errorf("Expected detachment on close, got %d subscribers", n)
	}

	select {
	case _, ok := <-sub.Events():
		if ok {
			t.Errorf("Expected closed events channel")
		}
	case <-time.After(2 * time.Second):
		t.Errorf("Expected events channel to close")
	}
}

// TestEvent_Droppable tests the drop classification
func TestEvent_Droppable(t *testing.T) {
	if !NewNodeProgress("e", "n", 0.5, "", nil).Droppable() {
		t.Errorf("Expected progress to be droppable")
	}
	fixed := []Event{
		NewExecutionStarted("e", "w", model.Now(), 1),
		NewNodeStarted("e", "n", "t", model.Now(), "s"),
		NewNodeCompleted("e", "n", 1, decimal.Zero, 0, ""),
		NewNodeFailed("e", "n", model.KindProviderError, "boom"),
		NewNodeSkipped("e", "n", model.SkipMissingInput),
		NewExecutionCompleted("e", model.ExecutionCompleted, decimal.Zero, 1),
	}
	for _, ev := range fixed {
		if ev.Droppable() {
			t.Errorf("Expected %s to be undroppable", ev.Type)
		}
	}
}

// TestEventPayloads tests the constructor payload shapes
func TestEventPayloads(t *testing.T) {
	started := NewExecutionStarted("e", "wf-9", model.Now(), 4)
	if started.Payload["workflow_id"] != "wf-9" || started.Payload["node_count"] != 4 {
		t.Errorf("Unexpected started payload: %v", started.Payload)
	}

	completed := NewNodeCompleted("e", "n", 12, decimal.RequireFromString("0.01"), 80, "{}")
	if completed.Payload["cost"] != "0.01" || completed.Payload["tokens_total"] != int64(80) {
		t.Errorf("Unexpected completed payload: %v", completed.Payload)
	}

	failed := NewNodeFailed("e", "n", model.KindTimeout, "deadline exceeded")
	if failed.Payload["error_kind"] != "Timeout" {
		t.Errorf("Unexpected failed payload: %v", failed.Payload)
	}

	progress := NewNodeProgress("e", "n", -1, "", "chunk")
	if _, ok := progress.Payload["fraction"]; ok {
		t.Errorf("Expected negative fraction omitted, got %v", progress.Payload)
	}
	if progress.Payload["partial"] != "chunk" {
		t.Errorf("Expected partial chunk, got %v", progress.Payload)
	}
}
