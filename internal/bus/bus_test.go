package bus

import (
	"fmt"
	"testing"
	"time"
)

func newRunningHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub()
	go h.Run()
	t.Cleanup(h.Stop)
	return h
}

func receive(t *testing.T, sub *Subscriber) Event {
	t.Helper()
	select {
	case event, ok := <-sub.C():
		if !ok {
			t.Fatal("subscriber channel closed unexpectedly")
		}
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func expectNoEvent(t *testing.T, sub *Subscriber) {
	t.Helper()
	select {
	case event, ok := <-sub.C():
		if ok {
			t.Fatalf("unexpected event: %+v", event)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishReachesSubscribers(t *testing.T) {
	h := newRunningHub(t)

	sub := h.NewSubscriber()
	h.Subscribe(sub, "projects")

	h.Publish("projects", "project_updated", map[string]any{"id": "p1"})

	event := receive(t, sub)
	if event.Type != "project_updated" || event.Topic != "projects" {
		t.Fatalf("unexpected event: %+v", event)
	}
	if event.Data["id"] != "p1" {
		t.Fatalf("unexpected data: %+v", event.Data)
	}
}

func TestPublishDoesNotCrossTopics(t *testing.T) {
	h := newRunningHub(t)

	sub := h.NewSubscriber()
	h.Subscribe(sub, "risks")

	h.Publish("projects", "project_updated", nil)

	expectNoEvent(t, sub)
}

// A subscriber joining after a publish receives the backlog, even when
// nobody was subscribed at publish time.
func TestLateSubscriberReceivesReplay(t *testing.T) {
	h := newRunningHub(t)

	h.Publish("risks", "risk_created", map[string]any{"risk_id": float64(7)})

	sub := h.NewSubscriber()
	h.Subscribe(sub, "risks")

	event := receive(t, sub)
	if event.Type != "risk_created" {
		t.Fatalf("expected risk_created replay, got %+v", event)
	}
	if event.Data["risk_id"] != float64(7) {
		t.Fatalf("unexpected data: %+v", event.Data)
	}
}

func TestReplayIsLastTenInPublishOrder(t *testing.T) {
	h := newRunningHub(t)

	for i := 0; i < 25; i++ {
		h.Publish("tasks", "task_updated", map[string]any{"seq": i})
	}

	sub := h.NewSubscriber()
	h.Subscribe(sub, "tasks")

	for want := 15; want < 25; want++ {
		event := receive(t, sub)
		if event.Data["seq"] != want {
			t.Fatalf("replay out of order: got seq %v, want %d", event.Data["seq"], want)
		}
	}
	expectNoEvent(t, sub)
}

func TestBacklogRetainsAtMostFifty(t *testing.T) {
	h := newRunningHub(t)

	for i := 0; i < 75; i++ {
		h.Publish("backlog", "item_updated", map[string]any{"seq": i})
	}

	sub := h.NewSubscriber()
	h.Subscribe(sub, "backlog")

	// The replay window is the tail of the retained 50: events 65..74.
	first := receive(t, sub)
	if first.Data["seq"] != 65 {
		t.Fatalf("first replayed seq = %v, want 65", first.Data["seq"])
	}
}

func TestSubscribersObserveSameOrder(t *testing.T) {
	h := newRunningHub(t)

	first := h.NewSubscriber()
	second := h.NewSubscriber()
	h.Subscribe(first, "projects")
	h.Subscribe(second, "projects")

	for i := 0; i < 5; i++ {
		h.Publish("projects", "project_updated", map[string]any{"seq": i})
	}

	for want := 0; want < 5; want++ {
		a := receive(t, first)
		b := receive(t, second)
		if a.Data["seq"] != want || b.Data["seq"] != want {
			t.Fatalf("order diverged at %d: first=%v second=%v", want, a.Data["seq"], b.Data["seq"])
		}
	}
}

func TestSlowSubscriberIsDroppedNotWaitedOn(t *testing.T) {
	h := newRunningHub(t)

	slow := h.NewSubscriber()
	h.Subscribe(slow, "projects")

	// Never drain slow; overflow its buffer. The publisher must not
	// block on it.
	published := sendBuffer + 5
	done := make(chan struct{})
	go func() {
		for i := 0; i < published; i++ {
			h.Publish("projects", "project_updated", map[string]any{"seq": i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked by slow subscriber")
	}

	// The slow subscriber's channel ends closed after its buffer.
	drained := 0
	for range slow.C() {
		drained++
	}
	if drained != sendBuffer {
		t.Fatalf("slow subscriber drained %d, want %d buffered before drop", drained, sendBuffer)
	}
}

// A subscriber whose buffer fills up mid-replay is dropped at that
// point; the remaining replay must not touch its closed channel.
func TestSlowSubscriberDroppedDuringReplay(t *testing.T) {
	h := newRunningHub(t)

	sub := h.NewSubscriber()
	h.Subscribe(sub, "projects")

	// Half-fill the buffer without draining, then stage a full replay
	// window on another topic.
	backlogged := sendBuffer / 2
	for i := 0; i < backlogged; i++ {
		h.Publish("projects", "project_updated", map[string]any{"seq": i})
	}
	for i := 0; i < replayEvents; i++ {
		h.Publish("tasks", "task_updated", map[string]any{"seq": i})
	}

	// Replay overflows the remaining buffer and drops the subscriber.
	// The hub must keep running afterwards.
	h.Subscribe(sub, "tasks")

	drained := 0
	for range sub.C() {
		drained++
	}
	if drained != sendBuffer {
		t.Fatalf("drained %d events, want %d buffered before drop", drained, sendBuffer)
	}

	// A fresh subscriber still gets served, proving the hub survived.
	fresh := h.NewSubscriber()
	h.Subscribe(fresh, "tasks")
	event := receive(t, fresh)
	if event.Type != "task_updated" {
		t.Fatalf("hub stopped serving after drop: %+v", event)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	h := newRunningHub(t)

	sub := h.NewSubscriber()
	h.Subscribe(sub, "projects")

	h.Close(sub)
	h.Close(sub)

	// A publish after close goes nowhere.
	h.Publish("projects", "project_updated", nil)

	for range sub.C() {
		t.Fatal("received event after close")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	h := newRunningHub(t)

	sub := h.NewSubscriber()
	h.Subscribe(sub, "resources")
	h.Unsubscribe(sub, "resources")

	h.Publish("resources", "resource_updated", nil)

	expectNoEvent(t, sub)
}

func TestManyTopicsStayIndependent(t *testing.T) {
	h := newRunningHub(t)

	subs := make(map[string]*Subscriber)
	for i := 0; i < 5; i++ {
		topic := fmt.Sprintf("topic-%d", i)
		sub := h.NewSubscriber()
		h.Subscribe(sub, topic)
		subs[topic] = sub
	}

	for topic := range subs {
		h.Publish(topic, "ping", map[string]any{"topic": topic})
	}

	for topic, sub := range subs {
		event := receive(t, sub)
		if event.Topic != topic {
			t.Fatalf("subscriber for %s got event for %s", topic, event.Topic)
		}
	}
}
