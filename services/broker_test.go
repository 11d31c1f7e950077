package services

import (
	"testing"
	"time"
)

func collectEvents(sub *Subscription, n int, timeout time.Duration) []Event {
	events := make([]Event, 0, n)
	deadline := time.After(timeout)
	for len(events) < n {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-deadline:
			return events
		}
	}
	return events
}

func TestBrokerDeliversToSubscribers(t *testing.T) {
	b := NewBroker()
	sub1 := b.Subscribe("challenge:x")
	sub2 := b.Subscribe("challenge:x")
	other := b.Subscribe("challenge:y")
	defer b.Unsubscribe(sub1)
	defer b.Unsubscribe(sub2)
	defer b.Unsubscribe(other)

	b.Publish("challenge:x", "progress", map[string]interface{}{"question_index": 1})

	for _, sub := range []*Subscription{sub1, sub2} {
		events := collectEvents(sub, 1, time.Second)
		if len(events) != 1 || events[0].Type != "progress" {
			t.Fatalf("subscriber missed the event: %+v", events)
		}
	}
	if got := collectEvents(other, 1, 50*time.Millisecond); len(got) != 0 {
		t.Fatalf("event leaked onto another topic: %+v", got)
	}
}

func TestBrokerReplaysHistoryToLateSubscriber(t *testing.T) {
	b := NewBroker()

	b.Publish("challenge:x", "challenge_accepted", map[string]interface{}{"opponent_id": "opp-1"})
	b.Publish("challenge:x", "progress", map[string]interface{}{"question_index": 0})

	// Subscribing after the fact still observes both events, in order.
	sub := b.Subscribe("challenge:x")
	defer b.Unsubscribe(sub)

	events := collectEvents(sub, 2, time.Second)
	if len(events) != 2 {
		t.Fatalf("expected 2 replayed events, got %d", len(events))
	}
	if events[0].Type != "challenge_accepted" || events[1].Type != "progress" {
		t.Fatalf("replay out of order: %q, %q", events[0].Type, events[1].Type)
	}
	if events[0].Seq >= events[1].Seq {
		t.Fatalf("sequence numbers not monotonic: %d, %d", events[0].Seq, events[1].Seq)
	}
}

func TestBrokerHistoryIsBounded(t *testing.T) {
	b := NewBroker()

	total := historyLimit + 10
	for i := 0; i < total; i++ {
		b.Publish("challenge:x", "progress", map[string]interface{}{"i": i})
	}

	sub := b.Subscribe("challenge:x")
	defer b.Unsubscribe(sub)

	events := collectEvents(sub, total, 200*time.Millisecond)
	if len(events) != historyLimit {
		t.Fatalf("expected %d replayed events, got %d", historyLimit, len(events))
	}
	// The oldest events are the ones that fell off.
	if events[0].Payload["i"] != 10 {
		t.Fatalf("expected replay to start at 10, got %v", events[0].Payload["i"])
	}
}

func TestBrokerDropsWhenSubscriberIsFull(t *testing.T) {
	b := NewBroker()
	sub := b.Subscribe("challenge:x")
	defer b.Unsubscribe(sub)

	// Overfill without draining; the publisher must not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer+20; i++ {
			b.Publish("challenge:x", "progress", map[string]interface{}{"i": i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on a slow subscriber")
	}
}

func TestBrokerUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroker()
	sub := b.Subscribe("challenge:x")
	b.Unsubscribe(sub)

	if _, ok := <-sub.C; ok {
		t.Fatal("channel should be closed after Unsubscribe")
	}
	// Unsubscribing twice must not panic.
	b.Unsubscribe(sub)
}

func TestBrokerDropTopic(t *testing.T) {
	b := NewBroker()
	sub := b.Subscribe("challenge:x")
	b.Publish("challenge:x", "progress", nil)
	b.DropTopic("challenge:x")

	events := collectEvents(sub, 2, 100*time.Millisecond)
	if len(events) > 1 {
		t.Fatalf("expected at most the pre-drop event, got %d", len(events))
	}

	// History is gone for new subscribers.
	late := b.Subscribe("challenge:x")
	defer b.Unsubscribe(late)
	if got := collectEvents(late, 1, 50*time.Millisecond); len(got) != 0 {
		t.Fatalf("history survived DropTopic: %+v", got)
	}
}
