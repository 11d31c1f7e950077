// services/broker.go - In-process broadcast channel service
package services

import (
	"sync"
	"time"

	"quizdash/logger"
)

const (
	// historyLimit bounds the per-topic replay buffer for late subscribers.
	historyLimit = 64
	// subscriberBuffer must hold a full history replay plus live headroom.
	subscriberBuffer = historyLimit + 32
)

// Topic naming helpers. Presence deltas share one global topic; challenge
// and user events get a topic per entity.
const TopicPresence = "presence"

func ChallengeTopic(challengeID string) string {
	return "challenge:" + challengeID
}

func UserTopic(userID string) string {
	return "user:" + userID
}

// Event is one message on a topic. Seq is monotonic per topic.
type Event struct {
	Topic     string                 `json:"topic"`
	Type      string                 `json:"type"`
	Payload   map[string]interface{} `json:"payload"`
	Seq       int64                  `json:"seq"`
	Timestamp time.Time              `json:"timestamp"`
}

// Subscription receives events for a single topic on C. It must be released
// with Broker.Unsubscribe when the owner is done with it.
type Subscription struct {
	C     chan Event
	topic string
	id    uint64
}

// Topic returns the topic this subscription is attached to.
func (s *Subscription) Topic() string {
	return s.topic
}

type topicState struct {
	subs    map[uint64]*Subscription
	history []Event
	seq     int64
}

// Broker is a topic-based publish/subscribe hub. Late subscribers receive the
// topic's recent history before live events, so a reader that subscribes
// after an update was published still observes it. Delivery to a slow
// subscriber is dropped rather than blocking the publisher.
type Broker struct {
	mu     sync.RWMutex
	topics map[string]*topicState
	nextID uint64
}

func NewBroker() *Broker {
	return &Broker{
		topics: make(map[string]*topicState),
	}
}

// Subscribe registers a new subscriber and replays the topic's buffered
// history into its channel before any live delivery.
func (b *Broker) Subscribe(topic string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	ts := b.topics[topic]
	if ts == nil {
		ts = &topicState{subs: make(map[uint64]*Subscription)}
		b.topics[topic] = ts
	}

	b.nextID++
	sub := &Subscription{
		C:     make(chan Event, subscriberBuffer),
		topic: topic,
		id:    b.nextID,
	}
	ts.subs[sub.id] = sub

	// Replay fits: the channel buffer exceeds the history bound.
	for _, ev := range ts.history {
		sub.C <- ev
	}
	return sub
}

// Unsubscribe removes the subscription and closes its channel.
func (b *Broker) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	ts := b.topics[sub.topic]
	if ts == nil {
		return
	}
	if _, ok := ts.subs[sub.id]; !ok {
		return
	}
	delete(ts.subs, sub.id)
	close(sub.C)
	if len(ts.subs) == 0 && len(ts.history) == 0 {
		delete(b.topics, sub.topic)
	}
}

// Publish delivers an event to all current subscribers of the topic and
// appends it to the topic history. Fire-and-forget: a subscriber with a full
// buffer misses the event.
func (b *Broker) Publish(topic, eventType string, payload map[string]interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ts := b.topics[topic]
	if ts == nil {
		ts = &topicState{subs: make(map[uint64]*Subscription)}
		b.topics[topic] = ts
	}

	ts.seq++
	ev := Event{
		Topic:     topic,
		Type:      eventType,
		Payload:   payload,
		Seq:       ts.seq,
		Timestamp: time.Now().UTC(),
	}

	ts.history = append(ts.history, ev)
	if len(ts.history) > historyLimit {
		ts.history = ts.history[len(ts.history)-historyLimit:]
	}

	for _, sub := range ts.subs {
		select {
		case sub.C <- ev:
		default:
			// Drop if subscriber is slow.
			logger.Warn("subscriber buffer full, dropping event", "topic", topic, "type", eventType)
		}
	}
}

// DropTopic discards a topic's history and detaches its subscribers. Used
// when a challenge reaches a terminal state and its topic will see no more
// traffic.
func (b *Broker) DropTopic(topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ts := b.topics[topic]
	if ts == nil {
		return
	}
	for id, sub := range ts.subs {
		delete(ts.subs, id)
		close(sub.C)
	}
	delete(b.topics, topic)
}
