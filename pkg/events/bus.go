// Package events is an in-process publish/subscribe bus for generation
// lifecycle and configuration events.
package events

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Topics published by the server.
const (
	TopicGenerationStarted   = "generation.started"
	TopicGenerationCompleted = "generation.completed"
	TopicGenerationFailed    = "generation.failed"
	TopicConfigReloaded      = "config.reloaded"
)

// DefaultBuffer is the subscription buffer used when none is given.
const DefaultBuffer = 64

// Event is a single published message.
type Event struct {
	ID    string    `json:"id"`
	Topic string    `json:"topic"`
	Time  time.Time `json:"time"`
	Data  any       `json:"data,omitempty"`
}

type subscription struct {
	ch     chan Event
	topics []string
}

func (s *subscription) matches(topic string) bool {
	if len(s.topics) == 0 {
		return true
	}
	for _, t := range s.topics {
		if t == topic {
			return true
		}
		// "generation.*" matches every generation topic
		if prefix, ok := strings.CutSuffix(t, "*"); ok && strings.HasPrefix(topic, prefix) {
			return true
		}
	}
	return false
}

// Bus fans published events out to subscribers. Publish never blocks: an
// event that does not fit a subscriber's buffer is dropped for that
// subscriber and counted.
type Bus struct {
	mu      sync.RWMutex
	subs    map[uint64]*subscription
	nextID  uint64
	closed  bool
	dropped atomic.Uint64
	logger  *zap.Logger
}

// NewBus creates a Bus.
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		subs:   make(map[uint64]*subscription),
		logger: logger,
	}
}

// Subscribe returns a channel receiving events on the given topics (all
// topics when none are given) and a cancel func that closes it. A trailing
// "*" in a topic matches by prefix.
func (b *Bus) Subscribe(buffer int, topics ...string) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	sub := &subscription{ch: make(chan Event, buffer), topics: topics}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.ch)
		return sub.ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = sub

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub.ch)
			}
		})
	}
}

// Publish sends an event to every matching subscriber and returns it.
func (b *Bus) Publish(topic string, data any) Event {
	ev := Event{
		ID:    uuid.NewString(),
		Topic: topic,
		Time:  time.Now().UTC(),
		Data:  data,
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ev
	}
	for _, sub := range b.subs {
		if !sub.matches(topic) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			b.dropped.Add(1)
			b.logger.Debug("dropping event for slow subscriber",
				zap.String("topic", topic),
				zap.String("event_id", ev.ID),
			)
		}
	}
	return ev
}

// Dropped returns how many deliveries were dropped on full buffers.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Subscribers returns the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscription. Later publishes are discarded.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
}
