package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrBusClosed is returned when publishing to or subscribing on a closed bus.
var ErrBusClosed = errors.New("event bus closed")

// MemoryBus is an in-process Publisher and Subscriber, used when NATS is
// not configured. Delivery is synchronous with Publish, so subscribers see
// events in publish order.
type MemoryBus struct {
	mu     sync.Mutex
	subs   map[*memorySub]struct{}
	closed bool
}

type memorySub struct {
	pattern string
	ch      chan []byte
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[*memorySub]struct{})}
}

func (b *MemoryBus) Publish(ctx context.Context, topic string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBusClosed
	}
	for s := range b.subs {
		if !MatchTopic(s.pattern, topic) {
			continue
		}
		select {
		case s.ch <- data:
		default:
			slog.Warn("dropping event for slow subscriber", "topic", topic)
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(topic string) (<-chan []byte, func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, nil, ErrBusClosed
	}
	s := &memorySub{pattern: topic, ch: make(chan []byte, 64)}
	b.subs[s] = struct{}{}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[s]; ok {
				delete(b.subs, s)
				close(s.ch)
			}
		})
	}
	return s.ch, cancel, nil
}

// SubscriberCount returns the number of open subscriptions.
func (b *MemoryBus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close closes every open subscription channel.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for s := range b.subs {
		delete(b.subs, s)
		close(s.ch)
	}
	return nil
}
