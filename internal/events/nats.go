package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	// subscriberBuffer is the per-subscription channel depth.
	subscriberBuffer = 64

	// publishFlushTimeout bounds the flush after a publish when the caller's
	// context carries no deadline.
	publishFlushTimeout = 2 * time.Second
)

// NATSPublisher publishes events to NATS subjects as JSON.
type NATSPublisher struct {
	conn *nats.Conn
}

func NewNATSPublisher(url string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url, nats.Name("sitegate-publisher"))
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return &NATSPublisher{conn: nc}, nil
}

// Publish sends event and flushes, so a nil error means the server has the
// message.
func (p *NATSPublisher) Publish(ctx context.Context, topic string, event any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	if err := p.conn.Publish(topic, data); err != nil {
		return fmt.Errorf("publishing %s: %w", topic, err)
	}
	if _, ok := ctx.Deadline(); ok {
		err = p.conn.FlushWithContext(ctx)
	} else {
		err = p.conn.FlushTimeout(publishFlushTimeout)
	}
	if err != nil {
		return fmt.Errorf("flushing %s: %w", topic, err)
	}
	return nil
}

func (p *NATSPublisher) Close() error {
	p.conn.Close()
	return nil
}

// NATSSubscriber delivers events from NATS subjects. Reconnect callbacks
// fire after the connection comes back and also after a slow consumer
// dropped a message, since in both cases pushes were lost.
type NATSSubscriber struct {
	conn   *nats.Conn
	logger *slog.Logger

	mu          sync.Mutex
	nextHandler int
	handlers    map[int]func()

	resyncPending atomic.Bool
}

// NewNATSSubscriber connects with unlimited reconnects. opts are applied
// after the defaults; a caller's reconnect handler still runs before the
// registered callbacks.
func NewNATSSubscriber(url string, opts ...nats.Option) (*NATSSubscriber, error) {
	defaults := []nats.Option{
		nats.Name("sitegate-subscriber"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	}
	nc, err := nats.Connect(url, append(defaults, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	s := &NATSSubscriber{conn: nc, logger: slog.Default(), handlers: make(map[int]func())}

	prev := nc.Opts.ReconnectedCB
	nc.SetReconnectHandler(func(c *nats.Conn) {
		if prev != nil {
			prev(c)
		}
		s.logger.Info("events: NATS reconnected", "url", c.ConnectedUrl())
		s.fireReconnect()
	})
	return s, nil
}

// SetLogger replaces the default logger.
func (s *NATSSubscriber) SetLogger(l *slog.Logger) {
	if l != nil {
		s.logger = l
	}
}

// Subscribe delivers payloads for topic, which may use NATS wildcards such
// as "site.>". The cancel func unsubscribes and closes the channel; it is
// safe to call more than once.
func (s *NATSSubscriber) Subscribe(topic string) (<-chan []byte, func(), error) {
	ch := make(chan []byte, subscriberBuffer)

	var (
		mu     sync.Mutex
		closed bool
		once   sync.Once
	)
	sub, err := s.conn.Subscribe(topic, func(msg *nats.Msg) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- msg.Data:
		default:
			s.logger.Warn("events: dropping event for slow subscriber", "topic", msg.Subject)
			s.scheduleResync()
		}
	})
	if err != nil {
		close(ch)
		return nil, nil, fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	// The subscription must reach the server before we return or a
	// publish from another connection can race past it.
	if err := s.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		close(ch)
		return nil, nil, fmt.Errorf("flushing subscription: %w", err)
	}

	cancel := func() {
		once.Do(func() {
			_ = sub.Unsubscribe()
			mu.Lock()
			closed = true
			mu.Unlock()
			for {
				select {
				case <-ch:
				default:
					close(ch)
					return
				}
			}
		})
	}
	return ch, cancel, nil
}

// scheduleResync fires the callbacks once per burst of drops. It runs
// outside the NATS message handler so a callback may block.
func (s *NATSSubscriber) scheduleResync() {
	if !s.resyncPending.CompareAndSwap(false, true) {
		return
	}
	go func() {
		s.resyncPending.Store(false)
		s.fireReconnect()
	}()
}

// OnReconnect registers fn and returns a func that unregisters it.
func (s *NATSSubscriber) OnReconnect(fn func()) func() {
	s.mu.Lock()
	id := s.nextHandler
	s.nextHandler++
	s.handlers[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.handlers, id)
			s.mu.Unlock()
		})
	}
}

func (s *NATSSubscriber) fireReconnect() {
	s.mu.Lock()
	fns := make([]func(), 0, len(s.handlers))
	for _, fn := range s.handlers {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (s *NATSSubscriber) Close() error {
	s.conn.Close()
	return nil
}
