package client

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alfredjeanlab/sitegate/internal/events"
)

const (
	defaultMinBackoff = 500 * time.Millisecond
	defaultMaxBackoff = 30 * time.Second
)

// StreamSubscriber follows a server's availability stream over SSE. It
// implements events.Subscriber, so a remote Broadcaster can run on it, and
// events.ReconnectNotifier: every reconnection after the first connect
// fires the registered callbacks.
type StreamSubscriber struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger

	minBackoff time.Duration
	maxBackoff time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	nextHandler int
	handlers    map[int]func()
}

var (
	_ events.Subscriber        = (*StreamSubscriber)(nil)
	_ events.ReconnectNotifier = (*StreamSubscriber)(nil)
)

// NewStreamSubscriber creates a subscriber for the server at baseURL.
// Nothing connects until Subscribe is called.
func NewStreamSubscriber(baseURL, token string, logger *slog.Logger) *StreamSubscriber {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &StreamSubscriber{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{},
		logger:     logger,
		minBackoff: defaultMinBackoff,
		maxBackoff: defaultMaxBackoff,
		ctx:        ctx,
		cancel:     cancel,
		handlers:   make(map[int]func()),
	}
}

// Subscribe opens a stream filtered to topic and delivers each event's
// data on the returned channel. The stream reconnects with backoff until
// cancel or Close is called, resuming from the last event id it saw.
func (s *StreamSubscriber) Subscribe(topic string) (<-chan []byte, func(), error) {
	if err := s.ctx.Err(); err != nil {
		return nil, nil, fmt.Errorf("stream subscriber closed: %w", err)
	}
	ctx, cancel := context.WithCancel(s.ctx)
	ch := make(chan []byte, 64)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(ch)
		s.follow(ctx, topic, ch)
	}()

	return ch, cancel, nil
}

// follow runs the connect loop for one subscription.
func (s *StreamSubscriber) follow(ctx context.Context, topic string, ch chan<- []byte) {
	var (
		lastID    string
		connected bool
		backoff   = s.minBackoff
	)
	for {
		err := s.stream(ctx, topic, &lastID, ch, func() {
			if connected {
				s.logger.Info("availability stream reconnected", "url", s.baseURL)
				s.fireReconnect()
			}
			connected = true
			backoff = s.minBackoff
		})
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("availability stream interrupted", "url", s.baseURL, "error", err, "retry_in", backoff)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > s.maxBackoff {
			backoff = s.maxBackoff
		}
	}
}

// stream holds one connection open until it fails or ctx ends. onOpen runs
// once the server has accepted the stream.
func (s *StreamSubscriber) stream(ctx context.Context, topic string, lastID *string, ch chan<- []byte, onOpen func()) error {
	path := s.baseURL + "/v1/availability/stream?topics=" + url.QueryEscape(topic)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, path, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	if *lastID != "" {
		req.Header.Set("Last-Event-ID", *lastID)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("opening stream: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &APIError{StatusCode: resp.StatusCode, Message: resp.Status}
	}
	onOpen()

	var (
		data    []string
		frameID string
	)
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if len(data) > 0 {
				payload := []byte(strings.Join(data, "\n"))
				select {
				case ch <- payload:
				case <-ctx.Done():
					return ctx.Err()
				}
				if frameID != "" {
					*lastID = frameID
				}
			}
			data, frameID = data[:0], ""
		case strings.HasPrefix(line, ":"):
			// keepalive
		default:
			field, value, _ := strings.Cut(line, ":")
			value = strings.TrimPrefix(value, " ")
			switch field {
			case "id":
				if _, err := strconv.ParseUint(value, 10, 64); err == nil {
					frameID = value
				}
			case "data":
				data = append(data, value)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading stream: %w", err)
	}
	return fmt.Errorf("stream closed by server")
}

// OnReconnect registers fn to run after every reconnection.
func (s *StreamSubscriber) OnReconnect(fn func()) func() {
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

func (s *StreamSubscriber) fireReconnect() {
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

// Close ends every subscription and waits for their channels to close.
func (s *StreamSubscriber) Close() error {
	s.cancel()
	s.wg.Wait()
	return nil
}
