package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alfredjeanlab/sitegate/internal/events"
	"github.com/alfredjeanlab/sitegate/internal/idgen"
	"github.com/alfredjeanlab/sitegate/internal/metrics"
	"github.com/alfredjeanlab/sitegate/internal/model"
	"github.com/alfredjeanlab/sitegate/internal/presence"
	"github.com/alfredjeanlab/sitegate/internal/privilege"
)

const (
	// sseReplayDepth is how many recent events a reconnecting client can
	// resume across with Last-Event-ID.
	sseReplayDepth = 256

	// sseClientBuffer is the per-connection queue. A client that falls this
	// far behind is disconnected and resumes through replay.
	sseClientBuffer = 64

	sseKeepaliveInterval = 15 * time.Second

	// sseRetryMillis is the reconnect delay suggested to browsers.
	sseRetryMillis = 3000
)

type sseEvent struct {
	ID    uint64
	Topic string
	Data  []byte // JSON
}

// replayRing keeps the last sseReplayDepth events in id order.
type replayRing struct {
	buf  []sseEvent
	head int // index of the oldest event once full
}

func (r *replayRing) push(evt sseEvent) {
	if len(r.buf) < sseReplayDepth {
		r.buf = append(r.buf, evt)
		return
	}
	r.buf[r.head] = evt
	r.head = (r.head + 1) % sseReplayDepth
}

// since returns the buffered events with an id above lastID, oldest first.
func (r *replayRing) since(lastID uint64) []*sseEvent {
	var out []*sseEvent
	for i := range len(r.buf) {
		evt := &r.buf[(r.head+i)%len(r.buf)]
		if evt.ID > lastID {
			out = append(out, evt)
		}
	}
	return out
}

// sseHub fans availability changes and content edits out to the open
// streams of this instance.
type sseHub struct {
	mu      sync.Mutex
	seq     uint64
	ring    replayRing
	clients map[*sseClient]struct{}
}

type sseClient struct {
	topics []string // empty matches every topic
	tier   model.Tier
	ch     chan *sseEvent

	// lagged closes when an event could not be queued.
	lagged  chan struct{}
	lagOnce sync.Once
}

func newSSEHub() *sseHub {
	return &sseHub{clients: make(map[*sseClient]struct{})}
}

// broadcast assigns the next id, records the event for replay and queues it
// for every matching client. Ids are assigned under the lock so replay and
// live delivery agree on order.
func (h *sseHub) broadcast(topic string, payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seq++
	evt := sseEvent{ID: h.seq, Topic: topic, Data: payload}
	h.ring.push(evt)

	for c := range h.clients {
		if !c.matchesTopic(topic) {
			continue
		}
		select {
		case c.ch <- &evt:
		default:
			c.lagOnce.Do(func() { close(c.lagged) })
		}
	}
}

// subscribe registers a client for topics. Events above tier are never
// delivered, whatever the patterns match.
func (h *sseHub) subscribe(topics []string, tier model.Tier) *sseClient {
	c := &sseClient{
		topics: topics,
		tier:   tier,
		ch:     make(chan *sseEvent, sseClientBuffer),
		lagged: make(chan struct{}),
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

func (h *sseHub) unsubscribe(c *sseClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// eventsSince returns the buffered events after lastID, oldest first.
func (h *sseHub) eventsSince(lastID uint64) []*sseEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ring.since(lastID)
}

// lastID returns the id of the most recent broadcast, or 0.
func (h *sseHub) lastID() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.seq
}

// canReplay reports whether every event after lastID is still buffered.
// An id from before a restart or older than the buffer cannot be replayed.
func (h *sseHub) canReplay(lastID uint64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return lastID <= h.seq && h.seq-lastID <= uint64(len(h.ring.buf))
}

// streamVisible reports whether a stream held at tier may receive topic.
// Status changes are public; edits need an editor and everything else,
// session revocations included, needs an admin.
func streamVisible(tier model.Tier, topic string) bool {
	switch topic {
	case events.TopicStatusUpdated:
		return true
	case events.TopicContentUpdated:
		return privilege.Satisfies(tier, model.TierEditor)
	}
	return privilege.Satisfies(tier, model.TierAdmin)
}

func (c *sseClient) matchesTopic(topic string) bool {
	if !streamVisible(c.tier, topic) {
		return false
	}
	if len(c.topics) == 0 {
		return true
	}
	for _, pattern := range c.topics {
		if events.MatchTopic(pattern, topic) {
			return true
		}
	}
	return false
}

// handleAvailabilityStream handles GET /v1/availability/stream (SSE
// endpoint). A fresh connection first receives the current status; a
// reconnect carrying a replayable Last-Event-ID gets the missed events
// instead. Only status events are sent unless topics asks for more, and
// other topics reach only signed-in callers whose tier allows them.
func (s *SiteServer) handleAvailabilityStream(w http.ResponseWriter, r *http.Request) {
	// Ensure response supports flushing (required for SSE).
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	topics := []string{events.TopicStatusUpdated}
	if q := r.URL.Query().Get("topics"); q != "" {
		topics = topics[:0]
		for _, t := range strings.Split(q, ",") {
			t = strings.TrimSpace(t)
			if t != "" {
				topics = append(topics, t)
			}
		}
	}

	viewerID, err := idgen.New(idgen.KindViewer)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	snap := s.sessions.ResolveRequest(r)
	viewer := presence.Viewer{
		ID:         viewerID,
		Tier:       snap.Tier(),
		RemoteAddr: r.RemoteAddr,
		UserAgent:  r.UserAgent(),
	}
	if snap.Identity != nil {
		viewer.IdentityRef = snap.Identity.Ref
	}

	// Subscribe before reading the current status so nothing between the
	// two is lost.
	client := s.sseHub.subscribe(topics, snap.Tier())
	defer s.sseHub.unsubscribe(client)
	s.Presence.Connect(viewer)
	defer s.Presence.Disconnect(viewerID)
	metrics.StreamClients.Inc()
	defer metrics.StreamClients.Dec()

	// Set SSE headers.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering.
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "retry:%d\n\n", sseRetryMillis)

	// replayedTo is the last id written from the replay buffer; queued
	// events up to it are duplicates.
	var replayedTo uint64
	replayed := false
	if lastIDStr := r.Header.Get("Last-Event-ID"); lastIDStr != "" {
		if lastID, err := strconv.ParseUint(lastIDStr, 10, 64); err == nil && s.sseHub.canReplay(lastID) {
			replayedTo = lastID
			for _, evt := range s.sseHub.eventsSince(lastID) {
				if client.matchesTopic(evt.Topic) {
					writeSSEEvent(w, evt)
				}
				replayedTo = evt.ID
			}
			replayed = true
		}
	}
	if !replayed && client.matchesTopic(events.TopicStatusUpdated) {
		payload, err := json.Marshal(events.StatusUpdated{Status: s.Availability.Status()})
		if err == nil {
			writeSSEEvent(w, &sseEvent{ID: s.sseHub.lastID(), Topic: events.TopicStatusUpdated, Data: payload})
			s.Presence.Touch(viewerID, true)
		}
	}
	flusher.Flush()

	// Stream events until client disconnects.
	ctx := r.Context()
	keepalive := time.NewTicker(sseKeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-client.lagged:
			// The client resumes from its last id through replay.
			s.logger.Warn("closing lagging event stream", "viewer", viewerID)
			return
		case evt := <-client.ch:
			if evt.ID <= replayedTo {
				continue
			}
			writeSSEEvent(w, evt)
			flusher.Flush()
			s.Presence.Touch(viewerID, true)
		case <-keepalive.C:
			fmt.Fprintf(w, ":keepalive\n\n")
			flusher.Flush()
			s.Presence.Touch(viewerID, false)
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, evt *sseEvent) {
	fmt.Fprintf(w, "id:%d\n", evt.ID)
	fmt.Fprintf(w, "event:%s\n", evt.Topic)
	fmt.Fprintf(w, "data:%s\n\n", evt.Data)
}

// broadcastEvent fans an event out to SSE clients.
func (s *SiteServer) broadcastEvent(topic string, event any) {
	if s.sseHub == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.Warn("failed to marshal event for SSE broadcast", "topic", topic, "error", err)
		return
	}
	s.sseHub.broadcast(topic, payload)
}
