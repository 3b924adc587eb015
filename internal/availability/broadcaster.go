// Package availability holds the shared "site unavailable" flag and keeps
// it current from pushed updates of the singleton site status row.
package availability

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/alfredjeanlab/sitegate/internal/authz"
	"github.com/alfredjeanlab/sitegate/internal/events"
	"github.com/alfredjeanlab/sitegate/internal/metrics"
	"github.com/alfredjeanlab/sitegate/internal/model"
)

// refreshTimeout bounds the refetch issued after the push channel reconnects.
const refreshTimeout = 10 * time.Second

// Store is the singleton record store.
type Store interface {
	GetSingleton(ctx context.Context) (*model.SiteStatus, error)
	UpdateSingleton(ctx context.Context, id string, fields model.StatusFields) (*model.SiteStatus, error)
}

// Reader is the read side consumed by page rendering.
type Reader interface {
	Read() model.Availability
}

// Broadcaster is one consumer's view of site availability. Read never
// blocks and returns the fail-open default until the first fetch lands.
type Broadcaster struct {
	store  Store
	feed   events.Subscriber
	logger *slog.Logger

	// deliverMu serializes state changes with their callbacks so
	// subscribers observe changes in the order they were applied.
	deliverMu sync.Mutex

	mu      sync.Mutex
	state   model.Availability
	loaded  bool
	closed  bool
	started bool
	subs    []*Subscription

	idMu        sync.Mutex
	singletonID string

	cancelFeed      func()
	cancelReconnect func()
	loopDone        chan struct{}
}

// New returns a broadcaster over st that listens for pushes on feed. A nil
// feed disables push; the value then changes only through Update and
// Refresh.
func New(st Store, feed events.Subscriber, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{store: st, feed: feed, logger: logger}
}

// Start subscribes to pushed updates and then fetches the current row.
// Subscribing first means no commit between the fetch and the
// subscription is missed. A failed fetch leaves the fail-open default in
// place and is only logged; Start fails only when the subscription does.
func (b *Broadcaster) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	if b.started {
		b.mu.Unlock()
		return nil
	}
	b.started = true
	b.mu.Unlock()

	if b.feed != nil {
		ch, cancel, err := b.feed.Subscribe(events.TopicStatusUpdated)
		if err != nil {
			return err
		}
		done := make(chan struct{})
		var cancelReconnect func()
		if rn, ok := b.feed.(events.ReconnectNotifier); ok {
			cancelReconnect = rn.OnReconnect(b.resync)
		}

		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			if cancelReconnect != nil {
				cancelReconnect()
			}
			cancel()
			return ErrClosed
		}
		b.cancelFeed = cancel
		b.cancelReconnect = cancelReconnect
		b.loopDone = done
		b.mu.Unlock()

		go b.loop(ch, done)
	}

	if err := b.Refresh(ctx); err != nil {
		b.logger.Error("initial availability fetch failed; serving default", "error", err)
	}
	return nil
}

// Refresh fetches the singleton and applies it. The fetched row wins over
// the current value unless that value carries a newer version.
func (b *Broadcaster) Refresh(ctx context.Context) error {
	st, err := b.store.GetSingleton(ctx)
	if err != nil {
		if errors.Is(err, ErrSingletonMissing) || errors.Is(err, ErrSingletonDuplicate) {
			b.forgetID()
		}
		return err
	}
	b.rememberID(st.ID)
	b.apply(st.Availability(), "fetch")
	return nil
}

// Read returns the most recently observed availability.
func (b *Broadcaster) Read() model.Availability {
	b.mu.Lock()
	defer b.mu.Unlock()
	return cloneAvailability(b.state)
}

// Status returns the observed value as a row of the singleton. ID is
// empty until the row has been fetched.
func (b *Broadcaster) Status() *model.SiteStatus {
	a := b.Read()
	return &model.SiteStatus{
		ID:          b.cachedID(),
		Unavailable: a.Unavailable,
		Message:     a.Message,
		LastUpdated: a.LastUpdated,
	}
}

// Update writes the singleton and applies the committed row locally
// before returning, so the caller's next Read reflects it without waiting
// for the push. The push for the same write is then a no-op. An empty
// message is stored as no message.
func (b *Broadcaster) Update(ctx context.Context, unavailable bool, message *string) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrClosed
	}

	fields := model.StatusFields{Unavailable: unavailable}
	if message != nil && *message != "" {
		fields.Message = model.CloneString(message)
	}
	if err := model.ValidateStatusFields(fields); err != nil {
		return err
	}

	id, err := b.lookupID(ctx)
	if err != nil {
		return b.updateFailed(err)
	}

	row, err := b.store.UpdateSingleton(ctx, id, fields)
	if err != nil {
		if errors.Is(err, ErrSingletonMissing) {
			b.forgetID()
		}
		return b.updateFailed(err)
	}

	metrics.AvailabilityUpdates.WithLabelValues("ok").Inc()
	b.logger.Info("availability updated",
		"unavailable", row.Unavailable,
		"has_message", row.Message != nil,
		"actor", authz.ActorFromContext(ctx),
	)
	b.apply(row.Availability(), "local")
	return nil
}

// updateFailed classifies err for the caller and the metrics.
func (b *Broadcaster) updateFailed(err error) error {
	switch {
	case errors.Is(err, ErrSingletonMissing):
		metrics.AvailabilityUpdates.WithLabelValues("missing").Inc()
		b.logger.Error("site status singleton missing")
		return err
	case errors.Is(err, ErrSingletonDuplicate):
		metrics.AvailabilityUpdates.WithLabelValues("duplicate").Inc()
		b.logger.Error("site status singleton duplicated")
		return err
	case errors.Is(err, authz.ErrForbidden):
		metrics.AvailabilityUpdates.WithLabelValues("forbidden").Inc()
		return err
	}
	metrics.AvailabilityUpdates.WithLabelValues("write_failure").Inc()
	return &WriteError{Err: err}
}

// lookupID returns the cached singleton id, fetching it on first use.
func (b *Broadcaster) lookupID(ctx context.Context) (string, error) {
	b.idMu.Lock()
	defer b.idMu.Unlock()
	if b.singletonID != "" {
		return b.singletonID, nil
	}
	st, err := b.store.GetSingleton(ctx)
	if err != nil {
		return "", err
	}
	b.singletonID = st.ID
	return st.ID, nil
}

func (b *Broadcaster) rememberID(id string) {
	b.idMu.Lock()
	b.singletonID = id
	b.idMu.Unlock()
}

func (b *Broadcaster) forgetID() {
	b.idMu.Lock()
	b.singletonID = ""
	b.idMu.Unlock()
}

func (b *Broadcaster) cachedID() string {
	b.idMu.Lock()
	defer b.idMu.Unlock()
	return b.singletonID
}

// Subscribe registers cb for every distinct change of the value. Callbacks
// run synchronously in apply order and must not call Update or Refresh.
func (b *Broadcaster) Subscribe(cb func(model.Availability)) *Subscription {
	s := &Subscription{b: b, cb: cb}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		s.closed = true
		return s
	}
	b.subs = append(b.subs, s)
	return s
}

// Subscription is a registered callback.
type Subscription struct {
	b      *Broadcaster
	cb     func(model.Availability)
	closed bool // guarded by b.mu
}

// Close unregisters the callback. It is safe to call more than once and
// before anything was delivered.
func (s *Subscription) Close() {
	b := s.b
	b.mu.Lock()
	defer b.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for i, other := range b.subs {
		if other == s {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			break
		}
	}
}

// Close stops the push subscription and drops every callback. Pushes that
// arrive afterwards are discarded.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for _, s := range b.subs {
		s.closed = true
	}
	b.subs = nil
	cancelFeed, cancelReconnect, done := b.cancelFeed, b.cancelReconnect, b.loopDone
	b.mu.Unlock()

	if cancelReconnect != nil {
		cancelReconnect()
	}
	if cancelFeed != nil {
		cancelFeed()
	}
	if done != nil {
		<-done
	}
}

func (b *Broadcaster) loop(ch <-chan []byte, done chan struct{}) {
	defer close(done)
	for data := range ch {
		var ev events.StatusUpdated
		if err := json.Unmarshal(data, &ev); err != nil || ev.Status == nil {
			metrics.AvailabilityPushes.WithLabelValues("malformed").Inc()
			b.logger.Warn("ignoring malformed status push", "error", err)
			continue
		}
		id := b.cachedID()
		if id != "" && ev.Status.ID != id {
			metrics.AvailabilityPushes.WithLabelValues("malformed").Inc()
			b.logger.Error("push for a second site status row", "id", ev.Status.ID, "singleton", id)
			continue
		}
		if id == "" && ev.Status.ID != "" {
			b.rememberID(ev.Status.ID)
		}
		b.apply(ev.Status.Availability(), "push")
	}
}

// resync refetches after the push channel reconnects, since commits made
// while it was down were never delivered.
func (b *Broadcaster) resync() {
	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()
	if err := b.Refresh(ctx); err != nil {
		b.logger.Warn("availability resync after reconnect failed", "error", err)
	}
}

// stale reports whether next lost the commit race against cur. A fetch
// reads the store itself, so only a lower version can outrank it; the
// timestamp, taken when the writing transaction ran, does not.
func stale(next, cur model.Availability, source string) bool {
	if source == "fetch" {
		return next.Version != 0 && cur.Version != 0 && next.Version < cur.Version
	}
	return next.OlderThan(cur)
}

// apply folds an observed row into the state. Older rows are ignored and
// rows carrying the current value only advance the timestamp, so each
// distinct change notifies subscribers once.
func (b *Broadcaster) apply(next model.Availability, source string) {
	b.deliverMu.Lock()
	defer b.deliverMu.Unlock()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	cur := b.state
	if b.loaded && stale(next, cur, source) {
		b.mu.Unlock()
		metrics.AvailabilityPushes.WithLabelValues("stale").Inc()
		b.logger.Debug("ignoring stale availability", "source", source)
		return
	}
	changed := !next.SameValue(cur)
	b.loaded = true
	if !changed {
		if next.Version > cur.Version {
			b.state.Version = next.Version
		}
		if next.LastUpdated.After(cur.LastUpdated) {
			b.state.LastUpdated = next.LastUpdated
		}
		b.mu.Unlock()
		if source == "push" {
			metrics.AvailabilityPushes.WithLabelValues("duplicate").Inc()
		}
		return
	}
	b.state = cloneAvailability(next)
	subs := make([]*Subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	if source == "push" {
		metrics.AvailabilityPushes.WithLabelValues("applied").Inc()
	}
	metrics.SetUnavailable(next.Unavailable)

	for _, s := range subs {
		b.mu.Lock()
		live := !s.closed
		b.mu.Unlock()
		if live {
			s.cb(cloneAvailability(next))
		}
	}
}

func cloneAvailability(a model.Availability) model.Availability {
	a.Message = model.CloneString(a.Message)
	return a
}
