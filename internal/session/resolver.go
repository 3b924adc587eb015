package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// revokeTimeout bounds the background revoke fired by SignOut.
const revokeTimeout = 10 * time.Second

// Resolver is the reactive form of Resolve for a long-lived consumer. It
// starts in the resolving state and settles once per Start call.
type Resolver struct {
	provider   Provider
	privileges PrivilegeLookup
	logger     *slog.Logger

	mu       sync.Mutex
	snap     Snapshot
	gen      uint64 // bumped whenever an in-flight resolution becomes stale
	closed   bool
	watchers map[int]chan Snapshot
	nextID   int
}

// NewResolver returns a resolver in the resolving state.
func NewResolver(p Provider, privileges PrivilegeLookup, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		provider:   p,
		privileges: privileges,
		logger:     logger,
		snap:       Snapshot{Resolving: true},
		watchers:   make(map[int]chan Snapshot),
	}
}

// Snapshot returns the current state.
func (r *Resolver) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snap
}

// Start handles a session-start event: it marks the resolver resolving,
// resolves once, and publishes the result. A result that lands after
// SignOut, Close or a newer Start is discarded.
func (r *Resolver) Start(ctx context.Context) Snapshot {
	r.mu.Lock()
	if r.closed {
		s := r.snap
		r.mu.Unlock()
		return s
	}
	r.gen++
	gen := r.gen
	r.setLocked(Snapshot{Resolving: true})
	r.mu.Unlock()

	snap := Resolve(ctx, r.provider, r.privileges, r.logger)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || gen != r.gen {
		return r.snap
	}
	r.setLocked(snap)
	return snap
}

// SignOut resets to the signed-out state before returning and revokes the
// credential in the background. The returned channel receives the revoke
// result; callers are free to ignore it.
func (r *Resolver) SignOut() <-chan error {
	done := make(chan error, 1)

	r.mu.Lock()
	id := r.snap.Identity
	r.gen++
	if !r.closed {
		r.setLocked(Snapshot{})
	}
	r.mu.Unlock()

	if id == nil {
		done <- nil
		return done
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), revokeTimeout)
		defer cancel()
		err := r.provider.Revoke(ctx, id)
		if err != nil {
			r.logger.Warn("session revoke failed", "identity", id.Ref, "error", err)
		}
		done <- err
	}()
	return done
}

// Watch returns a channel that receives the latest snapshot after every
// change. Intermediate values may be skipped when the reader is slow; the
// most recent one is always delivered. The cancel func is idempotent.
func (r *Resolver) Watch() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := r.nextID
	r.nextID++
	r.watchers[id] = ch
	r.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if c, ok := r.watchers[id]; ok {
				delete(r.watchers, id)
				close(c)
			}
		})
	}
}

// Close tears the resolver down. Pending resolutions are discarded and
// watch channels are closed.
func (r *Resolver) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	r.gen++
	for id, c := range r.watchers {
		delete(r.watchers, id)
		close(c)
	}
}

func (r *Resolver) setLocked(s Snapshot) {
	r.snap = s
	for _, c := range r.watchers {
		select {
		case <-c:
		default:
		}
		c <- s
	}
}
