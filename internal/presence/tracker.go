// Package presence keeps the roster of open availability streams: every
// browser tab or watch process currently following the site status.
//
// The server records a viewer when a stream opens, touches it on every
// write and keepalive, and removes it when the stream closes. A reaper
// flags viewers whose keepalives stopped, such as a dropped connection the
// server has not noticed yet, and evicts them later.
package presence

import (
	"cmp"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/alfredjeanlab/sitegate/internal/model"
)

// Entry is a snapshot of one viewer.
type Entry struct {
	ViewerID     string     `json:"viewer_id"`
	IdentityRef  string     `json:"identity_ref,omitempty"` // empty for anonymous visitors
	Tier         model.Tier `json:"tier,omitempty"`
	RemoteAddr   string     `json:"remote_addr,omitempty"`
	UserAgent    string     `json:"user_agent,omitempty"`
	ConnectedAt  time.Time  `json:"connected_at"`
	LastSeen     time.Time  `json:"last_seen"`
	IdleSecs     float64    `json:"idle_secs"`
	Deliveries   int64      `json:"deliveries"` // availability events written to the stream
	DurationSecs float64    `json:"duration_secs"`
	Reaped       bool       `json:"reaped,omitempty"`
	ReapedAt     time.Time  `json:"reaped_at,omitempty"`
}

// Viewer describes a stream when it opens.
type Viewer struct {
	ID          string
	IdentityRef string
	Tier        model.Tier
	RemoteAddr  string
	UserAgent   string
}

// ReaperConfig tunes the reaper. Zero fields take the defaults below.
type ReaperConfig struct {
	DeadThreshold time.Duration // silence before a viewer is flagged; 15m
	EvictAfter    time.Duration // how long a flagged viewer stays listed; 30m
	SweepInterval time.Duration // 1m

	// OnDead runs outside the lock once per viewer newly flagged.
	OnDead func(viewerID, identityRef string)
}

func (c ReaperConfig) withDefaults() ReaperConfig {
	c.DeadThreshold = cmp.Or(c.DeadThreshold, 15*time.Minute)
	c.EvictAfter = cmp.Or(c.EvictAfter, 30*time.Minute)
	c.SweepInterval = cmp.Or(c.SweepInterval, time.Minute)
	return c
}

// Tracker is the in-memory viewer roster. It is safe for concurrent use.
type Tracker struct {
	logger *slog.Logger
	now    func() time.Time

	mu      sync.RWMutex
	viewers map[string]*Entry

	reaperMu   sync.Mutex
	reaperStop chan struct{}
	reaperDone chan struct{}
}

// New returns an empty tracker. A nil logger uses slog.Default().
func New(logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		logger:  logger,
		now:     time.Now,
		viewers: make(map[string]*Entry),
	}
}

// Connect records a newly opened stream. Viewers without an ID are ignored.
func (t *Tracker) Connect(v Viewer) {
	if v.ID == "" {
		return
	}
	now := t.now()
	t.mu.Lock()
	t.viewers[v.ID] = &Entry{
		ViewerID:    v.ID,
		IdentityRef: v.IdentityRef,
		Tier:        v.Tier,
		RemoteAddr:  v.RemoteAddr,
		UserAgent:   v.UserAgent,
		ConnectedAt: now,
		LastSeen:    now,
	}
	t.mu.Unlock()
}

// Touch records life from a viewer; delivered is true when an availability
// event was written and false for keepalives. A flagged viewer that turns
// out to be alive is unflagged.
func (t *Tracker) Touch(viewerID string, delivered bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.viewers[viewerID]
	if !ok {
		return
	}
	if e.Reaped {
		t.logger.Info("stream viewer came back", "viewer", viewerID)
		e.Reaped, e.ReapedAt = false, time.Time{}
	}
	e.LastSeen = t.now()
	if delivered {
		e.Deliveries++
	}
}

// Disconnect removes a closed stream.
func (t *Tracker) Disconnect(viewerID string) {
	t.mu.Lock()
	delete(t.viewers, viewerID)
	t.mu.Unlock()
}

// Count returns the number of viewers not flagged dead.
func (t *Tracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, e := range t.viewers {
		if !e.Reaped {
			n++
		}
	}
	return n
}

// Roster returns every viewer, most recently active first. Viewers silent
// for longer than staleThreshold are left out; 0 keeps everyone.
func (t *Tracker) Roster(staleThreshold time.Duration) []Entry {
	now := t.now()
	t.mu.RLock()
	out := make([]Entry, 0, len(t.viewers))
	for _, e := range t.viewers {
		idle := now.Sub(e.LastSeen)
		if staleThreshold > 0 && idle > staleThreshold {
			continue
		}
		snap := *e
		snap.IdleSecs = idle.Seconds()
		snap.DurationSecs = now.Sub(e.ConnectedAt).Seconds()
		out = append(out, snap)
	}
	t.mu.RUnlock()

	slices.SortFunc(out, func(a, b Entry) int {
		return cmp.Or(b.LastSeen.Compare(a.LastSeen), cmp.Compare(a.ViewerID, b.ViewerID))
	})
	return out
}

// StartReaper sweeps the roster in the background until Stop. Starting a
// running reaper does nothing.
func (t *Tracker) StartReaper(cfg ReaperConfig) {
	cfg = cfg.withDefaults()
	t.reaperMu.Lock()
	defer t.reaperMu.Unlock()
	if t.reaperStop != nil {
		return
	}
	stop, done := make(chan struct{}), make(chan struct{})
	t.reaperStop, t.reaperDone = stop, done

	go func() {
		defer close(done)
		ticker := time.NewTicker(cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				t.sweep(cfg)
			}
		}
	}()
	t.logger.Info("viewer reaper started", "dead_threshold", cfg.DeadThreshold, "sweep_interval", cfg.SweepInterval)
}

// Stop ends the reaper and waits for it. It is safe to call when no
// reaper runs, and more than once.
func (t *Tracker) Stop() {
	t.reaperMu.Lock()
	stop, done := t.reaperStop, t.reaperDone
	t.reaperStop, t.reaperDone = nil, nil
	t.reaperMu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// sweep flags viewers silent past DeadThreshold and evicts those flagged
// longer than EvictAfter.
func (t *Tracker) sweep(cfg ReaperConfig) {
	now := t.now()
	var dead []Entry

	t.mu.Lock()
	for id, e := range t.viewers {
		switch {
		case e.Reaped && now.Sub(e.ReapedAt) > cfg.EvictAfter:
			delete(t.viewers, id)
		case !e.Reaped && now.Sub(e.LastSeen) > cfg.DeadThreshold:
			e.Reaped, e.ReapedAt = true, now
			dead = append(dead, *e)
		}
	}
	t.mu.Unlock()

	for _, e := range dead {
		t.logger.Info("stream viewer flagged dead", "viewer", e.ViewerID, "silent_for", now.Sub(e.LastSeen))
		if cfg.OnDead != nil {
			cfg.OnDead(e.ViewerID, e.IdentityRef)
		}
	}
}
