package presence

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alfredjeanlab/sitegate/internal/model"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakeClock lets tests move time without sleeping.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestTracker() (*Tracker, *fakeClock) {
	clk := &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	tr := New(discardLogger)
	tr.now = clk.now
	return tr, clk
}

func TestConnect_BasicTracking(t *testing.T) {
	tr, _ := newTestTracker()

	tr.Connect(Viewer{
		ID:          "v-1",
		IdentityRef: "7f3c2d1e-0000-4000-8000-000000000001",
		Tier:        model.TierAdmin,
		RemoteAddr:  "10.0.0.1:5555",
		UserAgent:   "sitectl",
	})

	roster := tr.Roster(0)
	if len(roster) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(roster))
	}
	e := roster[0]
	if e.ViewerID != "v-1" || e.Tier != model.TierAdmin || e.UserAgent != "sitectl" {
		t.Errorf("unexpected entry %+v", e)
	}
	if e.Deliveries != 0 {
		t.Errorf("expected 0 deliveries, got %d", e.Deliveries)
	}
	if tr.Count() != 1 {
		t.Errorf("Count = %d, want 1", tr.Count())
	}
}

func TestConnect_IgnoresEmptyID(t *testing.T) {
	tr, _ := newTestTracker()
	tr.Connect(Viewer{})
	if len(tr.Roster(0)) != 0 {
		t.Fatal("expected no entries for empty viewer id")
	}
}

func TestTouch_CountsDeliveries(t *testing.T) {
	tr, clk := newTestTracker()
	tr.Connect(Viewer{ID: "v-1"})

	clk.advance(time.Second)
	tr.Touch("v-1", true)
	tr.Touch("v-1", false)
	tr.Touch("v-1", true)
	tr.Touch("unknown", true)

	e := tr.Roster(0)[0]
	if e.Deliveries != 2 {
		t.Errorf("Deliveries = %d, want 2", e.Deliveries)
	}
	if e.DurationSecs != 1 {
		t.Errorf("DurationSecs = %v, want 1", e.DurationSecs)
	}
}

func TestDisconnect(t *testing.T) {
	tr, _ := newTestTracker()
	tr.Connect(Viewer{ID: "v-1"})
	tr.Connect(Viewer{ID: "v-2"})
	tr.Disconnect("v-1")
	tr.Disconnect("v-1")

	roster := tr.Roster(0)
	if len(roster) != 1 || roster[0].ViewerID != "v-2" {
		t.Fatalf("roster = %+v", roster)
	}
}

func TestRoster_StaleThreshold(t *testing.T) {
	tr, clk := newTestTracker()

	tr.Connect(Viewer{ID: "old"})
	clk.advance(20 * time.Minute)
	tr.Connect(Viewer{ID: "new"})

	roster := tr.Roster(10 * time.Minute)
	if len(roster) != 1 || roster[0].ViewerID != "new" {
		t.Fatalf("roster with threshold = %+v", roster)
	}
	if all := tr.Roster(0); len(all) != 2 {
		t.Fatalf("expected 2 entries without threshold, got %d", len(all))
	}
}

func TestRoster_SortedByMostRecent(t *testing.T) {
	tr, clk := newTestTracker()

	for _, id := range []string{"first", "second", "third"} {
		tr.Connect(Viewer{ID: id})
		clk.advance(time.Second)
	}

	roster := tr.Roster(0)
	if roster[0].ViewerID != "third" || roster[2].ViewerID != "first" {
		t.Errorf("order = %s, %s, %s", roster[0].ViewerID, roster[1].ViewerID, roster[2].ViewerID)
	}
}

func TestSweep_MarksIdleViewersDead(t *testing.T) {
	tr, clk := newTestTracker()
	tr.Connect(Viewer{ID: "idle", IdentityRef: "ref-1"})
	clk.advance(20 * time.Minute)

	var dead []string
	cfg := ReaperConfig{
		DeadThreshold: 15 * time.Minute,
		EvictAfter:    30 * time.Minute,
		OnDead: func(id, identityRef string) {
			dead = append(dead, id+"/"+identityRef)
		},
	}
	tr.sweep(cfg)

	if len(dead) != 1 || dead[0] != "idle/ref-1" {
		t.Errorf("reaped = %v", dead)
	}
	if !tr.Roster(0)[0].Reaped {
		t.Error("expected reaped=true")
	}
	if tr.Count() != 0 {
		t.Errorf("Count = %d, want 0", tr.Count())
	}

	// A second sweep does not report it again.
	tr.sweep(cfg)
	if len(dead) != 1 {
		t.Errorf("reaped twice: %v", dead)
	}
}

func TestSweep_ResurrectedViewerNotReaped(t *testing.T) {
	tr, clk := newTestTracker()
	tr.Connect(Viewer{ID: "zombie"})
	clk.advance(20 * time.Minute)

	tr.sweep(ReaperConfig{DeadThreshold: 15 * time.Minute, EvictAfter: 30 * time.Minute})
	tr.Touch("zombie", false)

	e := tr.Roster(0)[0]
	if e.Reaped {
		t.Error("expected zombie to be resurrected")
	}
}

func TestSweep_EvictsAfterThreshold(t *testing.T) {
	tr, clk := newTestTracker()
	tr.Connect(Viewer{ID: "gone"})
	cfg := ReaperConfig{DeadThreshold: 15 * time.Minute, EvictAfter: 30 * time.Minute}

	clk.advance(20 * time.Minute)
	tr.sweep(cfg)
	clk.advance(31 * time.Minute)
	tr.sweep(cfg)

	if len(tr.Roster(0)) != 0 {
		t.Error("expected reaped viewer to be evicted")
	}
}

func TestStartReaper_StopsCleanly(t *testing.T) {
	tr := New(discardLogger)
	tr.StartReaper(ReaperConfig{SweepInterval: 50 * time.Millisecond})
	tr.StartReaper(ReaperConfig{SweepInterval: 50 * time.Millisecond})
	time.Sleep(150 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		tr.Stop()
		tr.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() did not return within 2 seconds")
	}
}

func TestReaperConfigDefaults(t *testing.T) {
	got := ReaperConfig{EvictAfter: time.Hour}.withDefaults()
	if got.DeadThreshold != 15*time.Minute || got.EvictAfter != time.Hour || got.SweepInterval != time.Minute {
		t.Errorf("defaults = %+v", got)
	}
}

func TestRoster_IsASnapshot(t *testing.T) {
	tr, _ := newTestTracker()
	tr.Connect(Viewer{ID: "v-1"})
	snap := tr.Roster(0)
	tr.Touch("v-1", true)
	if snap[0].Deliveries != 0 {
		t.Error("roster entries must not change after they are returned")
	}
}
