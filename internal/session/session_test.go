package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alfredjeanlab/sitegate/internal/model"
)

// fakeProvider returns a fixed identity, optionally blocking until release
// is closed.
type fakeProvider struct {
	id      *model.Identity
	err     error
	release chan struct{}

	mu       sync.Mutex
	calls    int
	revoked  []*model.Identity
	revokeCh chan struct{}
}

func (p *fakeProvider) CurrentIdentity(ctx context.Context) (*model.Identity, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	if p.release != nil {
		<-p.release
	}
	return p.id, p.err
}

func (p *fakeProvider) Revoke(ctx context.Context, id *model.Identity) error {
	if p.revokeCh != nil {
		<-p.revokeCh
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.revoked = append(p.revoked, id)
	return nil
}

type fakePrivileges map[string]*model.PrivilegeRecord

func (f fakePrivileges) GetPrivilege(_ context.Context, ref string) (*model.PrivilegeRecord, error) {
	if rec, ok := f[ref]; ok {
		return rec, nil
	}
	return nil, nil
}

type failingPrivileges struct{}

func (failingPrivileges) GetPrivilege(context.Context, string) (*model.PrivilegeRecord, error) {
	return nil, errors.New("store unreachable")
}

func TestResolve(t *testing.T) {
	alice := &model.Identity{Ref: "alice"}
	editor := &model.PrivilegeRecord{IdentityRef: "alice", Tier: model.TierEditor}

	tests := []struct {
		name       string
		provider   *fakeProvider
		privileges PrivilegeLookup
		wantID     bool
		wantTier   model.Tier
	}{
		{"no session", &fakeProvider{}, fakePrivileges{}, false, model.TierNone},
		{"provider error", &fakeProvider{err: errors.New("network")}, fakePrivileges{}, false, model.TierNone},
		{"unprovisioned", &fakeProvider{id: alice}, fakePrivileges{}, true, model.TierNone},
		{"provisioned", &fakeProvider{id: alice}, fakePrivileges{"alice": editor}, true, model.TierEditor},
		{"privilege lookup error signs out", &fakeProvider{id: alice}, failingPrivileges{}, false, model.TierNone},
		{"unknown tier ignored", &fakeProvider{id: alice}, fakePrivileges{"alice": {IdentityRef: "alice", Tier: "owner"}}, true, model.TierNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := Resolve(context.Background(), tt.provider, tt.privileges, nil)
			if snap.Resolving {
				t.Fatal("Resolve returned a resolving snapshot")
			}
			if (snap.Identity != nil) != tt.wantID {
				t.Fatalf("Identity = %v, want present=%v", snap.Identity, tt.wantID)
			}
			if snap.Tier() != tt.wantTier {
				t.Fatalf("Tier = %q, want %q", snap.Tier(), tt.wantTier)
			}
			if snap.Identity == nil && snap.Privilege != nil {
				t.Fatal("privilege present without identity")
			}
		})
	}
}

func TestParseIdentityRef(t *testing.T) {
	got, err := ParseIdentityRef("8F14E45F-CEEA-467F-A0E6-1A3B0F3C2D11")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "8f14e45f-ceea-467f-a0e6-1a3b0f3c2d11" {
		t.Fatalf("got %q", got)
	}
	if _, err := ParseIdentityRef("alice"); err == nil {
		t.Fatal("expected error for non-uuid reference")
	}
}

func TestResolver_StartsResolving(t *testing.T) {
	r := NewResolver(&fakeProvider{}, fakePrivileges{}, nil)
	defer r.Close()
	if !r.Snapshot().Resolving {
		t.Fatal("new resolver should be resolving")
	}
}

func TestResolver_StartSettles(t *testing.T) {
	p := &fakeProvider{id: &model.Identity{Ref: "alice"}}
	r := NewResolver(p, fakePrivileges{"alice": {IdentityRef: "alice", Tier: model.TierAdmin}}, nil)
	defer r.Close()

	snap := r.Start(context.Background())
	if snap.Resolving || snap.Tier() != model.TierAdmin {
		t.Fatalf("Start = %+v", snap)
	}
	if got := r.Snapshot(); got.Tier() != model.TierAdmin {
		t.Fatalf("Snapshot tier = %q", got.Tier())
	}
	if p.calls != 1 {
		t.Fatalf("provider called %d times, want 1", p.calls)
	}
}

func TestResolver_FailureDoesNotRetry(t *testing.T) {
	p := &fakeProvider{err: errors.New("expired")}
	r := NewResolver(p, fakePrivileges{}, nil)
	defer r.Close()

	snap := r.Start(context.Background())
	if snap.Identity != nil || snap.Resolving {
		t.Fatalf("Start = %+v, want signed out", snap)
	}
	time.Sleep(20 * time.Millisecond)
	if p.calls != 1 {
		t.Fatalf("provider called %d times, want 1", p.calls)
	}
}

func TestResolver_SignOutIsImmediate(t *testing.T) {
	p := &fakeProvider{id: &model.Identity{Ref: "alice", SessionID: "ses-1"}, revokeCh: make(chan struct{})}
	r := NewResolver(p, fakePrivileges{"alice": {IdentityRef: "alice", Tier: model.TierViewer}}, nil)
	defer r.Close()
	r.Start(context.Background())

	done := r.SignOut()

	// Revoke is still blocked, local state already reset.
	snap := r.Snapshot()
	if snap.Identity != nil || snap.Privilege != nil || snap.Resolving {
		t.Fatalf("after SignOut = %+v, want signed out", snap)
	}

	close(p.revokeCh)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("revoke error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("revoke never completed")
	}
	if len(p.revoked) != 1 || p.revoked[0].SessionID != "ses-1" {
		t.Fatalf("revoked = %+v", p.revoked)
	}
}

func TestResolver_SignOutDiscardsInflightResult(t *testing.T) {
	p := &fakeProvider{id: &model.Identity{Ref: "alice"}, release: make(chan struct{})}
	r := NewResolver(p, fakePrivileges{"alice": {IdentityRef: "alice", Tier: model.TierAdmin}}, nil)
	defer r.Close()

	started := make(chan Snapshot)
	go func() { started <- r.Start(context.Background()) }()

	// Wait until the provider call is in flight.
	deadline := time.Now().Add(time.Second)
	for {
		p.mu.Lock()
		calls := p.calls
		p.mu.Unlock()
		if calls == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("provider never called")
		}
		time.Sleep(time.Millisecond)
	}

	<-r.SignOut()
	close(p.release)
	<-started

	if snap := r.Snapshot(); snap.Identity != nil {
		t.Fatalf("stale resolution overwrote sign-out: %+v", snap)
	}
}

func TestResolver_CloseDiscardsLateResult(t *testing.T) {
	p := &fakeProvider{id: &model.Identity{Ref: "alice"}, release: make(chan struct{})}
	r := NewResolver(p, fakePrivileges{}, nil)

	ch, cancel := r.Watch()
	defer cancel()

	done := make(chan struct{})
	go func() {
		r.Start(context.Background())
		close(done)
	}()

	// Drain the resolving notification.
	if s := <-ch; !s.Resolving {
		t.Fatalf("first watch value = %+v, want resolving", s)
	}
	r.Close()
	close(p.release)
	<-done

	if _, ok := <-ch; ok {
		t.Fatal("watch channel should be closed after Close")
	}
	if !r.Snapshot().Resolving {
		t.Fatalf("late result applied after Close: %+v", r.Snapshot())
	}
}

func TestResolver_WatchDeliversLatest(t *testing.T) {
	p := &fakeProvider{id: &model.Identity{Ref: "alice"}}
	r := NewResolver(p, fakePrivileges{"alice": {IdentityRef: "alice", Tier: model.TierEditor}}, nil)
	defer r.Close()

	ch, cancel := r.Watch()
	r.Start(context.Background())

	select {
	case s := <-ch:
		if s.Tier() != model.TierEditor {
			t.Fatalf("watch = %+v, want editor", s)
		}
	case <-time.After(time.Second):
		t.Fatal("no watch notification")
	}

	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after cancel")
	}
}
