package client

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alfredjeanlab/sitegate/internal/authz"
	"github.com/alfredjeanlab/sitegate/internal/availability"
	"github.com/alfredjeanlab/sitegate/internal/content"
	"github.com/alfredjeanlab/sitegate/internal/menu"
	"github.com/alfredjeanlab/sitegate/internal/model"
	"github.com/alfredjeanlab/sitegate/internal/server"
	"github.com/alfredjeanlab/sitegate/internal/session"
	"github.com/alfredjeanlab/sitegate/internal/store/memstore"
	"github.com/google/uuid"
)

type remoteEnv struct {
	site   *server.SiteServer
	st     *memstore.Store
	tokens *session.Tokens
	url    string
}

// newRemoteEnv starts a real site server behind httptest.
func newRemoteEnv(t *testing.T) *remoteEnv {
	t.Helper()
	st := memstore.New()
	tokens, err := session.NewTokens("0123456789abcdef0123456789abcdef", time.Hour, st)
	if err != nil {
		t.Fatalf("NewTokens: %v", err)
	}
	az, err := authz.NewAuthorizer(authz.Config{Logger: discardLogger})
	if err != nil {
		t.Fatalf("NewAuthorizer: %v", err)
	}
	site, err := server.New(server.Options{Store: st, Tokens: tokens, Authorizer: az, Logger: discardLogger})
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}
	if err := site.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	hs := httptest.NewServer(site.NewHTTPHandler())
	t.Cleanup(func() {
		hs.CloseClientConnections()
		hs.Close()
		site.Close()
	})
	return &remoteEnv{site: site, st: st, tokens: tokens, url: hs.URL}
}

func (e *remoteEnv) token(t *testing.T, tier model.Tier) (string, string) {
	t.Helper()
	ref := uuid.NewString()
	if err := e.st.SetPrivilege(context.Background(), &model.PrivilegeRecord{
		IdentityRef: ref,
		Email:       string(tier) + "@example.com",
		Tier:        tier,
	}); err != nil {
		t.Fatalf("SetPrivilege: %v", err)
	}
	token, _, err := e.tokens.Issue(ref)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return ref, token
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestRemoteBroadcaster(t *testing.T) {
	e := newRemoteEnv(t)
	_, admin := e.token(t, model.TierAdmin)

	feed := NewStreamSubscriber(e.url, "", discardLogger)
	defer feed.Close()
	remote := availability.New(NewHTTPClient(e.url, ""), feed, discardLogger)
	defer remote.Close()
	if err := remote.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if remote.Read().Unavailable {
		t.Fatal("expected the site to start available")
	}

	// A write from another client reaches the follower over the stream.
	msg := "Upgrading"
	if _, err := NewHTTPClient(e.url, admin).SetAvailability(context.Background(), true, &msg); err != nil {
		t.Fatalf("SetAvailability: %v", err)
	}
	waitFor(t, "remote availability", func() bool {
		a := remote.Read()
		return a.Unavailable && a.Message != nil && *a.Message == "Upgrading"
	})

	// Writes through a remote broadcaster land on the server.
	writer := availability.New(NewHTTPClient(e.url, admin), nil, discardLogger)
	defer writer.Close()
	if err := writer.Update(context.Background(), false, nil); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if e.site.Availability.Read().Unavailable {
		t.Fatal("expected the server to be available after the remote write")
	}
	waitFor(t, "follower to see the site come back", func() bool { return !remote.Read().Unavailable })
}

func TestRemoteBroadcaster_Forbidden(t *testing.T) {
	e := newRemoteEnv(t)
	_, editor := e.token(t, model.TierEditor)

	writer := availability.New(NewHTTPClient(e.url, editor), nil, discardLogger)
	defer writer.Close()
	err := writer.Update(context.Background(), true, nil)
	if err == nil {
		t.Fatal("expected an editor write to be refused")
	}
	if !IsUnauthorized(err) {
		t.Fatalf("expected a 403 from the server, got %v", err)
	}
	if e.site.Availability.Read().Unavailable {
		t.Fatal("refused write must not change the site")
	}
}

func TestRemoteSessionResolver(t *testing.T) {
	e := newRemoteEnv(t)
	ref, editor := e.token(t, model.TierEditor)

	c := NewHTTPClient(e.url, editor)
	r := session.NewResolver(c, c, discardLogger)
	defer r.Close()

	snap := r.Start(context.Background())
	if !snap.SignedIn() || snap.Identity.Ref != ref || snap.Tier() != model.TierEditor {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	entries := menu.Filter(menu.Default(), snap.Privilege)
	if len(entries) != 4 {
		t.Fatalf("expected 4 editor menu entries, got %d", len(entries))
	}

	if err := <-r.SignOut(); err != nil {
		t.Fatalf("SignOut: %v", err)
	}
	if r.Snapshot().SignedIn() {
		t.Fatal("expected signed-out snapshot")
	}
	// The token no longer resolves.
	info, err := c.Session(context.Background())
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if info.SignedIn {
		t.Fatal("expected the revoked token to be signed out")
	}
}

func TestRemoteContentCache(t *testing.T) {
	e := newRemoteEnv(t)
	_, editor := e.token(t, model.TierEditor)
	if err := e.st.UpsertContent(context.Background(), &model.ContentEntry{
		ID: "pc-title", PageName: "home", SectionKey: "title", ContentType: "text", Value: "Acme", Order: 1,
	}); err != nil {
		t.Fatalf("UpsertContent: %v", err)
	}

	cache := content.New(NewHTTPClient(e.url, editor), "home", discardLogger)
	defer cache.Close()
	cache.Refetch(context.Background())
	if got := cache.Lookup("title"); got != "Acme" {
		t.Fatalf("Lookup(title) = %q, want Acme", got)
	}
	if err := cache.Update(context.Background(), "pc-title", "Acme Rigging"); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got := cache.Lookup("title"); got != "Acme Rigging" {
		t.Fatalf("Lookup(title) = %q after update", got)
	}
	stored, err := e.st.GetContent(context.Background(), "pc-title")
	if err != nil || stored.Value != "Acme Rigging" {
		t.Fatalf("stored = %+v, %v", stored, err)
	}
}
