package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alfredjeanlab/sitegate/internal/authz"
	"github.com/alfredjeanlab/sitegate/internal/client"
	"github.com/alfredjeanlab/sitegate/internal/model"
	"github.com/alfredjeanlab/sitegate/internal/server"
	"github.com/alfredjeanlab/sitegate/internal/session"
	"github.com/alfredjeanlab/sitegate/internal/store/memstore"
	"github.com/alfredjeanlab/sitegate/internal/ui"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

type testSite struct {
	st     *memstore.Store
	tokens *session.Tokens
	url    string
}

// newTestSite serves a fresh site and resets the CLI globals.
func newTestSite(t *testing.T) *testSite {
	t.Helper()
	ui.ForceNoColor()
	isolateState(t)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := memstore.New()
	tokens, err := session.NewTokens("0123456789abcdef0123456789abcdef", time.Hour, st)
	if err != nil {
		t.Fatalf("NewTokens: %v", err)
	}
	az, err := authz.NewAuthorizer(authz.Config{Logger: logger})
	if err != nil {
		t.Fatalf("NewAuthorizer: %v", err)
	}
	srv, err := server.New(server.Options{Store: st, Tokens: tokens, Authorizer: az, Logger: logger})
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	hs := httptest.NewServer(srv.NewHTTPHandler())
	t.Cleanup(func() {
		hs.CloseClientConnections()
		hs.Close()
		srv.Close()
	})

	jsonOutput = false
	siteURL = hs.URL
	useToken("")
	return &testSite{st: st, tokens: tokens, url: hs.URL}
}

func useToken(tok string) {
	token = tok
	siteClient = client.NewHTTPClient(siteURL, tok)
}

// signIn provisions an identity at tier and points the CLI at its token.
func (s *testSite) signIn(t *testing.T, tier model.Tier) string {
	t.Helper()
	ref := uuid.NewString()
	if tier != model.TierNone {
		if err := s.st.SetPrivilege(context.Background(), &model.PrivilegeRecord{
			IdentityRef: ref, Email: string(tier) + "@example.com", Tier: tier,
		}); err != nil {
			t.Fatalf("SetPrivilege: %v", err)
		}
	}
	tok, _, err := s.tokens.Issue(ref)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	useToken(tok)
	return tok
}

// run invokes cmd's RunE with args and returns what it printed.
func run(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetContext(context.Background())
	err := cmd.RunE(cmd, args)
	return buf.String(), err
}

func TestMaintenanceCommands(t *testing.T) {
	site := newTestSite(t)
	site.signIn(t, model.TierAdmin)

	if err := maintenanceOnCmd.Flags().Set("message", "Back at noon"); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = maintenanceOnCmd.Flags().Set("message", "") })

	out, err := run(t, maintenanceOnCmd)
	if err != nil {
		t.Fatalf("on: %v", err)
	}
	if !strings.Contains(out, "unavailable: Back at noon") {
		t.Errorf("on output:\n%s", out)
	}

	out, err = run(t, maintenanceStatusCmd)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "Message:      Back at noon") {
		t.Errorf("status output:\n%s", out)
	}

	out, err = run(t, maintenanceOffCmd)
	if err != nil {
		t.Fatalf("off: %v", err)
	}
	if !strings.Contains(out, "Site:         available") {
		t.Errorf("off output:\n%s", out)
	}
}

func TestMaintenanceOn_RequiresAdmin(t *testing.T) {
	site := newTestSite(t)
	site.signIn(t, model.TierEditor)

	_, err := run(t, maintenanceOnCmd)
	if err == nil || !strings.Contains(err.Error(), "admin session") {
		t.Fatalf("expected an admin session error, got %v", err)
	}
}

func TestMaintenanceStatus_JSON(t *testing.T) {
	newTestSite(t)
	jsonOutput = true
	t.Cleanup(func() { jsonOutput = false })

	out, err := run(t, maintenanceStatusCmd)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	var st model.SiteStatus
	if err := json.Unmarshal([]byte(out), &st); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if st.ID == "" || st.Unavailable {
		t.Errorf("unexpected status %+v", st)
	}
}

func TestAvailabilityPrinter_Dedupes(t *testing.T) {
	ui.ForceNoColor()
	var buf bytes.Buffer
	p := &availabilityPrinter{w: &buf}
	msg := "x"
	p.print(model.Availability{})
	p.print(model.Availability{})
	p.print(model.Availability{Unavailable: true, Message: &msg})
	if got := strings.Count(buf.String(), "\n"); got != 2 {
		t.Fatalf("expected 2 lines, got %d:\n%s", got, buf.String())
	}
}

func TestContentCommands(t *testing.T) {
	site := newTestSite(t)
	if err := site.st.UpsertContent(context.Background(), &model.ContentEntry{
		ID: "pc-title", PageName: "home", SectionKey: "title", ContentType: "text", Value: "Acme", Order: 0,
	}); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, contentListCmd, "home")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "pc-title") || !strings.Contains(out, "1 entries") {
		t.Errorf("list output:\n%s", out)
	}

	if _, err := run(t, contentSetCmd, "pc-title", "Acme Rigging"); err == nil {
		t.Fatal("expected signed-out set to fail")
	}

	site.signIn(t, model.TierEditor)
	if _, err := run(t, contentSetCmd, "pc-title", "Acme Rigging"); err != nil {
		t.Fatalf("set: %v", err)
	}
	out, err = run(t, contentGetCmd, "home", "title")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if strings.TrimSpace(out) != "Acme Rigging" {
		t.Errorf("get output = %q", out)
	}

	if _, err := run(t, contentGetCmd, "home", "missing"); err == nil {
		t.Fatal("expected an error for a missing section")
	}
}

func TestWhoami(t *testing.T) {
	site := newTestSite(t)

	out, err := run(t, whoamiCmd)
	if err != nil {
		t.Fatalf("whoami: %v", err)
	}
	if strings.TrimSpace(out) != "not signed in" {
		t.Errorf("signed-out output:\n%s", out)
	}

	site.signIn(t, model.TierEditor)
	out, err = run(t, whoamiCmd)
	if err != nil {
		t.Fatalf("whoami: %v", err)
	}
	for _, want := range []string{"editor@example.com", "Tier:     Editor", "Manage Pages", "/admin/maintenance  insufficient_privilege"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in:\n%s", want, out)
		}
	}
	if strings.Contains(out, "View Messages") {
		t.Error("editor must not see the admin-only menu entry")
	}
}

func TestWhoami_Unprovisioned(t *testing.T) {
	site := newTestSite(t)
	site.signIn(t, model.TierNone)
	jsonOutput = true
	t.Cleanup(func() { jsonOutput = false })

	out, err := run(t, whoamiCmd)
	if err != nil {
		t.Fatalf("whoami: %v", err)
	}
	var res whoamiResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if !res.SignedIn || res.Tier != model.TierNone || len(res.Menu) != 0 {
		t.Errorf("unexpected result %+v", res)
	}
	if res.Screens["/admin/dashboard"] != "unprovisioned" {
		t.Errorf("screens = %v", res.Screens)
	}
}

func TestLogout(t *testing.T) {
	site := newTestSite(t)
	tok := site.signIn(t, model.TierViewer)
	if err := saveRemotesConfig(RemotesConfig{
		Active:  "local",
		Remotes: map[string]Remote{"local": {URL: site.url, Token: tok}},
	}); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, logoutCmd)
	if err != nil {
		t.Fatalf("logout: %v", err)
	}
	if strings.TrimSpace(out) != "signed out" {
		t.Errorf("logout output = %q", out)
	}
	cfg, _ := loadRemotesConfig()
	if cfg.Remotes["local"].Token != "" {
		t.Error("expected the stored token to be cleared")
	}
	info, err := siteClient.Session(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if info.SignedIn {
		t.Error("expected the token to be revoked")
	}

	out, _ = run(t, logoutCmd)
	if strings.TrimSpace(out) != "not signed in" {
		t.Errorf("second logout output = %q", out)
	}
}

func TestHealthCommand(t *testing.T) {
	newTestSite(t)
	out, err := run(t, healthCmd)
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if !strings.Contains(out, "Health: ok") || !strings.Contains(out, "Site:   available") {
		t.Errorf("health output:\n%s", out)
	}
}

func TestAuditAndViewers(t *testing.T) {
	site := newTestSite(t)
	site.signIn(t, model.TierAdmin)

	out, err := run(t, auditCmd)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if strings.TrimSpace(out) != "no changes recorded" {
		t.Errorf("empty audit output:\n%s", out)
	}

	if _, err := run(t, maintenanceOffCmd); err != nil {
		t.Fatalf("off: %v", err)
	}
	out, err = run(t, auditCmd)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if !strings.Contains(out, model.ActionAvailabilityUpdated) {
		t.Errorf("audit output:\n%s", out)
	}

	out, err = run(t, viewersCmd)
	if err != nil {
		t.Fatalf("viewers: %v", err)
	}
	if !strings.Contains(out, "0 viewers") {
		t.Errorf("viewers output:\n%s", out)
	}
}

// syncBuffer is a bytes.Buffer safe for a writer goroutine and a reader.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func waitForOutput(t *testing.T, b *syncBuffer, want string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(b.String(), want) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %q in:\n%s", want, b.String())
}

func TestWhoamiWatch_PrintsTransitionsOnce(t *testing.T) {
	site := newTestSite(t)
	ctx := context.Background()
	ref := uuid.NewString()
	if err := site.st.SetPrivilege(ctx, &model.PrivilegeRecord{IdentityRef: ref, Email: "ed@example.com", Tier: model.TierEditor}); err != nil {
		t.Fatalf("SetPrivilege: %v", err)
	}
	tok, id, err := site.tokens.Issue(ref)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	useToken(tok)

	r := newResolver()
	defer r.Close()
	watchCtx, stop := context.WithCancel(ctx)
	var out syncBuffer
	done := make(chan struct{})
	go func() {
		defer close(done)
		watchSession(watchCtx, &out, r, model.TierAdmin, 20*time.Millisecond)
	}()

	waitForOutput(t, &out, "insufficient_privilege -> /admin/dashboard")

	if err := site.st.SetPrivilege(ctx, &model.PrivilegeRecord{IdentityRef: ref, Email: "ed@example.com", Tier: model.TierAdmin}); err != nil {
		t.Fatalf("SetPrivilege: %v", err)
	}
	waitForOutput(t, &out, "  authorized")

	if err := site.tokens.Revoke(ctx, id); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	waitForOutput(t, &out, "unauthenticated -> /admin/login")

	// Further passes re-arrive at the same state without redirecting again.
	time.Sleep(100 * time.Millisecond)
	stop()
	<-done

	got := out.String()
	if n := strings.Count(got, "\n"); n != 3 {
		t.Fatalf("expected 3 transitions, got %d:\n%s", n, got)
	}
	if strings.Count(got, "/admin/login") != 1 || strings.Count(got, "/admin/dashboard") != 1 {
		t.Fatalf("redirects repeated:\n%s", got)
	}
}

func TestWhoamiWatch_UnknownScreen(t *testing.T) {
	newTestSite(t)
	if err := whoamiCmd.Flags().Set("watch", "true"); err != nil {
		t.Fatal(err)
	}
	if err := whoamiCmd.Flags().Set("screen", "/admin/nowhere"); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		_ = whoamiCmd.Flags().Set("watch", "false")
		_ = whoamiCmd.Flags().Set("screen", "/admin/dashboard")
	})
	if _, err := run(t, whoamiCmd); err == nil || !strings.Contains(err.Error(), "unknown screen") {
		t.Fatalf("err = %v, want unknown screen", err)
	}
}
