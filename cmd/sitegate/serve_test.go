package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/alfredjeanlab/sitegate/internal/config"
	"github.com/alfredjeanlab/sitegate/internal/model"
	"github.com/alfredjeanlab/sitegate/internal/server"
	"github.com/alfredjeanlab/sitegate/internal/session"
	"github.com/alfredjeanlab/sitegate/internal/store"
	"github.com/alfredjeanlab/sitegate/internal/store/memstore"
	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

var (
	discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))
	errBoom       = errors.New("boom")
)

func memoryConfig() *config.Config {
	return &config.Config{
		MemoryStore:           true,
		SessionSecret:         testSecret,
		SessionTTL:            time.Hour,
		PresenceDeadThreshold: time.Minute,
		HookTimeout:           time.Second,
	}
}

func listen(t *testing.T) net.Listener {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	return lis
}

func TestServeLifecycle(t *testing.T) {
	httpLis, grpcLis := listen(t), listen(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- serve(ctx, memoryConfig(), httpLis, grpcLis, discardLogger) }()

	base := "http://" + httpLis.Addr().String()
	var health struct {
		Status          string `json:"status"`
		SiteUnavailable bool   `json:"site_unavailable"`
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(base + "/v1/health")
		if err == nil {
			err = json.NewDecoder(resp.Body).Decode(&health)
			resp.Body.Close()
			if err == nil {
				break
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("server never became healthy: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}
	if health.Status != "ok" || health.SiteUnavailable {
		t.Fatalf("health = %+v", health)
	}

	conn, err := grpc.NewClient(grpcLis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("grpc.NewClient: %v", err)
	}
	defer conn.Close()
	hc := healthpb.NewHealthClient(conn)
	checkCtx, checkCancel := context.WithTimeout(ctx, 5*time.Second)
	defer checkCancel()
	resp, err := hc.Check(checkCtx, &healthpb.HealthCheckRequest{Service: server.SiteHealthService})
	if err != nil {
		t.Fatalf("health Check: %v", err)
	}
	if resp.Status != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("site health = %v", resp.Status)
	}

	// An open event stream must not hold up shutdown.
	stream, err := http.Get(base + "/v1/availability/stream")
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer stream.Body.Close()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve returned %v", err)
		}
	case <-time.After(shutdownTimeout + 5*time.Second):
		t.Fatal("serve did not shut down")
	}
}

func TestServeClosesListenersOnStoreError(t *testing.T) {
	prev := openStore
	openStore = func(context.Context, *config.Config) (store.Store, error) { return nil, errBoom }
	t.Cleanup(func() { openStore = prev })

	httpLis, grpcLis := listen(t), listen(t)
	if err := serve(context.Background(), memoryConfig(), httpLis, grpcLis, discardLogger); err != errBoom {
		t.Fatalf("serve err = %v, want errBoom", err)
	}
	if _, err := httpLis.Accept(); err == nil {
		t.Fatal("expected the HTTP listener to be closed")
	}
}

func TestBootstrapAdmin(t *testing.T) {
	st := memstore.New()
	cfg := memoryConfig()
	tokens, err := session.NewTokens(testSecret, time.Hour, st)
	if err != nil {
		t.Fatal(err)
	}
	ref := uuid.NewString()

	if err := runBootstrapAdmin(context.Background(), cfg, st, tokens, ref); err != nil {
		t.Fatalf("runBootstrapAdmin: %v", err)
	}
	rec, _ := st.GetPrivilege(context.Background(), ref)
	if rec == nil || rec.Tier != model.TierAdmin {
		t.Fatalf("record = %+v", rec)
	}

	cfg.MemoryStore = false
	err = runBootstrapAdmin(context.Background(), cfg, st, tokens, ref)
	if err == nil || !strings.Contains(err.Error(), "SITEGATE_MEMORY_STORE") {
		t.Fatalf("err = %v, want a memory store requirement", err)
	}
	cfg.MemoryStore = true
	if err := runBootstrapAdmin(context.Background(), cfg, st, tokens, "nope"); err == nil {
		t.Fatal("expected an invalid identity ref to fail")
	}
}
