package availability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alfredjeanlab/sitegate/internal/authz"
	"github.com/alfredjeanlab/sitegate/internal/events"
	"github.com/alfredjeanlab/sitegate/internal/model"
	"github.com/alfredjeanlab/sitegate/internal/store/memstore"
)

type staticReader model.Availability

func (s staticReader) Read() model.Availability { return model.Availability(s) }

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("page"))
	})
}

func TestMiddleware(t *testing.T) {
	custom := "Back at noon"
	tests := []struct {
		name     string
		state    model.Availability
		wantCode int
		wantBody string
	}{
		{"available", model.Availability{}, http.StatusOK, "page"},
		{"unavailable default", model.Availability{Unavailable: true}, http.StatusServiceUnavailable, model.DefaultMaintenanceMessage},
		{"unavailable custom", model.Availability{Unavailable: true, Message: &custom}, http.StatusServiceUnavailable, custom},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := Middleware(staticReader(tt.state), nil, okHandler())
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/about", nil))

			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Fatalf("body = %q, want it to contain %q", rec.Body.String(), tt.wantBody)
			}
			if tt.state.Unavailable && rec.Header().Get("Retry-After") != "300" {
				t.Fatalf("Retry-After = %q", rec.Header().Get("Retry-After"))
			}
		})
	}
}

func TestMiddleware_CustomRenderer(t *testing.T) {
	var got string
	notice := func(w http.ResponseWriter, _ *http.Request, a model.Availability) {
		got = a.NoticeText()
		_, _ = w.Write([]byte("<h1>maintenance</h1>"))
	}
	h := Middleware(staticReader{Unavailable: true}, notice, okHandler())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
	if got != model.DefaultMaintenanceMessage {
		t.Fatalf("renderer saw %q", got)
	}
}

type failingPublisher struct{ calls int }

func (f *failingPublisher) Publish(context.Context, string, any) error {
	f.calls++
	return errors.New("bus down")
}

func (f *failingPublisher) Close() error { return nil }

func TestNotifyingStore_PublishesCommittedRow(t *testing.T) {
	bus := events.NewMemoryBus()
	defer bus.Close()
	ch, cancel, err := bus.Subscribe(events.TopicStatusUpdated)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer cancel()

	st := Notify(memstore.New(), bus, nil)
	ctx := authz.WithPrincipal(context.Background(), authz.Principal{IdentityRef: "u-admin", Tier: model.TierAdmin})
	row, err := st.UpdateSingleton(ctx, "st-singleton", model.StatusFields{Unavailable: true})
	if err != nil {
		t.Fatalf("UpdateSingleton: %v", err)
	}

	var ev events.StatusUpdated
	if err := json.Unmarshal(<-ch, &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.Status.ID != row.ID || !ev.Status.Unavailable {
		t.Fatalf("event status = %+v", ev.Status)
	}
	if !ev.Status.LastUpdated.Equal(row.LastUpdated) {
		t.Fatalf("event timestamp %v, want %v", ev.Status.LastUpdated, row.LastUpdated)
	}
	if ev.UpdatedBy != "u-admin" {
		t.Fatalf("UpdatedBy = %q", ev.UpdatedBy)
	}
}

func TestNotifyingStore_PublishFailureDoesNotFailWrite(t *testing.T) {
	pub := &failingPublisher{}
	st := Notify(memstore.New(), pub, nil)
	if _, err := st.UpdateSingleton(context.Background(), "st-singleton", model.StatusFields{Unavailable: true}); err != nil {
		t.Fatalf("UpdateSingleton: %v", err)
	}
	if pub.calls != 1 {
		t.Fatalf("publish calls = %d", pub.calls)
	}
}

func TestNotifyingStore_FailedWriteNotPublished(t *testing.T) {
	pub := &failingPublisher{}
	st := Notify(memstore.New(), pub, nil)
	if _, err := st.UpdateSingleton(context.Background(), "st-nope", model.StatusFields{}); err == nil {
		t.Fatal("expected error for unknown row")
	}
	if pub.calls != 0 {
		t.Fatal("failed write must not publish")
	}
}
