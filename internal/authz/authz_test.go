package authz

import (
	"context"
	"errors"
	"testing"

	"github.com/alfredjeanlab/sitegate/internal/model"
	"github.com/alfredjeanlab/sitegate/internal/store"
	"github.com/alfredjeanlab/sitegate/internal/store/memstore"
)

func newTestAuthorizer(t *testing.T) *Authorizer {
	t.Helper()
	a, err := NewAuthorizer(Config{})
	if err != nil {
		t.Fatalf("NewAuthorizer: %v", err)
	}
	return a
}

func TestAuthorize_Policies(t *testing.T) {
	a := newTestAuthorizer(t)

	tests := []struct {
		tier     model.Tier
		action   Action
		resource string
		want     bool
	}{
		{model.TierAdmin, ActionSiteStatusUpdate, ResourceSiteStatus, true},
		{model.TierEditor, ActionSiteStatusUpdate, ResourceSiteStatus, false},
		{model.TierViewer, ActionSiteStatusUpdate, ResourceSiteStatus, false},
		{model.TierNone, ActionSiteStatusUpdate, ResourceSiteStatus, false},
		{model.TierEditor, ActionContentUpdate, ResourcePage, true},
		{model.TierAdmin, ActionContentUpdate, ResourcePage, true},
		{model.TierViewer, ActionContentUpdate, ResourcePage, false},
		{model.TierAdmin, ActionAuditRead, ResourceAuditLog, true},
		{model.TierEditor, ActionAuditRead, ResourceAuditLog, false},
		{model.TierAdmin, ActionViewersRead, ResourceSiteStatus, true},
		{model.TierViewer, ActionViewersRead, ResourceSiteStatus, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.action)+"/"+tt.tier.String(), func(t *testing.T) {
			d := a.Authorize(context.Background(), Principal{IdentityRef: "u-1", Tier: tt.tier}, tt.action, tt.resource, "r-1")
			if d.Allowed != tt.want {
				t.Fatalf("Allowed = %v, want %v (reason %q)", d.Allowed, tt.want, d.Reason)
			}
		})
	}
}

func TestNewAuthorizer_BadPolicy(t *testing.T) {
	if _, err := NewAuthorizer(Config{PolicyBytes: []byte("permit (")}); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestCheck_NoPrincipal(t *testing.T) {
	a := newTestAuthorizer(t)
	err := a.Check(context.Background(), ActionSiteStatusUpdate, ResourceSiteStatus, "st-1")
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("err = %v, want ErrForbidden", err)
	}
}

func TestContextHelpers(t *testing.T) {
	if ActorFromContext(context.Background()) != "" {
		t.Fatal("empty context should have no actor")
	}
	ctx := WithPrincipal(context.Background(), Principal{IdentityRef: "u-1", Tier: model.TierAdmin})
	if ActorFromContext(ctx) != "u-1" {
		t.Fatalf("actor = %q", ActorFromContext(ctx))
	}
}

func TestGuardedStore(t *testing.T) {
	a := newTestAuthorizer(t)
	mem := memstore.New()
	g := Guard(mem, a)

	editor := WithPrincipal(context.Background(), Principal{IdentityRef: "u-ed", Tier: model.TierEditor})
	admin := WithPrincipal(context.Background(), Principal{IdentityRef: "u-ad", Tier: model.TierAdmin})

	st, err := g.GetSingleton(editor)
	if err != nil {
		t.Fatalf("reads pass through: %v", err)
	}

	if _, err := g.UpdateSingleton(editor, st.ID, model.StatusFields{Unavailable: true}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("editor update err = %v, want ErrForbidden", err)
	}
	if got, _ := mem.GetSingleton(context.Background()); got.Unavailable {
		t.Fatal("denied write reached the store")
	}

	if _, err := g.UpdateSingleton(admin, st.ID, model.StatusFields{Unavailable: true}); err != nil {
		t.Fatalf("admin update: %v", err)
	}

	if _, err := g.ListAudit(editor, 10); !errors.Is(err, ErrForbidden) {
		t.Fatalf("editor audit err = %v, want ErrForbidden", err)
	}

	err = g.RunInTransaction(editor, func(tx store.Store) error {
		_, err := tx.UpdateSingleton(editor, st.ID, model.StatusFields{})
		return err
	})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("transactional update err = %v, want ErrForbidden", err)
	}
}
