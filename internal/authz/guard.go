package authz

import (
	"context"

	"github.com/alfredjeanlab/sitegate/internal/model"
	"github.com/alfredjeanlab/sitegate/internal/store"
)

// GuardedStore enforces the write rules at the store boundary, so a caller
// that skipped the route gate still cannot change availability or content.
// Reads pass through.
type GuardedStore struct {
	store.Store
	authz *Authorizer
}

// Guard wraps s with authorization checks.
func Guard(s store.Store, a *Authorizer) *GuardedStore {
	return &GuardedStore{Store: s, authz: a}
}

func (g *GuardedStore) UpdateSingleton(ctx context.Context, id string, fields model.StatusFields) (*model.SiteStatus, error) {
	if err := g.authz.Check(ctx, ActionSiteStatusUpdate, ResourceSiteStatus, id); err != nil {
		return nil, err
	}
	return g.Store.UpdateSingleton(ctx, id, fields)
}

func (g *GuardedStore) UpdateContent(ctx context.Context, id, value string) (*model.ContentEntry, error) {
	if err := g.authz.Check(ctx, ActionContentUpdate, ResourcePage, id); err != nil {
		return nil, err
	}
	return g.Store.UpdateContent(ctx, id, value)
}

func (g *GuardedStore) ListAudit(ctx context.Context, limit int) ([]*model.AuditEntry, error) {
	if err := g.authz.Check(ctx, ActionAuditRead, ResourceAuditLog, "admin_logs"); err != nil {
		return nil, err
	}
	return g.Store.ListAudit(ctx, limit)
}

// RunInTransaction keeps the guard on the transactional store.
func (g *GuardedStore) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	return g.Store.RunInTransaction(ctx, func(tx store.Store) error {
		return fn(&GuardedStore{Store: tx, authz: g.authz})
	})
}
