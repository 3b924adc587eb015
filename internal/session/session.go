// Package session resolves who the current visitor is and which privilege
// tier they hold.
package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/alfredjeanlab/sitegate/internal/model"
	"github.com/alfredjeanlab/sitegate/internal/privilege"
)

// Snapshot is the resolved session state. Identity nil means no session;
// Privilege nil means no privilege record. A Snapshot with a nil Identity
// never carries a Privilege.
type Snapshot struct {
	Identity  *model.Identity
	Privilege *model.PrivilegeRecord
	Resolving bool
}

// Tier returns the snapshot's tier, or TierNone.
func (s Snapshot) Tier() model.Tier {
	return privilege.Of(s.Privilege)
}

// SignedIn reports whether the snapshot settled with an identity.
func (s Snapshot) SignedIn() bool {
	return !s.Resolving && s.Identity != nil
}

// Provider owns the credential lifecycle.
type Provider interface {
	// CurrentIdentity returns the active identity, or (nil, nil) when there
	// is no session.
	CurrentIdentity(ctx context.Context) (*model.Identity, error)
	// Revoke invalidates the credential for id.
	Revoke(ctx context.Context, id *model.Identity) error
}

// PrivilegeLookup returns the privilege record for an identity, or
// (nil, nil) when none exists.
type PrivilegeLookup interface {
	GetPrivilege(ctx context.Context, identityRef string) (*model.PrivilegeRecord, error)
}

// Resolve runs one resolution. Any failure, a failed privilege lookup
// included, settles to the signed-out snapshot; nothing is retried. Only a
// lookup that finds no row yields a signed-in identity without privilege.
func Resolve(ctx context.Context, p Provider, privileges PrivilegeLookup, logger *slog.Logger) Snapshot {
	if logger == nil {
		logger = slog.Default()
	}
	id, err := p.CurrentIdentity(ctx)
	if err != nil {
		logger.Info("session resolution failed", "error", err)
		return Snapshot{}
	}
	if id == nil {
		return Snapshot{}
	}
	rec, err := privileges.GetPrivilege(ctx, id.Ref)
	if err != nil {
		logger.Info("privilege lookup failed", "identity", id.Ref, "error", err)
		return Snapshot{}
	}
	if rec != nil && !rec.Tier.IsValid() {
		logger.Warn("ignoring privilege record with unknown tier", "identity", id.Ref, "tier", string(rec.Tier))
		rec = nil
	}
	return Snapshot{Identity: id, Privilege: rec}
}

// ParseIdentityRef validates and canonicalizes an identity reference.
// References are UUIDs issued by the credential provider.
func ParseIdentityRef(s string) (string, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid identity reference %q: %w", s, err)
	}
	return u.String(), nil
}
