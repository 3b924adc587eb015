// Package client talks to a running sitegate server over its HTTP/JSON API.
//
// The HTTP client satisfies the same store interfaces the server uses
// internally (availability.Store, content.Store, session.Provider and
// session.PrivilegeLookup), so command-line tools can run a Broadcaster,
// a content Cache or a session Resolver against a remote site.
package client

import (
	"context"
	"time"

	"github.com/alfredjeanlab/sitegate/internal/model"
	"github.com/alfredjeanlab/sitegate/internal/presence"
)

// SiteClient is the interface for interacting with a sitegate server.
type SiteClient interface {
	// Availability
	GetSingleton(ctx context.Context) (*model.SiteStatus, error)
	UpdateSingleton(ctx context.Context, id string, fields model.StatusFields) (*model.SiteStatus, error)
	SetAvailability(ctx context.Context, unavailable bool, message *string) (*model.SiteStatus, error)
	Viewers(ctx context.Context, staleThreshold time.Duration) ([]presence.Entry, error)

	// Content
	ListContent(ctx context.Context, pageName string) ([]*model.ContentEntry, error)
	UpdateContent(ctx context.Context, id, value string) (*model.ContentEntry, error)

	// Session
	Session(ctx context.Context) (*SessionInfo, error)
	CurrentIdentity(ctx context.Context) (*model.Identity, error)
	GetPrivilege(ctx context.Context, identityRef string) (*model.PrivilegeRecord, error)
	Revoke(ctx context.Context, id *model.Identity) error
	Menu(ctx context.Context) ([]MenuEntry, error)

	// Audit
	ListAudit(ctx context.Context, limit int) ([]*model.AuditEntry, error)

	// Health
	Health(ctx context.Context) (*HealthStatus, error)

	Close() error
}

// SessionInfo is the server's view of the caller's session.
type SessionInfo struct {
	SignedIn    bool       `json:"signed_in"`
	IdentityRef string     `json:"identity_ref,omitempty"`
	Email       string     `json:"email,omitempty"`
	Tier        model.Tier `json:"tier,omitempty"`
	TierLabel   string     `json:"tier_label,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// MenuEntry is one admin navigation link as served by /v1/menu.
type MenuEntry struct {
	Label    string     `json:"label"`
	Path     string     `json:"path"`
	Icon     string     `json:"icon"`
	Required model.Tier `json:"required"`
}

// HealthStatus is the response of /v1/health.
type HealthStatus struct {
	Status          string `json:"status"`
	SiteUnavailable bool   `json:"site_unavailable"`
}
