// Package store defines the persistence interface for the site gate.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/alfredjeanlab/sitegate/internal/model"
)

var (
	// ErrNotFound is returned when a keyed row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrSingletonMissing means the site_status table has no row.
	ErrSingletonMissing = errors.New("site status singleton missing")

	// ErrSingletonDuplicate means the site_status table has more than one row.
	ErrSingletonDuplicate = errors.New("site status singleton duplicated")
)

// Store defines the persistence interface for privileges, the site status
// singleton, page content, the audit log and revoked sessions.
type Store interface {
	// Privileges. GetPrivilege returns (nil, nil) when the identity has no
	// record; absence is a valid state, not an error.
	GetPrivilege(ctx context.Context, identityRef string) (*model.PrivilegeRecord, error)
	SetPrivilege(ctx context.Context, rec *model.PrivilegeRecord) error
	DeletePrivilege(ctx context.Context, identityRef string) error
	ListPrivileges(ctx context.Context) ([]*model.PrivilegeRecord, error)

	// Site status singleton.
	GetSingleton(ctx context.Context) (*model.SiteStatus, error)
	UpdateSingleton(ctx context.Context, id string, fields model.StatusFields) (*model.SiteStatus, error)

	// Page content
	ListContent(ctx context.Context, pageName string) ([]*model.ContentEntry, error)
	GetContent(ctx context.Context, id string) (*model.ContentEntry, error)
	UpdateContent(ctx context.Context, id, value string) (*model.ContentEntry, error)
	UpsertContent(ctx context.Context, entry *model.ContentEntry) error

	// Audit log
	RecordAudit(ctx context.Context, entry *model.AuditEntry) error
	ListAudit(ctx context.Context, limit int) ([]*model.AuditEntry, error)

	// Revoked sessions
	RevokeSession(ctx context.Context, sessionID string, expiresAt time.Time) error
	IsSessionRevoked(ctx context.Context, sessionID string) (bool, error)

	// Transaction support
	RunInTransaction(ctx context.Context, fn func(tx Store) error) error

	// Lifecycle
	Close() error
}
