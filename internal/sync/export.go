package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/alfredjeanlab/sitegate/internal/model"
	"github.com/alfredjeanlab/sitegate/internal/store"
)

// auditExportLimit caps how many admin log rows one export carries.
const auditExportLimit = 10000

// Source is the read side of the store an export needs.
type Source interface {
	GetSingleton(ctx context.Context) (*model.SiteStatus, error)
	ListPrivileges(ctx context.Context) ([]*model.PrivilegeRecord, error)
	ListContent(ctx context.Context, pageName string) ([]*model.ContentEntry, error)
	ListAudit(ctx context.Context, limit int) ([]*model.AuditEntry, error)
}

// header is the first JSONL record written by ExportJSONL.
type header struct {
	Version      string    `json:"version"`
	Type         string    `json:"type"`
	Timestamp    time.Time `json:"timestamp"`
	StatusCount  int       `json:"status_count"`
	RoleCount    int       `json:"role_count"`
	ContentCount int       `json:"content_count"`
	AuditCount   int       `json:"audit_count"`
}

// record wraps a single JSONL line with a type discriminator.
type record struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// ExportJSONL writes the site status, role assignments, page content and
// admin log from s as JSONL to w. A missing status row is exported as
// absent; a duplicated one fails the export.
func ExportJSONL(ctx context.Context, s Source, w io.Writer) error {
	var statuses []*model.SiteStatus
	st, err := s.GetSingleton(ctx)
	switch {
	case err == nil:
		statuses = append(statuses, st)
	case errors.Is(err, store.ErrSingletonMissing):
	default:
		return fmt.Errorf("get site status: %w", err)
	}

	roles, err := s.ListPrivileges(ctx)
	if err != nil {
		return fmt.Errorf("list roles: %w", err)
	}
	sort.Slice(roles, func(i, j int) bool {
		return roles[i].IdentityRef < roles[j].IdentityRef
	})

	content, err := s.ListContent(ctx, "")
	if err != nil {
		return fmt.Errorf("list content: %w", err)
	}
	sort.Slice(content, func(i, j int) bool {
		return content[i].ID < content[j].ID
	})

	audit, err := s.ListAudit(ctx, auditExportLimit)
	if err != nil {
		return fmt.Errorf("list audit: %w", err)
	}
	// ListAudit is newest first; export oldest first so successive
	// exports only append.
	for i, j := 0, len(audit)-1; i < j; i, j = i+1, j-1 {
		audit[i], audit[j] = audit[j], audit[i]
	}

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(header{
		Version:      "1",
		Type:         "header",
		Timestamp:    time.Now().UTC(),
		StatusCount:  len(statuses),
		RoleCount:    len(roles),
		ContentCount: len(content),
		AuditCount:   len(audit),
	}); err != nil {
		return fmt.Errorf("encode header: %w", err)
	}

	for _, st := range statuses {
		if err := enc.Encode(record{Type: "site_status", Data: st}); err != nil {
			return fmt.Errorf("encode site status: %w", err)
		}
	}
	for _, r := range roles {
		if err := enc.Encode(record{Type: "role", Data: r}); err != nil {
			return fmt.Errorf("encode role %s: %w", r.IdentityRef, err)
		}
	}
	for _, c := range content {
		if err := enc.Encode(record{Type: "content", Data: c}); err != nil {
			return fmt.Errorf("encode content %s: %w", c.ID, err)
		}
	}
	for _, a := range audit {
		if err := enc.Encode(record{Type: "audit", Data: a}); err != nil {
			return fmt.Errorf("encode audit %s: %w", a.ID, err)
		}
	}

	return nil
}
