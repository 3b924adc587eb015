// Package memstore is an in-memory store.Store used for single-process
// deployments without a database and as a test double.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alfredjeanlab/sitegate/internal/idgen"
	"github.com/alfredjeanlab/sitegate/internal/model"
	"github.com/alfredjeanlab/sitegate/internal/store"
)

// Store keeps every table in maps guarded by a single mutex.
type Store struct {
	mu sync.Mutex

	privileges map[string]*model.PrivilegeRecord
	statuses   map[string]*model.SiteStatus
	content    map[string]*model.ContentEntry
	audit      []*model.AuditEntry
	revoked    map[string]time.Time

	now func() time.Time
}

var _ store.Store = (*Store)(nil)

// New returns an empty store seeded with one site status row, the same
// shape the postgres migrations produce.
func New() *Store {
	s := newEmpty()
	s.statuses["st-singleton"] = &model.SiteStatus{ID: "st-singleton", Version: 1, LastUpdated: s.now()}
	return s
}

// NewEmpty returns a store without the site status row.
func NewEmpty() *Store {
	return newEmpty()
}

func newEmpty() *Store {
	return &Store{
		privileges: make(map[string]*model.PrivilegeRecord),
		statuses:   make(map[string]*model.SiteStatus),
		content:    make(map[string]*model.ContentEntry),
		revoked:    make(map[string]time.Time),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// PutStatus inserts or replaces a site status row. It bypasses the
// singleton rule so tests can build duplicated tables.
func (s *Store) PutStatus(st *model.SiteStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *st
	c.Message = model.CloneString(st.Message)
	s.statuses[st.ID] = &c
}

func (s *Store) GetPrivilege(_ context.Context, identityRef string) (*model.PrivilegeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.privileges[identityRef]
	if !ok {
		return nil, nil
	}
	c := *rec
	return &c, nil
}

func (s *Store) SetPrivilege(_ context.Context, rec *model.PrivilegeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *rec
	if existing, ok := s.privileges[rec.IdentityRef]; ok {
		c.CreatedAt = existing.CreatedAt
	} else if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}
	s.privileges[rec.IdentityRef] = &c
	return nil
}

func (s *Store) DeletePrivilege(_ context.Context, identityRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.privileges[identityRef]; !ok {
		return store.ErrNotFound
	}
	delete(s.privileges, identityRef)
	return nil
}

func (s *Store) ListPrivileges(_ context.Context) ([]*model.PrivilegeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.PrivilegeRecord, 0, len(s.privileges))
	for _, rec := range s.privileges {
		c := *rec
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].IdentityRef < out[j].IdentityRef
	})
	return out, nil
}

func (s *Store) GetSingleton(_ context.Context) (*model.SiteStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch len(s.statuses) {
	case 0:
		return nil, store.ErrSingletonMissing
	case 1:
		for _, st := range s.statuses {
			return copyStatus(st), nil
		}
	}
	return nil, store.ErrSingletonDuplicate
}

func (s *Store) UpdateSingleton(_ context.Context, id string, fields model.StatusFields) (*model.SiteStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.statuses[id]
	if !ok {
		return nil, store.ErrSingletonMissing
	}
	st.Unavailable = fields.Unavailable
	st.Message = model.CloneString(fields.Message)
	st.Version++
	// Keep timestamps strictly increasing so ordering by LastUpdated is
	// total even when two writes land within the clock resolution.
	now := s.now()
	if !now.After(st.LastUpdated) {
		now = st.LastUpdated.Add(time.Microsecond)
	}
	st.LastUpdated = now
	return copyStatus(st), nil
}

func (s *Store) ListContent(_ context.Context, pageName string) ([]*model.ContentEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.ContentEntry
	for _, e := range s.content {
		if pageName != "" && e.PageName != pageName {
			continue
		}
		c := *e
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) GetContent(_ context.Context, id string) (*model.ContentEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.content[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *e
	return &c, nil
}

func (s *Store) UpdateContent(_ context.Context, id, value string) (*model.ContentEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.content[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	e.Value = value
	e.UpdatedAt = s.now()
	c := *e
	return &c, nil
}

func (s *Store) UpsertContent(_ context.Context, entry *model.ContentEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for _, e := range s.content {
		if e.PageName == entry.PageName && e.SectionKey == entry.SectionKey {
			e.ContentType = entry.ContentType
			e.Value = entry.Value
			e.Order = entry.Order
			e.UpdatedAt = now
			entry.ID = e.ID
			return nil
		}
	}
	if entry.ID == "" {
		id, err := idgen.New(idgen.KindContent)
		if err != nil {
			return err
		}
		entry.ID = id
	}
	if entry.ContentType == "" {
		entry.ContentType = "text"
	}
	c := *entry
	c.CreatedAt, c.UpdatedAt = now, now
	s.content[c.ID] = &c
	return nil
}

func (s *Store) RecordAudit(_ context.Context, entry *model.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.ID == "" {
		id, err := idgen.New(idgen.KindAudit)
		if err != nil {
			return err
		}
		entry.ID = id
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	c := *entry
	s.audit = append(s.audit, &c)
	return nil
}

// ListAudit returns the newest entries first.
func (s *Store) ListAudit(_ context.Context, limit int) ([]*model.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = 100
	}
	out := make([]*model.AuditEntry, 0, min(limit, len(s.audit)))
	for i := len(s.audit) - 1; i >= 0 && len(out) < limit; i-- {
		c := *s.audit[i]
		out = append(out, &c)
	}
	return out, nil
}

func (s *Store) RevokeSession(_ context.Context, sessionID string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.revoked[sessionID]; !ok {
		s.revoked[sessionID] = expiresAt
	}
	return nil
}

func (s *Store) IsSessionRevoked(_ context.Context, sessionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.revoked[sessionID]
	return ok, nil
}

// RunInTransaction runs fn against the store itself. Writes are not rolled
// back on error.
func (s *Store) RunInTransaction(_ context.Context, fn func(tx store.Store) error) error {
	return fn(s)
}

func (s *Store) Close() error {
	return nil
}

func copyStatus(st *model.SiteStatus) *model.SiteStatus {
	c := *st
	c.Message = model.CloneString(st.Message)
	return &c
}
