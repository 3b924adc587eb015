package server

import (
	"context"
	"net/http"
	"strconv"

	"github.com/alfredjeanlab/sitegate/internal/authz"
	"github.com/alfredjeanlab/sitegate/internal/events"
	"github.com/alfredjeanlab/sitegate/internal/model"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

// contentStore is the content.Store the admin editor and public pages read
// through. Writes go through updateContent so they are audited and
// published like API edits.
type contentStore struct{ s *SiteServer }

func (c contentStore) ListContent(ctx context.Context, page string) ([]*model.ContentEntry, error) {
	return c.s.store.ListContent(ctx, page)
}

func (c contentStore) UpdateContent(ctx context.Context, id, value string) (*model.ContentEntry, error) {
	return c.s.updateContent(ctx, id, value)
}

// updateContent writes one entry through the policy guard, then records
// and publishes the edit.
func (s *SiteServer) updateContent(ctx context.Context, id, value string) (*model.ContentEntry, error) {
	if err := model.ValidateContentValue(value); err != nil {
		return nil, err
	}
	entry, err := s.store.UpdateContent(ctx, id, value)
	if err != nil {
		return nil, err
	}
	actor := authz.ActorFromContext(ctx)
	s.recordAndPublish(ctx, events.TopicContentUpdated, model.ActionContentUpdated, actor,
		map[string]any{
			"id":          entry.ID,
			"page_name":   entry.PageName,
			"section_key": entry.SectionKey,
		},
		events.ContentUpdated{Entry: entry, UpdatedBy: actor},
	)
	return entry, nil
}

// handleListContent handles GET /v1/content?page=.
func (s *SiteServer) handleListContent(w http.ResponseWriter, r *http.Request) {
	page := r.URL.Query().Get("page")
	if page == "" {
		writeError(w, http.StatusBadRequest, "page is required")
		return
	}
	entries, err := s.store.ListContent(r.Context(), page)
	if err != nil {
		writeErr(w, err)
		return
	}
	if entries == nil {
		entries = []*model.ContentEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"page": page, "entries": entries})
}

// handleUpdateContent handles PUT /v1/content/entries/{id}.
func (s *SiteServer) handleUpdateContent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req struct {
		Value *string `json:"value"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if req.Value == nil {
		writeError(w, http.StatusBadRequest, "value is required")
		return
	}

	ctx, _ := s.principalContext(r)
	entry, err := s.updateContent(ctx, id, *req.Value)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// handleListAudit handles GET /v1/audit. Entries are newest first.
func (s *SiteServer) handleListAudit(w http.ResponseWriter, r *http.Request) {
	limit := defaultAuditLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxAuditLimit)
	}

	ctx, _ := s.principalContext(r)
	entries, err := s.store.ListAudit(ctx, limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	if entries == nil {
		entries = []*model.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
