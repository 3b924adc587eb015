package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/alfredjeanlab/sitegate/internal/authz"
	"github.com/alfredjeanlab/sitegate/internal/model"
)

// defaultViewerStaleThreshold is how long a viewer may stay idle before the
// roster drops it, unless stale_threshold_secs says otherwise.
const defaultViewerStaleThreshold = 30 * time.Minute

// handleGetAvailability handles GET /v1/availability. It serves this
// instance's observed value and never touches the store.
func (s *SiteServer) handleGetAvailability(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Availability.Status())
}

type setAvailabilityRequest struct {
	Unavailable *bool   `json:"unavailable"`
	Message     *string `json:"message"`
}

// handleSetAvailability handles PUT /v1/availability.
func (s *SiteServer) handleSetAvailability(w http.ResponseWriter, r *http.Request) {
	var req setAvailabilityRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if req.Unavailable == nil {
		writeError(w, http.StatusBadRequest, "unavailable is required")
		return
	}

	ctx, _ := s.principalContext(r)
	if err := s.updateAvailability(ctx, *req.Unavailable, req.Message); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Availability.Status())
}

// updateAvailability writes the flag through the broadcaster, which pushes
// it to every instance, and records the change in the admin log.
func (s *SiteServer) updateAvailability(ctx context.Context, unavailable bool, message *string) error {
	if err := s.Availability.Update(ctx, unavailable, message); err != nil {
		s.logger.Warn("availability update failed", "actor", authz.ActorFromContext(ctx), "error", err)
		return err
	}
	a := s.Availability.Read()
	s.recordAudit(ctx, model.ActionAvailabilityUpdated, authz.ActorFromContext(ctx), map[string]any{
		"unavailable": a.Unavailable,
		"message":     a.Message,
	})
	return nil
}

// handleViewers handles GET /v1/availability/viewers.
func (s *SiteServer) handleViewers(w http.ResponseWriter, r *http.Request) {
	ctx, _ := s.principalContext(r)
	if err := s.authz.Check(ctx, authz.ActionViewersRead, authz.ResourceSiteStatus, "viewers"); err != nil {
		writeErr(w, err)
		return
	}

	stale := defaultViewerStaleThreshold
	if v := r.URL.Query().Get("stale_threshold_secs"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			stale = time.Duration(secs) * time.Second
		}
	}
	viewers := s.Presence.Roster(stale)
	writeJSON(w, http.StatusOK, map[string]any{
		"viewers": viewers,
		"count":   len(viewers),
	})
}
