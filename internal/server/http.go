package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/alfredjeanlab/sitegate/internal/authz"
	"github.com/alfredjeanlab/sitegate/internal/availability"
	"github.com/alfredjeanlab/sitegate/internal/gate"
	"github.com/alfredjeanlab/sitegate/internal/menu"
	"github.com/alfredjeanlab/sitegate/internal/metrics"
	"github.com/alfredjeanlab/sitegate/internal/model"
	"github.com/alfredjeanlab/sitegate/internal/session"
	"github.com/alfredjeanlab/sitegate/internal/store"
)

// NewHTTPHandler returns an http.Handler with all routes registered.
// Public pages sit behind the maintenance notice; admin screens and the
// API stay reachable while the site is unavailable.
func (s *SiteServer) NewHTTPHandler() http.Handler {
	mux := http.NewServeMux()
	for _, p := range publicPages {
		mux.Handle("GET "+p.Pattern, s.publicHandler(p, http.StatusOK))
	}
	mux.Handle("/", s.publicHandler(notFoundPage, http.StatusNotFound))

	mux.HandleFunc("GET /admin/login", s.handleLoginForm)
	mux.HandleFunc("POST /admin/login", s.handleLogin)
	mux.HandleFunc("POST /admin/logout", s.handleLogout)
	mux.Handle("GET /admin/dashboard", s.gate.Require(model.TierViewer, http.HandlerFunc(s.handleDashboard)))
	mux.Handle("GET /admin/services", s.gate.Require(model.TierEditor, s.adminSection("services", "Services")))
	mux.Handle("GET /admin/documents", s.gate.Require(model.TierEditor, s.adminSection("documents", "Documents")))
	mux.Handle("GET /admin/pages", s.gate.Require(model.TierEditor, http.HandlerFunc(s.handlePagesForm)))
	mux.Handle("POST /admin/pages/{id}", s.gate.Require(model.TierEditor, http.HandlerFunc(s.handlePagesSubmit)))
	mux.Handle("GET /admin/messages", s.gate.Require(model.TierAdmin, s.adminSection("messages", "Messages")))
	mux.Handle("GET /admin/maintenance", s.gate.Require(model.TierAdmin, http.HandlerFunc(s.handleMaintenanceForm)))
	mux.Handle("POST /admin/maintenance", s.gate.Require(model.TierAdmin, http.HandlerFunc(s.handleMaintenanceSubmit)))

	mux.HandleFunc("GET /v1/health", s.handleHealth)
	mux.HandleFunc("GET /v1/session", s.handleSession)
	mux.HandleFunc("GET /v1/menu", s.handleMenu)
	mux.HandleFunc("GET /v1/availability", s.handleGetAvailability)
	mux.Handle("PUT /v1/availability", s.requireAPI(model.TierAdmin, s.handleSetAvailability))
	mux.HandleFunc("GET /v1/availability/stream", s.handleAvailabilityStream)
	mux.Handle("GET /v1/availability/viewers", s.requireAPI(model.TierAdmin, s.handleViewers))
	mux.HandleFunc("GET /v1/content", s.handleListContent)
	mux.Handle("PUT /v1/content/entries/{id}", s.requireAPI(model.TierEditor, s.handleUpdateContent))
	mux.Handle("GET /v1/audit", s.requireAPI(model.TierAdmin, s.handleListAudit))
	mux.Handle("GET /metrics", metrics.Handler())

	return RecoveryMiddleware(s.logger, LoggingMiddleware(s.logger, s.sessions.Middleware(mux)))
}

// requireAPI is the JSON counterpart of the route gate: API callers get a
// status code instead of a redirect.
func (s *SiteServer) requireAPI(tier model.Tier, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		snap := s.sessions.ResolveRequest(r)
		d := gate.Evaluate(snap, tier)
		metrics.GateDecisions.WithLabelValues(d.String()).Inc()
		switch d {
		case gate.Authorized:
			next(w, r)
		case gate.Unauthenticated:
			writeError(w, http.StatusUnauthorized, "sign in required")
		case gate.Unprovisioned:
			writeError(w, http.StatusForbidden, "access denied, contact an administrator")
		default:
			writeError(w, http.StatusForbidden, fmt.Sprintf("requires %s privilege", tier.Label()))
		}
	})
}

// principalContext returns the request context carrying the signed-in
// identity as the acting principal for guarded writes.
func (s *SiteServer) principalContext(r *http.Request) (context.Context, session.Snapshot) {
	snap := s.sessions.ResolveRequest(r)
	ctx := r.Context()
	if snap.Identity != nil {
		ctx = authz.WithPrincipal(ctx, authz.Principal{
			IdentityRef: snap.Identity.Ref,
			Tier:        snap.Tier(),
		})
	}
	return ctx, snap
}

// handleHealth handles GET /v1/health.
func (s *SiteServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":           "ok",
		"site_unavailable": s.Availability.Read().Unavailable,
	})
}

type sessionResponse struct {
	SignedIn    bool       `json:"signed_in"`
	IdentityRef string     `json:"identity_ref,omitempty"`
	Email       string     `json:"email,omitempty"`
	Tier        model.Tier `json:"tier,omitempty"`
	TierLabel   string     `json:"tier_label,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

func sessionView(snap session.Snapshot) sessionResponse {
	var resp sessionResponse
	if snap.Identity == nil {
		return resp
	}
	resp.SignedIn = true
	resp.IdentityRef = snap.Identity.Ref
	if !snap.Identity.ExpiresAt.IsZero() {
		exp := snap.Identity.ExpiresAt
		resp.ExpiresAt = &exp
	}
	if snap.Privilege != nil {
		resp.Email = snap.Privilege.Email
		resp.Tier = snap.Privilege.Tier
		resp.TierLabel = snap.Privilege.Tier.Label()
	}
	return resp
}

// handleSession handles GET /v1/session.
func (s *SiteServer) handleSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, sessionView(s.sessions.ResolveRequest(r)))
}

// handleMenu handles GET /v1/menu. Signed-out callers get an empty list.
func (s *SiteServer) handleMenu(w http.ResponseWriter, r *http.Request) {
	snap := s.sessions.ResolveRequest(r)
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": menu.Filter(menu.Default(), snap.Privilege),
	})
}

// decodeJSON reads a JSON request body into v.
func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return inputError("invalid JSON body: " + err.Error())
	}
	return nil
}

// errorStatus maps domain errors to HTTP status codes.
func errorStatus(err error) int {
	var (
		ve *model.ValidationError
		ie inputError
	)
	switch {
	case errors.As(err, &ve), errors.As(err, &ie):
		return http.StatusBadRequest
	case errors.Is(err, authz.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, availability.ErrSingletonMissing), errors.Is(err, availability.ErrSingletonDuplicate):
		return http.StatusInternalServerError
	case availability.IsWriteFailure(err):
		return http.StatusBadGateway
	case errors.Is(err, availability.ErrClosed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeErr writes err with the status errorStatus assigns it.
func writeErr(w http.ResponseWriter, err error) {
	writeError(w, errorStatus(err), err.Error())
}
