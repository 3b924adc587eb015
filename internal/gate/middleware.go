package gate

import (
	"log/slog"
	"net/http"

	"github.com/alfredjeanlab/sitegate/internal/metrics"
	"github.com/alfredjeanlab/sitegate/internal/model"
	"github.com/alfredjeanlab/sitegate/internal/session"
)

// RequestResolver resolves the session of an HTTP request.
type RequestResolver interface {
	ResolveRequest(r *http.Request) session.Snapshot
}

// Middleware guards admin handlers.
type Middleware struct {
	Resolver RequestResolver

	// Denied renders the "access denied, contact an administrator" page
	// for unprovisioned identities and must write status 403 itself. A
	// plain 403 is written when nil.
	Denied http.Handler

	Logger *slog.Logger
}

// Require wraps next so it only runs for sessions satisfying tier. Each
// request is a fresh render, so the navigation of the decision applies
// directly.
func (m *Middleware) Require(tier model.Tier, next http.Handler) http.Handler {
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		snap := m.Resolver.ResolveRequest(r)
		d := Evaluate(snap, tier)
		metrics.GateDecisions.WithLabelValues(d.String()).Inc()

		switch d {
		case Authorized:
			next.ServeHTTP(w, r)
		case Unprovisioned:
			logger.Info("unprovisioned identity denied", "identity", snap.Identity.Ref, "path", r.URL.Path)
			if m.Denied != nil {
				m.Denied.ServeHTTP(w, r)
				return
			}
			http.Error(w, "access denied, contact an administrator", http.StatusForbidden)
		case Unauthenticated, InsufficientPrivilege:
			w.Header().Set("Cache-Control", "no-store")
			http.Redirect(w, r, string(navigationFor(d)), http.StatusSeeOther)
		default:
			// ResolveRequest always settles, so Loading is unreachable here.
			http.Error(w, "session not resolved", http.StatusServiceUnavailable)
		}
	})
}
