package server

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"time"

	"github.com/alfredjeanlab/sitegate/internal/availability"
	"github.com/alfredjeanlab/sitegate/internal/content"
	"github.com/alfredjeanlab/sitegate/internal/events"
	"github.com/alfredjeanlab/sitegate/internal/gate"
	"github.com/alfredjeanlab/sitegate/internal/menu"
	"github.com/alfredjeanlab/sitegate/internal/model"
	"github.com/alfredjeanlab/sitegate/internal/session"
)

//go:embed templates/*.html
var templateFS embed.FS

// revokeTimeout bounds the session revocation issued on sign-out.
const revokeTimeout = 10 * time.Second

func parsePages() (*template.Template, error) {
	t, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parsing page templates: %w", err)
	}
	return t, nil
}

// publicPage is one route of the public site and the content page it
// renders.
type publicPage struct {
	Pattern string
	Name    string
	Title   string
}

var publicPages = []publicPage{
	{Pattern: "/{$}", Name: "home", Title: "Home"},
	{Pattern: "/about", Name: "about", Title: "About Us"},
	{Pattern: "/services", Name: "services", Title: "Services"},
	{Pattern: "/services/lift-planning", Name: "lift-planning", Title: "Lift Planning"},
	{Pattern: "/contact", Name: "contact", Title: "Contact"},
	{Pattern: "/contact-form", Name: "contact-form", Title: "Request a Quote"},
	{Pattern: "/sitemap", Name: "sitemap", Title: "Sitemap"},
	{Pattern: "/privacy-terms", Name: "privacy-terms", Title: "Privacy & Terms"},
}

var notFoundPage = publicPage{Name: "not-found", Title: "Page Not Found"}

// editablePages lists the content pages offered by the admin editor.
func editablePages() []string {
	names := make([]string, len(publicPages))
	for i, p := range publicPages {
		names[i] = p.Name
	}
	return names
}

type publicData struct {
	Title    string
	Page     string
	Sections []model.ContentEntry
	cache    *content.Cache
}

// Text returns the section's stored value, or fallback when the page has
// none.
func (d publicData) Text(sectionKey, fallback string) string {
	if v := d.cache.Lookup(sectionKey); v != "" {
		return v
	}
	return fallback
}

// publicHandler renders p behind the maintenance notice. Content is read
// fresh per request; a failed fetch renders the fallbacks.
func (s *SiteServer) publicHandler(p publicPage, status int) http.Handler {
	page := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := content.New(contentStore{s}, "", s.logger)
		defer c.Close()
		c.SetPage(r.Context(), p.Name)
		s.render(w, status, "public", publicData{
			Title:    p.Title,
			Page:     p.Name,
			Sections: c.Entries(),
			cache:    c,
		})
	})
	return availability.Middleware(s.Availability, s.renderNotice, page)
}

// renderNotice writes the maintenance page body; the status line is
// already written.
func (s *SiteServer) renderNotice(w http.ResponseWriter, _ *http.Request, a model.Availability) {
	if err := s.pages.ExecuteTemplate(w, "notice", a); err != nil {
		s.logger.Error("failed to render maintenance notice", "error", err)
	}
}

// render executes the named template into a buffer first so a template
// error still produces a clean 500.
func (s *SiteServer) render(w http.ResponseWriter, status int, name string, data any) {
	var buf bytes.Buffer
	if err := s.pages.ExecuteTemplate(&buf, name, data); err != nil {
		s.logger.Error("failed to render page", "template", name, "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// handleDenied renders the explicit denial for signed-in identities with no
// privilege record.
func (s *SiteServer) handleDenied(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	s.render(w, http.StatusForbidden, "denied", nil)
}

// handleLoginForm handles GET /admin/login.
func (s *SiteServer) handleLoginForm(w http.ResponseWriter, r *http.Request) {
	if snap := s.sessions.ResolveRequest(r); snap.Privilege != nil {
		http.Redirect(w, r, gate.LandingPath, http.StatusSeeOther)
		return
	}
	s.render(w, http.StatusOK, "login", map[string]string{})
}

// handleLogin handles POST /admin/login: it exchanges a sign-in token for
// the session cookie.
func (s *SiteServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.render(w, http.StatusBadRequest, "login", map[string]string{"Error": "Malformed sign-in request."})
		return
	}
	token := r.PostFormValue("token")
	id, err := s.tokens.Verify(r.Context(), token)
	if err != nil {
		s.logger.Info("sign-in rejected", "remote", r.RemoteAddr, "error", err)
		s.render(w, http.StatusUnauthorized, "login", map[string]string{"Error": "Invalid or expired sign-in token."})
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     session.CookieName,
		Value:    token,
		Path:     "/",
		Expires:  id.ExpiresAt,
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	s.logger.Info("signed in", "identity", id.Ref, "session", id.SessionID)
	http.Redirect(w, r, gate.LandingPath, http.StatusSeeOther)
}

// handleLogout handles POST /admin/logout. The cookie is cleared whatever
// happens to the revocation.
func (s *SiteServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	snap := s.sessions.ResolveRequest(r)
	http.SetCookie(w, &http.Cookie{
		Name:     session.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	if id := snap.Identity; id != nil {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), revokeTimeout)
		defer cancel()
		if err := s.tokens.Revoke(ctx, id); err != nil {
			s.logger.Warn("session revocation failed", "identity", id.Ref, "error", err)
		} else {
			s.recordAndPublish(ctx, events.TopicSessionRevoked, model.ActionSessionRevoked, id.Ref,
				map[string]string{"session_id": id.SessionID},
				events.SessionRevoked{SessionID: id.SessionID, IdentityRef: id.Ref},
			)
		}
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

type adminData struct {
	Title        string
	Section      string
	Path         string
	Session      sessionResponse
	Menu         []menu.Entry
	Error        string
	Availability model.Availability

	// Page editor
	Pages   []string
	Page    string
	Entries []model.ContentEntry

	// Maintenance
	Audit []*model.AuditEntry
}

func (s *SiteServer) adminView(r *http.Request, section, title string) adminData {
	snap := s.sessions.ResolveRequest(r)
	return adminData{
		Title:        title,
		Section:      section,
		Path:         r.URL.Path,
		Session:      sessionView(snap),
		Menu:         menu.Filter(menu.Default(), snap.Privilege),
		Availability: s.Availability.Read(),
	}
}

// adminSection renders a screen that only carries the admin chrome.
func (s *SiteServer) adminSection(section, title string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.render(w, http.StatusOK, "admin", s.adminView(r, section, title))
	})
}

// handleDashboard handles GET /admin/dashboard.
func (s *SiteServer) handleDashboard(w http.ResponseWriter, r *http.Request) {
	s.render(w, http.StatusOK, "admin", s.adminView(r, "dashboard", "Dashboard"))
}

// handlePagesForm handles GET /admin/pages?page=.
func (s *SiteServer) handlePagesForm(w http.ResponseWriter, r *http.Request) {
	s.renderPagesEditor(w, r, r.URL.Query().Get("page"), http.StatusOK, "")
}

func (s *SiteServer) renderPagesEditor(w http.ResponseWriter, r *http.Request, page string, status int, errMsg string) {
	if page == "" {
		page = publicPages[0].Name
	}
	c := content.New(contentStore{s}, "", s.logger)
	defer c.Close()
	c.SetPage(r.Context(), page)

	data := s.adminView(r, "pages", "Pages")
	data.Pages = editablePages()
	data.Page = page
	data.Entries = c.Entries()
	data.Error = errMsg
	if errMsg == "" && c.Err() != nil {
		data.Error = "Content could not be loaded."
	}
	s.render(w, status, "admin", data)
}

// handlePagesSubmit handles POST /admin/pages/{id}.
func (s *SiteServer) handlePagesSubmit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.renderPagesEditor(w, r, "", http.StatusBadRequest, "Malformed form submission.")
		return
	}
	page := r.PostFormValue("page")
	ctx, _ := s.principalContext(r)

	c := content.New(contentStore{s}, page, s.logger)
	defer c.Close()
	if err := c.Update(ctx, r.PathValue("id"), r.PostFormValue("value")); err != nil {
		s.renderPagesEditor(w, r, page, errorStatus(err), err.Error())
		return
	}
	http.Redirect(w, r, "/admin/pages?page="+url.QueryEscape(page), http.StatusSeeOther)
}

// handleMaintenanceForm handles GET /admin/maintenance.
func (s *SiteServer) handleMaintenanceForm(w http.ResponseWriter, r *http.Request) {
	s.renderMaintenance(w, r, http.StatusOK, "")
}

func (s *SiteServer) renderMaintenance(w http.ResponseWriter, r *http.Request, status int, errMsg string) {
	data := s.adminView(r, "maintenance", "Maintenance")
	data.Error = errMsg

	ctx, _ := s.principalContext(r)
	audit, err := s.store.ListAudit(ctx, 10)
	if err != nil {
		s.logger.Warn("failed to load recent changes", "error", err)
	}
	data.Audit = audit
	s.render(w, status, "admin", data)
}

// handleMaintenanceSubmit handles POST /admin/maintenance.
func (s *SiteServer) handleMaintenanceSubmit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.renderMaintenance(w, r, http.StatusBadRequest, "Malformed form submission.")
		return
	}
	unavailable := r.PostFormValue("unavailable") == "true"
	message := r.PostFormValue("message")

	ctx, _ := s.principalContext(r)
	if err := s.updateAvailability(ctx, unavailable, &message); err != nil {
		s.renderMaintenance(w, r, errorStatus(err), err.Error())
		return
	}
	http.Redirect(w, r, "/admin/maintenance", http.StatusSeeOther)
}
