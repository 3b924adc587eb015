package session

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
)

// CookieName is the session cookie set by the sign-in form.
const CookieName = "sitegate_session"

type requestStateKey struct{}

// requestState memoizes one resolution per request.
type requestState struct {
	once sync.Once
	snap Snapshot
}

// HTTPResolver resolves sessions from HTTP requests. Requests carry the
// token in the session cookie or an Authorization bearer header.
type HTTPResolver struct {
	Tokens     *Tokens
	Privileges PrivilegeLookup
	Logger     *slog.Logger
}

// Middleware installs a per-request memo so every ResolveRequest call in
// the handler chain shares one lookup.
func (h *HTTPResolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := r.Context().Value(requestStateKey{}).(*requestState); ok {
			next.ServeHTTP(w, r)
			return
		}
		ctx := context.WithValue(r.Context(), requestStateKey{}, &requestState{})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ResolveRequest returns the settled snapshot for r. It never returns a
// resolving snapshot.
func (h *HTTPResolver) ResolveRequest(r *http.Request) Snapshot {
	state, ok := r.Context().Value(requestStateKey{}).(*requestState)
	if !ok {
		return h.resolve(r)
	}
	state.once.Do(func() {
		state.snap = h.resolve(r)
	})
	return state.snap
}

// Provider returns the credential provider for the token presented on r.
func (h *HTTPResolver) Provider(r *http.Request) TokenProvider {
	return TokenProvider{Tokens: h.Tokens, Token: TokenFromRequest(r)}
}

func (h *HTTPResolver) resolve(r *http.Request) Snapshot {
	return Resolve(r.Context(), h.Provider(r), h.Privileges, h.Logger)
}

// TokenFromRequest extracts the bearer token, falling back to the cookie.
func TokenFromRequest(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if c, err := r.Cookie(CookieName); err == nil {
		return c.Value
	}
	return ""
}
