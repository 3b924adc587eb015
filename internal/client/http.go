package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alfredjeanlab/sitegate/internal/model"
	"github.com/alfredjeanlab/sitegate/internal/presence"
	"github.com/alfredjeanlab/sitegate/internal/store"
)

const (
	requestTimeout = 30 * time.Second
	maxErrorBody   = 4096
	userAgent      = "sitegate-client"
)

// HTTPClient implements SiteClient over the /v1 JSON API. The session
// token, when set, travels as a bearer token on every request.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

var _ SiteClient = (*HTTPClient)(nil)

// NewHTTPClient returns a client for the site at baseURL, for example
// "http://localhost:8080".
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: requestTimeout,
			// Sign-out answers 303; report it instead of following it.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// BaseURL returns the site address.
func (c *HTTPClient) BaseURL() string { return c.baseURL }

// Close releases nothing; HTTP connections are pooled by net/http.
func (c *HTTPClient) Close() error { return nil }

// APIError is a non-2xx answer from the server. Message is the "error"
// field of the JSON body, or the raw body when it is not JSON.
type APIError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration // set on 503 maintenance answers
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// Unwrap lets errors.Is(err, store.ErrNotFound) work across the wire.
func (e *APIError) Unwrap() error {
	if e.StatusCode == http.StatusNotFound {
		return store.ErrNotFound
	}
	return nil
}

// IsUnauthorized reports whether err is a 401 or 403 from the server.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) &&
		(apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden)
}

// call is one API round trip. A nil in sends no body and a nil out
// discards the response.
type call struct {
	method string
	path   string
	query  url.Values
	in     any
	out    any
}

func (c *HTTPClient) do(ctx context.Context, cl call) error {
	resp, err := c.send(ctx, cl)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return readAPIError(resp)
	}
	if cl.out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(cl.out); err != nil {
		return fmt.Errorf("decoding %s %s: %w", cl.method, cl.path, err)
	}
	return nil
}

func (c *HTTPClient) send(ctx context.Context, cl call) (*http.Response, error) {
	target := c.baseURL + cl.path
	if len(cl.query) > 0 {
		target += "?" + cl.query.Encode()
	}
	var body io.Reader
	if cl.in != nil {
		data, err := json.Marshal(cl.in)
		if err != nil {
			return nil, fmt.Errorf("encoding %s %s: %w", cl.method, cl.path, err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, cl.method, target, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if cl.in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", cl.method, cl.path, err)
	}
	return resp, nil
}

func readAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		apiErr.Message = body.Error
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
		apiErr.RetryAfter = time.Duration(secs) * time.Second
	}
	return apiErr
}

// GetSingleton returns the site status the server holds. A server that
// has not loaded its row yet reports store.ErrSingletonMissing.
func (c *HTTPClient) GetSingleton(ctx context.Context) (*model.SiteStatus, error) {
	var st model.SiteStatus
	if err := c.do(ctx, call{method: http.MethodGet, path: "/v1/availability", out: &st}); err != nil {
		return nil, err
	}
	if st.ID == "" {
		return nil, fmt.Errorf("%w: server has not loaded the site status yet", store.ErrSingletonMissing)
	}
	return &st, nil
}

// UpdateSingleton writes the site status. The server owns the row id.
func (c *HTTPClient) UpdateSingleton(ctx context.Context, _ string, fields model.StatusFields) (*model.SiteStatus, error) {
	return c.SetAvailability(ctx, fields.Unavailable, fields.Message)
}

// SetAvailability turns the maintenance notice on or off. A nil message
// is sent as an explicit null and clears the stored one.
func (c *HTTPClient) SetAvailability(ctx context.Context, unavailable bool, message *string) (*model.SiteStatus, error) {
	in := struct {
		Unavailable bool    `json:"unavailable"`
		Message     *string `json:"message"`
	}{unavailable, message}
	var st model.SiteStatus
	if err := c.do(ctx, call{method: http.MethodPut, path: "/v1/availability", in: in, out: &st}); err != nil {
		return nil, err
	}
	return &st, nil
}

// Viewers lists the open availability streams. A zero staleThreshold
// leaves the cutoff to the server.
func (c *HTTPClient) Viewers(ctx context.Context, staleThreshold time.Duration) ([]presence.Entry, error) {
	q := url.Values{}
	if secs := int(staleThreshold / time.Second); secs > 0 {
		q.Set("stale_threshold_secs", strconv.Itoa(secs))
	}
	var out struct {
		Viewers []presence.Entry `json:"viewers"`
	}
	err := c.do(ctx, call{method: http.MethodGet, path: "/v1/availability/viewers", query: q, out: &out})
	return out.Viewers, err
}

// ListContent returns the sections of one page in display order.
func (c *HTTPClient) ListContent(ctx context.Context, pageName string) ([]*model.ContentEntry, error) {
	var out struct {
		Entries []*model.ContentEntry `json:"entries"`
	}
	q := url.Values{"page": {pageName}}
	err := c.do(ctx, call{method: http.MethodGet, path: "/v1/content", query: q, out: &out})
	return out.Entries, err
}

// UpdateContent replaces the value of one section.
func (c *HTTPClient) UpdateContent(ctx context.Context, id, value string) (*model.ContentEntry, error) {
	var entry model.ContentEntry
	in := map[string]string{"value": value}
	if err := c.do(ctx, call{method: http.MethodPut, path: "/v1/content/entries/" + url.PathEscape(id), in: in, out: &entry}); err != nil {
		return nil, err
	}
	return &entry, nil
}

// Session returns the server's view of the client's token.
func (c *HTTPClient) Session(ctx context.Context) (*SessionInfo, error) {
	var info SessionInfo
	if err := c.do(ctx, call{method: http.MethodGet, path: "/v1/session", out: &info}); err != nil {
		return nil, err
	}
	return &info, nil
}

// CurrentIdentity returns the identity behind the token, or (nil, nil)
// when the server sees no session.
func (c *HTTPClient) CurrentIdentity(ctx context.Context) (*model.Identity, error) {
	info, err := c.Session(ctx)
	if err != nil || !info.SignedIn {
		return nil, err
	}
	id := &model.Identity{Ref: info.IdentityRef}
	if info.ExpiresAt != nil {
		id.ExpiresAt = *info.ExpiresAt
	}
	return id, nil
}

// GetPrivilege returns the session holder's own privilege record. The API
// never exposes another identity's tier, so asking for one is an error.
func (c *HTTPClient) GetPrivilege(ctx context.Context, identityRef string) (*model.PrivilegeRecord, error) {
	info, err := c.Session(ctx)
	if err != nil {
		return nil, err
	}
	if !info.SignedIn || info.Tier == model.TierNone {
		return nil, nil
	}
	if info.IdentityRef != identityRef {
		return nil, fmt.Errorf("session belongs to %s, not %s", info.IdentityRef, identityRef)
	}
	return &model.PrivilegeRecord{IdentityRef: info.IdentityRef, Email: info.Email, Tier: info.Tier}, nil
}

// Revoke signs the client's token out. The logout endpoint answers with a
// redirect, which counts as success.
func (c *HTTPClient) Revoke(ctx context.Context, _ *model.Identity) error {
	return c.do(ctx, call{method: http.MethodPost, path: "/admin/logout"})
}

// Menu returns the admin navigation entries the caller may see.
func (c *HTTPClient) Menu(ctx context.Context) ([]MenuEntry, error) {
	var out struct {
		Entries []MenuEntry `json:"entries"`
	}
	err := c.do(ctx, call{method: http.MethodGet, path: "/v1/menu", out: &out})
	return out.Entries, err
}

// ListAudit returns the newest audit entries. A zero limit uses the
// server default.
func (c *HTTPClient) ListAudit(ctx context.Context, limit int) ([]*model.AuditEntry, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out struct {
		Entries []*model.AuditEntry `json:"entries"`
	}
	err := c.do(ctx, call{method: http.MethodGet, path: "/v1/audit", query: q, out: &out})
	return out.Entries, err
}

// Health returns /v1/health. It needs no token.
func (c *HTTPClient) Health(ctx context.Context) (*HealthStatus, error) {
	var hs HealthStatus
	if err := c.do(ctx, call{method: http.MethodGet, path: "/v1/health", out: &hs}); err != nil {
		return nil, err
	}
	return &hs, nil
}
