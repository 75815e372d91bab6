// Package assistant proxies the per-project assistant HTTP API. It resolves
// each project's FQDN lazily (caching it on the project record), keeps a
// prepared client per project, and bridges the assistant's server-sent
// events to callers.
package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/codeopen/codeopen/internal/apperr"
	"github.com/codeopen/codeopen/internal/image"
	"github.com/codeopen/codeopen/internal/log"
	"github.com/codeopen/codeopen/internal/platform"
	"github.com/codeopen/codeopen/internal/store"
)

const defaultTimeout = 120 * time.Second

// ProjectStore is the slice of the store the proxy consumes. The proxy holds
// project ids only and re-reads records on demand.
type ProjectStore interface {
	GetProject(ctx context.Context, id string) (*store.Project, error)
	UpdateProject(ctx context.Context, id string, upd store.ProjectUpdate) error
}

// AppReader resolves platform-assigned FQDNs.
type AppReader interface {
	GetApp(ctx context.Context, appUUID string) (*platform.App, error)
}

// Proxy is the assistant gateway. Safe for concurrent use.
type Proxy struct {
	store ProjectStore
	apps  AppReader
	// wildcardDomain is the last-resort FQDN source.
	wildcardDomain string

	mu      sync.RWMutex
	clients map[string]*client
}

// client is one project's prepared connection.
type client struct {
	baseURL string
	http    *http.Client
}

// New creates a Proxy.
func New(s ProjectStore, apps AppReader, wildcardDomain string) *Proxy {
	return &Proxy{
		store:          s,
		apps:           apps,
		wildcardDomain: wildcardDomain,
		clients:        make(map[string]*client),
	}
}

// Evict drops the cached client for a project. Called when the project stops
// or is deleted.
func (p *Proxy) Evict(projectID string) {
	p.mu.Lock()
	delete(p.clients, projectID)
	p.mu.Unlock()
}

// Session is one assistant conversation.
type Session struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// MessagePart is one part of an outbound message.
type MessagePart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// FileContent is the assistant's view of one workspace file.
type FileContent struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// AppInfo returns the assistant's self-description.
func (p *Proxy) AppInfo(ctx context.Context, projectID string) (json.RawMessage, error) {
	var out json.RawMessage
	err := p.do(ctx, projectID, http.MethodGet, "/app", nil, &out)
	return out, err
}

// ListSessions lists the project's assistant sessions.
func (p *Proxy) ListSessions(ctx context.Context, projectID string) ([]Session, error) {
	var sessions []Session
	if err := p.do(ctx, projectID, http.MethodGet, "/session", nil, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// CreateSession opens a new assistant session.
func (p *Proxy) CreateSession(ctx context.Context, projectID, title string) (*Session, error) {
	body := map[string]any{}
	if title != "" {
		body["title"] = title
	}
	var s Session
	if err := p.do(ctx, projectID, http.MethodPost, "/session", body, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// ListMessages returns a session's message history as the downstream payload.
func (p *Proxy) ListMessages(ctx context.Context, projectID, sessionID string) (json.RawMessage, error) {
	var out json.RawMessage
	path := "/session/" + url.PathEscape(sessionID) + "/message"
	err := p.do(ctx, projectID, http.MethodGet, path, nil, &out)
	return out, err
}

// SendMessage posts a prompt to a session and returns the assistant's reply
// payload. Blocks until the assistant answers.
func (p *Proxy) SendMessage(ctx context.Context, projectID, sessionID string, parts []MessagePart) (json.RawMessage, error) {
	if len(parts) == 0 {
		return nil, apperr.New(apperr.KindValidation, "empty_message", "message needs at least one part")
	}
	body := map[string]any{"parts": parts}
	var out json.RawMessage
	path := "/session/" + url.PathEscape(sessionID) + "/message"
	err := p.do(ctx, projectID, http.MethodPost, path, body, &out)
	return out, err
}

// ReadFile reads one workspace file through the assistant.
func (p *Proxy) ReadFile(ctx context.Context, projectID, filePath string) (*FileContent, error) {
	var fc FileContent
	path := "/file?path=" + url.QueryEscape(filePath)
	if err := p.do(ctx, projectID, http.MethodGet, path, nil, &fc); err != nil {
		return nil, err
	}
	return &fc, nil
}

// Find searches the workspace through the assistant.
func (p *Proxy) Find(ctx context.Context, projectID, pattern string) (json.RawMessage, error) {
	var out json.RawMessage
	path := "/find?pattern=" + url.QueryEscape(pattern)
	err := p.do(ctx, projectID, http.MethodGet, path, nil, &out)
	return out, err
}

// EventStreamURL returns the assistant's SSE endpoint for direct caller
// connections. The only operation that does not require a running project.
func (p *Proxy) EventStreamURL(ctx context.Context, projectID string) (string, error) {
	proj, err := p.store.GetProject(ctx, projectID)
	if err != nil {
		return "", err
	}
	c, err := p.clientFor(ctx, proj)
	if err != nil {
		return "", err
	}
	return c.baseURL + "/event", nil
}

// do performs one proxied call, enforcing the running precondition and
// resolving the client.
func (p *Proxy) do(ctx context.Context, projectID, method, path string, body, result any) error {
	proj, err := p.store.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	if proj.Status != store.StatusRunning {
		return apperr.New(apperr.KindUnavailable, "project_not_running",
			"project %s is %s, not running", projectID, proj.Status)
	}
	c, err := p.clientFor(ctx, proj)
	if err != nil {
		return err
	}
	return c.do(ctx, method, path, body, result)
}

// clientFor returns the cached client for a project, building one (and
// resolving the FQDN) on first use. The read path takes only the read lock.
func (p *Proxy) clientFor(ctx context.Context, proj *store.Project) (*client, error) {
	p.mu.RLock()
	c, ok := p.clients[proj.ID]
	p.mu.RUnlock()
	if ok {
		return c, nil
	}

	baseURL, err := p.resolveBaseURL(ctx, proj)
	if err != nil {
		return nil, err
	}
	c = &client{baseURL: baseURL, http: &http.Client{Timeout: defaultTimeout}}

	p.mu.Lock()
	if existing, ok := p.clients[proj.ID]; ok {
		c = existing // lost the race; keep the winner
	} else {
		p.clients[proj.ID] = c
	}
	p.mu.Unlock()
	return c, nil
}

// resolveBaseURL walks the FQDN fallback chain: stored record, platform
// lookup, wildcard construction. Resolved values are written back so the
// next cold start skips the platform call. Two racers writing the same FQDN
// is harmless.
func (p *Proxy) resolveBaseURL(ctx context.Context, proj *store.Project) (string, error) {
	if proj.FQDNURL != "" {
		return normalizeBaseURL(proj.FQDNURL), nil
	}

	app, err := p.apps.GetApp(ctx, proj.PlatformAppUUID)
	if err == nil && app.FQDN != "" {
		fqdn := firstFQDN(app.FQDN)
		p.writeBackFQDN(ctx, proj.ID, fqdn)
		return normalizeBaseURL(fqdn), nil
	}
	if err != nil {
		log.Warn("platform fqdn lookup failed", "project_id", proj.ID, "error", err)
	}

	if p.wildcardDomain != "" {
		fqdn := "https://" + image.AssistantFQDN(proj.Slug, p.wildcardDomain)
		p.writeBackFQDN(ctx, proj.ID, fqdn)
		return normalizeBaseURL(fqdn), nil
	}

	return "", apperr.New(apperr.KindConfig, "fqdn_unresolvable",
		"no FQDN for project %s: platform reports none and no wildcard domain is configured", proj.ID)
}

func (p *Proxy) writeBackFQDN(ctx context.Context, projectID, fqdn string) {
	if err := p.store.UpdateProject(ctx, projectID, store.ProjectUpdate{FQDNURL: &fqdn}); err != nil {
		log.Warn("caching fqdn failed", "project_id", projectID, "error", err)
	}
}

// firstFQDN picks the first entry of a comma-joined FQDN list. The platform
// suffixes https entries with the container port they route to; that suffix
// is not part of the public address and is stripped.
func firstFQDN(raw string) string {
	first := raw
	if i := strings.IndexByte(raw, ','); i >= 0 {
		first = raw[:i]
	}
	first = strings.TrimSpace(first)
	if u, err := url.Parse(first); err == nil && u.Scheme == "https" && u.Port() != "" {
		u.Host = u.Hostname()
		return u.String()
	}
	return first
}

func normalizeBaseURL(fqdn string) string {
	if !strings.Contains(fqdn, "://") {
		fqdn = "https://" + fqdn
	}
	return strings.TrimSuffix(fqdn, "/")
}

// do performs one downstream request. 4xx statuses map onto the taxonomy;
// 5xx and transport failures surface as assistant upstream errors.
func (c *client) do(ctx context.Context, method, path string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return apperr.Wrap(ctx.Err(), apperr.KindTransport, "assistant_canceled", "assistant request canceled")
		}
		return apperr.Wrap(err, apperr.KindUpstream, "assistant_unreachable", "%s %s", method, path)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperr.Wrap(err, apperr.KindUpstream, "assistant_read", "reading response body")
	}

	if resp.StatusCode >= 400 {
		return statusError(resp.StatusCode, respBody)
	}
	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return apperr.Wrap(err, apperr.KindUpstream, "assistant_protocol",
				"unparseable response for %s %s", method, path)
		}
	}
	return nil
}

func statusError(status int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = "assistant request failed"
	}
	switch {
	case status == http.StatusBadRequest:
		return &apperr.Error{Kind: apperr.KindValidation, Code: "assistant_bad_request", Message: msg,
			Upstream: apperr.UpstreamAssistant, Status: status}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &apperr.Error{Kind: apperr.KindAuth, Code: "assistant_auth", Message: msg,
			Upstream: apperr.UpstreamAssistant, Status: status}
	case status == http.StatusNotFound:
		return &apperr.Error{Kind: apperr.KindNotFound, Code: "assistant_not_found", Message: msg,
			Upstream: apperr.UpstreamAssistant, Status: status}
	case status == http.StatusConflict:
		return &apperr.Error{Kind: apperr.KindConflict, Code: "assistant_conflict", Message: msg,
			Upstream: apperr.UpstreamAssistant, Status: status}
	case status == http.StatusTooManyRequests:
		return &apperr.Error{Kind: apperr.KindRateLimited, Code: "assistant_rate_limited", Message: msg,
			Upstream: apperr.UpstreamAssistant, Status: status}
	default:
		return apperr.Upstreamf(apperr.UpstreamAssistant, status, "%s", msg)
	}
}
