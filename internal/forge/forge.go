// Package forge is a thin typed client over the Forgejo REST API. It performs
// no retries; transient-failure policy belongs to the orchestrator.
package forge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/codeopen/codeopen/internal/apperr"
)

const defaultTimeout = 30 * time.Second

// Client talks to a single Forgejo instance.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client (used by tests and for
// custom timeouts).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New creates a Forgejo client for baseURL authenticating with token.
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// User is the authenticated forge account.
type User struct {
	ID       int64  `json:"id"`
	Login    string `json:"login"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
}

// Repo is a forge repository.
type Repo struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	FullName      string `json:"full_name"`
	Description   string `json:"description"`
	Private       bool   `json:"private"`
	CloneURL      string `json:"clone_url"`
	HTMLURL       string `json:"html_url"`
	DefaultBranch string `json:"default_branch"`
	Owner         struct {
		Login string `json:"login"`
	} `json:"owner"`
}

// Content is a file or directory entry in a repository.
type Content struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Type string `json:"type"` // "file", "dir", "symlink", "submodule"
	Size int64  `json:"size"`
}

// CurrentUser returns the account owning the configured token.
func (c *Client) CurrentUser(ctx context.Context) (*User, error) {
	var u User
	if err := c.do(ctx, http.MethodGet, "/api/v1/user", nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateRepoOptions configures CreateRepo.
type CreateRepoOptions struct {
	Name          string `json:"name"`
	Description   string `json:"description,omitempty"`
	Private       bool   `json:"private"`
	AutoInit      bool   `json:"auto_init"`
	DefaultBranch string `json:"default_branch,omitempty"`
}

// CreateRepo creates an empty repository under the token's account. A name
// collision surfaces as a conflict error; the caller owns slug uniqueness.
func (c *Client) CreateRepo(ctx context.Context, opts CreateRepoOptions) (*Repo, error) {
	var r Repo
	if err := c.do(ctx, http.MethodPost, "/api/v1/user/repos", opts, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// MirrorOptions configures MirrorRepo.
type MirrorOptions struct {
	CloneURL    string
	Name        string
	Description string
	Private     bool
}

// MirrorRepo imports an external repository as a one-time copy. Mirroring is
// deliberately disabled: the project takes ownership of the history.
func (c *Client) MirrorRepo(ctx context.Context, opts MirrorOptions) (*Repo, error) {
	body := map[string]any{
		"clone_addr":  opts.CloneURL,
		"repo_name":   opts.Name,
		"description": opts.Description,
		"private":     opts.Private,
		"mirror":      false,
	}
	var r Repo
	if err := c.do(ctx, http.MethodPost, "/api/v1/repos/migrate", body, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// GetRepo fetches a repository by owner and name.
func (c *Client) GetRepo(ctx context.Context, owner, name string) (*Repo, error) {
	var r Repo
	path := "/api/v1/repos/" + url.PathEscape(owner) + "/" + url.PathEscape(name)
	if err := c.do(ctx, http.MethodGet, path, nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// RepoExists reports whether owner/name exists, suppressing the not-found
// error GetRepo would return.
func (c *Client) RepoExists(ctx context.Context, owner, name string) (bool, error) {
	_, err := c.GetRepo(ctx, owner, name)
	if err == nil {
		return true, nil
	}
	if apperr.IsKind(err, apperr.KindNotFound) {
		return false, nil
	}
	return false, err
}

// DeleteRepo deletes owner/name. A missing repository counts as success so
// the operation is idempotent for compensation paths.
func (c *Client) DeleteRepo(ctx context.Context, owner, name string) error {
	path := "/api/v1/repos/" + url.PathEscape(owner) + "/" + url.PathEscape(name)
	err := c.do(ctx, http.MethodDelete, path, nil, nil)
	if err != nil && apperr.IsKind(err, apperr.KindNotFound) {
		return nil
	}
	return err
}

// ListContents lists the entries at path within the repository at ref. The
// API returns an object for files and an array for directories; both are
// normalized to a slice.
func (c *Client) ListContents(ctx context.Context, owner, name, path, ref string) ([]Content, error) {
	p := "/api/v1/repos/" + url.PathEscape(owner) + "/" + url.PathEscape(name) + "/contents"
	if path != "" {
		p += "/" + url.PathEscape(path)
	}
	if ref != "" {
		p += "?ref=" + url.QueryEscape(ref)
	}

	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, p, nil, &raw); err != nil {
		return nil, err
	}

	var many []Content
	if err := json.Unmarshal(raw, &many); err == nil {
		return many, nil
	}
	var one Content
	if err := json.Unmarshal(raw, &one); err == nil {
		return []Content{one}, nil
	}
	return nil, apperr.Upstreamf(apperr.UpstreamForge, 0, "unparseable contents response")
}

// do performs one request and maps the response onto the error taxonomy.
func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
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
	// Forgejo uses the "token" scheme, not "Bearer".
	req.Header.Set("Authorization", "token "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return apperr.Wrap(ctx.Err(), apperr.KindTransport, "forge_canceled", "forge request canceled")
		}
		return apperr.Wrap(err, apperr.KindTransport, "forge_unreachable", "%s %s", method, path)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperr.Wrap(err, apperr.KindTransport, "forge_read", "reading response body")
	}

	if resp.StatusCode >= 400 {
		return c.statusError(resp, respBody)
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return apperr.Wrap(err, apperr.KindUpstream, "forge_protocol",
				"unparseable response for %s %s", method, path)
		}
	}
	return nil
}

func (c *Client) statusError(resp *http.Response, body []byte) error {
	msg := apiMessage(body)
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &apperr.Error{Kind: apperr.KindAuth, Code: "forge_auth", Message: msg,
			Upstream: apperr.UpstreamForge, Status: resp.StatusCode}
	case resp.StatusCode == http.StatusNotFound:
		return &apperr.Error{Kind: apperr.KindNotFound, Code: "forge_not_found", Message: msg,
			Upstream: apperr.UpstreamForge, Status: resp.StatusCode}
	case resp.StatusCode == http.StatusConflict:
		return &apperr.Error{Kind: apperr.KindConflict, Code: "forge_conflict", Message: msg,
			Upstream: apperr.UpstreamForge, Status: resp.StatusCode}
	case resp.StatusCode == http.StatusTooManyRequests:
		return &apperr.Error{Kind: apperr.KindRateLimited, Code: "forge_rate_limited", Message: msg,
			Upstream: apperr.UpstreamForge, Status: resp.StatusCode,
			RetryAfter: retryAfter(resp)}
	case resp.StatusCode >= 500:
		return apperr.Upstreamf(apperr.UpstreamForge, resp.StatusCode, "%s", msg)
	default:
		return &apperr.Error{Kind: apperr.KindUpstream, Code: "forge_error", Message: msg,
			Upstream: apperr.UpstreamForge, Status: resp.StatusCode}
	}
}

// apiMessage extracts the "message" field Forgejo returns on errors, falling
// back to the raw body.
func apiMessage(body []byte) string {
	var parsed struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Message != "" {
		return parsed.Message
	}
	if len(body) == 0 {
		return "forge request failed"
	}
	return string(body)
}

func retryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}
