// Package platform is a thin typed client over the Coolify REST API. The API
// has several quirks the rest of the system must not see: lifecycle endpoints
// use GET, the Dockerfile travels base64-encoded, every stored env var grows
// a preview twin, and the logs endpoint answers in three different shapes.
// This package absorbs all of them. It never retries.
package platform

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/codeopen/codeopen/internal/apperr"
)

const defaultTimeout = 60 * time.Second

// Client talks to a single Coolify instance.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New creates a Coolify client for baseURL authenticating with token.
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

// Server is a Coolify-managed host.
type Server struct {
	UUID string `json:"uuid"`
	Name string `json:"name"`
	IP   string `json:"ip"`
}

// Project is a Coolify project (a grouping of applications).
type Project struct {
	UUID string `json:"uuid"`
	Name string `json:"name"`
}

// App is a Coolify application. FQDN is the definitive public URL once the
// platform has assigned one.
type App struct {
	UUID         string `json:"uuid"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	Status       string `json:"status"`
	FQDN         string `json:"fqdn"`
	PortsExposes string `json:"ports_exposes"`
}

// EnvVar is one application environment variable. The platform auto-creates a
// preview twin for every variable it stores; IsPreview distinguishes them.
type EnvVar struct {
	UUID      string `json:"uuid"`
	Key       string `json:"key"`
	Value     string `json:"value"`
	IsPreview bool   `json:"is_preview"`
}

// Deployment identifies one triggered build.
type Deployment struct {
	DeploymentUUID string `json:"deployment_uuid"`
	Message        string `json:"message"`
}

// DeployResult is the response of DeployApp.
type DeployResult struct {
	Deployments []Deployment `json:"deployments"`
}

// HealthCheck configures the platform's container health probe.
type HealthCheck struct {
	Enabled bool
	Path    string
	Port    int
}

// ListServers lists the servers the token can deploy to.
func (c *Client) ListServers(ctx context.Context) ([]Server, error) {
	var servers []Server
	if err := c.do(ctx, http.MethodGet, "/api/v1/servers", nil, &servers); err != nil {
		return nil, err
	}
	return servers, nil
}

// ListProjects lists the Coolify projects visible to the token.
func (c *Client) ListProjects(ctx context.Context) ([]Project, error) {
	var projects []Project
	if err := c.do(ctx, http.MethodGet, "/api/v1/projects", nil, &projects); err != nil {
		return nil, err
	}
	return projects, nil
}

// CreateAppOptions configures application creation.
type CreateAppOptions struct {
	ProjectUUID     string
	ServerUUID      string
	EnvironmentName string
	Name            string
	Description     string
	// Dockerfile is the raw Dockerfile text. It is base64-encoded exactly
	// once here; sending it inline triggers the platform's git-URL rewriting
	// defects.
	Dockerfile string
	// DockerImage is used by CreateAppFromDockerImage instead of Dockerfile.
	DockerImage string
	// PortsExposes is a comma-joined port list, e.g. "4096,4097".
	PortsExposes string
	// Domains is the FQDN:port routing plan, comma-joined. Optional.
	Domains       string
	InstantDeploy bool
	HealthCheck   HealthCheck
}

type createAppResponse struct {
	UUID string `json:"uuid"`
}

// CreateAppFromDockerfile creates an application built from a Dockerfile.
// Returns the new application UUID. The create endpoint does not reliably
// accept all settings; callers should re-assert ports, domains and health
// check via UpdateApp afterwards.
func (c *Client) CreateAppFromDockerfile(ctx context.Context, opts CreateAppOptions) (string, error) {
	body := map[string]any{
		"project_uuid":      opts.ProjectUUID,
		"server_uuid":       opts.ServerUUID,
		"environment_name":  opts.EnvironmentName,
		"name":              opts.Name,
		"description":       opts.Description,
		"dockerfile":        base64.StdEncoding.EncodeToString([]byte(opts.Dockerfile)),
		"ports_exposes":     opts.PortsExposes,
		"instant_deploy":    opts.InstantDeploy,
		"health_check_enabled": opts.HealthCheck.Enabled,
	}
	if opts.Domains != "" {
		body["domains"] = opts.Domains
	}
	if opts.HealthCheck.Path != "" {
		body["health_check_path"] = opts.HealthCheck.Path
	}
	if opts.HealthCheck.Port != 0 {
		body["health_check_port"] = strconv.Itoa(opts.HealthCheck.Port)
	}

	var resp createAppResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/applications/dockerfile", body, &resp); err != nil {
		return "", err
	}
	return resp.UUID, nil
}

// CreateAppFromDockerImage creates an application running a prebuilt image.
func (c *Client) CreateAppFromDockerImage(ctx context.Context, opts CreateAppOptions) (string, error) {
	body := map[string]any{
		"project_uuid":     opts.ProjectUUID,
		"server_uuid":      opts.ServerUUID,
		"environment_name": opts.EnvironmentName,
		"name":             opts.Name,
		"description":      opts.Description,
		"docker_image":     opts.DockerImage,
		"ports_exposes":    opts.PortsExposes,
		"instant_deploy":   opts.InstantDeploy,
	}
	if opts.Domains != "" {
		body["domains"] = opts.Domains
	}

	var resp createAppResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/applications/dockerimage", body, &resp); err != nil {
		return "", err
	}
	return resp.UUID, nil
}

// AppSettings is a partial application update. Nil fields are omitted.
type AppSettings struct {
	PortsExposes *string
	Domains      *string
	// Dockerfile is raw text; encoded here like in create.
	Dockerfile         *string
	HealthCheckEnabled *bool
	HealthCheckPath    *string
	HealthCheckPort    *int
}

// UpdateApp patches application settings.
func (c *Client) UpdateApp(ctx context.Context, appUUID string, settings AppSettings) error {
	body := map[string]any{}
	if settings.PortsExposes != nil {
		body["ports_exposes"] = *settings.PortsExposes
	}
	if settings.Domains != nil {
		body["domains"] = *settings.Domains
	}
	if settings.Dockerfile != nil {
		body["dockerfile"] = base64.StdEncoding.EncodeToString([]byte(*settings.Dockerfile))
	}
	if settings.HealthCheckEnabled != nil {
		body["health_check_enabled"] = *settings.HealthCheckEnabled
	}
	if settings.HealthCheckPath != nil {
		body["health_check_path"] = *settings.HealthCheckPath
	}
	if settings.HealthCheckPort != nil {
		body["health_check_port"] = strconv.Itoa(*settings.HealthCheckPort)
	}
	if len(body) == 0 {
		return nil
	}
	return c.do(ctx, http.MethodPatch, "/api/v1/applications/"+url.PathEscape(appUUID), body, nil)
}

// GetApp fetches an application. App.FQDN is the source of truth for the
// public URL.
func (c *Client) GetApp(ctx context.Context, appUUID string) (*App, error) {
	var app App
	if err := c.do(ctx, http.MethodGet, "/api/v1/applications/"+url.PathEscape(appUUID), nil, &app); err != nil {
		return nil, err
	}
	return &app, nil
}

// DeleteApp deletes an application. A missing application counts as success.
func (c *Client) DeleteApp(ctx context.Context, appUUID string) error {
	err := c.do(ctx, http.MethodDelete, "/api/v1/applications/"+url.PathEscape(appUUID), nil, nil)
	if err != nil && apperr.IsKind(err, apperr.KindNotFound) {
		return nil
	}
	return err
}

// StartApp requests an application start. The underlying endpoint is a GET;
// this is a request, not a confirmation. Poll GetApp for the actual state.
func (c *Client) StartApp(ctx context.Context, appUUID string) error {
	return c.do(ctx, http.MethodGet, "/api/v1/applications/"+url.PathEscape(appUUID)+"/start", nil, nil)
}

// StopApp requests an application stop.
func (c *Client) StopApp(ctx context.Context, appUUID string) error {
	return c.do(ctx, http.MethodGet, "/api/v1/applications/"+url.PathEscape(appUUID)+"/stop", nil, nil)
}

// RestartApp requests an application restart.
func (c *Client) RestartApp(ctx context.Context, appUUID string) error {
	return c.do(ctx, http.MethodGet, "/api/v1/applications/"+url.PathEscape(appUUID)+"/restart", nil, nil)
}

// DeployApp triggers a build. force rebuilds without cache.
func (c *Client) DeployApp(ctx context.Context, appUUID string, force bool) (*DeployResult, error) {
	path := "/api/v1/deploy?uuid=" + url.QueryEscape(appUUID)
	if force {
		path += "&force=true"
	}
	var result DeployResult
	if err := c.do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetLogs fetches up to lines of container output. The endpoint has been
// observed answering with a bare string, {"logs": string|[]string} and
// {"stdout","stderr"}; all are normalized to one newline-joined string.
func (c *Client) GetLogs(ctx context.Context, appUUID string, lines int) (string, error) {
	path := "/api/v1/applications/" + url.PathEscape(appUUID) + "/logs?lines=" + strconv.Itoa(lines)
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return "", err
	}
	return normalizeLogs(raw)
}

// normalizeLogs flattens the observed log response shapes.
func normalizeLogs(raw json.RawMessage) (string, error) {
	var bare string
	if err := json.Unmarshal(raw, &bare); err == nil {
		return bare, nil
	}

	var wrapped struct {
		Logs   json.RawMessage `json:"logs"`
		Stdout string          `json:"stdout"`
		Stderr string          `json:"stderr"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return "", apperr.Upstreamf(apperr.UpstreamPlatform, 0, "unparseable logs response")
	}

	if len(wrapped.Logs) > 0 {
		var s string
		if err := json.Unmarshal(wrapped.Logs, &s); err == nil {
			return s, nil
		}
		var ss []string
		if err := json.Unmarshal(wrapped.Logs, &ss); err == nil {
			return strings.Join(ss, "\n"), nil
		}
		return "", apperr.Upstreamf(apperr.UpstreamPlatform, 0, "unparseable logs field")
	}

	parts := make([]string, 0, 2)
	if wrapped.Stdout != "" {
		parts = append(parts, wrapped.Stdout)
	}
	if wrapped.Stderr != "" {
		parts = append(parts, wrapped.Stderr)
	}
	return strings.Join(parts, "\n"), nil
}

// ListEnvVars lists the application's environment variables. With
// filterPreview set, the platform's auto-created preview twins are dropped.
func (c *Client) ListEnvVars(ctx context.Context, appUUID string, filterPreview bool) ([]EnvVar, error) {
	var vars []EnvVar
	path := "/api/v1/applications/" + url.PathEscape(appUUID) + "/envs"
	if err := c.do(ctx, http.MethodGet, path, nil, &vars); err != nil {
		return nil, err
	}
	if !filterPreview {
		return vars, nil
	}
	kept := vars[:0]
	for _, v := range vars {
		if !v.IsPreview {
			kept = append(kept, v)
		}
	}
	return kept, nil
}

// BulkSetEnvVars replaces the given keys in one request. The bulk endpoint
// avoids the race the per-variable POST hits when the platform creates
// preview twins concurrently.
func (c *Client) BulkSetEnvVars(ctx context.Context, appUUID string, env map[string]string) error {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	type envEntry struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	entries := make([]envEntry, 0, len(keys))
	for _, k := range keys {
		entries = append(entries, envEntry{Key: k, Value: env[k]})
	}

	body := map[string]any{"data": entries}
	path := "/api/v1/applications/" + url.PathEscape(appUUID) + "/envs/bulk"
	return c.do(ctx, http.MethodPatch, path, body, nil)
}

// DeleteEnvVar removes one environment variable by its UUID.
func (c *Client) DeleteEnvVar(ctx context.Context, appUUID, envUUID string) error {
	path := "/api/v1/applications/" + url.PathEscape(appUUID) + "/envs/" + url.PathEscape(envUUID)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

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
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return apperr.Wrap(ctx.Err(), apperr.KindTransport, "platform_canceled", "platform request canceled")
		}
		return apperr.Wrap(err, apperr.KindTransport, "platform_unreachable", "%s %s", method, path)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperr.Wrap(err, apperr.KindTransport, "platform_read", "reading response body")
	}

	if resp.StatusCode >= 400 {
		return c.statusError(resp, respBody)
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return apperr.Wrap(err, apperr.KindUpstream, "platform_protocol",
				"unparseable response for %s %s", method, path)
		}
	}
	return nil
}

func (c *Client) statusError(resp *http.Response, body []byte) error {
	msg := apiMessage(body)
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &apperr.Error{Kind: apperr.KindAuth, Code: "platform_auth", Message: msg,
			Upstream: apperr.UpstreamPlatform, Status: resp.StatusCode}
	case resp.StatusCode == http.StatusNotFound:
		return &apperr.Error{Kind: apperr.KindNotFound, Code: "platform_not_found", Message: msg,
			Upstream: apperr.UpstreamPlatform, Status: resp.StatusCode}
	case resp.StatusCode == http.StatusConflict:
		return &apperr.Error{Kind: apperr.KindConflict, Code: "platform_conflict", Message: msg,
			Upstream: apperr.UpstreamPlatform, Status: resp.StatusCode}
	case resp.StatusCode == http.StatusTooManyRequests:
		return &apperr.Error{Kind: apperr.KindRateLimited, Code: "platform_rate_limited", Message: msg,
			Upstream: apperr.UpstreamPlatform, Status: resp.StatusCode,
			RetryAfter: retryAfter(resp)}
	case resp.StatusCode >= 500:
		return apperr.Upstreamf(apperr.UpstreamPlatform, resp.StatusCode, "%s", msg)
	default:
		return &apperr.Error{Kind: apperr.KindUpstream, Code: "platform_error", Message: msg,
			Upstream: apperr.UpstreamPlatform, Status: resp.StatusCode}
	}
}

func apiMessage(body []byte) string {
	var parsed struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		if parsed.Message != "" {
			return parsed.Message
		}
		if parsed.Error != "" {
			return parsed.Error
		}
	}
	if len(body) == 0 {
		return "platform request failed"
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
