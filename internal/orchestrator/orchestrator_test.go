package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/codeopen/codeopen/internal/apperr"
	"github.com/codeopen/codeopen/internal/config"
	"github.com/codeopen/codeopen/internal/forge"
	"github.com/codeopen/codeopen/internal/platform"
	"github.com/codeopen/codeopen/internal/store"
)

type fakeForge struct {
	mu       sync.Mutex
	nextID   int64
	taken    map[string]bool // names already occupied upstream
	created  []string
	mirrored []forge.MirrorOptions
	deleted  []string
	failAll  error
}

func newFakeForge() *fakeForge {
	return &fakeForge{nextID: 100, taken: map[string]bool{}}
}

func (f *fakeForge) CurrentUser(ctx context.Context) (*forge.User, error) {
	return &forge.User{Login: "owner"}, nil
}

func (f *fakeForge) newRepo(name string) (*forge.Repo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll != nil {
		return nil, f.failAll
	}
	if f.taken[name] {
		return nil, &apperr.Error{Kind: apperr.KindConflict, Code: "forge_conflict",
			Message: "repository already exists", Upstream: apperr.UpstreamForge, Status: 409}
	}
	f.taken[name] = true
	f.created = append(f.created, name)
	f.nextID++
	r := &forge.Repo{
		ID:       f.nextID,
		Name:     name,
		CloneURL: fmt.Sprintf("https://git.example.com:3000/owner/%s.git", name),
	}
	r.Owner.Login = "owner"
	return r, nil
}

func (f *fakeForge) CreateRepo(ctx context.Context, opts forge.CreateRepoOptions) (*forge.Repo, error) {
	return f.newRepo(opts.Name)
}

func (f *fakeForge) MirrorRepo(ctx context.Context, opts forge.MirrorOptions) (*forge.Repo, error) {
	r, err := f.newRepo(opts.Name)
	if err == nil {
		f.mu.Lock()
		f.mirrored = append(f.mirrored, opts)
		f.mu.Unlock()
	}
	return r, err
}

func (f *fakeForge) DeleteRepo(ctx context.Context, owner, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.taken, name)
	f.deleted = append(f.deleted, owner+"/"+name)
	return nil
}

type createdApp struct {
	opts platform.CreateAppOptions
	env  map[string]string
}

type fakePlatform struct {
	mu         sync.Mutex
	nextApp    int
	apps       map[string]*createdApp
	deleted    []string
	started    []string
	stopped    []string
	restarted  []string
	updates    []platform.AppSettings
	createErr  error
	updateErr  error
	envErr     error
	deleteErr  error
	startErr   error
	restartErr error
	deployErr  error
	getAppErr  error
	appStatus  string
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{apps: map[string]*createdApp{}, appStatus: "running"}
}

func (f *fakePlatform) CreateAppFromDockerfile(ctx context.Context, opts platform.CreateAppOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	f.nextApp++
	uuid := fmt.Sprintf("app-%d", f.nextApp)
	f.apps[uuid] = &createdApp{opts: opts, env: map[string]string{}}
	return uuid, nil
}

func (f *fakePlatform) UpdateApp(ctx context.Context, appUUID string, settings platform.AppSettings) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, settings)
	return f.updateErr
}

func (f *fakePlatform) GetApp(ctx context.Context, appUUID string) (*platform.App, error) {
	if f.getAppErr != nil {
		return nil, f.getAppErr
	}
	return &platform.App{UUID: appUUID, Status: f.appStatus}, nil
}

func (f *fakePlatform) DeleteApp(ctx context.Context, appUUID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.apps, appUUID)
	f.deleted = append(f.deleted, appUUID)
	return nil
}

func (f *fakePlatform) StartApp(ctx context.Context, appUUID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.started = append(f.started, appUUID)
	return nil
}

func (f *fakePlatform) StopApp(ctx context.Context, appUUID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, appUUID)
	return nil
}

func (f *fakePlatform) RestartApp(ctx context.Context, appUUID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.restartErr != nil {
		return f.restartErr
	}
	f.restarted = append(f.restarted, appUUID)
	return nil
}

func (f *fakePlatform) DeployApp(ctx context.Context, appUUID string, force bool) (*platform.DeployResult, error) {
	if f.deployErr != nil {
		return nil, f.deployErr
	}
	return &platform.DeployResult{Deployments: []platform.Deployment{
		{DeploymentUUID: "D1", Message: "queued"},
	}}, nil
}

func (f *fakePlatform) GetLogs(ctx context.Context, appUUID string, lines int) (string, error) {
	return "log line", nil
}

func (f *fakePlatform) BulkSetEnvVars(ctx context.Context, appUUID string, env map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.envErr != nil {
		return f.envErr
	}
	app, ok := f.apps[appUUID]
	if !ok {
		return apperr.New(apperr.KindNotFound, "platform_not_found", "app %s not found", appUUID)
	}
	for k, v := range env {
		app.env[k] = v
	}
	return nil
}

type fakeVault struct {
	env             map[string]string
	defaultProvider string
}

func (f *fakeVault) GetEnvVars(ctx context.Context, providerID string) (map[string]string, error) {
	out := make(map[string]string, len(f.env))
	for k, v := range f.env {
		out[k] = v
	}
	return out, nil
}

func (f *fakeVault) DefaultProviderID(ctx context.Context) (string, error) {
	return f.defaultProvider, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Forge: config.Forge{
			BaseURL: "https://git.example.com:3000",
			Token:   "forge-token",
			Owner:   "owner",
		},
		Platform: config.Platform{
			BaseURL:     "https://platform.example.com",
			Token:       "platform-token",
			ProjectUUID: "proj-uuid",
			ServerUUID:  "srv-uuid",
			Environment: "production",
		},
		Image:           config.Image{Registry: "ghcr.io", Owner: "codeopen", Version: "v1"},
		Ports:           config.Ports{Base: 4096, Gateway: 4097, RangeStart: 4096, RangeEnd: 4096},
		WildcardDomain:  "apps.example.com",
		HealthCheckPath: "/session",
	}
}

type fixture struct {
	orch  *Orchestrator
	store *store.Store
	forge *fakeForge
	plat  *fakePlatform
	vault *fakeVault
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	fg := newFakeForge()
	pf := newFakePlatform()
	v := &fakeVault{
		env:             map[string]string{"OPENCODE_AUTH_JSON": `{"anthropic":{"apiKey":"secret"}}`},
		defaultProvider: "anthropic",
	}
	o := New(st, fg, pf, v, testConfig())
	o.retryBase = time.Millisecond
	return &fixture{orch: o, store: st, forge: fg, plat: pf, vault: v}
}

func TestCreateProjectHappyPath(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	result, err := fx.orch.CreateProject(ctx, CreateProjectInput{Name: "Hello World"})
	if err != nil {
		t.Fatal(err)
	}
	p := result.Project

	if p.Slug != "hello-world" {
		t.Errorf("slug = %q", p.Slug)
	}
	if p.Status != store.StatusStopped {
		t.Errorf("status = %s, want stopped", p.Status)
	}
	if len(fx.forge.created) != 1 || fx.forge.created[0] != "hello-world" {
		t.Errorf("repos created = %v", fx.forge.created)
	}

	app := fx.plat.apps[p.PlatformAppUUID]
	if app == nil {
		t.Fatal("no platform app created")
	}
	if app.opts.Name != "opencode-hello-world" {
		t.Errorf("app name = %q", app.opts.Name)
	}
	if app.opts.PortsExposes != "4096,4097" {
		t.Errorf("ports = %q", app.opts.PortsExposes)
	}
	if app.opts.InstantDeploy {
		t.Error("instant deploy must be off at creation")
	}
	if app.opts.HealthCheck.Path != "/session" || app.opts.HealthCheck.Port != 4096 {
		t.Errorf("health check = %+v", app.opts.HealthCheck)
	}
	if !strings.Contains(app.opts.Dockerfile, "FROM ghcr.io/codeopen/codeopen-base:v1") {
		t.Errorf("dockerfile = %q", app.opts.Dockerfile)
	}

	if app.env["OPENCODE_PORT"] != "4096" {
		t.Errorf("OPENCODE_PORT = %q", app.env["OPENCODE_PORT"])
	}
	if app.env["PROJECT_NAME"] != "Hello World" {
		t.Errorf("PROJECT_NAME = %q", app.env["PROJECT_NAME"])
	}
	// public clone URL has the explicit port stripped
	if app.env["FORGEJO_REPO_URL"] != "https://git.example.com/owner/hello-world.git" {
		t.Errorf("FORGEJO_REPO_URL = %q", app.env["FORGEJO_REPO_URL"])
	}
	if app.env["FORGEJO_TOKEN"] != "forge-token" {
		t.Errorf("FORGEJO_TOKEN missing")
	}
	if app.env["OPENCODE_AUTH_JSON"] == "" {
		t.Error("vault credentials not injected")
	}
	if p.LLMProviderID != "anthropic" {
		t.Errorf("provider = %q, want configured default", p.LLMProviderID)
	}
}

func TestCreateProjectEnvPrecedence(t *testing.T) {
	fx := newFixture(t)
	// A hostile or buggy provider must not override the base variables.
	fx.vault.env["OPENCODE_PORT"] = "1"
	fx.vault.env["FORGEJO_TOKEN"] = "evil"

	result, err := fx.orch.CreateProject(context.Background(), CreateProjectInput{Name: "Precedence"})
	if err != nil {
		t.Fatal(err)
	}
	app := fx.plat.apps[result.Project.PlatformAppUUID]
	if app.env["OPENCODE_PORT"] != "4096" {
		t.Errorf("OPENCODE_PORT = %q, base vars must win", app.env["OPENCODE_PORT"])
	}
	if app.env["FORGEJO_TOKEN"] != "forge-token" {
		t.Errorf("FORGEJO_TOKEN = %q, base vars must win", app.env["FORGEJO_TOKEN"])
	}
}

func TestCreateProjectRollbackOnPlatformFailure(t *testing.T) {
	fx := newFixture(t)
	fx.plat.createErr = apperr.Upstreamf(apperr.UpstreamPlatform, 500, "boom")

	_, err := fx.orch.CreateProject(context.Background(), CreateProjectInput{Name: "Rollback Ex"})
	if !apperr.IsKind(err, apperr.KindUpstream) {
		t.Fatalf("error = %v, want the original upstream error", err)
	}

	// the repo created in step 4 must be compensated away
	if len(fx.forge.deleted) != 1 || fx.forge.deleted[0] != "owner/rollback-ex" {
		t.Errorf("repos deleted = %v, want owner/rollback-ex", fx.forge.deleted)
	}
	projects, _ := fx.store.ListProjects(context.Background())
	if len(projects) != 0 {
		t.Errorf("project record leaked: %v", projects)
	}
}

func TestCreateProjectForgeNameConflictRenames(t *testing.T) {
	fx := newFixture(t)
	// Upstream namespace already holds the name, unknown to the local store.
	fx.forge.taken["conflict"] = true

	result, err := fx.orch.CreateProject(context.Background(), CreateProjectInput{Name: "Conflict"})
	if err != nil {
		t.Fatal(err)
	}
	if result.Project.Slug != "conflict-2" {
		t.Errorf("slug = %q, want conflict-2", result.Project.Slug)
	}
	app := fx.plat.apps[result.Project.PlatformAppUUID]
	if app.opts.Name != "opencode-conflict-2" {
		t.Errorf("app name = %q", app.opts.Name)
	}
}

func TestCreateProjectDuplicateNameSuffixes(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	first, err := fx.orch.CreateProject(ctx, CreateProjectInput{Name: "Twice"})
	if err != nil {
		t.Fatal(err)
	}
	second, err := fx.orch.CreateProject(ctx, CreateProjectInput{Name: "Twice"})
	if err != nil {
		t.Fatal(err)
	}
	if first.Project.Slug != "twice" || second.Project.Slug != "twice-2" {
		t.Errorf("slugs = %q, %q", first.Project.Slug, second.Project.Slug)
	}
}

func TestCreateProjectFromTemplateIsPublic(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.orch.CreateProject(context.Background(), CreateProjectInput{
		Name:        "Templated",
		TemplateURL: "https://github.com/some/template.git",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(fx.forge.mirrored) != 1 {
		t.Fatalf("mirror calls = %d, want 1", len(fx.forge.mirrored))
	}
	m := fx.forge.mirrored[0]
	if m.CloneURL != "https://github.com/some/template.git" {
		t.Errorf("clone url = %q", m.CloneURL)
	}
	if m.Private {
		t.Error("imported repository must be public")
	}
}

func TestCreateProjectRejectsUnknownFlavor(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.orch.CreateProject(context.Background(), CreateProjectInput{
		Name: "Bad Flavor", FlavorID: "ghost",
	})
	if !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("error = %v, want validation", err)
	}
	if !strings.Contains(err.Error(), "ghost") {
		t.Errorf("error does not name the flavor: %v", err)
	}
	if len(fx.forge.created) != 0 {
		t.Error("remote call made for invalid selection")
	}
}

func TestCreateProjectEmptyNameRejected(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.orch.CreateProject(context.Background(), CreateProjectInput{Name: "   "})
	if !apperr.IsKind(err, apperr.KindValidation) {
		t.Errorf("error = %v, want validation", err)
	}
	if len(fx.forge.created) != 0 {
		t.Error("remote call made for invalid input")
	}
}

func TestStartStopStatusTransitions(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	result, err := fx.orch.CreateProject(ctx, CreateProjectInput{Name: "Lifecycle"})
	if err != nil {
		t.Fatal(err)
	}
	id := result.Project.ID

	if err := fx.orch.StartProject(ctx, id); err != nil {
		t.Fatal(err)
	}
	p, _ := fx.store.GetProject(ctx, id)
	if p.Status != store.StatusRunning {
		t.Errorf("after start: %s", p.Status)
	}

	if err := fx.orch.StopProject(ctx, id); err != nil {
		t.Fatal(err)
	}
	p, _ = fx.store.GetProject(ctx, id)
	if p.Status != store.StatusStopped {
		t.Errorf("after stop: %s", p.Status)
	}
}

func TestStartFailureRecordsError(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	result, err := fx.orch.CreateProject(ctx, CreateProjectInput{Name: "Broken"})
	if err != nil {
		t.Fatal(err)
	}
	id := result.Project.ID

	fx.plat.startErr = apperr.Upstreamf(apperr.UpstreamPlatform, 500, "no capacity")
	if err := fx.orch.StartProject(ctx, id); err == nil {
		t.Fatal("expected start error")
	}
	p, _ := fx.store.GetProject(ctx, id)
	if p.Status != store.StatusError {
		t.Errorf("status = %s, want error", p.Status)
	}
	if !strings.Contains(p.StatusDetail, "no capacity") {
		t.Errorf("detail = %q", p.StatusDetail)
	}

	// error is recoverable
	fx.plat.startErr = nil
	if err := fx.orch.StartProject(ctx, id); err != nil {
		t.Fatal(err)
	}
	p, _ = fx.store.GetProject(ctx, id)
	if p.Status != store.StatusRunning {
		t.Errorf("after recovery: %s", p.Status)
	}
}

func TestDeployToleratesDockerfileUpdateRejection(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	result, err := fx.orch.CreateProject(ctx, CreateProjectInput{Name: "Deploy Me"})
	if err != nil {
		t.Fatal(err)
	}

	fx.plat.updateErr = &apperr.Error{Kind: apperr.KindUpstream, Code: "platform_error",
		Message: "dockerfile patch rejected", Upstream: apperr.UpstreamPlatform, Status: 422}
	d, err := fx.orch.DeployProject(ctx, result.Project.ID, false)
	if err != nil {
		t.Fatalf("deploy must survive a rejected dockerfile patch: %v", err)
	}
	if d.DeploymentUUID != "D1" {
		t.Errorf("deployment = %q, want D1", d.DeploymentUUID)
	}
}

func TestDeployKeepsProjectFlavor(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	result, err := fx.orch.CreateProject(ctx, CreateProjectInput{
		Name: "Full Flavor", FlavorID: "full", TierID: "medium",
	})
	if err != nil {
		t.Fatal(err)
	}

	// the selection survives the round trip through the store
	p, err := fx.store.GetProject(ctx, result.Project.ID)
	if err != nil {
		t.Fatal(err)
	}
	if p.FlavorID != "full" || p.TierID != "medium" {
		t.Errorf("stored selection = %q/%q", p.FlavorID, p.TierID)
	}

	if _, err := fx.orch.DeployProject(ctx, p.ID, false); err != nil {
		t.Fatal(err)
	}

	var patched string
	for _, u := range fx.plat.updates {
		if u.Dockerfile != nil {
			patched = *u.Dockerfile
		}
	}
	if patched == "" {
		t.Fatal("deploy did not refresh the Dockerfile")
	}
	if !strings.Contains(patched, "FROM ghcr.io/codeopen/codeopen-full:v1") {
		t.Errorf("refreshed Dockerfile lost the project's flavor: %q", patched)
	}
}

func TestGetProjectWithStatusDegrades(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	result, err := fx.orch.CreateProject(ctx, CreateProjectInput{Name: "Degraded"})
	if err != nil {
		t.Fatal(err)
	}

	fx.plat.getAppErr = apperr.Wrap(fmt.Errorf("dial tcp"), apperr.KindTransport, "platform_unreachable", "down")
	view, err := fx.orch.GetProjectWithStatus(ctx, result.Project.ID)
	if err != nil {
		t.Fatalf("status read must not fail on platform outage: %v", err)
	}
	if view.ContainerStatus != "unknown" {
		t.Errorf("container status = %q, want unknown", view.ContainerStatus)
	}
}

func TestUpdateCredentialsRestartsOnlyRunning(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	result, err := fx.orch.CreateProject(ctx, CreateProjectInput{Name: "Creds"})
	if err != nil {
		t.Fatal(err)
	}
	id := result.Project.ID

	// stopped: env updated, no restart
	if err := fx.orch.UpdateCredentials(ctx, id, ""); err != nil {
		t.Fatal(err)
	}
	if len(fx.plat.restarted) != 0 {
		t.Error("stopped project restarted")
	}

	if err := fx.orch.StartProject(ctx, id); err != nil {
		t.Fatal(err)
	}
	if err := fx.orch.UpdateCredentials(ctx, id, ""); err != nil {
		t.Fatal(err)
	}
	if len(fx.plat.restarted) != 1 {
		t.Errorf("running project restarts = %d, want 1", len(fx.plat.restarted))
	}
}

func TestSyncCredentialsSkipsNonRunning(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	running, err := fx.orch.CreateProject(ctx, CreateProjectInput{Name: "Running One"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fx.orch.CreateProject(ctx, CreateProjectInput{Name: "Stopped One"}); err != nil {
		t.Fatal(err)
	}
	if err := fx.orch.StartProject(ctx, running.Project.ID); err != nil {
		t.Fatal(err)
	}

	res, err := fx.orch.SyncCredentialsToAllProjects(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Updated != 1 || res.Failed != 0 {
		t.Errorf("sync result = %+v, want 1 updated", res)
	}
}

func TestSyncCredentialsCountsFailures(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	result, err := fx.orch.CreateProject(ctx, CreateProjectInput{Name: "Will Fail"})
	if err != nil {
		t.Fatal(err)
	}
	if err := fx.orch.StartProject(ctx, result.Project.ID); err != nil {
		t.Fatal(err)
	}

	fx.plat.envErr = apperr.Upstreamf(apperr.UpstreamPlatform, 500, "env write failed")
	res, err := fx.orch.SyncCredentialsToAllProjects(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Updated != 0 || res.Failed != 1 {
		t.Errorf("sync result = %+v, want 1 failed", res)
	}
}

func TestDeleteProjectCollectsWarnings(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	result, err := fx.orch.CreateProject(ctx, CreateProjectInput{Name: "Doomed"})
	if err != nil {
		t.Fatal(err)
	}
	id := result.Project.ID

	fx.plat.deleteErr = apperr.Upstreamf(apperr.UpstreamPlatform, 500, "delete refused")
	warnings, err := fx.orch.DeleteProject(ctx, id, DeleteOptions{DeleteRepo: true})
	if err != nil {
		t.Fatalf("remote failure must not block deletion: %v", err)
	}
	if len(warnings) != 1 || !strings.Contains(warnings[0], "delete refused") {
		t.Errorf("warnings = %v", warnings)
	}

	// local record is gone regardless
	if _, err := fx.store.GetProject(ctx, id); !apperr.IsKind(err, apperr.KindNotFound) {
		t.Errorf("record survived: %v", err)
	}
	// repo delete still attempted
	if len(fx.forge.deleted) != 1 {
		t.Errorf("repo deletes = %v", fx.forge.deleted)
	}
}

func TestDeleteProjectKeepRepo(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	result, err := fx.orch.CreateProject(ctx, CreateProjectInput{Name: "Keeper"})
	if err != nil {
		t.Fatal(err)
	}
	warnings, err := fx.orch.DeleteProject(ctx, result.Project.ID, DeleteOptions{DeleteRepo: false})
	if err != nil {
		t.Fatal(err)
	}
	if len(warnings) != 0 {
		t.Errorf("warnings = %v", warnings)
	}
	if len(fx.forge.deleted) != 0 {
		t.Errorf("repo deleted despite keep: %v", fx.forge.deleted)
	}
}

func TestPublicCloneURL(t *testing.T) {
	o := &Orchestrator{cfg: testConfig()}

	tests := []struct {
		name   string
		public string
		in     string
		want   string
	}{
		{"strip https port", "", "https://git.example.com:3000/o/r.git", "https://git.example.com/o/r.git"},
		{"no port untouched", "", "https://git.example.com/o/r.git", "https://git.example.com/o/r.git"},
		{"http untouched", "", "http://git.internal:3000/o/r.git", "http://git.internal:3000/o/r.git"},
		{"public base swaps host", "https://code.example.org", "https://git.internal:3000/o/r.git", "https://code.example.org/o/r.git"},
		{"public base with path", "https://example.org/git", "https://git.internal:3000/o/r.git", "https://example.org/git/o/r.git"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o.cfg.Forge.PublicBaseURL = tt.public
			if got := o.publicCloneURL(tt.in); got != tt.want {
				t.Errorf("publicCloneURL(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestDerivePort(t *testing.T) {
	cfg := testConfig()
	cfg.Ports.RangeStart = 4096
	cfg.Ports.RangeEnd = 4103
	o := &Orchestrator{cfg: cfg}

	for repoID := int64(0); repoID < 50; repoID++ {
		port := o.derivePort(repoID)
		if port < 4096 || port > 4103 {
			t.Fatalf("derivePort(%d) = %d outside range", repoID, port)
		}
		if port != o.derivePort(repoID) {
			t.Fatalf("derivePort(%d) not stable", repoID)
		}
	}

	// span of one always yields the base port
	cfg.Ports.RangeEnd = 4096
	if got := o.derivePort(12345); got != 4096 {
		t.Errorf("single-port span = %d, want 4096", got)
	}
}

func TestRetryHonorsPolicy(t *testing.T) {
	o := &Orchestrator{cfg: testConfig(), retryBase: time.Millisecond}
	ctx := context.Background()

	calls := 0
	err := o.retry(ctx, "test", func() error {
		calls++
		return apperr.New(apperr.KindTransport, "platform_unreachable", "down")
	})
	if calls != maxRetryAttempts {
		t.Errorf("transient error retried %d times, want %d", calls, maxRetryAttempts)
	}
	if err == nil {
		t.Error("exhausted retries must return the error")
	}

	calls = 0
	o.retry(ctx, "test", func() error {
		calls++
		return apperr.New(apperr.KindValidation, "bad", "nope")
	})
	if calls != 1 {
		t.Errorf("permanent error retried %d times, want 1", calls)
	}

	calls = 0
	if err := o.retry(ctx, "test", func() error { calls++; return nil }); err != nil || calls != 1 {
		t.Errorf("success path: calls=%d err=%v", calls, err)
	}
}
