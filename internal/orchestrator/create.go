package orchestrator

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/codeopen/codeopen/internal/apperr"
	"github.com/codeopen/codeopen/internal/dockerfile"
	"github.com/codeopen/codeopen/internal/forge"
	"github.com/codeopen/codeopen/internal/image"
	"github.com/codeopen/codeopen/internal/log"
	"github.com/codeopen/codeopen/internal/platform"
	"github.com/codeopen/codeopen/internal/store"
)

// CreateProjectInput is the request for CreateProject.
type CreateProjectInput struct {
	Name        string
	Description string
	// TemplateURL, when set, seeds the repository by one-time import instead
	// of creating it empty.
	TemplateURL string
	// FlavorID/AddonIDs/TierID select the assistant image. Empty values fall
	// back to catalog defaults.
	FlavorID string
	AddonIDs []string
	TierID   string
	// ProviderID selects which LLM credentials the container receives. Empty
	// means the configured default, or the union of all providers.
	ProviderID string
	// ModelID overrides the provider's default model. Optional.
	ModelID string
}

// CreateProjectResult is the outcome of a successful create.
type CreateProjectResult struct {
	Project  *store.Project
	Warnings []string
}

// compensator undoes one committed saga step.
type compensator struct {
	name string
	fn   func(ctx context.Context) error
}

// CreateProject runs the create saga: resolve the image plan, create the
// repository, create and configure the platform application, inject
// credentials, persist the record. On failure every committed step is
// compensated in reverse order, best effort, and the original error is
// returned untouched.
func (o *Orchestrator) CreateProject(ctx context.Context, in CreateProjectInput) (result *CreateProjectResult, err error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, apperr.New(apperr.KindValidation, "invalid_name", "project name is required")
	}

	var undo []compensator
	defer func() {
		if err != nil {
			o.compensate(undo)
		}
	}()

	slug, err := o.store.GenerateUniqueSlug(ctx, in.Name)
	if err != nil {
		return nil, err
	}

	cat, err := o.store.Catalog(ctx)
	if err != nil {
		return nil, err
	}
	if v := image.ValidateConfig(cat, in.FlavorID, in.AddonIDs, in.TierID); !v.Valid {
		return nil, apperr.New(apperr.KindValidation, "invalid_image_config",
			"%s", strings.Join(v.Errors, "; "))
	}

	providerID := in.ProviderID
	if providerID == "" {
		providerID, err = o.vault.DefaultProviderID(ctx)
		if err != nil {
			return nil, err
		}
	}

	repo, slug, err := o.createRepo(ctx, slug, in)
	if err != nil {
		return nil, err
	}
	owner := repo.Owner.Login
	if owner == "" {
		owner = o.cfg.Forge.Owner
	}
	repoName := repo.Name
	undo = append(undo, compensator{"delete forge repo", func(ctx context.Context) error {
		return o.forge.DeleteRepo(ctx, owner, repoName)
	}})

	containerPort := o.derivePort(repo.ID)
	res, err := image.Resolve(cat, image.Settings{
		Registry:       o.cfg.Image.Registry,
		Owner:          o.cfg.Image.Owner,
		Version:        o.cfg.Image.Version,
		BasePort:       containerPort,
		GatewayPort:    o.cfg.Ports.Gateway,
		WildcardDomain: o.cfg.WildcardDomain,
	}, slug, in.FlavorID, in.AddonIDs, in.TierID)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindInternal, "image_resolve", "resolving image for %s", slug)
	}
	for _, w := range res.Warnings {
		log.Warn("image resolution", "project", slug, "warning", w)
	}

	df, err := dockerfile.Render(res.ImageRef)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindInternal, "dockerfile_render", "rendering Dockerfile for %s", slug)
	}

	ports := joinPorts(res.ExposedPorts)
	appUUID, err := o.platform.CreateAppFromDockerfile(ctx, platform.CreateAppOptions{
		ProjectUUID:     o.cfg.Platform.ProjectUUID,
		ServerUUID:      o.cfg.Platform.ServerUUID,
		EnvironmentName: o.cfg.Platform.Environment,
		Name:            "opencode-" + slug,
		Description:     in.Description,
		Dockerfile:      df,
		PortsExposes:    ports,
		Domains:         res.DomainsConfig,
		InstantDeploy:   false,
		HealthCheck: platform.HealthCheck{
			Enabled: true,
			Path:    o.cfg.HealthCheckPath,
			Port:    containerPort,
		},
	})
	if err != nil {
		return nil, err
	}
	undo = append(undo, compensator{"delete platform app", func(ctx context.Context) error {
		return o.platform.DeleteApp(ctx, appUUID)
	}})

	// The create endpoint does not reliably persist every setting, so
	// re-assert the ones that matter. Idempotent, so retried.
	enabled := true
	hcPath := o.cfg.HealthCheckPath
	hcPort := containerPort
	settings := platform.AppSettings{
		PortsExposes:       &ports,
		HealthCheckEnabled: &enabled,
		HealthCheckPath:    &hcPath,
		HealthCheckPort:    &hcPort,
	}
	if res.DomainsConfig != "" {
		domains := res.DomainsConfig
		settings.Domains = &domains
	}
	if err := o.retry(ctx, "update_app", func() error {
		return o.platform.UpdateApp(ctx, appUUID, settings)
	}); err != nil {
		return nil, err
	}

	cloneURL := o.publicCloneURL(repo.CloneURL)
	env, err := o.composeEnv(ctx, envInputs{
		slug:          slug,
		name:          in.Name,
		containerPort: containerPort,
		cloneURL:      cloneURL,
		providerID:    providerID,
		modelID:       in.ModelID,
	})
	if err != nil {
		return nil, err
	}
	if err := o.retry(ctx, "bulk_set_env", func() error {
		return o.platform.BulkSetEnvVars(ctx, appUUID, env)
	}); err != nil {
		return nil, err
	}

	project := &store.Project{
		Slug:            slug,
		Name:            in.Name,
		Description:     in.Description,
		ForgeRepoID:     repo.ID,
		ForgeOwner:      owner,
		PlatformAppUUID: appUUID,
		ContainerPort:   containerPort,
		FlavorID:        in.FlavorID,
		AddonIDs:        in.AddonIDs,
		TierID:          in.TierID,
		Status:          store.StatusProvisioning,
		CloneURLPublic:  cloneURL,
		LLMProviderID:   providerID,
		LLMModelID:      in.ModelID,
	}
	if err := o.store.CreateProject(ctx, project); err != nil {
		return nil, err
	}
	undo = append(undo, compensator{"delete project record", func(ctx context.Context) error {
		return o.store.DeleteProject(ctx, project.ID)
	}})

	// Provisioning is done; the container has not been started yet.
	if err := o.store.UpdateStatus(ctx, project.ID, store.StatusStopped, ""); err != nil {
		return nil, err
	}
	project.Status = store.StatusStopped

	log.Info("project created", "project_id", project.ID, "slug", slug,
		"app_uuid", appUUID, "repo", owner+"/"+repoName, "port", containerPort)
	return &CreateProjectResult{Project: project, Warnings: res.Warnings}, nil
}

// createRepo creates (or imports) the forge repository, renaming on name
// conflicts with the forge namespace. Returns the repository and the slug
// actually used.
func (o *Orchestrator) createRepo(ctx context.Context, slug string, in CreateProjectInput) (*forge.Repo, string, error) {
	base := slug
	candidate := slug
	for attempt := 1; ; attempt++ {
		var repo *forge.Repo
		var err error
		if in.TemplateURL != "" {
			// Imported repositories stay public.
			repo, err = o.forge.MirrorRepo(ctx, forge.MirrorOptions{
				CloneURL:    in.TemplateURL,
				Name:        candidate,
				Description: in.Description,
				Private:     false,
			})
		} else {
			repo, err = o.forge.CreateRepo(ctx, forge.CreateRepoOptions{
				Name:          candidate,
				Description:   in.Description,
				Private:       true,
				AutoInit:      true,
				DefaultBranch: "main",
			})
		}
		if err == nil {
			return repo, candidate, nil
		}
		if !apperr.IsKind(err, apperr.KindConflict) || attempt >= maxSlugAttempts {
			return nil, "", err
		}

		// The forge namespace holds names the local store has never seen.
		// Walk suffixes until one is free both locally and upstream.
		candidate, err = o.nextFreeSlug(ctx, base, candidate)
		if err != nil {
			return nil, "", err
		}
		log.Debug("repo name taken on forge, retrying", "attempt", attempt, "slug", candidate)
	}
}

// nextFreeSlug returns the next base-N candidate after current that no local
// project uses.
func (o *Orchestrator) nextFreeSlug(ctx context.Context, base, current string) (string, error) {
	n := 2
	if suffix, ok := strings.CutPrefix(current, base+"-"); ok {
		if v, err := strconv.Atoi(suffix); err == nil {
			n = v + 1
		}
	}
	for ; ; n++ {
		candidate := fmt.Sprintf("%s-%d", base, n)
		_, err := o.store.GetProjectBySlug(ctx, candidate)
		if apperr.IsKind(err, apperr.KindNotFound) {
			return candidate, nil
		}
		if err != nil {
			return "", err
		}
	}
}

type envInputs struct {
	slug          string
	name          string
	containerPort int
	cloneURL      string
	providerID    string
	modelID       string
}

// composeEnv builds the container environment: vault-provided credential
// variables overlaid by the project's base variables. The base set always
// wins on key collisions.
func (o *Orchestrator) composeEnv(ctx context.Context, in envInputs) (map[string]string, error) {
	env, err := o.vault.GetEnvVars(ctx, in.providerID)
	if err != nil {
		return nil, err
	}
	if env == nil {
		env = make(map[string]string)
	}

	gitName := o.cfg.Forge.UserName
	if gitName == "" {
		gitName = o.cfg.Forge.Owner
	}
	gitEmail := o.cfg.Forge.UserEmail
	if gitEmail == "" {
		gitEmail = o.cfg.Forge.Owner + "@codeopen.local"
	}

	env["OPENCODE_PORT"] = strconv.Itoa(in.containerPort)
	env["OPENCODE_HOST"] = "0.0.0.0"
	env["FORGEJO_REPO_URL"] = in.cloneURL
	env["FORGEJO_USER"] = o.cfg.Forge.Owner
	env["FORGEJO_TOKEN"] = o.cfg.Forge.Token
	env["GIT_USER_NAME"] = gitName
	env["GIT_USER_EMAIL"] = gitEmail
	env["PROJECT_NAME"] = in.name
	if in.modelID != "" {
		env["OPENCODE_MODEL"] = in.modelID
	}
	return env, nil
}

// compensate runs the committed steps' undo actions in reverse order. Runs
// detached from the caller's context so a canceled create still rolls back;
// failures are logged, never propagated.
func (o *Orchestrator) compensate(undo []compensator) {
	ctx := context.Background()
	for i := len(undo) - 1; i >= 0; i-- {
		step := undo[i]
		if cerr := step.fn(ctx); cerr != nil {
			log.Error("rollback step failed", "step", step.name, "error", cerr)
		} else {
			log.Debug("rollback step done", "step", step.name)
		}
	}
}

func joinPorts(ports []int) string {
	parts := make([]string, len(ports))
	for i, p := range ports {
		parts[i] = strconv.Itoa(p)
	}
	return strings.Join(parts, ",")
}
