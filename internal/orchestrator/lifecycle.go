package orchestrator

import (
	"context"
	"fmt"

	"github.com/codeopen/codeopen/internal/apperr"
	"github.com/codeopen/codeopen/internal/dockerfile"
	"github.com/codeopen/codeopen/internal/image"
	"github.com/codeopen/codeopen/internal/log"
	"github.com/codeopen/codeopen/internal/platform"
	"github.com/codeopen/codeopen/internal/store"
)

// StartProject requests a container start and records the new status. A
// platform failure moves the project to error with the failure detail and is
// returned to the caller.
func (o *Orchestrator) StartProject(ctx context.Context, projectID string) error {
	unlock := o.locks.lock(projectID)
	defer unlock()

	p, err := o.store.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	if err := o.platform.StartApp(ctx, p.PlatformAppUUID); err != nil {
		o.recordError(ctx, projectID, "start failed", err)
		return err
	}
	return o.store.UpdateStatus(ctx, projectID, store.StatusRunning, "")
}

// StopProject requests a container stop and records the new status. The
// cached assistant client is evicted either way.
func (o *Orchestrator) StopProject(ctx context.Context, projectID string) error {
	unlock := o.locks.lock(projectID)
	defer unlock()

	p, err := o.store.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	defer o.evict(projectID)

	if err := o.platform.StopApp(ctx, p.PlatformAppUUID); err != nil {
		o.recordError(ctx, projectID, "stop failed", err)
		return err
	}
	return o.store.UpdateStatus(ctx, projectID, store.StatusStopped, "")
}

// RestartProject requests a container restart. The project remains (or
// becomes) running on success.
func (o *Orchestrator) RestartProject(ctx context.Context, projectID string) error {
	unlock := o.locks.lock(projectID)
	defer unlock()

	p, err := o.store.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	defer o.evict(projectID)

	if err := o.platform.RestartApp(ctx, p.PlatformAppUUID); err != nil {
		o.recordError(ctx, projectID, "restart failed", err)
		return err
	}
	return o.store.UpdateStatus(ctx, projectID, store.StatusRunning, "")
}

// DeployProject re-renders the Dockerfile from the current catalog and
// triggers a platform build. A failed Dockerfile refresh is logged and the
// deploy proceeds with whatever the platform already holds; only the deploy
// call itself can fail the operation.
func (o *Orchestrator) DeployProject(ctx context.Context, projectID string, force bool) (*platform.Deployment, error) {
	unlock := o.locks.lock(projectID)
	defer unlock()

	p, err := o.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}

	if err := o.refreshDockerfile(ctx, p); err != nil {
		log.Warn("dockerfile refresh failed, deploying previous image definition",
			"project_id", projectID, "error", err)
	}

	result, err := o.platform.DeployApp(ctx, p.PlatformAppUUID, force)
	if err != nil {
		o.recordError(ctx, projectID, "deploy failed", err)
		return nil, err
	}
	if len(result.Deployments) == 0 {
		return nil, apperr.Upstreamf(apperr.UpstreamPlatform, 0,
			"deploy accepted but no deployment reported")
	}
	d := result.Deployments[0]
	log.Info("deployment triggered", "project_id", projectID, "deployment_uuid", d.DeploymentUUID)
	return &d, nil
}

// refreshDockerfile re-resolves the project's recorded image selection
// against the current catalog and patches the stored Dockerfile so the next
// build picks up catalog changes without losing the flavor chosen at create.
func (o *Orchestrator) refreshDockerfile(ctx context.Context, p *store.Project) error {
	cat, err := o.store.Catalog(ctx)
	if err != nil {
		return err
	}
	res, err := image.Resolve(cat, image.Settings{
		Registry:       o.cfg.Image.Registry,
		Owner:          o.cfg.Image.Owner,
		Version:        o.cfg.Image.Version,
		BasePort:       p.ContainerPort,
		GatewayPort:    o.cfg.Ports.Gateway,
		WildcardDomain: o.cfg.WildcardDomain,
	}, p.Slug, p.FlavorID, p.AddonIDs, p.TierID)
	if err != nil {
		return err
	}
	df, err := dockerfile.Render(res.ImageRef)
	if err != nil {
		return err
	}
	return o.platform.UpdateApp(ctx, p.PlatformAppUUID, platform.AppSettings{Dockerfile: &df})
}

// GetLogs returns recent container output.
func (o *Orchestrator) GetLogs(ctx context.Context, projectID string, lines int) (string, error) {
	p, err := o.store.GetProject(ctx, projectID)
	if err != nil {
		return "", err
	}
	if lines <= 0 {
		lines = 100
	}
	return o.platform.GetLogs(ctx, p.PlatformAppUUID, lines)
}

// ProjectWithStatus pairs the stored record with the platform's live view.
type ProjectWithStatus struct {
	Project *store.Project
	// ContainerStatus is the platform-reported state, or "unknown" when the
	// platform could not be reached.
	ContainerStatus string
	// FQDN is the platform-assigned public URL, when known.
	FQDN string
}

// GetProjectWithStatus loads a project and enriches it with the platform's
// live container state. A platform failure degrades to "unknown" rather than
// failing the read.
func (o *Orchestrator) GetProjectWithStatus(ctx context.Context, projectID string) (*ProjectWithStatus, error) {
	p, err := o.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}

	out := &ProjectWithStatus{Project: p, ContainerStatus: "unknown", FQDN: p.FQDNURL}
	app, err := o.platform.GetApp(ctx, p.PlatformAppUUID)
	if err != nil {
		log.Warn("live status unavailable", "project_id", projectID, "error", err)
		return out, nil
	}
	out.ContainerStatus = app.Status
	if app.FQDN != "" {
		out.FQDN = app.FQDN
	}
	return out, nil
}

// ResolveProject accepts a project id or slug and returns the record.
func (o *Orchestrator) ResolveProject(ctx context.Context, ref string) (*store.Project, error) {
	p, err := o.store.GetProject(ctx, ref)
	if err == nil {
		return p, nil
	}
	if !apperr.IsKind(err, apperr.KindNotFound) {
		return nil, err
	}
	return o.store.GetProjectBySlug(ctx, ref)
}

// ListProjects returns all stored projects.
func (o *Orchestrator) ListProjects(ctx context.Context) ([]*store.Project, error) {
	return o.store.ListProjects(ctx)
}

// recordError moves the project to error with a short detail string. The
// original error is left for the caller to return; failures recording the
// status are only logged.
func (o *Orchestrator) recordError(ctx context.Context, projectID, what string, cause error) {
	detail := fmt.Sprintf("%s: %v", what, cause)
	if err := o.store.UpdateStatus(ctx, projectID, store.StatusError, detail); err != nil {
		log.Error("recording error status failed", "project_id", projectID, "error", err)
	}
}
