package orchestrator

import (
	"context"
	"fmt"

	"github.com/codeopen/codeopen/internal/log"
	"github.com/codeopen/codeopen/internal/store"
)

// DeleteOptions configures DeleteProject.
type DeleteOptions struct {
	// DeleteRepo removes the forge repository along with the project.
	DeleteRepo bool
}

// DeleteProject tears a project down: stop, delete the platform application,
// optionally delete the repository, and finally remove the local record.
// Remote failures are collected as warnings, never fatal: the local record
// must not survive as a zombie when remote cleanup misbehaves. The record
// delete always runs last.
func (o *Orchestrator) DeleteProject(ctx context.Context, projectID string, opts DeleteOptions) ([]string, error) {
	unlock := o.locks.lock(projectID)
	defer unlock()

	p, err := o.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if err := o.store.UpdateStatus(ctx, projectID, store.StatusDeleting, ""); err != nil {
		return nil, err
	}
	defer o.evict(projectID)

	var warnings []string
	warn := func(what string, err error) {
		warnings = append(warnings, fmt.Sprintf("%s: %v", what, err))
		log.Warn("delete cleanup failed", "project_id", projectID, "step", what, "error", err)
	}

	if p.Status == store.StatusRunning {
		if err := o.platform.StopApp(ctx, p.PlatformAppUUID); err != nil {
			// Best effort; the app delete below removes the container anyway.
			log.Debug("pre-delete stop failed", "project_id", projectID, "error", err)
		}
	}

	if err := o.retry(ctx, "delete_app", func() error {
		return o.platform.DeleteApp(ctx, p.PlatformAppUUID)
	}); err != nil {
		warn("deleting platform application", err)
	}

	if opts.DeleteRepo {
		if err := o.retry(ctx, "delete_repo", func() error {
			return o.forge.DeleteRepo(ctx, p.ForgeOwner, p.Slug)
		}); err != nil {
			warn("deleting forge repository", err)
		}
	}

	if err := o.store.DeleteProject(ctx, projectID); err != nil {
		return warnings, err
	}
	log.Info("project deleted", "project_id", projectID, "slug", p.Slug, "warnings", len(warnings))
	return warnings, nil
}
