package orchestrator

import (
	"context"
	"strconv"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/codeopen/codeopen/internal/log"
	"github.com/codeopen/codeopen/internal/store"
)

// UpdateCredentials recomposes the container environment for a (possibly new)
// provider selection, pushes it to the platform and, when the project is
// running, restarts the container so it re-reads credentials at boot.
func (o *Orchestrator) UpdateCredentials(ctx context.Context, projectID, providerID string) error {
	unlock := o.locks.lock(projectID)
	defer unlock()
	return o.updateCredentialsLocked(ctx, projectID, providerID)
}

func (o *Orchestrator) updateCredentialsLocked(ctx context.Context, projectID, providerID string) error {
	p, err := o.store.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	if providerID == "" {
		providerID = p.LLMProviderID
	}

	env, err := o.composeEnv(ctx, envInputs{
		slug:          p.Slug,
		name:          p.Name,
		containerPort: p.ContainerPort,
		cloneURL:      p.CloneURLPublic,
		providerID:    providerID,
		modelID:       p.LLMModelID,
	})
	if err != nil {
		return err
	}
	if err := o.retry(ctx, "bulk_set_env", func() error {
		return o.platform.BulkSetEnvVars(ctx, p.PlatformAppUUID, env)
	}); err != nil {
		return err
	}

	if providerID != p.LLMProviderID {
		if err := o.store.UpdateProject(ctx, projectID, store.ProjectUpdate{
			LLMProviderID: &providerID,
		}); err != nil {
			return err
		}
	}

	// Only a running container holds stale credentials in memory.
	if p.Status == store.StatusRunning {
		if err := o.platform.RestartApp(ctx, p.PlatformAppUUID); err != nil {
			o.recordError(ctx, projectID, "credential restart failed", err)
			return err
		}
		o.evict(projectID)
	}
	log.Info("credentials updated", "project_id", projectID,
		"provider_id", providerID, "env_keys", strconv.Itoa(len(env)))
	return nil
}

// SyncResult counts the outcome of a credential broadcast.
type SyncResult struct {
	Updated int
	Failed  int
}

// SyncCredentialsToAllProjects pushes the current credential set to every
// running project. Per-project failures are counted and logged, never
// propagated; distinct projects are updated concurrently.
func (o *Orchestrator) SyncCredentialsToAllProjects(ctx context.Context) (SyncResult, error) {
	projects, err := o.store.ListProjects(ctx)
	if err != nil {
		return SyncResult{}, err
	}

	var updated, failed atomic.Int64
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, p := range projects {
		if p.Status != store.StatusRunning {
			continue
		}
		p := p
		g.Go(func() error {
			unlock := o.locks.lock(p.ID)
			defer unlock()
			if err := o.updateCredentialsLocked(ctx, p.ID, ""); err != nil {
				log.Warn("credential sync failed", "project_id", p.ID, "error", err)
				failed.Add(1)
				return nil
			}
			updated.Add(1)
			return nil
		})
	}
	_ = g.Wait() // workers never return errors

	res := SyncResult{Updated: int(updated.Load()), Failed: int(failed.Load())}
	log.Info("credential sync complete", "updated", res.Updated, "failed", res.Failed)
	return res, nil
}
