// Package orchestrator drives the project lifecycle across the forge, the
// container platform, the credential vault and the local store. It owns the
// create/delete sagas, compensating rollback, retry policy and credential
// sync. Gateways stay policy-free; every retry decision lives here.
package orchestrator

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/codeopen/codeopen/internal/apperr"
	"github.com/codeopen/codeopen/internal/config"
	"github.com/codeopen/codeopen/internal/forge"
	"github.com/codeopen/codeopen/internal/log"
	"github.com/codeopen/codeopen/internal/platform"
	"github.com/codeopen/codeopen/internal/store"
)

// ForgeAPI is the slice of the forge gateway the orchestrator consumes.
type ForgeAPI interface {
	CurrentUser(ctx context.Context) (*forge.User, error)
	CreateRepo(ctx context.Context, opts forge.CreateRepoOptions) (*forge.Repo, error)
	MirrorRepo(ctx context.Context, opts forge.MirrorOptions) (*forge.Repo, error)
	DeleteRepo(ctx context.Context, owner, name string) error
}

// PlatformAPI is the slice of the platform gateway the orchestrator consumes.
type PlatformAPI interface {
	CreateAppFromDockerfile(ctx context.Context, opts platform.CreateAppOptions) (string, error)
	UpdateApp(ctx context.Context, appUUID string, settings platform.AppSettings) error
	GetApp(ctx context.Context, appUUID string) (*platform.App, error)
	DeleteApp(ctx context.Context, appUUID string) error
	StartApp(ctx context.Context, appUUID string) error
	StopApp(ctx context.Context, appUUID string) error
	RestartApp(ctx context.Context, appUUID string) error
	DeployApp(ctx context.Context, appUUID string, force bool) (*platform.DeployResult, error)
	GetLogs(ctx context.Context, appUUID string, lines int) (string, error)
	BulkSetEnvVars(ctx context.Context, appUUID string, env map[string]string) error
}

// CredentialSource is the slice of the vault the orchestrator consumes. The
// returned maps are opaque; the orchestrator never inspects values.
type CredentialSource interface {
	GetEnvVars(ctx context.Context, providerID string) (map[string]string, error)
	DefaultProviderID(ctx context.Context) (string, error)
}

// Evictor lets the orchestrator invalidate cached assistant clients when a
// project stops or is deleted. Optional.
type Evictor interface {
	Evict(projectID string)
}

// Orchestrator composes the gateways into transactional project operations.
type Orchestrator struct {
	store    *store.Store
	forge    ForgeAPI
	platform PlatformAPI
	vault    CredentialSource
	cfg      *config.Config
	locks    keyedMutex
	evictor  Evictor

	// retryBase is the first backoff delay; doubled per attempt. Tests
	// shorten it.
	retryBase time.Duration
}

// New creates an Orchestrator.
func New(s *store.Store, f ForgeAPI, p PlatformAPI, v CredentialSource, cfg *config.Config) *Orchestrator {
	return &Orchestrator{
		store:     s,
		forge:     f,
		platform:  p,
		vault:     v,
		cfg:       cfg,
		retryBase: 250 * time.Millisecond,
	}
}

// SetEvictor registers the assistant client cache for invalidation.
func (o *Orchestrator) SetEvictor(e Evictor) {
	o.evictor = e
}

func (o *Orchestrator) evict(projectID string) {
	if o.evictor != nil {
		o.evictor.Evict(projectID)
	}
}

// keyedMutex serializes operations per project id. Entries are never
// reclaimed; project counts are modest and entries are two words each.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}

const (
	maxRetryAttempts = 3
	maxSlugAttempts  = 5
)

// retry runs fn up to maxRetryAttempts times with exponential backoff,
// honoring upstream retry-after hints. Only transient failures are retried,
// and only idempotent gateway calls may be passed in.
func (o *Orchestrator) retry(ctx context.Context, op string, fn func() error) error {
	var err error
	delay := o.retryBase
	for attempt := 1; ; attempt++ {
		err = fn()
		if err == nil || !apperr.Retryable(err) || attempt == maxRetryAttempts {
			return err
		}
		wait := delay
		if after, ok := apperr.RetryAfterOf(err); ok {
			wait = after
		}
		log.Debug("retrying transient failure", "op", op, "attempt", attempt, "wait", wait)
		select {
		case <-ctx.Done():
			return err
		case <-time.After(wait):
		}
		delay *= 2
	}
}

// derivePort maps a forge repository id deterministically into the
// configured port range. Stable for the project's lifetime.
func (o *Orchestrator) derivePort(repoID int64) int {
	span := int64(o.cfg.Ports.RangeEnd-o.cfg.Ports.RangeStart) + 1
	return o.cfg.Ports.RangeStart + int(repoID%span)
}

// publicCloneURL rewrites a forge-internal clone URL into the public HTTPS
// form handed to containers. With a configured public base URL the host is
// swapped; otherwise an explicit port on an https URL is stripped.
func (o *Orchestrator) publicCloneURL(cloneURL string) string {
	u, err := url.Parse(cloneURL)
	if err != nil {
		return cloneURL
	}

	if o.cfg.Forge.PublicBaseURL != "" {
		pub, err := url.Parse(o.cfg.Forge.PublicBaseURL)
		if err == nil && pub.Host != "" {
			u.Scheme = pub.Scheme
			u.Host = pub.Host
			if basePath := strings.TrimSuffix(pub.Path, "/"); basePath != "" {
				u.Path = basePath + u.Path
			}
			return u.String()
		}
	}

	if u.Scheme == "https" && u.Port() != "" {
		u.Host = u.Hostname()
		return u.String()
	}
	return cloneURL
}
