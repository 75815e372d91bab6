package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/codeopen/codeopen/internal/apperr"
)

// Status is a project lifecycle state.
type Status string

const (
	StatusProvisioning Status = "provisioning"
	StatusStopped      Status = "stopped"
	StatusRunning      Status = "running"
	StatusError        Status = "error"
	StatusDeleting     Status = "deleting"
)

// Project is the root aggregate. ID, Slug, ForgeRepoID, ForgeOwner,
// PlatformAppUUID and ContainerPort are immutable after creation.
type Project struct {
	ID              string
	Slug            string
	Name            string
	Description     string
	ForgeRepoID     int64
	ForgeOwner      string
	PlatformAppUUID string
	ContainerPort   int
	// FlavorID, AddonIDs and TierID record the image selection made at
	// creation so a redeploy re-renders the same image.
	FlavorID string
	AddonIDs []string
	TierID   string
	Status   Status
	StatusDetail    string
	FQDNURL         string
	CloneURLPublic  string
	LLMProviderID   string
	LLMModelID      string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// slugRe is the allowed slug shape: lowercase alphanumeric with hyphens,
// at most 63 characters, no leading hyphen.
var slugRe = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,62}$`)

// maxSlugLen leaves room for collision suffixes within the 63-char budget.
const maxSlugLen = 48

// NewProjectID returns a fresh opaque project identifier.
func NewProjectID() string {
	return "prj_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:20]
}

// Slugify derives the base slug from a human name. Returns a validation
// error when nothing usable remains.
func Slugify(name string) (string, error) {
	var b strings.Builder
	lastHyphen := true // suppress leading hyphen
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	slug := strings.Trim(b.String(), "-")
	if len(slug) > maxSlugLen {
		slug = strings.Trim(slug[:maxSlugLen], "-")
	}
	if slug == "" || !slugRe.MatchString(slug) {
		return "", apperr.New(apperr.KindValidation, "invalid_name",
			"project name %q yields no usable slug", name)
	}
	return slug, nil
}

// GenerateUniqueSlug derives a slug from name that is free among non-deleted
// projects, appending the shortest -2, -3, ... suffix that frees the
// namespace. Deterministic for a given name and store contents.
func (s *Store) GenerateUniqueSlug(ctx context.Context, name string) (string, error) {
	base, err := Slugify(name)
	if err != nil {
		return "", err
	}

	taken := make(map[string]bool)
	rows, err := s.db.QueryContext(ctx,
		`SELECT slug FROM projects WHERE slug = ? OR slug LIKE ?`, base, base+"-%")
	if err != nil {
		return "", fmt.Errorf("querying slugs: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var slug string
		if err := rows.Scan(&slug); err != nil {
			return "", fmt.Errorf("scanning slug: %w", err)
		}
		taken[slug] = true
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("iterating slugs: %w", err)
	}

	if !taken[base] {
		return base, nil
	}
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s-%d", base, n)
		if !taken[candidate] {
			return candidate, nil
		}
	}
}

// CreateProject persists a new project. The caller fills every immutable
// field; CreatedAt/UpdatedAt are stamped here. A slug collision surfaces as
// a conflict error via the unique index.
func (s *Store) CreateProject(ctx context.Context, p *Project) error {
	if p.ID == "" {
		p.ID = NewProjectID()
	}
	if !slugRe.MatchString(p.Slug) {
		return apperr.New(apperr.KindValidation, "invalid_slug", "slug %q is invalid", p.Slug)
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	addonIDs, err := json.Marshal(append([]string{}, p.AddonIDs...))
	if err != nil {
		return fmt.Errorf("encoding addon ids: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO projects (
			id, slug, name, description, forge_repo_id, forge_owner,
			platform_app_uuid, container_port, flavor_id, addon_ids, tier_id,
			status, status_detail, fqdn_url, clone_url_public,
			llm_provider_id, llm_model_id, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Slug, p.Name, p.Description, p.ForgeRepoID, p.ForgeOwner,
		p.PlatformAppUUID, p.ContainerPort, p.FlavorID, string(addonIDs), p.TierID,
		string(p.Status), p.StatusDetail, p.FQDNURL, p.CloneURLPublic,
		p.LLMProviderID, p.LLMModelID,
		now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return apperr.Wrap(err, apperr.KindConflict, "slug_taken", "slug %q already in use", p.Slug)
		}
		return fmt.Errorf("inserting project: %w", err)
	}
	return nil
}

const projectColumns = `id, slug, name, description, forge_repo_id, forge_owner,
	platform_app_uuid, container_port, flavor_id, addon_ids, tier_id,
	status, status_detail, fqdn_url, clone_url_public,
	llm_provider_id, llm_model_id, created_at, updated_at`

// GetProject loads a project by id.
func (s *Store) GetProject(ctx context.Context, id string) (*Project, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE id = ?`, id)
	return scanProject(row, id)
}

// GetProjectBySlug loads a project by slug.
func (s *Store) GetProjectBySlug(ctx context.Context, slug string) (*Project, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE slug = ?`, slug)
	return scanProject(row, slug)
}

// ListProjects returns all projects ordered by creation time.
func (s *Store) ListProjects(ctx context.Context) ([]*Project, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+projectColumns+` FROM projects ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}
	defer rows.Close()

	var projects []*Project
	for rows.Next() {
		p, err := scanProjectRows(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// ProjectUpdate is a partial mutation; nil fields are untouched. Status is
// deliberately absent; UpdateStatus is the only way to change it.
type ProjectUpdate struct {
	FQDNURL       *string
	LLMProviderID *string
	LLMModelID    *string
	Description   *string
}

// UpdateProject applies a partial update.
func (s *Store) UpdateProject(ctx context.Context, id string, upd ProjectUpdate) error {
	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UTC().Format(time.RFC3339Nano)}
	add := func(col string, v *string) {
		if v != nil {
			sets = append(sets, col+" = ?")
			args = append(args, *v)
		}
	}
	add("fqdn_url", upd.FQDNURL)
	add("llm_provider_id", upd.LLMProviderID)
	add("llm_model_id", upd.LLMModelID)
	add("description", upd.Description)

	args = append(args, id)
	res, err := s.db.ExecContext(ctx,
		`UPDATE projects SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("updating project: %w", err)
	}
	return requireRow(res, id)
}

// UpdateStatus transitions a project's status, stamping updated_at. On a
// transition to error the detail is stored verbatim; otherwise detail
// replaces whatever was there (usually empty).
func (s *Store) UpdateStatus(ctx context.Context, id string, status Status, detail string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE projects SET status = ?, status_detail = ?, updated_at = ? WHERE id = ?`,
		string(status), detail, time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("updating status: %w", err)
	}
	return requireRow(res, id)
}

// DeleteProject removes a project. Deleting an absent project is a
// not-found error, not a no-op.
func (s *Store) DeleteProject(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting project: %w", err)
	}
	return requireRow(res, id)
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return apperr.New(apperr.KindNotFound, "project_not_found", "project %s not found", id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row *sql.Row, key string) (*Project, error) {
	p, err := scanProjectFrom(row)
	if err == sql.ErrNoRows {
		return nil, apperr.New(apperr.KindNotFound, "project_not_found", "project %s not found", key)
	}
	if err != nil {
		return nil, fmt.Errorf("scanning project: %w", err)
	}
	return p, nil
}

func scanProjectRows(rows *sql.Rows) (*Project, error) {
	p, err := scanProjectFrom(rows)
	if err != nil {
		return nil, fmt.Errorf("scanning project: %w", err)
	}
	return p, nil
}

func scanProjectFrom(r rowScanner) (*Project, error) {
	var p Project
	var addonIDs, status, createdAt, updatedAt string
	err := r.Scan(&p.ID, &p.Slug, &p.Name, &p.Description, &p.ForgeRepoID, &p.ForgeOwner,
		&p.PlatformAppUUID, &p.ContainerPort, &p.FlavorID, &addonIDs, &p.TierID,
		&status, &p.StatusDetail, &p.FQDNURL, &p.CloneURLPublic,
		&p.LLMProviderID, &p.LLMModelID, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(addonIDs), &p.AddonIDs); err != nil {
		return nil, fmt.Errorf("decoding addon ids: %w", err)
	}
	p.Status = Status(status)
	p.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	p.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &p, nil
}
