package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/codeopen/codeopen/internal/apperr"
	"github.com/codeopen/codeopen/internal/image"
)

// Catalog loads the flavor/addon/tier tables into an image.Catalog.
func (s *Store) Catalog(ctx context.Context) (image.Catalog, error) {
	cat := image.Catalog{
		Flavors: make(map[string]image.Flavor),
		Addons:  make(map[string]image.Addon),
		Tiers:   make(map[string]image.Tier),
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, is_default FROM container_flavors`)
	if err != nil {
		return cat, fmt.Errorf("querying flavors: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var f image.Flavor
		var isDefault int
		if err := rows.Scan(&f.ID, &f.Name, &f.Description, &isDefault); err != nil {
			return cat, fmt.Errorf("scanning flavor: %w", err)
		}
		f.IsDefault = isDefault != 0
		cat.Flavors[f.ID] = f
	}
	if err := rows.Err(); err != nil {
		return cat, err
	}

	addonRows, err := s.db.QueryContext(ctx,
		`SELECT id, name, compatible_flavors, ports, fqdn_prefix, requires_gpu, sort_order
		 FROM container_addons`)
	if err != nil {
		return cat, fmt.Errorf("querying addons: %w", err)
	}
	defer addonRows.Close()
	for addonRows.Next() {
		var a image.Addon
		var flavorsJSON, portsJSON string
		var requiresGPU int
		if err := addonRows.Scan(&a.ID, &a.Name, &flavorsJSON, &portsJSON,
			&a.FQDNPrefix, &requiresGPU, &a.SortOrder); err != nil {
			return cat, fmt.Errorf("scanning addon: %w", err)
		}
		if err := json.Unmarshal([]byte(flavorsJSON), &a.CompatibleFlavors); err != nil {
			return cat, fmt.Errorf("addon %s compatible_flavors: %w", a.ID, err)
		}
		if err := json.Unmarshal([]byte(portsJSON), &a.Ports); err != nil {
			return cat, fmt.Errorf("addon %s ports: %w", a.ID, err)
		}
		a.RequiresGPU = requiresGPU != 0
		cat.Addons[a.ID] = a
	}
	if err := addonRows.Err(); err != nil {
		return cat, err
	}

	tierRows, err := s.db.QueryContext(ctx,
		`SELECT id, name, cpu_limit, memory_limit, is_default FROM resource_tiers`)
	if err != nil {
		return cat, fmt.Errorf("querying tiers: %w", err)
	}
	defer tierRows.Close()
	for tierRows.Next() {
		var t image.Tier
		var isDefault int
		if err := tierRows.Scan(&t.ID, &t.Name, &t.CPULimit, &t.MemoryLimit, &isDefault); err != nil {
			return cat, fmt.Errorf("scanning tier: %w", err)
		}
		t.IsDefault = isDefault != 0
		cat.Tiers[t.ID] = t
	}
	return cat, tierRows.Err()
}

// Provider is one configured LLM provider. CredentialMaterial is opaque to
// everything but the vault.
type Provider struct {
	ID                 string
	Kind               string
	CredentialMaterial string
	DefaultModel       string
	IsDefault          bool
}

// GetProvider loads one provider by id.
func (s *Store) GetProvider(ctx context.Context, id string) (*Provider, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, kind, credential_material, default_model, is_default
		 FROM providers WHERE id = ?`, id)
	return scanProvider(row, id)
}

// DefaultProvider returns the provider flagged as default, or a not-found
// error when none is configured.
func (s *Store) DefaultProvider(ctx context.Context) (*Provider, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, kind, credential_material, default_model, is_default
		 FROM providers WHERE is_default = 1 LIMIT 1`)
	return scanProvider(row, "default")
}

// ListProviders returns all configured providers.
func (s *Store) ListProviders(ctx context.Context) ([]*Provider, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, credential_material, default_model, is_default
		 FROM providers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing providers: %w", err)
	}
	defer rows.Close()

	var providers []*Provider
	for rows.Next() {
		var p Provider
		var isDefault int
		if err := rows.Scan(&p.ID, &p.Kind, &p.CredentialMaterial, &p.DefaultModel, &isDefault); err != nil {
			return nil, fmt.Errorf("scanning provider: %w", err)
		}
		p.IsDefault = isDefault != 0
		providers = append(providers, &p)
	}
	return providers, rows.Err()
}

// PutProvider inserts or replaces a provider.
func (s *Store) PutProvider(ctx context.Context, p *Provider) error {
	isDefault := 0
	if p.IsDefault {
		isDefault = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO providers (id, kind, credential_material, default_model, is_default)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			credential_material = excluded.credential_material,
			default_model = excluded.default_model,
			is_default = excluded.is_default`,
		p.ID, p.Kind, p.CredentialMaterial, p.DefaultModel, isDefault)
	if err != nil {
		return fmt.Errorf("storing provider: %w", err)
	}
	return nil
}

func scanProvider(row *sql.Row, key string) (*Provider, error) {
	var p Provider
	var isDefault int
	err := row.Scan(&p.ID, &p.Kind, &p.CredentialMaterial, &p.DefaultModel, &isDefault)
	if err == sql.ErrNoRows {
		return nil, apperr.New(apperr.KindNotFound, "provider_not_found", "provider %s not found", key)
	}
	if err != nil {
		return nil, fmt.Errorf("scanning provider: %w", err)
	}
	p.IsDefault = isDefault != 0
	return &p, nil
}

// GetSetting returns the value for key, or "" with no error when unset.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading setting %s: %w", key, err)
	}
	return value, nil
}

// PutSetting stores a setting value.
func (s *Store) PutSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("storing setting %s: %w", key, err)
	}
	return nil
}
