// Package vault maps an LLM-provider identifier to the environment variables
// the assistant container needs. The vault is the only component that reads
// credential material; it never logs it and the orchestrator treats the
// returned map as opaque.
package vault

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/codeopen/codeopen/internal/apperr"
	"github.com/codeopen/codeopen/internal/log"
	"github.com/codeopen/codeopen/internal/store"
)

// AuthEnvKey is the well-known variable carrying the assistant's auth blob.
const AuthEnvKey = "OPENCODE_AUTH_JSON"

// ModelEnvKey carries the non-secret default model hint, when one exists.
const ModelEnvKey = "OPENCODE_MODEL"

// DefaultProviderSetting is the settings key naming the default provider.
const DefaultProviderSetting = "default_llm_provider"

// Vault reads provider records from the store.
type Vault struct {
	store *store.Store
}

// New creates a Vault over the given store.
func New(s *store.Store) *Vault {
	return &Vault{store: s}
}

// GetEnvVars returns the credential environment for providerID. An empty
// providerID selects the union of all configured providers, which is what the
// credential-sync broadcast wants. No configured providers yields an empty
// map, not an error.
func (v *Vault) GetEnvVars(ctx context.Context, providerID string) (map[string]string, error) {
	var providers []*store.Provider

	if providerID == "" {
		all, err := v.store.ListProviders(ctx)
		if err != nil {
			return nil, err
		}
		providers = all
	} else {
		p, err := v.store.GetProvider(ctx, providerID)
		if err != nil {
			if apperr.IsKind(err, apperr.KindNotFound) {
				log.Warn("llm provider not configured", "provider_id", providerID)
				return map[string]string{}, nil
			}
			return nil, err
		}
		providers = []*store.Provider{p}
	}

	if len(providers) == 0 {
		log.Warn("no llm providers configured; container will start without credentials")
		return map[string]string{}, nil
	}

	env := make(map[string]string)

	auth := make(map[string]json.RawMessage)
	var model string
	for _, p := range providers {
		if p.CredentialMaterial != "" {
			blob, err := providerAuthEntry(p)
			if err != nil {
				return nil, err
			}
			for kind, entry := range blob {
				auth[kind] = entry
			}
		}
		if model == "" && p.DefaultModel != "" {
			model = p.DefaultModel
		}
	}

	if len(auth) > 0 {
		data, err := json.Marshal(auth)
		if err != nil {
			return nil, fmt.Errorf("marshaling auth blob: %w", err)
		}
		env[AuthEnvKey] = string(data)
	}
	if model != "" {
		env[ModelEnvKey] = model
	}
	return env, nil
}

// providerAuthEntry parses one provider's credential material. Material that
// is a JSON object keyed by provider kind is merged as-is; any other JSON
// value is nested under the provider's kind.
func providerAuthEntry(p *store.Provider) (map[string]json.RawMessage, error) {
	raw := json.RawMessage(p.CredentialMaterial)
	if !json.Valid(raw) {
		return nil, apperr.New(apperr.KindInternal, "bad_credential_material",
			"provider %s has unparseable credential material", p.ID)
	}

	var asObject map[string]json.RawMessage
	if err := json.Unmarshal(raw, &asObject); err == nil {
		if _, keyedByKind := asObject[p.Kind]; keyedByKind {
			return asObject, nil
		}
	}
	return map[string]json.RawMessage{p.Kind: raw}, nil
}

// DefaultProviderID returns the provider to use when a caller selects none:
// the default_llm_provider setting when set, else the provider row flagged as
// default. Empty when neither exists, which selects the union of all
// providers downstream.
func (v *Vault) DefaultProviderID(ctx context.Context) (string, error) {
	id, err := v.store.GetSetting(ctx, DefaultProviderSetting)
	if err != nil || id != "" {
		return id, err
	}
	p, err := v.store.DefaultProvider(ctx)
	if err != nil {
		if apperr.IsKind(err, apperr.KindNotFound) {
			return "", nil
		}
		return "", err
	}
	return p.ID, nil
}
