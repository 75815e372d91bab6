package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/codeopen/codeopen/internal/assistant"
	"github.com/codeopen/codeopen/internal/forge"
	"github.com/codeopen/codeopen/internal/orchestrator"
	"github.com/codeopen/codeopen/internal/platform"
	"github.com/codeopen/codeopen/internal/store"
	"github.com/codeopen/codeopen/internal/vault"
)

// app wires the full service graph for one command invocation.
type app struct {
	store *store.Store
	orch  *orchestrator.Orchestrator
	proxy *assistant.Proxy
	forge *forge.Client
	plat  *platform.Client
}

// newApp validates configuration and builds the service graph. Callers must
// Close.
func newApp() (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}

	fg := forge.New(cfg.Forge.BaseURL, cfg.Forge.Token)
	pf := platform.New(cfg.Platform.BaseURL, cfg.Platform.Token)
	v := vault.New(st)

	orch := orchestrator.New(st, fg, pf, v, cfg)
	proxy := assistant.New(st, pf, cfg.WildcardDomain)
	orch.SetEvictor(proxy)

	return &app{store: st, orch: orch, proxy: proxy, forge: fg, plat: pf}, nil
}

func (a *app) Close() {
	a.store.Close()
}

// printJSON writes v as indented JSON to stdout.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// formatAge renders a duration since t the way humans read it.
func formatAge(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}
