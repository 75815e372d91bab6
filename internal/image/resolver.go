// Package image resolves a (flavor, addons, tier) selection into the concrete
// assistant image reference, exposed ports, resource limits and FQDN plan.
// Resolution is pure: no I/O, deterministic output for identical input.
package image

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Flavor is a coarse variant of the assistant image.
type Flavor struct {
	ID          string
	Name        string
	Description string
	IsDefault   bool
}

// Addon is an optional feature baked into the image (code editor, GUI, ...).
type Addon struct {
	ID string
	Name string
	// CompatibleFlavors lists the flavor IDs this addon can combine with.
	CompatibleFlavors []string
	// Ports the addon listens on inside the container.
	Ports []int
	// FQDNPrefix is the subdomain prefix for the addon's own FQDN
	// (e.g. "code" yields code-<slug>.<domain>). Empty means no FQDN.
	FQDNPrefix  string
	RequiresGPU bool
	// SortOrder breaks ties when several compatible addons are supplied;
	// the lowest wins a place in the image tag.
	SortOrder int
}

// Tier bundles resource limits applied at deploy time.
type Tier struct {
	ID          string
	Name        string
	CPULimit    string
	MemoryLimit string
	IsDefault   bool
}

// Catalog holds the configured flavors, addons and tiers.
type Catalog struct {
	Flavors map[string]Flavor
	Addons  map[string]Addon
	Tiers   map[string]Tier
}

// DefaultFlavor returns the catalog's default flavor.
func (c Catalog) DefaultFlavor() (Flavor, bool) {
	for _, f := range c.Flavors {
		if f.IsDefault {
			return f, true
		}
	}
	return Flavor{}, false
}

// DefaultTier returns the catalog's default tier.
func (c Catalog) DefaultTier() (Tier, bool) {
	for _, t := range c.Tiers {
		if t.IsDefault {
			return t, true
		}
	}
	return Tier{}, false
}

// Settings carries the deployment-level inputs to resolution.
type Settings struct {
	Registry string
	Owner    string
	Version  string
	// BasePort is the assistant's port inside the container.
	BasePort int
	// GatewayPort is exposed next to the assistant.
	GatewayPort int
	// WildcardDomain enables FQDN generation when non-empty.
	WildcardDomain string
}

// Limits are the resolved resource limits.
type Limits struct {
	TierID string
	CPU    string
	Memory string
}

// Resolution is the outcome of Resolve. The selection that produced it is
// recorded on the project so later deploys re-render the same image.
type Resolution struct {
	ImageRef     string
	ExposedPorts []int
	Limits       Limits
	// DomainsConfig pairs each generated FQDN with its target port:
	// "https://opencode-demo.example.com:4096,https://code-demo.example.com:8443".
	// Empty when no wildcard domain is configured.
	DomainsConfig string
	RequiresGPU   bool
	Warnings      []string
}

// ValidationResult is returned by ValidateConfig for edge-of-API checks.
type ValidationResult struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

// Resolve composes the image reference and runtime plan for a project.
// Unknown inputs fall back to defaults with a warning rather than failing;
// hard failures are reserved for a catalog with no default flavor or tier.
func Resolve(cat Catalog, set Settings, slug, flavorID string, addonIDs []string, tierID string) (Resolution, error) {
	var res Resolution

	flavor, warn, err := pickFlavor(cat, flavorID)
	if err != nil {
		return res, err
	}
	if warn != "" {
		res.Warnings = append(res.Warnings, warn)
	}

	addons, warns := pickAddons(cat, flavor, addonIDs)
	res.Warnings = append(res.Warnings, warns...)

	tier, warn, err := pickTier(cat, tierID)
	if err != nil {
		return res, err
	}
	if warn != "" {
		res.Warnings = append(res.Warnings, warn)
	}
	res.Limits = Limits{TierID: tier.ID, CPU: tier.CPULimit, Memory: tier.MemoryLimit}

	// Only the first addon (by sort order) participates in the tag.
	tag := "codeopen-" + flavor.ID
	if len(addons) > 0 {
		tag += "-" + addons[0].ID
	}
	res.ImageRef = fmt.Sprintf("%s/%s/%s:%s", set.Registry, set.Owner, tag, set.Version)

	portSet := map[int]bool{set.BasePort: true, set.GatewayPort: true}
	for _, a := range addons {
		res.RequiresGPU = res.RequiresGPU || a.RequiresGPU
		for _, p := range a.Ports {
			portSet[p] = true
		}
	}
	for p := range portSet {
		res.ExposedPorts = append(res.ExposedPorts, p)
	}
	sort.Ints(res.ExposedPorts)

	res.DomainsConfig = domainsConfig(set, slug, addons)
	return res, nil
}

// ValidateConfig checks a selection without resolving it. Used by input
// validation at the API edge; it reports unknown flavors and tiers as errors
// (they would silently fall back during resolution) and incompatible or
// surplus addons as warnings.
func ValidateConfig(cat Catalog, flavorID string, addonIDs []string, tierID string) ValidationResult {
	result := ValidationResult{Valid: true}

	flavor := Flavor{}
	if flavorID != "" {
		f, ok := cat.Flavors[flavorID]
		if !ok {
			result.Valid = false
			result.Errors = append(result.Errors, fmt.Sprintf("unknown flavor %q", flavorID))
		} else {
			flavor = f
		}
	} else if f, ok := cat.DefaultFlavor(); ok {
		flavor = f
	}

	if tierID != "" {
		if _, ok := cat.Tiers[tierID]; !ok {
			result.Valid = false
			result.Errors = append(result.Errors, fmt.Sprintf("unknown resource tier %q", tierID))
		}
	}

	compatible := 0
	for _, id := range addonIDs {
		a, ok := cat.Addons[id]
		if !ok {
			result.Warnings = append(result.Warnings, fmt.Sprintf("unknown addon %q ignored", id))
			continue
		}
		if flavor.ID != "" && !addonCompatible(a, flavor.ID) {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("addon %q is not compatible with flavor %q", id, flavor.ID))
			continue
		}
		compatible++
	}
	if compatible > 1 {
		result.Warnings = append(result.Warnings,
			"multiple addons selected; only one participates in the image")
	}
	return result
}

func pickFlavor(cat Catalog, flavorID string) (Flavor, string, error) {
	if flavorID != "" {
		if f, ok := cat.Flavors[flavorID]; ok {
			return f, "", nil
		}
	}
	def, ok := cat.DefaultFlavor()
	if !ok {
		return Flavor{}, "", fmt.Errorf("catalog has no default flavor")
	}
	if flavorID != "" {
		return def, fmt.Sprintf("unknown flavor %q, using default %q", flavorID, def.ID), nil
	}
	return def, "", nil
}

func pickTier(cat Catalog, tierID string) (Tier, string, error) {
	if tierID != "" {
		if t, ok := cat.Tiers[tierID]; ok {
			return t, "", nil
		}
	}
	def, ok := cat.DefaultTier()
	if !ok {
		return Tier{}, "", fmt.Errorf("catalog has no default tier")
	}
	if tierID != "" {
		return def, fmt.Sprintf("unknown resource tier %q, using default %q", tierID, def.ID), nil
	}
	return def, "", nil
}

// pickAddons filters to compatible addons sorted by SortOrder. At most one
// addon survives; a warning names the ones dropped.
func pickAddons(cat Catalog, flavor Flavor, addonIDs []string) ([]Addon, []string) {
	var warnings []string
	var selected []Addon
	for _, id := range addonIDs {
		a, ok := cat.Addons[id]
		if !ok {
			warnings = append(warnings, fmt.Sprintf("unknown addon %q ignored", id))
			continue
		}
		if !addonCompatible(a, flavor.ID) {
			warnings = append(warnings,
				fmt.Sprintf("addon %q dropped: not compatible with flavor %q", id, flavor.ID))
			continue
		}
		selected = append(selected, a)
	}

	sort.SliceStable(selected, func(i, j int) bool {
		return selected[i].SortOrder < selected[j].SortOrder
	})

	if len(selected) > 1 {
		dropped := make([]string, 0, len(selected)-1)
		for _, a := range selected[1:] {
			dropped = append(dropped, a.ID)
		}
		warnings = append(warnings, fmt.Sprintf(
			"only addon %q participates in the image tag; dropped from tag: %s",
			selected[0].ID, strings.Join(dropped, ", ")))
		selected = selected[:1]
	}
	return selected, warnings
}

func addonCompatible(a Addon, flavorID string) bool {
	for _, f := range a.CompatibleFlavors {
		if f == flavorID {
			return true
		}
	}
	return false
}

// domainsConfig builds the FQDN:port routing plan. The assistant FQDN is
// always generated; addon FQDNs only when the addon is present and declares
// a prefix and at least one port.
func domainsConfig(set Settings, slug string, addons []Addon) string {
	if set.WildcardDomain == "" {
		return ""
	}
	entries := []string{
		fmt.Sprintf("https://opencode-%s.%s:%d", slug, set.WildcardDomain, set.BasePort),
	}
	for _, a := range addons {
		if a.FQDNPrefix == "" || len(a.Ports) == 0 {
			continue
		}
		entries = append(entries, fmt.Sprintf("https://%s-%s.%s:%s",
			a.FQDNPrefix, slug, set.WildcardDomain, strconv.Itoa(a.Ports[0])))
	}
	return strings.Join(entries, ",")
}

// AssistantFQDN returns the canonical assistant hostname for slug under the
// wildcard domain.
func AssistantFQDN(slug, wildcardDomain string) string {
	return fmt.Sprintf("opencode-%s.%s", slug, wildcardDomain)
}
