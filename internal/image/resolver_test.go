package image

import (
	"reflect"
	"strings"
	"testing"
)

func testCatalog() Catalog {
	return Catalog{
		Flavors: map[string]Flavor{
			"base": {ID: "base", Name: "Base", IsDefault: true},
			"full": {ID: "full", Name: "Full"},
		},
		Addons: map[string]Addon{
			"code": {ID: "code", CompatibleFlavors: []string{"base", "full"}, Ports: []int{8443}, FQDNPrefix: "code", SortOrder: 10},
			"vnc":  {ID: "vnc", CompatibleFlavors: []string{"full"}, Ports: []int{6080}, FQDNPrefix: "vnc", SortOrder: 20},
			"gpu":  {ID: "gpu", CompatibleFlavors: []string{"full"}, RequiresGPU: true, SortOrder: 30},
		},
		Tiers: map[string]Tier{
			"small": {ID: "small", CPULimit: "1", MemoryLimit: "1g", IsDefault: true},
			"large": {ID: "large", CPULimit: "4", MemoryLimit: "8g"},
		},
	}
}

func testSettings() Settings {
	return Settings{
		Registry:       "ghcr.io",
		Owner:          "codeopen",
		Version:        "v1",
		BasePort:       4096,
		GatewayPort:    4097,
		WildcardDomain: "apps.example.com",
	}
}

func TestResolveDefaults(t *testing.T) {
	res, err := Resolve(testCatalog(), testSettings(), "demo", "", nil, "")
	if err != nil {
		t.Fatal(err)
	}
	if res.ImageRef != "ghcr.io/codeopen/codeopen-base:v1" {
		t.Errorf("image = %q", res.ImageRef)
	}
	if !reflect.DeepEqual(res.ExposedPorts, []int{4096, 4097}) {
		t.Errorf("ports = %v", res.ExposedPorts)
	}
	if res.Limits.TierID != "small" || res.Limits.CPU != "1" {
		t.Errorf("limits = %+v", res.Limits)
	}
	if len(res.Warnings) != 0 {
		t.Errorf("unexpected warnings: %v", res.Warnings)
	}
	if res.DomainsConfig != "https://opencode-demo.apps.example.com:4096" {
		t.Errorf("domains = %q", res.DomainsConfig)
	}
}

func TestResolveIsPure(t *testing.T) {
	cat, set := testCatalog(), testSettings()
	a, err := Resolve(cat, set, "demo", "full", []string{"vnc", "code"}, "large")
	if err != nil {
		t.Fatal(err)
	}
	b, err := Resolve(cat, set, "demo", "full", []string{"vnc", "code"}, "large")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Errorf("resolution is not deterministic:\n%+v\n%+v", a, b)
	}
}

func TestResolveUnknownFlavorFallsBack(t *testing.T) {
	res, err := Resolve(testCatalog(), testSettings(), "demo", "mystery", nil, "")
	if err != nil {
		t.Fatal(err)
	}
	if res.ImageRef != "ghcr.io/codeopen/codeopen-base:v1" {
		t.Errorf("image = %q, want default flavor", res.ImageRef)
	}
	if len(res.Warnings) != 1 || !strings.Contains(res.Warnings[0], "mystery") {
		t.Errorf("warnings = %v", res.Warnings)
	}
}

func TestResolveUnknownTierFallsBack(t *testing.T) {
	res, err := Resolve(testCatalog(), testSettings(), "demo", "", nil, "huge")
	if err != nil {
		t.Fatal(err)
	}
	if res.Limits.TierID != "small" {
		t.Errorf("tier = %q, want default", res.Limits.TierID)
	}
	if len(res.Warnings) != 1 {
		t.Errorf("warnings = %v", res.Warnings)
	}
}

func TestResolveAddon(t *testing.T) {
	res, err := Resolve(testCatalog(), testSettings(), "demo", "base", []string{"code"}, "")
	if err != nil {
		t.Fatal(err)
	}
	if res.ImageRef != "ghcr.io/codeopen/codeopen-base-code:v1" {
		t.Errorf("image = %q", res.ImageRef)
	}
	if !reflect.DeepEqual(res.ExposedPorts, []int{4096, 4097, 8443}) {
		t.Errorf("ports = %v", res.ExposedPorts)
	}
	want := "https://opencode-demo.apps.example.com:4096,https://code-demo.apps.example.com:8443"
	if res.DomainsConfig != want {
		t.Errorf("domains = %q, want %q", res.DomainsConfig, want)
	}
}

func TestResolveIncompatibleAddonDropped(t *testing.T) {
	// vnc only pairs with full; with base it vanishes entirely.
	res, err := Resolve(testCatalog(), testSettings(), "demo", "base", []string{"vnc"}, "")
	if err != nil {
		t.Fatal(err)
	}
	if res.ImageRef != "ghcr.io/codeopen/codeopen-base:v1" {
		t.Errorf("image = %q", res.ImageRef)
	}
	if !reflect.DeepEqual(res.ExposedPorts, []int{4096, 4097}) {
		t.Errorf("dropped addon leaked ports: %v", res.ExposedPorts)
	}
	if len(res.Warnings) != 1 {
		t.Errorf("warnings = %v", res.Warnings)
	}
}

func TestResolveMultipleAddonsPicksLowestSortOrder(t *testing.T) {
	res, err := Resolve(testCatalog(), testSettings(), "demo", "full", []string{"vnc", "code"}, "")
	if err != nil {
		t.Fatal(err)
	}
	if res.ImageRef != "ghcr.io/codeopen/codeopen-full-code:v1" {
		t.Errorf("image = %q, want code (sort_order 10) in tag", res.ImageRef)
	}
	found := false
	for _, w := range res.Warnings {
		if strings.Contains(w, "vnc") {
			found = true
		}
	}
	if !found {
		t.Errorf("no warning names the dropped addon: %v", res.Warnings)
	}
}

func TestResolveUnknownAddonIgnored(t *testing.T) {
	plain, err := Resolve(testCatalog(), testSettings(), "demo", "", nil, "")
	if err != nil {
		t.Fatal(err)
	}
	withUnknown, err := Resolve(testCatalog(), testSettings(), "demo", "", []string{"bogus"}, "")
	if err != nil {
		t.Fatal(err)
	}
	if withUnknown.ImageRef != plain.ImageRef {
		t.Errorf("unknown addon changed image: %q vs %q", withUnknown.ImageRef, plain.ImageRef)
	}
	if len(withUnknown.Warnings) != 1 {
		t.Errorf("warnings = %v", withUnknown.Warnings)
	}
}

func TestResolveGPU(t *testing.T) {
	res, err := Resolve(testCatalog(), testSettings(), "demo", "full", []string{"gpu"}, "")
	if err != nil {
		t.Fatal(err)
	}
	if !res.RequiresGPU {
		t.Error("RequiresGPU not propagated from addon")
	}
}

func TestResolveNoWildcardDomain(t *testing.T) {
	set := testSettings()
	set.WildcardDomain = ""
	res, err := Resolve(testCatalog(), set, "demo", "", []string{"code"}, "")
	if err != nil {
		t.Fatal(err)
	}
	if res.DomainsConfig != "" {
		t.Errorf("domains = %q, want empty without wildcard domain", res.DomainsConfig)
	}
}

func TestResolveNoDefaultFlavorFails(t *testing.T) {
	cat := testCatalog()
	cat.Flavors = map[string]Flavor{"full": {ID: "full"}}
	if _, err := Resolve(cat, testSettings(), "demo", "", nil, ""); err == nil {
		t.Fatal("expected error when catalog has no default flavor")
	}
}

func TestValidateConfig(t *testing.T) {
	cat := testCatalog()

	ok := ValidateConfig(cat, "base", []string{"code"}, "small")
	if !ok.Valid || len(ok.Errors) != 0 {
		t.Errorf("valid config rejected: %+v", ok)
	}

	bad := ValidateConfig(cat, "mystery", nil, "huge")
	if bad.Valid || len(bad.Errors) != 2 {
		t.Errorf("invalid config accepted: %+v", bad)
	}

	warned := ValidateConfig(cat, "base", []string{"vnc", "code"}, "")
	if !warned.Valid {
		t.Errorf("warnings should not invalidate: %+v", warned)
	}
	if len(warned.Warnings) == 0 {
		t.Errorf("expected incompatibility warning: %+v", warned)
	}
}

func TestAssistantFQDN(t *testing.T) {
	if got := AssistantFQDN("demo", "apps.example.com"); got != "opencode-demo.apps.example.com" {
		t.Errorf("AssistantFQDN = %q", got)
	}
}
