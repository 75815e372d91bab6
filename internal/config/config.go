// Package config handles the codeopen.yaml server manifest. Values can be
// overridden through CODEOPEN_* environment variables so deployments can keep
// tokens out of the file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/codeopen/codeopen/internal/apperr"
)

// Config is the full server configuration.
type Config struct {
	Forge    Forge    `yaml:"forge"`
	Platform Platform `yaml:"platform"`
	Image    Image    `yaml:"image"`
	Ports    Ports    `yaml:"ports"`

	// WildcardDomain is the base domain for generated FQDNs
	// (e.g. "apps.example.com" yields opencode-<slug>.apps.example.com).
	// Optional; without it the platform-assigned FQDN is the only source.
	WildcardDomain string `yaml:"wildcard_domain,omitempty"`

	// HealthCheckPath is the assistant endpoint probed by the platform.
	// Defaults to /session, which responds without side effects.
	HealthCheckPath string `yaml:"health_check_path,omitempty"`

	// DatabasePath is the sqlite database location.
	// Defaults to ~/.codeopen/codeopen.db.
	DatabasePath string `yaml:"database_path,omitempty"`
}

// Forge configures the Forgejo gateway.
type Forge struct {
	BaseURL string `yaml:"base_url"`
	// PublicBaseURL is the externally reachable URL used when rewriting
	// clone URLs handed to containers. Optional.
	PublicBaseURL string `yaml:"public_base_url,omitempty"`
	Token         string `yaml:"token"`
	// Owner is the account under which project repositories are created.
	Owner     string `yaml:"owner"`
	UserEmail string `yaml:"user_email,omitempty"`
	UserName  string `yaml:"user_name,omitempty"`
}

// Platform configures the Coolify gateway.
type Platform struct {
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"`
	// ProjectUUID and ServerUUID select where applications are created.
	ProjectUUID string `yaml:"project_uuid"`
	ServerUUID  string `yaml:"server_uuid"`
	// Environment is the Coolify environment name. Defaults to "production".
	Environment string `yaml:"environment,omitempty"`
}

// Image configures assistant image resolution.
type Image struct {
	Registry string `yaml:"registry"`
	Owner    string `yaml:"owner"`
	Version  string `yaml:"version"`
}

// Ports configures the container port range.
type Ports struct {
	// Base is the assistant's default in-container port.
	Base int `yaml:"base,omitempty"`
	// Gateway is the auxiliary gateway port exposed next to the assistant.
	Gateway int `yaml:"gateway,omitempty"`
	// RangeStart/RangeEnd bound the per-project derived port.
	RangeStart int `yaml:"range_start,omitempty"`
	RangeEnd   int `yaml:"range_end,omitempty"`
}

// Defaults applied by Load when the manifest leaves fields empty.
const (
	DefaultBasePort        = 4096
	DefaultGatewayPort     = 4097
	DefaultHealthCheckPath = "/session"
	DefaultEnvironment     = "production"
)

// DefaultDir returns the codeopen state directory (~/.codeopen).
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".codeopen"
	}
	return filepath.Join(home, ".codeopen")
}

// DefaultPath returns the default manifest location.
func DefaultPath() string {
	return filepath.Join(DefaultDir(), "codeopen.yaml")
}

// Load reads the manifest at path, applies environment overrides and
// defaults. A missing file is not an error; overrides alone can form a
// complete configuration.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, apperr.Wrap(err, apperr.KindConfig, "config_parse", "parsing %s", path)
		}
	case os.IsNotExist(err):
		// Fall through to env overrides.
	default:
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() {
	set := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(dst *int, key string) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	set(&c.Forge.BaseURL, "CODEOPEN_FORGE_URL")
	set(&c.Forge.PublicBaseURL, "CODEOPEN_FORGE_PUBLIC_URL")
	set(&c.Forge.Token, "CODEOPEN_FORGE_TOKEN")
	set(&c.Forge.Owner, "CODEOPEN_FORGE_OWNER")
	set(&c.Forge.UserEmail, "CODEOPEN_GIT_USER_EMAIL")
	set(&c.Forge.UserName, "CODEOPEN_GIT_USER_NAME")

	set(&c.Platform.BaseURL, "CODEOPEN_PLATFORM_URL")
	set(&c.Platform.Token, "CODEOPEN_PLATFORM_TOKEN")
	set(&c.Platform.ProjectUUID, "CODEOPEN_PLATFORM_PROJECT_UUID")
	set(&c.Platform.ServerUUID, "CODEOPEN_PLATFORM_SERVER_UUID")
	set(&c.Platform.Environment, "CODEOPEN_PLATFORM_ENVIRONMENT")

	set(&c.Image.Registry, "CODEOPEN_IMAGE_REGISTRY")
	set(&c.Image.Owner, "CODEOPEN_IMAGE_OWNER")
	set(&c.Image.Version, "CODEOPEN_IMAGE_VERSION")

	set(&c.WildcardDomain, "CODEOPEN_WILDCARD_DOMAIN")
	set(&c.HealthCheckPath, "CODEOPEN_HEALTH_CHECK_PATH")
	set(&c.DatabasePath, "CODEOPEN_DATABASE_PATH")

	setInt(&c.Ports.Base, "CODEOPEN_PORT_BASE")
	setInt(&c.Ports.Gateway, "CODEOPEN_PORT_GATEWAY")
	setInt(&c.Ports.RangeStart, "CODEOPEN_PORT_RANGE_START")
	setInt(&c.Ports.RangeEnd, "CODEOPEN_PORT_RANGE_END")
}

func (c *Config) applyDefaults() {
	if c.Ports.Base == 0 {
		c.Ports.Base = DefaultBasePort
	}
	if c.Ports.Gateway == 0 {
		c.Ports.Gateway = DefaultGatewayPort
	}
	if c.Ports.RangeStart == 0 {
		c.Ports.RangeStart = c.Ports.Base
	}
	if c.Ports.RangeEnd == 0 {
		c.Ports.RangeEnd = c.Ports.RangeStart
	}
	if c.HealthCheckPath == "" {
		c.HealthCheckPath = DefaultHealthCheckPath
	}
	if c.Platform.Environment == "" {
		c.Platform.Environment = DefaultEnvironment
	}
	if c.DatabasePath == "" {
		c.DatabasePath = filepath.Join(DefaultDir(), "codeopen.db")
	}
}

// Validate checks that every required key is present and the port range is
// sane. The returned error carries KindConfig so the CLI can exit with the
// configuration exit code.
func (c *Config) Validate() error {
	var missing []string
	need := func(v, key string) {
		if v == "" {
			missing = append(missing, key)
		}
	}

	need(c.Forge.BaseURL, "forge.base_url")
	need(c.Forge.Token, "forge.token")
	need(c.Forge.Owner, "forge.owner")
	need(c.Platform.BaseURL, "platform.base_url")
	need(c.Platform.Token, "platform.token")
	need(c.Platform.ProjectUUID, "platform.project_uuid")
	need(c.Platform.ServerUUID, "platform.server_uuid")
	need(c.Image.Registry, "image.registry")
	need(c.Image.Owner, "image.owner")
	need(c.Image.Version, "image.version")

	if len(missing) > 0 {
		return apperr.New(apperr.KindConfig, "config_missing",
			"missing required configuration: %s", strings.Join(missing, ", "))
	}

	if c.Ports.RangeEnd < c.Ports.RangeStart {
		return apperr.New(apperr.KindConfig, "config_port_range",
			"port range end %d before start %d", c.Ports.RangeEnd, c.Ports.RangeStart)
	}
	return nil
}
