package imagestore

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
	"github.com/polisproject/polisd/pkg/types"
)

// RegistryEntry describes how to reach one named registry.
type RegistryEntry struct {
	Location string `toml:"location"`
	Mirror   string `toml:"mirror,omitempty"`
	Insecure bool   `toml:"insecure,omitempty"`
	Blocked  bool   `toml:"blocked,omitempty"`
}

// RegistryConfig is the resolution table consulted on every unqualified
// pull: an ordered search list plus a name -> RegistryEntry table.
type RegistryConfig struct {
	UnqualifiedSearchRegistries []string                 `toml:"unqualified-search-registries"`
	Registries                  map[string]RegistryEntry `toml:"registries"`
}

func userConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "polis", "registries.conf")
}

func systemConfigPath() string {
	return "/etc/polis/registries.conf"
}

// DefaultRegistryConfig is the built-in table: Docker Hub (mirrored via
// Google's GCR mirror), Quay, Red Hat, and GCR. Docker Hub, Quay and
// Red Hat are searched in that order for unqualified names; GCR is
// configured but not in the search list.
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		UnqualifiedSearchRegistries: []string{"docker.io", "quay.io", "registry.redhat.io"},
		Registries: map[string]RegistryEntry{
			"docker.io": {
				Location: "https://registry-1.docker.io",
				Mirror:   "https://mirror.gcr.io",
			},
			"quay.io": {
				Location: "https://quay.io",
			},
			"registry.redhat.io": {
				Location: "https://registry.redhat.io",
			},
			"gcr.io": {
				Location: "https://gcr.io",
			},
		},
	}
}

// LoadRegistryConfig resolves the user config, then the system config,
// falling back to DefaultRegistryConfig when neither exists.
func LoadRegistryConfig() (RegistryConfig, error) {
	if cfg, ok, err := loadRegistryConfigFrom(userConfigPath()); err != nil {
		return RegistryConfig{}, err
	} else if ok {
		return cfg, nil
	}
	if cfg, ok, err := loadRegistryConfigFrom(systemConfigPath()); err != nil {
		return RegistryConfig{}, err
	} else if ok {
		return cfg, nil
	}
	return DefaultRegistryConfig(), nil
}

func loadRegistryConfigFrom(path string) (RegistryConfig, bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return RegistryConfig{}, false, nil
	}
	if err != nil {
		return RegistryConfig{}, false, types.NewIOError(fmt.Sprintf("imagestore: read registry config %s", path), err)
	}

	var cfg RegistryConfig
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return RegistryConfig{}, false, types.NewValidationError(fmt.Sprintf("imagestore: parse registry config %s: %v", path, err))
	}
	return cfg, true, nil
}

// SaveUserConfig writes cfg to the per-user config path, creating
// parent directories as needed.
func (c RegistryConfig) SaveUserConfig() error {
	path := userConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return types.NewIOError("imagestore: create registry config directory", err)
	}

	data, err := toml.Marshal(c)
	if err != nil {
		return types.NewInternalError(fmt.Sprintf("imagestore: encode registry config: %v", err))
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return types.NewIOError("imagestore: write registry config", err)
	}
	return nil
}

// RegistryURL returns the v2 API base to try first: the mirror if one
// is configured, otherwise the registry's own location.
func (c RegistryConfig) RegistryURL(registry string) (string, bool) {
	entry, ok := c.Registries[registry]
	if !ok {
		return "", false
	}
	if entry.Mirror != "" {
		return entry.Mirror + "/v2", true
	}
	return entry.Location + "/v2", true
}

// FallbackURL returns the registry's own location, tried once after a
// mirror failure.
func (c RegistryConfig) FallbackURL(registry string) (string, bool) {
	entry, ok := c.Registries[registry]
	if !ok {
		return "", false
	}
	return entry.Location + "/v2", true
}

// IsBlocked reports whether registry is configured with blocked=true.
func (c RegistryConfig) IsBlocked(registry string) bool {
	return c.Registries[registry].Blocked
}

// IsInsecure reports whether registry is configured with insecure=true.
func (c RegistryConfig) IsInsecure(registry string) bool {
	return c.Registries[registry].Insecure
}

// SearchRegistries returns the ordered list probed for unqualified
// image names.
func (c RegistryConfig) SearchRegistries() []string {
	return c.UnqualifiedSearchRegistries
}
