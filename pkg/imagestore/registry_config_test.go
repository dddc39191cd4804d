package imagestore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultRegistryConfigSearchOrder(t *testing.T) {
	cfg := DefaultRegistryConfig()
	require.Equal(t, []string{"docker.io", "quay.io", "registry.redhat.io"}, cfg.SearchRegistries())
	require.Contains(t, cfg.Registries, "gcr.io")
}

func TestRegistryURLPrefersMirror(t *testing.T) {
	cfg := DefaultRegistryConfig()
	url, ok := cfg.RegistryURL("docker.io")
	require.True(t, ok)
	require.Equal(t, "https://mirror.gcr.io/v2", url)

	fallback, ok := cfg.FallbackURL("docker.io")
	require.True(t, ok)
	require.Equal(t, "https://registry-1.docker.io/v2", fallback)
}

func TestIsBlockedAndInsecureDefaultFalse(t *testing.T) {
	cfg := DefaultRegistryConfig()
	require.False(t, cfg.IsBlocked("quay.io"))
	require.False(t, cfg.IsInsecure("quay.io"))
	require.False(t, cfg.IsBlocked("unknown.example.com"))
}

func TestLoadRegistryConfigFallsBackToDefaultWhenNoFilesExist(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cfg, err := LoadRegistryConfig()
	require.NoError(t, err)
	require.Equal(t, DefaultRegistryConfig().SearchRegistries(), cfg.SearchRegistries())
}

func TestSaveUserConfigRoundTrips(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg := RegistryConfig{
		UnqualifiedSearchRegistries: []string{"registry.internal.example.com"},
		Registries: map[string]RegistryEntry{
			"registry.internal.example.com": {Location: "https://registry.internal.example.com", Insecure: true},
		},
	}
	require.NoError(t, cfg.SaveUserConfig())
	require.FileExists(t, filepath.Join(home, ".config", "polis", "registries.conf"))

	loaded, err := LoadRegistryConfig()
	require.NoError(t, err)
	require.Equal(t, cfg.SearchRegistries(), loaded.SearchRegistries())
	require.True(t, loaded.IsInsecure("registry.internal.example.com"))
}
