package volume

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/polisproject/polisd/pkg/types"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	dir := t.TempDir()
	m, err := NewManager(dir)
	require.NoError(t, err)
	return m
}

func TestResolveVolumeModeCreatesNamedDirectory(t *testing.T) {
	m := newTestManager(t)

	path, err := m.Resolve(types.VolumeMount{Source: "data", Destination: "/data", Mode: types.MountTypeVolume})
	require.NoError(t, err)
	require.DirExists(t, path)
	require.Contains(t, m.ListNamedVolumes(), "data")
}

func TestResolveBindModeRequiresExistingAbsoluteSource(t *testing.T) {
	m := newTestManager(t)

	_, err := m.Resolve(types.VolumeMount{Source: "relative/path", Destination: "/data", Mode: types.MountTypeBind})
	require.Error(t, err)
	require.Equal(t, types.KindValidation, types.KindOf(err))

	_, err = m.Resolve(types.VolumeMount{Source: "/nonexistent/path", Destination: "/data", Mode: types.MountTypeBind})
	require.Error(t, err)
	require.Equal(t, types.KindNotFound, types.KindOf(err))

	existing := t.TempDir()
	path, err := m.Resolve(types.VolumeMount{Source: existing, Destination: "/data", Mode: types.MountTypeBind})
	require.NoError(t, err)
	require.Equal(t, existing, path)
}

func TestResolveTmpfsModeHasNoHostPath(t *testing.T) {
	m := newTestManager(t)
	path, err := m.Resolve(types.VolumeMount{Destination: "/tmp/scratch", Mode: types.MountTypeTmpfs})
	require.NoError(t, err)
	require.Empty(t, path)
}

func TestResolveRejectsMissingDestination(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Resolve(types.VolumeMount{Source: "data", Mode: types.MountTypeVolume})
	require.Error(t, err)
	require.Equal(t, types.KindValidation, types.KindOf(err))
}

func TestRemoveNamedVolumeIsIdempotent(t *testing.T) {
	m := newTestManager(t)
	_, err := m.CreateNamedVolume("data")
	require.NoError(t, err)

	require.NoError(t, m.RemoveNamedVolume("data"))
	require.NoError(t, m.RemoveNamedVolume("data"))
	require.NotContains(t, m.ListNamedVolumes(), "data")

	_, statErr := os.Stat(filepath.Join(m.basePath, "data"))
	require.True(t, os.IsNotExist(statErr))
}
