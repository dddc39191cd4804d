package imagestore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/polisproject/polisd/pkg/types"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(t.TempDir(), DefaultRegistryConfig())
	require.NoError(t, err)
	return m
}

func TestAddRegistersImageByIDAndName(t *testing.T) {
	m := newTestManager(t)
	image := types.Image{ID: "sha256:configdigest", Layers: []types.Layer{{Digest: "sha256:layer1"}}}

	require.NoError(t, m.Add(image, "myapp", "v1"))

	byID, err := m.Get("sha256:configdigest")
	require.NoError(t, err)
	require.Equal(t, "myapp", byID.Name)
	require.Equal(t, "v1", byID.Tag)

	byName, err := m.Get("myapp:v1")
	require.NoError(t, err)
	require.Equal(t, byID.ID, byName.ID)
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Get("does-not-exist")
	require.Error(t, err)
	require.Equal(t, types.KindNotFound, err.(*types.Error).Kind)
}

func TestRemoveFailsWhenReferencedUnlessForced(t *testing.T) {
	m := newTestManager(t)
	image := types.Image{ID: "sha256:configdigest"}
	require.NoError(t, m.Add(image, "myapp", "v1"))
	require.NoError(t, m.IncRef("sha256:configdigest"))

	err := m.Remove("sha256:configdigest", false)
	require.Error(t, err)
	require.Equal(t, types.KindConflict, err.(*types.Error).Kind)

	require.NoError(t, m.DecRef("sha256:configdigest"))
	require.NoError(t, m.Remove("sha256:configdigest", false))
	_, err = m.Get("sha256:configdigest")
	require.Error(t, err)
}

func TestRemoveSucceedsWhenUnreferenced(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Add(types.Image{ID: "sha256:configdigest"}, "myapp", "v1"))

	require.NoError(t, m.Remove("sha256:configdigest", false))
	_, err := m.Get("sha256:configdigest")
	require.Error(t, err)
}

func TestIncRefDecRefTrackContainerReferences(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Add(types.Image{ID: "sha256:configdigest"}, "myapp", "v1"))

	require.NoError(t, m.IncRef("myapp:v1"))
	require.NoError(t, m.IncRef("myapp:v1"))
	image, err := m.Get("myapp:v1")
	require.NoError(t, err)
	require.Equal(t, 2, image.RefCount)

	require.NoError(t, m.DecRef("sha256:configdigest"))
	image, err = m.Get("myapp:v1")
	require.NoError(t, err)
	require.Equal(t, 1, image.RefCount)
}

func TestDecRefFloorsAtZero(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Add(types.Image{ID: "sha256:configdigest"}, "myapp", "v1"))

	require.NoError(t, m.DecRef("sha256:configdigest"))
	image, err := m.Get("sha256:configdigest")
	require.NoError(t, err)
	require.Equal(t, 0, image.RefCount)
}

func TestIncRefUnknownImageReturnsNotFound(t *testing.T) {
	m := newTestManager(t)
	err := m.IncRef("does-not-exist")
	require.Error(t, err)
	require.Equal(t, types.KindNotFound, err.(*types.Error).Kind)
}

func TestCleanupRemovesUnreferencedBlobs(t *testing.T) {
	m := newTestManager(t)

	orphanPath := m.blobPath("sha256:orphan")
	require.NoError(t, os.WriteFile(orphanPath, []byte("dangling"), 0o644))

	liveDigest := "sha256:live"
	require.NoError(t, os.WriteFile(m.blobPath(liveDigest), []byte("in-use"), 0o644))
	require.NoError(t, m.Add(types.Image{
		ID:     "sha256:configdigest",
		Layers: []types.Layer{{Digest: liveDigest}},
	}, "myapp", "v1"))

	removed, err := m.Cleanup()
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	_, err = os.Stat(orphanPath)
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(m.blobPath(liveDigest))
	require.NoError(t, err)
}

func TestEndpointsForPrefersConfiguredMirrorThenFallback(t *testing.T) {
	m := newTestManager(t)
	endpoints := m.endpointsFor("docker.io")
	require.Equal(t, []string{"https://mirror.gcr.io/v2", "https://registry-1.docker.io/v2"}, endpoints)
}

func TestEndpointsForUnknownRegistryGuessesHTTPS(t *testing.T) {
	m := newTestManager(t)
	endpoints := m.endpointsFor("registry.example.internal")
	require.Equal(t, []string{"https://registry.example.internal/v2"}, endpoints)
}

func TestReaddingSameNameReplacesPreviousImage(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Add(types.Image{ID: "sha256:old", Layers: []types.Layer{{Digest: "sha256:layerA"}}}, "app", "latest"))
	require.NoError(t, m.Add(types.Image{ID: "sha256:new", Layers: []types.Layer{{Digest: "sha256:layerB"}}}, "app", "latest"))

	current, err := m.Get("app:latest")
	require.NoError(t, err)
	require.Equal(t, "sha256:new", current.ID)
	require.Equal(t, 0, m.layerRefs["sha256:layerA"])
}

func TestNewManagerCreatesBlobDirectory(t *testing.T) {
	base := t.TempDir()
	_, err := NewManager(base, DefaultRegistryConfig())
	require.NoError(t, err)
	require.DirExists(t, filepath.Join(base, "blobs"))
}
