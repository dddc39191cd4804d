package builder

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/polisproject/polisd/pkg/buildcache"
	"github.com/polisproject/polisd/pkg/imagestore"
	"github.com/stretchr/testify/require"
)

func newTestBuilder(t *testing.T) *Builder {
	t.Helper()
	cache, err := buildcache.New(t.TempDir(), buildcache.DefaultMaxSize)
	require.NoError(t, err)
	images, err := imagestore.NewManager(t.TempDir(), imagestore.DefaultRegistryConfig())
	require.NoError(t, err)
	return New(cache, images)
}

func writeRecipe(t *testing.T, dir, content string) {
	t.Helper()
	writeFile(t, dir, DefaultRecipeFilename, content)
}

func TestBuildComposesImageFromScratch(t *testing.T) {
	dir := t.TempDir()
	writeRecipe(t, dir, "FROM scratch\nLABEL app=demo\nENV PORT=8080\nEXPOSE 8080\nCMD serve\n")

	b := newTestBuilder(t)
	image, err := b.Build(context.Background(), dir, "", "demo:v1")
	require.NoError(t, err)

	require.Equal(t, "demo", image.Config.Labels["app"])
	require.Equal(t, "8080", image.Config.Env["PORT"])
	require.Len(t, image.Config.ExposedPorts, 1)
	require.Equal(t, []string{"serve"}, image.Config.Cmd)

	stored, err := b.images.Get("demo:v1")
	require.NoError(t, err)
	require.Equal(t, image.ID, stored.ID)
}

func TestBuildCopiesContextFileIntoLayer(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "app.bin", "binary-content")
	writeRecipe(t, dir, "FROM scratch\nCOPY app.bin /app.bin\n")

	b := newTestBuilder(t)
	image, err := b.Build(context.Background(), dir, "", "copytest:v1")
	require.NoError(t, err)

	require.Len(t, image.Layers, 1)
	require.NotEmpty(t, image.Layers[0].Digest)
}

func TestBuildReusesCacheOnIdenticalRecipe(t *testing.T) {
	dir := t.TempDir()
	writeRecipe(t, dir, "FROM scratch\nRUN echo 1\n")

	cache, err := buildcache.New(t.TempDir(), buildcache.DefaultMaxSize)
	require.NoError(t, err)
	images, err := imagestore.NewManager(t.TempDir(), imagestore.DefaultRegistryConfig())
	require.NoError(t, err)
	b := New(cache, images)

	_, err = b.Build(context.Background(), dir, "", "cached:v1")
	require.NoError(t, err)
	statsAfterFirst := cache.Stats()

	_, err = b.Build(context.Background(), dir, "", "cached:v2")
	require.NoError(t, err)
	statsAfterSecond := cache.Stats()

	require.Equal(t, statsAfterFirst.TotalEntries, statsAfterSecond.TotalEntries, "second build should hit the same cache entries, not add new ones")
}

func TestBuildFailsOnCopyOfMissingSource(t *testing.T) {
	dir := t.TempDir()
	writeRecipe(t, dir, "FROM scratch\nCOPY missing.txt /missing.txt\n")

	b := newTestBuilder(t)
	_, err := b.Build(context.Background(), dir, "", "bad:v1")
	require.Error(t, err)
}

func TestBuildRejectsMissingContext(t *testing.T) {
	b := newTestBuilder(t)
	_, err := b.Build(context.Background(), filepath.Join(os.TempDir(), "definitely-missing-dir"), "", "x:v1")
	require.Error(t, err)
}
