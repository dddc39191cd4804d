package builder

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, rel, content string) {
	t.Helper()
	path := filepath.Join(dir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestNewContextEnumeratesFilesAndRespectsDefaults(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "Recipefile", "FROM scratch\n")
	writeFile(t, dir, "app.go", "package main\n")
	writeFile(t, dir, ".git/HEAD", "ref: refs/heads/main\n")
	writeFile(t, dir, ".DS_Store", "junk")
	writeFile(t, dir, "node_modules/left-pad/index.js", "module.exports = 1\n")

	c, err := NewContext(dir, "")
	require.NoError(t, err)

	require.Contains(t, c.Files, "app.go")
	require.Contains(t, c.Files, "Recipefile")
	require.NotContains(t, c.Files, ".git/HEAD")
	require.NotContains(t, c.Files, ".DS_Store")
	require.NotContains(t, c.Files, "node_modules/left-pad/index.js")
}

func TestNewContextHonorsIgnoreFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "Recipefile", "FROM scratch\n")
	writeFile(t, dir, "keep.txt", "keep")
	writeFile(t, dir, "secrets.env", "TOKEN=x")
	writeFile(t, dir, DefaultIgnoreFilename, "secrets.env\n")

	c, err := NewContext(dir, "")
	require.NoError(t, err)

	require.Contains(t, c.Files, "keep.txt")
	require.NotContains(t, c.Files, "secrets.env")
	require.NotContains(t, c.Files, DefaultIgnoreFilename)
}

func TestNewContextRejectsEmptyContext(t *testing.T) {
	dir := t.TempDir()
	outside := t.TempDir()
	recipePath := filepath.Join(outside, "Recipefile")
	writeFile(t, outside, "Recipefile", "FROM scratch\n")

	_, err := NewContext(dir, recipePath)
	require.Error(t, err)
}

func TestNewContextRejectsMissingRecipe(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "app.go", "package main\n")

	_, err := NewContext(dir, "")
	require.Error(t, err)
}

func TestNewContextRejectsMissingDirectory(t *testing.T) {
	_, err := NewContext(filepath.Join(t.TempDir(), "missing"), "")
	require.Error(t, err)
}
