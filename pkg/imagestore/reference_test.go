package imagestore

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseImageRefDefaultsTagLatest(t *testing.T) {
	ref, err := ParseImageRef("alpine")
	require.NoError(t, err)
	require.Equal(t, "library/alpine", ref.Repository)
	require.Equal(t, "latest", ref.Tag)
	require.Empty(t, ref.Digest)
}

func TestParseImageRefWithExplicitTag(t *testing.T) {
	ref, err := ParseImageRef("quay.io/prometheus/prometheus:v2.45.0")
	require.NoError(t, err)
	require.Equal(t, "quay.io", ref.Registry)
	require.Equal(t, "prometheus/prometheus", ref.Repository)
	require.Equal(t, "v2.45.0", ref.Tag)
}

func TestParseImageRefWithDigest(t *testing.T) {
	dgst := "sha256:" + strings.Repeat("a", 64)
	ref, err := ParseImageRef("docker.io/library/alpine@" + dgst)
	require.NoError(t, err)
	require.Equal(t, dgst, ref.Digest)
	require.Empty(t, ref.Tag)
}

func TestParseImageRefRejectsInvalid(t *testing.T) {
	_, err := ParseImageRef("UPPERCASE_NOT_ALLOWED")
	require.Error(t, err)
}

func TestIsQualifiedReference(t *testing.T) {
	require.False(t, isQualifiedReference("alpine"))
	require.False(t, isQualifiedReference("library/alpine"))
	require.True(t, isQualifiedReference("quay.io/library/alpine"))
	require.True(t, isQualifiedReference("localhost:5000/app"))
}
