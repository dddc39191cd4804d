package security

import (
	"testing"

	"github.com/polisproject/polisd/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestCreateContainerNamespacesBooksNonNetTypes(t *testing.T) {
	m := NewNamespaceManager()

	created, err := m.CreateContainerNamespaces("c1", []types.NamespaceType{types.NamespacePID, types.NamespaceMnt})
	require.NoError(t, err)
	require.Len(t, created, 2)

	listed := m.ListNamespaces("c1")
	require.Len(t, listed, 2)
}

func TestCreateContainerNamespacesRejectsEmptyName(t *testing.T) {
	m := NewNamespaceManager()
	_, err := m.CreateContainerNamespaces("", DefaultNamespaces)
	require.Error(t, err)
	require.Equal(t, types.KindValidation, types.KindOf(err))
}

func TestRemoveContainerNamespacesIsIdempotent(t *testing.T) {
	m := NewNamespaceManager()
	require.NoError(t, m.RemoveContainerNamespaces("never-created"))
}

func TestListNamespacesEmptyForUnknownContainer(t *testing.T) {
	m := NewNamespaceManager()
	require.Empty(t, m.ListNamespaces("nope"))
}
