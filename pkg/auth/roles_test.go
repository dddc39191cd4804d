package auth

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAssignRoleRequiresExistingRole(t *testing.T) {
	m := NewRoleManager()
	require.Error(t, m.AssignRole("user-1", "operator"))

	_, err := m.CreateRole("operator", []string{"containers:read", "containers:write"})
	require.NoError(t, err)
	require.NoError(t, m.AssignRole("user-1", "operator"))

	require.ElementsMatch(t, []string{"operator"}, m.GetUserRoles("user-1"))
}

func TestCreateRoleRejectsDuplicate(t *testing.T) {
	m := NewRoleManager()
	_, err := m.CreateRole("operator", nil)
	require.NoError(t, err)

	_, err = m.CreateRole("operator", nil)
	require.Error(t, err)
}

func TestGetUserPermissionsUnionsAcrossRoles(t *testing.T) {
	m := NewRoleManager()
	_, err := m.CreateRole("reader", []string{"containers:read"})
	require.NoError(t, err)
	_, err = m.CreateRole("writer", []string{"containers:write", "containers:read"})
	require.NoError(t, err)

	require.NoError(t, m.AssignRole("user-1", "reader"))
	require.NoError(t, m.AssignRole("user-1", "writer"))

	require.ElementsMatch(t, []string{"containers:read", "containers:write"}, m.GetUserPermissions("user-1"))
}

func TestRevokeRoleIsIdempotent(t *testing.T) {
	m := NewRoleManager()
	_, err := m.CreateRole("operator", nil)
	require.NoError(t, err)
	require.NoError(t, m.AssignRole("user-1", "operator"))

	require.NoError(t, m.RevokeRole("user-1", "operator"))
	require.NoError(t, m.RevokeRole("user-1", "operator"))
	require.Empty(t, m.GetUserRoles("user-1"))
}
