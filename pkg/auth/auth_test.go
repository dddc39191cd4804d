package auth

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager("test-secret", "")
	require.NoError(t, err)
	return m
}

func TestAuthenticateIssuesValidatableToken(t *testing.T) {
	m := newTestManager(t)

	result, err := m.Authenticate(defaultAdminUsername, defaultAdminPassword)
	require.NoError(t, err)
	require.NotEmpty(t, result.Token)

	session, err := m.ValidateToken(result.Token)
	require.NoError(t, err)
	require.Equal(t, result.User.ID, session.UserID)
}

func TestAuthenticateRejectsBadPassword(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Authenticate(defaultAdminUsername, "wrong")
	require.Error(t, err)
}

func TestLogoutInvalidatesToken(t *testing.T) {
	m := newTestManager(t)
	result, err := m.Authenticate(defaultAdminUsername, defaultAdminPassword)
	require.NoError(t, err)

	m.Logout(result.Token)

	_, err = m.ValidateToken(result.Token)
	require.Error(t, err)
}

func TestRefreshTokenRotatesSession(t *testing.T) {
	m := newTestManager(t)
	result, err := m.Authenticate(defaultAdminUsername, defaultAdminPassword)
	require.NoError(t, err)

	refreshed, err := m.RefreshToken(result.Token)
	require.NoError(t, err)
	require.NotEqual(t, result.Token, refreshed.Token)

	_, err = m.ValidateToken(result.Token)
	require.Error(t, err)

	_, err = m.ValidateToken(refreshed.Token)
	require.NoError(t, err)
}

func TestCheckPermissionReflectsAssignedRole(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Roles().CreateRole("operator", []string{"containers:write"})
	require.NoError(t, err)

	admin, err := m.Users().GetUserByUsername(defaultAdminUsername)
	require.NoError(t, err)
	require.NoError(t, m.Roles().AssignRole(admin.ID, "operator"))

	result, err := m.Authenticate(defaultAdminUsername, defaultAdminPassword)
	require.NoError(t, err)

	ok, err := m.CheckPermission(result.Token, "containers:write")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = m.CheckPermission(result.Token, "containers:delete")
	require.NoError(t, err)
	require.False(t, ok)
}
