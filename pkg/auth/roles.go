package auth

import (
	"fmt"
	"sync"

	"github.com/polisproject/polisd/pkg/types"
)

// RoleManager groups permission strings under named roles and links
// users to the roles they hold (UserRoles of ).
type RoleManager struct {
	mu        sync.RWMutex
	roles     map[string]types.Role
	userRoles map[string]map[string]bool // userID -> set of role names
}

// NewRoleManager returns an empty role manager.
func NewRoleManager() *RoleManager {
	return &RoleManager{
		roles:     make(map[string]types.Role),
		userRoles: make(map[string]map[string]bool),
	}
}

// CreateRole registers a new role. It is an error to redefine an
// existing role name.
func (m *RoleManager) CreateRole(name string, permissions []string) (types.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.roles[name]; exists {
		return types.Role{}, types.NewConflictError(fmt.Sprintf("auth: role %q already exists", name))
	}

	role := types.Role{Name: name, Permissions: append([]string{}, permissions...)}
	m.roles[name] = role
	return role, nil
}

// GetRole returns the named role.
func (m *RoleManager) GetRole(name string) (types.Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	role, ok := m.roles[name]
	if !ok {
		return types.Role{}, types.NewNotFoundError(fmt.Sprintf("auth: role %q not found", name))
	}
	return role, nil
}

// ListRoles returns every registered role.
func (m *RoleManager) ListRoles() []types.Role {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.Role, 0, len(m.roles))
	for _, r := range m.roles {
		out = append(out, r)
	}
	return out
}

// AssignRole links userID to roleName. The role must already exist.
func (m *RoleManager) AssignRole(userID, roleName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.roles[roleName]; !ok {
		return types.NewNotFoundError(fmt.Sprintf("auth: role %q not found", roleName))
	}

	set, ok := m.userRoles[userID]
	if !ok {
		set = make(map[string]bool)
		m.userRoles[userID] = set
	}
	set[roleName] = true
	return nil
}

// RevokeRole unlinks userID from roleName. Revoking a role the user
// does not hold is a no-op.
func (m *RoleManager) RevokeRole(userID, roleName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if set, ok := m.userRoles[userID]; ok {
		delete(set, roleName)
	}
	return nil
}

// GetUserRoles returns the role names assigned to userID.
func (m *RoleManager) GetUserRoles(userID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set := m.userRoles[userID]
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	return out
}

// GetUserPermissions returns the union of permissions over every role
// assigned to userID.
func (m *RoleManager) GetUserPermissions(userID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]bool)
	var out []string
	for roleName := range m.userRoles[userID] {
		role, ok := m.roles[roleName]
		if !ok {
			continue
		}
		for _, perm := range role.Permissions {
			if !seen[perm] {
				seen[perm] = true
				out = append(out, perm)
			}
		}
	}
	return out
}
