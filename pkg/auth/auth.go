package auth

import (
	"sync"
	"time"

	"github.com/polisproject/polisd/pkg/types"
)

// AuthResult is returned by Authenticate and RefreshToken.
type AuthResult struct {
	Token     string
	User      types.User
	ExpiresAt time.Time
}

// Manager is AuthMgr: composes JwtManager, UserManager, and
// RoleManager behind an in-memory session table keyed by token.
type Manager struct {
	jwt   *JwtManager
	users *UserManager
	roles *RoleManager

	mu       sync.RWMutex
	sessions map[string]types.AuthSession
}

// NewManager returns a Manager signing tokens with jwtSecret and
// seeded with a single admin user (adminPassword, or the default if
// empty).
func NewManager(jwtSecret, adminPassword string) (*Manager, error) {
	users, err := NewUserManager(adminPassword)
	if err != nil {
		return nil, err
	}

	return &Manager{
		jwt:      NewJwtManager(jwtSecret),
		users:    users,
		roles:    NewRoleManager(),
		sessions: make(map[string]types.AuthSession),
	}, nil
}

// Users returns the underlying UserManager, for user administration
// endpoints.
func (m *Manager) Users() *UserManager { return m.users }

// Roles returns the underlying RoleManager, for role administration
// endpoints.
func (m *Manager) Roles() *RoleManager { return m.roles }

// Authenticate verifies username/password, issues a signed token, and
// inserts a session keyed by that token.
func (m *Manager) Authenticate(username, password string) (AuthResult, error) {
	user, err := m.users.AuthenticateUser(username, password)
	if err != nil {
		return AuthResult{}, err
	}

	permissions := m.roles.GetUserPermissions(user.ID)
	token, expiresAt, err := m.jwt.GenerateToken(user.ID, user.Username, permissions)
	if err != nil {
		return AuthResult{}, err
	}

	session := types.AuthSession{
		Token:       token,
		UserID:      user.ID,
		Username:    user.Username,
		Permissions: toPermissionSet(permissions),
		ExpiresAt:   expiresAt,
	}

	m.mu.Lock()
	m.sessions[token] = session
	m.mu.Unlock()

	return AuthResult{Token: token, User: user, ExpiresAt: expiresAt}, nil
}

// ValidateToken verifies signature and expiry, confirms a live,
// not-expired session record exists, and returns it.
func (m *Manager) ValidateToken(token string) (types.AuthSession, error) {
	if _, err := m.jwt.ValidateToken(token); err != nil {
		return types.AuthSession{}, err
	}

	m.mu.RLock()
	session, ok := m.sessions[token]
	m.mu.RUnlock()
	if !ok {
		return types.AuthSession{}, types.NewUnauthenticatedError("auth: no active session for token")
	}
	if time.Now().After(session.ExpiresAt) {
		m.mu.Lock()
		delete(m.sessions, token)
		m.mu.Unlock()
		return types.AuthSession{}, types.NewUnauthenticatedError("auth: session expired")
	}
	return session, nil
}

// RefreshToken requires a valid session, issues a new token, and
// swaps the session record to the new token.
func (m *Manager) RefreshToken(token string) (AuthResult, error) {
	session, err := m.ValidateToken(token)
	if err != nil {
		return AuthResult{}, err
	}

	user, err := m.users.GetUserByID(session.UserID)
	if err != nil {
		return AuthResult{}, err
	}

	permissions := permissionSetToSlice(session.Permissions)
	newToken, expiresAt, err := m.jwt.GenerateToken(session.UserID, session.Username, permissions)
	if err != nil {
		return AuthResult{}, err
	}

	newSession := types.AuthSession{
		Token:       newToken,
		UserID:      session.UserID,
		Username:    session.Username,
		Permissions: session.Permissions,
		ExpiresAt:   expiresAt,
	}

	m.mu.Lock()
	delete(m.sessions, token)
	m.sessions[newToken] = newSession
	m.mu.Unlock()

	return AuthResult{Token: newToken, User: user, ExpiresAt: expiresAt}, nil
}

// Logout removes the session for token, if any.
func (m *Manager) Logout(token string) {
	m.mu.Lock()
	delete(m.sessions, token)
	m.mu.Unlock()
}

// CheckPermission reports whether token's session grants perm.
func (m *Manager) CheckPermission(token, perm string) (bool, error) {
	session, err := m.ValidateToken(token)
	if err != nil {
		return false, err
	}
	return session.HasPermission(perm), nil
}

func toPermissionSet(permissions []string) map[string]struct{} {
	set := make(map[string]struct{}, len(permissions))
	for _, p := range permissions {
		set[p] = struct{}{}
	}
	return set
}

func permissionSetToSlice(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	return out
}
