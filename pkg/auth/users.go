package auth

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/polisproject/polisd/pkg/types"
	"golang.org/x/crypto/argon2"
)

const (
	defaultAdminUsername = "admin"
	defaultAdminEmail    = "admin@polis.local"
	defaultAdminPassword = "admin123"

	argonSaltLen = 16
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
)

// UserManager owns the user table, keyed by id with username/email
// indices, and argon2-backed password hashing.
type UserManager struct {
	mu            sync.RWMutex
	users         map[string]types.User
	byUsername    map[string]string
	byEmail       map[string]string
	saltGenerator func(n int) ([]byte, error)
}

// NewUserManager returns a manager seeded with a single admin user. An
// empty adminPassword falls back to the default.
func NewUserManager(adminPassword string) (*UserManager, error) {
	if adminPassword == "" {
		adminPassword = defaultAdminPassword
	}

	m := &UserManager{
		users:         make(map[string]types.User),
		byUsername:    make(map[string]string),
		byEmail:       make(map[string]string),
		saltGenerator: randomBytes,
	}

	hash, err := m.hashPassword(adminPassword)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	admin := types.User{
		ID:           uuid.NewString(),
		Username:     defaultAdminUsername,
		Email:        defaultAdminEmail,
		PasswordHash: hash,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	m.users[admin.ID] = admin
	m.byUsername[admin.Username] = admin.ID
	m.byEmail[admin.Email] = admin.ID

	return m, nil
}

// CreateUser registers a new user with a hashed password.
func (m *UserManager) CreateUser(username, email, password string) (types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byUsername[username]; exists {
		return types.User{}, types.NewConflictError(fmt.Sprintf("auth: username %q already exists", username))
	}
	if _, exists := m.byEmail[email]; exists {
		return types.User{}, types.NewConflictError(fmt.Sprintf("auth: email %q already exists", email))
	}

	hash, err := m.hashPassword(password)
	if err != nil {
		return types.User{}, err
	}

	now := time.Now()
	user := types.User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	m.users[user.ID] = user
	m.byUsername[username] = user.ID
	m.byEmail[email] = user.ID
	return user, nil
}

// AuthenticateUser verifies username/password and returns the user on success.
func (m *UserManager) AuthenticateUser(username, password string) (types.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byUsername[username]
	if !ok {
		return types.User{}, types.NewUnauthenticatedError("auth: invalid username or password")
	}
	user := m.users[id]
	if !user.IsActive {
		return types.User{}, types.NewForbiddenError("auth: user is inactive")
	}
	if !verifyPassword(password, user.PasswordHash) {
		return types.User{}, types.NewUnauthenticatedError("auth: invalid username or password")
	}
	return user, nil
}

// GetUserByID returns the user with id.
func (m *UserManager) GetUserByID(id string) (types.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	user, ok := m.users[id]
	if !ok {
		return types.User{}, types.NewNotFoundError(fmt.Sprintf("auth: user %q not found", id))
	}
	return user, nil
}

// GetUserByUsername returns the user with the given username.
func (m *UserManager) GetUserByUsername(username string) (types.User, error) {
	m.mu.RLock()
	id, ok := m.byUsername[username]
	m.mu.RUnlock()
	if !ok {
		return types.User{}, types.NewNotFoundError(fmt.Sprintf("auth: user %q not found", username))
	}
	return m.GetUserByID(id)
}

// ChangePassword verifies oldPassword and replaces the stored hash.
func (m *UserManager) ChangePassword(id, oldPassword, newPassword string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[id]
	if !ok {
		return types.NewNotFoundError(fmt.Sprintf("auth: user %q not found", id))
	}
	if !verifyPassword(oldPassword, user.PasswordHash) {
		return types.NewUnauthenticatedError("auth: current password is incorrect")
	}

	hash, err := m.hashPassword(newPassword)
	if err != nil {
		return err
	}
	user.PasswordHash = hash
	user.UpdatedAt = time.Now()
	m.users[id] = user
	return nil
}

// DeactivateUser marks a user inactive; subsequent authentication attempts fail.
func (m *UserManager) DeactivateUser(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[id]
	if !ok {
		return types.NewNotFoundError(fmt.Sprintf("auth: user %q not found", id))
	}
	user.IsActive = false
	user.UpdatedAt = time.Now()
	m.users[id] = user
	return nil
}

// ListUsers returns a snapshot of every user.
func (m *UserManager) ListUsers() []types.User {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, u)
	}
	return out
}

func (m *UserManager) hashPassword(password string) (string, error) {
	salt, err := m.saltGenerator(argonSaltLen)
	if err != nil {
		return "", types.NewInternalError(fmt.Sprintf("auth: generate salt: %v", err))
	}
	return encodeArgon2Hash(salt, argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)), nil
}
