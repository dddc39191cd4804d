package volume

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/polisproject/polisd/pkg/types"
)

// DefaultVolumesPath is the base directory for named volumes.
const DefaultVolumesPath = "/var/lib/polisd/volumes"

// Manager resolves a container's types.VolumeMount entries to
// host paths. There is no named-Volume entity: "volume" mode mounts
// are a directory keyed by Source under basePath, created on first
// use; "bind" mounts pass an existing host path through after
// validating it exists; "tmpfs" mounts need no host path at all.
type Manager struct {
	mu       sync.RWMutex
	basePath string
	known    map[string]bool // named volumes created via CreateNamedVolume
}

// NewManager ensures basePath exists and returns a Manager rooted
// there. An empty basePath defaults to DefaultVolumesPath.
func NewManager(basePath string) (*Manager, error) {
	if basePath == "" {
		basePath = DefaultVolumesPath
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, types.NewIOError("volume: create volumes base directory", err)
	}
	return &Manager{basePath: basePath, known: make(map[string]bool)}, nil
}

// CreateNamedVolume creates (or reuses) the on-disk directory for a
// named volume and returns its host path.
func (m *Manager) CreateNamedVolume(name string) (string, error) {
	if name == "" {
		return "", types.NewValidationError("volume: name must not be empty")
	}

	path := m.namedVolumePath(name)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", types.NewIOError(fmt.Sprintf("volume: create named volume %q", name), err)
	}

	m.mu.Lock()
	m.known[name] = true
	m.mu.Unlock()
	return path, nil
}

// RemoveNamedVolume deletes a named volume's directory and contents.
// Removing an unknown or already-removed volume is a no-op.
func (m *Manager) RemoveNamedVolume(name string) error {
	path := m.namedVolumePath(name)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		m.mu.Lock()
		delete(m.known, name)
		m.mu.Unlock()
		return nil
	}

	if err := os.RemoveAll(path); err != nil {
		return types.NewIOError(fmt.Sprintf("volume: remove named volume %q", name), err)
	}

	m.mu.Lock()
	delete(m.known, name)
	m.mu.Unlock()
	return nil
}

// ListNamedVolumes returns every volume name created through this manager.
func (m *Manager) ListNamedVolumes() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.known))
	for name := range m.known {
		out = append(out, name)
	}
	return out
}

// Resolve validates mount and returns the host path the runtime
// driver should bind into the container at mount.Destination. tmpfs
// mounts resolve to an empty host path since they have no backing
// directory.
func (m *Manager) Resolve(mount types.VolumeMount) (string, error) {
	if mount.Destination == "" {
		return "", types.NewValidationError("volume: mount destination must not be empty")
	}

	switch mount.Mode {
	case types.MountTypeBind:
		if mount.Source == "" {
			return "", types.NewValidationError("volume: bind mount requires a source path")
		}
		if !filepath.IsAbs(mount.Source) {
			return "", types.NewValidationError(fmt.Sprintf("volume: bind source %q must be absolute", mount.Source))
		}
		if _, err := os.Stat(mount.Source); err != nil {
			return "", types.NewNotFoundError(fmt.Sprintf("volume: bind source %q not found", mount.Source))
		}
		return mount.Source, nil

	case types.MountTypeVolume:
		if mount.Source == "" {
			return "", types.NewValidationError("volume: volume mount requires a name as source")
		}
		return m.CreateNamedVolume(mount.Source)

	case types.MountTypeTmpfs:
		return "", nil

	default:
		return "", types.NewValidationError(fmt.Sprintf("volume: unknown mount mode %q", mount.Mode))
	}
}

func (m *Manager) namedVolumePath(name string) string {
	return filepath.Join(m.basePath, name)
}
