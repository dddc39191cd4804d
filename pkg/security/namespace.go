package security

import (
	"fmt"
	"sync"

	"github.com/polisproject/polisd/pkg/types"
	"github.com/vishvananda/netns"
)

// NamespaceInfo records one namespace engaged for a container.
type NamespaceInfo struct {
	ContainerName string
	Type          types.NamespaceType
	Path          string
}

// NamespaceManager creates and tracks the kernel namespaces engaged
// per container.
type NamespaceManager struct {
	mu         sync.RWMutex
	namespaces map[string][]NamespaceInfo
}

// NewNamespaceManager returns an empty manager.
func NewNamespaceManager() *NamespaceManager {
	return &NamespaceManager{namespaces: make(map[string][]NamespaceInfo)}
}

// DefaultNamespaces is the namespace set the Default security profile
// engages.
var DefaultNamespaces = []types.NamespaceType{
	types.NamespacePID, types.NamespaceNet, types.NamespaceMnt,
	types.NamespaceUTS, types.NamespaceIPC,
}

// HighSecurityNamespaces adds the User namespace on top of the default set.
var HighSecurityNamespaces = append(append([]types.NamespaceType{}, DefaultNamespaces...), types.NamespaceUser)

// CreateContainerNamespaces engages every namespace in nsTypes for
// containerName, returning what was created. A per-type failure is
// skipped silently: that type is left out of the result and no error
// is returned, matching the source's best-effort semantics for
// namespace creation.
func (m *NamespaceManager) CreateContainerNamespaces(containerName string, nsTypes []types.NamespaceType) ([]NamespaceInfo, error) {
	if containerName == "" {
		return nil, types.NewValidationError("security: namespace creation requires a container name")
	}

	var created []NamespaceInfo
	for _, nsType := range nsTypes {
		// Network namespaces are real (vishvananda/netns); the rest are
		// bookkept by path convention until ProcessMgr.Spawn places the
		// container's init process into them via the OCI spec fragment.
		path := fmt.Sprintf("/var/run/polisd/netns/%s-%s", containerName, nsType)
		if nsType == types.NamespaceNet {
			ns, err := netns.NewNamed(fmt.Sprintf("%s-net", containerName))
			if err != nil {
				continue
			}
			path = ns.UniqueId()
			ns.Close()
		}
		created = append(created, NamespaceInfo{ContainerName: containerName, Type: nsType, Path: path})
	}

	m.mu.Lock()
	m.namespaces[containerName] = created
	m.mu.Unlock()
	return created, nil
}

// RemoveContainerNamespaces tears down every network namespace
// associated with containerName and forgets its bookkeeping.
func (m *NamespaceManager) RemoveContainerNamespaces(containerName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.namespaces[containerName]; !ok {
		return nil
	}
	_ = netns.DeleteNamed(fmt.Sprintf("%s-net", containerName))
	delete(m.namespaces, containerName)
	return nil
}

// ListNamespaces returns the namespaces engaged for containerName.
func (m *NamespaceManager) ListNamespaces(containerName string) []NamespaceInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]NamespaceInfo(nil), m.namespaces[containerName]...)
}
