package security

import (
	"fmt"
	"sync"

	"github.com/containerd/cgroups/v3/cgroup1"
	"github.com/polisproject/polisd/pkg/types"
)

// CgroupInfo records the cgroup created for a container.
type CgroupInfo struct {
	Name   string
	Path   string
	Limits types.ResourceLimits
}

// CgroupStats reports point-in-time usage for one cgroup.
type CgroupStats struct {
	MemoryUsage   uint64
	CPUUsageNano  uint64
	ProcessCount  int
	DiskReadBytes uint64
	DiskWriteBytes uint64
}

// CgroupManager creates a cgroup per container under root, applies
// ResourceLimits to it, and tracks membership.
type CgroupManager struct {
	mu     sync.RWMutex
	root   string
	groups map[string]cgroupEntry
}

type cgroupEntry struct {
	info CgroupInfo
	ctrl cgroup1.Cgroup
}

// NewCgroupManager returns a manager rooted at root (e.g. "/polisd").
func NewCgroupManager(root string) *CgroupManager {
	if root == "" {
		root = "/polisd"
	}
	return &CgroupManager{root: root, groups: make(map[string]cgroupEntry)}
}

// CreateCgroup creates a cgroup keyed by name and applies limits.
func (m *CgroupManager) CreateCgroup(name string, limits types.ResourceLimits) (CgroupInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.groups[name]; exists {
		return CgroupInfo{}, types.NewConflictError(fmt.Sprintf("security: cgroup %q already exists", name))
	}

	path := fmt.Sprintf("%s/%s", m.root, name)
	resources := toCgroupResources(limits)

	ctrl, err := cgroup1.New(cgroup1.StaticPath(path), resources)
	if err != nil {
		return CgroupInfo{}, types.NewIOError(fmt.Sprintf("security: create cgroup %q", name), err)
	}

	info := CgroupInfo{Name: name, Path: path, Limits: limits}
	m.groups[name] = cgroupEntry{info: info, ctrl: ctrl}
	return info, nil
}

// ApplyLimits updates the resource limits on an existing cgroup.
func (m *CgroupManager) ApplyLimits(name string, limits types.ResourceLimits) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.groups[name]
	if !ok {
		return types.NewNotFoundError(fmt.Sprintf("security: cgroup %q not found", name))
	}

	if err := entry.ctrl.Update(toCgroupResources(limits)); err != nil {
		return types.NewIOError(fmt.Sprintf("security: update cgroup %q", name), err)
	}
	entry.info.Limits = limits
	m.groups[name] = entry
	return nil
}

// AddProcess joins pid to the cgroup named name.
func (m *CgroupManager) AddProcess(name string, pid int) error {
	m.mu.RLock()
	entry, ok := m.groups[name]
	m.mu.RUnlock()
	if !ok {
		return types.NewNotFoundError(fmt.Sprintf("security: cgroup %q not found", name))
	}

	if err := entry.ctrl.Add(cgroup1.Process{Pid: pid}); err != nil {
		return types.NewIOError(fmt.Sprintf("security: add process %d to cgroup %q", pid, name), err)
	}
	return nil
}

// DeleteCgroup tears down the cgroup named name.
func (m *CgroupManager) DeleteCgroup(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.groups[name]
	if !ok {
		return types.NewNotFoundError(fmt.Sprintf("security: cgroup %q not found", name))
	}

	if err := entry.ctrl.Delete(); err != nil {
		return types.NewIOError(fmt.Sprintf("security: delete cgroup %q", name), err)
	}
	delete(m.groups, name)
	return nil
}

// GetCgroupStats queries current usage for the cgroup named name.
func (m *CgroupManager) GetCgroupStats(name string) (CgroupStats, error) {
	m.mu.RLock()
	entry, ok := m.groups[name]
	m.mu.RUnlock()
	if !ok {
		return CgroupStats{}, types.NewNotFoundError(fmt.Sprintf("security: cgroup %q not found", name))
	}

	metrics, err := entry.ctrl.Stat()
	if err != nil {
		return CgroupStats{}, types.NewIOError(fmt.Sprintf("security: stat cgroup %q", name), err)
	}

	stats := CgroupStats{}
	if metrics.Memory != nil && metrics.Memory.Usage != nil {
		stats.MemoryUsage = metrics.Memory.Usage.Usage
	}
	if metrics.CPU != nil && metrics.CPU.Usage != nil {
		stats.CPUUsageNano = metrics.CPU.Usage.Total
	}
	if metrics.Pids != nil {
		stats.ProcessCount = int(metrics.Pids.Current)
	}
	if metrics.Blkio != nil {
		for _, entry := range metrics.Blkio.IoServiceBytesRecursive {
			switch entry.Op {
			case "Read", "read":
				stats.DiskReadBytes += entry.Value
			case "Write", "write":
				stats.DiskWriteBytes += entry.Value
			}
		}
	}
	return stats, nil
}

// ListCgroups returns a snapshot of every tracked cgroup.
func (m *CgroupManager) ListCgroups() []CgroupInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]CgroupInfo, 0, len(m.groups))
	for _, e := range m.groups {
		out = append(out, e.info)
	}
	return out
}

func toCgroupResources(limits types.ResourceLimits) *cgroup1.Resources {
	r := &cgroup1.Resources{}
	if limits.MemoryLimit > 0 {
		r.Memory = &cgroup1.Memory{Limit: &limits.MemoryLimit}
	}
	if limits.CPUQuota > 0 {
		period := uint64(100000)
		quota := int64(limits.CPUQuota * float64(period))
		r.CPU = &cgroup1.CPU{Quota: &quota, Period: &period}
	}
	if limits.PidsLimit > 0 {
		r.Pids = &cgroup1.Pids{Limit: limits.PidsLimit}
	}
	return r
}
