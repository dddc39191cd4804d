package security

import (
	"fmt"

	"github.com/polisproject/polisd/pkg/types"
)

// ProfileName selects one of the three built-in security profiles.
type ProfileName string

const (
	ProfileDefault      ProfileName = "default"
	ProfileHighSecurity ProfileName = "high-security"
	ProfilePrivileged   ProfileName = "privileged"
)

// Manager is the composite SecurityMgr: it coordinates
// namespace, cgroup, seccomp, and capability sub-managers behind the
// three named profiles, and exposes the two operations Runtime calls
// around a container's lifetime.
type Manager struct {
	Namespaces   *NamespaceManager
	Cgroups      *CgroupManager
	Seccomp      *SeccompManager
	Capabilities *CapabilityManager
}

// NewManager returns a composite manager with cgroups rooted at cgroupRoot.
func NewManager(cgroupRoot string) *Manager {
	return &Manager{
		Namespaces:   NewNamespaceManager(),
		Cgroups:      NewCgroupManager(cgroupRoot),
		Seccomp:      NewSeccompManager(),
		Capabilities: NewCapabilityManager(),
	}
}

// ResolveProfile returns the types.SecurityProfile a named built-in
// profile expands to for containerName with the given resource limits.
func (m *Manager) ResolveProfile(name ProfileName, limits types.ResourceLimits) (types.SecurityProfile, error) {
	switch name {
	case ProfileDefault, "":
		return types.SecurityProfile{
			Namespaces:      append([]types.NamespaceType{}, DefaultNamespaces...),
			Resources:       limits,
			Capabilities:    types.CapabilitySet{Effective: append([]types.Capability{}, MinimalCapabilities...), Permitted: append([]types.Capability{}, MinimalCapabilities...)},
			SeccompProfile:  DefaultSeccompProfile.Name,
			ReadOnlyRootfs:  false,
			NoNewPrivileges: false,
		}, nil
	case ProfileHighSecurity:
		return types.SecurityProfile{
			Namespaces:      append([]types.NamespaceType{}, HighSecurityNamespaces...),
			Resources:       limits,
			Capabilities:    types.CapabilitySet{Effective: append([]types.Capability{}, MinimalCapabilities...), Permitted: append([]types.Capability{}, MinimalCapabilities...)},
			SeccompProfile:  DefaultSeccompProfile.Name,
			ReadOnlyRootfs:  true,
			NoNewPrivileges: true,
		}, nil
	case ProfilePrivileged:
		return types.SecurityProfile{
			Namespaces:      append([]types.NamespaceType{}, DefaultNamespaces...),
			Resources:       limits,
			Capabilities:    types.CapabilitySet{Effective: append([]types.Capability{}, AllCapabilities...), Permitted: append([]types.Capability{}, AllCapabilities...), Inheritable: append([]types.Capability{}, AllCapabilities...)},
			SeccompProfile:  "",
			ReadOnlyRootfs:  false,
			NoNewPrivileges: false,
		}, nil
	default:
		return types.SecurityProfile{}, types.NewValidationError(fmt.Sprintf("security: unknown profile %q", name))
	}
}

// Secure engages every sub-manager for containerName per the resolved
// profile: namespaces, a cgroup with limits, the capability set, and
// (unless the profile has no seccomp profile, as Privileged does) a
// loaded seccomp filter. Runtime calls this once, after BridgeMgr
// attachment and before ProcessMgr.Spawn.
func (m *Manager) Secure(containerName string, name ProfileName, limits types.ResourceLimits) (types.SecurityProfile, error) {
	profile, err := m.ResolveProfile(name, limits)
	if err != nil {
		return types.SecurityProfile{}, err
	}

	if _, err := m.Namespaces.CreateContainerNamespaces(containerName, profile.Namespaces); err != nil {
		return types.SecurityProfile{}, err
	}

	cgInfo, err := m.Cgroups.CreateCgroup(containerName, limits)
	if err != nil {
		_ = m.Namespaces.RemoveContainerNamespaces(containerName)
		return types.SecurityProfile{}, err
	}
	profile.CgroupPath = cgInfo.Path

	if profile.SeccompProfile != "" {
		if err := m.Seccomp.ApplyProfile(profile.SeccompProfile); err != nil {
			_ = m.Cgroups.DeleteCgroup(containerName)
			_ = m.Namespaces.RemoveContainerNamespaces(containerName)
			return types.SecurityProfile{}, err
		}
	}

	m.Capabilities.SetCapabilities(containerName, profile.Capabilities)

	return profile, nil
}

// Teardown reverses Secure: removes the container's cgroup and
// namespaces. Called during Runtime.Remove regardless of how far
// Secure got, so each step tolerates "not found".
func (m *Manager) Teardown(containerName string) error {
	_ = m.Cgroups.DeleteCgroup(containerName)
	return m.Namespaces.RemoveContainerNamespaces(containerName)
}
