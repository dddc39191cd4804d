package security

import (
	"fmt"
	"sync"

	seccomp "github.com/seccomp/libseccomp-golang"

	"github.com/polisproject/polisd/pkg/types"
)

// DefaultSeccompProfile is the `default` profile every container gets
// unless overridden: allow common I/O syscalls, deny the
// process-spawning primitives.
var DefaultSeccompProfile = types.SeccompProfile{
	Name:          "default",
	DefaultAction: types.SeccompAllow,
	Rules: []types.SeccompRule{
		{Syscalls: []string{"read", "write", "open", "close", "stat", "fstat"}, Action: types.SeccompAllow},
		{Syscalls: []string{"execve", "clone", "fork", "ptrace"}, Action: types.SeccompDeny},
	},
}

// SeccompManager loads named seccomp profiles and projects them onto
// libseccomp filters.
type SeccompManager struct {
	mu       sync.RWMutex
	profiles map[string]types.SeccompProfile
}

// NewSeccompManager returns a manager seeded with the default profile.
func NewSeccompManager() *SeccompManager {
	m := &SeccompManager{profiles: make(map[string]types.SeccompProfile)}
	m.profiles[DefaultSeccompProfile.Name] = DefaultSeccompProfile
	return m
}

// LoadProfile registers profile under profile.Name, replacing any
// existing profile of the same name.
func (m *SeccompManager) LoadProfile(profile types.SeccompProfile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[profile.Name] = profile
}

// GetProfile returns the named profile.
func (m *SeccompManager) GetProfile(name string) (types.SeccompProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[name]
	if !ok {
		return types.SeccompProfile{}, types.NewNotFoundError(fmt.Sprintf("security: seccomp profile %q not found", name))
	}
	return p, nil
}

// ListProfiles returns every loaded profile name.
func (m *SeccompManager) ListProfiles() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.profiles))
	for name := range m.profiles {
		out = append(out, name)
	}
	return out
}

// BuildFilter compiles the named profile into a libseccomp filter
// ready to be loaded into the kernel by the process that will exec
// the container's entrypoint.
func (m *SeccompManager) BuildFilter(name string) (*seccomp.ScmpFilter, error) {
	profile, err := m.GetProfile(name)
	if err != nil {
		return nil, err
	}

	filter, err := seccomp.NewFilter(toScmpAction(profile.DefaultAction))
	if err != nil {
		return nil, types.NewIOError(fmt.Sprintf("security: create seccomp filter for %q", name), err)
	}

	for _, rule := range profile.Rules {
		action := toScmpAction(rule.Action)
		for _, name := range rule.Syscalls {
			syscallID, err := seccomp.GetSyscallFromName(name)
			if err != nil {
				continue // unknown syscall name on this platform; skip rather than fail the whole profile
			}
			if err := filter.AddRule(syscallID, action); err != nil {
				return nil, types.NewIOError(fmt.Sprintf("security: add seccomp rule for %q", name), err)
			}
		}
	}

	return filter, nil
}

// ApplyProfile compiles and loads the named profile into the kernel
// for the calling thread. ProcessMgr calls this immediately before
// exec'ing a container's entrypoint, inside the container's mount/pid
// namespace.
func (m *SeccompManager) ApplyProfile(name string) error {
	filter, err := m.BuildFilter(name)
	if err != nil {
		return err
	}
	defer filter.Release()

	if err := filter.Load(); err != nil {
		return types.NewIOError(fmt.Sprintf("security: load seccomp filter %q", name), err)
	}
	return nil
}

func toScmpAction(action types.SeccompAction) seccomp.ScmpAction {
	switch action {
	case types.SeccompDeny:
		return seccomp.ActErrno.SetReturnCode(1)
	case types.SeccompTrap:
		return seccomp.ActTrap
	case types.SeccompKill:
		return seccomp.ActKillProcess
	case types.SeccompTrace:
		return seccomp.ActTrace.SetReturnCode(1)
	case types.SeccompLog:
		return seccomp.ActLog
	default:
		return seccomp.ActAllow
	}
}
