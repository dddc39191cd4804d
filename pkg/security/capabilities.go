package security

import (
	"sync"

	"github.com/polisproject/polisd/pkg/types"
)

// The canonical Linux capability enumeration.
const (
	CapChown          types.Capability = "CAP_CHOWN"
	CapDacOverride    types.Capability = "CAP_DAC_OVERRIDE"
	CapDacReadSearch  types.Capability = "CAP_DAC_READ_SEARCH"
	CapFowner         types.Capability = "CAP_FOWNER"
	CapFsetid         types.Capability = "CAP_FSETID"
	CapKill           types.Capability = "CAP_KILL"
	CapSetgid         types.Capability = "CAP_SETGID"
	CapSetuid         types.Capability = "CAP_SETUID"
	CapSetpcap        types.Capability = "CAP_SETPCAP"
	CapLinuxImmutable types.Capability = "CAP_LINUX_IMMUTABLE"
	CapNetBindService types.Capability = "CAP_NET_BIND_SERVICE"
	CapNetBroadcast   types.Capability = "CAP_NET_BROADCAST"
	CapNetAdmin       types.Capability = "CAP_NET_ADMIN"
	CapNetRaw         types.Capability = "CAP_NET_RAW"
	CapIpcLock        types.Capability = "CAP_IPC_LOCK"
	CapIpcOwner       types.Capability = "CAP_IPC_OWNER"
	CapSysModule      types.Capability = "CAP_SYS_MODULE"
	CapSysRawio       types.Capability = "CAP_SYS_RAWIO"
	CapSysChroot      types.Capability = "CAP_SYS_CHROOT"
	CapSysPtrace      types.Capability = "CAP_SYS_PTRACE"
	CapSysPacct       types.Capability = "CAP_SYS_PACCT"
	CapSysAdmin       types.Capability = "CAP_SYS_ADMIN"
	CapSysBoot        types.Capability = "CAP_SYS_BOOT"
	CapSysNice        types.Capability = "CAP_SYS_NICE"
	CapSysResource    types.Capability = "CAP_SYS_RESOURCE"
	CapSysTime        types.Capability = "CAP_SYS_TIME"
	CapSysTtyConfig   types.Capability = "CAP_SYS_TTY_CONFIG"
	CapMknod          types.Capability = "CAP_MKNOD"
	CapLease          types.Capability = "CAP_LEASE"
	CapAuditWrite     types.Capability = "CAP_AUDIT_WRITE"
	CapAuditControl   types.Capability = "CAP_AUDIT_CONTROL"
	CapSetfcap        types.Capability = "CAP_SETFCAP"
	CapMacOverride    types.Capability = "CAP_MAC_OVERRIDE"
	CapMacAdmin       types.Capability = "CAP_MAC_ADMIN"
	CapSyslog         types.Capability = "CAP_SYSLOG"
	CapWakeAlarm      types.Capability = "CAP_WAKE_ALARM"
	CapBlockSuspend   types.Capability = "CAP_BLOCK_SUSPEND"
	CapAuditRead      types.Capability = "CAP_AUDIT_READ"
)

// AllCapabilities is the full canonical enumeration, in the privileged preset.
var AllCapabilities = []types.Capability{
	CapChown, CapDacOverride, CapDacReadSearch, CapFowner, CapFsetid, CapKill,
	CapSetgid, CapSetuid, CapSetpcap, CapLinuxImmutable, CapNetBindService,
	CapNetBroadcast, CapNetAdmin, CapNetRaw, CapIpcLock, CapIpcOwner,
	CapSysModule, CapSysRawio, CapSysChroot, CapSysPtrace, CapSysPacct,
	CapSysAdmin, CapSysBoot, CapSysNice, CapSysResource, CapSysTime,
	CapSysTtyConfig, CapMknod, CapLease, CapAuditWrite, CapAuditControl,
	CapSetfcap, CapMacOverride, CapMacAdmin, CapSyslog, CapWakeAlarm,
	CapBlockSuspend, CapAuditRead,
}

// MinimalCapabilities is the Default profile's capability preset.
var MinimalCapabilities = []types.Capability{
	CapChown, CapDacOverride, CapFowner, CapFsetid, CapKill, CapSetgid,
	CapSetuid, CapSetpcap, CapNetBindService, CapNetRaw, CapIpcLock,
	CapSysChroot, CapAuditWrite, CapSetfcap,
}

// CapabilityManager tracks the current effective/permitted/inheritable
// capability set per container.
type CapabilityManager struct {
	mu   sync.RWMutex
	caps map[string]types.CapabilitySet
}

// NewCapabilityManager returns an empty manager.
func NewCapabilityManager() *CapabilityManager {
	return &CapabilityManager{caps: make(map[string]types.CapabilitySet)}
}

// SetCapabilities replaces containerName's capability set wholesale.
func (m *CapabilityManager) SetCapabilities(containerName string, set types.CapabilitySet) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.caps[containerName] = set
}

// GetCapabilities returns containerName's current capability set.
func (m *CapabilityManager) GetCapabilities(containerName string) types.CapabilitySet {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.caps[containerName]
}

// AddCapabilities grants caps across all three sets.
func (m *CapabilityManager) AddCapabilities(containerName string, caps []types.Capability) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.caps[containerName]
	set.Effective = unionCaps(set.Effective, caps)
	set.Permitted = unionCaps(set.Permitted, caps)
	set.Inheritable = unionCaps(set.Inheritable, caps)
	m.caps[containerName] = set
}

// DropCapabilities removes caps from all three sets.
func (m *CapabilityManager) DropCapabilities(containerName string, caps []types.Capability) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.caps[containerName]
	set.Effective = subtractCaps(set.Effective, caps)
	set.Permitted = subtractCaps(set.Permitted, caps)
	set.Inheritable = subtractCaps(set.Inheritable, caps)
	m.caps[containerName] = set
}

// CreateMinimalCapset assigns the minimal preset's effective+permitted
// sets to containerName, with an empty inheritable set.
func (m *CapabilityManager) CreateMinimalCapset(containerName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.caps[containerName] = types.CapabilitySet{
		Effective: append([]types.Capability{}, MinimalCapabilities...),
		Permitted: append([]types.Capability{}, MinimalCapabilities...),
	}
}

// CreatePrivilegedCapset assigns every canonical capability to all
// three sets for containerName.
func (m *CapabilityManager) CreatePrivilegedCapset(containerName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.caps[containerName] = types.CapabilitySet{
		Effective:   append([]types.Capability{}, AllCapabilities...),
		Permitted:   append([]types.Capability{}, AllCapabilities...),
		Inheritable: append([]types.Capability{}, AllCapabilities...),
	}
}

func unionCaps(existing, add []types.Capability) []types.Capability {
	seen := make(map[types.Capability]bool, len(existing))
	out := append([]types.Capability{}, existing...)
	for _, c := range existing {
		seen[c] = true
	}
	for _, c := range add {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out
}

func subtractCaps(existing, remove []types.Capability) []types.Capability {
	drop := make(map[types.Capability]bool, len(remove))
	for _, c := range remove {
		drop[c] = true
	}
	out := existing[:0:0]
	for _, c := range existing {
		if !drop[c] {
			out = append(out, c)
		}
	}
	return out
}
