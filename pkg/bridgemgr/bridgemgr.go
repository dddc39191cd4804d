package bridgemgr

import (
	"fmt"
	"net"
	"sync"

	"github.com/polisproject/polisd/pkg/types"
	"github.com/vishvananda/netlink"
)

// DefaultBridgeName is the bridge Runtime.Initialize creates and the
// one SetupContainerNetwork/CleanupContainerNetwork attach to.
const DefaultBridgeName = "polis0"

// Manager maintains the set of bridges known to the daemon and the
// veth pairs attached to them. Bridge/interface mutation goes through
// netlink; Manager's own lock only protects the in-memory bookkeeping,
// matching how the rest of the network subsystem separates "what we
// believe is true" from "what the kernel enforces".
type Manager struct {
	mu      sync.RWMutex
	bridges map[string]*types.Bridge
}

// NewManager returns an empty Manager.
func NewManager() *Manager {
	return &Manager{bridges: make(map[string]*types.Bridge)}
}

// CreateDefaultBridge creates DefaultBridgeName with the conventional
// 172.17.0.0/16 subnet, mirroring Runtime.Initialize's bootstrap step.
func (m *Manager) CreateDefaultBridge() error {
	_, subnet, _ := net.ParseCIDR("172.17.0.0/16")
	return m.CreateBridge(DefaultBridgeName, net.ParseIP("172.17.0.1"), subnet, 1500)
}

// CreateBridge creates a Linux bridge device and registers it.
func (m *Manager) CreateBridge(name string, gateway net.IP, subnet *net.IPNet, mtu int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.bridges[name]; exists {
		return types.NewConflictError(fmt.Sprintf("bridgemgr: bridge %q already exists", name))
	}

	link := &netlink.Bridge{
		LinkAttrs: netlink.LinkAttrs{Name: name, MTU: mtu},
	}
	if err := netlink.LinkAdd(link); err != nil && !isExistsErr(err) {
		return types.NewIOError(fmt.Sprintf("bridgemgr: create bridge %q", name), err)
	}

	if gateway != nil && subnet != nil {
		addr := &netlink.Addr{IPNet: &net.IPNet{IP: gateway, Mask: subnet.Mask}}
		if err := netlink.AddrAdd(link, addr); err != nil && !isExistsErr(err) {
			return types.NewIOError(fmt.Sprintf("bridgemgr: assign address on %q", name), err)
		}
	}

	if err := netlink.LinkSetUp(link); err != nil {
		return types.NewIOError(fmt.Sprintf("bridgemgr: bring up %q", name), err)
	}

	m.bridges[name] = &types.Bridge{
		Name:    name,
		Gateway: gateway,
		Subnet:  subnet,
		MTU:     mtu,
		Enabled: true,
	}
	return nil
}

// DeleteBridge tears down the bridge device and forgets it.
func (m *Manager) DeleteBridge(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.bridges[name]; !exists {
		return types.NewNotFoundError(fmt.Sprintf("bridgemgr: bridge %q not found", name))
	}

	if link, err := netlink.LinkByName(name); err == nil {
		_ = netlink.LinkDel(link)
	}
	delete(m.bridges, name)
	return nil
}

// AddInterface attaches an existing link to bridgeName.
func (m *Manager) AddInterface(bridgeName, ifaceName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.bridges[bridgeName]
	if !ok {
		return types.NewNotFoundError(fmt.Sprintf("bridgemgr: bridge %q not found", bridgeName))
	}

	brLink, err := netlink.LinkByName(bridgeName)
	if err != nil {
		return types.NewIOError(fmt.Sprintf("bridgemgr: lookup bridge %q", bridgeName), err)
	}
	ifaceLink, err := netlink.LinkByName(ifaceName)
	if err != nil {
		return types.NewIOError(fmt.Sprintf("bridgemgr: lookup interface %q", ifaceName), err)
	}
	if err := netlink.LinkSetMaster(ifaceLink, brLink.(*netlink.Bridge)); err != nil {
		return types.NewIOError(fmt.Sprintf("bridgemgr: attach %q to %q", ifaceName, bridgeName), err)
	}

	for _, existing := range b.Interfaces {
		if existing == ifaceName {
			return nil
		}
	}
	b.Interfaces = append(b.Interfaces, ifaceName)
	return nil
}

// RemoveInterface detaches ifaceName from bridgeName.
func (m *Manager) RemoveInterface(bridgeName, ifaceName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.bridges[bridgeName]
	if !ok {
		return types.NewNotFoundError(fmt.Sprintf("bridgemgr: bridge %q not found", bridgeName))
	}

	if link, err := netlink.LinkByName(ifaceName); err == nil {
		_ = netlink.LinkSetNoMaster(link)
	}

	kept := b.Interfaces[:0]
	for _, existing := range b.Interfaces {
		if existing != ifaceName {
			kept = append(kept, existing)
		}
	}
	b.Interfaces = kept
	return nil
}

// EnableBridge / DisableBridge flip the bookkeeping flag and the
// kernel link state together.
func (m *Manager) EnableBridge(name string) error  { return m.setEnabled(name, true) }
func (m *Manager) DisableBridge(name string) error { return m.setEnabled(name, false) }

func (m *Manager) setEnabled(name string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.bridges[name]
	if !ok {
		return types.NewNotFoundError(fmt.Sprintf("bridgemgr: bridge %q not found", name))
	}

	if link, err := netlink.LinkByName(name); err == nil {
		if enabled {
			_ = netlink.LinkSetUp(link)
		} else {
			_ = netlink.LinkSetDown(link)
		}
	}
	b.Enabled = enabled
	return nil
}

// GetBridge returns a copy of the bridge record.
func (m *Manager) GetBridge(name string) (*types.Bridge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.bridges[name]
	if !ok {
		return nil, types.NewNotFoundError(fmt.Sprintf("bridgemgr: bridge %q not found", name))
	}
	cp := *b
	cp.Interfaces = append([]string(nil), b.Interfaces...)
	return &cp, nil
}

// ListBridges returns a snapshot of all known bridges.
func (m *Manager) ListBridges() []*types.Bridge {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*types.Bridge, 0, len(m.bridges))
	for _, b := range m.bridges {
		cp := *b
		cp.Interfaces = append([]string(nil), b.Interfaces...)
		out = append(out, &cp)
	}
	return out
}

// VethName derives the host-side veth interface name for a container,
// truncated to fit the kernel's IFNAMSIZ limit. pkg/stats reconstructs
// this same name to read host-side network counters from sysfs.
func VethName(containerID string) string {
	name := fmt.Sprintf("veth-%s", containerID)
	if len(name) > 15 { // IFNAMSIZ-1
		name = name[:15]
	}
	return name
}

// SetupContainerNetwork creates a veth pair, attaches the host end to
// the default bridge, and brings the host end up. containerIP and
// netnsFd are not used: the peer end gets no address and is not moved
// into a network namespace. Runtime calls this during
// CreateContainer's BridgeAttach step.
func (m *Manager) SetupContainerNetwork(containerID string, containerIP net.IP, netnsFd int) error {
	hostSide := VethName(containerID)
	peerSide := hostSide + "p"

	veth := &netlink.Veth{
		LinkAttrs: netlink.LinkAttrs{Name: hostSide},
		PeerName:  peerSide,
	}
	if err := netlink.LinkAdd(veth); err != nil && !isExistsErr(err) {
		return types.NewIOError(fmt.Sprintf("bridgemgr: create veth for %s", containerID), err)
	}

	if err := m.AddInterface(DefaultBridgeName, hostSide); err != nil {
		return err
	}

	if link, err := netlink.LinkByName(hostSide); err == nil {
		_ = netlink.LinkSetUp(link)
	}

	return nil
}

// CleanupContainerNetwork detaches and removes the veth pair created
// for containerID. Safe to call on a container whose network was
// never set up.
func (m *Manager) CleanupContainerNetwork(containerID string) error {
	hostSide := VethName(containerID)

	_ = m.RemoveInterface(DefaultBridgeName, hostSide)

	if link, err := netlink.LinkByName(hostSide); err == nil {
		_ = netlink.LinkDel(link)
	}
	return nil
}

func isExistsErr(err error) bool {
	return err != nil && err.Error() == "file exists"
}
