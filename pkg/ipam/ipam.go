package ipam

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync"

	"github.com/polisproject/polisd/pkg/types"
)

// DefaultPool is the name of the pool Runtime.Initialize creates and
// allocates from when no pool is named explicitly.
const DefaultPool = "default"

// PoolStats reports the occupancy of one pool.
type PoolStats struct {
	Name      string
	Subnet    string
	Gateway   string
	Total     int
	Allocated int
	Available int
}

type poolState struct {
	pool      types.IpPool
	allocated map[string]net.IP // container id -> ip
	available []net.IP          // ascending; Allocate pops from the tail (highest first)
}

// Manager tracks IP pools and their per-container allocations. A single
// lock guards every pool, so allocation from one pool blocks a lookup
// against another until it completes.
type Manager struct {
	mu    sync.RWMutex
	pools map[string]*poolState
}

// NewManager returns an empty Manager. Call CreatePool to populate it;
// Runtime.Initialize creates DefaultPool.
func NewManager() *Manager {
	return &Manager{pools: make(map[string]*poolState)}
}

// CreatePool registers a pool covering subnet, with gateway excluded
// from the free-set along with the network and broadcast addresses.
func (m *Manager) CreatePool(name string, subnet *net.IPNet, gateway net.IP) error {
	if subnet == nil {
		return types.NewValidationError("ipam: subnet is required")
	}
	ipv4 := subnet.IP.To4()
	if ipv4 == nil {
		return types.NewValidationError("ipam: only IPv4 subnets are supported in this core")
	}
	ones, bits := subnet.Mask.Size()
	if bits != 32 {
		return types.NewValidationError("ipam: malformed IPv4 mask")
	}

	network := binary.BigEndian.Uint32(ipv4)
	hostBits := uint(32 - ones)
	if hostBits < 2 {
		return types.NewValidationError("ipam: subnet too small to host any address")
	}
	broadcast := network | (uint32(1)<<hostBits - 1)

	gw4 := gateway.To4()
	var gwInt uint32
	if gw4 != nil {
		gwInt = binary.BigEndian.Uint32(gw4)
	}

	var available []net.IP
	for addr := network + 1; addr < broadcast; addr++ {
		if addr == gwInt {
			continue
		}
		available = append(available, intToIP(addr))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.pools[name] = &poolState{
		pool: types.IpPool{
			Name:    name,
			Subnet:  subnet,
			Gateway: gateway,
		},
		allocated: make(map[string]net.IP),
		available: available,
	}
	return nil
}

// Allocate reserves an address from pool (DefaultPool if empty) for
// containerID. Reallocating the same container id in the same pool is
// idempotent: the existing allocation is returned rather than a new
// one taken. Addresses are handed out highest-first, matching the
// source implementation's allocation order.
func (m *Manager) Allocate(containerID, poolName string) (net.IP, *types.IpPool, error) {
	if poolName == "" {
		poolName = DefaultPool
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pools[poolName]
	if !ok {
		return nil, nil, types.NewNotFoundError(fmt.Sprintf("ipam: pool %q not found", poolName))
	}

	if ip, ok := p.allocated[containerID]; ok {
		pool := p.pool
		return ip, &pool, nil
	}

	if len(p.available) == 0 {
		return nil, nil, types.NewResourceExhaustedError(fmt.Sprintf("ipam: pool %q has no free addresses", poolName))
	}

	last := len(p.available) - 1
	ip := p.available[last]
	p.available = p.available[:last]
	p.allocated[containerID] = ip

	pool := p.pool
	return ip, &pool, nil
}

// Deallocate returns containerID's address to the free-set. It is
// idempotent: deallocating a container id with no current allocation
// is a no-op.
func (m *Manager) Deallocate(containerID, poolName string) error {
	if poolName == "" {
		poolName = DefaultPool
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pools[poolName]
	if !ok {
		return types.NewNotFoundError(fmt.Sprintf("ipam: pool %q not found", poolName))
	}

	ip, ok := p.allocated[containerID]
	if !ok {
		return nil
	}
	delete(p.allocated, containerID)
	// Reinsert in ascending position so Allocate keeps popping the
	// highest free address.
	v := binary.BigEndian.Uint32(ip.To4())
	i := len(p.available)
	for i > 0 && binary.BigEndian.Uint32(p.available[i-1].To4()) > v {
		i--
	}
	p.available = append(p.available, nil)
	copy(p.available[i+1:], p.available[i:])
	p.available[i] = ip
	return nil
}

// GetAllocation returns the address held by containerID in pool, if any.
func (m *Manager) GetAllocation(containerID, poolName string) (net.IP, bool, error) {
	if poolName == "" {
		poolName = DefaultPool
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.pools[poolName]
	if !ok {
		return nil, false, types.NewNotFoundError(fmt.Sprintf("ipam: pool %q not found", poolName))
	}
	ip, ok := p.allocated[containerID]
	return ip, ok, nil
}

// Stats reports pool occupancy.
func (m *Manager) Stats(poolName string) (PoolStats, error) {
	if poolName == "" {
		poolName = DefaultPool
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.pools[poolName]
	if !ok {
		return PoolStats{}, types.NewNotFoundError(fmt.Sprintf("ipam: pool %q not found", poolName))
	}
	return PoolStats{
		Name:      poolName,
		Subnet:    p.pool.Subnet.String(),
		Gateway:   p.pool.Gateway.String(),
		Total:     len(p.allocated) + len(p.available),
		Allocated: len(p.allocated),
		Available: len(p.available),
	}, nil
}

func intToIP(v uint32) net.IP {
	ip := make(net.IP, 4)
	binary.BigEndian.PutUint32(ip, v)
	return ip
}
