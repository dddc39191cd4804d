package ipam

import (
	"net"
	"testing"

	"github.com/polisproject/polisd/pkg/types"
	"github.com/stretchr/testify/require"
)

func mustSubnet(t *testing.T, cidr string) *net.IPNet {
	t.Helper()
	_, n, err := net.ParseCIDR(cidr)
	require.NoError(t, err)
	return n
}

func TestAllocateHighestFirst(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.CreatePool("default", mustSubnet(t, "192.168.10.0/30"), net.ParseIP("192.168.10.1")))

	// /30 gives hosts .1-.2; gateway .1 excluded, leaving only .2 available.
	ip, pool, err := m.Allocate("c1", "default")
	require.NoError(t, err)
	require.Equal(t, "192.168.10.2", ip.String())
	require.Equal(t, "192.168.10.1", pool.Gateway.String())

	_, _, err = m.Allocate("c2", "default")
	require.Error(t, err)
	require.Equal(t, types.KindResourceExhausted, types.KindOf(err))
}

func TestAllocateIdempotentPerContainer(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.CreatePool("default", mustSubnet(t, "10.0.0.0/24"), net.ParseIP("10.0.0.1")))

	ip1, _, err := m.Allocate("c1", "default")
	require.NoError(t, err)
	ip2, _, err := m.Allocate("c1", "default")
	require.NoError(t, err)
	require.Equal(t, ip1, ip2)
}

func TestDeallocateIsIdempotentAndReturnsAddress(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.CreatePool("default", mustSubnet(t, "10.0.0.0/30"), net.ParseIP("10.0.0.1")))

	ip, _, err := m.Allocate("c1", "default")
	require.NoError(t, err)

	require.NoError(t, m.Deallocate("c1", "default"))
	require.NoError(t, m.Deallocate("c1", "default")) // idempotent

	ip2, _, err := m.Allocate("c2", "default")
	require.NoError(t, err)
	require.Equal(t, ip, ip2, "freed address should be reallocated")
}

func TestStatsReflectsOccupancy(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.CreatePool("default", mustSubnet(t, "10.0.0.0/29"), net.ParseIP("10.0.0.1")))

	_, _, err := m.Allocate("c1", "default")
	require.NoError(t, err)

	stats, err := m.Stats("default")
	require.NoError(t, err)
	require.Equal(t, 1, stats.Allocated)
	require.Equal(t, stats.Allocated+stats.Available, stats.Total)
}

func TestUnknownPoolIsNotFound(t *testing.T) {
	m := NewManager()
	_, _, err := m.Allocate("c1", "missing")
	require.Error(t, err)
	require.Equal(t, types.KindNotFound, types.KindOf(err))
}
