package dns

import (
	"net"
	"testing"

	"github.com/polisproject/polisd/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestNewManagerSeedsDefaultZones(t *testing.T) {
	m := NewManager()

	zones := m.ListZones()
	require.ElementsMatch(t, []string{ZonePolis, ZoneContainer}, zones)
	require.Equal(t, DefaultUpstreamServers, m.UpstreamServers())
}

func TestCreateContainerRecordResolves(t *testing.T) {
	m := NewManager()

	require.NoError(t, m.CreateContainerRecord("c1", net.ParseIP("172.17.0.5")))

	records := m.Resolve("c1.container.local", types.DnsRecordA)
	require.Len(t, records, 1)
	require.Equal(t, "172.17.0.5", records[0].Value)
}

func TestCreateContainerRecordRejectsNonIPv4(t *testing.T) {
	m := NewManager()
	err := m.CreateContainerRecord("c1", net.ParseIP("::1"))
	require.Error(t, err)
	require.Equal(t, types.KindValidation, types.KindOf(err))
}

func TestCreateAliasRecordResolvesCNAME(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.CreateContainerRecord("c1", net.ParseIP("172.17.0.5")))
	require.NoError(t, m.CreateAliasRecord("web", "c1.container.local", ZoneContainer))

	records := m.Resolve("web.container.local", types.DnsRecordCNAME)
	require.Len(t, records, 1)
	require.Equal(t, "c1.container.local", records[0].Value)
}

func TestResolveMissReturnsEmpty(t *testing.T) {
	m := NewManager()
	require.Empty(t, m.Resolve("nope.container.local", types.DnsRecordA))
}

func TestRemoveRecordDeletesFqdnWhenEmpty(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.CreateContainerRecord("c1", net.ParseIP("172.17.0.5")))

	require.NoError(t, m.RemoveRecord(ZoneContainer, "c1", types.DnsRecordA))
	require.Empty(t, m.Resolve("c1.container.local", types.DnsRecordA))

	records, err := m.ListRecords(ZoneContainer)
	require.NoError(t, err)
	require.NotContains(t, records, "c1.container.local")
}

func TestCreateZoneRejectsDuplicate(t *testing.T) {
	m := NewManager()
	err := m.CreateZone(ZonePolis, 0)
	require.Error(t, err)
	require.Equal(t, types.KindConflict, types.KindOf(err))
}

func TestStatsCountsRecords(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.CreateContainerRecord("c1", net.ParseIP("172.17.0.5")))
	require.NoError(t, m.CreateContainerRecord("c2", net.ParseIP("172.17.0.6")))

	stats, err := m.Stats(ZoneContainer)
	require.NoError(t, err)
	require.Equal(t, 2, stats.Records)
}
