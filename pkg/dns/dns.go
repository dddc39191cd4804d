package dns

import (
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/polisproject/polisd/pkg/types"
)

// ZonePolis and ZoneContainer are the two authoritative zones every
// Manager starts with.
const (
	ZonePolis     = "polis.local"
	ZoneContainer = "container.local"

	defaultZoneTTL = 300 * time.Second
)

// DefaultUpstreamServers is used when NewManager is not given an
// explicit upstream list: Google first, then Cloudflare.
var DefaultUpstreamServers = []string{"8.8.8.8:53", "1.1.1.1:53"}

// ZoneStats summarizes one zone's record composition.
type ZoneStats struct {
	Name    string
	TTL     time.Duration
	Records int
}

// Manager owns the set of authoritative zones and the upstream
// delegation list. It has no knowledge of the DNS wire protocol; see
// Resolver and Server for that.
type Manager struct {
	mu       sync.RWMutex
	zones    map[string]*types.DnsZone
	upstream []string
}

// NewManager returns a Manager seeded with the polis.local and
// container.local zones, both at a 300s TTL, and the default upstream
// server list.
func NewManager() *Manager {
	m := &Manager{
		zones:    make(map[string]*types.DnsZone),
		upstream: append([]string(nil), DefaultUpstreamServers...),
	}
	m.zones[ZonePolis] = &types.DnsZone{Name: ZonePolis, TTL: defaultZoneTTL, Records: make(map[string][]types.DnsRecord)}
	m.zones[ZoneContainer] = &types.DnsZone{Name: ZoneContainer, TTL: defaultZoneTTL, Records: make(map[string][]types.DnsRecord)}
	return m
}

// CreateZone adds a new authoritative zone. It is an error to
// recreate an existing zone.
func (m *Manager) CreateZone(name string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.zones[name]; exists {
		return types.NewConflictError(fmt.Sprintf("dns: zone %q already exists", name))
	}
	if ttl <= 0 {
		ttl = defaultZoneTTL
	}
	m.zones[name] = &types.DnsZone{Name: name, TTL: ttl, Records: make(map[string][]types.DnsRecord)}
	return nil
}

// AddRecord publishes a record for host under zoneName. The record's
// fqdn key is "{host}.{zoneName}". If record.TTL is zero it inherits
// the zone's TTL.
func (m *Manager) AddRecord(zoneName, host string, record types.DnsRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	zone, ok := m.zones[zoneName]
	if !ok {
		return types.NewNotFoundError(fmt.Sprintf("dns: zone %q not found", zoneName))
	}
	if record.TTL == 0 {
		record.TTL = zone.TTL
	}

	fqdn := fqdn(host, zoneName)
	zone.Records[fqdn] = append(zone.Records[fqdn], record)
	return nil
}

// RemoveRecord deletes every record of recordType under host.zoneName.
// Removing the last record of a host deletes the fqdn key entirely.
func (m *Manager) RemoveRecord(zoneName, host string, recordType types.DnsRecordType) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	zone, ok := m.zones[zoneName]
	if !ok {
		return types.NewNotFoundError(fmt.Sprintf("dns: zone %q not found", zoneName))
	}

	fqdn := fqdn(host, zoneName)
	existing, ok := zone.Records[fqdn]
	if !ok {
		return types.NewNotFoundError(fmt.Sprintf("dns: no records for %q", fqdn))
	}

	kept := existing[:0]
	for _, r := range existing {
		if r.Type != recordType {
			kept = append(kept, r)
		}
	}
	if len(kept) == 0 {
		delete(zone.Records, fqdn)
	} else {
		zone.Records[fqdn] = kept
	}
	return nil
}

// Resolve walks every local zone looking for records of recordType at
// the fully-qualified name. A miss (empty, no error) tells the caller
// to fall back to upstream delegation.
func (m *Manager) Resolve(name string, recordType types.DnsRecordType) []types.DnsRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	name = strings.TrimSuffix(name, ".")
	var out []types.DnsRecord
	for _, zone := range m.zones {
		records, ok := zone.Records[name]
		if !ok {
			continue
		}
		for _, r := range records {
			if r.Type == recordType {
				out = append(out, r)
			}
		}
	}
	return out
}

// CreateContainerRecord publishes an A record for containerID under
// container.local, following the container's lifecycle (Runtime calls
// this on create and removes it with RemoveRecord on teardown).
func (m *Manager) CreateContainerRecord(containerID string, ip net.IP) error {
	if ip == nil || ip.To4() == nil {
		return types.NewValidationError("dns: container record requires an IPv4 address")
	}
	return m.AddRecord(ZoneContainer, containerID, types.DnsRecord{Type: types.DnsRecordA, Value: ip.String()})
}

// CreateAliasRecord publishes a CNAME record pointing alias at target
// under zoneName.
func (m *Manager) CreateAliasRecord(alias, target, zoneName string) error {
	return m.AddRecord(zoneName, alias, types.DnsRecord{Type: types.DnsRecordCNAME, Value: target})
}

// ListRecords returns a snapshot of every fqdn -> records entry in
// zoneName.
func (m *Manager) ListRecords(zoneName string) (map[string][]types.DnsRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	zone, ok := m.zones[zoneName]
	if !ok {
		return nil, types.NewNotFoundError(fmt.Sprintf("dns: zone %q not found", zoneName))
	}

	out := make(map[string][]types.DnsRecord, len(zone.Records))
	for k, v := range zone.Records {
		out[k] = append([]types.DnsRecord(nil), v...)
	}
	return out, nil
}

// Stats reports zoneName's record count.
func (m *Manager) Stats(zoneName string) (ZoneStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	zone, ok := m.zones[zoneName]
	if !ok {
		return ZoneStats{}, types.NewNotFoundError(fmt.Sprintf("dns: zone %q not found", zoneName))
	}

	count := 0
	for _, records := range zone.Records {
		count += len(records)
	}
	return ZoneStats{Name: zone.Name, TTL: zone.TTL, Records: count}, nil
}

// ListZones returns the name of every authoritative zone.
func (m *Manager) ListZones() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.zones))
	for name := range m.zones {
		out = append(out, name)
	}
	return out
}

// UpstreamServers returns the ordered upstream delegation list.
func (m *Manager) UpstreamServers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.upstream...)
}

// SetUpstreamServers replaces the upstream delegation list.
func (m *Manager) SetUpstreamServers(servers []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upstream = append([]string(nil), servers...)
}

func fqdn(host, zoneName string) string {
	host = strings.TrimSuffix(host, ".")
	return host + "." + zoneName
}
