package portforward

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/coreos/go-iptables/iptables"
	"github.com/polisproject/polisd/pkg/types"
)

const natTable = "nat"

// Stats summarizes the rule table's composition.
type Stats struct {
	Total    int
	Active   int
	Inactive int
	TCP      int
	UDP      int
}

// Manager maintains the host->container port forward table. Rule ids
// are auto-assigned, monotonic, and prefixed `pf-`, matching the
// source behavior. Each enabled rule is projected onto the kernel as a
// PREROUTING DNAT + POSTROUTING MASQUERADE + FORWARD ACCEPT triple,
// installed and torn down together with rollback on partial failure.
type Manager struct {
	mu     sync.Mutex
	rules  map[string]types.PortForwardRule
	nextID uint64
	ipt    *iptables.IPTables
}

// NewManager returns an empty table. ipt may be nil to exercise
// conflict-detection bookkeeping without touching the kernel.
func NewManager(ipt *iptables.IPTables) *Manager {
	return &Manager{rules: make(map[string]types.PortForwardRule), nextID: 1, ipt: ipt}
}

// AddRule installs rule, auto-assigning its ID, after checking it does
// not conflict with any existing enabled rule. The submitted
// rule's Enabled/ID fields are ignored; the new rule is always enabled.
func (m *Manager) AddRule(rule types.PortForwardRule) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rule.Enabled = true
	for _, existing := range m.rules {
		if rule.Conflicts(existing) {
			return "", types.NewConflictError(fmt.Sprintf(
				"portforward: %s:%d/%s conflicts with existing rule %s",
				rule.HostIP, rule.HostPort, rule.Protocol, existing.ID))
		}
	}

	rule.ID = fmt.Sprintf("pf-%d", m.nextID)
	m.nextID++

	if err := m.install(rule); err != nil {
		return "", err
	}

	m.rules[rule.ID] = rule
	return rule.ID, nil
}

// RemoveRule uninstalls and forgets ruleID.
func (m *Manager) RemoveRule(ruleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rule, ok := m.rules[ruleID]
	if !ok {
		return types.NewNotFoundError(fmt.Sprintf("portforward: rule %q not found", ruleID))
	}

	m.uninstall(rule)
	delete(m.rules, ruleID)
	return nil
}

// GetRule returns the rule with ruleID, if any.
func (m *Manager) GetRule(ruleID string) (types.PortForwardRule, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rules[ruleID]
	return r, ok
}

// ListRules returns a snapshot of the whole table.
func (m *Manager) ListRules() []types.PortForwardRule {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]types.PortForwardRule, 0, len(m.rules))
	for _, r := range m.rules {
		out = append(out, r)
	}
	return out
}

// ListRulesForContainer returns rules targeting containerIP.
func (m *Manager) ListRulesForContainer(containerIP string) []types.PortForwardRule {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []types.PortForwardRule
	for _, r := range m.rules {
		if r.ContainerIP == containerIP {
			out = append(out, r)
		}
	}
	return out
}

// CreateContainerForwarding publishes containerPort on hostPort (or
// containerPort if hostPort is 0), listening on all interfaces.
func (m *Manager) CreateContainerForwarding(containerIP string, containerPort int, hostPort int, proto types.Protocol) (string, error) {
	if hostPort == 0 {
		hostPort = containerPort
	}
	return m.AddRule(types.PortForwardRule{
		HostIP:        "0.0.0.0",
		HostPort:      hostPort,
		ContainerIP:   containerIP,
		ContainerPort: containerPort,
		Protocol:      proto,
	})
}

// CreateRangeForwarding installs one rule per port in
// [hostStart..hostEnd], paired with [containerStart, containerStart+1, ...].
// On any conflict, rules already installed in this call are rolled back.
func (m *Manager) CreateRangeForwarding(hostIP string, hostStart, hostEnd int, containerIP string, containerStart int, proto types.Protocol) ([]string, error) {
	if hostStart > hostEnd {
		return nil, types.NewValidationError("portforward: range start must not exceed end")
	}

	var ids []string
	for i := 0; hostStart+i <= hostEnd; i++ {
		id, err := m.AddRule(types.PortForwardRule{
			HostIP:        hostIP,
			HostPort:      hostStart + i,
			ContainerIP:   containerIP,
			ContainerPort: containerStart + i,
			Protocol:      proto,
		})
		if err != nil {
			for _, done := range ids {
				_ = m.RemoveRule(done)
			}
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// ClearRules uninstalls and removes every rule.
func (m *Manager) ClearRules() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rules {
		m.uninstall(r)
	}
	m.rules = make(map[string]types.PortForwardRule)
}

// ClearContainerRules removes every rule targeting containerIP. Used
// by Runtime during container removal.
func (m *Manager) ClearContainerRules(containerIP string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, r := range m.rules {
		if r.ContainerIP == containerIP {
			m.uninstall(r)
			delete(m.rules, id)
		}
	}
}

// Stats reports table composition.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Stats{Total: len(m.rules)}
	for _, r := range m.rules {
		if r.Enabled {
			s.Active++
		} else {
			s.Inactive++
		}
		switch r.Protocol {
		case types.ProtocolTCP:
			s.TCP++
		case types.ProtocolUDP:
			s.UDP++
		}
	}
	s.Inactive = s.Total - s.Active
	return s
}

func (m *Manager) install(rule types.PortForwardRule) error {
	if m.ipt == nil {
		return nil
	}
	proto := iptablesProto(rule.Protocol)

	dnat := []string{"-p", proto, "--dport", strconv.Itoa(rule.HostPort),
		"-j", "DNAT", "--to-destination", fmt.Sprintf("%s:%d", rule.ContainerIP, rule.ContainerPort)}
	if err := m.ipt.AppendUnique(natTable, "PREROUTING", dnat...); err != nil {
		return types.NewIOError(fmt.Sprintf("portforward: install DNAT for %s", rule.ID), err)
	}

	masq := []string{"-p", proto, "-d", rule.ContainerIP, "--dport", strconv.Itoa(rule.ContainerPort), "-j", "MASQUERADE"}
	if err := m.ipt.AppendUnique(natTable, "POSTROUTING", masq...); err != nil {
		_ = m.ipt.DeleteIfExists(natTable, "PREROUTING", dnat...)
		return types.NewIOError(fmt.Sprintf("portforward: install MASQUERADE for %s", rule.ID), err)
	}

	fwd := []string{"-p", proto, "-d", rule.ContainerIP, "--dport", strconv.Itoa(rule.ContainerPort), "-j", "ACCEPT"}
	if err := m.ipt.AppendUnique("filter", "FORWARD", fwd...); err != nil {
		_ = m.ipt.DeleteIfExists(natTable, "POSTROUTING", masq...)
		_ = m.ipt.DeleteIfExists(natTable, "PREROUTING", dnat...)
		return types.NewIOError(fmt.Sprintf("portforward: install FORWARD accept for %s", rule.ID), err)
	}

	return nil
}

func (m *Manager) uninstall(rule types.PortForwardRule) {
	if m.ipt == nil {
		return
	}
	proto := iptablesProto(rule.Protocol)

	dnat := []string{"-p", proto, "--dport", strconv.Itoa(rule.HostPort),
		"-j", "DNAT", "--to-destination", fmt.Sprintf("%s:%d", rule.ContainerIP, rule.ContainerPort)}
	masq := []string{"-p", proto, "-d", rule.ContainerIP, "--dport", strconv.Itoa(rule.ContainerPort), "-j", "MASQUERADE"}
	fwd := []string{"-p", proto, "-d", rule.ContainerIP, "--dport", strconv.Itoa(rule.ContainerPort), "-j", "ACCEPT"}

	_ = m.ipt.DeleteIfExists(natTable, "PREROUTING", dnat...)
	_ = m.ipt.DeleteIfExists(natTable, "POSTROUTING", masq...)
	_ = m.ipt.DeleteIfExists("filter", "FORWARD", fwd...)
}

func iptablesProto(p types.Protocol) string {
	if p == types.ProtocolUDP {
		return "udp"
	}
	return "tcp"
}
