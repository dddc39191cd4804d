package firewall

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/coreos/go-iptables/iptables"
	"github.com/polisproject/polisd/pkg/types"
)

// Default chain names, all created with default_action Allow.
const (
	ChainFilter  = "POLIS-FILTER"
	ChainInput   = "POLIS-INPUT"
	ChainForward = "POLIS-FORWARD"
	ChainOutput  = "POLIS-OUTPUT"

	table = "filter"
)

// ChainStats summarizes one chain's rule composition.
type ChainStats struct {
	Name          string
	TotalRules    int
	AllowRules    int
	DenyRules     int
	RejectRules   int
	DefaultAction types.FirewallAction
}

// Manager maintains the four default chains plus any chains created
// via CreateChain, mirroring each chain's rule list in memory (for
// listing and stats) while projecting every
// add/remove onto the kernel's iptables filter table.
type Manager struct {
	mu     sync.RWMutex
	chains map[string]*types.FirewallChain
	ipt    *iptables.IPTables
}

// NewManager creates the four default chains and installs them in the
// kernel's filter table. ipt may be nil in tests that only exercise
// the in-memory bookkeeping; production callers always pass a real
// *iptables.IPTables from iptables.New().
func NewManager(ipt *iptables.IPTables) (*Manager, error) {
	m := &Manager{
		chains: make(map[string]*types.FirewallChain),
		ipt:    ipt,
	}
	for _, name := range []string{ChainFilter, ChainInput, ChainForward, ChainOutput} {
		if err := m.CreateChain(name, types.ActionAllow); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// CreateChain registers a new chain with the given default action.
func (m *Manager) CreateChain(name string, defaultAction types.FirewallAction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ipt != nil {
		if err := m.ipt.NewChain(table, name); err != nil && !isExistsErr(err) {
			return types.NewIOError(fmt.Sprintf("firewall: create chain %q", name), err)
		}
	}
	m.chains[name] = &types.FirewallChain{Name: name, DefaultAction: defaultAction}
	return nil
}

// AddRule appends rule to chainName, both in bookkeeping and in the
// kernel (rules are evaluated in insertion order; first match wins).
func (m *Manager) AddRule(chainName string, rule types.FirewallRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	chain, ok := m.chains[chainName]
	if !ok {
		return types.NewNotFoundError(fmt.Sprintf("firewall: chain %q not found", chainName))
	}

	if m.ipt != nil {
		if err := m.ipt.AppendUnique(table, chainName, ruleSpec(rule)...); err != nil {
			return types.NewIOError(fmt.Sprintf("firewall: install rule %q on %q", rule.ID, chainName), err)
		}
	}

	chain.Rules = append(chain.Rules, rule)
	return nil
}

// RemoveRule deletes the rule with ruleID from chainName.
func (m *Manager) RemoveRule(chainName, ruleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	chain, ok := m.chains[chainName]
	if !ok {
		return types.NewNotFoundError(fmt.Sprintf("firewall: chain %q not found", chainName))
	}

	idx := -1
	for i, r := range chain.Rules {
		if r.ID == ruleID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}

	rule := chain.Rules[idx]
	if m.ipt != nil {
		if err := m.ipt.DeleteIfExists(table, chainName, ruleSpec(rule)...); err != nil {
			return types.NewIOError(fmt.Sprintf("firewall: remove rule %q from %q", ruleID, chainName), err)
		}
	}

	chain.Rules = append(chain.Rules[:idx], chain.Rules[idx+1:]...)
	return nil
}

// ListRules returns chainName's rules in evaluation order.
func (m *Manager) ListRules(chainName string) ([]types.FirewallRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	chain, ok := m.chains[chainName]
	if !ok {
		return nil, types.NewNotFoundError(fmt.Sprintf("firewall: chain %q not found", chainName))
	}
	out := make([]types.FirewallRule, len(chain.Rules))
	copy(out, chain.Rules)
	return out, nil
}

// CreateContainerRule installs a rule matching the container's veth
// interface on ChainFilter.
func (m *Manager) CreateContainerRule(containerID string, action types.FirewallAction) (string, error) {
	ruleID := fmt.Sprintf("container-%s", containerID)
	iface := fmt.Sprintf("veth-%s", containerID)
	if len(iface) > 15 { // IFNAMSIZ-1, the same cut bridgemgr.VethName makes
		iface = iface[:15]
	}
	rule := types.FirewallRule{
		ID:        ruleID,
		Protocol:  ProtocolAll,
		Interface: iface,
		Action:    action,
	}
	if err := m.AddRule(ChainFilter, rule); err != nil {
		return "", err
	}
	return ruleID, nil
}

// CreatePortRule installs a port-matching rule on ChainInput.
func (m *Manager) CreatePortRule(port int, proto types.Protocol, action types.FirewallAction) (string, error) {
	ruleID := fmt.Sprintf("port-%d-%s", port, proto)
	rule := types.FirewallRule{
		ID:       ruleID,
		Protocol: proto,
		DstPort:  port,
		Action:   action,
	}
	if err := m.AddRule(ChainInput, rule); err != nil {
		return "", err
	}
	return ruleID, nil
}

// CreateIpRule installs a source-IP-matching rule on ChainInput.
func (m *Manager) CreateIpRule(srcIP string, action types.FirewallAction) (string, error) {
	ruleID := fmt.Sprintf("ip-%s", srcIP)
	rule := types.FirewallRule{
		ID:       ruleID,
		Protocol: ProtocolAll,
		SrcIP:    srcIP,
		Action:   action,
	}
	if err := m.AddRule(ChainInput, rule); err != nil {
		return "", err
	}
	return ruleID, nil
}

// Stats reports a chain's rule composition by action.
func (m *Manager) Stats(chainName string) (ChainStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	chain, ok := m.chains[chainName]
	if !ok {
		return ChainStats{}, types.NewNotFoundError(fmt.Sprintf("firewall: chain %q not found", chainName))
	}

	stats := ChainStats{Name: chainName, TotalRules: len(chain.Rules), DefaultAction: chain.DefaultAction}
	for _, r := range chain.Rules {
		switch r.Action {
		case types.ActionAllow:
			stats.AllowRules++
		case types.ActionDeny:
			stats.DenyRules++
		case types.ActionReject:
			stats.RejectRules++
		}
	}
	return stats, nil
}

// FlushChain removes all rules from chainName without deleting it.
func (m *Manager) FlushChain(chainName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	chain, ok := m.chains[chainName]
	if !ok {
		return types.NewNotFoundError(fmt.Sprintf("firewall: chain %q not found", chainName))
	}

	if m.ipt != nil {
		if err := m.ipt.ClearChain(table, chainName); err != nil {
			return types.NewIOError(fmt.Sprintf("firewall: flush chain %q", chainName), err)
		}
	}
	chain.Rules = nil
	return nil
}

// ListChains returns the names of all known chains.
func (m *Manager) ListChains() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.chains))
	for name := range m.chains {
		out = append(out, name)
	}
	return out
}

// ProtocolAll matches any protocol; used by rules with no protocol
// constraint (container rules, IP rules).
const ProtocolAll types.Protocol = "all"

func ruleSpec(rule types.FirewallRule) []string {
	var spec []string
	if rule.Protocol != "" && rule.Protocol != ProtocolAll {
		spec = append(spec, "-p", iptablesProto(rule.Protocol))
	}
	if rule.SrcIP != "" {
		spec = append(spec, "-s", rule.SrcIP)
	}
	if rule.SrcPort != 0 {
		spec = append(spec, "--sport", strconv.Itoa(rule.SrcPort))
	}
	if rule.DstIP != "" {
		spec = append(spec, "-d", rule.DstIP)
	}
	if rule.DstPort != 0 {
		spec = append(spec, "--dport", strconv.Itoa(rule.DstPort))
	}
	if rule.Interface != "" {
		spec = append(spec, "-i", rule.Interface)
	}
	spec = append(spec, "-j", iptablesTarget(rule.Action))
	return spec
}

func iptablesProto(p types.Protocol) string {
	switch p {
	case types.ProtocolUDP:
		return "udp"
	case types.ProtocolBoth:
		return "tcp" // caller must issue a second rule for the udp half
	default:
		return "tcp"
	}
}

func iptablesTarget(a types.FirewallAction) string {
	switch a {
	case types.ActionDeny:
		return "DROP"
	case types.ActionReject:
		return "REJECT"
	default:
		return "ACCEPT"
	}
}

func isExistsErr(err error) bool {
	if eerr, ok := err.(*iptables.Error); ok {
		return eerr.ExitStatus() == 1
	}
	return false
}
