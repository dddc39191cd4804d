package firewall

import (
	"testing"

	"github.com/polisproject/polisd/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestNewManagerCreatesDefaultChains(t *testing.T) {
	m, err := NewManager(nil)
	require.NoError(t, err)

	chains := m.ListChains()
	require.ElementsMatch(t, []string{ChainFilter, ChainInput, ChainForward, ChainOutput}, chains)

	stats, err := m.Stats(ChainFilter)
	require.NoError(t, err)
	require.Equal(t, types.ActionAllow, stats.DefaultAction)
	require.Zero(t, stats.TotalRules)
}

func TestCreateContainerRuleAndRemove(t *testing.T) {
	m, err := NewManager(nil)
	require.NoError(t, err)

	ruleID, err := m.CreateContainerRule("c1", types.ActionAllow)
	require.NoError(t, err)
	require.Equal(t, "container-c1", ruleID)

	rules, err := m.ListRules(ChainFilter)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	require.Equal(t, "veth-c1", rules[0].Interface)

	require.NoError(t, m.RemoveRule(ChainFilter, ruleID))
	rules, err = m.ListRules(ChainFilter)
	require.NoError(t, err)
	require.Empty(t, rules)
}

func TestCreatePortRuleStatsByAction(t *testing.T) {
	m, err := NewManager(nil)
	require.NoError(t, err)

	_, err = m.CreatePortRule(8080, types.ProtocolTCP, types.ActionAllow)
	require.NoError(t, err)
	_, err = m.CreatePortRule(22, types.ProtocolTCP, types.ActionDeny)
	require.NoError(t, err)

	stats, err := m.Stats(ChainInput)
	require.NoError(t, err)
	require.Equal(t, 2, stats.TotalRules)
	require.Equal(t, 1, stats.AllowRules)
	require.Equal(t, 1, stats.DenyRules)
}

func TestFlushChain(t *testing.T) {
	m, err := NewManager(nil)
	require.NoError(t, err)

	_, err = m.CreateIpRule("10.0.0.5", types.ActionDeny)
	require.NoError(t, err)

	require.NoError(t, m.FlushChain(ChainInput))
	rules, err := m.ListRules(ChainInput)
	require.NoError(t, err)
	require.Empty(t, rules)
}

func TestUnknownChainIsNotFound(t *testing.T) {
	m, err := NewManager(nil)
	require.NoError(t, err)

	_, err = m.ListRules("NOPE")
	require.Error(t, err)
	require.Equal(t, types.KindNotFound, types.KindOf(err))
}
