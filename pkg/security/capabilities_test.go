package security

import (
	"testing"

	"github.com/polisproject/polisd/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestCreateMinimalCapsetMatchesPreset(t *testing.T) {
	m := NewCapabilityManager()
	m.CreateMinimalCapset("c1")

	set := m.GetCapabilities("c1")
	require.ElementsMatch(t, MinimalCapabilities, set.Effective)
	require.ElementsMatch(t, MinimalCapabilities, set.Permitted)
	require.Empty(t, set.Inheritable)
}

func TestCreatePrivilegedCapsetHasAll(t *testing.T) {
	m := NewCapabilityManager()
	m.CreatePrivilegedCapset("c1")

	set := m.GetCapabilities("c1")
	require.ElementsMatch(t, AllCapabilities, set.Effective)
	require.ElementsMatch(t, AllCapabilities, set.Inheritable)
}

func TestAddAndDropCapabilities(t *testing.T) {
	m := NewCapabilityManager()
	m.CreateMinimalCapset("c1")

	m.AddCapabilities("c1", []types.Capability{CapSysAdmin})
	require.Contains(t, m.GetCapabilities("c1").Effective, CapSysAdmin)

	m.DropCapabilities("c1", []types.Capability{CapSysAdmin, CapChown})
	set := m.GetCapabilities("c1")
	require.NotContains(t, set.Effective, CapSysAdmin)
	require.NotContains(t, set.Effective, CapChown)
}
