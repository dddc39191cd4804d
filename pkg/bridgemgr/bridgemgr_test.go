package bridgemgr

import (
	"testing"

	"github.com/polisproject/polisd/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestVethNameTruncatesToInterfaceNameLimit(t *testing.T) {
	long := VethName("a1b2c3d4e5f6a1b2c3d4e5f6")
	require.LessOrEqual(t, len(long), 15)
	require.Equal(t, "veth-a1b2c3d4e5", long)
}

func TestGetBridgeNotFound(t *testing.T) {
	m := NewManager()
	_, err := m.GetBridge("nope")
	require.Error(t, err)
	require.Equal(t, types.KindNotFound, types.KindOf(err))
}

func TestDeleteBridgeNotFound(t *testing.T) {
	m := NewManager()
	err := m.DeleteBridge("nope")
	require.Error(t, err)
	require.Equal(t, types.KindNotFound, types.KindOf(err))
}

func TestListBridgesEmpty(t *testing.T) {
	m := NewManager()
	require.Empty(t, m.ListBridges())
}
