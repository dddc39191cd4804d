package security

import (
	"testing"

	"github.com/polisproject/polisd/pkg/types"
	"github.com/stretchr/testify/require"
)

// These tests are deliberately restricted to bookkeeping/error paths:
// CreateCgroup touches real cgroupfs and requires privileges this
// sandbox does not assume, matching the restraint already applied to
// pkg/bridgemgr's and pkg/firewall's kernel-facing tests.

func TestGetCgroupStatsNotFound(t *testing.T) {
	m := NewCgroupManager("")
	_, err := m.GetCgroupStats("nope")
	require.Error(t, err)
	require.Equal(t, types.KindNotFound, types.KindOf(err))
}

func TestApplyLimitsNotFound(t *testing.T) {
	m := NewCgroupManager("")
	err := m.ApplyLimits("nope", types.ResourceLimits{MemoryLimit: 1024})
	require.Error(t, err)
	require.Equal(t, types.KindNotFound, types.KindOf(err))
}

func TestDeleteCgroupNotFound(t *testing.T) {
	m := NewCgroupManager("")
	err := m.DeleteCgroup("nope")
	require.Error(t, err)
	require.Equal(t, types.KindNotFound, types.KindOf(err))
}

func TestAddProcessNotFound(t *testing.T) {
	m := NewCgroupManager("")
	err := m.AddProcess("nope", 1234)
	require.Error(t, err)
	require.Equal(t, types.KindNotFound, types.KindOf(err))
}

func TestListCgroupsEmpty(t *testing.T) {
	m := NewCgroupManager("/polisd")
	require.Empty(t, m.ListCgroups())
}
