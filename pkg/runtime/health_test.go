package runtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/polisproject/polisd/pkg/types"
)

func TestHealthMonitorStartStopTracksStatus(t *testing.T) {
	h := newHealthMonitor()
	spec := &types.HealthcheckSpec{
		Command:  []string{"true"},
		Interval: 20 * time.Millisecond,
		Timeout:  50 * time.Millisecond,
		Retries:  1,
	}

	h.start("c1", spec)
	require.Eventually(t, func() bool {
		_, ok := h.status("c1")
		return ok
	}, time.Second, 5*time.Millisecond)

	h.stop("c1")
	_, ok := h.status("c1")
	require.False(t, ok)
}

func TestHealthMonitorIgnoresNilSpec(t *testing.T) {
	h := newHealthMonitor()
	h.start("c1", nil)
	_, ok := h.status("c1")
	require.False(t, ok)
}

func TestHealthMonitorRestartReplacesPreviousLoop(t *testing.T) {
	h := newHealthMonitor()
	spec := &types.HealthcheckSpec{Command: []string{"true"}, Interval: time.Hour}

	h.start("c1", spec)
	first, ok := h.status("c1")
	require.True(t, ok)

	h.start("c1", spec)
	second, ok := h.status("c1")
	require.True(t, ok)
	require.False(t, second.StartedAt.Before(first.StartedAt))

	h.stop("c1")
}
