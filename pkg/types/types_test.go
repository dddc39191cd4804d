package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestContainerIdRoundTrip(t *testing.T) {
	id := NewContainerId()
	parsed, err := ParseContainerId(id.String())
	require.NoError(t, err)
	require.Equal(t, id, parsed)
}

func TestParseContainerIdRejectsGarbage(t *testing.T) {
	_, err := ParseContainerId("not-a-uuid")
	require.Error(t, err)
	require.Equal(t, KindValidation, KindOf(err))
}

func TestImageRefString(t *testing.T) {
	cases := []struct {
		ref  ImageRef
		want string
	}{
		{ImageRef{Repository: "alpine", Tag: "latest"}, "alpine:latest"},
		{ImageRef{Repository: "alpine"}, "alpine:latest"},
		{ImageRef{Registry: "quay.io", Repository: "org/app", Tag: "v1"}, "quay.io/org/app:v1"},
		{ImageRef{Repository: "alpine", Digest: "sha256:abc"}, "alpine@sha256:abc"},
	}
	for _, c := range cases {
		require.Equal(t, c.want, c.ref.String())
	}
}

func TestContainerCheckInvariants(t *testing.T) {
	c := &Container{Status: StatusCreated}
	require.NoError(t, c.CheckInvariants())

	now := time.Now()
	c.StartedAt = &now
	require.Error(t, c.CheckInvariants(), "started_at set before Running is an invariant violation")

	c.Status = StatusRunning
	require.NoError(t, c.CheckInvariants())

	exit := 0
	c.Status = StatusStopped
	require.Error(t, c.CheckInvariants(), "terminal status requires finished_at and exit_code")

	finished := now.Add(time.Second)
	c.FinishedAt = &finished
	c.ExitCode = &exit
	require.NoError(t, c.CheckInvariants())
}

func TestPortForwardRuleConflicts(t *testing.T) {
	a := PortForwardRule{HostIP: "0.0.0.0", HostPort: 8080, Protocol: ProtocolTCP, Enabled: true}
	b := PortForwardRule{HostIP: "0.0.0.0", HostPort: 8080, Protocol: ProtocolTCP, Enabled: true}
	require.True(t, a.Conflicts(b))

	b.Protocol = ProtocolUDP
	require.False(t, a.Conflicts(b))

	b.Protocol = ProtocolBoth
	require.True(t, a.Conflicts(b))

	b.Enabled = false
	require.False(t, a.Conflicts(b))
}
