package dns

import (
	"net"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

func TestResolverResolvesContainerARecord(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.CreateContainerRecord("c1", net.ParseIP("172.17.0.5")))

	r := NewResolver(m)
	answers, err := r.Resolve("c1.container.local.", dns.TypeA)
	require.NoError(t, err)
	require.Len(t, answers, 1)

	a, ok := answers[0].(*dns.A)
	require.True(t, ok)
	require.Equal(t, "172.17.0.5", a.A.String())
}

func TestResolverMissReturnsError(t *testing.T) {
	m := NewManager()
	r := NewResolver(m)

	_, err := r.Resolve("nope.container.local.", dns.TypeA)
	require.Error(t, err)
}

func TestResolverRejectsUnsupportedType(t *testing.T) {
	m := NewManager()
	r := NewResolver(m)

	_, err := r.Resolve("c1.container.local.", dns.TypeMX)
	require.Error(t, err)
}
