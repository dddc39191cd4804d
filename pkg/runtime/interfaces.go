package runtime

import (
	"context"
	"net"

	"github.com/polisproject/polisd/pkg/security"
	"github.com/polisproject/polisd/pkg/types"
)

// The interfaces below are the narrow slices of each subsystem
// manager's public API that Manager actually drives. Declaring them
// here (rather than depending on the concrete *ipam.Manager etc.
// types directly) keeps Manager's orchestration logic testable with
// fakes that never touch netlink/iptables/cgroupfs, while every
// concrete manager in this module already satisfies its interface
// without any changes on its side.

type imageResolver interface {
	Get(ref string) (types.Image, error)
	Pull(ctx context.Context, ref string) (types.Image, error)
	IncRef(ref string) error
	DecRef(ref string) error
}

type ipAllocator interface {
	CreatePool(name string, subnet *net.IPNet, gateway net.IP) error
	Allocate(containerID, poolName string) (net.IP, *types.IpPool, error)
	Deallocate(containerID, poolName string) error
}

type networkAttacher interface {
	CreateDefaultBridge() error
	SetupContainerNetwork(containerID string, containerIP net.IP, netnsFd int) error
	CleanupContainerNetwork(containerID string) error
}

type firewallInstaller interface {
	CreateContainerRule(containerID string, action types.FirewallAction) (string, error)
	RemoveRule(chainName, ruleID string) error
}

type portForwarder interface {
	CreateContainerForwarding(containerIP string, containerPort, hostPort int, proto types.Protocol) (string, error)
	RemoveRule(ruleID string) error
	ClearContainerRules(containerIP string)
}

type dnsPublisher interface {
	CreateContainerRecord(containerID string, ip net.IP) error
	RemoveRecord(zoneName, host string, recordType types.DnsRecordType) error
}

type securer interface {
	Secure(containerName string, name security.ProfileName, limits types.ResourceLimits) (types.SecurityProfile, error)
	Teardown(containerName string) error
}

type volumeResolver interface {
	Resolve(mount types.VolumeMount) (string, error)
}
