// Package runtime implements Runtime, the engine that owns the
// Container record and its state machine and orchestrates every other
// subsystem manager through a container's lifetime.
//
// CreateContainer acquires IP, network, firewall, port-forward, DNS,
// and security resources in a fixed order; any step failing unwinds
// the steps that already succeeded, in reverse, so a caller never
// observes a half-created container. The actual OS-level process is
// driven through the Driver interface, which the containerd-backed
// implementation in this package satisfies.
package runtime
