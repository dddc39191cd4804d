/*
Package bridgemgr manages Linux bridges and the veth pairs attached to
them for per-container networking.

Bridge/interface mutation is delegated to the kernel via
github.com/vishvananda/netlink; Manager keeps its own bookkeeping of
bridge metadata (gateway, subnet, mtu, attached interfaces) under a
single read-write lock. Mutating operations hold the write lock across
their netlink calls, so a lookup waits while a concurrent
attach/detach is in progress.

SetupContainerNetwork and CleanupContainerNetwork are the two
composite operations pkg/runtime calls during container create/remove:
they create/destroy a `veth-{container_id}` pair and attach/detach its
host side to DefaultBridgeName.
*/
package bridgemgr
