/*
Package ipam allocates per-container IPv4 addresses from named pools.

Each pool is created over a CIDR with a gateway; the free-set excludes
the network address, broadcast address, and gateway. Allocate hands out
addresses highest-first and is idempotent per (container, pool) pair;
Deallocate returns an address to the free-set and is idempotent against
a container with no current allocation.

IPv6 is not implemented; CreatePool rejects non-IPv4 subnets.
*/
package ipam
