/*
Package portforward maintains the host->container port forward table
and projects each enabled rule onto the kernel as a DNAT + MASQUERADE +
FORWARD-ACCEPT triple via github.com/coreos/go-iptables.

Rule ids are monotonic integers prefixed `pf-`. AddRule rejects a
submission that conflicts with an existing enabled rule — two enabled
rules conflict when they share (host_ip, host_port) and their
protocols overlap (tcp/tcp, udp/udp, or either is Both); see
types.PortForwardRule.Conflicts. CreateRangeForwarding installs one
rule per port in a host range, rolling back everything it already
installed if a later port in the range conflicts.

Each rule installs in the same three-step order: PREROUTING DNAT, then
POSTROUTING MASQUERADE, then FORWARD ACCEPT, with each step's failure
unwinding the steps before it.
*/
package portforward
