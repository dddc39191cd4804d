/*
Package firewall maintains polisd's four default iptables chains and
the convenience rule constructors Runtime uses during container
create/remove.

Four chains exist by construction — POLIS-FILTER, POLIS-INPUT,
POLIS-FORWARD, POLIS-OUTPUT — each recorded with default_action Allow.
Manager mirrors each chain's rule list in memory, in insertion order,
for listing and stats, while projecting every AddRule/RemoveRule onto
the kernel's filter table via github.com/coreos/go-iptables, where
rules are appended in insertion order. The package has no function
that evaluates traffic against the in-memory rules, and a chain's
default action is kept in bookkeeping only: no kernel rule is
installed for it.

A nil *iptables.IPTables may be passed to NewManager to exercise the
in-memory bookkeeping alone (used by this package's own tests, which
do not assume CAP_NET_ADMIN); production callers always pass a real
handle from iptables.New().
*/
package firewall
