/*
Package dns is polisd's embedded authoritative DNS server.

It maintains two local zones, polis.local and container.local, each
record with a 300s default TTL (inherited from the zone unless
overridden). Containers get an A record under container.local on
create; CreateAliasRecord publishes CNAME aliases in either zone.
Resolution tries local zones first; a miss, or any query type other
than A/CNAME, is forwarded to the upstream server list (Google and
Cloudflare by default).

Manager owns zone/record bookkeeping and has no wire-protocol
knowledge. Resolver turns a wire query into answer RRs by calling
Manager.Resolve. Server wraps both with a github.com/miekg/dns UDP
listener: NewServeMux, dns.Server, Start/Stop/IsRunning, upstream
forwarding on miss.
*/
package dns
