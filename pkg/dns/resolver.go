package dns

import (
	"fmt"
	"net"

	"github.com/miekg/dns"
	"github.com/polisproject/polisd/pkg/types"
)

// Resolver turns a DNS wire query into wire-format answer RRs by
// consulting a Manager's local zones. It holds no state of its own.
type Resolver struct {
	manager *Manager
}

// NewResolver returns a Resolver backed by manager.
func NewResolver(manager *Manager) *Resolver {
	return &Resolver{manager: manager}
}

// Resolve looks up name (a fully-qualified DNS question name) against
// the local zones for qtype (dns.TypeA or dns.TypeCNAME) and returns
// the matching answer records, or an error if qtype is unsupported.
func (r *Resolver) Resolve(name string, qtype uint16) ([]dns.RR, error) {
	var recordType types.DnsRecordType
	switch qtype {
	case dns.TypeA:
		recordType = types.DnsRecordA
	case dns.TypeCNAME:
		recordType = types.DnsRecordCNAME
	default:
		return nil, fmt.Errorf("dns: unsupported query type %d", qtype)
	}

	records := r.manager.Resolve(name, recordType)
	if len(records) == 0 {
		return nil, fmt.Errorf("dns: no local record for %q", name)
	}

	out := make([]dns.RR, 0, len(records))
	for _, rec := range records {
		rr, err := toRR(name, rec)
		if err != nil {
			continue
		}
		out = append(out, rr)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("dns: no usable local record for %q", name)
	}
	return out, nil
}

func toRR(name string, rec types.DnsRecord) (dns.RR, error) {
	ttl := uint32(rec.TTL.Seconds())
	hdr := dns.RR_Header{Name: dns.Fqdn(name), Class: dns.ClassINET, Ttl: ttl}

	switch rec.Type {
	case types.DnsRecordA:
		ip := net.ParseIP(rec.Value)
		if ip == nil || ip.To4() == nil {
			return nil, fmt.Errorf("dns: invalid A record value %q", rec.Value)
		}
		hdr.Rrtype = dns.TypeA
		return &dns.A{Hdr: hdr, A: ip.To4()}, nil
	case types.DnsRecordCNAME:
		hdr.Rrtype = dns.TypeCNAME
		return &dns.CNAME{Hdr: hdr, Target: dns.Fqdn(rec.Value)}, nil
	default:
		return nil, fmt.Errorf("dns: unsupported record type %q", rec.Type)
	}
}
